package workflows

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// place_order nodes.
const (
	nodeExtractOrder  flowgraph.NodeID = "extract_product_details_for_order"
	nodeSelectProduct flowgraph.NodeID = "get_selected_product"
	nodePrepareOrder  flowgraph.NodeID = "prepare_order_details"
)

const orderReviewText = "Here are your order details. Please review and confirm."

// Order pricing.
const (
	ShippingFlat = 10.0
	TaxRate      = 0.08
)

// DeliveryAddresses are the addresses offered with every order.
var DeliveryAddresses = []state.Address{
	{ID: "addr1", Name: "Home", Street: "123 Main St", City: "San Francisco", State: "CA", Zip: "94105", Country: "USA", IsDefault: true},
	{ID: "addr2", Name: "Office", Street: "456 Market St", City: "San Francisco", State: "CA", Zip: "94103", Country: "USA"},
}

var extractOrderPrompt = template.Prompt{
	Name: "extract_product_details_for_order",
	System: `You extract which product the user wants to order.
Return a JSON object with fields: product_name, brand.
Capitalise the first letter of each word. Leave a field empty if it is not mentioned.`,
	User: "{query}",
}

func buildPlaceOrder(d Deps) (flowgraph.NodeFunc[state.State], error) {
	w := &placeOrder{model: d.Model}
	g := flowgraph.NewGraph[state.PlaceOrderState]().
		AddNode(nodeExtractOrder, w.extract).
		AddNode(nodeSelectProduct, selectProduct).
		AddNode(nodePrepareOrder, prepareOrder).
		AddConditionalEdge(nodeExtractOrder, orEnd[state.PlaceOrderState](nodeSelectProduct), nodeSelectProduct, flowgraph.END).
		AddConditionalEdge(nodeSelectProduct, orEnd[state.PlaceOrderState](nodePrepareOrder), nodePrepareOrder, flowgraph.END).
		AddEdge(nodePrepareOrder, flowgraph.END).
		SetEntry(nodeExtractOrder)
	return mount(g, placeOrderProjection())
}

// placeOrderProjection adds a read-only view of the latest search results.
func placeOrderProjection() flowgraph.Projection[state.State, state.PlaceOrderState] {
	base := projection[state.PlaceOrderState]()
	return flowgraph.Projection[state.State, state.PlaceOrderState]{
		In: func(p state.State) state.PlaceOrderState {
			c := base.In(p)
			search, ok := state.Lookup[state.ProductSearchState](p.SubStates)
			c.Searched = ok
			c.Candidates = search.Results
			return c
		},
		Out: base.Out,
	}
}

type placeOrder struct {
	model *model.Model
}

func (w *placeOrder) extract(ctx flowgraph.Context, s state.PlaceOrderState) (state.PlaceOrderState, error) {
	req, err := model.JSON[state.OrderRequest](ctx, w.model, extractOrderPrompt, map[string]any{"query": s.Query})
	if err != nil {
		s.Fail(state.FromCollaborator(state.PlaceOrder, "extraction_failed",
			"I couldn't tell which product you want to order", err))
		return s, nil
	}
	s.Request = req
	s.Selected = nil
	s.Details = nil
	return s, nil
}

// selectProduct picks the requested product from the latest search results.
func selectProduct(_ flowgraph.Context, s state.PlaceOrderState) (state.PlaceOrderState, error) {
	if !s.Searched || len(s.Candidates) == 0 {
		s.Fail(state.NewError(state.PlaceOrder, state.KindValidation, "product_search_required",
			"Please search for a product before placing an order").
			With("missing", "product_search_results"))
		return s, nil
	}

	for i, p := range s.Candidates {
		if matches(p, s.Request) {
			s.Selected = &s.Candidates[i]
			return s, nil
		}
	}

	available := make([]string, 0, len(s.Candidates))
	for _, p := range s.Candidates {
		available = append(available, fmt.Sprintf("%s by %s", p.Name, p.Brand))
	}
	s.Fail(state.NewError(state.PlaceOrder, state.KindValidation, "product_not_found",
		"That product isn't in your latest search results").
		With("searched_product", s.Request).
		With("available_products", available))
	return s, nil
}

// matches compares case-insensitively; an empty brand matches any brand.
func matches(p commerce.Product, req state.OrderRequest) bool {
	if req.ProductName == "" || !strings.EqualFold(p.Name, strings.TrimSpace(req.ProductName)) {
		return false
	}
	return req.Brand == "" || strings.EqualFold(p.Brand, strings.TrimSpace(req.Brand))
}

// prepareOrder builds the review shown before payment.
func prepareOrder(_ flowgraph.Context, s state.PlaceOrderState) (state.PlaceOrderState, error) {
	s.Details = &state.OrderDetails{
		Product:   *s.Selected,
		Addresses: DeliveryAddresses,
		Price:     Price(s.Selected.Price),
	}

	out, err := json.Marshal(map[string]any{
		"template": state.WidgetOrderDetails,
		"payload":  s.Details,
	})
	if err != nil {
		return s, err
	}
	s.OutputText = orderReviewText
	s.OutputJSON = out
	return s, setWidget(&s.Common, state.WidgetOrderDetails, s.Details)
}

// Price itemises an order of one unit at subtotal.
func Price(subtotal float64) state.PriceBreakdown {
	tax := round2(subtotal * TaxRate)
	return state.PriceBreakdown{
		Subtotal: subtotal,
		Shipping: ShippingFlat,
		Tax:      tax,
		Total:    round2(subtotal + ShippingFlat + tax),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
