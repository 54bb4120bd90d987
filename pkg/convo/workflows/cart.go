package workflows

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// Cart workflow nodes.
const (
	nodeExtractCartProduct flowgraph.NodeID = "extract_product_details"
	nodeFindCartProduct    flowgraph.NodeID = "get_product_from_db"
	nodeAddProduct         flowgraph.NodeID = "add_product_to_cart"
	nodeAddSuccess         flowgraph.NodeID = "handle_success"
	nodeAddFailure         flowgraph.NodeID = "handle_failure"

	nodeDeleteProduct flowgraph.NodeID = "delete_product"
	nodeDeleteSuccess flowgraph.NodeID = "handle_delete_success"
	nodeDeleteFailure flowgraph.NodeID = "handle_delete_failure"

	nodeLoadCart    flowgraph.NodeID = "get_cart_details_from_db"
	nodeViewSuccess flowgraph.NodeID = "handle_view_cart_success"
	nodeViewFailure flowgraph.NodeID = "handle_view_cart_fail"
)

// Cart failure reasons.
const (
	reasonMissingInfo     = "Missing required information"
	reasonProductNotFound = "Product not found"
	reasonAuthRequired    = "Authentication required to view cart"
)

var cartSuggestedActions = []string{"View cart", "Continue shopping", "Proceed to checkout"}

var extractCartProductPrompt = template.Prompt{
	Name: "extract_product_details",
	System: `You extract product details from a shopping request.
Return a JSON object with fields: product_name, brand, size, quantity.
Capitalise the first letter of each word of product_name and brand.
quantity is an integer and defaults to 1. Leave size empty if it is not mentioned.`,
	User: "{query}",
}

var cartReplyPrompt = template.Prompt{
	Name: "cart_reply",
	System: `You are a helpful shopping assistant. Write one or two friendly sentences telling the user the result of their cart request.
Do not invent products or prices.`,
	User: "Request: {query}\nResult: {result}",
}

// cartFailureOptions returns recovery suggestions for a cart failure reason.
func cartFailureOptions(reason string) []string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "auth"):
		return []string{"Sign in to your account", "Create a new account"}
	case strings.Contains(lower, "not found"):
		return []string{"Search for products", "Browse categories", "Check spelling"}
	case strings.Contains(lower, "missing"):
		return []string{"Provide product name and brand", "Search first then add"}
	default:
		return []string{"Try again", "Refresh page", "Contact support"}
	}
}

type cart struct {
	model *model.Model
	store commerce.Store
}

// extractRequest asks the model for a CartRequest, defaulting quantity to 1.
func (w *cart) extractRequest(ctx flowgraph.Context, query string) (state.CartRequest, error) {
	req, err := model.JSON[state.CartRequest](ctx, w.model, extractCartProductPrompt, map[string]any{"query": query})
	if err != nil {
		return req, err
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	return req, nil
}

// findProduct looks up the requested product. A miss is not an error.
func (w *cart) findProduct(ctx flowgraph.Context, req state.CartRequest) (*commerce.Product, error) {
	if req.ProductName == "" {
		return nil, nil
	}
	p, err := w.store.FindProduct(ctx, commerce.ProductFilter{Name: req.ProductName, Brand: req.Brand})
	if errors.Is(err, commerce.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// failure writes the error_message widget and reply shared by cart failures.
func (w *cart) failure(ctx flowgraph.Context, c *state.Common, workflow state.WorkflowName, action, reason string) error {
	options := cartFailureOptions(reason)
	c.OutputText = w.model.TextOr(ctx, cartReplyPrompt, map[string]any{
		"query":  c.Query,
		"result": fmt.Sprintf("could not %s: %s", action, reason),
	}, fmt.Sprintf("Sorry, I couldn't %s. %s.", action, reason))

	return setWidget(c, state.WidgetErrorMessage, map[string]any{
		"error_type":       string(workflow) + "_failure",
		"error_message":    reason,
		"recovery_options": options,
		"workflow_name":    workflow,
	})
}

// routeCart sends a store failure to the error router and otherwise picks
// the success or failure reply.
func routeCart[C any, PC state.Child[C]](success, failure flowgraph.NodeID, ok func(C) bool) flowgraph.RouterFunc[C] {
	return func(_ flowgraph.Context, c C) flowgraph.NodeID {
		switch {
		case PC(&c).Base().Error != nil:
			return flowgraph.END
		case ok(c):
			return success
		default:
			return failure
		}
	}
}

func cartStorageError(w state.WorkflowName, msg string, err error) *state.WorkflowError {
	return state.NewError(w, state.KindStorage, "cart_unavailable", msg).WithCause(err)
}

// cartDetails is the widget payload for a cart listing.
func cartDetails(message string, items []commerce.CartItem) map[string]any {
	if items == nil {
		items = []commerce.CartItem{}
	}
	return map[string]any{
		"success_message":   message,
		"cart_details":      items,
		"cart_summary":      commerce.Summarize(items),
		"suggested_actions": cartSuggestedActions,
	}
}

// add_to_cart

func buildAddToCart(d Deps) (flowgraph.NodeFunc[state.State], error) {
	w := &cart{model: d.Model, store: d.Store}
	g := flowgraph.NewGraph[state.AddToCartState]().
		AddNode(nodeExtractCartProduct, w.addExtract).
		AddNode(nodeFindCartProduct, w.addFind).
		AddNode(nodeAddProduct, w.add).
		AddNode(nodeAddSuccess, w.addSuccess).
		AddNode(nodeAddFailure, w.addFailure).
		AddConditionalEdge(nodeExtractCartProduct, orEnd[state.AddToCartState](nodeFindCartProduct), nodeFindCartProduct, flowgraph.END).
		AddConditionalEdge(nodeFindCartProduct, orEnd[state.AddToCartState](nodeAddProduct), nodeAddProduct, flowgraph.END).
		AddConditionalEdge(nodeAddProduct, routeCart(nodeAddSuccess, nodeAddFailure, func(s state.AddToCartState) bool { return s.Success }),
			nodeAddSuccess, nodeAddFailure, flowgraph.END).
		AddEdge(nodeAddSuccess, flowgraph.END).
		AddEdge(nodeAddFailure, flowgraph.END).
		SetEntry(nodeExtractCartProduct)
	return mount(g, projection[state.AddToCartState]())
}

func (w *cart) addExtract(ctx flowgraph.Context, s state.AddToCartState) (state.AddToCartState, error) {
	req, err := w.extractRequest(ctx, s.Query)
	if err != nil {
		s.Fail(state.FromCollaborator(state.AddToCart, "extraction_failed",
			"I couldn't tell which product to add", err))
		return s, nil
	}
	s.Request = req
	s.Product = nil
	s.Cart = nil
	s.Success = false
	s.FailureReason = ""
	return s, nil
}

func (w *cart) addFind(ctx flowgraph.Context, s state.AddToCartState) (state.AddToCartState, error) {
	p, err := w.findProduct(ctx, s.Request)
	if err != nil {
		s.Fail(state.NewError(state.AddToCart, state.KindStorage, "catalog_unavailable",
			"The product catalogue is unavailable right now").WithCause(err))
		return s, nil
	}
	s.Product = p
	return s, nil
}

func (w *cart) add(ctx flowgraph.Context, s state.AddToCartState) (state.AddToCartState, error) {
	switch {
	case s.UserID == 0 || s.Request.ProductName == "":
		s.FailureReason = reasonMissingInfo
		return s, nil
	case s.Product == nil:
		s.FailureReason = reasonProductNotFound
		return s, nil
	}

	items, err := w.store.AddToCart(ctx, s.UserID, commerce.CartAdd{
		ProductID: s.Product.ID,
		Quantity:  s.Request.Quantity,
		UnitPrice: s.Product.Price,
		Size:      s.Request.Size,
		Color:     s.Product.Color,
		Unit:      s.Product.Unit,
	})
	switch {
	case errors.Is(err, commerce.ErrInvalidQuantity):
		s.FailureReason = "The quantity must be at least 1"
		return s, nil
	case err != nil:
		s.Fail(cartStorageError(state.AddToCart, "Unable to add the product to your cart", err))
		return s, nil
	}
	s.Cart = items
	s.Success = true
	return s, nil
}

func (w *cart) addSuccess(ctx flowgraph.Context, s state.AddToCartState) (state.AddToCartState, error) {
	summary := commerce.Summarize(s.Cart)
	fallback := fmt.Sprintf("Great! I've added %d %s by %s to your cart. You now have %d items in your cart.",
		s.Request.Quantity, s.Product.Name, s.Product.Brand, summary.TotalItems)

	s.OutputText = w.model.TextOr(ctx, cartReplyPrompt, map[string]any{
		"query":  s.Query,
		"result": fallback,
	}, fallback)

	return s, setWidget(&s.Common, state.WidgetAddToCartSuccess, map[string]any{
		"success_message":   s.OutputText,
		"cart_details":      s.Cart,
		"suggested_actions": cartSuggestedActions,
	})
}

func (w *cart) addFailure(ctx flowgraph.Context, s state.AddToCartState) (state.AddToCartState, error) {
	return s, w.failure(ctx, &s.Common, state.AddToCart, "add that to your cart", s.FailureReason)
}

// delete_from_cart

func buildDeleteFromCart(d Deps) (flowgraph.NodeFunc[state.State], error) {
	w := &cart{model: d.Model, store: d.Store}
	g := flowgraph.NewGraph[state.DeleteFromCartState]().
		AddNode(nodeExtractCartProduct, w.deleteExtract).
		AddNode(nodeDeleteProduct, w.delete).
		AddNode(nodeDeleteSuccess, w.deleteSuccess).
		AddNode(nodeDeleteFailure, w.deleteFailure).
		AddConditionalEdge(nodeExtractCartProduct, orEnd[state.DeleteFromCartState](nodeDeleteProduct), nodeDeleteProduct, flowgraph.END).
		AddConditionalEdge(nodeDeleteProduct, routeCart(nodeDeleteSuccess, nodeDeleteFailure, func(s state.DeleteFromCartState) bool { return s.Success }),
			nodeDeleteSuccess, nodeDeleteFailure, flowgraph.END).
		AddEdge(nodeDeleteSuccess, flowgraph.END).
		AddEdge(nodeDeleteFailure, flowgraph.END).
		SetEntry(nodeExtractCartProduct)
	return mount(g, projection[state.DeleteFromCartState]())
}

func (w *cart) deleteExtract(ctx flowgraph.Context, s state.DeleteFromCartState) (state.DeleteFromCartState, error) {
	req, err := w.extractRequest(ctx, s.Query)
	if err != nil {
		s.Fail(state.FromCollaborator(state.DeleteFromCart, "extraction_failed",
			"I couldn't tell which product to remove", err))
		return s, nil
	}
	s.Request = req
	s.Product = nil
	s.Cart = nil
	s.Success = false
	s.FailureReason = ""
	return s, nil
}

func (w *cart) delete(ctx flowgraph.Context, s state.DeleteFromCartState) (state.DeleteFromCartState, error) {
	if s.UserID == 0 || s.Request.ProductName == "" {
		s.FailureReason = reasonMissingInfo
		return s, nil
	}

	p, err := w.findProduct(ctx, s.Request)
	if err != nil {
		s.Fail(state.NewError(state.DeleteFromCart, state.KindStorage, "catalog_unavailable",
			"The product catalogue is unavailable right now").WithCause(err))
		return s, nil
	}
	if p == nil {
		s.FailureReason = reasonProductNotFound
		return s, nil
	}
	s.Product = p

	items, err := w.store.RemoveFromCart(ctx, s.UserID, p.ID)
	switch {
	case errors.Is(err, commerce.ErrNotFound):
		s.FailureReason = reasonProductNotFound
	case err != nil:
		s.Fail(cartStorageError(state.DeleteFromCart, "Unable to update your cart", err))
	default:
		s.Cart = items
		s.Success = true
	}
	return s, nil
}

func (w *cart) deleteSuccess(ctx flowgraph.Context, s state.DeleteFromCartState) (state.DeleteFromCartState, error) {
	summary := commerce.Summarize(s.Cart)
	fallback := fmt.Sprintf("I've removed %s by %s from your cart. You now have %d items in your cart.",
		s.Product.Name, s.Product.Brand, summary.TotalItems)

	s.OutputText = w.model.TextOr(ctx, cartReplyPrompt, map[string]any{
		"query":  s.Query,
		"result": fallback,
	}, fallback)
	return s, setWidget(&s.Common, state.WidgetCartDetails, cartDetails(s.OutputText, s.Cart))
}

func (w *cart) deleteFailure(ctx flowgraph.Context, s state.DeleteFromCartState) (state.DeleteFromCartState, error) {
	return s, w.failure(ctx, &s.Common, state.DeleteFromCart, "remove that from your cart", s.FailureReason)
}

// view_cart

func buildViewCart(d Deps) (flowgraph.NodeFunc[state.State], error) {
	w := &cart{model: d.Model, store: d.Store}
	g := flowgraph.NewGraph[state.ViewCartState]().
		AddNode(nodeLoadCart, w.load).
		AddNode(nodeViewSuccess, w.viewSuccess).
		AddNode(nodeViewFailure, w.viewFailure).
		AddConditionalEdge(nodeLoadCart, routeCart(nodeViewSuccess, nodeViewFailure, func(s state.ViewCartState) bool { return s.Loaded }),
			nodeViewSuccess, nodeViewFailure, flowgraph.END).
		AddEdge(nodeViewSuccess, flowgraph.END).
		AddEdge(nodeViewFailure, flowgraph.END).
		SetEntry(nodeLoadCart)
	return mount(g, projection[state.ViewCartState]())
}

func (w *cart) load(ctx flowgraph.Context, s state.ViewCartState) (state.ViewCartState, error) {
	s.Cart = nil
	s.Summary = commerce.CartSummary{}
	s.Loaded = false
	s.FailureReason = ""

	if s.UserID == 0 {
		s.FailureReason = reasonAuthRequired
		return s, nil
	}
	items, err := w.store.CartItems(ctx, s.UserID)
	if err != nil {
		s.Fail(cartStorageError(state.ViewCart, "Unable to load your cart", err))
		return s, nil
	}
	s.Cart = items
	s.Summary = commerce.Summarize(items)
	s.Loaded = true
	return s, nil
}

func (w *cart) viewSuccess(ctx flowgraph.Context, s state.ViewCartState) (state.ViewCartState, error) {
	fallback := "Your cart is currently empty. Start shopping to add items!"
	if s.Summary.ItemCount > 0 {
		fallback = fmt.Sprintf("Your cart contains %d item(s) with a total of %d unit(s) worth $%.2f.",
			s.Summary.ItemCount, s.Summary.TotalItems, s.Summary.TotalValue)
	}

	s.OutputText = w.model.TextOr(ctx, cartReplyPrompt, map[string]any{
		"query":  s.Query,
		"result": fallback,
	}, fallback)
	return s, setWidget(&s.Common, state.WidgetCartDetails, cartDetails(s.OutputText, s.Cart))
}

func (w *cart) viewFailure(ctx flowgraph.Context, s state.ViewCartState) (state.ViewCartState, error) {
	return s, w.failure(ctx, &s.Common, state.ViewCart, "load your cart", s.FailureReason)
}
