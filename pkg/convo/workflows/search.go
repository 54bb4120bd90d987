package workflows

import (
	"fmt"

	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// product_search nodes.
const (
	nodeExtractSearch        flowgraph.NodeID = "extract_search_parameters"
	nodeQueryProducts        flowgraph.NodeID = "execute_product_query"
	nodeDisplaySearchResults flowgraph.NodeID = "display_search_results"
	nodeNoResults            flowgraph.NodeID = "handle_no_results_found"
)

var extractSearchPrompt = template.Prompt{
	Name: "extract_search_parameters",
	System: `You are a parameter extractor for an e-commerce system. Extract product search parameters from the user's query.

Return a JSON object with these optional fields:
name, product_category, gender, color, brand, price_min, price_max, size, material, style, pattern.

product_category is one of: clothing, shoes, accessories, bags, jewelry, other.
Shirts, t-shirts, pants and dresses are clothing. Sneakers and boots are shoes. Purses are bags.
Necklaces, rings and earrings are jewelry. Belts, scarves and hats are accessories.
gender is one of: male, female, unisex.
Capitalise the first letter of name, brand, material, style, pattern and color.
Prices are numbers. Leave out anything the user did not mention.`,
	User: "{query}",
}

var searchResultsPrompt = template.Prompt{
	Name: "display_search_results",
	System: `You are a helpful assistant in an e-commerce system.
You are given the user's search and how many products matched.
Write a short, friendly message that acknowledges the results and points the user to where the products are shown.
Keep it conversational. Do not list the products.`,
	User: "Search: {query}\nMatches: {count}",
}

var noResultsPrompt = template.Prompt{
	Name: "handle_no_results_found",
	System: `You are a helpful assistant in an e-commerce system.
Nothing in the store matched what the user looked for.
Politely tell them nothing matched and suggest they try a different search term.
Do not use technical words like "query", "results" or "response". Reply in one short line.`,
	User: "{query}",
}

// NoResultsReply is the reply to an empty search when the model cannot
// write one.
const NoResultsReply = "I couldn't find anything that matches. Try a different search term."

func buildProductSearch(d Deps) (flowgraph.NodeFunc[state.State], error) {
	w := &productSearch{model: d.Model, catalog: d.Store}
	g := flowgraph.NewGraph[state.ProductSearchState]().
		AddNode(nodeExtractSearch, w.extract).
		AddNode(nodeQueryProducts, w.query).
		AddNode(nodeDisplaySearchResults, w.display).
		AddNode(nodeNoResults, w.noResults).
		AddConditionalEdge(nodeExtractSearch, orEnd[state.ProductSearchState](nodeQueryProducts), nodeQueryProducts, flowgraph.END).
		AddConditionalEdge(nodeQueryProducts, routeSearchResults, nodeDisplaySearchResults, nodeNoResults, flowgraph.END).
		AddEdge(nodeDisplaySearchResults, flowgraph.END).
		AddEdge(nodeNoResults, flowgraph.END).
		SetEntry(nodeExtractSearch)
	return mount(g, projection[state.ProductSearchState]())
}

type productSearch struct {
	model   *model.Model
	catalog commerce.Catalog
}

func (w *productSearch) extract(ctx flowgraph.Context, s state.ProductSearchState) (state.ProductSearchState, error) {
	filters, err := model.JSON[commerce.ProductFilter](ctx, w.model, extractSearchPrompt, map[string]any{"query": s.Query})
	if err != nil {
		s.Fail(state.FromCollaborator(state.ProductSearch, "extraction_failed",
			"I couldn't work out what to search for", err))
		return s, nil
	}
	s.Filters = filters
	s.Results = nil
	s.ResultCount = 0
	s.Suggestions = nil
	return s, nil
}

func (w *productSearch) query(ctx flowgraph.Context, s state.ProductSearchState) (state.ProductSearchState, error) {
	products, err := w.catalog.SearchProducts(ctx, s.Filters, commerce.DefaultSearchLimit)
	if err != nil {
		s.Fail(state.NewError(state.ProductSearch, state.KindStorage, "search_failed",
			"Product search is unavailable right now").WithCause(err))
		return s, nil
	}
	s.Results = products
	s.ResultCount = len(products)
	ctx.Logger().Info("products found", "count", s.ResultCount)
	return s, nil
}

func routeSearchResults(_ flowgraph.Context, s state.ProductSearchState) flowgraph.NodeID {
	switch {
	case s.Error != nil:
		return flowgraph.END
	case s.ResultCount > 0:
		return nodeDisplaySearchResults
	default:
		return nodeNoResults
	}
}

func (w *productSearch) display(ctx flowgraph.Context, s state.ProductSearchState) (state.ProductSearchState, error) {
	fallback := fmt.Sprintf("I found %d products matching your search. Take a look at the results below.", s.ResultCount)
	if s.ResultCount == 1 {
		fallback = "I found one product that matches your search. Take a look at it below."
	}

	msg := w.model.TextOr(ctx, searchResultsPrompt, map[string]any{
		"query": s.Query,
		"count": s.ResultCount,
	}, fallback)

	if err := setWidget(&s.Common, state.WidgetProductSearchResults, s.Results); err != nil {
		return s, err
	}
	s.OutputText = msg
	s.Suggestions = []string{msg}
	return s, nil
}

// noResults answers an empty search with an empty result widget, so the
// client still renders the results view.
func (w *productSearch) noResults(ctx flowgraph.Context, s state.ProductSearchState) (state.ProductSearchState, error) {
	msg := w.model.TextOr(ctx, noResultsPrompt, map[string]any{"query": s.Query}, NoResultsReply)

	if err := setWidget(&s.Common, state.WidgetProductSearchResults, []commerce.Product{}); err != nil {
		return s, err
	}
	s.OutputText = msg
	s.Suggestions = []string{msg}
	return s, nil
}
