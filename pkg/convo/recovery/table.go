package recovery

import (
	"slices"

	"github.com/randalmurphal/convograph/pkg/convo/state"
)

// BaseOptions ends every suggestion list and stands alone when nothing
// more specific applies.
var BaseOptions = []string{"Try again", "Start over", "Contact support"}

// Table maps a workflow and error code to recovery suggestions. The empty
// code is the workflow's default.
type Table map[state.WorkflowName]map[string][]string

// DefaultTable holds the suggestions shown for known failures.
var DefaultTable = Table{
	state.PlaceOrder: {
		"product_not_found":       {"Search for products first", "Check product name spelling"},
		"product_search_required": {"Search for products first"},
		"validation_error":        {"Check your input format", "Provide complete product information"},
		"":                        {"Check order details", "Verify product availability"},
	},
	state.InitiatePayment: {
		"order_required": {"Search for products first", "Place an order"},
	},
	state.PaymentStatus: {
		"order_required": {"Search for products first", "Place an order"},
		"":               {"Check your payment details"},
	},
	state.ProductSearch: {
		"no_results": {"Try different keywords", "Check spelling", "Use broader search terms"},
		"":           {"Refine your search", "Try different categories"},
	},
	state.AddToCart: {
		"product_not_found": {"Search for products", "Check spelling"},
		"":                  {"Check product details", "View your cart"},
	},
	state.DeleteFromCart: {
		"product_not_found": {"View your cart", "Check spelling"},
	},
	state.ViewCart: {
		"": {"Refresh your cart", "Continue shopping"},
	},
	state.LoginWithCredentials: {
		"": {"Check your email and password", "Create a new account"},
	},
	state.SignupWithDetails: {
		"email_in_use":   {"Sign in instead", "Use a different email"},
		"missing_fields": {"Provide all required details"},
	},
}

// kindOptions lead the list when the workflow has no entry for the code.
var kindOptions = map[state.ErrorKind][]string{
	state.KindNetwork:        {"Wait a moment and try again"},
	state.KindAuthentication: {"Sign in to your account"},
	state.KindStorage:        {"Try again later"},
}

// Options returns the suggestions for e: the workflow's list for e's code,
// else the workflow default, else the kind's list, followed by BaseOptions.
func (t Table) Options(e *state.WorkflowError) []string {
	if e == nil {
		return slices.Clone(BaseOptions)
	}

	var specific []string
	if byCode, ok := t[e.Workflow]; ok {
		if opts, ok := byCode[e.Code]; ok {
			specific = opts
		} else {
			specific = byCode[""]
		}
	}
	if specific == nil {
		specific = kindOptions[e.Kind]
	}
	return slices.Concat(specific, BaseOptions)
}
