package state

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Widget kinds produced by workflow-terminal nodes.
const (
	WidgetProductSearchResults = "product_search_results"
	WidgetAddToCartSuccess     = "add_to_cart_success"
	WidgetCartDetails          = "cart_details"
	WidgetErrorMessage         = "error_message"
	WidgetOrderDetails         = "order_details"
	WidgetPaymentForm          = "initiate_payment"
	WidgetPaymentStatus        = "payment_status_details"
	WidgetLoginForm            = "send_login_form"
	WidgetSignupForm           = "send_signup_form"
	WidgetLoginSuccess         = "login_success"
	WidgetLoginFailure         = "login_failure"
	WidgetSignupSuccess        = "signup_success"
	WidgetSignupFailure        = "signup_failure"
	WidgetAuthRequired         = "auth_required"
	WidgetError                = "error"
	WidgetFallback             = "fallback_response"
)

// WidgetPayload is the one output contract for UI-renderable results.
// Data is kept as raw JSON so checkpoints round-trip byte for byte.
type WidgetPayload struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// NewWidget marshals data into a payload of the given kind.
func NewWidget(kind string, data any) (*WidgetPayload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("widget %s: %w", kind, err)
	}
	return &WidgetPayload{Kind: kind, Data: raw}, nil
}

// MustWidget is NewWidget for data known to marshal.
func MustWidget(kind string, data any) *WidgetPayload {
	w, err := NewWidget(kind, data)
	if err != nil {
		panic(err)
	}
	return w
}

// Decode unmarshals Data into out.
func (w *WidgetPayload) Decode(out any) error {
	if w == nil {
		return fmt.Errorf("nil widget")
	}
	return json.Unmarshal(w.Data, out)
}

// Equal reports whether two payloads carry the same kind and bytes.
func (w *WidgetPayload) Equal(other *WidgetPayload) bool {
	if w == nil || other == nil {
		return w == other
	}
	return w.Kind == other.Kind && bytes.Equal(w.Data, other.Data)
}
