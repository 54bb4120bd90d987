package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/randalmurphal/convograph/pkg/convo/commerce"
)

// ErrUnknownSubState is returned when decoding a sub-state for a workflow
// with no registered type.
var ErrUnknownSubState = errors.New("unknown sub-state workflow")

// SubState is one workflow's namespaced state. Every implementation is a
// value type owned by exactly one workflow.
type SubState interface {
	Workflow() WorkflowName
}

// Common holds the fields every workflow sub-state shares: the
// cross-cutting inputs copied down from the parent and the outputs copied
// back up.
type Common struct {
	Query           string   `json:"search_query"`
	UserID          int64    `json:"user_id,omitempty"`
	SessionToken    string   `json:"-"`
	IsAuthenticated bool     `json:"is_authenticated"`
	AuthRequired    bool     `json:"auth_required"`
	Suggestions     []string `json:"suggestions,omitempty"`

	OutputText string          `json:"output_text,omitempty"`
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	Widget     *WidgetPayload  `json:"widget,omitempty"`
	Error      *WorkflowError  `json:"error,omitempty"`
}

// Base returns the shared fields.
func (c *Common) Base() *Common { return c }

// Fail records err as this workflow's error.
func (c *Common) Fail(err *WorkflowError) { c.Error = err }

// ProductSearchState is the product_search workflow's state. Other
// workflows read its Results (place_order selects from them).
type ProductSearchState struct {
	Common
	Filters     commerce.ProductFilter `json:"search_parameters"`
	Results     []commerce.Product     `json:"search_results"`
	ResultCount int                    `json:"result_count"`
}

// Workflow implements SubState.
func (ProductSearchState) Workflow() WorkflowName { return ProductSearch }

// CartRequest is what a cart workflow extracted from the utterance.
type CartRequest struct {
	ProductName string `json:"product_name"`
	Brand       string `json:"brand"`
	Size        string `json:"size,omitempty"`
	Quantity    int    `json:"quantity"`
}

// AddToCartState is the add_to_cart workflow's state.
type AddToCartState struct {
	Common
	Request       CartRequest         `json:"product_details"`
	Product       *commerce.Product   `json:"product,omitempty"`
	Cart          []commerce.CartItem `json:"cart_details,omitempty"`
	Success       bool                `json:"operation_success"`
	FailureReason string              `json:"error_message,omitempty"`
}

// Workflow implements SubState.
func (AddToCartState) Workflow() WorkflowName { return AddToCart }

// DeleteFromCartState is the delete_from_cart workflow's state.
type DeleteFromCartState struct {
	Common
	Request       CartRequest         `json:"product_details"`
	Product       *commerce.Product   `json:"product,omitempty"`
	Cart          []commerce.CartItem `json:"cart_details,omitempty"`
	Success       bool                `json:"cart_delete_success"`
	FailureReason string              `json:"error_message,omitempty"`
}

// Workflow implements SubState.
func (DeleteFromCartState) Workflow() WorkflowName { return DeleteFromCart }

// ViewCartState is the view_cart workflow's state.
type ViewCartState struct {
	Common
	Cart          []commerce.CartItem  `json:"cart_details"`
	Summary       commerce.CartSummary `json:"cart_summary"`
	Loaded        bool                 `json:"loaded"`
	FailureReason string               `json:"error_message,omitempty"`
}

// Workflow implements SubState.
func (ViewCartState) Workflow() WorkflowName { return ViewCart }

// OrderRequest is what place_order extracted from the utterance.
type OrderRequest struct {
	ProductName string `json:"product_name"`
	Brand       string `json:"brand"`
}

// Address is a delivery address shown with order details.
type Address struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
	IsDefault bool   `json:"is_default"`
}

// PriceBreakdown itemises an order total.
type PriceBreakdown struct {
	Subtotal float64 `json:"subtotal"`
	Shipping float64 `json:"shipping"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

// OrderDetails is the order summary rendered for review. Nothing is
// persisted until the order is paid.
type OrderDetails struct {
	Product   commerce.Product `json:"selected_product"`
	Addresses []Address        `json:"addresses"`
	Price     PriceBreakdown   `json:"price_breakdown"`
}

// PlaceOrderState is the place_order workflow's state.
type PlaceOrderState struct {
	Common
	Request  OrderRequest      `json:"extracted_product_details"`
	Selected *commerce.Product `json:"selected_product,omitempty"`
	Details  *OrderDetails     `json:"order_details,omitempty"`

	// Searched and Candidates are a read-only view of the product_search
	// sub-state, refreshed on every turn and never persisted here.
	Searched   bool               `json:"-"`
	Candidates []commerce.Product `json:"-"`
}

// Workflow implements SubState.
func (PlaceOrderState) Workflow() WorkflowName { return PlaceOrder }

// PaymentDetails is the payment form shown for an order under review.
type PaymentDetails struct {
	Product commerce.Product `json:"selected_product"`
	Price   PriceBreakdown   `json:"price_breakdown"`
}

// InitiatePaymentState is the initiate_payment workflow's state.
type InitiatePaymentState struct {
	Common
	Payment *PaymentDetails `json:"payment_details,omitempty"`

	// Review is a read-only view of the place_order sub-state.
	Review *OrderDetails `json:"-"`
}

// Workflow implements SubState.
func (InitiatePaymentState) Workflow() WorkflowName { return InitiatePayment }

// Transaction describes one recorded payment.
type Transaction struct {
	ID     string    `json:"transaction_id"`
	Date   time.Time `json:"transaction_date"`
	Type   string    `json:"transaction_type"`
	Status string    `json:"transaction_status"`
	Amount float64   `json:"transaction_amount"`
}

// PaymentStatusDetails is the receipt shown after a payment.
type PaymentStatusDetails struct {
	OrderID     int64            `json:"order_id"`
	Product     commerce.Product `json:"selected_product"`
	Price       PriceBreakdown   `json:"price_breakdown"`
	Transaction Transaction      `json:"transaction_details"`
}

// PaymentStatusState is the payment_status workflow's state.
type PaymentStatusState struct {
	Common
	Receipt *PaymentStatusDetails `json:"payment_status_details,omitempty"`

	// Review is a read-only view of the place_order sub-state.
	Review *OrderDetails `json:"-"`
}

// Workflow implements SubState.
func (PaymentStatusState) Workflow() WorkflowName { return PaymentStatus }

// SigninFormState is the generate_signin_form workflow's state.
type SigninFormState struct {
	Common
}

// Workflow implements SubState.
func (SigninFormState) Workflow() WorkflowName { return GenerateSigninForm }

// SignupFormState is the generate_signup_form workflow's state.
type SignupFormState struct {
	Common
}

// Workflow implements SubState.
func (SignupFormState) Workflow() WorkflowName { return GenerateSignupForm }

// Login outcomes.
const (
	LoginSucceeded          = "success"
	LoginInvalidPassword    = "invalid_password"
	LoginUserNotFound       = "user_not_found"
	LoginMissingCredentials = "missing_credentials"
)

// LoginState is the login_with_credentials workflow's state. The password
// is never persisted.
type LoginState struct {
	Common
	Email    string         `json:"email"`
	Password string         `json:"-"`
	User     *commerce.User `json:"user,omitempty"`
	Outcome  string         `json:"outcome,omitempty"`
	Token    string         `json:"-"`
}

// Workflow implements SubState.
func (LoginState) Workflow() WorkflowName { return LoginWithCredentials }

// SignupDetails is what signup_with_details extracted.
type SignupDetails struct {
	Email     string `json:"email"`
	Password  string `json:"-"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// SignupState is the signup_with_details workflow's state.
type SignupState struct {
	Common
	Details   SignupDetails `json:"details"`
	CreatedID int64         `json:"created_user_id,omitempty"`
}

// Workflow implements SubState.
func (SignupState) Workflow() WorkflowName { return SignupWithDetails }

// FallbackState is the fallback workflow's state.
type FallbackState struct {
	Common
	Intent Intent `json:"intent"`
}

// Workflow implements SubState.
func (FallbackState) Workflow() WorkflowName { return Fallback }

// AuthOutcome is the result of one credential check.
type AuthOutcome string

// Auth outcomes.
const (
	AuthNoCredential      AuthOutcome = "no_credential"
	AuthInvalidCredential AuthOutcome = "invalid_credential"
	AuthValid             AuthOutcome = "valid"
)

// AuthGateState is the auth middleware's state for the most recent check.
type AuthGateState struct {
	Common
	Target  WorkflowName `json:"target_workflow"`
	Outcome AuthOutcome  `json:"outcome"`
	Reason  string       `json:"auth_error,omitempty"`
	Subject int64        `json:"subject,omitempty"`
}

// Workflow implements SubState.
func (AuthGateState) Workflow() WorkflowName { return AuthMiddleware }

type decodeFunc func(json.RawMessage) (SubState, error)

func decoder[T SubState]() decodeFunc {
	return func(raw json.RawMessage) (SubState, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

var decoders = map[WorkflowName]decodeFunc{
	ProductSearch:        decoder[ProductSearchState](),
	AddToCart:            decoder[AddToCartState](),
	DeleteFromCart:       decoder[DeleteFromCartState](),
	ViewCart:             decoder[ViewCartState](),
	PlaceOrder:           decoder[PlaceOrderState](),
	InitiatePayment:      decoder[InitiatePaymentState](),
	PaymentStatus:        decoder[PaymentStatusState](),
	GenerateSigninForm:   decoder[SigninFormState](),
	GenerateSignupForm:   decoder[SignupFormState](),
	LoginWithCredentials: decoder[LoginState](),
	SignupWithDetails:    decoder[SignupState](),
	Fallback:             decoder[FallbackState](),
	AuthMiddleware:       decoder[AuthGateState](),
}

// SubStates maps workflow names to their sub-states. The zero value is
// empty and usable. With returns a new map, so a SubStates value held by a
// checkpoint or another goroutine is never mutated.
type SubStates struct {
	m map[WorkflowName]SubState
}

// Get returns the sub-state stored for name.
func (s SubStates) Get(name WorkflowName) (SubState, bool) {
	v, ok := s.m[name]
	return v, ok
}

// With returns a copy with v stored under v.Workflow().
func (s SubStates) With(v SubState) SubStates {
	m := make(map[WorkflowName]SubState, len(s.m)+1)
	maps.Copy(m, s.m)
	m[v.Workflow()] = v
	return SubStates{m: m}
}

// Names returns the stored workflow names, sorted.
func (s SubStates) Names() []WorkflowName {
	return slices.Sorted(maps.Keys(s.m))
}

// Len returns the number of stored sub-states.
func (s SubStates) Len() int { return len(s.m) }

// Lookup returns the sub-state of type T, if one is stored. It is the
// read-only path for one workflow to see another's results.
func Lookup[T SubState](s SubStates) (T, bool) {
	var zero T
	v, ok := s.m[zero.Workflow()]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

type envelope struct {
	Workflow WorkflowName    `json:"workflow"`
	Data     json.RawMessage `json:"data"`
}

// MarshalJSON writes a list of {"workflow", "data"} envelopes sorted by name.
func (s SubStates) MarshalJSON() ([]byte, error) {
	out := make([]envelope, 0, len(s.m))
	for _, name := range s.Names() {
		data, err := json.Marshal(s.m[name])
		if err != nil {
			return nil, fmt.Errorf("marshal sub-state %s: %w", name, err)
		}
		out = append(out, envelope{Workflow: name, Data: data})
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the concrete sub-state types from their envelopes.
func (s *SubStates) UnmarshalJSON(b []byte) error {
	var envs []envelope
	if err := json.Unmarshal(b, &envs); err != nil {
		return err
	}

	m := make(map[WorkflowName]SubState, len(envs))
	for _, env := range envs {
		decode, ok := decoders[env.Workflow]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSubState, env.Workflow)
		}
		v, err := decode(env.Data)
		if err != nil {
			return fmt.Errorf("decode sub-state %s: %w", env.Workflow, err)
		}
		m[env.Workflow] = v
	}
	s.m = m
	return nil
}
