package state

// WorkflowName identifies a workflow and keys its sub-state.
type WorkflowName string

// Workflows.
const (
	ProductSearch        WorkflowName = "product_search"
	AddToCart            WorkflowName = "add_to_cart"
	DeleteFromCart       WorkflowName = "delete_from_cart"
	ViewCart             WorkflowName = "view_cart"
	PlaceOrder           WorkflowName = "place_order"
	InitiatePayment      WorkflowName = "initiate_payment"
	PaymentStatus        WorkflowName = "payment_status"
	GenerateSigninForm   WorkflowName = "generate_signin_form"
	LoginWithCredentials WorkflowName = "login_with_credentials"
	GenerateSignupForm   WorkflowName = "generate_signup_form"
	SignupWithDetails    WorkflowName = "signup_with_details"
	Fallback             WorkflowName = "fallback"
	AuthMiddleware       WorkflowName = "auth_middleware"
)

// Intent is the classifier's label for an utterance.
type Intent string

// Intents.
const (
	IntentProductSearch        Intent = "product_search"
	IntentPlaceOrder           Intent = "place_order"
	IntentInitiatePayment      Intent = "initiate_payment"
	IntentPaymentStatus        Intent = "payment_status"
	IntentSupportQuery         Intent = "support_query"
	IntentFAQ                  Intent = "faq"
	IntentSmalltalk            Intent = "smalltalk"
	IntentUnknown              Intent = "unknown"
	IntentGenerateSigninForm   Intent = "generate_signin_form"
	IntentLoginWithCredentials Intent = "login_with_credentials"
	IntentGenerateSignupForm   Intent = "generate_signup_form"
	IntentSignupWithDetails    Intent = "signup_with_details"
	IntentAddToCart            Intent = "add_to_cart"
	IntentViewCart             Intent = "view_cart"
	IntentDeleteFromCart       Intent = "delete_from_cart"
)

// Intents lists every intent the classifier may return.
var Intents = []Intent{
	IntentProductSearch, IntentPlaceOrder, IntentInitiatePayment, IntentPaymentStatus,
	IntentSupportQuery, IntentFAQ, IntentSmalltalk, IntentUnknown,
	IntentGenerateSigninForm, IntentLoginWithCredentials, IntentGenerateSignupForm,
	IntentSignupWithDetails, IntentAddToCart, IntentViewCart, IntentDeleteFromCart,
}

// ParseIntent maps a raw label to an Intent; unrecognised labels are IntentUnknown.
func ParseIntent(s string) Intent {
	for _, i := range Intents {
		if string(i) == s {
			return i
		}
	}
	return IntentUnknown
}
