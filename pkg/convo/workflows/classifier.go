package workflows

import (
	"errors"
	"strings"

	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// NodeClassifier labels the utterance with an intent.
const NodeClassifier flowgraph.NodeID = "classifier_node"

// ContextLines is how many earlier transcript lines the classifier sees.
const ContextLines = 5

// DefaultInterim is the interim message for an intent with no entry in
// InterimMessages.
const DefaultInterim = "Processing your request..."

// InterimMessages are shown while a turn runs, keyed by intent.
var InterimMessages = map[state.Intent]string{
	state.IntentProductSearch:        "Searching for the product you need...",
	state.IntentPlaceOrder:           "Processing your order request...",
	state.IntentInitiatePayment:      "Processing your payment request...",
	state.IntentPaymentStatus:        "Processing your payment request...",
	state.IntentSupportQuery:         "Looking into support options for you...",
	state.IntentFAQ:                  "Finding an answer for you...",
	state.IntentSmalltalk:            "Let's have a quick chat...",
	state.IntentUnknown:              "Trying to understand your request...",
	state.IntentGenerateSigninForm:   "Processing your signin request...",
	state.IntentLoginWithCredentials: "Processing your login request...",
	state.IntentGenerateSignupForm:   "Processing your signup request...",
	state.IntentSignupWithDetails:    "Creating your account...",
	state.IntentAddToCart:            "Adding your product to cart...",
	state.IntentViewCart:             "Fetching your cart...",
	state.IntentDeleteFromCart:       "Removing the product from your cart...",
}

func interimFor(i state.Intent) string {
	if msg, ok := InterimMessages[i]; ok {
		return msg
	}
	return DefaultInterim
}

var classifierPrompt = template.Prompt{
	Name: "classifier",
	System: `You are an intent classifier and interim message generator for an e-commerce assistant.

Classify the user message into exactly one intent:
- add_to_cart: the user says "add to cart", "put in my cart" or similar. This overrides product_search and place_order.
- delete_from_cart: the user wants to remove a product from their cart.
- view_cart: the user wants to see what is in their cart.
- product_search: the user is browsing or asking what is available ("Show me blue sweaters", "Do you have Nike shoes?").
- place_order: the user wants to order or buy a specific product ("I'd like to order the Blue Comfort T-shirt by Nike").
- initiate_payment: the user wants to pay for a specific product.
- payment_status: the user wants to pay with card details or check a payment.
- generate_signin_form: the user wants to sign in but did not give both an email and a password.
- login_with_credentials: the user gave both an email and a password in this message.
- generate_signup_form: the user wants to sign up or register.
- signup_with_details: the user gave sign-up details: email, password, first name, last name and phone.
- support_query: customer support questions.
- faq: general questions about the service.
- smalltalk: casual conversation.
- unknown: the intent is unclear.

Also write a short interim message shown while the request is processed, such as "Searching for the product you need...".
Give a confidence between 0.0 and 1.0.

Return only a JSON object with fields: intent, confidence, disfluent_message.

Recent conversation:
{context}`,
	User: "{query}",
}

// Classification is the classifier's structured reply.
type Classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Disfluent  string  `json:"disfluent_message"`
}

// HasCredentials reports whether text carries both an e-mail address and
// a password.
func HasCredentials(text string) bool {
	return emailPattern.MatchString(text) && passwordPattern.MatchString(text)
}

// enforceLoginRules downgrades a login without both credentials to the
// sign-in form.
func enforceLoginRules(intent state.Intent, message string) state.Intent {
	if intent == state.IntentLoginWithCredentials && !HasCredentials(message) {
		return state.IntentGenerateSigninForm
	}
	return intent
}

type classifier struct {
	model *model.Model
}

func (c *classifier) classify(ctx flowgraph.Context, s state.State) (state.State, error) {
	history := s.RecentTranscript(ContextLines + 1)
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	conversation := "(none)"
	if len(history) > 0 {
		conversation = strings.Join(history, "\n")
	}

	reply, err := model.JSON[Classification](ctx, c.model, classifierPrompt, map[string]any{
		"context": conversation,
		"query":   s.UserMessage,
	})
	if err != nil {
		if !errors.Is(err, model.ErrUnavailable) {
			ctx.Logger().Warn("classification failed", "err", err)
		}
		s.Intent = state.IntentUnknown
		s.Confidence = 0
		s.InterimMessage = interimFor(state.IntentUnknown)
		return s, nil
	}

	raw := state.ParseIntent(strings.TrimSpace(reply.Intent))
	intent := enforceLoginRules(raw, s.UserMessage)

	s.Intent = intent
	s.Confidence = min(max(reply.Confidence, 0), 1)
	s.InterimMessage = strings.TrimSpace(reply.Disfluent)
	if intent != raw || s.InterimMessage == "" {
		s.InterimMessage = interimFor(intent)
	}

	ctx.Logger().Info("intent classified",
		"intent", s.Intent,
		"confidence", s.Confidence,
	)
	return s, nil
}
