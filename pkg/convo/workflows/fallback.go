package workflows

import (
	"encoding/json"

	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

const nodeFallback flowgraph.NodeID = "handle_fallback"

// conversational is one fallback reply style.
type conversational struct {
	prompt   template.Prompt
	fallback string
}

var (
	smalltalkReply = conversational{
		prompt: template.Prompt{
			Name: "smalltalk",
			System: `You are a friendly e-commerce assistant. Respond naturally to casual conversation.
Keep responses helpful, engaging and related to shopping when possible.
Be concise but friendly. Suggest shopping-related topics when appropriate.`,
			User: "{query}",
		},
		fallback: "I'm here to help you with shopping and product questions! What would you like to know about our products?",
	}

	faqReply = conversational{
		prompt: template.Prompt{
			Name: "faq",
			System: `You are an e-commerce assistant answering frequently asked questions about
shipping and delivery, returns and refunds, payment methods, product information, account management and general policies.
If the question doesn't match a common question, give a general helpful response.`,
			User: "{query}",
		},
		fallback: "I'd be happy to help answer your questions about our products and services. What would you like to know?",
	}

	supportReply = conversational{
		prompt: template.Prompt{
			Name: "support_query",
			System: `You are a customer support assistant for an e-commerce platform.
Give helpful guidance for order problems, account issues, technical problems and product issues.
Be empathetic, offer solutions, and suggest contacting support when necessary.`,
			User: "{query}",
		},
		fallback: "I'm here to help with any support issues you might have. Could you please provide more details about what you need assistance with?",
	}

	unknownReply = conversational{
		prompt: template.Prompt{
			Name: "unknown",
			System: `The user's message wasn't clearly understood. Respond helpfully:
acknowledge the message, ask for clarification and suggest common things users do here,
such as searching for products, getting help with an order or asking about their account. Keep the tone friendly.`,
			User: "{query}",
		},
		fallback: "I'm not sure I understood that correctly. Could you please rephrase your question? I'm here to help with product searches, orders, and general questions about our store!",
	}
)

// replyFor picks the reply style for an intent.
func replyFor(intent state.Intent) conversational {
	switch intent {
	case state.IntentSmalltalk:
		return smalltalkReply
	case state.IntentFAQ:
		return faqReply
	case state.IntentSupportQuery:
		return supportReply
	default:
		return unknownReply
	}
}

func buildFallback(d Deps) (flowgraph.NodeFunc[state.State], error) {
	g := flowgraph.NewGraph[state.FallbackState]().
		AddNode(nodeFallback, func(ctx flowgraph.Context, s state.FallbackState) (state.FallbackState, error) {
			return handleFallback(ctx, d.Model, s)
		}).
		AddEdge(nodeFallback, flowgraph.END).
		SetEntry(nodeFallback)
	return mount(g, fallbackProjection())
}

// fallbackProjection copies the classified intent down.
func fallbackProjection() flowgraph.Projection[state.State, state.FallbackState] {
	base := projection[state.FallbackState]()
	return flowgraph.Projection[state.State, state.FallbackState]{
		In: func(p state.State) state.FallbackState {
			c := base.In(p)
			c.Intent = p.Intent
			return c
		},
		Out: base.Out,
	}
}

func handleFallback(ctx flowgraph.Context, m *model.Model, s state.FallbackState) (state.FallbackState, error) {
	reply := replyFor(s.Intent)
	s.OutputText = m.TextOr(ctx, reply.prompt, map[string]any{"query": s.Query}, reply.fallback)

	out, err := json.Marshal(map[string]any{
		"template": state.WidgetFallback,
		"payload": map[string]any{
			"intent":        s.Intent,
			"response_type": "conversational",
			"user_query":    s.Query,
		},
	})
	if err != nil {
		return s, err
	}
	s.OutputJSON = out
	return s, nil
}
