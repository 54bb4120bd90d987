package workflows

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
)

// Payment workflow nodes.
const (
	nodeGeneratePayment flowgraph.NodeID = "generate_payment"
	nodeMakePayment     flowgraph.NodeID = "make_payment"
)

// Fixed payment replies.
const (
	paymentFormText = "Here is the payment form. Please enter your payment details."
	paymentDoneText = "Your payment has been processed successfully."
)

// PaymentMethod is the transaction type recorded for every payment.
const PaymentMethod = "credit_card"

func buildInitiatePayment(Deps) (flowgraph.NodeFunc[state.State], error) {
	g := flowgraph.NewGraph[state.InitiatePaymentState]().
		AddNode(nodeGeneratePayment, generatePayment).
		AddEdge(nodeGeneratePayment, flowgraph.END).
		SetEntry(nodeGeneratePayment)

	base := projection[state.InitiatePaymentState]()
	return mount(g, flowgraph.Projection[state.State, state.InitiatePaymentState]{
		In: func(p state.State) state.InitiatePaymentState {
			c := base.In(p)
			c.Review = orderUnderReview(p)
			return c
		},
		Out: base.Out,
	})
}

func buildPaymentStatus(d Deps) (flowgraph.NodeFunc[state.State], error) {
	w := &payment{orders: d.Store, now: time.Now}
	g := flowgraph.NewGraph[state.PaymentStatusState]().
		AddNode(nodeMakePayment, w.pay).
		AddEdge(nodeMakePayment, flowgraph.END).
		SetEntry(nodeMakePayment)

	base := projection[state.PaymentStatusState]()
	return mount(g, flowgraph.Projection[state.State, state.PaymentStatusState]{
		In: func(p state.State) state.PaymentStatusState {
			c := base.In(p)
			c.Review = orderUnderReview(p)
			return c
		},
		Out: base.Out,
	})
}

// orderUnderReview reads the last order review from the place_order
// sub-state, or nil when there is none.
func orderUnderReview(p state.State) *state.OrderDetails {
	order, ok := state.Lookup[state.PlaceOrderState](p.SubStates)
	if !ok || order.Details == nil {
		return nil
	}
	review := *order.Details
	return &review
}

func orderRequired(w state.WorkflowName) *state.WorkflowError {
	return state.NewError(w, state.KindValidation, "order_required",
		"Please choose a product to order before paying").
		With("missing", "order_details")
}

func generatePayment(_ flowgraph.Context, s state.InitiatePaymentState) (state.InitiatePaymentState, error) {
	if s.Review == nil {
		s.Fail(orderRequired(state.InitiatePayment))
		return s, nil
	}

	s.Payment = &state.PaymentDetails{
		Product: s.Review.Product,
		Price:   s.Review.Price,
	}
	out, err := json.Marshal(map[string]any{
		"template": state.WidgetPaymentForm,
		"payload":  s.Payment,
	})
	if err != nil {
		return s, err
	}
	s.OutputText = paymentFormText
	s.OutputJSON = out
	return s, setWidget(&s.Common, state.WidgetPaymentForm, s.Payment)
}

type payment struct {
	orders commerce.Orders
	now    func() time.Time
}

// pay records the reviewed order as paid and returns its receipt.
func (w *payment) pay(ctx flowgraph.Context, s state.PaymentStatusState) (state.PaymentStatusState, error) {
	if s.Review == nil {
		s.Fail(orderRequired(state.PaymentStatus))
		return s, nil
	}

	order, err := w.orders.CreateOrder(ctx, commerce.Order{
		UserID:    s.UserID,
		ProductID: s.Review.Product.ID,
		Quantity:  1,
		Price:     s.Review.Price.Total,
		Status:    commerce.OrderPaid,
	})
	if err != nil {
		s.Fail(state.NewError(state.PaymentStatus, state.KindStorage, "payment_failed",
			"I couldn't record your payment").WithCause(err))
		return s, nil
	}
	ctx.Logger().Info("order paid", "order_id", order.ID, "product_id", order.ProductID)

	s.Receipt = &state.PaymentStatusDetails{
		OrderID: order.ID,
		Product: s.Review.Product,
		Price:   s.Review.Price,
		Transaction: state.Transaction{
			ID:     uuid.NewString(),
			Date:   w.now().UTC(),
			Type:   PaymentMethod,
			Status: "success",
			Amount: s.Review.Price.Total,
		},
	}
	out, err := json.Marshal(map[string]any{
		"template": state.WidgetPaymentStatus,
		"payload":  s.Receipt,
	})
	if err != nil {
		return s, err
	}
	s.OutputText = paymentDoneText
	s.OutputJSON = out
	return s, setWidget(&s.Common, state.WidgetPaymentStatus, s.Receipt)
}
