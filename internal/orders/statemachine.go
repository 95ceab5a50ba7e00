package orders

import (
	"slices"
	"time"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// Action is an event applied to an order's status pair.
type Action string

const (
	ActionCapturePayment  Action = "capture_payment"
	ActionPaymentFailed   Action = "payment_failed"
	ActionRetryPayment    Action = "retry_payment"
	ActionStartProcessing Action = "start_processing"
	ActionShip            Action = "ship"
	ActionDeliver         Action = "deliver"
	ActionCancel          Action = "cancel"
	ActionRefund          Action = "refund"
)

// rule describes one legal transition. An empty from-list accepts any state;
// an empty target leaves that half of the status pair untouched. When the
// order already sits in the settled states the action has taken effect
// before and applying it again changes nothing.
type rule struct {
	fulfillmentFrom []domain.FulfillmentStatus
	paymentFrom     []domain.PaymentStatus

	fulfillmentTo domain.FulfillmentStatus
	paymentTo     domain.PaymentStatus

	settledFulfillment []domain.FulfillmentStatus
	settledPayment     []domain.PaymentStatus

	effect func(o *domain.Order)
}

var rules = map[Action]rule{
	ActionCapturePayment: {
		fulfillmentFrom: []domain.FulfillmentStatus{domain.FulfillmentPending},
		paymentFrom:     []domain.PaymentStatus{domain.PaymentPending},
		fulfillmentTo:   domain.FulfillmentConfirmed,
		paymentTo:       domain.PaymentPaid,
		settledPayment:  []domain.PaymentStatus{domain.PaymentPaid, domain.PaymentRefunded},
	},
	ActionPaymentFailed: {
		fulfillmentFrom:    []domain.FulfillmentStatus{domain.FulfillmentPending},
		paymentFrom:        []domain.PaymentStatus{domain.PaymentPending},
		paymentTo:          domain.PaymentFailed,
		settledFulfillment: []domain.FulfillmentStatus{domain.FulfillmentPending},
		settledPayment:     []domain.PaymentStatus{domain.PaymentFailed},
		effect:             func(o *domain.Order) { o.PaymentFailures++ },
	},
	ActionRetryPayment: {
		fulfillmentFrom:    []domain.FulfillmentStatus{domain.FulfillmentPending},
		paymentFrom:        []domain.PaymentStatus{domain.PaymentFailed},
		paymentTo:          domain.PaymentPending,
		settledFulfillment: []domain.FulfillmentStatus{domain.FulfillmentPending},
		settledPayment:     []domain.PaymentStatus{domain.PaymentPending},
	},
	ActionStartProcessing: {
		fulfillmentFrom: []domain.FulfillmentStatus{domain.FulfillmentConfirmed},
		paymentFrom:     []domain.PaymentStatus{domain.PaymentPaid},
		fulfillmentTo:   domain.FulfillmentProcessing,
		settledFulfillment: []domain.FulfillmentStatus{
			domain.FulfillmentProcessing, domain.FulfillmentShipped, domain.FulfillmentDelivered,
		},
	},
	ActionShip: {
		fulfillmentFrom:    []domain.FulfillmentStatus{domain.FulfillmentProcessing},
		fulfillmentTo:      domain.FulfillmentShipped,
		settledFulfillment: []domain.FulfillmentStatus{domain.FulfillmentShipped, domain.FulfillmentDelivered},
	},
	ActionDeliver: {
		fulfillmentFrom:    []domain.FulfillmentStatus{domain.FulfillmentShipped},
		fulfillmentTo:      domain.FulfillmentDelivered,
		settledFulfillment: []domain.FulfillmentStatus{domain.FulfillmentDelivered},
	},
	ActionCancel: {
		fulfillmentFrom:    []domain.FulfillmentStatus{domain.FulfillmentPending, domain.FulfillmentConfirmed},
		fulfillmentTo:      domain.FulfillmentCancelled,
		settledFulfillment: []domain.FulfillmentStatus{domain.FulfillmentCancelled},
	},
	ActionRefund: {
		fulfillmentFrom: []domain.FulfillmentStatus{domain.FulfillmentCancelled},
		paymentFrom:     []domain.PaymentStatus{domain.PaymentPaid},
		paymentTo:       domain.PaymentRefunded,
		settledPayment:  []domain.PaymentStatus{domain.PaymentRefunded},
	},
}

func matches[S comparable](states []S, s S) bool {
	return len(states) == 0 || slices.Contains(states, s)
}

func (r rule) settled(o *domain.Order) bool {
	if len(r.settledFulfillment) == 0 && len(r.settledPayment) == 0 {
		return false
	}
	return matches(r.settledFulfillment, o.FulfillmentStatus) && matches(r.settledPayment, o.PaymentStatus)
}

func (r rule) allowed(o *domain.Order) bool {
	return matches(r.fulfillmentFrom, o.FulfillmentStatus) && matches(r.paymentFrom, o.PaymentStatus)
}

// Apply moves o through action. It reports false with a nil error when the
// action already took effect earlier. Illegal actions return a
// *domain.TransitionError and leave o untouched.
func Apply(o *domain.Order, action Action, now time.Time) (bool, error) {
	r, ok := rules[action]
	if !ok {
		return false, &domain.TransitionError{Action: string(action), Fulfillment: o.FulfillmentStatus, Payment: o.PaymentStatus}
	}

	if r.settled(o) {
		return false, nil
	}
	if !r.allowed(o) {
		return false, &domain.TransitionError{Action: string(action), Fulfillment: o.FulfillmentStatus, Payment: o.PaymentStatus}
	}

	if r.fulfillmentTo != "" {
		o.FulfillmentStatus = r.fulfillmentTo
	}
	if r.paymentTo != "" {
		o.PaymentStatus = r.paymentTo
	}
	if r.effect != nil {
		r.effect(o)
	}
	o.UpdatedAt = now
	return true, nil
}

// CanApply reports whether action would change o.
func CanApply(o *domain.Order, action Action) bool {
	r, ok := rules[action]
	return ok && !r.settled(o) && r.allowed(o)
}
