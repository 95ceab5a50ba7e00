package payment

import (
	"context"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// Status vocabulary of the external processor.
const (
	StatusSucceeded             = "succeeded"
	StatusPaymentFailed         = "payment_failed"
	StatusProcessing            = "processing"
	StatusRequiresAction        = "requires_action"
	StatusRequiresConfirmation  = "requires_confirmation"
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusCanceled              = "canceled"
)

// Processor is the external payment processor. Transient failures wrap
// domain.ErrProcessorUnavailable; refusals that will not change on retry
// wrap domain.ErrProcessorRejected.
type Processor interface {
	CreateIntent(ctx context.Context, req CreateRequest) (processorID string, err error)
	Confirm(ctx context.Context, processorID, methodRef string) (Result, error)
}

type CreateRequest struct {
	IdempotencyKey string
	Amount         int64
	Currency       string
	Metadata       map[string]string
}

type Result struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// MapStatus translates the processor vocabulary into intent statuses.
// Unknown values are treated as still in flight.
func MapStatus(status string) domain.IntentStatus {
	switch status {
	case StatusSucceeded:
		return domain.IntentSucceeded
	case StatusPaymentFailed:
		return domain.IntentFailed
	case StatusCanceled:
		return domain.IntentCanceled
	case StatusRequiresPaymentMethod, StatusRequiresConfirmation:
		return domain.IntentPending
	default:
		return domain.IntentProcessing
	}
}
