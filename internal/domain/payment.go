package domain

import "time"

type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentProcessing IntentStatus = "processing"
	IntentSucceeded  IntentStatus = "succeeded"
	IntentFailed     IntentStatus = "failed"
	IntentCanceled   IntentStatus = "canceled"
)

func (s IntentStatus) IsTerminal() bool {
	return s == IntentSucceeded || s == IntentFailed || s == IntentCanceled
}

// PaymentIntent is one attempt to collect payment for an order.
type PaymentIntent struct {
	ID            string       `json:"id"`
	OrderID       string       `json:"order_id"`
	ProcessorID   string       `json:"processor_id,omitempty"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	Status        IntentStatus `json:"status"`
	MethodRef     string       `json:"method_ref,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
