package domain

import "time"

type EventType string

const (
	EventOrderCreated   EventType = "OrderCreated"
	EventOrderPaid      EventType = "OrderPaid"
	EventOrderCancelled EventType = "OrderCancelled"
)

type OrderEvent struct {
	Type        EventType   `json:"type"`
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      string      `json:"user_id,omitempty"`
	Email       string      `json:"email"`
	Lines       []OrderLine `json:"lines"`
	Total       int64       `json:"total"`
	Currency    string      `json:"currency"`
	Reason      string      `json:"reason,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

func NewOrderEvent(t EventType, o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:        t,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		Email:       o.Email,
		Lines:       o.Lines,
		Total:       o.Totals.Total,
		Currency:    o.Currency,
		Reason:      o.CancelReason,
		Timestamp:   at,
	}
}
