package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrDuplicateIntent        = errors.New("payment intent already in progress")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrProcessorUnavailable   = errors.New("payment processor unavailable")
	ErrProcessorRejected      = errors.New("payment rejected by processor")
	ErrRefundDecisionRequired = errors.New("refund decision required")
	ErrInvalidOwner           = errors.New("invalid cart owner")
	ErrOrderNotFound          = errors.New("order not found")
	ErrIntentNotFound         = errors.New("payment intent not found")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrReservationClosed      = errors.New("reservation already closed")
	ErrUnitNotFound           = errors.New("unit not found")
)

// StockError reports which units could not be reserved.
type StockError struct {
	Units []UnitID
}

func (e *StockError) Error() string {
	units := make([]string, len(e.Units))
	for i, u := range e.Units {
		units[i] = string(u)
	}
	return "insufficient stock for " + strings.Join(units, ", ")
}

func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func (e *StockError) Has(unit UnitID) bool {
	return slices.Contains(e.Units, unit)
}

type TransitionError struct {
	Action      string
	Fulfillment FulfillmentStatus
	Payment     PaymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s from %s/%s", e.Action, e.Fulfillment, e.Payment)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
