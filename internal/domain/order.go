package domain

import "time"

type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "PENDING"
	FulfillmentConfirmed  FulfillmentStatus = "CONFIRMED"
	FulfillmentProcessing FulfillmentStatus = "PROCESSING"
	FulfillmentShipped    FulfillmentStatus = "SHIPPED"
	FulfillmentDelivered  FulfillmentStatus = "DELIVERED"
	FulfillmentCancelled  FulfillmentStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type Address struct {
	Name       string `json:"name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
}

// OrderLine is a priced snapshot taken at checkout. It never follows later
// catalog price changes.
type OrderLine struct {
	UnitID    UnitID `json:"unit_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

func (l OrderLine) Amount() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

// Totals are computed once at creation. Tax and shipping are supplied by the caller.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

func ComputeTotals(lines []OrderLine, tax, shipping, discount int64) Totals {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.Amount()
	}
	total := subtotal + tax + shipping - discount
	if total < 0 {
		total = 0
	}
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    total,
	}
}

type Order struct {
	ID              string           `json:"id"`
	Number          string           `json:"number"`
	Owner           CartOwner        `json:"owner"`
	UserID          string           `json:"user_id,omitempty"`
	Email           string           `json:"email"`
	Lines           []OrderLine      `json:"lines"`
	ShippingAddress Address          `json:"shipping_address"`
	BillingAddress  Address          `json:"billing_address"`
	Currency        string           `json:"currency"`
	Totals          Totals           `json:"totals"`
	Reservations    []ReservationRef `json:"reservations,omitempty"`

	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	PaymentFailures   int               `json:"payment_failures"`
	CancelReason      string            `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so stores never hand out shared slices.
func (o *Order) Clone() *Order {
	c := *o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	c.Reservations = append([]ReservationRef(nil), o.Reservations...)
	return &c
}
