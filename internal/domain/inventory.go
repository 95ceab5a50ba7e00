package domain

import "time"

type UnitID string

// SellableUnit is a product or product variant as reported by the catalog.
// Untracked units (services, gift wrapping) never touch the inventory ledger.
type SellableUnit struct {
	ID      UnitID `json:"unit_id"`
	Price   int64  `json:"price"`
	Tracked bool   `json:"tracked"`
}

type StockLevel struct {
	UnitID    UnitID    `json:"unit_id"`
	Available int       `json:"available"`
	Reserved  int       `json:"reserved"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationReleased  ReservationStatus = "released"
	ReservationCommitted ReservationStatus = "committed"
)

// Reservation is a reversible decrement of a unit's available quantity,
// tagged with the order it was taken for.
type Reservation struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id"`
	UnitID    UnitID            `json:"unit_id"`
	Quantity  int               `json:"quantity"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (r Reservation) Ref() ReservationRef {
	return ReservationRef{ID: r.ID, UnitID: r.UnitID, Quantity: r.Quantity}
}

// ReservationRef is the copy of a reservation persisted with its order.
type ReservationRef struct {
	ID       string `json:"id"`
	UnitID   UnitID `json:"unit_id"`
	Quantity int    `json:"quantity"`
}
