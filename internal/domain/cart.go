package domain

import (
	"fmt"
	"time"
)

type OwnerKind string

const (
	OwnerUser    OwnerKind = "user"
	OwnerSession OwnerKind = "session"
)

// CartOwner addresses a cart: a persistent user or an anonymous session token.
type CartOwner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func UserOwner(userID string) CartOwner {
	return CartOwner{Kind: OwnerUser, ID: userID}
}

func SessionOwner(token string) CartOwner {
	return CartOwner{Kind: OwnerSession, ID: token}
}

func (o CartOwner) IsUser() bool {
	return o.Kind == OwnerUser
}

func (o CartOwner) Key() string {
	return string(o.Kind) + ":" + o.ID
}

func (o CartOwner) String() string {
	return o.Key()
}

func (o CartOwner) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidOwner)
	}
	if o.Kind != OwnerUser && o.Kind != OwnerSession {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOwner, o.Kind)
	}
	return nil
}

type CartLine struct {
	UnitID   UnitID    `json:"unit_id"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}
