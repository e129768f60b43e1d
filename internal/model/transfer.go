package model

import (
	"slices"
	"time"
)

// OfferID uniquely identifies a transfer offer
type OfferID string

// OfferStatus is the lifecycle state of a transfer offer
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
	OfferCanceled OfferStatus = "canceled"
	OfferExpired  OfferStatus = "expired"
)

// IsTerminal reports whether no further transition is permitted
func (s OfferStatus) IsTerminal() bool {
	return s != OfferPending
}

// TransferOffer moves Qty of ItemKey from FromOwner to ToOwner once accepted.
// While pending, Qty is held as a reservation on the sender's stack.
type TransferOffer struct {
	ID          OfferID
	FromOwner   IdentityID
	ToOwner     IdentityID
	ItemKey     ItemKey
	Qty         int
	Status      OfferStatus
	ExpiresAt   time.Time
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// SenderRef returns the stack the reservation is held on
func (o *TransferOffer) SenderRef() StackRef {
	return StackRef{OwnerID: o.FromOwner, ItemKey: o.ItemKey}
}

// ReceiverRef returns the stack that gains the quantity on acceptance
func (o *TransferOffer) ReceiverRef() StackRef {
	return StackRef{OwnerID: o.ToOwner, ItemKey: o.ItemKey}
}

// IsParty reports whether the identity is the sender or the receiver
func (o *TransferOffer) IsParty(id IdentityID) bool {
	return o.FromOwner == id || o.ToOwner == id
}

// IsExpired reports whether a pending offer has passed its expiry
func (o *TransferOffer) IsExpired(now time.Time) bool {
	return o.Status == OfferPending && !now.Before(o.ExpiresAt)
}

// TryTransition moves the offer to the target status only if its current status is
// one of from. It reports whether the transition happened; a false result leaves the
// offer untouched so the caller can observe the state that won.
func (o *TransferOffer) TryTransition(from []OfferStatus, to OfferStatus, at time.Time) bool {
	if !slices.Contains(from, o.Status) {
		return false
	}
	o.Status = to
	if to.IsTerminal() {
		o.FinalizedAt = &at
	}
	return true
}
