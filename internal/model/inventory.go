package model

// ItemKey identifies a kind (or instance) of transferable resource
type ItemKey string

// ResourceStack is the quantity of one item held by one owner.
// ReservedQty is the part of Qty promised to pending offers.
type ResourceStack struct {
	OwnerID     IdentityID
	ItemKey     ItemKey
	Qty         int
	ReservedQty int
}

// Available returns the unreserved quantity
func (s *ResourceStack) Available() int {
	return s.Qty - s.ReservedQty
}

// Valid reports whether the reservation invariant holds
func (s *ResourceStack) Valid() bool {
	return s.ReservedQty >= 0 && s.ReservedQty <= s.Qty
}

// StackRef addresses a stack without carrying its quantities
type StackRef struct {
	OwnerID IdentityID
	ItemKey ItemKey
}

// Ref returns the address of the stack
func (s *ResourceStack) Ref() StackRef {
	return StackRef{OwnerID: s.OwnerID, ItemKey: s.ItemKey}
}
