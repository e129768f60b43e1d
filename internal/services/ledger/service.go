// Package ledger moves quantities of a resource between owners through
// reservation-backed transfer offers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mcoot/playhub/internal/dependencies/clock"
	"github.com/mcoot/playhub/internal/dependencies/keylock"
	"github.com/mcoot/playhub/internal/dependencies/random"
	"github.com/mcoot/playhub/internal/events"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/writegate"
	"github.com/mcoot/playhub/internal/storage"
)

// Authorizer checks supervisor rights for administrative inventory changes
type Authorizer interface {
	RequireSupervisor(ctx context.Context, id model.IdentityID) error
}

// Config holds configuration for the ledger
type Config struct {
	OfferTTL time.Duration
}

// DefaultConfig returns default ledger configuration
func DefaultConfig() Config {
	return Config{
		OfferTTL: 15 * time.Minute,
	}
}

// TransferResult is the outcome of a ledger operation. Status is the
// terminal (or pending) state the offer is in after the call, including
// when the call found the offer already resolved.
type TransferResult struct {
	Offer  *model.TransferOffer
	Status model.OfferStatus
}

// Service is the transfer ledger
type Service struct {
	storage   storage.Storage
	clock     clock.Clock
	random    random.Random
	gate      writegate.Checker
	authz     Authorizer
	publisher events.Publisher
	locks     *keylock.Locker
	cfg       Config
	logger    *slog.Logger
}

// New creates a new ledger Service
func New(
	storage storage.Storage,
	clock clock.Clock,
	random random.Random,
	gate writegate.Checker,
	authz Authorizer,
	publisher events.Publisher,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = DefaultConfig().OfferTTL
	}
	return &Service{
		storage:   storage,
		clock:     clock,
		random:    random,
		gate:      gate,
		authz:     authz,
		publisher: publisher,
		locks:     keylock.New(),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

func offerKey(id model.OfferID) string {
	return "offer:" + string(id)
}

func stackKey(ref model.StackRef) string {
	return "stack:" + string(ref.OwnerID) + "/" + string(ref.ItemKey)
}

// loadStack returns the stack, or an empty one if the owner holds none
func (s *Service) loadStack(ctx context.Context, ref model.StackRef) (*model.ResourceStack, error) {
	stack, err := s.storage.GetStack(ctx, ref)
	if errors.Is(err, model.ErrStackNotFound) {
		return &model.ResourceStack{OwnerID: ref.OwnerID, ItemKey: ref.ItemKey}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stack: %w", err)
	}
	return stack, nil
}

func (s *Service) requireActiveIdentity(ctx context.Context, id model.IdentityID) error {
	identity, err := s.storage.GetIdentity(ctx, id)
	if err != nil {
		return err
	}
	if !identity.IsActive() {
		return model.ErrIdentityRemoved
	}
	return nil
}

func (s *Service) publish(eventType model.EventType, offer *model.TransferOffer) {
	s.publisher.Publish(model.Event{
		Type:      eventType,
		Timestamp: s.clock.Now(),
		Audience:  []model.IdentityID{offer.FromOwner, offer.ToOwner},
		Payload:   model.OfferPayload{Offer: *offer},
	})
}

// CreateOffer reserves qty of the sender's stack and records a pending offer
func (s *Service) CreateOffer(ctx context.Context, from, to model.IdentityID, item model.ItemKey, qty int) (*TransferResult, error) {
	if err := s.gate.AssertWritable(writegate.OpOfferCreate); err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(item)) == "" || to == "" {
		return nil, model.ErrInvalidRequest
	}
	if qty <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	if from == to {
		return nil, model.ErrSelfTransfer
	}
	if err := s.requireActiveIdentity(ctx, to); err != nil {
		return nil, err
	}

	ref := model.StackRef{OwnerID: from, ItemKey: item}
	unlock := s.locks.Lock(stackKey(ref))
	defer unlock()

	stack, err := s.loadStack(ctx, ref)
	if err != nil {
		return nil, err
	}
	if qty > stack.Available() {
		return nil, model.ErrInsufficientQuantity
	}
	stack.ReservedQty += qty

	now := s.clock.Now()
	offer := &model.TransferOffer{
		ID:        model.OfferID(s.random.ID()),
		FromOwner: from,
		ToOwner:   to,
		ItemKey:   item,
		Qty:       qty,
		Status:    model.OfferPending,
		ExpiresAt: now.Add(s.cfg.OfferTTL),
		CreatedAt: now,
	}
	if err := s.storage.CreateOffer(ctx, offer, stack); err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	s.logger.Info("offer created",
		slog.String("offer_id", string(offer.ID)),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("item", string(item)),
		slog.Int("qty", qty))

	unlock()
	s.publish(model.EventOfferCreated, offer)
	return &TransferResult{Offer: offer, Status: offer.Status}, nil
}

// Accept moves the reserved quantity to the receiver. Only the receiver may
// accept. Accepting an already-accepted offer reports accepted again.
func (s *Service) Accept(ctx context.Context, id model.OfferID, by model.IdentityID) (*TransferResult, error) {
	return s.finalize(ctx, id, by, model.OfferAccepted, writegate.OpOfferAccept)
}

// Reject releases the reservation on behalf of the receiver
func (s *Service) Reject(ctx context.Context, id model.OfferID, by model.IdentityID) (*TransferResult, error) {
	return s.finalize(ctx, id, by, model.OfferRejected, writegate.OpOfferReject)
}

// Cancel releases the reservation on behalf of the sender
func (s *Service) Cancel(ctx context.Context, id model.OfferID, by model.IdentityID) (*TransferResult, error) {
	return s.finalize(ctx, id, by, model.OfferCanceled, writegate.OpOfferCancel)
}

// authorize checks the caller may drive the offer to the target status.
// Offers are invisible to anyone who is not a party.
func authorize(offer *model.TransferOffer, by model.IdentityID, to model.OfferStatus) error {
	if !offer.IsParty(by) {
		return model.ErrOfferNotFound
	}
	switch to {
	case model.OfferAccepted, model.OfferRejected:
		if by != offer.ToOwner {
			return model.ErrForbidden
		}
	case model.OfferCanceled:
		if by != offer.FromOwner {
			return model.ErrForbidden
		}
	}
	return nil
}

// resolved reports the outcome of a request against an offer that is
// already terminal: the same transition again succeeds, anything else conflicts
func resolved(offer *model.TransferOffer, to model.OfferStatus) (*TransferResult, error) {
	if offer.Status == to {
		return &TransferResult{Offer: offer, Status: offer.Status}, nil
	}
	return &TransferResult{Offer: offer, Status: offer.Status}, model.ErrAlreadyFinalized
}

func (s *Service) finalize(ctx context.Context, id model.OfferID, by model.IdentityID, to model.OfferStatus, op string) (*TransferResult, error) {
	if err := s.gate.AssertWritable(op); err != nil {
		return nil, err
	}

	offer, err := s.storage.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(offer, by, to); err != nil {
		return nil, err
	}

	unlock := s.locks.LockAll(offerKey(id), stackKey(offer.SenderRef()), stackKey(offer.ReceiverRef()))
	defer unlock()

	// Re-read under the lock; a racing call may have finalized it
	offer, err = s.storage.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if offer.Status.IsTerminal() {
		return resolved(offer, to)
	}

	now := s.clock.Now()
	target := to
	if offer.IsExpired(now) {
		target = model.OfferExpired
	}

	if err := s.commitLocked(ctx, offer, target, now); err != nil {
		if errors.Is(err, model.ErrStatusConflict) {
			current, getErr := s.storage.GetOffer(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return resolved(current, to)
		}
		return nil, err
	}

	unlock()
	s.publish(model.EventOfferFinalized, offer)
	return &TransferResult{Offer: offer, Status: offer.Status}, nil
}

// commitLocked resolves the reservation of a pending offer into the target
// status and persists it in one storage commit. Caller holds the offer and
// both stack locks.
func (s *Service) commitLocked(ctx context.Context, offer *model.TransferOffer, to model.OfferStatus, now time.Time) error {
	sender, err := s.loadStack(ctx, offer.SenderRef())
	if err != nil {
		return err
	}
	if sender.ReservedQty < offer.Qty {
		return fmt.Errorf("offer %s: sender reservation %d below offer qty %d",
			offer.ID, sender.ReservedQty, offer.Qty)
	}

	if !offer.TryTransition([]model.OfferStatus{model.OfferPending}, to, now) {
		return model.ErrStatusConflict
	}

	sender.ReservedQty -= offer.Qty
	stacks := []*model.ResourceStack{sender}
	if to == model.OfferAccepted {
		receiver, err := s.loadStack(ctx, offer.ReceiverRef())
		if err != nil {
			return err
		}
		sender.Qty -= offer.Qty
		receiver.Qty += offer.Qty
		stacks = append(stacks, receiver)
	}

	if err := s.storage.CommitTransfer(ctx, storage.TransferCommit{
		Offer:          offer,
		ExpectedStatus: model.OfferPending,
		Stacks:         stacks,
	}); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}

	s.logger.Info("offer finalized",
		slog.String("offer_id", string(offer.ID)),
		slog.String("status", string(to)),
		slog.Int("qty", offer.Qty))
	return nil
}

// expire finalizes one pending offer as expired if it is still pending and
// past its expiry. It reports whether this call did the expiring.
func (s *Service) expire(ctx context.Context, offer *model.TransferOffer) (*model.TransferOffer, bool, error) {
	unlock := s.locks.LockAll(offerKey(offer.ID), stackKey(offer.SenderRef()), stackKey(offer.ReceiverRef()))
	defer unlock()

	current, err := s.storage.GetOffer(ctx, offer.ID)
	if err != nil {
		return nil, false, err
	}
	now := s.clock.Now()
	if !current.IsExpired(now) {
		return current, false, nil
	}
	if err := s.commitLocked(ctx, current, model.OfferExpired, now); err != nil {
		if errors.Is(err, model.ErrStatusConflict) {
			return current, false, nil
		}
		return nil, false, err
	}

	unlock()
	s.publish(model.EventOfferFinalized, current)
	return current, true, nil
}

// GetOffer returns an offer visible to the caller. A pending offer past its
// expiry is expired on access while the system is writable.
func (s *Service) GetOffer(ctx context.Context, id model.OfferID, by model.IdentityID) (*model.TransferOffer, error) {
	offer, err := s.storage.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if !offer.IsParty(by) {
		return nil, model.ErrOfferNotFound
	}
	if offer.IsExpired(s.clock.Now()) && s.gate.AssertWritable(writegate.OpOfferExpire) == nil {
		expired, _, err := s.expire(ctx, offer)
		if err != nil {
			return nil, err
		}
		return expired, nil
	}
	return offer, nil
}

// ListOffers returns every offer the identity is a party to
func (s *Service) ListOffers(ctx context.Context, by model.IdentityID) ([]*model.TransferOffer, error) {
	return s.storage.ListOffersFor(ctx, by)
}

// SweepExpired expires every pending offer past its expiry and returns how
// many this sweep finalized. It does nothing while the system is read-only.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	if err := s.gate.AssertWritable(writegate.OpOfferExpire); err != nil {
		s.logger.Debug("offer sweep skipped", slog.String("reason", err.Error()))
		return 0, nil
	}

	pending, err := s.storage.ListPendingOffers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending offers: %w", err)
	}

	now := s.clock.Now()
	expired := 0
	for _, offer := range pending {
		if !offer.IsExpired(now) {
			continue
		}
		_, did, err := s.expire(ctx, offer)
		if err != nil {
			return expired, err
		}
		if did {
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("expired offers swept", slog.Int("count", expired))
	}
	return expired, nil
}

// Inventory returns the stacks held by an owner
func (s *Service) Inventory(ctx context.Context, owner model.IdentityID) ([]*model.ResourceStack, error) {
	return s.storage.ListStacks(ctx, owner)
}

// Grant adds qty of an item to an owner's stack (supervisor only)
func (s *Service) Grant(ctx context.Context, by, owner model.IdentityID, item model.ItemKey, qty int) (*model.ResourceStack, error) {
	if err := s.gate.AssertWritable(writegate.OpInventoryGrant); err != nil {
		return nil, err
	}
	if err := s.authz.RequireSupervisor(ctx, by); err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(item)) == "" {
		return nil, model.ErrInvalidRequest
	}
	if qty <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	if err := s.requireActiveIdentity(ctx, owner); err != nil {
		return nil, err
	}

	ref := model.StackRef{OwnerID: owner, ItemKey: item}
	unlock := s.locks.Lock(stackKey(ref))
	defer unlock()

	stack, err := s.loadStack(ctx, ref)
	if err != nil {
		return nil, err
	}
	stack.Qty += qty
	if err := s.storage.SaveStack(ctx, stack); err != nil {
		return nil, fmt.Errorf("save stack: %w", err)
	}

	s.logger.Info("inventory granted",
		slog.String("owner", string(owner)),
		slog.String("item", string(item)),
		slog.Int("qty", qty),
		slog.String("granted_by", string(by)))
	return stack, nil
}

// Import overwrites stack quantities from recovery data (supervisor only).
// Existing reservations are kept, so an imported quantity may not fall
// below what pending offers already hold.
func (s *Service) Import(ctx context.Context, by model.IdentityID, stacks []model.ResourceStack) (int, error) {
	if err := s.gate.AssertWritable(writegate.OpDataImport); err != nil {
		return 0, err
	}
	if err := s.authz.RequireSupervisor(ctx, by); err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(stacks))
	for _, st := range stacks {
		if st.OwnerID == "" || strings.TrimSpace(string(st.ItemKey)) == "" {
			return 0, model.ErrInvalidRequest
		}
		if st.Qty < 0 {
			return 0, model.ErrInvalidQuantity
		}
		keys = append(keys, stackKey(st.Ref()))
	}

	unlock := s.locks.LockAll(keys...)
	defer unlock()

	updated := make([]*model.ResourceStack, 0, len(stacks))
	for _, st := range stacks {
		existing, err := s.loadStack(ctx, st.Ref())
		if err != nil {
			return 0, err
		}
		existing.Qty = st.Qty
		if !existing.Valid() {
			return 0, fmt.Errorf("%s/%s: qty %d below reserved %d: %w",
				st.OwnerID, st.ItemKey, st.Qty, existing.ReservedQty, model.ErrInsufficientQuantity)
		}
		updated = append(updated, existing)
	}
	for _, st := range updated {
		if err := s.storage.SaveStack(ctx, st); err != nil {
			return 0, fmt.Errorf("save stack: %w", err)
		}
	}

	s.logger.Info("inventory imported",
		slog.Int("stacks", len(updated)),
		slog.String("imported_by", string(by)))
	return len(updated), nil
}
