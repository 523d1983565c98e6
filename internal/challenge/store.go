// Package challenge issues and consumes short-lived single-use secrets held in
// a user's challenge slots.
package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/congo-pay/congo_auth/internal/identity"
	"github.com/congo-pay/congo_auth/internal/secret"
)

// ErrInvalidOrExpired covers an unset slot, an expired challenge and a wrong
// candidate alike.
var ErrInvalidOrExpired = errors.New("challenge is invalid or expired")

// SlotWriter is the repository capability the store needs.
type SlotWriter interface {
	UpdateFields(ctx context.Context, email string, update identity.FieldUpdate) error
}

// Store layers issue/consume semantics onto the user's slot fields.
type Store struct {
	repo   SlotWriter
	hasher secret.Hasher
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore builds a challenge store hashing with hasher.
func NewStore(repo SlotWriter, hasher secret.Hasher, opts ...Option) *Store {
	s := &Store{repo: repo, hasher: hasher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue hashes plaintext into slot with expiry now+ttl, replacing any pending
// challenge. It returns the expiry.
func (s *Store) Issue(ctx context.Context, user identity.User, slot identity.Slot, plaintext string, ttl time.Duration) (time.Time, error) {
	if ttl <= 0 {
		return time.Time{}, oops.Code("CHALLENGE_INVALID_TTL").With("slot", slot).With("ttl", ttl.String()).Errorf("ttl must be positive")
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return time.Time{}, oops.Code("CHALLENGE_HASH_FAILED").With("slot", slot).Wrap(err)
	}
	expires := s.now().Add(ttl)
	err = s.repo.UpdateFields(ctx, user.Email, identity.FieldUpdate{
		SetSlot: &identity.SlotWrite{Slot: slot, Challenge: identity.Challenge{Hash: hash, ExpiresAt: expires}},
	})
	if err != nil {
		return time.Time{}, oops.Code("CHALLENGE_ISSUE_FAILED").With("slot", slot).With("user_id", user.ID).Wrap(err)
	}
	return expires, nil
}

// Consume verifies candidate against slot and clears it on success.
func (s *Store) Consume(ctx context.Context, user identity.User, slot identity.Slot, candidate string) error {
	return s.ConsumeWith(ctx, user, slot, candidate, identity.FieldUpdate{})
}

// ConsumeWith is Consume with extra field changes applied in the same write as
// the clear. The clear only lands if the slot still holds the hash that was
// verified, so a challenge is consumed at most once.
func (s *Store) ConsumeWith(ctx context.Context, user identity.User, slot identity.Slot, candidate string, extra identity.FieldUpdate) error {
	pending := user.Challenge(slot)
	switch {
	case pending == nil:
		return rejected(slot, user, "unset")
	case !pending.Live(s.now()):
		return rejected(slot, user, "expired")
	case !s.hasher.Verify(candidate, pending.Hash):
		return rejected(slot, user, "mismatch")
	}

	extra.ClearSlot = &identity.SlotClear{Slot: slot, IfHash: pending.Hash}
	err := s.repo.UpdateFields(ctx, user.Email, extra)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrChallengeChanged), errors.Is(err, identity.ErrNotFound):
		return rejected(slot, user, "changed")
	default:
		return oops.Code("CHALLENGE_CONSUME_FAILED").With("slot", slot).With("user_id", user.ID).Wrap(err)
	}
}

func rejected(slot identity.Slot, user identity.User, reason string) error {
	return oops.Code("CHALLENGE_REJECTED").
		With("slot", slot).
		With("user_id", user.ID).
		With("reason", reason).
		Wrap(ErrInvalidOrExpired)
}
