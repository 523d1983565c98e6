package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

// Unique fields reported by DuplicateError.
const (
	FieldEmail             = "email"
	FieldPhoneNumber       = "phone_number"
	FieldBankAccountNumber = "bank_account_number"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrChallengeChanged is returned when a conditional slot clear finds a
	// different hash than the one it verified.
	ErrChallengeChanged = errors.New("challenge changed")
)

// DuplicateError reports a unique constraint violation on Field.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("user with this %s already exists", e.Field)
}

// SlotWrite sets both fields of a slot.
type SlotWrite struct {
	Slot      Slot
	Challenge Challenge
}

// SlotClear nulls both fields of a slot. When IfHash is set the clear only
// applies while the slot still holds that hash.
type SlotClear struct {
	Slot   Slot
	IfHash string
}

// FieldUpdate is a partial update applied to one user in a single write.
type FieldUpdate struct {
	SetSlot      *SlotWrite
	ClearSlot    *SlotClear
	PasswordHash string
}

func (u FieldUpdate) validate() error {
	if u.SetSlot == nil && u.ClearSlot == nil && u.PasswordHash == "" {
		return oops.Code("USER_UPDATE_EMPTY").Errorf("field update has no changes")
	}
	if u.SetSlot != nil {
		if !u.SetSlot.Slot.Valid() {
			return oops.Code("USER_UPDATE_INVALID").With("slot", u.SetSlot.Slot).Errorf("unknown slot")
		}
		if u.SetSlot.Challenge.Hash == "" || u.SetSlot.Challenge.ExpiresAt.IsZero() {
			return oops.Code("USER_UPDATE_INVALID").With("slot", u.SetSlot.Slot).Errorf("slot write needs hash and expiry")
		}
	}
	if u.ClearSlot != nil && !u.ClearSlot.Slot.Valid() {
		return oops.Code("USER_UPDATE_INVALID").With("slot", u.ClearSlot.Slot).Errorf("unknown slot")
	}
	if u.SetSlot != nil && u.ClearSlot != nil && u.SetSlot.Slot == u.ClearSlot.Slot {
		return oops.Code("USER_UPDATE_INVALID").With("slot", u.SetSlot.Slot).Errorf("cannot set and clear the same slot")
	}
	return nil
}

// Repository persists users.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	// Create inserts a new user, assigning an id when empty. Unique
	// violations are reported as *DuplicateError.
	Create(ctx context.Context, user User) (User, error)
	// Save inserts or fully replaces the user with the same id.
	Save(ctx context.Context, user User) (User, error)
	// UpdateFields applies update to the user with email in one write.
	UpdateFields(ctx context.Context, email string, update FieldUpdate) error
	// ClearExpired nulls every slot pair that expired at or before now.
	ClearExpired(ctx context.Context, slot Slot, now time.Time) (int64, error)
}
