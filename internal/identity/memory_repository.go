package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
	now   func() time.Time
}

// NewMemoryRepository builds an empty in-memory user store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User), now: time.Now}
}

func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return User{}, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(ErrNotFound)
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	return cloneUser(user), nil
}

func (r *MemoryRepository) Create(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, exists := r.users[user.ID]; exists {
		return User{}, oops.Code("USER_DUPLICATE").With("field", "id").Wrap(&DuplicateError{Field: "id"})
	}
	if err := r.checkUnique(user); err != nil {
		return User{}, err
	}
	now := r.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	r.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *MemoryRepository) Save(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if err := r.checkUnique(user); err != nil {
		return User{}, err
	}
	now := r.now().UTC()
	if existing, ok := r.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	r.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *MemoryRepository) UpdateFields(_ context.Context, email string, update FieldUpdate) error {
	if err := update.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		user  User
		found bool
	)
	for _, u := range r.users {
		if u.Email == email {
			user, found = u, true
			break
		}
	}
	if !found {
		if update.ClearSlot != nil && update.ClearSlot.IfHash != "" {
			return oops.Code("USER_CHALLENGE_CHANGED").With("email", email).With("slot", update.ClearSlot.Slot).Wrap(ErrChallengeChanged)
		}
		return oops.Code("USER_NOT_FOUND").With("email", email).Wrap(ErrNotFound)
	}

	if c := update.ClearSlot; c != nil && c.IfHash != "" {
		current := user.Challenge(c.Slot)
		if current == nil || current.Hash != c.IfHash {
			return oops.Code("USER_CHALLENGE_CHANGED").With("email", email).With("slot", c.Slot).Wrap(ErrChallengeChanged)
		}
	}

	if s := update.SetSlot; s != nil {
		challenge := s.Challenge
		challenge.ExpiresAt = challenge.ExpiresAt.UTC()
		user.setChallenge(s.Slot, &challenge)
	}
	if c := update.ClearSlot; c != nil {
		user.setChallenge(c.Slot, nil)
	}
	if update.PasswordHash != "" {
		user.PasswordHash = update.PasswordHash
	}
	user.UpdatedAt = r.now().UTC()
	r.users[user.ID] = user
	return nil
}

func (r *MemoryRepository) ClearExpired(_ context.Context, slot Slot, now time.Time) (int64, error) {
	if !slot.Valid() {
		return 0, oops.Code("USER_UPDATE_INVALID").With("slot", slot).Errorf("unknown slot")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var cleared int64
	for id, user := range r.users {
		c := user.Challenge(slot)
		if c == nil || c.ExpiresAt.After(now) {
			continue
		}
		user.setChallenge(slot, nil)
		user.UpdatedAt = r.now().UTC()
		r.users[id] = user
		cleared++
	}
	return cleared, nil
}

// checkUnique must be called with the write lock held.
func (r *MemoryRepository) checkUnique(user User) error {
	for id, other := range r.users {
		if id == user.ID {
			continue
		}
		var field string
		switch {
		case other.Email == user.Email:
			field = FieldEmail
		case other.PhoneNumber == user.PhoneNumber:
			field = FieldPhoneNumber
		case other.BankAccountNumber == user.BankAccountNumber:
			field = FieldBankAccountNumber
		default:
			continue
		}
		return oops.Code("USER_DUPLICATE").With("field", field).Wrap(&DuplicateError{Field: field})
	}
	return nil
}

func cloneUser(u User) User {
	if u.PasswordReset != nil {
		c := *u.PasswordReset
		u.PasswordReset = &c
	}
	if u.PIN != nil {
		c := *u.PIN
		u.PIN = &c
	}
	return u
}

var _ Repository = (*MemoryRepository)(nil)
