// Package secret hashes and verifies user secrets: passwords, password reset
// tokens and PINs. Hashes are one-way and salted; plaintext never leaves the
// caller.
package secret

import (
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinCost is the lowest bcrypt work factor accepted for any secret.
	MinCost = 10
	// MaxLen is the longest secret bcrypt hashes, in bytes.
	MaxLen = 72
)

var (
	// ErrEmptySecret is returned when attempting to hash an empty secret.
	ErrEmptySecret = errors.New("secret cannot be empty")
	// ErrSecretTooLong is returned for secrets longer than MaxLen bytes.
	ErrSecretTooLong = errors.New("secret exceeds 72 bytes")
)

// Hasher provides one-way hashing and verification of secrets.
type Hasher interface {
	// Hash produces a salted one-way hash of secret.
	Hash(secret string) (string, error)

	// Verify reports whether secret matches hashed. Malformed hashes never match.
	Verify(secret, hashed string) bool
}

// BcryptHasher implements Hasher using bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. Costs outside [MinCost, bcrypt.MaxCost]
// are rejected so a misconfigured process fails at startup.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("SECRET_INVALID_COST").
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash produces a bcrypt hash of secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", oops.Code("SECRET_EMPTY").Wrap(ErrEmptySecret)
	}
	if len(secret) > MaxLen {
		return "", oops.Code("SECRET_TOO_LONG").With("length", len(secret)).Wrap(ErrSecretTooLong)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", oops.Code("SECRET_HASH_FAILED").Wrap(err)
	}
	return string(hashed), nil
}

// Verify compares secret against hashed using bcrypt's constant-time comparison.
func (h *BcryptHasher) Verify(secret, hashed string) bool {
	if secret == "" || hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret)) == nil
}

// NeedsRehash reports whether hashed was produced with a different cost than
// the hasher is configured for.
func (h *BcryptHasher) NeedsRehash(hashed string) bool {
	cost, err := bcrypt.Cost([]byte(hashed))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// Compile-time interface check.
var _ Hasher = (*BcryptHasher)(nil)
