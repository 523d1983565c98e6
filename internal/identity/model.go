package identity

import "time"

// Slot names one of the independent challenge pairs stored on a user.
type Slot string

const (
	SlotPasswordReset Slot = "password_reset"
	SlotPIN           Slot = "pin"
)

// Slots lists every challenge slot.
var Slots = []Slot{SlotPasswordReset, SlotPIN}

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	return s == SlotPasswordReset || s == SlotPIN
}

// Challenge is the hashed secret and expiry of one pending challenge.
type Challenge struct {
	Hash      string
	ExpiresAt time.Time
}

// Live reports whether the challenge can still be consumed at now.
func (c *Challenge) Live(now time.Time) bool {
	return c != nil && c.Hash != "" && now.Before(c.ExpiresAt)
}

// User is a registered account holder.
type User struct {
	ID                string
	Email             string
	PhoneNumber       string
	BankAccountNumber string
	FirstName         string
	LastName          string
	PasswordHash      string
	PasswordReset     *Challenge
	PIN               *Challenge
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Challenge returns the pending challenge held in slot, or nil.
func (u User) Challenge(slot Slot) *Challenge {
	switch slot {
	case SlotPasswordReset:
		return u.PasswordReset
	case SlotPIN:
		return u.PIN
	default:
		return nil
	}
}

func (u *User) setChallenge(slot Slot, c *Challenge) {
	switch slot {
	case SlotPasswordReset:
		u.PasswordReset = c
	case SlotPIN:
		u.PIN = c
	}
}
