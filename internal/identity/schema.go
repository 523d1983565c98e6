package identity

import (
	"context"

	"github.com/samber/oops"
)

// Schema creates the users table. Each challenge pair is constrained to be
// both null or both set.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id                     UUID PRIMARY KEY,
	email                  TEXT NOT NULL,
	phone_number           TEXT NOT NULL,
	bank_account_number    CHAR(10) NOT NULL,
	first_name             TEXT NOT NULL,
	last_name              TEXT NOT NULL,
	password_hash          TEXT NOT NULL CHECK (password_hash <> ''),
	password_reset_token   TEXT,
	password_reset_expires TIMESTAMPTZ,
	hashed_pin             TEXT,
	pin_expires_at         TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT users_email_key UNIQUE (email),
	CONSTRAINT users_phone_number_key UNIQUE (phone_number),
	CONSTRAINT users_bank_account_number_key UNIQUE (bank_account_number),
	CONSTRAINT users_password_reset_pair CHECK ((password_reset_token IS NULL) = (password_reset_expires IS NULL)),
	CONSTRAINT users_pin_pair CHECK ((hashed_pin IS NULL) = (pin_expires_at IS NULL))
);
CREATE INDEX IF NOT EXISTS users_password_reset_expires_idx ON users (password_reset_expires) WHERE password_reset_expires IS NOT NULL;
CREATE INDEX IF NOT EXISTS users_pin_expires_at_idx ON users (pin_expires_at) WHERE pin_expires_at IS NOT NULL;
`

// EnsureSchema applies Schema. It is safe to run on every start.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return oops.Code("SCHEMA_APPLY_FAILED").With("table", "users").Wrap(err)
	}
	return nil
}
