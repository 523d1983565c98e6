package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db  DB
	now func() time.Time
}

// NewPostgresRepository builds a Postgres-backed user repository.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

const userColumns = `id::text, email, phone_number, bank_account_number, first_name, last_name, password_hash,
	password_reset_token, password_reset_expires, hashed_pin, pin_expires_at, created_at, updated_at`

var constraintFields = map[string]string{
	"users_email_key":               FieldEmail,
	"users_phone_number_key":        FieldPhoneNumber,
	"users_bank_account_number_key": FieldBankAccountNumber,
}

func slotColumns(slot Slot) (hashCol, expiresCol string) {
	switch slot {
	case SlotPasswordReset:
		return "password_reset_token", "password_reset_expires"
	case SlotPIN:
		return "hashed_pin", "pin_expires_at"
	default:
		return "", ""
	}
}

// FindByEmail fetches a user by exact email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if err != nil {
		return User{}, notFoundOr(err, oops.With("email", email))
	}
	return user, nil
}

// FindByID fetches a user by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		return User{}, notFoundOr(err, oops.With("id", id))
	}
	return user, nil
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) (User, error) {
	user = r.stamp(user)
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return User{}, oops.Code("USER_CREATE_FAILED").With("id", user.ID).Wrap(err)
	}
	resetHash, resetExp := challengeArgs(user.PasswordReset)
	pinHash, pinExp := challengeArgs(user.PIN)

	_, err = r.db.Exec(ctx, `INSERT INTO users (id, email, phone_number, bank_account_number, first_name, last_name,
		password_hash, password_reset_token, password_reset_expires, hashed_pin, pin_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		userID, user.Email, user.PhoneNumber, user.BankAccountNumber, user.FirstName, user.LastName,
		user.PasswordHash, resetHash, resetExp, pinHash, pinExp, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return User{}, writeError("USER_CREATE_FAILED", user, err)
	}
	return user, nil
}

// Save upserts the user by id.
func (r *PostgresRepository) Save(ctx context.Context, user User) (User, error) {
	user = r.stamp(user)
	user.UpdatedAt = r.now().UTC()
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return User{}, oops.Code("USER_SAVE_FAILED").With("id", user.ID).Wrap(err)
	}
	resetHash, resetExp := challengeArgs(user.PasswordReset)
	pinHash, pinExp := challengeArgs(user.PIN)

	_, err = r.db.Exec(ctx, `INSERT INTO users (id, email, phone_number, bank_account_number, first_name, last_name,
		password_hash, password_reset_token, password_reset_expires, hashed_pin, pin_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			phone_number = EXCLUDED.phone_number,
			bank_account_number = EXCLUDED.bank_account_number,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			password_hash = EXCLUDED.password_hash,
			password_reset_token = EXCLUDED.password_reset_token,
			password_reset_expires = EXCLUDED.password_reset_expires,
			hashed_pin = EXCLUDED.hashed_pin,
			pin_expires_at = EXCLUDED.pin_expires_at,
			updated_at = EXCLUDED.updated_at`,
		userID, user.Email, user.PhoneNumber, user.BankAccountNumber, user.FirstName, user.LastName,
		user.PasswordHash, resetHash, resetExp, pinHash, pinExp, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return User{}, writeError("USER_SAVE_FAILED", user, err)
	}
	return user, nil
}

// UpdateFields builds one UPDATE statement so a slot's hash and expiry always
// change together.
func (r *PostgresRepository) UpdateFields(ctx context.Context, email string, update FieldUpdate) error {
	if err := update.validate(); err != nil {
		return err
	}

	args := []any{email, r.now().UTC()}
	sets := []string{"updated_at = $2"}
	where := "email = $1"
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.SetSlot != nil {
		hashCol, expCol := slotColumns(update.SetSlot.Slot)
		sets = append(sets,
			hashCol+" = "+next(update.SetSlot.Challenge.Hash),
			expCol+" = "+next(update.SetSlot.Challenge.ExpiresAt.UTC()))
	}
	if update.ClearSlot != nil {
		hashCol, expCol := slotColumns(update.ClearSlot.Slot)
		sets = append(sets, hashCol+" = NULL", expCol+" = NULL")
		if update.ClearSlot.IfHash != "" {
			where += " AND " + hashCol + " = " + next(update.ClearSlot.IfHash)
		}
	}
	if update.PasswordHash != "" {
		sets = append(sets, "password_hash = "+next(update.PasswordHash))
	}

	tag, err := r.db.Exec(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE "+where, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("email", email).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		if update.ClearSlot != nil && update.ClearSlot.IfHash != "" {
			return oops.Code("USER_CHALLENGE_CHANGED").With("email", email).With("slot", update.ClearSlot.Slot).Wrap(ErrChallengeChanged)
		}
		return oops.Code("USER_NOT_FOUND").With("email", email).Wrap(ErrNotFound)
	}
	return nil
}

// ClearExpired nulls the slot pair on every row whose expiry has passed.
func (r *PostgresRepository) ClearExpired(ctx context.Context, slot Slot, now time.Time) (int64, error) {
	if !slot.Valid() {
		return 0, oops.Code("USER_UPDATE_INVALID").With("slot", slot).Errorf("unknown slot")
	}
	hashCol, expCol := slotColumns(slot)
	tag, err := r.db.Exec(ctx,
		"UPDATE users SET "+hashCol+" = NULL, "+expCol+" = NULL, updated_at = $1 WHERE "+expCol+" <= $1",
		now.UTC())
	if err != nil {
		return 0, oops.Code("USER_SWEEP_FAILED").With("slot", slot).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) stamp(user User) User {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	return user
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user                    User
		resetHash, pinHash      *string
		resetExpires, pinExpiry *time.Time
	)
	if err := row.Scan(&user.ID, &user.Email, &user.PhoneNumber, &user.BankAccountNumber,
		&user.FirstName, &user.LastName, &user.PasswordHash,
		&resetHash, &resetExpires, &pinHash, &pinExpiry,
		&user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	user.PasswordReset = challengeFrom(resetHash, resetExpires)
	user.PIN = challengeFrom(pinHash, pinExpiry)
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func challengeFrom(hash *string, expires *time.Time) *Challenge {
	if hash == nil || expires == nil {
		return nil
	}
	return &Challenge{Hash: *hash, ExpiresAt: expires.UTC()}
}

func challengeArgs(c *Challenge) (*string, *time.Time) {
	if c == nil {
		return nil, nil
	}
	exp := c.ExpiresAt.UTC()
	return &c.Hash, &exp
}

func notFoundOr(err error, builder oops.OopsErrorBuilder) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return builder.Code("USER_NOT_FOUND").Wrap(ErrNotFound)
	}
	return builder.Code("USER_LOOKUP_FAILED").Wrap(err)
}

func writeError(code string, user User, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		field, ok := constraintFields[pgErr.ConstraintName]
		if !ok {
			field = pgErr.ConstraintName
		}
		return oops.Code("USER_DUPLICATE").With("field", field).With("constraint", pgErr.ConstraintName).Wrap(&DuplicateError{Field: field})
	}
	return oops.Code(code).With("id", user.ID).Wrap(err)
}

var _ Repository = (*PostgresRepository)(nil)
