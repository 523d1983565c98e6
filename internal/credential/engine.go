// Package credential implements registration, login and the password-reset and
// PIN challenge flows.
package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/congo-pay/congo_auth/internal/auth"
	"github.com/congo-pay/congo_auth/internal/challenge"
	"github.com/congo-pay/congo_auth/internal/errutil"
	"github.com/congo-pay/congo_auth/internal/identity"
	"github.com/congo-pay/congo_auth/internal/logging"
	"github.com/congo-pay/congo_auth/internal/secret"
)

const (
	// ResetKindPassword is the reset kind sent with password reset links.
	ResetKindPassword = "password"
	// ResetSuccessMessage is returned by a successful ResetPassword.
	ResetSuccessMessage = "Password has been reset successfully"

	accountNumberAttempts = 3
)

// Notifier delivers challenge secrets to the user.
type Notifier interface {
	SendResetLink(ctx context.Context, email, token, kind string) error
	SendPin(ctx context.Context, email, pin string) error
}

// Metrics receives one observation per operation.
type Metrics interface {
	Observe(operation, outcome string, elapsed time.Duration)
}

// Config is the immutable engine configuration.
type Config struct {
	PasswordResetTTL time.Duration
	PinTTL           time.Duration
}

// Deps are the collaborators the engine orchestrates.
type Deps struct {
	Users      identity.Repository
	Passwords  secret.Hasher
	Challenges secret.Hasher
	Tokens     *auth.Minter
	Notifier   Notifier
}

// rehasher is implemented by hashers that can tell a stale work factor.
type rehasher interface {
	NeedsRehash(hashed string) bool
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRandom overrides the crypto/rand source used for secrets.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.random = r }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	Password    string
}

// Session is returned by Login and Refresh.
type Session struct {
	User   identity.User
	Tokens auth.TokenPair
}

// Engine runs the credential operations.
type Engine struct {
	cfg        Config
	users      identity.Repository
	passwords  secret.Hasher
	challenges *challenge.Store
	tokens     *auth.Minter
	notifier   Notifier
	now        func() time.Time
	random     io.Reader
	logger     *slog.Logger
	metrics    Metrics
}

// NewEngine validates cfg and deps and builds an Engine.
func NewEngine(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	if cfg.PasswordResetTTL <= 0 || cfg.PinTTL <= 0 {
		return nil, oops.Code("CREDENTIAL_CONFIG_INVALID").
			With("password_reset_ttl", cfg.PasswordResetTTL.String()).
			With("pin_ttl", cfg.PinTTL.String()).
			Errorf("challenge TTLs must be positive")
	}
	if deps.Users == nil || deps.Passwords == nil || deps.Challenges == nil || deps.Tokens == nil || deps.Notifier == nil {
		return nil, oops.Code("CREDENTIAL_CONFIG_INVALID").Errorf("missing engine dependency")
	}

	e := &Engine{
		cfg:       cfg,
		users:     deps.Users,
		passwords: deps.Passwords,
		tokens:    deps.Tokens,
		notifier:  deps.Notifier,
		now:       time.Now,
		random:    rand.Reader,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.challenges = challenge.NewStore(deps.Users, deps.Challenges, challenge.WithClock(e.now))
	return e, nil
}

// Register creates a user with a fresh bank account number.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (user identity.User, err error) {
	defer e.observe("register", time.Now(), &err)

	if in.FirstName == "" || in.LastName == "" || in.Email == "" || in.PhoneNumber == "" || in.Password == "" {
		return identity.User{}, oops.Code("CREDENTIAL_VALIDATION").Wrap(ErrValidation)
	}

	if _, err := e.users.FindByEmail(ctx, in.Email); err == nil {
		return identity.User{}, alreadyExists(identity.FieldEmail)
	} else if !errors.Is(err, identity.ErrNotFound) {
		return identity.User{}, oops.Code("CREDENTIAL_LOOKUP_FAILED").With("email", in.Email).Wrap(err)
	}

	hash, err := e.hashPassword(in.Password)
	if err != nil {
		return identity.User{}, err
	}

	candidate := identity.User{
		Email:        in.Email,
		PhoneNumber:  in.PhoneNumber,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: hash,
	}
	for attempt := 1; attempt <= accountNumberAttempts; attempt++ {
		candidate.BankAccountNumber, err = accountNumber(e.random)
		if err != nil {
			return identity.User{}, oops.Code("CREDENTIAL_RANDOM_FAILED").Wrap(err)
		}

		created, err := e.users.Create(ctx, candidate)
		if err == nil {
			e.logger.Info("user registered", "user_id", created.ID)
			return created, nil
		}

		var dup *identity.DuplicateError
		if !errors.As(err, &dup) {
			return identity.User{}, oops.Code("CREDENTIAL_CREATE_FAILED").With("email", in.Email).Wrap(err)
		}
		if dup.Field != identity.FieldBankAccountNumber {
			return identity.User{}, alreadyExists(dup.Field)
		}
		e.logger.Warn("bank account number collision", "attempt", attempt)
	}
	return identity.User{}, oops.Code("CREDENTIAL_ACCOUNT_NUMBER_EXHAUSTED").
		With("attempts", accountNumberAttempts).
		Errorf("could not allocate a unique bank account number")
}

// Login verifies the password and mints a token pair.
func (e *Engine) Login(ctx context.Context, email, password string) (session Session, err error) {
	defer e.observe("login", time.Now(), &err)

	user, err := e.findByEmail(ctx, email, ErrNotFound)
	if err != nil {
		return Session{}, err
	}
	if !e.passwords.Verify(password, user.PasswordHash) {
		return Session{}, oops.Code("CREDENTIAL_INVALID").With("user_id", user.ID).Wrap(ErrInvalidCredential)
	}
	e.rehash(ctx, user, password)
	return e.issue(user)
}

// rehash upgrades a password hash produced at a different cost. Failures are
// logged and never block the login.
func (e *Engine) rehash(ctx context.Context, user identity.User, password string) {
	r, ok := e.passwords.(rehasher)
	if !ok || !r.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := e.passwords.Hash(password)
	if err == nil {
		err = e.users.UpdateFields(ctx, user.Email, identity.FieldUpdate{PasswordHash: hash})
	}
	if err != nil {
		e.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	e.logger.Info("password rehashed", "user_id", user.ID)
}

// hashPassword maps secrets bcrypt cannot hash to a validation failure.
func (e *Engine) hashPassword(password string) (string, error) {
	hash, err := e.passwords.Hash(password)
	switch {
	case errors.Is(err, secret.ErrSecretTooLong), errors.Is(err, secret.ErrEmptySecret):
		return "", oops.Code("CREDENTIAL_VALIDATION").With("field", "password").Wrap(ErrValidation)
	case err != nil:
		return "", oops.Code("CREDENTIAL_HASH_FAILED").Wrap(err)
	}
	return hash, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (session Session, err error) {
	defer e.observe("refresh", time.Now(), &err)

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return Session{}, oops.Code("CREDENTIAL_REFRESH_INVALID").Wrap(ErrInvalidRefreshToken)
	}
	user, err := e.users.FindByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return Session{}, oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", claims.UserID).Wrap(ErrNotFound)
	case err != nil:
		return Session{}, oops.Code("CREDENTIAL_LOOKUP_FAILED").With("user_id", claims.UserID).Wrap(err)
	}
	return e.issue(user)
}

// Profile loads the user behind an access token.
func (e *Engine) Profile(ctx context.Context, userID string) (identity.User, error) {
	user, err := e.users.FindByID(ctx, userID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return identity.User{}, oops.Code("CREDENTIAL_NOT_FOUND").With("user_id", userID).Wrap(ErrNotFound)
	case err != nil:
		return identity.User{}, oops.Code("CREDENTIAL_LOOKUP_FAILED").With("user_id", userID).Wrap(err)
	}
	return user, nil
}

// ForgotPassword issues a reset token and sends it to the user.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (err error) {
	defer e.observe("forgot_password", time.Now(), &err)

	user, err := e.findByEmail(ctx, email, ErrNotFound)
	if err != nil {
		return err
	}
	token, err := resetToken(e.random)
	if err != nil {
		return oops.Code("CREDENTIAL_RANDOM_FAILED").Wrap(err)
	}
	if _, err := e.challenges.Issue(ctx, user, identity.SlotPasswordReset, token, e.cfg.PasswordResetTTL); err != nil {
		return oops.Code("CREDENTIAL_ISSUE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	if err := e.notifier.SendResetLink(ctx, user.Email, token, ResetKindPassword); err != nil {
		errutil.LogError(e.logger, "password reset notification failed", err, "user_id", user.ID)
		return oops.Code("CREDENTIAL_SEND_FAILED").With("user_id", user.ID).With("slot", identity.SlotPasswordReset).Wrap(ErrSendFailed)
	}
	return nil
}

// ResetPassword consumes the reset token and replaces the password hash in
// the same write.
func (e *Engine) ResetPassword(ctx context.Context, email, newPassword, token string) (msg string, err error) {
	defer e.observe("reset_password", time.Now(), &err)

	if newPassword == "" || token == "" {
		return "", oops.Code("CREDENTIAL_VALIDATION").Wrap(ErrValidation)
	}
	user, err := e.findByEmail(ctx, email, ErrInvalidOrExpiredToken)
	if err != nil {
		return "", err
	}
	// Skip the password hash when the slot cannot possibly be consumed.
	if !user.PasswordReset.Live(e.now()) {
		return "", invalidToken(user, identity.SlotPasswordReset)
	}

	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return "", err
	}
	err = e.challenges.ConsumeWith(ctx, user, identity.SlotPasswordReset, token, identity.FieldUpdate{PasswordHash: hash})
	switch {
	case errors.Is(err, challenge.ErrInvalidOrExpired):
		return "", invalidToken(user, identity.SlotPasswordReset)
	case err != nil:
		return "", oops.Code("CREDENTIAL_CONSUME_FAILED").With("user_id", user.ID).Wrap(err)
	}
	e.logger.Info("password reset", "user_id", user.ID)
	return ResetSuccessMessage, nil
}

// RequestPin issues a six digit PIN and sends it to the user.
func (e *Engine) RequestPin(ctx context.Context, email string) (err error) {
	defer e.observe("request_pin", time.Now(), &err)

	user, err := e.findByEmail(ctx, email, ErrNotFound)
	if err != nil {
		return err
	}
	code, err := pin(e.random)
	if err != nil {
		return oops.Code("CREDENTIAL_RANDOM_FAILED").Wrap(err)
	}
	if _, err := e.challenges.Issue(ctx, user, identity.SlotPIN, code, e.cfg.PinTTL); err != nil {
		return oops.Code("CREDENTIAL_ISSUE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	if err := e.notifier.SendPin(ctx, user.Email, code); err != nil {
		errutil.LogError(e.logger, "pin notification failed", err, "user_id", user.ID)
		return oops.Code("CREDENTIAL_SEND_FAILED").With("user_id", user.ID).With("slot", identity.SlotPIN).Wrap(ErrSendFailed)
	}
	return nil
}

// VerifyPin consumes the PIN challenge.
func (e *Engine) VerifyPin(ctx context.Context, email, code string) (err error) {
	defer e.observe("verify_pin", time.Now(), &err)

	user, err := e.findByEmail(ctx, email, ErrInvalidOrExpiredPin)
	if err != nil {
		return err
	}
	err = e.challenges.Consume(ctx, user, identity.SlotPIN, strings.TrimSpace(code))
	switch {
	case errors.Is(err, challenge.ErrInvalidOrExpired):
		return invalidPin(user)
	case err != nil:
		return oops.Code("CREDENTIAL_CONSUME_FAILED").With("user_id", user.ID).Wrap(err)
	}
	return nil
}

func (e *Engine) issue(user identity.User) (Session, error) {
	pair, err := e.tokens.Issue(auth.Subject{UserID: user.ID, Email: user.Email})
	if err != nil {
		return Session{}, oops.Code("CREDENTIAL_TOKEN_FAILED").With("user_id", user.ID).Wrap(err)
	}
	return Session{User: user, Tokens: pair}, nil
}

// findByEmail maps a missing user to missing, which lets the challenge
// consumers hide whether the email exists.
func (e *Engine) findByEmail(ctx context.Context, email string, missing error) (identity.User, error) {
	if email == "" {
		return identity.User{}, oops.Code("CREDENTIAL_VALIDATION").Wrap(ErrValidation)
	}
	user, err := e.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		code := "CREDENTIAL_NOT_FOUND"
		if missing != ErrNotFound {
			code = "CREDENTIAL_REJECTED"
		}
		return identity.User{}, oops.Code(code).With("email", email).Wrap(missing)
	case err != nil:
		return identity.User{}, oops.Code("CREDENTIAL_LOOKUP_FAILED").With("email", email).Wrap(err)
	}
	return user, nil
}

func (e *Engine) observe(operation string, start time.Time, err *error) {
	result := outcome(*err)
	if e.metrics != nil {
		e.metrics.Observe(operation, result, time.Since(start))
	}
	if result == "error" {
		errutil.LogError(e.logger, "credential operation failed", *err, "operation", operation)
	}
}

func alreadyExists(field string) error {
	return oops.Code("CREDENTIAL_ALREADY_EXISTS").With("field", field).Wrap(ErrAlreadyExists)
}

func invalidToken(user identity.User, slot identity.Slot) error {
	return oops.Code("CREDENTIAL_REJECTED").With("user_id", user.ID).With("slot", slot).Wrap(ErrInvalidOrExpiredToken)
}

func invalidPin(user identity.User) error {
	return oops.Code("CREDENTIAL_REJECTED").With("user_id", user.ID).With("slot", identity.SlotPIN).Wrap(ErrInvalidOrExpiredPin)
}
