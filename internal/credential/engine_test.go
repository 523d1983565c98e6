package credential

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/congo_auth/internal/auth"
	"github.com/congo-pay/congo_auth/internal/errutil/oopstest"
	"github.com/congo-pay/congo_auth/internal/identity"
	"github.com/congo-pay/congo_auth/internal/secret"
)

var hexToken = regexp.MustCompile(`^[0-9a-f]{64}$`)

type sentMessage struct {
	email, secret, kind string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentMessage
	fails error
}

func (n *fakeNotifier) SendResetLink(_ context.Context, email, token, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails != nil {
		return n.fails
	}
	n.sent = append(n.sent, sentMessage{email: email, secret: token, kind: kind})
	return nil
}

func (n *fakeNotifier) SendPin(_ context.Context, email, pin string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails != nil {
		return n.fails
	}
	n.sent = append(n.sent, sentMessage{email: email, secret: pin, kind: "pin"})
	return nil
}

func (n *fakeNotifier) last(t *testing.T) sentMessage {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "nothing was sent")
	return n.sent[len(n.sent)-1]
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingMetrics) Observe(operation, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[operation+":"+outcome]++
}

type harness struct {
	engine   *Engine
	repo     *identity.MemoryRepository
	minter   *auth.Minter
	notifier *fakeNotifier
	metrics  *countingMetrics
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithRepo(t, identity.NewMemoryRepository())
}

func newHarnessWithRepo(t *testing.T, repo identity.Repository) *harness {
	t.Helper()
	h := &harness{
		notifier: &fakeNotifier{},
		metrics:  &countingMetrics{outcomes: map[string]int{}},
		now:      time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	if mem, ok := repo.(*identity.MemoryRepository); ok {
		h.repo = mem
	}
	clock := func() time.Time { return h.now }

	hasher, err := secret.NewBcryptHasher(secret.MinCost)
	require.NoError(t, err)
	h.minter, err = auth.NewMinter(auth.Config{
		AccessSecret:  "access-secret",
		AccessTTL:     15 * time.Minute,
		RefreshSecret: "refresh-secret",
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "congo-auth-test",
		Now:           clock,
	})
	require.NoError(t, err)

	h.engine, err = NewEngine(
		Config{PasswordResetTTL: time.Hour, PinTTL: 5 * time.Minute},
		Deps{Users: repo, Passwords: hasher, Challenges: hasher, Tokens: h.minter, Notifier: h.notifier},
		WithClock(clock),
		WithMetrics(h.metrics),
	)
	require.NoError(t, err)
	return h
}

func registerInput() RegisterInput {
	return RegisterInput{FirstName: "A", LastName: "B", Email: "a@x.com", PhoneNumber: "5550001", Password: "Str0ng!Pass"}
}

func (h *harness) register(t *testing.T) identity.User {
	t.Helper()
	user, err := h.engine.Register(context.Background(), registerInput())
	require.NoError(t, err)
	return user
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	_, err := NewEngine(Config{PasswordResetTTL: time.Hour}, Deps{})
	require.Error(t, err)
	oopstest.RequireCode(t, err, "CREDENTIAL_CONFIG_INVALID")

	_, err = NewEngine(Config{PasswordResetTTL: time.Hour, PinTTL: time.Minute}, Deps{})
	require.Error(t, err)
}

func TestRegisterHashesPasswordAndAssignsAccount(t *testing.T) {
	h := newHarness(t)
	user := h.register(t)

	assert.NotEmpty(t, user.ID)
	assert.Regexp(t, `^[0-9]{10}$`, user.BankAccountNumber)
	assert.NotEqual(t, "Str0ng!Pass", user.PasswordHash)
	assert.NotEmpty(t, user.PasswordHash)
	assert.Nil(t, user.PasswordReset)
	assert.Nil(t, user.PIN)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	_, err := h.engine.Register(context.Background(), registerInput())
	require.ErrorIs(t, err, ErrAlreadyExists)
	oopstest.RequireContext(t, err, "field", identity.FieldEmail)

	samePhone := registerInput()
	samePhone.Email = "b@x.com"
	_, err = h.engine.Register(context.Background(), samePhone)
	require.ErrorIs(t, err, ErrAlreadyExists)
	oopstest.RequireContext(t, err, "field", identity.FieldPhoneNumber)
}

func TestRegisterRequiresFields(t *testing.T) {
	h := newHarness(t)
	in := registerInput()
	in.Password = ""
	_, err := h.engine.Register(context.Background(), in)
	require.ErrorIs(t, err, ErrValidation)
}

func TestPasswordsOverBcryptLimitAreValidationErrors(t *testing.T) {
	h := newHarness(t)
	long := "Str0ng!" + strings.Repeat("a", secret.MaxLen)

	in := registerInput()
	in.Password = long
	_, err := h.engine.Register(context.Background(), in)
	require.ErrorIs(t, err, ErrValidation)
	oopstest.RequireCode(t, err, "CREDENTIAL_VALIDATION")
	assert.Equal(t, 1, h.metrics.outcomes["register:validation"])

	h.register(t)
	require.NoError(t, h.engine.ForgotPassword(context.Background(), "a@x.com"))
	token := h.notifier.last(t).secret

	_, err = h.engine.ResetPassword(context.Background(), "a@x.com", long, token)
	require.ErrorIs(t, err, ErrValidation)

	// The token survives a rejected password.
	_, err = h.engine.ResetPassword(context.Background(), "a@x.com", "N3w!Password", token)
	require.NoError(t, err)
}

type collidingRepo struct {
	*identity.MemoryRepository
	collisions int
	calls      int
}

func (r *collidingRepo) Create(ctx context.Context, user identity.User) (identity.User, error) {
	r.calls++
	if r.calls <= r.collisions {
		return identity.User{}, &identity.DuplicateError{Field: identity.FieldBankAccountNumber}
	}
	return r.MemoryRepository.Create(ctx, user)
}

func TestRegisterRetriesAccountNumberCollision(t *testing.T) {
	repo := &collidingRepo{MemoryRepository: identity.NewMemoryRepository(), collisions: 2}
	h := newHarnessWithRepo(t, repo)

	user, err := h.engine.Register(context.Background(), registerInput())
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)
	assert.Len(t, user.BankAccountNumber, 10)
}

func TestRegisterFailsLoudlyAfterRepeatedCollisions(t *testing.T) {
	repo := &collidingRepo{MemoryRepository: identity.NewMemoryRepository(), collisions: accountNumberAttempts}
	h := newHarnessWithRepo(t, repo)

	_, err := h.engine.Register(context.Background(), registerInput())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyExists))
	oopstest.RequireCode(t, err, "CREDENTIAL_ACCOUNT_NUMBER_EXHAUSTED")
	assert.Equal(t, 1, h.metrics.outcomes["register:error"])
}

func TestLoginIssuesDistinctTokens(t *testing.T) {
	h := newHarness(t)
	user := h.register(t)

	session, err := h.engine.Login(context.Background(), "a@x.com", "Str0ng!Pass")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Tokens.AccessToken)
	assert.NotEmpty(t, session.Tokens.RefreshToken)
	assert.NotEqual(t, session.Tokens.AccessToken, session.Tokens.RefreshToken)

	access, err := h.minter.ParseAccess(session.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, access.UserID)
	assert.Equal(t, "a@x.com", access.Email)

	refresh, err := h.minter.ParseRefresh(session.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, refresh.UserID)
	assert.Equal(t, "a@x.com", refresh.Email)
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	_, err := h.engine.Login(context.Background(), "a@x.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredential)

	_, err = h.engine.Login(context.Background(), "nobody@x.com", "Str0ng!Pass")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, h.metrics.outcomes["login:invalid_credential"])
	assert.Equal(t, 1, h.metrics.outcomes["login:not_found"])
}

func TestLoginRehashesStaleCost(t *testing.T) {
	h := newHarness(t)
	stronger, err := secret.NewBcryptHasher(secret.MinCost + 1)
	require.NoError(t, err)
	stale, err := stronger.Hash("Str0ng!Pass")
	require.NoError(t, err)

	in := registerInput()
	_, err = h.repo.Create(context.Background(), identity.User{
		Email: in.Email, PhoneNumber: in.PhoneNumber, BankAccountNumber: "0123456789",
		FirstName: in.FirstName, LastName: in.LastName, PasswordHash: stale,
	})
	require.NoError(t, err)

	_, err = h.engine.Login(context.Background(), in.Email, in.Password)
	require.NoError(t, err)

	stored, err := h.repo.FindByEmail(context.Background(), in.Email)
	require.NoError(t, err)
	assert.NotEqual(t, stale, stored.PasswordHash)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$2a$10$"))

	_, err = h.engine.Login(context.Background(), in.Email, in.Password)
	require.NoError(t, err)
	again, err := h.repo.FindByEmail(context.Background(), in.Email)
	require.NoError(t, err)
	assert.Equal(t, stored.PasswordHash, again.PasswordHash)
}

func TestRefresh(t *testing.T) {
	h := newHarness(t)
	user := h.register(t)
	session, err := h.engine.Login(context.Background(), "a@x.com", "Str0ng!Pass")
	require.NoError(t, err)

	refreshed, err := h.engine.Refresh(context.Background(), session.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, refreshed.User.ID)
	assert.NotEqual(t, session.Tokens.RefreshToken, refreshed.Tokens.RefreshToken)

	_, err = h.engine.Refresh(context.Background(), session.Tokens.AccessToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	h.now = h.now.Add(8 * 24 * time.Hour)
	_, err = h.engine.Refresh(context.Background(), session.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestForgotThenResetPasswordIsSingleUse(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	ctx := context.Background()

	require.NoError(t, h.engine.ForgotPassword(ctx, "a@x.com"))
	sent := h.notifier.last(t)
	assert.Equal(t, ResetKindPassword, sent.kind)
	assert.Regexp(t, hexToken, sent.secret)

	stored, err := h.repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored.PasswordReset)
	assert.NotEqual(t, sent.secret, stored.PasswordReset.Hash)
	assert.True(t, h.now.Add(time.Hour).Equal(stored.PasswordReset.ExpiresAt))

	msg, err := h.engine.ResetPassword(ctx, "a@x.com", "N3w!Password", sent.secret)
	require.NoError(t, err)
	assert.Equal(t, ResetSuccessMessage, msg)

	_, err = h.engine.ResetPassword(ctx, "a@x.com", "An0ther!Pass", sent.secret)
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	_, err = h.engine.Login(ctx, "a@x.com", "N3w!Password")
	require.NoError(t, err)
}

func TestResetPasswordAfterWindowFails(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	ctx := context.Background()

	require.NoError(t, h.engine.ForgotPassword(ctx, "a@x.com"))
	token := h.notifier.last(t).secret

	h.now = h.now.Add(time.Hour + time.Second)
	_, err := h.engine.ResetPassword(ctx, "a@x.com", "N3w!Password", token)
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	_, err = h.engine.Login(ctx, "a@x.com", "Str0ng!Pass")
	require.NoError(t, err, "password is unchanged")
}

func TestResetPasswordRejections(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	ctx := context.Background()

	_, err := h.engine.ResetPassword(ctx, "a@x.com", "N3w!Password", "deadbeef")
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken, "never issued")

	require.NoError(t, h.engine.ForgotPassword(ctx, "a@x.com"))
	_, err = h.engine.ResetPassword(ctx, "a@x.com", "N3w!Password", "deadbeef")
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken, "wrong token")

	_, err = h.engine.ResetPassword(ctx, "nobody@x.com", "N3w!Password", h.notifier.last(t).secret)
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken, "unknown email")
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestForgotPasswordFailures(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	ctx := context.Background()

	err := h.engine.ForgotPassword(ctx, "nobody@x.com")
	require.ErrorIs(t, err, ErrNotFound)

	h.notifier.fails = errors.New("smtp unavailable")
	err = h.engine.ForgotPassword(ctx, "a@x.com")
	require.ErrorIs(t, err, ErrSendFailed)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, h.metrics.outcomes["forgot_password:send_failed"])
}

func TestRequestThenVerifyPinOnce(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	ctx := context.Background()

	require.NoError(t, h.engine.RequestPin(ctx, "a@x.com"))
	code := h.notifier.last(t).secret
	assert.Regexp(t, `^[1-9][0-9]{5}$`, code)

	require.NoError(t, h.engine.VerifyPin(ctx, "a@x.com", code))
	require.ErrorIs(t, h.engine.VerifyPin(ctx, "a@x.com", code), ErrInvalidOrExpiredPin)
}

func TestReissuedPinInvalidatesPrevious(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	ctx := context.Background()

	require.NoError(t, h.engine.RequestPin(ctx, "a@x.com"))
	first := h.notifier.last(t).secret
	require.NoError(t, h.engine.RequestPin(ctx, "a@x.com"))
	second := h.notifier.last(t).secret
	if first == second {
		t.Skip("random PINs collided")
	}

	require.ErrorIs(t, h.engine.VerifyPin(ctx, "a@x.com", first), ErrInvalidOrExpiredPin)
	require.NoError(t, h.engine.VerifyPin(ctx, "a@x.com", second))
}

func TestPinExpiresAfterWindow(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	ctx := context.Background()

	require.NoError(t, h.engine.RequestPin(ctx, "a@x.com"))
	code := h.notifier.last(t).secret

	h.now = h.now.Add(5 * time.Minute)
	require.ErrorIs(t, h.engine.VerifyPin(ctx, "a@x.com", code), ErrInvalidOrExpiredPin)
}

func TestVerifyPinUnknownEmail(t *testing.T) {
	h := newHarness(t)
	err := h.engine.VerifyPin(context.Background(), "nobody@x.com", "123456")
	require.ErrorIs(t, err, ErrInvalidOrExpiredPin)
	assert.False(t, errors.Is(err, ErrNotFound))

	err = h.engine.RequestPin(context.Background(), "nobody@x.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPinAndResetSlotsCoexist(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	ctx := context.Background()

	require.NoError(t, h.engine.ForgotPassword(ctx, "a@x.com"))
	token := h.notifier.last(t).secret
	require.NoError(t, h.engine.RequestPin(ctx, "a@x.com"))
	code := h.notifier.last(t).secret

	require.NoError(t, h.engine.VerifyPin(ctx, "a@x.com", code))
	_, err := h.engine.ResetPassword(ctx, "a@x.com", "N3w!Password", token)
	require.NoError(t, err)
}

func TestConcreteScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.engine.Register(ctx, RegisterInput{
		FirstName: "A", LastName: "B", Email: "a@x.com", Password: "Str0ng!Pass", PhoneNumber: "5550001",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9]{10}$`, user.BankAccountNumber)

	session, err := h.engine.Login(ctx, "a@x.com", "Str0ng!Pass")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Tokens.AccessToken)
	assert.NotEmpty(t, session.Tokens.RefreshToken)

	require.NoError(t, h.engine.ForgotPassword(ctx, "a@x.com"))
	token := h.notifier.last(t).secret
	assert.Regexp(t, hexToken, token)

	msg, err := h.engine.ResetPassword(ctx, "a@x.com", "N3w!Password", token)
	require.NoError(t, err)
	assert.Equal(t, "Password has been reset successfully", msg)

	_, err = h.engine.Login(ctx, "a@x.com", "Str0ng!Pass")
	require.ErrorIs(t, err, ErrInvalidCredential)
}
