package credential

import (
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_auth/internal/auth"
	"github.com/congo-pay/congo_auth/internal/identity"
	"github.com/congo-pay/congo_auth/internal/secret"
)

const (
	minPasswordLen = 8
	maxPasswordLen = secret.MaxLen
)

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a credential HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type registerRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
	// Older clients send the plaintext under this name.
	LegacyPassword string `json:"passwordHash"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
	Token       string `json:"passwordResetToken"`
}

type verifyPinRequest struct {
	Email string `json:"email"`
	Pin   string `json:"pin"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID                string    `json:"id"`
	FirstName         string    `json:"firstName"`
	LastName          string    `json:"lastName"`
	Email             string    `json:"email"`
	PhoneNumber       string    `json:"phoneNumber"`
	BankAccountNumber string    `json:"bankAccountNumber"`
	CreatedAt         time.Time `json:"createdAt"`
}

type sessionResponse struct {
	User userResponse `json:"user"`
	auth.TokenPair
}

type messageResponse struct {
	Message string `json:"message"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:                u.ID,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		Email:             u.Email,
		PhoneNumber:       u.PhoneNumber,
		BankAccountNumber: u.BankAccountNumber,
		CreatedAt:         u.CreatedAt,
	}
}

// Register handles user sign-up.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Password == "" {
		req.Password = req.LegacyPassword
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)

	switch {
	case req.FirstName == "" || req.LastName == "":
		return fiber.NewError(fiber.StatusBadRequest, "firstName and lastName are required")
	case !validEmail(req.Email):
		return fiber.NewError(fiber.StatusBadRequest, "a valid email is required")
	case !validPhone(req.PhoneNumber):
		return fiber.NewError(fiber.StatusBadRequest, "phoneNumber must be numeric")
	case !strongPassword(req.Password):
		return fiber.NewError(fiber.StatusBadRequest, "password must be 8 to 72 bytes with upper, lower, digit and symbol")
	}

	user, err := h.engine.Register(c.UserContext(), RegisterInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Password:    req.Password,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toUserResponse(user))
}

// Login exchanges email and password for a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if !validEmail(req.Email) || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and password are required")
	}
	session, err := h.engine.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(sessionResponse{User: toUserResponse(session.User), TokenPair: session.Tokens})
}

// Refresh exchanges a refresh token for a new pair.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.RefreshToken == "" {
		return fiber.NewError(fiber.StatusBadRequest, "refreshToken is required")
	}
	session, err := h.engine.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(sessionResponse{User: toUserResponse(session.User), TokenPair: session.Tokens})
}

// ForgotPassword emails a reset link.
func (h *Handler) ForgotPassword(c *fiber.Ctx) error {
	email, err := parseEmail(c)
	if err != nil {
		return err
	}
	if err := h.engine.ForgotPassword(c.UserContext(), email); err != nil {
		return httpError(err)
	}
	return c.JSON(messageResponse{Message: "Password reset link sent to your email"})
}

// ResetPassword consumes a reset token.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	switch {
	case !validEmail(req.Email) || req.Token == "":
		return fiber.NewError(fiber.StatusBadRequest, "email and passwordResetToken are required")
	case !strongPassword(req.NewPassword):
		return fiber.NewError(fiber.StatusBadRequest, "password must be 8 to 72 bytes with upper, lower, digit and symbol")
	}
	msg, err := h.engine.ResetPassword(c.UserContext(), req.Email, req.NewPassword, req.Token)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(messageResponse{Message: msg})
}

// RequestPin emails a one-time PIN.
func (h *Handler) RequestPin(c *fiber.Ctx) error {
	email, err := parseEmail(c)
	if err != nil {
		return err
	}
	if err := h.engine.RequestPin(c.UserContext(), email); err != nil {
		return httpError(err)
	}
	return c.JSON(messageResponse{Message: "PIN sent to your email"})
}

// VerifyPin consumes a PIN.
func (h *Handler) VerifyPin(c *fiber.Ctx) error {
	var req verifyPinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if !validEmail(req.Email) || req.Pin == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and pin are required")
	}
	if err := h.engine.VerifyPin(c.UserContext(), req.Email, req.Pin); err != nil {
		return httpError(err)
	}
	return c.JSON(messageResponse{Message: "PIN verified successfully"})
}

// Me returns the authenticated user. userID resolves the caller from the
// request, normally from bearer middleware locals.
func (h *Handler) Me(userID func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := userID(c)
		if id == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing user")
		}
		user, err := h.engine.Profile(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fiber.NewError(fiber.StatusUnauthorized, "user not found")
			}
			return httpError(err)
		}
		return c.JSON(toUserResponse(user))
	}
}

func parseEmail(c *fiber.Ctx) (string, error) {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if !validEmail(req.Email) {
		return "", fiber.NewError(fiber.StatusBadRequest, "a valid email is required")
	}
	return req.Email, nil
}

// httpError maps engine failures onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, ErrValidation.Error())
	case errors.Is(err, ErrAlreadyExists):
		return fiber.NewError(fiber.StatusConflict, ErrAlreadyExists.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrInvalidCredential):
		return fiber.NewError(fiber.StatusUnauthorized, ErrInvalidCredential.Error())
	case errors.Is(err, ErrInvalidRefreshToken):
		return fiber.NewError(fiber.StatusUnauthorized, ErrInvalidRefreshToken.Error())
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return fiber.NewError(fiber.StatusBadRequest, ErrInvalidOrExpiredToken.Error())
	case errors.Is(err, ErrInvalidOrExpiredPin):
		return fiber.NewError(fiber.StatusBadRequest, ErrInvalidOrExpiredPin.Error())
	case errors.Is(err, ErrSendFailed):
		return fiber.NewError(fiber.StatusBadGateway, ErrSendFailed.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "internal server error")
	}
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func validPhone(s string) bool {
	if len(s) < 4 || len(s) > 20 {
		return false
	}
	for i, r := range s {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func strongPassword(s string) bool {
	if len(s) < minPasswordLen || len(s) > maxPasswordLen {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}
