package credential

import "errors"

var (
	// ErrValidation is returned when a required input is missing.
	ErrValidation = errors.New("invalid input")
	// ErrAlreadyExists is returned when registration collides with an existing user.
	ErrAlreadyExists = errors.New("user already exists")
	// ErrNotFound is returned when no user matches the email.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredential is returned on a password mismatch.
	ErrInvalidCredential = errors.New("invalid password")
	// ErrInvalidOrExpiredToken is returned when a reset token cannot be consumed.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	// ErrInvalidOrExpiredPin is returned when a PIN cannot be consumed.
	ErrInvalidOrExpiredPin = errors.New("invalid or expired pin")
	// ErrSendFailed is returned when the notifier could not deliver.
	ErrSendFailed = errors.New("failed to send notification")
	// ErrInvalidRefreshToken is returned when a refresh token fails verification.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// outcome labels an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrInvalidOrExpiredToken), errors.Is(err, ErrInvalidOrExpiredPin):
		return "invalid_or_expired"
	case errors.Is(err, ErrSendFailed):
		return "send_failed"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid_refresh_token"
	default:
		return "error"
	}
}
