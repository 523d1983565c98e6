// Package auth mints and verifies the signed session tokens handed out after a
// successful login.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Token types carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrInvalidToken is returned for any token that fails signature, type or
// expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// Config holds signing material and lifetimes. Access and refresh tokens use
// independent secrets.
type Config struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
	Issuer        string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Subject identifies the user a token pair is minted for.
type Subject struct {
	UserID string
	Email  string
}

// Claims is the JWT body of both token types.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// Minter signs and verifies HS256 tokens.
type Minter struct {
	cfg Config
}

// NewMinter validates cfg. A Minter that could sign with an empty or shared
// secret is never constructed.
func NewMinter(cfg Config) (*Minter, error) {
	switch {
	case cfg.AccessSecret == "":
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("access token secret is required")
	case cfg.RefreshSecret == "":
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("refresh token secret is required")
	case cfg.AccessSecret == cfg.RefreshSecret:
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("access and refresh secrets must differ")
	case cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0:
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("access_ttl", cfg.AccessTTL.String()).
			With("refresh_ttl", cfg.RefreshTTL.String()).
			Errorf("token TTLs must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Minter{cfg: cfg}, nil
}

// Issue mints an access and a refresh token for sub.
func (m *Minter) Issue(sub Subject) (TokenPair, error) {
	access, err := m.sign(sub, TypeAccess, m.cfg.AccessSecret, m.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(sub, TypeRefresh, m.cfg.RefreshSecret, m.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(m.cfg.AccessTTL.Seconds()),
		RefreshExpiresIn: int64(m.cfg.RefreshTTL.Seconds()),
	}, nil
}

// ParseAccess verifies an access token and returns its claims.
func (m *Minter) ParseAccess(token string) (*Claims, error) {
	return m.parse(token, TypeAccess, m.cfg.AccessSecret)
}

// ParseRefresh verifies a refresh token and returns its claims.
func (m *Minter) ParseRefresh(token string) (*Claims, error) {
	return m.parse(token, TypeRefresh, m.cfg.RefreshSecret)
}

func (m *Minter) sign(sub Subject, typ, secret string, ttl time.Duration) (string, error) {
	now := m.cfg.Now()
	claims := Claims{
		UserID: sub.UserID,
		Email:  sub.Email,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.UserID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("type", typ).Wrap(err)
	}
	return signed, nil
}

func (m *Minter) parse(token, typ, secret string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.cfg.Now),
	}
	if m.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.cfg.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID").With("type", typ).Wrap(errors.Join(ErrInvalidToken, err))
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Type != typ || claims.UserID == "" {
		return nil, oops.Code("TOKEN_INVALID").With("type", typ).Wrap(ErrInvalidToken)
	}
	return claims, nil
}
