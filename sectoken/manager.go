package sectoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose scopes a token to exactly one exchange.
type Purpose string

const (
	// PurposeStepUp attests a fresh re-authentication for sensitive mutations.
	PurposeStepUp Purpose = "step_up"
	// PurposePasskeyLogin carries a completed WebAuthn login ceremony to the
	// session-creation call.
	PurposePasskeyLogin Purpose = "passkey_login"
	// PurposePasskeyStepUp carries a completed WebAuthn step-up ceremony; the
	// step-up endpoint exchanges this token instead of re-verifying a raw
	// assertion it never challenged.
	PurposePasskeyStepUp Purpose = "passkey_step_up"
)

var (
	// ErrTokenInvalid is an exported constant or variable used by the authentication core.
	ErrTokenInvalid = errors.New("invalid session update token")
	// ErrPurposeMismatch is an exported constant or variable used by the authentication core.
	ErrPurposeMismatch = errors.New("token purpose mismatch")
)

// Config defines a public type used by authcore APIs.
//
// Config instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Config struct {
	SigningSecret []byte
	TTL           time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims defines a public type used by authcore APIs.
type Claims struct {
	UID        string  `json:"uid"`
	SID        string  `json:"sid,omitempty"`
	Purpose    Purpose `json:"pur"`
	VerifiedAt int64   `json:"vat"`
	jwt.RegisteredClaims
}

// Token is the verified content of a session update token.
type Token struct {
	ID         string
	UserID     string
	SessionID  string
	Purpose    Purpose
	VerifiedAt time.Time
}

// Manager signs and parses purpose-bound session update tokens (HS256).
type Manager struct {
	config Config
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when input validation, dependency calls, or security checks fail.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SigningSecret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "authcore"
	}
	return &Manager{config: cfg}, nil
}

// Issue signs a token binding (user, session, purpose) to the verification
// timestamp. The returned token ID feeds the one-time consumption mark.
func (m *Manager) Issue(userID, sessionID string, purpose Purpose, verifiedAt time.Time) (string, Token, error) {
	if m == nil {
		return "", Token{}, ErrTokenInvalid
	}
	if userID == "" || purpose == "" {
		return "", Token{}, ErrTokenInvalid
	}

	jti := uuid.NewString()
	now := time.Now()
	claims := Claims{
		UID:        userID,
		SID:        sessionID,
		Purpose:    purpose,
		VerifiedAt: verifiedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    m.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.SigningSecret)
	if err != nil {
		return "", Token{}, fmt.Errorf("sign session update token: %w", err)
	}

	return signed, Token{
		ID:         jti,
		UserID:     userID,
		SessionID:  sessionID,
		Purpose:    purpose,
		VerifiedAt: verifiedAt,
	}, nil
}

// Parse verifies signature, expiry, and purpose. It does not consume the
// token; callers must pair it with the one-time mark before honoring it.
func (m *Manager) Parse(raw string, expected Purpose) (Token, error) {
	if m == nil {
		return Token{}, ErrTokenInvalid
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.config.SigningSecret, nil
	},
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithLeeway(m.config.Leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Token{}, ErrTokenInvalid
	}
	if claims.UID == "" || claims.ID == "" {
		return Token{}, ErrTokenInvalid
	}
	if claims.Purpose != expected {
		return Token{}, ErrPurposeMismatch
	}

	return Token{
		ID:         claims.ID,
		UserID:     claims.UID,
		SessionID:  claims.SID,
		Purpose:    claims.Purpose,
		VerifiedAt: time.UnixMilli(claims.VerifiedAt),
	}, nil
}
