package authcore

import (
	"context"
	"time"
)

// TokenType tags a single-use secret with the flow it belongs to. Validation
// rejects a raw token presented against the wrong type.
type TokenType string

const (
	// TokenPasswordReset is an exported constant or variable used by the authentication core.
	TokenPasswordReset TokenType = "password_reset"
	// TokenUserInvite is an exported constant or variable used by the authentication core.
	TokenUserInvite TokenType = "user_invite"
	// TokenEmailChange is an exported constant or variable used by the authentication core.
	TokenEmailChange TokenType = "email_change"
	// TokenEmailVerification is an exported constant or variable used by the authentication core.
	TokenEmailVerification TokenType = "email_verification"
	// TokenTwoFactorEmail is an exported constant or variable used by the authentication core.
	TokenTwoFactorEmail TokenType = "two_factor_email"
)

// TwoFactorMethod is the tagged union discriminator for login-time second
// factors. Verification switches exhaustively on it; adding a method is a
// compile-visible change, not a new string branch.
type TwoFactorMethod uint8

const (
	// MethodEmail is an exported constant or variable used by the authentication core.
	MethodEmail TwoFactorMethod = iota
	// MethodTOTP is an exported constant or variable used by the authentication core.
	MethodTOTP
	// MethodBackupCode is an exported constant or variable used by the authentication core.
	MethodBackupCode
)

// String describes the string operation and its observable behavior.
func (m TwoFactorMethod) String() string {
	switch m {
	case MethodEmail:
		return "email"
	case MethodTOTP:
		return "totp"
	case MethodBackupCode:
		return "backup_code"
	default:
		return "unknown"
	}
}

// UserRecord is the full account record returned by [UserProvider]. It carries
// credential hashes, two-factor enablement state, and the preferred method.
type UserRecord struct {
	UserID           string
	Email            string
	PasswordHash     string
	Active           bool
	Locale           string
	EmailTwoFactor   bool
	TOTPEnabled      bool
	TOTPSecretSealed []byte
	// TOTPLastCounter is the highest TOTP time-step counter already accepted
	// for this user. Codes at or below it are replays.
	TOTPLastCounter int64
	PreferredMethod TwoFactorMethod
}

// BackupCodeRecord is a single stored backup-code hash. Used marks a spent
// code; spent codes are kept until the set is regenerated so the remaining
// count stays queryable.
type BackupCodeRecord struct {
	Hash [32]byte
	Used bool
}

// PasskeyCredentialRecord mirrors one stored WebAuthn credential.
// SignCount is monotonic; a verification that does not strictly advance it is
// treated as a cloned-authenticator signal.
type PasskeyCredentialRecord struct {
	CredentialID    []byte
	UserID          string
	PublicKey       []byte
	AttestationType string
	Transports      []string
	AAGUID          []byte
	SignCount       uint32
	BackupEligible  bool
	BackupState     bool
	DeviceName      string
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// TokenRecord is the persisted form of a single-use token. Only the SHA-256
// hash of the raw secret is stored; ConsumedAt nil means unused.
type TokenRecord struct {
	ID         string
	Type       TokenType
	UserID     string
	SecretHash [32]byte
	Payload    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// SessionRecord is one registry entry for an authenticated device/browser.
//
// ExpiresAt is the sliding expiry and moves forward on activity.
// AbsoluteExpiresAt is the hard ceiling and never moves.
type SessionRecord struct {
	SessionID         string
	UserID            string
	TokenHash         [32]byte
	Device            string
	Browser           string
	OS                string
	IP                string
	Location          string
	CreatedAt         time.Time
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
	LastAuthAt        time.Time
	StepUpAuthAt      time.Time
	Revoked           bool
	RevokedReason     string
	RevokedAt         *time.Time
}

// DeviceInfo is the request-side metadata captured at session creation.
type DeviceInfo struct {
	UserAgent string
	IP        string
}

// SessionInfo is the caller-facing projection of a session; it never carries
// the token hash.
type SessionInfo struct {
	SessionID      string
	Device         string
	Browser        string
	OS             string
	IP             string
	Location       string
	CreatedAt      time.Time
	LastActivityAt time.Time
	Current        bool
}

// ListSessionsFilter narrows [Engine.ListSessions]. Zero value lists every
// non-revoked, non-expired session.
type ListSessionsFilter struct {
	IncludeRevoked bool
	IncludeExpired bool
}

// UserProvider is the account persistence contract callers must implement.
// Implementations must make ConsumeBackupCode atomic: mark the matching unused
// code used and report whether exactly this call spent it.
type UserProvider interface {
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	UpdateEmail(ctx context.Context, userID, newEmail string) error
	SetEmailTwoFactor(ctx context.Context, userID string, enabled bool) error
	SetTOTP(ctx context.Context, userID string, enabled bool, sealedSecret []byte) error
	// UpdateTOTPLastUsedCounter records the highest accepted TOTP time-step
	// counter so an already-verified code cannot be replayed within the skew
	// window.
	UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error
	SetPreferredMethod(ctx context.Context, userID string, method TwoFactorMethod) error
	GetBackupCodes(ctx context.Context, userID string) ([]BackupCodeRecord, error)
	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// CredentialProvider persists passkey credentials.
type CredentialProvider interface {
	GetPasskeys(ctx context.Context, userID string) ([]PasskeyCredentialRecord, error)
	GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (PasskeyCredentialRecord, error)
	CreatePasskey(ctx context.Context, record PasskeyCredentialRecord) error
	// UpdatePasskeyCounter must persist the new counter and last-used time only
	// if newCount is strictly greater than the stored counter, reporting whether
	// the update applied.
	UpdatePasskeyCounter(ctx context.Context, credentialID []byte, newCount uint32, usedAt time.Time) (bool, error)
	// TouchPasskey updates last-used time without touching the counter, for
	// authenticators that always report a zero sign count.
	TouchPasskey(ctx context.Context, credentialID []byte, usedAt time.Time) error
	DeletePasskey(ctx context.Context, userID string, credentialID []byte) error
}

// TokenProvider persists single-use tokens. ConsumeToken must be atomic:
// set ConsumedAt only if currently nil, reporting whether this call consumed it.
type TokenProvider interface {
	CreateToken(ctx context.Context, record TokenRecord) error
	GetTokenByHash(ctx context.Context, tokenType TokenType, hash [32]byte) (TokenRecord, error)
	ConsumeToken(ctx context.Context, tokenID string, at time.Time) (bool, error)
	DeleteTokensForUser(ctx context.Context, userID string, tokenType TokenType) error
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// SessionProvider persists the session registry.
type SessionProvider interface {
	CreateSession(ctx context.Context, record SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (SessionRecord, error)
	GetSessionByTokenHash(ctx context.Context, hash [32]byte) (SessionRecord, error)
	// TouchSession updates last-activity and the sliding expiry; it must never
	// move the absolute expiry.
	TouchSession(ctx context.Context, sessionID string, lastActivity, slidingExpiry time.Time) error
	UpdateSessionAuthTimes(ctx context.Context, sessionID string, lastAuthAt, stepUpAuthAt time.Time) error
	RevokeSession(ctx context.Context, sessionID, reason string, at time.Time) error
	RevokeSessionsForUser(ctx context.Context, userID, exceptSessionID, reason string, at time.Time) (int64, error)
	ListSessions(ctx context.Context, userID string) ([]SessionRecord, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// Provider bundles the four persistence contracts. store/postgres implements it;
// tests use an in-memory fake.
type Provider interface {
	UserProvider
	CredentialProvider
	TokenProvider
	SessionProvider
}

// Mailer dispatches outbound security mail (two-factor codes, reset links).
// Implementations must not block past their own transport timeout; the engine
// treats dispatch failure as ErrServiceUnavailable.
type Mailer interface {
	SendTwoFactorCode(ctx context.Context, email, locale, code string) error
	SendTokenLink(ctx context.Context, email, locale string, tokenType TokenType, rawToken string) error
}

// GeoResolver maps an IP to a coarse location label. Lookups run under a hard
// timeout and fail open to "unknown".
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (string, error)
}
