package authcore

import (
	"errors"
	"time"
)

// Config defines a public type used by authcore APIs.
//
// Config instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Config struct {
	Password  PasswordConfig
	TOTP      TOTPConfig
	TwoFactor TwoFactorConfig
	StepUp    StepUpConfig
	Session   SessionConfig
	Token     TokenConfig
	Passkey   PasskeyConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Geo       GeoConfig
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by authcore APIs.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	// FailureDelayMin/Max bound the artificial delay applied after a failed
	// password verification so response timing carries no oracle.
	FailureDelayMin time.Duration
	FailureDelayMax time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TOTPConfig defines a public type used by authcore APIs.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
	// SealKey encrypts TOTP secrets at rest. 16, 24, or 32 bytes.
	SealKey []byte
}

// TwoFactorConfig defines a public type used by authcore APIs.
type TwoFactorConfig struct {
	EmailCodeDigits  int
	EmailCodeTTL     time.Duration
	BackupCodeCount  int
	BackupCodeLength int
}

/*
====================================
STEP-UP CONFIG
====================================
*/

// StepUpConfig defines a public type used by authcore APIs.
type StepUpConfig struct {
	// GraceWindow is how long a step-up attestation stays fresh. A session is
	// fresh strictly within the window and stale at exactly the boundary.
	GraceWindow   time.Duration
	SigningSecret []byte
	TokenTTL      time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by authcore APIs.
type SessionConfig struct {
	// SlidingLifetime extends from last activity; AbsoluteLifetime is a hard
	// ceiling from creation and is never extended.
	SlidingLifetime  time.Duration
	AbsoluteLifetime time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by authcore APIs.
type TokenConfig struct {
	PasswordResetTTL     time.Duration
	InviteTTL            time.Duration
	EmailChangeTTL       time.Duration
	EmailVerificationTTL time.Duration
}

/*
====================================
PASSKEY CONFIG
====================================
*/

// PasskeyConfig defines a public type used by authcore APIs.
type PasskeyConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	ChallengeTTL  time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig defines a public type used by authcore APIs.
type RateLimitConfig struct {
	Enabled bool
	// Prefix namespaces limiter keys in the shared counter store.
	Prefix string
}

/*
====================================
AUDIT / METRICS / GEO CONFIG
====================================
*/

// AuditConfig defines a public type used by authcore APIs.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull trades lossless audit delivery for bounded request latency.
	DropIfFull bool
}

// MetricsConfig defines a public type used by authcore APIs.
type MetricsConfig struct {
	Enabled bool
}

// GeoConfig defines a public type used by authcore APIs.
type GeoConfig struct {
	// LookupTimeout is a hard ceiling on geolocation lookups; past it the
	// session records "unknown" rather than blocking login.
	LookupTimeout time.Duration
}

// DefaultConfig returns the baseline configuration. Callers must still supply
// the secrets validation requires: StepUp.SigningSecret and TOTP.SealKey.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:          64 * 1024,
			Time:            3,
			Parallelism:     2,
			SaltLength:      16,
			KeyLength:       32,
			MinLength:       10,
			FailureDelayMin: 100 * time.Millisecond,
			FailureDelayMax: 200 * time.Millisecond,
		},
		TOTP: TOTPConfig{
			Issuer:    "authcore",
			Digits:    6,
			Period:    30,
			Skew:      1,
			Algorithm: "SHA1",
		},
		TwoFactor: TwoFactorConfig{
			EmailCodeDigits:  6,
			EmailCodeTTL:     10 * time.Minute,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
		},
		StepUp: StepUpConfig{
			GraceWindow: 10 * time.Minute,
			TokenTTL:    5 * time.Minute,
		},
		Session: SessionConfig{
			SlidingLifetime:  30 * 24 * time.Hour,
			AbsoluteLifetime: 90 * 24 * time.Hour,
		},
		Token: TokenConfig{
			PasswordResetTTL:     30 * time.Minute,
			InviteTTL:            7 * 24 * time.Hour,
			EmailChangeTTL:       30 * time.Minute,
			EmailVerificationTTL: 24 * time.Hour,
		},
		Passkey: PasskeyConfig{
			ChallengeTTL: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Prefix:  "arl",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
		},
		Metrics: MetricsConfig{Enabled: true},
		Geo: GeoConfig{
			LookupTimeout: 5 * time.Second,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.Password.KeyLength == 0 || cfg.Password.SaltLength == 0 {
		return errors.New("invalid password hashing configuration")
	}
	if cfg.Password.FailureDelayMax < cfg.Password.FailureDelayMin {
		return errors.New("invalid password failure delay bounds")
	}
	if cfg.TOTP.Digits < 6 || cfg.TOTP.Digits > 8 {
		return errors.New("totp digits must be 6-8")
	}
	if cfg.TOTP.Period <= 0 || cfg.TOTP.Skew < 0 {
		return errors.New("invalid totp window configuration")
	}
	switch len(cfg.TOTP.SealKey) {
	case 16, 24, 32:
	default:
		return errors.New("totp seal key must be 16, 24, or 32 bytes")
	}
	if cfg.TwoFactor.EmailCodeDigits < 6 {
		return errors.New("email code digits must be at least 6")
	}
	if cfg.TwoFactor.EmailCodeTTL <= 0 {
		return errors.New("email code ttl must be positive")
	}
	if cfg.TwoFactor.BackupCodeCount <= 0 || cfg.TwoFactor.BackupCodeLength < 8 {
		return errors.New("invalid backup code configuration")
	}
	if cfg.StepUp.GraceWindow <= 0 {
		return errors.New("step-up grace window must be positive")
	}
	if len(cfg.StepUp.SigningSecret) < 32 {
		return errors.New("step-up signing secret must be at least 32 bytes")
	}
	if cfg.StepUp.TokenTTL <= 0 {
		return errors.New("step-up token ttl must be positive")
	}
	if cfg.Session.SlidingLifetime <= 0 || cfg.Session.AbsoluteLifetime <= 0 {
		return errors.New("session lifetimes must be positive")
	}
	if cfg.Session.AbsoluteLifetime < cfg.Session.SlidingLifetime {
		return errors.New("absolute session lifetime must not be below the sliding lifetime")
	}
	if cfg.Token.PasswordResetTTL <= 0 || cfg.Token.InviteTTL <= 0 ||
		cfg.Token.EmailChangeTTL <= 0 || cfg.Token.EmailVerificationTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	if cfg.Passkey.ChallengeTTL <= 0 {
		return errors.New("passkey challenge ttl must be positive")
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive")
	}
	if cfg.Geo.LookupTimeout <= 0 {
		return errors.New("geo lookup timeout must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.TOTP.SealKey = append([]byte(nil), cfg.TOTP.SealKey...)
	out.StepUp.SigningSecret = append([]byte(nil), cfg.StepUp.SigningSecret...)
	out.Passkey.RPOrigins = append([]string(nil), cfg.Passkey.RPOrigins...)
	return out
}
