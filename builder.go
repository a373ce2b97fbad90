package authcore

import (
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"

	"github.com/arielzev/authcore/internal/ratelimit"
	"github.com/arielzev/authcore/internal/stores"
	"github.com/arielzev/authcore/password"
	"github.com/arielzev/authcore/policy"
	"github.com/arielzev/authcore/sectoken"
)

// Builder defines a public type used by authcore APIs.
//
// Builder instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	provider Provider
	mailer   Mailer
	geo      GeoResolver
	sink     AuditSink
	now      func() time.Time
}

// New describes the new operation and its observable behavior.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig describes the withconfig operation and its observable behavior.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithProvider describes the withprovider operation and its observable behavior.
func (b *Builder) WithProvider(p Provider) *Builder {
	b.provider = p
	return b
}

// WithMailer describes the withmailer operation and its observable behavior.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithGeoResolver describes the withgeoresolver operation and its observable behavior.
func (b *Builder) WithGeoResolver(g GeoResolver) *Builder {
	b.geo = g
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
func (b *Builder) WithAuditSink(s AuditSink) *Builder {
	b.sink = s
	return b
}

func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
func (b *Builder) Build() (*Engine, error) {
	if b.provider == nil {
		return nil, fmt.Errorf("authcore: provider is required: %w", ErrEngineNotReady)
	}
	if b.redis == nil {
		return nil, fmt.Errorf("authcore: redis client is required: %w", ErrEngineNotReady)
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	cfg := cloneConfig(b.config)

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokenManager, err := sectoken.NewManager(sectoken.Config{
		SigningSecret: cfg.StepUp.SigningSecret,
		TTL:           cfg.StepUp.TokenTTL,
	})
	if err != nil {
		return nil, err
	}

	// Passkeys stay disabled until a relying party is configured.
	var wa *webauthn.WebAuthn
	if cfg.Passkey.RPID != "" {
		wa, err = webauthn.New(&webauthn.Config{
			RPID:          cfg.Passkey.RPID,
			RPDisplayName: cfg.Passkey.RPDisplayName,
			RPOrigins:     cfg.Passkey.RPOrigins,
		})
		if err != nil {
			return nil, fmt.Errorf("authcore: webauthn config: %w", err)
		}
	}

	engine := &Engine{
		config:       cfg,
		provider:     b.provider,
		limiter:      ratelimit.New(b.redis, cfg.RateLimit.Prefix, ratelimit.DefaultBudgets()),
		challenges:   stores.NewChallengeStore(b.redis, ""),
		updateTokens: tokenManager,
		passwordHash: hasher,
		totp:         newTOTPManager(cfg.TOTP),
		webAuthn:     wa,
		mailer:       b.mailer,
		geo:          b.geo,
		metrics:      NewMetrics(cfg.Metrics),
		now:          b.now,
	}

	if cfg.Audit.Enabled {
		sink := b.sink
		if sink == nil {
			sink = NoOpSink{}
		}
		engine.audit = newAuditDispatcher(cfg.Audit, sink)
	}

	return engine, nil
}
