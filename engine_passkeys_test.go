package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/arielzev/authcore/sectoken"
)

func passkeyConfig(cfg *Config) {
	cfg.Passkey.RPID = "example.com"
	cfg.Passkey.RPDisplayName = "Example"
	cfg.Passkey.RPOrigins = []string{"https://example.com"}
}

func seedPasskey(env *testEnv, userID string, credentialID []byte, signCount uint32) {
	env.provider.passkeys[string(credentialID)] = PasskeyCredentialRecord{
		CredentialID: credentialID,
		UserID:       userID,
		PublicKey:    []byte{0x01, 0x02},
		SignCount:    signCount,
		DeviceName:   "YubiKey",
		CreatedAt:    env.clock.Now(),
	}
}

func TestPasskeysDisabledWithoutRelyingParty(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")
	sessionID := env.seedSession(t, "u1")

	if _, err := env.engine.BeginPasskeyRegistration(context.Background(), sessionID); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("got %v, want ErrEngineNotReady", err)
	}
}

func TestBeginPasskeyRegistrationRequiresFreshStepUp(t *testing.T) {
	env := newTestEngine(t, passkeyConfig)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")
	sessionID := env.seedSession(t, "u1")

	env.clock.Advance(env.engine.config.StepUp.GraceWindow)

	if _, err := env.engine.BeginPasskeyRegistration(context.Background(), sessionID); !errors.Is(err, ErrStepUpRequired) {
		t.Fatalf("got %v, want ErrStepUpRequired", err)
	}
}

func TestBeginPasskeyRegistrationIssuesChallenge(t *testing.T) {
	env := newTestEngine(t, passkeyConfig)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")
	sessionID := env.seedSession(t, "u1")

	options, err := env.engine.BeginPasskeyRegistration(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("BeginPasskeyRegistration failed: %v", err)
	}
	if len(options.Response.Challenge) == 0 {
		t.Fatal("expected a challenge in the creation options")
	}
	if options.Response.RelyingParty.ID != "example.com" {
		t.Fatalf("relying party %q, want example.com", options.Response.RelyingParty.ID)
	}
}

func TestBeginPasskeyLoginWithoutCredentials(t *testing.T) {
	env := newTestEngine(t, passkeyConfig)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")

	if _, err := env.engine.BeginPasskeyLogin(context.Background(), "u1"); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("got %v, want ErrPasskeyNotFound", err)
	}
}

func TestDeletePasskeyRevokesOtherSessions(t *testing.T) {
	env := newTestEngine(t, passkeyConfig)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")
	current := env.seedSession(t, "u1")
	other := env.seedSession(t, "u1")

	credentialID := []byte("cred-1")
	seedPasskey(env, "u1", credentialID, 7)

	ctx := context.Background()
	if err := env.engine.DeletePasskey(ctx, current, credentialID); err != nil {
		t.Fatalf("DeletePasskey failed: %v", err)
	}
	if _, ok := env.provider.passkeys[string(credentialID)]; ok {
		t.Fatal("expected the credential removed")
	}
	if !env.provider.sessions[other].Revoked {
		t.Fatal("expected the other session revoked")
	}
	if env.provider.sessions[current].Revoked {
		t.Fatal("expected the acting session to survive")
	}
}

func TestDeletePasskeyOwnershipCheck(t *testing.T) {
	env := newTestEngine(t, passkeyConfig)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")
	env.seedUser(t, "u2", "bob@example.com", "other password 123")
	sessionID := env.seedSession(t, "u1")

	credentialID := []byte("cred-bob")
	seedPasskey(env, "u2", credentialID, 3)

	if err := env.engine.DeletePasskey(context.Background(), sessionID, credentialID); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("got %v, want ErrPasskeyNotFound", err)
	}
	if _, ok := env.provider.passkeys[string(credentialID)]; !ok {
		t.Fatal("credential of another user must not be deleted")
	}
}

func TestAdvanceSignCountRejectsRegression(t *testing.T) {
	env := newTestEngine(t, passkeyConfig)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")

	credentialID := []byte("cred-1")
	seedPasskey(env, "u1", credentialID, 10)
	stored := env.provider.passkeys[string(credentialID)]

	ctx := context.Background()

	// Counter stuck at the stored value is a cloned-authenticator signal.
	stuck := &webauthn.Credential{ID: credentialID, Authenticator: webauthn.Authenticator{SignCount: 10}}
	if err := env.engine.advanceSignCount(ctx, stored, stuck); !errors.Is(err, ErrPasskeyCounterRegression) {
		t.Fatalf("stuck counter: got %v, want ErrPasskeyCounterRegression", err)
	}

	regressed := &webauthn.Credential{ID: credentialID, Authenticator: webauthn.Authenticator{SignCount: 4}}
	if err := env.engine.advanceSignCount(ctx, stored, regressed); !errors.Is(err, ErrPasskeyCounterRegression) {
		t.Fatalf("regressed counter: got %v, want ErrPasskeyCounterRegression", err)
	}

	advanced := &webauthn.Credential{ID: credentialID, Authenticator: webauthn.Authenticator{SignCount: 11}}
	if err := env.engine.advanceSignCount(ctx, stored, advanced); err != nil {
		t.Fatalf("advanced counter failed: %v", err)
	}
	if env.provider.passkeys[string(credentialID)].SignCount != 11 {
		t.Fatal("expected the stored counter to advance")
	}
}

func TestAdvanceSignCountCloneWarning(t *testing.T) {
	env := newTestEngine(t, passkeyConfig)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")

	credentialID := []byte("cred-1")
	seedPasskey(env, "u1", credentialID, 5)
	stored := env.provider.passkeys[string(credentialID)]

	flagged := &webauthn.Credential{
		ID:            credentialID,
		Authenticator: webauthn.Authenticator{SignCount: 6, CloneWarning: true},
	}
	if err := env.engine.advanceSignCount(context.Background(), stored, flagged); !errors.Is(err, ErrPasskeyCounterRegression) {
		t.Fatalf("got %v, want ErrPasskeyCounterRegression", err)
	}
}

func TestAdvanceSignCountZeroCounterAuthenticators(t *testing.T) {
	env := newTestEngine(t, passkeyConfig)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")

	credentialID := []byte("cred-1")
	seedPasskey(env, "u1", credentialID, 0)
	stored := env.provider.passkeys[string(credentialID)]

	zero := &webauthn.Credential{ID: credentialID, Authenticator: webauthn.Authenticator{SignCount: 0}}
	if err := env.engine.advanceSignCount(context.Background(), stored, zero); err != nil {
		t.Fatalf("zero-counter authenticator rejected: %v", err)
	}

	// Even without a counter to advance, each assertion records a use.
	after := env.provider.passkeys[string(credentialID)]
	if after.LastUsedAt == nil || !after.LastUsedAt.Equal(env.clock.Now()) {
		t.Fatalf("last-used time not recorded, got %v", after.LastUsedAt)
	}
	if after.SignCount != 0 {
		t.Fatalf("sign count changed to %d", after.SignCount)
	}
}

func TestWebauthnUserAdapter(t *testing.T) {
	user := &webauthnUser{
		record: UserRecord{UserID: "u1", Email: "alice@example.com"},
		credentials: []PasskeyCredentialRecord{{
			CredentialID: []byte("cred-1"),
			PublicKey:    []byte{0x01},
			SignCount:    9,
			Transports:   []string{"usb", "nfc"},
		}},
	}

	if string(user.WebAuthnID()) != "u1" {
		t.Fatalf("id %q", user.WebAuthnID())
	}
	if user.WebAuthnName() != "alice@example.com" {
		t.Fatalf("name %q", user.WebAuthnName())
	}

	credentials := user.WebAuthnCredentials()
	if len(credentials) != 1 {
		t.Fatalf("got %d credentials, want 1", len(credentials))
	}
	if credentials[0].Authenticator.SignCount != 9 {
		t.Fatalf("sign count %d, want 9", credentials[0].Authenticator.SignCount)
	}
	if len(credentials[0].Transport) != 2 {
		t.Fatalf("transports %v", credentials[0].Transport)
	}
}

func TestConsumePasskeyLoginTokenSingleUse(t *testing.T) {
	env := newTestEngine(t, passkeyConfig)
	env.seedUser(t, "u1", "alice@example.com", "some password 123")

	ctx := context.Background()
	rawToken, _, err := env.engine.updateTokens.Issue("u1", "", sectoken.PurposePasskeyLogin, env.clock.Now())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	userID, err := env.engine.ConsumePasskeyLoginToken(ctx, rawToken)
	if err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("user %q, want u1", userID)
	}

	if _, err := env.engine.ConsumePasskeyLoginToken(ctx, rawToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replay: got %v, want ErrTokenInvalid", err)
	}
}
