package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/arielzev/authcore/policy"
	"github.com/arielzev/authcore/sectoken"
)

const (
	passkeyRegisterChallengePurpose = "passkey_register"
	passkeyLoginChallengePurpose    = "passkey_login"
	passkeyStepUpChallengePurpose   = "passkey_step_up"
)

// webauthnUser adapts an account and its stored credentials to the shape the
// WebAuthn ceremonies consume.
type webauthnUser struct {
	record      UserRecord
	credentials []PasskeyCredentialRecord
}

func (u *webauthnUser) WebAuthnID() []byte          { return []byte(u.record.UserID) }
func (u *webauthnUser) WebAuthnName() string        { return u.record.Email }
func (u *webauthnUser) WebAuthnDisplayName() string { return u.record.Email }

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.credentials))
	for _, record := range u.credentials {
		transports := make([]protocol.AuthenticatorTransport, 0, len(record.Transports))
		for _, t := range record.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		out = append(out, webauthn.Credential{
			ID:              record.CredentialID,
			PublicKey:       record.PublicKey,
			AttestationType: record.AttestationType,
			Transport:       transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: record.BackupEligible,
				BackupState:    record.BackupState,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    record.AAGUID,
				SignCount: record.SignCount,
			},
		})
	}
	return out
}

func (e *Engine) loadWebauthnUser(ctx context.Context, userID string) (*webauthnUser, error) {
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	credentials, err := e.provider.GetPasskeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{record: user, credentials: credentials}, nil
}

func (e *Engine) saveCeremony(ctx context.Context, purpose, id string, session *webauthn.SessionData) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := e.challenges.SaveChallenge(ctx, purpose, id, payload, e.config.Passkey.ChallengeTTL); err != nil {
		return ErrServiceUnavailable
	}
	return nil
}

func (e *Engine) takeCeremony(ctx context.Context, purpose, id string) (webauthn.SessionData, error) {
	payload, err := e.challenges.TakeChallenge(ctx, purpose, id)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return webauthn.SessionData{}, ErrChallengeNotFound
		}
		return webauthn.SessionData{}, ErrServiceUnavailable
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(payload, &session); err != nil {
		return webauthn.SessionData{}, ErrPasskeyCeremonyInvalid
	}
	return session, nil
}

// BeginPasskeyRegistration starts a credential creation ceremony for the
// session's user. Requires a fresh step-up attestation. The returned options
// go to the browser verbatim; the ceremony state lives server-side under the
// challenge TTL.
func (e *Engine) BeginPasskeyRegistration(ctx context.Context, sessionID string) (*protocol.CredentialCreation, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.webAuthn == nil {
		return nil, ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionRegisterPasskey)
	if err != nil {
		return nil, err
	}

	user, err := e.loadWebauthnUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	// Exclude credentials the account already holds so the authenticator
	// refuses a duplicate registration.
	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.credentials))
	for _, credential := range user.credentials {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: credential.CredentialID,
		})
	}

	options, ceremony, err := e.webAuthn.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, ErrPasskeyCeremonyInvalid
	}
	if err := e.saveCeremony(ctx, passkeyRegisterChallengePurpose, session.UserID, ceremony); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishPasskeyRegistration completes a creation ceremony and persists the new
// credential under the supplied device name.
func (e *Engine) FinishPasskeyRegistration(ctx context.Context, sessionID, deviceName string, response io.Reader) (PasskeyCredentialRecord, error) {
	if e == nil {
		return PasskeyCredentialRecord{}, ErrEngineNotReady
	}
	if e.webAuthn == nil {
		return PasskeyCredentialRecord{}, ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionRegisterPasskey)
	if err != nil {
		return PasskeyCredentialRecord{}, err
	}

	ceremony, err := e.takeCeremony(ctx, passkeyRegisterChallengePurpose, session.UserID)
	if err != nil {
		return PasskeyCredentialRecord{}, err
	}

	user, err := e.loadWebauthnUser(ctx, session.UserID)
	if err != nil {
		return PasskeyCredentialRecord{}, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(response)
	if err != nil {
		return PasskeyCredentialRecord{}, ErrPasskeyCeremonyInvalid
	}

	credential, err := e.webAuthn.CreateCredential(user, ceremony, parsed)
	if err != nil {
		e.metricInc(MetricPasskeyAuthFailure)
		e.emitAudit(ctx, "passkey.register", false, session.UserID, sessionID, err, nil)
		return PasskeyCredentialRecord{}, ErrPasskeyCeremonyInvalid
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}

	record := PasskeyCredentialRecord{
		CredentialID:    credential.ID,
		UserID:          session.UserID,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		Transports:      transports,
		AAGUID:          credential.Authenticator.AAGUID,
		SignCount:       credential.Authenticator.SignCount,
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
		DeviceName:      deviceName,
		CreatedAt:       e.clock(),
	}
	if err := e.provider.CreatePasskey(ctx, record); err != nil {
		return PasskeyCredentialRecord{}, err
	}

	if err := e.applyInvalidation(ctx, policy.EventPasskeyRegistered, session.UserID, sessionID); err != nil {
		return PasskeyCredentialRecord{}, err
	}

	e.metricInc(MetricPasskeyRegistered)
	e.emitAudit(ctx, "passkey.register", true, session.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"device_name": deviceName}
	})
	return record, nil
}

// ListPasskeys returns the user's registered credentials.
func (e *Engine) ListPasskeys(ctx context.Context, userID string) ([]PasskeyCredentialRecord, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.provider.GetPasskeys(ctx, userID)
}

// DeletePasskey removes one credential. Requires a fresh step-up attestation;
// other sessions are revoked on success.
func (e *Engine) DeletePasskey(ctx context.Context, sessionID string, credentialID []byte) error {
	if e == nil {
		return ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionDeletePasskey)
	if err != nil {
		return err
	}

	existing, err := e.provider.GetPasskeyByCredentialID(ctx, credentialID)
	if err != nil || existing.UserID != session.UserID {
		return ErrPasskeyNotFound
	}

	if err := e.provider.DeletePasskey(ctx, session.UserID, credentialID); err != nil {
		return err
	}
	if err := e.applyInvalidation(ctx, policy.EventPasskeyDeleted, session.UserID, sessionID); err != nil {
		return err
	}

	e.emitAudit(ctx, "passkey.delete", true, session.UserID, sessionID, nil, nil)
	return nil
}

// BeginPasskeyLogin starts an assertion ceremony for the user's credentials.
// Attempts spend points from the auth bucket keyed ip:user.
func (e *Engine) BeginPasskeyLogin(ctx context.Context, userID string) (*protocol.CredentialAssertion, error) {
	if e == nil || e.webAuthn == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.consumeLimit(ctx, policy.CategoryLogin, clientIPFromContext(ctx)+":"+userID); err != nil {
		return nil, err
	}

	user, err := e.loadWebauthnUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(user.credentials) == 0 {
		return nil, ErrPasskeyNotFound
	}

	options, ceremony, err := e.webAuthn.BeginLogin(user)
	if err != nil {
		return nil, ErrPasskeyCeremonyInvalid
	}
	if err := e.saveCeremony(ctx, passkeyLoginChallengePurpose, userID, ceremony); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishPasskeyLogin completes an assertion ceremony. On success it returns
// the account record and a short-lived single-use login attestation token.
func (e *Engine) FinishPasskeyLogin(ctx context.Context, userID string, response io.Reader) (UserRecord, string, error) {
	if e == nil || e.webAuthn == nil {
		return UserRecord{}, "", ErrEngineNotReady
	}

	credential, user, err := e.finishAssertion(ctx, userID, passkeyLoginChallengePurpose, response)
	if err != nil {
		return UserRecord{}, "", err
	}

	rawToken, _, err := e.updateTokens.Issue(userID, "", sectoken.PurposePasskeyLogin, e.clock())
	if err != nil {
		return UserRecord{}, "", err
	}

	e.metricInc(MetricPasskeyAuthSuccess)
	e.emitAudit(ctx, "passkey.login", true, userID, "", nil, func() map[string]string {
		return map[string]string{"device_name": credential.DeviceName}
	})
	return user, rawToken, nil
}

// ConsumePasskeyLoginToken validates a login attestation token exactly once
// and returns the user it names. Replays fail with [ErrTokenInvalid].
func (e *Engine) ConsumePasskeyLoginToken(ctx context.Context, rawToken string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	token, err := e.updateTokens.Parse(rawToken, sectoken.PurposePasskeyLogin)
	if err != nil {
		return "", ErrTokenInvalid
	}
	first, err := e.challenges.ConsumeOnce(ctx, token.ID, e.config.StepUp.TokenTTL)
	if err != nil {
		return "", ErrServiceUnavailable
	}
	if !first {
		return "", ErrTokenInvalid
	}
	return token.UserID, nil
}

// BeginPasskeyStepUp starts an assertion ceremony to refresh the session's
// step-up attestation without a password.
func (e *Engine) BeginPasskeyStepUp(ctx context.Context, sessionID string) (*protocol.CredentialAssertion, error) {
	if e == nil || e.webAuthn == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.provider.GetSession(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if !sessionValid(record, e.clock()) {
		return nil, ErrSessionInvalid
	}

	if err := e.consumeLimit(ctx, policy.CategoryStepUp, "session:"+sessionID); err != nil {
		return nil, err
	}

	user, err := e.loadWebauthnUser(ctx, record.UserID)
	if err != nil {
		return nil, err
	}
	if len(user.credentials) == 0 {
		return nil, ErrPasskeyNotFound
	}

	options, ceremony, err := e.webAuthn.BeginLogin(user)
	if err != nil {
		return nil, ErrPasskeyCeremonyInvalid
	}
	if err := e.saveCeremony(ctx, passkeyStepUpChallengePurpose, sessionID, ceremony); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishPasskeyStepUp completes the assertion, stamps the session's step-up
// attestation time, and returns a single-use attestation token other services
// can apply with [Engine.ConsumeStepUpToken].
func (e *Engine) FinishPasskeyStepUp(ctx context.Context, sessionID string, response io.Reader) (string, error) {
	if e == nil || e.webAuthn == nil {
		return "", ErrEngineNotReady
	}

	record, err := e.provider.GetSession(ctx, sessionID)
	if err != nil {
		return "", ErrSessionNotFound
	}
	now := e.clock()
	if !sessionValid(record, now) {
		return "", ErrSessionInvalid
	}

	ceremony, err := e.takeCeremony(ctx, passkeyStepUpChallengePurpose, sessionID)
	if err != nil {
		return "", err
	}
	if _, _, err := e.finishAssertionWithCeremony(ctx, record.UserID, ceremony, response); err != nil {
		e.metricInc(MetricStepUpFailure)
		return "", err
	}

	if err := e.provider.UpdateSessionAuthTimes(ctx, sessionID, record.LastAuthAt, now); err != nil {
		return "", err
	}

	rawToken, _, err := e.updateTokens.Issue(record.UserID, sessionID, sectoken.PurposePasskeyStepUp, now)
	if err != nil {
		return "", err
	}

	e.resetLimit(ctx, policy.CategoryStepUp, "session:"+sessionID)
	e.metricInc(MetricStepUpSuccess)
	e.emitAudit(ctx, "stepup.passkey", true, record.UserID, sessionID, nil, nil)
	return rawToken, nil
}

func (e *Engine) finishAssertion(ctx context.Context, userID, purpose string, response io.Reader) (PasskeyCredentialRecord, UserRecord, error) {
	ceremony, err := e.takeCeremony(ctx, purpose, userID)
	if err != nil {
		return PasskeyCredentialRecord{}, UserRecord{}, err
	}
	return e.finishAssertionWithCeremony(ctx, userID, ceremony, response)
}

func (e *Engine) finishAssertionWithCeremony(ctx context.Context, userID string, ceremony webauthn.SessionData, response io.Reader) (PasskeyCredentialRecord, UserRecord, error) {
	user, err := e.loadWebauthnUser(ctx, userID)
	if err != nil {
		return PasskeyCredentialRecord{}, UserRecord{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(response)
	if err != nil {
		return PasskeyCredentialRecord{}, UserRecord{}, ErrPasskeyCeremonyInvalid
	}

	credential, err := e.webAuthn.ValidateLogin(user, ceremony, parsed)
	if err != nil {
		e.metricInc(MetricPasskeyAuthFailure)
		e.emitAudit(ctx, "passkey.assert", false, userID, "", err, nil)
		return PasskeyCredentialRecord{}, UserRecord{}, ErrPasskeyCeremonyInvalid
	}

	stored, err := e.provider.GetPasskeyByCredentialID(ctx, credential.ID)
	if err != nil || stored.UserID != userID {
		return PasskeyCredentialRecord{}, UserRecord{}, ErrPasskeyNotFound
	}

	if err := e.advanceSignCount(ctx, stored, credential); err != nil {
		return PasskeyCredentialRecord{}, UserRecord{}, err
	}
	return stored, user.record, nil
}

// advanceSignCount enforces the monotonic signature counter. A validated
// assertion whose counter does not strictly advance, or that the library
// flagged as a clone, is rejected.
func (e *Engine) advanceSignCount(ctx context.Context, stored PasskeyCredentialRecord, credential *webauthn.Credential) error {
	if credential.Authenticator.CloneWarning {
		e.metricInc(MetricPasskeyCounterRegression)
		e.emitAudit(ctx, "passkey.assert", false, stored.UserID, "", ErrPasskeyCounterRegression, func() map[string]string {
			return map[string]string{"cause": "clone_warning"}
		})
		return ErrPasskeyCounterRegression
	}

	newCount := credential.Authenticator.SignCount

	// Some authenticators never advance a counter and always report zero.
	// The counter guard can't apply; still record the use.
	if newCount == 0 && stored.SignCount == 0 {
		return e.provider.TouchPasskey(ctx, stored.CredentialID, e.clock())
	}

	applied, err := e.provider.UpdatePasskeyCounter(ctx, stored.CredentialID, newCount, e.clock())
	if err != nil {
		return err
	}
	if !applied {
		e.metricInc(MetricPasskeyCounterRegression)
		e.emitAudit(ctx, "passkey.assert", false, stored.UserID, "", ErrPasskeyCounterRegression, func() map[string]string {
			return map[string]string{"cause": "counter_regression"}
		})
		return ErrPasskeyCounterRegression
	}
	return nil
}

// ParseCredentialResponse is a convenience wrapper for hosts holding the
// browser response as bytes rather than a stream.
func ParseCredentialResponse(raw []byte) io.Reader {
	return bytes.NewReader(raw)
}
