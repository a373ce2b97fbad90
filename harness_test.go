package authcore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memProvider struct {
	mu sync.Mutex

	users       map[string]UserRecord
	byEmail     map[string]string
	backupCodes map[string][]BackupCodeRecord
	passkeys    map[string]PasskeyCredentialRecord
	tokens      map[string]TokenRecord
	sessions    map[string]SessionRecord

	consumeTokenCalls      int
	consumeBackupCodeCalls int
	revokeForUserCalls     int
}

func newMemProvider() *memProvider {
	return &memProvider{
		users:       map[string]UserRecord{},
		byEmail:     map[string]string{},
		backupCodes: map[string][]BackupCodeRecord{},
		passkeys:    map[string]PasskeyCredentialRecord{},
		tokens:      map[string]TokenRecord{},
		sessions:    map[string]SessionRecord{},
	}
}

func (m *memProvider) addUser(user UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.UserID] = user
	m.byEmail[strings.ToLower(user.Email)] = user.UserID
}

func (m *memProvider) GetUserByID(ctx context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return user, nil
}

func (m *memProvider) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return m.users[userID], nil
}

func (m *memProvider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.PasswordHash = newHash
	m.users[userID] = user
	return nil
}

func (m *memProvider) UpdateEmail(ctx context.Context, userID, newEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	delete(m.byEmail, strings.ToLower(user.Email))
	user.Email = newEmail
	m.users[userID] = user
	m.byEmail[strings.ToLower(newEmail)] = userID
	return nil
}

func (m *memProvider) SetEmailTwoFactor(ctx context.Context, userID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.EmailTwoFactor = enabled
	m.users[userID] = user
	return nil
}

func (m *memProvider) SetTOTP(ctx context.Context, userID string, enabled bool, sealedSecret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.TOTPEnabled = enabled
	user.TOTPSecretSealed = sealedSecret
	m.users[userID] = user
	return nil
}

func (m *memProvider) SetPreferredMethod(ctx context.Context, userID string, method TwoFactorMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.PreferredMethod = method
	m.users[userID] = user
	return nil
}

func (m *memProvider) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.TOTPLastCounter = counter
	m.users[userID] = user
	return nil
}

func (m *memProvider) GetBackupCodes(ctx context.Context, userID string) ([]BackupCodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.backupCodes[userID]
	out := make([]BackupCodeRecord, len(records))
	copy(out, records)
	return out, nil
}

func (m *memProvider) ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BackupCodeRecord, len(codes))
	copy(out, codes)
	m.backupCodes[userID] = out
	return nil
}

func (m *memProvider) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeBackupCodeCalls++
	records := m.backupCodes[userID]
	for i, record := range records {
		if record.Hash == hash && !record.Used {
			records[i].Used = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memProvider) GetPasskeys(ctx context.Context, userID string) ([]PasskeyCredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PasskeyCredentialRecord
	for _, record := range m.passkeys {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (m *memProvider) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (PasskeyCredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.passkeys[string(credentialID)]
	if !ok {
		return PasskeyCredentialRecord{}, errors.New("not found")
	}
	return record, nil
}

func (m *memProvider) CreatePasskey(ctx context.Context, record PasskeyCredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passkeys[string(record.CredentialID)] = record
	return nil
}

func (m *memProvider) UpdatePasskeyCounter(ctx context.Context, credentialID []byte, newCount uint32, usedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.passkeys[string(credentialID)]
	if !ok {
		return false, errors.New("not found")
	}
	if newCount <= record.SignCount {
		return false, nil
	}
	record.SignCount = newCount
	record.LastUsedAt = &usedAt
	m.passkeys[string(credentialID)] = record
	return true, nil
}

func (m *memProvider) TouchPasskey(ctx context.Context, credentialID []byte, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.passkeys[string(credentialID)]
	if !ok {
		return errors.New("not found")
	}
	record.LastUsedAt = &usedAt
	m.passkeys[string(credentialID)] = record
	return nil
}

func (m *memProvider) DeletePasskey(ctx context.Context, userID string, credentialID []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.passkeys[string(credentialID)]
	if !ok || record.UserID != userID {
		return errors.New("not found")
	}
	delete(m.passkeys, string(credentialID))
	return nil
}

func (m *memProvider) CreateToken(ctx context.Context, record TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[record.ID] = record
	return nil
}

func (m *memProvider) GetTokenByHash(ctx context.Context, tokenType TokenType, hash [32]byte) (TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.tokens {
		if record.Type == tokenType && record.SecretHash == hash {
			return record, nil
		}
	}
	return TokenRecord{}, errors.New("not found")
}

func (m *memProvider) ConsumeToken(ctx context.Context, tokenID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeTokenCalls++
	record, ok := m.tokens[tokenID]
	if !ok {
		return false, errors.New("not found")
	}
	if record.ConsumedAt != nil {
		return false, nil
	}
	record.ConsumedAt = &at
	m.tokens[tokenID] = record
	return true, nil
}

func (m *memProvider) DeleteTokensForUser(ctx context.Context, userID string, tokenType TokenType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, record := range m.tokens {
		if record.UserID == userID && record.Type == tokenType {
			delete(m.tokens, id)
		}
	}
	return nil
}

func (m *memProvider) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, record := range m.tokens {
		if record.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

func (m *memProvider) CreateSession(ctx context.Context, record SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[record.SessionID] = record
	return nil
}

func (m *memProvider) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.sessions[sessionID]
	if !ok {
		return SessionRecord{}, errors.New("not found")
	}
	return record, nil
}

func (m *memProvider) GetSessionByTokenHash(ctx context.Context, hash [32]byte) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.sessions {
		if record.TokenHash == hash {
			return record, nil
		}
	}
	return SessionRecord{}, errors.New("not found")
}

func (m *memProvider) TouchSession(ctx context.Context, sessionID string, lastActivity, slidingExpiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.sessions[sessionID]
	if !ok {
		return errors.New("not found")
	}
	record.LastActivityAt = lastActivity
	record.ExpiresAt = slidingExpiry
	m.sessions[sessionID] = record
	return nil
}

func (m *memProvider) UpdateSessionAuthTimes(ctx context.Context, sessionID string, lastAuthAt, stepUpAuthAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.sessions[sessionID]
	if !ok {
		return errors.New("not found")
	}
	record.LastAuthAt = lastAuthAt
	record.StepUpAuthAt = stepUpAuthAt
	m.sessions[sessionID] = record
	return nil
}

func (m *memProvider) RevokeSession(ctx context.Context, sessionID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.sessions[sessionID]
	if !ok {
		return errors.New("not found")
	}
	record.Revoked = true
	record.RevokedReason = reason
	record.RevokedAt = &at
	m.sessions[sessionID] = record
	return nil
}

func (m *memProvider) RevokeSessionsForUser(ctx context.Context, userID, exceptSessionID, reason string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeForUserCalls++
	var n int64
	for id, record := range m.sessions {
		if record.UserID != userID || record.Revoked || id == exceptSessionID {
			continue
		}
		record.Revoked = true
		record.RevokedReason = reason
		record.RevokedAt = &at
		m.sessions[id] = record
		n++
	}
	return n, nil
}

func (m *memProvider) ListSessions(ctx context.Context, userID string) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SessionRecord
	for _, record := range m.sessions {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (m *memProvider) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, record := range m.sessions {
		if record.AbsoluteExpiresAt.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

type capturedMail struct {
	email     string
	code      string
	tokenType TokenType
	rawToken  string
}

type captureMailer struct {
	mu    sync.Mutex
	sent  []capturedMail
	fail  bool
	codes []string
}

func (m *captureMailer) SendTwoFactorCode(ctx context.Context, email, locale, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, capturedMail{email: email, code: code})
	m.codes = append(m.codes, code)
	return nil
}

func (m *captureMailer) SendTokenLink(ctx context.Context, email, locale string, tokenType TokenType, rawToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, capturedMail{email: email, tokenType: tokenType, rawToken: rawToken})
	return nil
}

func (m *captureMailer) lastToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].rawToken
}

func (m *captureMailer) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		return ""
	}
	return m.codes[len(m.codes)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := defaultConfig()
	// Cheap hashing parameters so the suite stays fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.FailureDelayMin = 0
	cfg.Password.FailureDelayMax = 0
	cfg.TOTP.SealKey = bytes.Repeat([]byte{0x42}, 32)
	cfg.StepUp.SigningSecret = bytes.Repeat([]byte{0x17}, 32)
	cfg.Audit.Enabled = false
	return cfg
}

type testEnv struct {
	engine   *Engine
	provider *memProvider
	mailer   *captureMailer
	clock    *testClock
	redis    *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	t.Cleanup(mr.Close)

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	provider := newMemProvider()
	mailer := &captureMailer{}
	clock := newTestClock()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProvider(provider).
		WithMailer(mailer).
		withClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, provider: provider, mailer: mailer, clock: clock, redis: mr}
}

func (env *testEnv) seedUser(t *testing.T, userID, email, plainPassword string) UserRecord {
	t.Helper()

	hash, err := env.engine.passwordHash.Hash(plainPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	user := UserRecord{
		UserID:       userID,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
	}
	env.provider.addUser(user)
	return user
}

func (env *testEnv) seedSession(t *testing.T, userID string) string {
	t.Helper()

	created, err := env.engine.CreateSession(context.Background(), userID, DeviceInfo{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0",
		IP:        "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return created.SessionID
}
