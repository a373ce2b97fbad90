// Package authcore provides the authentication and session security core for a
// multi-tenant back-office application: step-up re-authentication, multi-method
// two-factor authentication (email code, TOTP, backup codes, passkeys), session
// lifecycle and revocation, and the security-event policy tying these together.
//
// The package is designed for concurrent server workloads: Engine methods are safe
// to call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], the
// [Provider] persistence contracts, and value types (SessionRecord, AuditEvent,
// etc.). Internal coordination — rate limiting, challenge storage, token codecs,
// secret sealing — lives under internal/ and is never exported. Decision tables
// live in the policy subpackage so a security review of "what requires step-up,
// what invalidates sessions" touches exactly one module.
//
// # What this package must NOT do
//
//   - Expose Redis clients, provider SQL, or token encodings in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Distinguish failure causes to external callers: wrong password, unknown
//     user, expired token, and consumed token are reported identically; the
//     specific cause goes only to the audit sink.
//
// # Concurrency contract
//
// There is no in-process locking around request flows. Correctness relies on the
// backing stores: rate-limit consumption is a single atomic Redis script, token
// and backup-code consumption are conditional updates in the provider, and
// session revocation is a flag write observed by the next read.
package authcore
