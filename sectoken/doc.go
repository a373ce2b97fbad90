// Package sectoken issues and verifies the signed capability tokens that carry
// session-state updates from the server to the client and back: step-up
// attestations and completed passkey ceremonies.
//
// Each token is purpose-bound, user-bound, short-lived, and carries a unique
// token ID. The engine pairs verification with a one-time consumption mark, so
// presenting the same token twice updates a session at most once. Freshness
// claims are only ever accepted from these tokens, never from unsigned client
// values.
//
// # What this package must NOT do
//
//   - Track consumption (that is the challenge store's job; this package is
//     pure signing and parsing).
//   - Accept a token whose purpose differs from the one the caller expects.
package sectoken
