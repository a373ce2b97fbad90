// Package internal holds shared primitives for the authcore module: raw token
// generation and encoding, secret hashing, code alphabets, and at-rest sealing
// of TOTP secrets. Nothing here is importable outside the module.
package internal
