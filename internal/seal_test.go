package internal

import (
	"bytes"
	"testing"
)

func TestSealRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	secret := []byte("JBSWY3DPEHPK3PXP")

	sealed, err := Seal(secret, key)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if bytes.Contains(sealed, secret) {
		t.Fatal("sealed blob must not contain the plaintext secret")
	}

	opened, err := Open(sealed, key)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(opened, secret) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestOpenRejectsTamper(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	sealed, err := Seal([]byte("secret"), key)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(sealed, key); err == nil {
		t.Fatal("expected authentication failure on tampered blob")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := Seal([]byte("secret"), bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := Open(sealed, bytes.Repeat([]byte{0x02}, 32)); err == nil {
		t.Fatal("expected failure with wrong key")
	}
}

func TestOpenRejectsShortBlob(t *testing.T) {
	if _, err := Open([]byte("short"), bytes.Repeat([]byte{0x01}, 32)); err == nil {
		t.Fatal("expected failure on truncated blob")
	}
}

func TestTokenCodecRoundTrip(t *testing.T) {
	secret, err := NewTokenSecret()
	if err != nil {
		t.Fatalf("secret generation failed: %v", err)
	}

	encoded := EncodeToken(secret)
	decoded, err := DecodeToken(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, secret[:]) {
		t.Fatal("token codec round trip mismatch")
	}

	if _, err := DecodeToken("not-base64!!"); err == nil {
		t.Fatal("expected error for malformed token")
	}
	if _, err := DecodeToken("c2hvcnQ"); err == nil {
		t.Fatal("expected error for wrong-size token")
	}
}

func TestSaltedCodeHashIsUserScoped(t *testing.T) {
	h1 := SaltedCodeHash("u1", "ABCDE23456")
	h2 := SaltedCodeHash("u2", "ABCDE23456")
	if h1 == h2 {
		t.Fatal("expected different hashes for different users")
	}
}

func TestCanonicalizeCode(t *testing.T) {
	if got := CanonicalizeCode("  abcde-23456 "); got != "ABCDE23456" {
		t.Fatalf("canonicalize = %q", got)
	}
	if got := FormatCode("ABCDE23456"); got != "ABCDE-23456" {
		t.Fatalf("format = %q", got)
	}
}
