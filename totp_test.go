package authcore

import (
	"strings"
	"testing"
	"time"
)

func TestTOTPVerifyRFCVectorsSHA1(t *testing.T) {
	m := newTOTPManager(TOTPConfig{
		Issuer:    "authcore",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      0,
	})
	secret := []byte("12345678901234567890")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA1 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA256(t *testing.T) {
	m := newTOTPManager(TOTPConfig{
		Issuer:    "authcore",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA256",
		Skew:      0,
	})
	secret := []byte("12345678901234567890123456789012")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "46119246"},
		{1111111109, "68084774"},
		{1111111111, "67062674"},
		{1234567890, "91819424"},
		{2000000000, "90698825"},
		{20000000000, "77737706"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA256 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA512(t *testing.T) {
	m := newTOTPManager(TOTPConfig{
		Issuer:    "authcore",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA512",
		Skew:      0,
	})
	secret := []byte("1234567890123456789012345678901234567890123456789012345678901234")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "90693936"},
		{1111111109, "25091201"},
		{1111111111, "99943326"},
		{1234567890, "93441116"},
		{2000000000, "38618901"},
		{20000000000, "47863826"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA512 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRejectsMalformedCodes(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "authcore", Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"})
	secret := []byte("12345678901234567890")

	for _, code := range []string{"", "12345", "1234567", "12a456", "      "} {
		ok, _, err := m.VerifyCode(secret, code, time.Now())
		if err != nil {
			t.Fatalf("malformed code %q must not error: %v", code, err)
		}
		if ok {
			t.Fatalf("malformed code %q must not verify", code)
		}
	}
}

func TestTOTPSkewAcceptsAdjacentWindow(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "authcore", Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"})
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111111, 0)

	previous, err := hotpCode(secret, now.Unix()/30-1, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotp error: %v", err)
	}
	ok, counter, err := m.VerifyCode(secret, previous, now)
	if err != nil || !ok {
		t.Fatalf("previous-window code must verify with skew=1, ok=%v err=%v", ok, err)
	}
	if want := now.Unix()/30 - 1; counter != want {
		t.Fatalf("matched counter = %d, want %d", counter, want)
	}

	strict := newTOTPManager(TOTPConfig{Issuer: "authcore", Digits: 6, Period: 30, Skew: 0, Algorithm: "SHA1"})
	ok, _, err = strict.VerifyCode(secret, previous, now)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if ok {
		t.Fatal("previous-window code must fail with skew=0")
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "Back Office", Digits: 6, Period: 30, Algorithm: "SHA1"})

	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "user@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("unexpected URI scheme: %s", uri)
	}
	for _, fragment := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=Back+Office", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, fragment) {
			t.Fatalf("URI missing %q: %s", fragment, uri)
		}
	}
}

func TestTOTPUnsupportedAlgorithm(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "authcore", Digits: 6, Period: 30, Algorithm: "MD5"})
	if _, _, err := m.VerifyCode([]byte("12345678901234567890"), "123456", time.Now()); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
}
