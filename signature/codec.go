package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SecretPrefix marks signing secrets generated by the engine.
const SecretPrefix = "whsec_"

// DefaultTolerance is the accepted clock skew between a signed timestamp and
// verification time.
const DefaultTolerance = 300 * time.Second

var (
	ErrMissingSignature = errors.New("signature header is missing")
	ErrMalformedHeader  = errors.New("signature header is malformed")
	ErrInvalidSignature = errors.New("signature mismatch")
	ErrStaleTimestamp   = errors.New("signed timestamp outside tolerance window")
)

// GenerateSecret returns a new signing secret: 32 random bytes, hex encoded,
// prefixed whsec_.
func GenerateSecret() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(key), nil
}

// Sign computes the outbound signature: hex HMAC-SHA256 over
// "<timestamp>.<body>".
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header renders the signature header value, t=<ts>,v1=<hex>.
func Header(timestamp int64, sig string) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, sig)
}

// ParseHeader splits a t=<ts>,v1=<hex> header value.
func ParseHeader(value string) (timestamp int64, sig string, err error) {
	var haveTS, haveSig bool
	for _, part := range strings.Split(value, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, "", ErrMalformedHeader
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, "", ErrMalformedHeader
			}
			haveTS = true
		case "v1":
			sig = val
			haveSig = true
		}
	}
	if !haveTS || !haveSig {
		return 0, "", ErrMalformedHeader
	}
	return timestamp, sig, nil
}

// Verify checks a t=<ts>,v1=<hex> header against the raw body. The body must
// be the exact bytes that were signed.
func Verify(secret, header string, body []byte, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}
	timestamp, sig, err := ParseHeader(header)
	if err != nil {
		return err
	}
	if err := CheckFreshness(timestamp, tolerance, now); err != nil {
		return err
	}
	expected := Sign(secret, timestamp, body)
	if !ConstantTimeEqual([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// CheckFreshness enforces |now - timestamp| <= tolerance.
func CheckFreshness(timestamp int64, tolerance time.Duration, now time.Time) error {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	skew := now.Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return ErrStaleTimestamp
	}
	return nil
}

// ConstantTimeEqual compares two byte strings without leaking the position
// of the first difference. Both sides are hashed first so length mismatches
// take the same code path as content mismatches.
func ConstantTimeEqual(a, b []byte) bool {
	da := sha256.Sum256(a)
	db := sha256.Sum256(b)
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}
