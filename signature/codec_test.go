package signature

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret_Format(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^whsec_[a-f0-9]{64}$`), secret)

	other, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"application.created","data":{"id":"app_1"}}`)
	now := time.Now()

	sig := Sign(secret, now.Unix(), body)
	header := Header(now.Unix(), sig)

	require.NoError(t, Verify(secret, header, body, DefaultTolerance, now))
}

func TestVerify_FlippedBodyByte(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"application.created"}`)
	now := time.Now()

	header := Header(now.Unix(), Sign(secret, now.Unix(), body))

	tampered := make([]byte, len(body))
	copy(tampered, body)
	tampered[10] ^= 0x01

	err := Verify(secret, header, tampered, DefaultTolerance, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_FlippedSignatureByte(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"application.created"}`)
	now := time.Now()

	sig := Sign(secret, now.Unix(), body)
	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}

	err := Verify(secret, Header(now.Unix(), string(flipped)), body, DefaultTolerance, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_WrongSecret(t *testing.T) {
	body := []byte(`{}`)
	now := time.Now()
	header := Header(now.Unix(), Sign("whsec_one", now.Unix(), body))

	err := Verify("whsec_two", header, body, DefaultTolerance, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_StaleTimestamp(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	now := time.Now()
	signedAt := now.Add(-400 * time.Second).Unix()

	// Signature itself is valid; only the timestamp is outside tolerance.
	header := Header(signedAt, Sign(secret, signedAt, body))

	err := Verify(secret, header, body, 300*time.Second, now)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestVerify_FutureTimestampOutsideTolerance(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	now := time.Now()
	signedAt := now.Add(400 * time.Second).Unix()

	header := Header(signedAt, Sign(secret, signedAt, body))

	err := Verify(secret, header, body, 300*time.Second, now)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestVerify_MissingHeader(t *testing.T) {
	err := Verify("whsec_test", "", []byte(`{}`), DefaultTolerance, time.Now())
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestParseHeader(t *testing.T) {
	ts, sig, err := ParseHeader("t=1700000000,v1=abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts)
	assert.Equal(t, "abc123", sig)

	for _, malformed := range []string{
		"t=1700000000",
		"v1=abc123",
		"t=notanumber,v1=abc123",
		"garbage",
		"",
	} {
		_, _, err := ParseHeader(malformed)
		assert.ErrorIs(t, err, ErrMalformedHeader, "header %q", malformed)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual([]byte("same"), []byte("same")))
	assert.False(t, ConstantTimeEqual([]byte("same"), []byte("different")))
	assert.False(t, ConstantTimeEqual([]byte("short"), []byte("much longer value")))
	assert.True(t, ConstantTimeEqual(nil, nil))
}
