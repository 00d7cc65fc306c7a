package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Provider identifies an inbound webhook source. The set is closed; each
// provider has exactly one verification strategy.
type Provider string

const (
	ProviderGreenhouse Provider = "greenhouse"
	ProviderLever      Provider = "lever"
	ProviderCalendly   Provider = "calendly"
	ProviderTwilio     Provider = "twilio"
)

const (
	greenhouseSignatureHeader = "Greenhouse-Signature"
	leverSignatureHeader      = "X-Lever-Signature"
	calendlySignatureHeader   = "X-Calendly-Signature"
	calendlyTimestampHeader   = "X-Calendly-Timestamp"
	twilioSignatureHeader     = "X-Twilio-Signature"
)

// Verifier validates one provider's signature scheme against the raw request
// body. Implementations must never re-serialize the body.
type Verifier interface {
	Provider() Provider
	Verify(r *http.Request, body []byte, now time.Time) error
}

type GuardConfig struct {
	GreenhouseSecret string
	LeverSecret      string
	CalendlySecret   string
	TwilioAuthToken  string

	// PublicBaseURL is the externally visible base URL of this service; the
	// form-signing scheme signs the absolute callback URL.
	PublicBaseURL string

	Tolerance time.Duration
}

// Guard fronts the inbound receiver endpoints. Provider selection happens by
// table lookup, keyed by the route that received the request.
type Guard struct {
	verifiers map[Provider]Verifier
}

func NewGuard(cfg GuardConfig) *Guard {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	verifiers := []Verifier{
		&timestampedVerifier{
			provider:  ProviderGreenhouse,
			header:    greenhouseSignatureHeader,
			secret:    cfg.GreenhouseSecret,
			tolerance: tolerance,
		},
		&timestampedVerifier{
			provider:  ProviderLever,
			header:    leverSignatureHeader,
			secret:    cfg.LeverSecret,
			tolerance: tolerance,
		},
		&splitHeaderVerifier{
			provider:        ProviderCalendly,
			signatureHeader: calendlySignatureHeader,
			timestampHeader: calendlyTimestampHeader,
			secret:          cfg.CalendlySecret,
			tolerance:       tolerance,
		},
		&formVerifier{
			provider:  ProviderTwilio,
			header:    twilioSignatureHeader,
			authToken: cfg.TwilioAuthToken,
			baseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		},
	}

	table := make(map[Provider]Verifier, len(verifiers))
	for _, v := range verifiers {
		table[v.Provider()] = v
	}
	return &Guard{verifiers: table}
}

// Providers returns the guarded provider set in registration order.
func (g *Guard) Providers() []Provider {
	providers := make([]Provider, 0, len(g.verifiers))
	for _, p := range []Provider{ProviderGreenhouse, ProviderLever, ProviderCalendly, ProviderTwilio} {
		if _, ok := g.verifiers[p]; ok {
			providers = append(providers, p)
		}
	}
	return providers
}

func (g *Guard) Verify(p Provider, r *http.Request, body []byte, now time.Time) error {
	v, ok := g.verifiers[p]
	if !ok {
		return fmt.Errorf("%w: unknown provider %q", ErrMalformedHeader, p)
	}
	return v.Verify(r, body, now)
}

// timestampedVerifier covers the t=<ts>,v1=<hex> family: HMAC-SHA256 over
// "<timestamp>.<body>", hex encoded, timestamp embedded in the header.
type timestampedVerifier struct {
	provider  Provider
	header    string
	secret    string
	tolerance time.Duration
}

func (v *timestampedVerifier) Provider() Provider {
	return v.provider
}

func (v *timestampedVerifier) Verify(r *http.Request, body []byte, now time.Time) error {
	header := r.Header.Get(v.header)
	if header == "" {
		return fmt.Errorf("%s: %w", v.provider, ErrMissingSignature)
	}
	if err := Verify(v.secret, header, body, v.tolerance, now); err != nil {
		return fmt.Errorf("%s: %w", v.provider, err)
	}
	return nil
}

// splitHeaderVerifier carries the timestamp in its own header and signs
// "<timestamp><body>" with HMAC-SHA256, base64 encoded.
type splitHeaderVerifier struct {
	provider        Provider
	signatureHeader string
	timestampHeader string
	secret          string
	tolerance       time.Duration
}

func (v *splitHeaderVerifier) Provider() Provider {
	return v.provider
}

func (v *splitHeaderVerifier) Verify(r *http.Request, body []byte, now time.Time) error {
	sig := r.Header.Get(v.signatureHeader)
	if sig == "" {
		return fmt.Errorf("%s: %w", v.provider, ErrMissingSignature)
	}
	rawTS := r.Header.Get(v.timestampHeader)
	if rawTS == "" {
		return fmt.Errorf("%s: %w", v.provider, ErrMissingSignature)
	}
	timestamp, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", v.provider, ErrMalformedHeader)
	}
	if err := CheckFreshness(timestamp, v.tolerance, now); err != nil {
		return fmt.Errorf("%s: %w", v.provider, err)
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(rawTS))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !ConstantTimeEqual([]byte(expected), []byte(sig)) {
		return fmt.Errorf("%s: %w", v.provider, ErrInvalidSignature)
	}
	return nil
}

// formVerifier signs the absolute request URL plus the sorted concatenation
// of form parameters with HMAC-SHA1, base64 encoded. The scheme carries no
// timestamp, so replay protection is unavailable for it.
type formVerifier struct {
	provider  Provider
	header    string
	authToken string
	baseURL   string
}

func (v *formVerifier) Provider() Provider {
	return v.provider
}

func (v *formVerifier) Verify(r *http.Request, body []byte, _ time.Time) error {
	sig := r.Header.Get(v.header)
	if sig == "" {
		return fmt.Errorf("%s: %w", v.provider, ErrMissingSignature)
	}

	params, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("%s: %w", v.provider, ErrMalformedHeader)
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(v.baseURL + r.URL.RequestURI()))
	for _, key := range keys {
		for _, value := range params[key] {
			mac.Write([]byte(key))
			mac.Write([]byte(value))
		}
	}
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !ConstantTimeEqual([]byte(expected), []byte(sig)) {
		return fmt.Errorf("%s: %w", v.provider, ErrInvalidSignature)
	}
	return nil
}
