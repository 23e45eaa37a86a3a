package paymentwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

// DefaultTolerance is the accepted clock skew between the signed timestamp
// and now.
const DefaultTolerance = 300 * time.Second

var (
	ErrInvalidSignature = errors.New("webhook signature invalid")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// Verifier authenticates processor webhook deliveries. It works on the raw
// request body; nothing is parsed before Verify succeeds.
type Verifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier. A non-positive tolerance falls back to
// DefaultTolerance and a nil clock to time.Now.
func NewVerifier(tolerance time.Duration, now func() time.Time) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{tolerance: tolerance, now: now}
}

// Verify checks header ("t=<unix>,v1=<hex>[,v1=<hex>]") against an
// HMAC-SHA256 of "<t>.<payload>" keyed by secret, then checks the timestamp.
func (v *Verifier) Verify(payload []byte, header, secret string) error {
	ts, signatures, ok := parseHeader(header)
	if !ok || secret == "" {
		return invalidSignature()
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return invalidSignature()
	}

	// Bounds are computed from now so an extreme t cannot overflow the
	// comparison.
	now, tol := v.now().Unix(), int64(v.tolerance/time.Second)
	if ts > now+tol || ts < now-tol {
		return pkgerrors.Wrap(pkgerrors.CodeStaleTimestamp, ErrStaleTimestamp, "webhook timestamp outside tolerance")
	}
	return nil
}

func invalidSignature() error {
	return pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, ErrInvalidSignature, "webhook signature invalid")
}

func parseHeader(header string) (int64, [][]byte, bool) {
	var (
		ts         int64
		haveTS     bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, false
			}
			ts, haveTS = parsed, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	return ts, signatures, haveTS && len(signatures) > 0
}
