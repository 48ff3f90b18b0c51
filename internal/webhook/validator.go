// Package webhook implements request authentication for the inbound callback
// endpoint. Callers sign the raw body together with a timestamp header using
// HMAC-SHA256; the validator recomputes the signature, compares it in
// constant time, and enforces a replay window on the timestamp.
//
// Signature scheme (matches the transport provider's convention):
//
//	X-Webhook-Signature: hex(HMAC-SHA256(secret, "{timestamp}.{rawBody}"))
//	X-Webhook-Timestamp: Unix timestamp in seconds or milliseconds
//
// An optional "sha256=" prefix on the signature header is accepted.
//
// The validator never panics or returns Go errors: every outcome is a
// discriminated Result with a stable machine-readable code, so the endpoint
// can respond deterministically and security monitoring can alert per cause
// without string-matching error text.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Failure codes. Stable: logged, alerted on, and returned to callers.
const (
	CodeSecretMissing      = "webhook_secret_missing"
	CodeSignatureMissing   = "signature_missing"
	CodeTimestampMissing   = "timestamp_missing"
	CodeTimestampMalformed = "timestamp_malformed"
	CodeTimestampExpired   = "timestamp_expired"
	CodeSignatureInvalid   = "signature_invalid"
)

// Header names carried on signed provider requests.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
)

// DefaultMaxAge is the replay-protection window applied when Input.MaxAge is
// zero. Timestamps older or newer than this are rejected symmetrically.
const DefaultMaxAge = 300 * time.Second

// Input carries everything needed to validate one inbound request.
type Input struct {
	// Body is the raw request body, exactly as received.
	Body []byte
	// Signature is the value of the signature header (may carry a "sha256=" prefix).
	Signature string
	// Timestamp is the value of the timestamp header, seconds or milliseconds.
	Timestamp string
	// Secret is the shared HMAC secret. Empty means no secret is configured.
	Secret string
	// RequireSecret rejects requests when no secret is configured. When
	// false, an empty secret accepts everything (local/offline mode).
	RequireSecret bool
	// MaxAge overrides the replay window; zero means DefaultMaxAge.
	MaxAge time.Duration
}

// Result is the discriminated outcome of a validation.
type Result struct {
	OK      bool
	Status  int    // HTTP status to respond with when !OK
	Code    string // stable machine-readable code when !OK
	Message string // human-readable detail when !OK
}

func ok() Result { return Result{OK: true} }

func failed(status int, code, msg string) Result {
	return Result{Status: status, Code: code, Message: msg}
}

// Validate authenticates one inbound callback. See the package comment for
// the signature scheme and failure codes.
func Validate(in Input) Result {
	if in.Secret == "" {
		if in.RequireSecret {
			return failed(http.StatusInternalServerError, CodeSecretMissing, "webhook secret is not configured")
		}
		return ok()
	}

	if strings.TrimSpace(in.Signature) == "" {
		return failed(http.StatusUnauthorized, CodeSignatureMissing, "signature header is missing")
	}
	if strings.TrimSpace(in.Timestamp) == "" {
		return failed(http.StatusUnauthorized, CodeTimestampMissing, "timestamp header is missing")
	}

	tsMillis, valid := parseTimestamp(in.Timestamp)
	if !valid {
		return failed(http.StatusBadRequest, CodeTimestampMalformed, "timestamp is not a positive number")
	}

	maxAge := in.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	age := time.Since(time.UnixMilli(tsMillis))
	if age < 0 {
		age = -age
	}
	if age > maxAge {
		return failed(http.StatusUnauthorized, CodeTimestampExpired, "timestamp outside the allowed replay window")
	}

	provided := strings.TrimPrefix(strings.TrimSpace(in.Signature), "sha256=")
	expected := Sign(in.Secret, in.Timestamp, in.Body)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return failed(http.StatusUnauthorized, CodeSignatureInvalid, "signature does not match payload")
	}

	return ok()
}

// Sign computes the hex signature for the given secret, timestamp header
// value, and raw body. Exposed so tests and outbound webhook senders can
// produce valid signatures.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseTimestamp accepts Unix seconds or milliseconds and normalizes to
// milliseconds. Values up to 10 digits are treated as seconds project-wide;
// anything longer as milliseconds.
func parseTimestamp(raw string) (millis int64, valid bool) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	if len(raw) <= 10 {
		return n * 1000, true
	}
	return n, true
}
