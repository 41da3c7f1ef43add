package prediction

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"

	secretPrefix     = "whsec_"
	DefaultTolerance = 5 * time.Minute
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrNotConfigured    = errors.New("webhook_not_configured")
)

// DecodeSecret strips the whsec_ prefix and base64-decodes the signing key.
func DecodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNotConfigured
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil || len(key) == 0 {
		return nil, ErrNotConfigured
	}
	return key, nil
}

// VerifySignature checks a signed webhook delivery. The signature header is a
// space separated list of "v1,<base64 hmac>" entries over id.timestamp.body.
func VerifySignature(payload []byte, headers http.Header, key []byte, now time.Time, tolerance time.Duration) error {
	if len(key) == 0 {
		return ErrNotConfigured
	}
	id := strings.TrimSpace(headers.Get(HeaderID))
	timestamp := strings.TrimSpace(headers.Get(HeaderTimestamp))
	signatures := strings.TrimSpace(headers.Get(HeaderSignature))
	if id == "" || timestamp == "" || signatures == "" {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrInvalidSignature
		}
	}

	expected := sign(key, id, timestamp, payload)
	for _, entry := range strings.Fields(signatures) {
		version, signature, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func sign(key []byte, id, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(id + "." + timestamp + "."))
	_, _ = mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
