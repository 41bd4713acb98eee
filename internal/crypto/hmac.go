package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for signed exchange REST requests.
type HMACAuth struct {
	Key    string
	Secret string
}

// SignQuery stamps params with the current timestamp and recvWindow (when
// positive) and returns the encoded query with the signature appended.
func (h *HMACAuth) SignQuery(params url.Values, recvWindow time.Duration) string {
	return h.SignQueryAt(params, recvWindow, time.Now().UnixMilli())
}

// SignQueryAt is like SignQuery but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (h *HMACAuth) SignQueryAt(params url.Values, recvWindow time.Duration, unixMilli int64) string {
	if params == nil {
		params = url.Values{}
	}
	if recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}
	params.Set("timestamp", strconv.FormatInt(unixMilli, 10))

	query := params.Encode()
	return query + "&signature=" + hmacSHA256Hex([]byte(h.Secret), query)
}

// Headers returns the HTTP headers that identify the API key.
func (h *HMACAuth) Headers() map[string]string {
	return map[string]string{"X-MBX-APIKEY": h.Key}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// lowercase hex digest.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
