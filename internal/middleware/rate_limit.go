package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/BradenHooton/authemail/internal/models"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
	"github.com/go-chi/httprate"
)

// maxKeyBody bounds how much of a request body is read to find the email key
const maxKeyBody = 64 << 10

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// IPConfig decides which proxies may supply the client address
	IPConfig *pkghttp.IPConfig
}

// DefaultLoginRateLimit returns the default per-IP login limit (10 requests per minute)
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// RateLimitByIP limits requests per client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(clientIPKey(config.IPConfig)),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByEmail limits requests per submitted email address, so one account
// cannot be brute-forced from many addresses. Requests without an email fall back to the client IP.
func RateLimitByEmail(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(emailKey(config.IPConfig)),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func clientIPKey(ipConfig *pkghttp.IPConfig) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		return "ip:" + pkghttp.ExtractClientIP(r, ipConfig), nil
	}
}

func emailKey(ipConfig *pkghttp.IPConfig) httprate.KeyFunc {
	fallback := clientIPKey(ipConfig)
	return func(r *http.Request) (string, error) {
		if r.Body == nil {
			return fallback(r)
		}
		head, err := io.ReadAll(io.LimitReader(r.Body, maxKeyBody))
		if err != nil {
			return "", err
		}
		r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}

		var body struct {
			Email string `json:"email"`
		}
		if json.Unmarshal(head, &body) != nil {
			return fallback(r)
		}
		email := models.NormalizeEmail(body.Email)
		if email == "" {
			return fallback(r)
		}
		return "email:" + email, nil
	}
}

// replayBody serves the bytes already read, then the rest of the original body
type replayBody struct {
	io.Reader
	io.Closer
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests")
}
