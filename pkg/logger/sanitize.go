package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"strings"
)

// Redacted replaces sensitive values in log output
const Redacted = "REDACTED"

// query parameters that verification links and clients put secrets or addresses in
var sensitiveParams = map[string]bool{
	"code":     true,
	"token":    true,
	"email":    true,
	"password": true,
	"secret":   true,
}

// SanitizedEmail masks an email address for logging: "user@example.com" becomes
// "u***@*******.com". The TLD is kept so that domains stay roughly recognizable.
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if dot := strings.LastIndexByte(domain, '.'); dot > 0 {
		domain = mask(domain[:dot], 0) + domain[dot:]
	}
	return mask(local, 1) + "@" + domain
}

// mask keeps the first keep runes of s and stars the rest, dots excepted
func mask(s string, keep int) string {
	var b strings.Builder
	i := 0
	for _, r := range s {
		if i < keep || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteByte('*')
		}
		i++
	}
	return b.String()
}

// RedactQuery returns rawQuery with the values of sensitive parameters replaced.
// Parameter order is preserved. A pair whose name cannot be decoded is redacted whole.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		rawKey, _, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			pairs[i] = Redacted
			continue
		}
		if sensitiveParams[strings.ToLower(strings.TrimSpace(key))] {
			pairs[i] = rawKey + "=" + Redacted
		}
	}
	return strings.Join(pairs, "&")
}

// CodeAttr logs a verification code as a short sha256 prefix, enough to
// correlate log lines without making the code usable.
func CodeAttr(key, code string) slog.Attr {
	if code == "" {
		return slog.String(key, "")
	}
	sum := sha256.Sum256([]byte(code))
	return slog.String(key, "sha256:"+hex.EncodeToString(sum[:6]))
}
