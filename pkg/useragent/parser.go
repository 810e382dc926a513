// Package useragent turns raw User-Agent headers into browser, OS and device fields.
package useragent

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/ua-parser/uap-go/uaparser"
)

// unknownFamily is what uap-core reports when no regex matched.
const unknownFamily = "Other"

// Result holds the best-effort parse of one user-agent string.
// A nil field means the parser could not determine it.
type Result struct {
	BrowserFamily  *string
	BrowserVersion *string
	OSFamily       *string
	OSVersion      *string
	DeviceBrand    *string
	DeviceFamily   *string
	DeviceModel    *string
}

// Parser extracts fingerprint fields from a raw user-agent string.
type Parser interface {
	Parse(raw string) Result
}

// UAPParser is backed by the uap-core regex set bundled with uap-go.
type UAPParser struct {
	parser *uaparser.Parser
}

// NewUAPParser loads the bundled regex definitions.
func NewUAPParser() *UAPParser {
	return &UAPParser{parser: uaparser.NewFromSaved()}
}

// Parse never fails; fields the parser cannot resolve are left nil.
func (p *UAPParser) Parse(raw string) (res Result) {
	defer func() {
		if recover() != nil {
			res = Result{}
		}
	}()

	client := p.parser.Parse(raw)
	if client == nil {
		return Result{}
	}

	if ua := client.UserAgent; ua != nil && known(ua.Family) {
		res.BrowserFamily = strPtr(ua.Family)
		res.BrowserVersion = strPtr(Version(ua.Major, ua.Minor, ua.Patch))
	}
	if os := client.Os; os != nil && known(os.Family) {
		res.OSFamily = strPtr(os.Family)
		res.OSVersion = strPtr(Version(os.Major, os.Minor, os.Patch))
	}
	if dev := client.Device; dev != nil {
		if known(dev.Family) {
			res.DeviceFamily = strPtr(dev.Family)
		}
		if dev.Brand != "" {
			res.DeviceBrand = strPtr(dev.Brand)
		}
		if dev.Model != "" {
			res.DeviceModel = strPtr(dev.Model)
		}
	}
	return res
}

// Version joins major.minor.patch, defaulting missing components to 0.
func Version(major, minor, patch string) string {
	return orZero(major) + "." + orZero(minor) + "." + orZero(patch)
}

// Hash returns the fingerprint identifier of a raw user-agent string.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Truncate cuts raw to at most maxBytes without splitting a UTF-8 sequence.
func Truncate(raw string, maxBytes int) string {
	if len(raw) <= maxBytes {
		return raw
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return raw[:cut]
}

func known(family string) bool {
	return family != "" && family != unknownFamily
}

func orZero(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "0"
	}
	return s
}

func strPtr(s string) *string {
	return &s
}
