package auth

import (
	"net/url"
	"regexp"
	"strings"
)

// idShape matches the id grammar required of every caller-supplied client,
// room, and channel id.
var idShape = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id matches the broker's id grammar.
func ValidID(id string) bool {
	return idShape.MatchString(id)
}

// MaxMessageTextChars bounds RoomMessage.text length.
const MaxMessageTextChars = 10_000

// ValidMessageText reports whether text is non-empty and within the
// per-message character bound.
func ValidMessageText(text string) bool {
	if text == "" {
		return false
	}
	return len([]rune(text)) <= MaxMessageTextChars
}

// MaxMessageBytes bounds a serialized routing-path Message.
const MaxMessageBytes = 10 * 1024

// filenameUnsafe matches any character not in the safe charset.
var filenameUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename strips path separators and reduces a filename to a safe
// charset, never silently accepting path traversal sequences.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.TrimPrefix(name, ".")
	name = filenameUnsafe.ReplaceAllString(name, "_")
	if name == "" {
		name = "file"
	}
	return name
}

// GetAllowedOriginsFromEnv parses a comma-separated origin list, falling
// back to def when unset.
func GetAllowedOriginsFromEnv(raw string, def []string) []string {
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// OriginAllowed checks a request Origin header against an allow-list using
// scheme+host comparison, the same logic the teacher applies in its
// WebSocket CheckOrigin callback.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true // non-browser clients (CLI/daemon agents) send no Origin
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		allowedURL, err := url.Parse(a)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}
