// Package hostname normalizes client-declared host names so that parsers
// and the router agree on a single form.
package hostname

import (
	"strings"

	"golang.org/x/net/idna"
)

// Normalize returns the canonical routing form of a client-supplied host.
//
// Modded clients append data after a NUL (Forge "\x00FML\x00", BungeeCord
// IP forwarding "\x00ip\x00uuid"); everything from the first NUL is dropped.
// The result is lowercased, stripped of one trailing dot and converted to
// its ASCII (punycode) form when it contains IDN labels.
func Normalize(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	if isASCII(s) {
		return s
	}
	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil || ascii == "" {
		return s
	}
	return strings.ToLower(ascii)
}

// SplitHostPort splits "host:port" leniently: a missing or invalid port
// yields ok=false and the input host unchanged.
func SplitHostPort(s string) (host, port string, ok bool) {
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return s, "", false
		}
		host = s[1:end]
		rest := s[end+1:]
		if strings.HasPrefix(rest, ":") && isDigits(rest[1:]) {
			return host, rest[1:], true
		}
		return host, "", false
	}
	i := strings.LastIndexByte(s, ':')
	if i < 0 || strings.IndexByte(s[:i], ':') >= 0 {
		return s, "", false
	}
	if !isDigits(s[i+1:]) {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" || len(s) > 5 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
