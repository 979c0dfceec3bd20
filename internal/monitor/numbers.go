package monitor

import (
	"regexp"
	"strings"
)

// extenPattern is the canonical shape of a monitored extension number.
// Switch-internal feature codes (*47*..., BLF prefixes) never match it.
var extenPattern = regexp.MustCompile(`^\d{3,5}$`)

// channelExten extracts the extension from a channel name like
// "PJSIP/1001-00000abc"; tech prefix and allocation suffix are stripped.
var channelExten = regexp.MustCompile(`^[A-Za-z0-9_]+/(\d{3,5})-`)

// NormalizeNumber strips everything but digits and a leading "+" from a
// phone number. A value containing the word "unknown" (any case) normalizes
// to empty, matching the switch's placeholder caller IDs.
func NormalizeNumber(s string) string {
	if strings.Contains(strings.ToLower(s), "unknown") {
		return ""
	}
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// digitCount returns the number of digits in the normalized form.
func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// LooksExternal reports whether the value normalizes to a number long enough
// to be an outside party rather than an internal endpoint.
func LooksExternal(s string) bool {
	return digitCount(NormalizeNumber(s)) >= 6
}

// IsExtension reports whether the value is a bare 3-5 digit extension number.
func IsExtension(s string) bool {
	return extenPattern.MatchString(s)
}

// AgentExtenFromChannel extracts the owning extension from a channel name,
// or "" when the channel does not belong to a monitored endpoint.
func AgentExtenFromChannel(channel string) string {
	m := channelExten.FindStringSubmatch(channel)
	if m == nil {
		return ""
	}
	return m[1]
}

// DialTarget extracts the dialed number from a dial string like
// "PJSIP/35912345678" or "Local/1001@from-internal".
func DialTarget(dialString string) string {
	s := dialString
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.Index(s, "@"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// firstExternal returns the normalized form of the first candidate that
// looks like an outside number, or "".
func firstExternal(candidates ...string) string {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if LooksExternal(c) {
			return NormalizeNumber(c)
		}
	}
	return ""
}
