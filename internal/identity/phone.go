// Package identity canonicalizes the heterogeneous principal identifiers
// that arrive from transports. The canonical owner token is one of:
// a 10-digit US phone string, "telegram:<id>", or the literal "default".
package identity

import "strings"

// DefaultOwner is the owner token for the system-owner/self-chat context.
const DefaultOwner = "default"

// TelegramPrefix marks transport-native Telegram principals.
const TelegramPrefix = "telegram:"

// Canonical reduces an arbitrary principal string to its owner token.
// Phone-shaped input becomes a bare 10-digit string; telegram:<id> passes
// through unchanged; anything unparseable maps to DefaultOwner.
func Canonical(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultOwner
	}
	if strings.HasPrefix(raw, TelegramPrefix) {
		return raw
	}

	digits := stripNonDigits(raw)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return DefaultOwner
	}
	return digits
}

// E164 renders a canonical token as +1##########. Non-phone tokens are
// returned unchanged; transports that need E.164 must not be handed them.
func E164(owner string) string {
	c := Canonical(owner)
	if !IsPhone(c) {
		return owner
	}
	return "+1" + c
}

// Eleven renders a canonical token in 11-digit form (1##########).
func Eleven(owner string) string {
	c := Canonical(owner)
	if !IsPhone(c) {
		return owner
	}
	return "1" + c
}

// IsPhone reports whether the token is a canonical 10-digit phone.
func IsPhone(owner string) bool {
	if len(owner) != 10 {
		return false
	}
	for i := 0; i < len(owner); i++ {
		if owner[i] < '0' || owner[i] > '9' {
			return false
		}
	}
	return true
}

// IsTelegram reports whether the token is a telegram:<id> principal.
func IsTelegram(owner string) bool {
	return strings.HasPrefix(owner, TelegramPrefix) && len(owner) > len(TelegramPrefix)
}

// TelegramID extracts the numeric id from a telegram:<id> token.
// Returns "" when the token is not a Telegram principal.
func TelegramID(owner string) string {
	if !IsTelegram(owner) {
		return ""
	}
	return owner[len(TelegramPrefix):]
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
