package conversation

import (
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// NormalizePhone validates raw and returns its E.164 form.
//
// Ten-digit numbers are assumed to be North American and get a +1 prefix.
// Everything else keeps its digits behind a single +.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", Validationf("phone number is required")
	}
	if !e164Pattern.MatchString(stripPhone(trimmed, true)) {
		return "", Validationf("invalid phone number format %q", raw)
	}

	digits := stripPhone(trimmed, false)
	if len(digits) == 10 {
		return "+1" + digits, nil
	}
	return "+" + digits, nil
}

// stripPhone drops every character except digits, and a leading + when keepPlus is set.
func stripPhone(s string, keepPlus bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && keepPlus && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
