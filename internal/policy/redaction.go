// Package policy masks personal data before user text reaches logs.
package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ibanPattern  = regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){3,7}(?: ?[A-Z0-9]{1,3})?\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

// minPhoneDigits keeps ISO dates and short references out of phone matches.
const minPhoneDigits = 9

// redactors run in order: IBANs before cards, cards before phones.
var redactors = []struct {
	pattern *regexp.Regexp
	marker  string
	accept  func(match string) bool
}{
	{emailPattern, "[REDACTED_EMAIL]", nil},
	{ibanPattern, "[REDACTED_IBAN]", nil},
	{cardPattern, "[REDACTED_CARD]", nil},
	{phonePattern, "[REDACTED_PHONE]", looksLikePhone},
}

func looksLikePhone(match string) bool {
	if strings.HasPrefix(match, "+") {
		return true
	}
	digits := 0
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits
}

// RedactPII masks emails, card numbers, IBANs and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactors {
		var next string
		if r.accept == nil {
			next = r.pattern.ReplaceAllString(out, r.marker)
		} else {
			next = r.pattern.ReplaceAllStringFunc(out, func(m string) string {
				if r.accept(m) {
					return r.marker
				}
				return m
			})
		}
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// ForLog redacts input and truncates it to at most maxRunes runes.
func ForLog(input string, maxRunes int) string {
	out, _ := RedactPII(input)
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:maxRunes]) + "…"
}
