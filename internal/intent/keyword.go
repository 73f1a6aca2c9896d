package intent

import (
	"context"
	"regexp"
	"strings"
)

var (
	importPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(import|upload|add|load|bring in|migrate)\b.*\b(tenants?|renters?|residents?|leases?)\b`),
		regexp.MustCompile(`(?i)\b(tenants?|renters?|residents?)\b.*\b(csv|spreadsheet|file|list|info|data)\b`),
		regexp.MustCompile(`(?i)\b(csv|spreadsheet)\b`),
	}
	paymentKeywords = []string{
		"payment", "payments", "pay rent", "rent collection", "collect rent",
		"bank account", "payout", "payouts", "billing", "invoice", "stripe", "ach",
	}
)

// KeywordClassifier is a deterministic heuristic matcher.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (c *KeywordClassifier) Classify(ctx context.Context, userInput, _ string) (Intent, error) {
	select {
	case <-ctx.Done():
		return Unknown, ctx.Err()
	default:
	}
	return matchKeywords(userInput), nil
}

func matchKeywords(input string) Intent {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" {
		return Unknown
	}

	for _, kw := range paymentKeywords {
		if containsWord(in, kw) {
			return SetupPayments
		}
	}
	for _, re := range importPatterns {
		if re.MatchString(in) {
			return ImportTenants
		}
	}
	return Unknown
}

func containsWord(in, kw string) bool {
	idx := strings.Index(in, kw)
	for idx >= 0 {
		end := idx + len(kw)
		startOK := idx == 0 || !isWordByte(in[idx-1])
		endOK := end == len(in) || !isWordByte(in[end])
		if startOK && endOK {
			return true
		}
		next := strings.Index(in[idx+1:], kw)
		if next < 0 {
			return false
		}
		idx += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
