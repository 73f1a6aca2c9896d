package intent

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Intent is the classified category of a user message.
type Intent string

const (
	ImportTenants Intent = "import_tenants"
	SetupPayments Intent = "setup_payments"
	Unknown       Intent = "unknown"
)

// All lists every intent a classifier may return.
var All = []Intent{ImportTenants, SetupPayments, Unknown}

// ParseIntent normalizes a label. Anything outside the known set is Unknown.
func ParseIntent(label string) Intent {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.Trim(l, `"'.`)
	switch Intent(l) {
	case ImportTenants, SetupPayments:
		return Intent(l)
	default:
		return Unknown
	}
}

func (i Intent) Valid() bool {
	switch i {
	case ImportTenants, SetupPayments, Unknown:
		return true
	default:
		return false
	}
}

// Classifier maps free text to an Intent.
type Classifier interface {
	Classify(ctx context.Context, userInput, contextHint string) (Intent, error)
}

// Config controls classifier construction.
type Config struct {
	Mode    string
	HTTPURL string
	Static  Intent
	Timeout time.Duration
}

// New builds the classifier named by cfg.Mode. The result is not guarded; wrap it with NewGuard.
func New(cfg Config) (Classifier, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPClassifier(cfg.HTTPURL, cfg.Timeout), nil
		}
		return NewKeywordClassifier(), nil
	case "keyword":
		return NewKeywordClassifier(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("intent HTTP url is required for http mode")
		}
		return NewHTTPClassifier(cfg.HTTPURL, cfg.Timeout), nil
	case "static":
		return NewStaticClassifier(cfg.Static), nil
	default:
		return nil, fmt.Errorf("unsupported intent classifier mode %q", cfg.Mode)
	}
}

// StaticClassifier always returns the same intent.
type StaticClassifier struct {
	intent Intent
}

func NewStaticClassifier(i Intent) *StaticClassifier {
	if !i.Valid() {
		i = Unknown
	}
	return &StaticClassifier{intent: i}
}

func (c *StaticClassifier) Classify(ctx context.Context, _, _ string) (Intent, error) {
	select {
	case <-ctx.Done():
		return Unknown, ctx.Err()
	default:
	}
	return c.intent, nil
}
