package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnrecognizedLabel is returned when a model answers with a label outside the intent set.
var ErrUnrecognizedLabel = errors.New("unrecognized intent label")

type classifyRequest struct {
	UserInput string   `json:"user_input"`
	Context   string   `json:"context,omitempty"`
	Labels    []Intent `json:"labels"`
	Prompt    string   `json:"prompt"`
}

// HTTPClassifier asks an external model endpoint to label the message.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

func NewHTTPClassifier(url string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, userInput, contextHint string) (Intent, error) {
	payload, err := json.Marshal(classifyRequest{
		UserInput: userInput,
		Context:   contextHint,
		Labels:    All,
		Prompt:    buildPrompt(userInput, contextHint),
	})
	if err != nil {
		return Unknown, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Unknown, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Unknown, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return Unknown, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Unknown, fmt.Errorf("classifier http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	label := strings.TrimSpace(string(body))
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		label = extractLabel(obj)
	}
	if label == "" {
		return Unknown, fmt.Errorf("%w: empty response", ErrUnrecognizedLabel)
	}

	got := ParseIntent(label)
	if got == Unknown && !strings.EqualFold(strings.Trim(strings.TrimSpace(label), `"'.`), string(Unknown)) {
		return Unknown, fmt.Errorf("%w: %q", ErrUnrecognizedLabel, label)
	}
	return got, nil
}

func buildPrompt(userInput, contextHint string) string {
	return fmt.Sprintf(
		"Given the following user message: '%s'\nAnd context: '%s'\nClassify the intent as one of: ['import_tenants', 'setup_payments', 'unknown'].\nReturn intent only.",
		userInput, contextHint,
	)
}

func extractLabel(obj map[string]any) string {
	for _, k := range []string{"intent", "label", "text", "output"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
