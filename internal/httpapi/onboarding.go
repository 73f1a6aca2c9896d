package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type setupCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	IntentMode string       `json:"intent_mode"`
	StoreMode  string       `json:"store_mode"`
	Directory  bool         `json:"profile_directory"`
	KnownUsers int          `json:"known_users"`
	Checks     []setupCheck `json:"checks"`
}

// handleOnboardingStatus reports how this instance is wired so operators can spot gaps.
func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	mode := strings.ToLower(strings.TrimSpace(s.cfg.IntentMode))
	if mode == "" {
		mode = "auto"
	}

	checks := make([]setupCheck, 0, 4)
	checks = append(checks, s.intentChecks(mode)...)
	checks = append(checks, s.storeCheck())
	checks = append(checks, s.directoryCheck())

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		IntentMode: mode,
		StoreMode:  s.storeMode(),
		Directory:  strings.TrimSpace(s.cfg.UserDirectoryURL) != "",
		KnownUsers: s.knownUsers(),
		Checks:     checks,
	})
}

func (s *Server) intentChecks(mode string) []setupCheck {
	rawURL := strings.TrimSpace(s.cfg.IntentHTTPURL)
	switch {
	case mode == "static":
		return []setupCheck{{
			ID:     "intent_classifier",
			Status: "warn",
			Label:  "Intent classifier is static",
			Detail: "Every message resolves to the same intent.",
			Fix:    "Set INTENT_MODE=auto and INTENT_HTTP_URL to use a model classifier.",
		}}
	case mode == "keyword" || (mode == "auto" && rawURL == ""):
		return []setupCheck{{
			ID:     "intent_classifier",
			Status: "warn",
			Label:  "Intent classifier",
			Detail: "keyword heuristics",
			Fix:    "Set INTENT_HTTP_URL to route classification through a model endpoint.",
		}}
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []setupCheck{{
			ID:     "intent_classifier",
			Status: "error",
			Label:  "Intent classifier URL",
			Detail: fmt.Sprintf("invalid URL %q", rawURL),
			Fix:    "Set INTENT_HTTP_URL to an absolute http(s) URL.",
		}}
	}
	return []setupCheck{{
		ID:     "intent_classifier",
		Status: "ok",
		Label:  "Intent classifier",
		Detail: fmt.Sprintf("http (%s, timeout %s)", u.Host, s.cfg.IntentTimeout),
	}}
}

func (s *Server) storeCheck() setupCheck {
	switch mode := s.storeMode(); mode {
	case "postgres":
		return setupCheck{ID: "conversation_log", Status: "ok", Label: "Conversation log", Detail: "postgres"}
	case "in-memory":
		return setupCheck{
			ID:     "conversation_log",
			Status: "warn",
			Label:  "Conversation log",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to persist the conversation log across restarts.",
		}
	default:
		return setupCheck{ID: "conversation_log", Status: "error", Label: "Conversation log", Detail: mode}
	}
}

func (s *Server) directoryCheck() setupCheck {
	if strings.TrimSpace(s.cfg.UserDirectoryURL) == "" {
		return setupCheck{
			ID:     "profile_directory",
			Status: "warn",
			Label:  "User directory",
			Detail: "disabled; user_type stays empty",
			Fix:    "Set USER_DIRECTORY_URL to fill user_type on first contact.",
		}
	}
	return setupCheck{
		ID:     "profile_directory",
		Status: "ok",
		Label:  "User directory",
		Detail: fmt.Sprintf("cached for %s", s.cfg.UserDirectoryCacheTTL),
	}
}
