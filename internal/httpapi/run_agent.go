package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/antoniostano/onboarding/internal/agent"
)

type runAgentRequest struct {
	UserInput string `json:"user_input"`
	UserID    string `json:"user_id"`
}

type runAgentResponse struct {
	Response string `json:"response"`
}

var errUploadTooLarge = errors.New("upload too large")

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "agent not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))

	req, file, err := s.parseRunAgent(r)
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload_too_large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := s.agent.Run(r.Context(), req.UserInput, req.UserID, file)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("run_agent_failed")
		code := "agent_error"
		if errors.Is(err, agent.ErrInternal) {
			code = "internal_error"
		}
		respondError(w, http.StatusInternalServerError, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, runAgentResponse{Response: reply})
}

func (s *Server) parseRunAgent(r *http.Request) (runAgentRequest, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var req runAgentRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			return runAgentRequest{}, nil, err
		}
		return req, nil, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			return runAgentRequest{}, nil, formError(err)
		}
		req := runAgentRequest{
			UserInput: r.FormValue("user_input"),
			UserID:    r.FormValue("user_id"),
		}
		f, _, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil, nil
		}
		if err != nil {
			return runAgentRequest{}, nil, fmt.Errorf("read file field: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		if err != nil {
			return runAgentRequest{}, nil, fmt.Errorf("read file field: %w", err)
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			return runAgentRequest{}, nil, errUploadTooLarge
		}
		return req, data, nil

	default:
		if err := r.ParseForm(); err != nil {
			return runAgentRequest{}, nil, formError(err)
		}
		return runAgentRequest{
			UserInput: r.FormValue("user_input"),
			UserID:    r.FormValue("user_id"),
		}, nil, nil
	}
}

func formError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "too large") {
		return errUploadTooLarge
	}
	return fmt.Errorf("parse form: %w", err)
}
