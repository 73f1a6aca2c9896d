package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/onboarding/internal/agent"
	"github.com/antoniostano/onboarding/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "agent not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.logger.Debug().Err(err).Msg("ws_write_failed")
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(s.cfg.MaxUploadBytes*2 + (1 << 16))
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		var out any
		if turn, err := protocol.ParseClientMessage(data); err != nil {
			out = protocol.NewErrorEvent("", "invalid_client_message", err.Error(), false)
		} else {
			out = s.runTurn(ctx, turn)
		}

		select {
		case <-ctx.Done():
			break readLoop
		case outbound <- out:
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) runTurn(ctx context.Context, turn protocol.Turn) any {
	if int64(len(turn.File)) > s.cfg.MaxUploadBytes {
		return protocol.NewErrorEvent(turn.RequestID, "upload_too_large", errUploadTooLarge.Error(), false)
	}
	reply, err := s.agent.Run(ctx, turn.UserInput, turn.UserID, turn.File)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", turn.UserID).Msg("ws_turn_failed")
		code := "agent_error"
		if errors.Is(err, agent.ErrInternal) {
			code = "internal_error"
		}
		return protocol.NewErrorEvent(turn.RequestID, code, err.Error(), false)
	}
	return protocol.TurnResult{Type: protocol.TypeTurnResult, RequestID: turn.RequestID, Response: reply}
}
