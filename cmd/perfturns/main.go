package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/onboarding/internal/protocol"
)

type options struct {
	baseURL        string
	userID         string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	file           []byte
	verbose        bool
}

type summary struct {
	Turns  int
	Errors int
	P50    time.Duration
	P95    time.Duration
	Max    time.Duration
}

var defaultUtterances = []string{
	"I want to upload tenant info",
	"import my tenants from a spreadsheet",
	"help me set up payments",
	"what can you do?",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfturns: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "perfturns: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("perfturns", flag.ContinueOnError)
	var cfg options
	var textsRaw, filePath string
	var interTurnMS, turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8003", "onboarding service base URL")
	fs.StringVar(&cfg.userID, "user-id", "", "user_id for replayed turns (default: random per run)")
	fs.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 50, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 10000, "timeout waiting for each reply in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.StringVar(&filePath, "file", "", "tenant CSV/XLSX attached to every turn (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if strings.TrimSpace(cfg.userID) == "" {
		cfg.userID = "perf-" + uuid.NewString()[:8]
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 100 {
		turnTimeoutMS = 100
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	cfg.texts = splitTexts(textsRaw)
	if len(cfg.texts) == 0 {
		if strings.TrimSpace(textsRaw) != "" {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
		cfg.texts = append([]string(nil), defaultUtterances...)
	}

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return options{}, fmt.Errorf("read file: %w", err)
		}
		cfg.file = data
	}
	return cfg, nil
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func run(cfg options, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	wsURL, err := agentWSURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.verbose {
		fmt.Fprintf(out, "perfturns: user=%s turns=%d file=%dB\n", cfg.userID, cfg.turns, len(cfg.file))
	}

	latencies := make([]time.Duration, 0, cfg.turns)
	errCount := 0
	for i := 0; i < cfg.turns; i++ {
		req := protocol.Turn{
			Type:      protocol.TypeTurn,
			RequestID: uuid.NewString(),
			UserInput: cfg.texts[i%len(cfg.texts)],
			UserID:    cfg.userID,
			File:      cfg.file,
		}
		started := time.Now()
		reply, err := roundTrip(conn, req, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		elapsed := time.Since(started)
		latencies = append(latencies, elapsed)
		if reply.Type == protocol.TypeErrorEvent {
			errCount++
		}
		if cfg.verbose {
			text := reply.Response
			if reply.Type == protocol.TypeErrorEvent {
				text = reply.Code + ": " + reply.Detail
			}
			fmt.Fprintf(out, "turn %02d %6.1fms %q -> %q\n", i+1, float64(elapsed.Microseconds())/1000, req.UserInput, text)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	s := summarize(latencies, errCount)
	fmt.Fprintf(out, "perfturns: turns=%d errors=%d p50=%s p95=%s max=%s\n", s.Turns, s.Errors, s.P50, s.P95, s.Max)

	if stages, err := fetchStages(ctx, cfg.baseURL); err == nil {
		fmt.Fprintf(out, "server stages: %s\n", stages)
	} else if cfg.verbose {
		fmt.Fprintf(out, "server stages unavailable: %v\n", err)
	}
	return nil
}

// turnReply holds either a turn_result or an error_event.
type turnReply struct {
	protocol.TurnResult
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func roundTrip(conn *websocket.Conn, req protocol.Turn, timeout time.Duration) (turnReply, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteJSON(req); err != nil {
		return turnReply{}, fmt.Errorf("write: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		var reply turnReply
		if err := conn.ReadJSON(&reply); err != nil {
			return turnReply{}, fmt.Errorf("read: %w", err)
		}
		if reply.RequestID == "" || reply.RequestID == req.RequestID {
			return reply, nil
		}
	}
}

func agentWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/agent/ws"
	return u.String(), nil
}

func fetchStages(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", res.StatusCode)
	}
	var payload json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", err
	}
	if len(payload) == 0 {
		return "", errors.New("empty body")
	}
	return string(payload), nil
}

func summarize(latencies []time.Duration, errCount int) summary {
	s := summary{Turns: len(latencies), Errors: errCount}
	if len(latencies) == 0 {
		return s
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	s.P50 = nearestRank(sorted, 0.50)
	s.P95 = nearestRank(sorted, 0.95)
	s.Max = sorted[len(sorted)-1]
	return s
}

func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(q*float64(len(sorted))+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
