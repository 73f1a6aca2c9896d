package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/onboarding/internal/agent"
	"github.com/antoniostano/onboarding/internal/config"
	"github.com/antoniostano/onboarding/internal/intent"
	"github.com/antoniostano/onboarding/internal/memory"
	"github.com/antoniostano/onboarding/internal/observability"
	"github.com/antoniostano/onboarding/internal/protocol"
	"github.com/antoniostano/onboarding/internal/session"
)

const noEmailCSV = "tenant_name,contract_start\nAda Lovelace,2020-01-01\n"

type fixture struct {
	ts       *httptest.Server
	sessions *session.Store
	log      *memory.InMemoryStore
	metrics  *observability.Metrics
}

func testConfig() config.Config {
	return config.Config{
		AllowedOrigins: []string{"https://app.example"},
		MaxUploadBytes: 1 << 16,
		IntentMode:     "static",
	}
}

func newFixture(t *testing.T, cfg config.Config, runner Runner) fixture {
	t.Helper()
	f := fixture{
		sessions: session.NewStore(),
		log:      memory.NewInMemoryStore(),
		metrics:  observability.NewMetricsWith(prometheus.NewRegistry(), "test_httpapi"),
	}
	if runner == nil {
		runner = agent.New(f.sessions, intent.NewStaticClassifier(intent.ImportTenants), f.log, agent.WithMetrics(f.metrics))
	}
	srv := New(cfg, runner, f.sessions, f.log, f.metrics, zerolog.Nop())
	f.ts = httptest.NewServer(srv.Router())
	t.Cleanup(f.ts.Close)
	return f
}

type failingRunner struct{ err error }

func (r failingRunner) Run(context.Context, string, string, []byte) (string, error) {
	return "", r.err
}

func postMultipart(t *testing.T, target string, fields map[string]string, file []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "tenants.csv")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	res, err := http.Post(target, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	return payload
}

func TestRunAgentMultipart(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	fields := map[string]string{"user_input": "I want to upload tenant info", "user_id": "u1"}

	res := postMultipart(t, f.ts.URL+"/run-agent", fields, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, agent.ReplyUploadPrompt, decodeBody(t, res)["response"])

	res = postMultipart(t, f.ts.URL+"/run-agent", fields, []byte(noEmailCSV))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Missing fields: ['email']", decodeBody(t, res)["response"])

	mem, ok := f.sessions.Snapshot("u1")
	require.True(t, ok)
	assert.Equal(t, []string{"validate_csv"}, mem.FailedAttempts)
}

func TestRunAgentURLEncodedAndJSON(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	res, err := http.PostForm(f.ts.URL+"/run-agent", url.Values{"user_input": {"hi"}, "user_id": {"u2"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, agent.ReplyUploadPrompt, decodeBody(t, res)["response"])

	res, err = http.Post(f.ts.URL+"/run-agent", "application/json", strings.NewReader(`{"user_input":"hi","user_id":"u3"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, agent.ReplyUploadPrompt, decodeBody(t, res)["response"])

	_, ok := f.sessions.Snapshot("u3")
	assert.True(t, ok)
}

func TestRunAgentInvalidJSON(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	res, err := http.Post(f.ts.URL+"/run-agent", "application/json", strings.NewReader(`{"user_input":`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "invalid_request", decodeBody(t, res)["code"])
}

func TestRunAgentInternalError(t *testing.T) {
	f := newFixture(t, testConfig(), failingRunner{err: fmt.Errorf("%w: boom", agent.ErrInternal)})

	res := postMultipart(t, f.ts.URL+"/run-agent", map[string]string{"user_input": "x", "user_id": "u4"}, nil)
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	payload := decodeBody(t, res)
	assert.Equal(t, "internal_error", payload["code"])
	assert.Contains(t, payload["error"], "boom")
}

func TestRunAgentUploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 64
	f := newFixture(t, cfg, nil)

	big := []byte("tenant_name,email,contract_start\n" + strings.Repeat("A,a@x.com,2020-01-01\n", 20))
	res := postMultipart(t, f.ts.URL+"/run-agent", map[string]string{"user_input": "x", "user_id": "u5"}, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	assert.Equal(t, "upload_too_large", decodeBody(t, res)["code"])
}

func TestGetSessionAndConversation(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	res, err := http.Get(f.ts.URL + "/v1/sessions/u6")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	for i := 0; i < 3; i++ {
		r := postMultipart(t, f.ts.URL+"/run-agent", map[string]string{"user_input": "x", "user_id": "u6"}, nil)
		r.Body.Close()
	}

	res, err = http.Get(f.ts.URL + "/v1/sessions/u6")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var mem session.Memory
	require.NoError(t, json.NewDecoder(res.Body).Decode(&mem))
	res.Body.Close()
	assert.Equal(t, "u6", mem.UserID)
	assert.False(t, mem.CSVUploaded)

	res, err = http.Get(f.ts.URL + "/v1/sessions/u6/conversation?limit=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var conv conversationResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&conv))
	res.Body.Close()
	require.Len(t, conv.Entries, 2)
	assert.Equal(t, "prompt_user_to_upload_csv", conv.Entries[0].Action)

	res, err = http.Get(f.ts.URL + "/v1/sessions/u6/conversation?limit=-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()
}

func TestCORS(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/run-agent", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "https://app.example", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", res.Header.Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "https://evil.example")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Empty(t, res.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthReadyAndStatus(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	res, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "in-memory", decodeBody(t, res)["store_mode"])

	res, err = http.Get(f.ts.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ready", decodeBody(t, res)["status"])

	res, err = http.Get(f.ts.URL + "/v1/onboarding/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	payload := decodeBody(t, res)
	assert.Equal(t, "static", payload["intent_mode"])
	checks, ok := payload["checks"].([]any)
	require.True(t, ok)
	assert.Len(t, checks, 3)

	res, err = http.Get(f.ts.URL + "/v1/perf/latency")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("/healthz", "200")))
}

func TestRequestsCountedByRoutePattern(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	for _, id := range []string{"a", "b"} {
		res, err := http.Get(f.ts.URL + "/v1/sessions/" + id)
		require.NoError(t, err)
		res.Body.Close()
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("/v1/sessions/{userID}", "404")))
}

func TestAgentWebSocketTurn(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/agent/ws"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer res.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(protocol.Turn{Type: protocol.TypeTurn, RequestID: "r1", UserInput: "upload tenants", UserID: "ws1"}))
	var result protocol.TurnResult
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, protocol.TypeTurnResult, result.Type)
	assert.Equal(t, "r1", result.RequestID)
	assert.Equal(t, agent.ReplyUploadPrompt, result.Response)

	require.NoError(t, conn.WriteJSON(protocol.Turn{Type: protocol.TypeTurn, RequestID: "r2", UserInput: "here", UserID: "ws1", File: []byte(noEmailCSV)}))
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "r2", result.RequestID)
	assert.Equal(t, "Missing fields: ['email']", result.Response)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	var wsErr protocol.ErrorEvent
	require.NoError(t, conn.ReadJSON(&wsErr))
	assert.Equal(t, protocol.TypeErrorEvent, wsErr.Type)
	assert.Equal(t, "invalid_client_message", wsErr.Code)
}
