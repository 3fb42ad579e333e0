package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callgate/pkg/gateway/config"
	"github.com/vango-go/vai-callgate/pkg/gateway/intent"
	"github.com/vango-go/vai-callgate/pkg/gateway/tools"
)

type staticClassifier struct{ result intent.Result }

func (c staticClassifier) Classify(context.Context, string, string) (intent.Result, error) {
	return c.result, nil
}

func testConfig() config.Config {
	return config.Config{
		AuthMode:            config.AuthModeRequired,
		APIKeys:             map[string]struct{}{"sk-test": {}},
		MaxPacketBytes:      4096,
		HistoryLimit:        20,
		ContextTTL:          time.Minute,
		SweepInterval:       time.Minute,
		IdempotencyDriver:   config.IdempotencyMemory,
		IdempotencyTTL:      time.Hour,
		LLMProvider:         "openai",
		LLMTimeout:          time.Second,
		TTSProvider:         "none",
		TTSSampleRate:       24000,
		VoiceProfile:        "warm",
		CallQueueSize:       4,
		CallIdleTimeout:     time.Minute,
		TurnTimeout:         3 * time.Second,
		TurnRateRPS:         1,
		TurnRateBurst:       2,
		ToolTimeout:         time.Second,
		EventBuffer:         16,
		MetricsNamespace:    "callgate_test",
		ReadHeaderTimeout:   time.Second,
		ReadTimeout:         time.Second,
		ShutdownGracePeriod: time.Second,
		WSWriteTimeout:      time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	registry := tools.NewRegistry()
	registry.Register(tools.Func("tasks", func(context.Context, tools.Call) (tools.Result, error) {
		return tools.Result{Count: 1}, nil
	}), intent.ReadTasks)

	s, err := New(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)), Deps{
		Classifier: staticClassifier{intent.Result{Type: intent.ReadTasks, Confidence: 0.95}},
		Tools:      registry,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Authorization", "Bearer sk-test")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr := do(s.Handler(), http.MethodGet, "/does-not-exist", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_TurnRoundTrip(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr := do(s.Handler(), http.MethodPost, "/v1/turns", `{"callId":"CA1","seq":1,"isHuman":true,"transcript":"what's on my list"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Text    string `json:"text"`
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, want := resp.Text, "You have one thing on your plate."; got != want {
		t.Fatalf("text=%q, want %q", got, want)
	}
	if rr.Header().Get("X-Request-ID") == "" || rr.Header().Get("X-Callgate-Version") != "1" {
		t.Fatalf("headers=%v", rr.Header())
	}
}

func TestServer_RequiresAuth(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{"callId":"CA1","seq":1}`))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rr.Code)
	}
}

func TestServer_TurnRateLimitedPerCall(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()

	for seq := 1; seq <= 2; seq++ {
		body := `{"callId":"CA1","seq":` + strconv.Itoa(seq) + `,"isHuman":true,"transcript":"hi"}`
		if rr := do(h, http.MethodPost, "/v1/turns", body); rr.Code != http.StatusOK {
			t.Fatalf("seq %d status=%d", seq, rr.Code)
		}
	}
	rr := do(h, http.MethodPost, "/v1/turns", `{"callId":"CA1","seq":3,"isHuman":true,"transcript":"hi"}`)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("status=%d headers=%v", rr.Code, rr.Header())
	}
	if rr := do(h, http.MethodPost, "/v1/turns", `{"callId":"CA2","seq":1,"isHuman":true,"transcript":"hi"}`); rr.Code != http.StatusOK {
		t.Fatalf("other call status=%d, want 200", rr.Code)
	}
}

func TestServer_MetricsExposeTurns(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	do(h, http.MethodPost, "/v1/turns", `{"callId":"CA1","seq":1,"isHuman":true,"transcript":"what's on my list"}`)

	rr := do(h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`callgate_test_turns_total{outcome="completed"} 1`,
		`callgate_test_http_requests_total{route="/v1/turns",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestServer_HangupRoute(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	do(h, http.MethodPost, "/v1/turns", `{"callId":"CA1","seq":1,"isHuman":true,"transcript":"hi"}`)

	rr := do(h, http.MethodDelete, "/v1/calls/CA1", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"contextRetained":true`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestServer_DrainingRefusesTurnsAndReadiness(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	s.SetDraining()

	if rr := do(h, http.MethodPost, "/v1/turns", `{"callId":"CA1","seq":1,"isHuman":true,"transcript":"hi"}`); rr.Code != 529 {
		t.Fatalf("turn status=%d, want 529", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
}

func TestServer_MediaStreamDrainNotice(t *testing.T) {
	s := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/media?token=sk-test"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	start := `{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.streams.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.NotifyDraining(); got != 1 {
		t.Fatalf("notified=%d, want 1", got)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event string `json:"event"`
		Mark  struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != "mark" || msg.Mark.Name != "draining" {
		t.Fatalf("msg=%+v", msg)
	}
}

func TestServer_SweepEvictsExpiredContexts(t *testing.T) {
	cfg := testConfig()
	cfg.ContextTTL = time.Millisecond
	s := newTestServer(t, cfg)
	do(s.Handler(), http.MethodPost, "/v1/turns", `{"callId":"CA1","seq":1,"isHuman":true,"transcript":"hi"}`)

	time.Sleep(10 * time.Millisecond)
	s.Sweep(context.Background())
	if n := s.store.Len(); n != 0 {
		t.Fatalf("contexts=%d, want 0", n)
	}
}

func TestNew_RejectsUnknownVoiceProfile(t *testing.T) {
	cfg := testConfig()
	cfg.VoiceProfile = "robot"
	if _, err := New(cfg, nil, Deps{}); err == nil {
		t.Fatalf("expected error for unknown voice profile")
	}
}
