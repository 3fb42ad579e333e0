package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-callgate/pkg/gateway/config"
	"github.com/vango-go/vai-callgate/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	// ActiveCalls reports calls with a live worker; optional.
	ActiveCalls func() int
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                bool     `json:"ok"`
		Draining          bool     `json:"draining"`
		AuthMode          string   `json:"auth_mode"`
		IdempotencyDriver string   `json:"idempotency_driver"`
		SpeechSynthesis   bool     `json:"speech_synthesis"`
		ActiveCalls       int      `json:"active_calls"`
		Issues            []string `json:"issues,omitempty"`
	}

	var issues []string
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	issues = append(issues, h.Lifecycle.Check(ctx)...)

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	active := 0
	if h.ActiveCalls != nil {
		active = h.ActiveCalls()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:                ok,
		Draining:          draining,
		AuthMode:          string(h.Config.AuthMode),
		IdempotencyDriver: h.Config.IdempotencyDriver,
		SpeechSynthesis:   h.Config.TTSProvider != "" && h.Config.TTSProvider != "none",
		ActiveCalls:       active,
		Issues:            issues,
	})
}
