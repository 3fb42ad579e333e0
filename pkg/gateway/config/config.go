package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// Idempotency backends.
const (
	IdempotencyMemory   = "memory"
	IdempotencySQLite   = "sqlite"
	IdempotencyPostgres = "postgres"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// Inbound packet limits.
	MaxPacketBytes int64

	// Call context store.
	HistoryLimit  int
	ContextTTL    time.Duration
	SweepInterval time.Duration

	// Idempotency store.
	IdempotencyDriver string
	IdempotencyDSN    string
	IdempotencyTTL    time.Duration

	// Intent classification.
	LLMProvider   string
	LLMModel      string
	LLMBaseURL    string
	LLMAPIKey     string
	LLMTimeout    time.Duration
	LLMMaxRetries int

	// Speech synthesis and voice selection.
	TTSProvider   string
	TTSAPIKey     string
	TTSBaseURL    string
	TTSSampleRate int
	VoiceProfile  string
	VoiceProfiles map[string]VoiceProfile

	// Per-call processing.
	CallQueueSize   int
	CallIdleTimeout time.Duration
	TurnTimeout     time.Duration
	TurnRateRPS     float64
	TurnRateBurst   int

	// External tool boundary.
	ToolWebhookURL string
	ToolTimeout    time.Duration

	// Observability.
	EventBuffer      int
	MetricsNamespace string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
	WSWriteTimeout      time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("CALLGATE_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("CALLGATE_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:             make(map[string]struct{}),
		MaxPacketBytes:      envInt64Or("CALLGATE_MAX_PACKET_BYTES", 64<<10),
		HistoryLimit:        envIntOr("CALLGATE_HISTORY_LIMIT", 20),
		ContextTTL:          envDurationOr("CALLGATE_CONTEXT_TTL", 30*time.Minute),
		SweepInterval:       envDurationOr("CALLGATE_SWEEP_INTERVAL", time.Minute),
		IdempotencyDriver:   envOr("CALLGATE_IDEMPOTENCY_DRIVER", IdempotencyMemory),
		IdempotencyDSN:      envOr("CALLGATE_IDEMPOTENCY_DSN", ""),
		IdempotencyTTL:      envDurationOr("CALLGATE_IDEMPOTENCY_TTL", 2*time.Hour),
		LLMProvider:         envOr("CALLGATE_LLM_PROVIDER", "openai"),
		LLMModel:            envOr("CALLGATE_LLM_MODEL", ""),
		LLMBaseURL:          envOr("CALLGATE_LLM_BASE_URL", ""),
		LLMAPIKey:           envOr("CALLGATE_LLM_API_KEY", ""),
		LLMTimeout:          envDurationOr("CALLGATE_LLM_TIMEOUT", 8*time.Second),
		LLMMaxRetries:       envIntOr("CALLGATE_LLM_MAX_RETRIES", 1),
		TTSProvider:         envOr("CALLGATE_TTS_PROVIDER", "none"),
		TTSAPIKey:           envOr("CALLGATE_TTS_API_KEY", ""),
		TTSBaseURL:          envOr("CALLGATE_TTS_BASE_URL", ""),
		TTSSampleRate:       envIntOr("CALLGATE_TTS_SAMPLE_RATE", 24000),
		VoiceProfile:        envOr("CALLGATE_VOICE_PROFILE", "warm"),
		VoiceProfiles:       make(map[string]VoiceProfile),
		CallQueueSize:       envIntOr("CALLGATE_CALL_QUEUE_SIZE", 16),
		CallIdleTimeout:     envDurationOr("CALLGATE_CALL_IDLE_TIMEOUT", 5*time.Minute),
		TurnTimeout:         envDurationOr("CALLGATE_TURN_TIMEOUT", 20*time.Second),
		TurnRateRPS:         envFloat64Or("CALLGATE_TURN_RATE_RPS", 5),
		TurnRateBurst:       envIntOr("CALLGATE_TURN_RATE_BURST", 10),
		ToolWebhookURL:      envOr("CALLGATE_TOOL_WEBHOOK_URL", ""),
		ToolTimeout:         envDurationOr("CALLGATE_TOOL_TIMEOUT", 5*time.Second),
		EventBuffer:         envIntOr("CALLGATE_EVENT_BUFFER", 256),
		MetricsNamespace:    envOr("CALLGATE_METRICS_NAMESPACE", "callgate"),
		ReadHeaderTimeout:   envDurationOr("CALLGATE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("CALLGATE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("CALLGATE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		WSWriteTimeout:      envDurationOr("CALLGATE_WS_WRITE_TIMEOUT", 5*time.Second),
	}

	for _, key := range splitCSV(os.Getenv("CALLGATE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	if path := envOr("CALLGATE_CONFIG_FILE", ""); path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.ApplyFile(f)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that is out of range.
func (cfg Config) Validate() error {
	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return fmt.Errorf("CALLGATE_AUTH_MODE must be one of required|optional|disabled")
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return fmt.Errorf("CALLGATE_API_KEYS must be set when CALLGATE_AUTH_MODE=required")
	}
	if cfg.MaxPacketBytes <= 0 {
		return fmt.Errorf("CALLGATE_MAX_PACKET_BYTES must be > 0")
	}
	if cfg.HistoryLimit <= 0 {
		return fmt.Errorf("CALLGATE_HISTORY_LIMIT must be > 0")
	}
	if cfg.ContextTTL <= 0 {
		return fmt.Errorf("CALLGATE_CONTEXT_TTL must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("CALLGATE_SWEEP_INTERVAL must be > 0")
	}
	switch cfg.IdempotencyDriver {
	case IdempotencyMemory:
	case IdempotencySQLite, IdempotencyPostgres:
		if strings.TrimSpace(cfg.IdempotencyDSN) == "" {
			return fmt.Errorf("CALLGATE_IDEMPOTENCY_DSN must be set when CALLGATE_IDEMPOTENCY_DRIVER=%s", cfg.IdempotencyDriver)
		}
	default:
		return fmt.Errorf("CALLGATE_IDEMPOTENCY_DRIVER must be one of memory|sqlite|postgres")
	}
	if cfg.IdempotencyTTL <= 0 {
		return fmt.Errorf("CALLGATE_IDEMPOTENCY_TTL must be > 0")
	}
	switch cfg.LLMProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("CALLGATE_LLM_PROVIDER must be one of openai|gemini")
	}
	if cfg.LLMTimeout <= 0 {
		return fmt.Errorf("CALLGATE_LLM_TIMEOUT must be > 0")
	}
	if cfg.LLMMaxRetries < 0 {
		return fmt.Errorf("CALLGATE_LLM_MAX_RETRIES must be >= 0")
	}
	switch cfg.TTSProvider {
	case "none":
	case "cartesia":
		if cfg.TTSAPIKey == "" {
			return fmt.Errorf("CALLGATE_TTS_API_KEY must be set when CALLGATE_TTS_PROVIDER=cartesia")
		}
	default:
		return fmt.Errorf("CALLGATE_TTS_PROVIDER must be one of cartesia|none")
	}
	if cfg.TTSSampleRate < 8000 {
		return fmt.Errorf("CALLGATE_TTS_SAMPLE_RATE must be >= 8000")
	}
	if strings.TrimSpace(cfg.VoiceProfile) == "" {
		return fmt.Errorf("CALLGATE_VOICE_PROFILE must not be empty")
	}
	if cfg.CallQueueSize <= 0 {
		return fmt.Errorf("CALLGATE_CALL_QUEUE_SIZE must be > 0")
	}
	if cfg.CallIdleTimeout <= 0 {
		return fmt.Errorf("CALLGATE_CALL_IDLE_TIMEOUT must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return fmt.Errorf("CALLGATE_TURN_TIMEOUT must be > 0")
	}
	if cfg.TurnRateRPS < 0 {
		return fmt.Errorf("CALLGATE_TURN_RATE_RPS must be >= 0")
	}
	if cfg.TurnRateBurst < 0 {
		return fmt.Errorf("CALLGATE_TURN_RATE_BURST must be >= 0")
	}
	if cfg.ToolTimeout <= 0 {
		return fmt.Errorf("CALLGATE_TOOL_TIMEOUT must be > 0")
	}
	// The turn deadline must outlive one classification plus one tool call.
	if cfg.TurnTimeout <= cfg.LLMTimeout+cfg.ToolTimeout {
		return fmt.Errorf("CALLGATE_TURN_TIMEOUT must exceed CALLGATE_LLM_TIMEOUT + CALLGATE_TOOL_TIMEOUT")
	}
	if cfg.EventBuffer <= 0 {
		return fmt.Errorf("CALLGATE_EVENT_BUFFER must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("CALLGATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("CALLGATE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("CALLGATE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return fmt.Errorf("CALLGATE_WS_WRITE_TIMEOUT must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
