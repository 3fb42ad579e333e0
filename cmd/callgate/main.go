package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vango-go/vai-callgate/internal/dotenv"
	"github.com/vango-go/vai-callgate/pkg/core/llm"
	"github.com/vango-go/vai-callgate/pkg/core/voice/tts"
	"github.com/vango-go/vai-callgate/pkg/gateway/config"
	"github.com/vango-go/vai-callgate/pkg/gateway/idempotency"
	"github.com/vango-go/vai-callgate/pkg/gateway/intent"
	gatewayserver "github.com/vango-go/vai-callgate/pkg/gateway/server"
	"github.com/vango-go/vai-callgate/pkg/gateway/tools"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	buildDeps    func(context.Context, config.Config, *slog.Logger) (gatewayserver.Deps, error)
	newGateway   func(config.Config, *slog.Logger, gatewayserver.Deps) (*gatewayserver.Server, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		buildDeps:  buildDeps,
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

// buildDeps wires the configured LLM, tool webhook, synthesizer and
// idempotency store.
func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Deps, error) {
	var deps gatewayserver.Deps

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return deps, err
	}
	deps.Classifier = intent.NewRouter(provider,
		intent.WithModel(cfg.LLMModel),
		intent.WithTimeout(cfg.LLMTimeout),
		intent.WithLogger(logger),
	)

	deps.Tools = tools.NewRegistry()
	if cfg.ToolWebhookURL != "" {
		deps.Tools.Register(
			tools.NewWebhook(cfg.ToolWebhookURL, tools.WithWebhookTimeout(cfg.ToolTimeout)),
			intent.ReadTasks, intent.AddTask, intent.NextMeeting, intent.CaptureNote,
		)
	} else {
		logger.Warn("no tool webhook configured; actions will be reported unavailable")
	}

	if cfg.TTSProvider == "cartesia" {
		deps.Synthesizer = tts.NewCartesia(cfg.TTSAPIKey, &http.Client{Timeout: cfg.TurnTimeout}).WithBaseURL(cfg.TTSBaseURL)
	}

	switch cfg.IdempotencyDriver {
	case config.IdempotencySQLite, config.IdempotencyPostgres:
		store, err := idempotency.OpenSQL(ctx, cfg.IdempotencyDriver, cfg.IdempotencyDSN, cfg.IdempotencyTTL)
		if err != nil {
			return deps, fmt.Errorf("idempotency store: %w", err)
		}
		deps.Idempotency = store
	default:
		deps.Idempotency = idempotency.NewMemory(cfg.IdempotencyTTL)
	}
	return deps, nil
}

func buildProvider(ctx context.Context, cfg config.Config) (llm.Provider, error) {
	var provider llm.Provider
	switch cfg.LLMProvider {
	case "gemini":
		p, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
			BaseURL: cfg.LLMBaseURL,
		})
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		provider = llm.NewOpenAI(cfg.LLMAPIKey, llm.WithBaseURL(cfg.LLMBaseURL), llm.WithModel(cfg.LLMModel))
	}
	return llm.WithPolicy(provider, llm.Policy{MaxRetries: uint64(max(cfg.LLMMaxRetries, 0))}), nil
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildDeps == nil || deps.newGateway == nil {
		return errors.New("missing gateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gwDeps, err := deps.buildDeps(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	gw, err := deps.newGateway(cfg, logger, gwDeps)
	if err != nil {
		if gwDeps.Idempotency != nil {
			_ = gwDeps.Idempotency.Close()
		}
		return fmt.Errorf("create gateway: %w", err)
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go gw.RunSweeper(sweepCtx)

	logger.Info("starting call gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"llm_provider", cfg.LLMProvider,
		"tts_provider", cfg.TTSProvider,
		"idempotency_driver", cfg.IdempotencyDriver,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		closeGateway(gw, logger, time.Second)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		closeGateway(gw, logger, time.Second)
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	if n := gw.NotifyDraining(); n > 0 {
		logger.Info("notified media streams of drain", "count", n)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	stopSweeper()
	closeGateway(gw, logger, cfg.ShutdownGracePeriod)

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("call gateway stopped")
	return nil
}

func closeGateway(gw *gatewayserver.Server, logger *slog.Logger, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := gw.Close(ctx); err != nil {
		logger.Warn("gateway did not drain cleanly", "error", err)
	}
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "callgate: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "callgate: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
