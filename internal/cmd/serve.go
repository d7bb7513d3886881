package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rand/rlm-engine/internal/config"
	"github.com/rand/rlm-engine/internal/engine"
	"github.com/rand/rlm-engine/internal/llm"
	"github.com/rand/rlm-engine/internal/server"
	"github.com/rand/rlm-engine/internal/store"
	"github.com/rand/rlm-engine/internal/trace"
)

func newServeCmd() *cobra.Command {
	var addr string
	var dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Host, cfg.Port = splitAddr(addr, cfg.Port)
			}
			if dbPath != "" {
				cfg.DatabasePath = dbPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HOST/PORT)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (overrides DATABASE_PATH)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var openaiClient, anthropicClient llm.Client
	if cfg.OpenAIAPIKey != "" {
		c, err := llm.NewOpenAIClient(llm.OpenAIOptions{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL})
		if err != nil {
			return err
		}
		openaiClient = c
	}
	if cfg.AnthropicAPIKey != "" {
		c, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			return err
		}
		anthropicClient = c
	}
	client := llm.NewRetryClient(llm.NewRouter(openaiClient, anthropicClient))

	orch := engine.New(cfg, client, trace.NewBus(), st, st, log)
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.New(orch, st, log).Router(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", srv.Addr, "model", cfg.DefaultModel, "db", cfg.DatabasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// splitAddr splits "host:port" from a flag, keeping the configured port
// when the flag omits one.
func splitAddr(addr string, fallbackPort int) (string, int) {
	host := addr
	port := fallbackPort
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host = addr[:i]
			if p, err := parsePort(addr[i+1:]); err == nil {
				port = p
			}
			break
		}
	}
	return host, port
}

func parsePort(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("invalid port")
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 || n > 65535 {
		return 0, errors.New("invalid port")
	}
	return n, nil
}
