package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderflow/internal/config"
	"orderflow/internal/feed"
	"orderflow/internal/server"
	"orderflow/internal/state"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)

	creds, err := feed.CredentialsFromEnv()
	if err != nil {
		logger.Error("missing feed credentials", slog.String("err", err.Error()))
		os.Exit(1)
	}

	logger.Info("hub starting",
		slog.Int("port", cfg.Port),
		slog.String("futures_token", cfg.FuturesToken),
		slog.String("endpoint", cfg.FeedEndpoint),
	)

	// State
	st := state.NewStore(cfg.SpotToken, cfg.FuturesToken, cfg.FuturesSymbol)
	st.SetExpiry(cfg.Expiry)

	// Upstream feed
	subs := feed.Subscriptions{
		SpotToken: cfg.SpotToken,
		NFOTokens: append([]string{cfg.FuturesToken}, cfg.OptionTokens...),
	}
	client := feed.NewWSClient(cfg.FeedEndpoint, creds, subs, st, cfg.ReconnectDelay(), logger)

	// HTTP server + WS hub
	srv := server.NewHTTPServer(st, logger)

	// Context & signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx, func(connected bool) {
		st.SetConnected(connected)
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Router(),
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	// Graceful shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	_ = httpSrv.Shutdown(shCtx)
	client.Close()
	cancel()
	<-done
	logger.Info("bye")
}
