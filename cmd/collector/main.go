package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderflow/internal/collector"
	"orderflow/internal/config"
	"orderflow/internal/orderflow"
	"orderflow/internal/sink"

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

	logger.Info("collector starting",
		slog.String("hub_url", cfg.HubURL),
		slog.String("symbol", cfg.FuturesSymbol),
		slog.Int("poll_interval_ms", cfg.PollIntervalMs),
	)

	client := collector.NewClient(cfg.HubURL, cfg.HTTPTimeout())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for the hub before opening logs; a collector started first
	// simply retries.
	for {
		if err := client.Health(ctx); err == nil {
			break
		} else {
			logger.Warn("hub not reachable, retrying", slog.String("err", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}

	logs, err := sink.OpenLogs(cfg.DataDir, time.Now(), cfg.Detectors.LotSize, logger)
	if err != nil {
		logger.Error("open csv logs", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer logs.Close()

	alertSinks := []collector.AlertSink{logs}
	if cfg.NATSURL != "" {
		pub, err := sink.NewAlertPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Warn("nats unavailable, alerts stay local", slog.String("err", err.Error()))
		} else {
			defer pub.Close()
			alertSinks = append(alertSinks, alertSinkFunc(pub.Publish))
			logger.Info("publishing alerts", slog.String("subject", cfg.NATSSubject))
		}
	}

	runner := collector.NewRunner(client, collector.Options{
		PollInterval:    cfg.PollInterval(),
		Symbol:          cfg.FuturesSymbol,
		FootprintLevels: cfg.FootprintLevels,
		RecentAlerts:    cfg.RecentAlerts,
		Thresholds:      cfg.Thresholds(),
		Ticks:           logs,
		Candles:         logs,
		Alerts:          alertSinks,
	}, logger)

	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	logger.Info("shutting down...")
	cancel()
	<-done
	logger.Info("bye")
}

// alertSinkFunc adapts a publish function to the AlertSink interface.
type alertSinkFunc func(orderflow.Alert)

func (f alertSinkFunc) WriteAlert(a orderflow.Alert) { f(a) }
