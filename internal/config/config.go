package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"orderflow/internal/orderflow"
)

// Detectors holds the pattern-detector tuning knobs. Credentials never
// live here; the feed token and API key come from the environment.
type Detectors struct {
	LotSize          int64   `yaml:"lot_size"`
	BigBlockLots     int64   `yaml:"big_block_lots"`
	CriticalLots     int64   `yaml:"critical_lots"`
	ImbalanceRatio   float64 `yaml:"imbalance_ratio"`
	AbsorptionRange  int64   `yaml:"absorption_range"`
	AbsorptionVolume int64   `yaml:"absorption_volume"`
	AbsorptionRatio  float64 `yaml:"absorption_ratio"`
	StackedLevels    int     `yaml:"stacked_levels"`
	StackedQty       int64   `yaml:"stacked_qty"`
	DivergenceWindow int     `yaml:"divergence_window"`
	PriceTrend       float64 `yaml:"price_trend"`
	CVDTrend         float64 `yaml:"cvd_trend"`
	RapidMovePoints  float64 `yaml:"rapid_move_points"`
}

type Config struct {
	Port             int       `yaml:"port"`
	HubURL           string    `yaml:"hub_url"`
	FeedEndpoint     string    `yaml:"feed_endpoint"`
	SpotToken        string    `yaml:"spot_token"`
	FuturesToken     string    `yaml:"futures_token"`
	FuturesSymbol    string    `yaml:"futures_symbol"`
	OptionTokens     []string  `yaml:"option_tokens"`
	Expiry           string    `yaml:"expiry"`
	ReconnectSeconds int       `yaml:"reconnect_seconds"`
	PollIntervalMs   int       `yaml:"poll_interval_ms"`
	HTTPTimeoutMs    int       `yaml:"http_timeout_ms"`
	DataDir          string    `yaml:"data_dir"`
	RecentAlerts     int       `yaml:"recent_alerts"`
	FootprintLevels  int       `yaml:"footprint_levels"`
	NATSURL          string    `yaml:"nats_url"`
	NATSSubject      string    `yaml:"nats_subject"`
	LogLevel         string    `yaml:"log_level"`
	Detectors        Detectors `yaml:"detectors"`
}

func defaults() Config {
	return Config{
		Port:             8888,
		HubURL:           "http://127.0.0.1:8888",
		FeedEndpoint:     "wss://smartapisocket.angelone.in/smart-stream",
		ReconnectSeconds: 5,
		PollIntervalMs:   100,
		HTTPTimeoutMs:    2000,
		DataDir:          "./data",
		RecentAlerts:     50,
		FootprintLevels:  20,
		NATSSubject:      "orderflow.alerts",
		LogLevel:         "info",
		Detectors: Detectors{
			LotSize:          75,
			BigBlockLots:     50,
			CriticalLots:     100,
			ImbalanceRatio:   2.5,
			AbsorptionRange:  5,
			AbsorptionVolume: 10000,
			AbsorptionRatio:  1.5,
			StackedLevels:    3,
			StackedQty:       5000,
			DivergenceWindow: 20,
			PriceTrend:       10,
			CVDTrend:         1000,
			RapidMovePoints:  20,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	// Validation & normalization
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, errors.New("invalid port")
	}
	if cfg.FuturesToken == "" {
		return cfg, errors.New("futures_token is required")
	}
	if cfg.ReconnectSeconds < 1 {
		return cfg, errors.New("reconnect_seconds must be >=1")
	}
	if cfg.PollIntervalMs < 1 {
		return cfg, errors.New("poll_interval_ms must be >=1")
	}
	if cfg.Detectors.LotSize < 1 {
		return cfg, errors.New("detectors.lot_size must be >=1")
	}
	return cfg, nil
}

// ReconnectDelay is the fixed pause between feed connection attempts.
func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectSeconds) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

// Thresholds maps the YAML knobs onto the detector configuration.
func (c Config) Thresholds() orderflow.Thresholds {
	d := c.Detectors
	return orderflow.Thresholds{
		LotSize:          d.LotSize,
		BigBlockLots:     d.BigBlockLots,
		CriticalLots:     d.CriticalLots,
		ImbalanceRatio:   d.ImbalanceRatio,
		AbsorptionRange:  d.AbsorptionRange,
		AbsorptionVolume: d.AbsorptionVolume,
		AbsorptionRatio:  d.AbsorptionRatio,
		StackedLevels:    d.StackedLevels,
		StackedQty:       d.StackedQty,
		DivergenceWindow: d.DivergenceWindow,
		PriceTrend:       d.PriceTrend,
		CVDTrend:         d.CVDTrend,
		RapidMovePoints:  d.RapidMovePoints,
	}
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
