package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
futures_token: "43125"
futures_symbol: "NIFTYFUT"
spot_token: "99926000"
port: 9000
detectors:
  big_block_lots: 25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.ReconnectSeconds != 5 || cfg.PollIntervalMs != 100 {
		t.Errorf("defaults not applied: reconnect=%d poll=%d", cfg.ReconnectSeconds, cfg.PollIntervalMs)
	}
	if cfg.Detectors.BigBlockLots != 25 {
		t.Errorf("big_block_lots = %d", cfg.Detectors.BigBlockLots)
	}
	if cfg.Detectors.LotSize != 75 {
		t.Errorf("lot_size default = %d", cfg.Detectors.LotSize)
	}
}

func TestLoadRequiresFuturesToken(t *testing.T) {
	path := writeConfig(t, "port: 9000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("want error without futures_token")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeConfig(t, "futures_token: \"43125\"\nport: 70000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("want error on invalid port")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error on missing file")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaults()
	if cfg.ReconnectDelay() != 5*time.Second {
		t.Errorf("reconnect delay = %s", cfg.ReconnectDelay())
	}
	if cfg.PollInterval() != 100*time.Millisecond {
		t.Errorf("poll interval = %s", cfg.PollInterval())
	}
	if cfg.HTTPTimeout() != 2*time.Second {
		t.Errorf("http timeout = %s", cfg.HTTPTimeout())
	}
}

func TestThresholdsMapping(t *testing.T) {
	cfg := defaults()
	cfg.Detectors.StackedQty = 7000
	th := cfg.Thresholds()
	if th.StackedQty != 7000 || th.LotSize != 75 || th.ImbalanceRatio != 2.5 {
		t.Errorf("thresholds = %+v", th)
	}
}
