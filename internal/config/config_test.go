package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr :8080, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Competition.MinAgents != 2 {
		t.Errorf("expected default min agents 2, got %d", cfg.Competition.MinAgents)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9090"
competition:
  experiment_id: exp-42
  min_agents: 5
  nb_goods: 8
  tx_fee: "0.1"
  registration_timeout_sec: 120
  inactivity_timeout_sec: 30
  competition_timeout_sec: 600
  whitelist: [alice, bob]
  seed: 7
economy:
  money_endowment: 500
  base_good_endowment: 3
  lower_bound_factor: 1
  upper_bound_factor: 2
storage:
  output_dir: /tmp/tac
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("expected listen addr :9090, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Competition.ExperimentID != "exp-42" || cfg.Competition.MinAgents != 5 {
		t.Errorf("unexpected competition config: %+v", cfg.Competition)
	}
	if !cfg.Competition.TxFee.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("expected tx fee 0.1, got %s", cfg.Competition.TxFee)
	}
	if len(cfg.Competition.Whitelist) != 2 {
		t.Errorf("expected 2 whitelist entries, got %d", len(cfg.Competition.Whitelist))
	}
	if cfg.Economy.MoneyEndowment != 500 {
		t.Errorf("expected money endowment 500, got %d", cfg.Economy.MoneyEndowment)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TAC_LISTEN_ADDR", ":7070")
	t.Setenv("DATABASE_URL", "postgres://localhost/tac")
	t.Setenv("TAC_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("expected env listen addr, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Storage.DatabaseURL != "postgres://localhost/tac" {
		t.Errorf("expected env database url, got %q", cfg.Storage.DatabaseURL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"single agent", "competition:\n  min_agents: 1\n"},
		{"negative fee", "competition:\n  tx_fee: \"-1\"\n"},
		{"bad level", "logging:\n  level: verbose\n"},
		{"bad bounds", "economy:\n  lower_bound_factor: 3\n  upper_bound_factor: 1\n"},
	}
	for _, tt := range tests {
		path := writeConfig(t, tt.yaml)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}
