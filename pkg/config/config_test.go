package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Matching.Threshold != 95 {
		t.Errorf("Matching.Threshold = %d, want 95", cfg.Matching.Threshold)
	}
	if cfg.Matching.AvgThreshold != 80 {
		t.Errorf("Matching.AvgThreshold = %d, want 80", cfg.Matching.AvgThreshold)
	}
	if cfg.Redis.CacheTTL != 60*time.Second {
		t.Errorf("Redis.CacheTTL = %v, want 60s", cfg.Redis.CacheTTL)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
matching:
  threshold: 90
  avgThreshold: 70
  sources:
    - name: apprentice
      csvPath: data/apprentice.csv
      nameColumns: [signatory_name]
      addressColumn: signatory_address
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Matching.Threshold != 90 || cfg.Matching.AvgThreshold != 70 {
		t.Errorf("thresholds = %d/%d, want 90/70", cfg.Matching.Threshold, cfg.Matching.AvgThreshold)
	}
	if len(cfg.Matching.Sources) != 1 || cfg.Matching.Sources[0].Name != "apprentice" {
		t.Fatalf("Sources = %+v", cfg.Matching.Sources)
	}
	// Unset fields keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port = %d, want default 5432", cfg.Postgres.Port)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CL_SERVER_PORT", "7070")
	t.Setenv("CL_MATCHING_THRESHOLD", "85")
	t.Setenv("CL_KAFKA_BROKERS", "kafka1:9092,kafka2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Matching.Threshold != 85 {
		t.Errorf("Matching.Threshold = %d, want 85", cfg.Matching.Threshold)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	t.Setenv("CL_MATCHING_THRESHOLD", "150")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for threshold > 100")
	}
}

func TestLoadRejectsSourceWithoutColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
matching:
  sources:
    - name: wagetheft
      table: wagetheft_violations
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for source without columns")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/no/such/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
