package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"IdeaRadar/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.CronExpression != "0 */2 * * *" || cfg.Scheduler.Location().String() != "UTC" {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Pipeline.MaxItemsPerSource != 50 || cfg.Pipeline.BatchBudget != 50*time.Second {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if len(cfg.Sources) == 0 {
		t.Fatalf("expected default sources")
	}
}

func TestLoadFileOverDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	path := writeConfig(t, `
logging:
  level: debug
database:
  driver: memory
scheduler:
  timezone: Europe/Berlin
pipeline:
  batchBudget: 20s
scoring:
  noveltyWeight: 0.6
sources:
  - name: lobsters
    connector: rss
    weight: 0.8
    options:
      url: https://lobste.rs/rss
  - name: hn
    connector: hackernews
    enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Database.Driver != "memory" {
		t.Fatalf("file values not applied: %+v %+v", cfg.Logging, cfg.Database)
	}
	if cfg.Pipeline.BatchBudget != 20*time.Second || cfg.Pipeline.CandidateReserve != 5*time.Second {
		t.Fatalf("durations not merged: %+v", cfg.Pipeline)
	}
	if cfg.Scoring.NoveltyWeight != 0.6 || cfg.Scoring.QualityWeight != 0.35 {
		t.Fatalf("weights not merged: %+v", cfg.Scoring)
	}
	if cfg.Scheduler.Location().String() != "Europe/Berlin" {
		t.Fatalf("timezone not bound: %s", cfg.Scheduler.Location())
	}
	if len(cfg.Sources) != 2 || cfg.Sources[0].Name != "lobsters" {
		t.Fatalf("sources not replaced: %+v", cfg.Sources)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/idearadar")
	t.Setenv("CRON_SECRET", "tick")
	t.Setenv("PORT", "9000")
	t.Setenv("MAX_ITEMS_PER_CRON", "25")
	t.Setenv("SIMHASH_THRESHOLD", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("S3_BUCKET", "runs")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://u:p@db/idearadar" {
		t.Fatalf("database overrides missing: %+v", cfg.Database)
	}
	if cfg.HTTP.CronSecret != "tick" || cfg.HTTP.Addr != ":9000" {
		t.Fatalf("http overrides missing: %+v", cfg.HTTP)
	}
	if cfg.Pipeline.MaxItemsPerSource != 25 || cfg.Dedup.FingerprintThreshold != 3 {
		t.Fatalf("numeric overrides missing")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" || cfg.Archive.Bucket != "runs" {
		t.Fatalf("sink overrides missing: %+v %+v", cfg.Kafka, cfg.Archive)
	}
}

func TestLoadRejectsBadEnvNumber(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("NOVELTY_WEIGHT", "lots")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "NOVELTY_WEIGHT") {
		t.Fatalf("expected NOVELTY_WEIGHT error, got %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Database.Driver = "mongo"
	cfg.Scoring.NoveltyWeight = -1
	cfg.Dedup.FingerprintThreshold = 70
	cfg.Sources = append(cfg.Sources, cfg.Sources[0])

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"database.driver", "scoring weights", "fingerprintThreshold", "duplicate name"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestSourceConfigToSource(t *testing.T) {
	t.Parallel()

	weight := 0.9
	disabled := false
	src, err := SourceConfig{
		Name:      "arxiv",
		Connector: "arxiv",
		Weight:    &weight,
		Enabled:   &disabled,
		Options:   map[string]any{"search_query": "cat:cs.LG"},
	}.ToSource()
	if err != nil {
		t.Fatalf("to source: %v", err)
	}
	if src.Type != domain.SourceStructuredAPI || src.Enabled {
		t.Fatalf("unexpected source: %+v", src)
	}
	var blob map[string]any
	if err := json.Unmarshal(src.Config, &blob); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if blob["connector"] != "arxiv" || blob["search_query"] != "cat:cs.LG" || blob["weight"] != 0.9 {
		t.Fatalf("unexpected config blob: %v", blob)
	}
	settings, err := src.Settings()
	if err != nil || settings.Weight == nil || *settings.Weight != 0.9 {
		t.Fatalf("settings do not round-trip: %+v %v", settings, err)
	}

	feed, err := SourceConfig{Name: "blog", Connector: "rss", Options: map[string]any{"url": "https://x"}}.ToSource()
	if err != nil || feed.Type != domain.SourceFeed || !feed.Enabled {
		t.Fatalf("unexpected feed source: %+v %v", feed, err)
	}

	bad := 1.5
	if _, err := (SourceConfig{Name: "x", Weight: &bad}).ToSource(); err == nil {
		t.Fatalf("expected weight error")
	}
}

func TestRunConfigMapping(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	rc := cfg.RunConfig()
	if rc.MaxItems != 50 || rc.FingerprintThreshold != 5 || rc.MinBodyLength != 100 {
		t.Fatalf("unexpected run config: %+v", rc)
	}
	if rc.Scoring.Weights.Novelty != 0.5 || rc.Scoring.HalfLife != 24*time.Hour {
		t.Fatalf("unexpected scoring params: %+v", rc.Scoring)
	}
	if rc.NoveltyWindow != 720*time.Hour {
		t.Fatalf("unexpected novelty window %v", rc.NoveltyWindow)
	}
}
