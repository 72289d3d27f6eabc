package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/scoring"
	"IdeaRadar/internal/usecase"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "IDEARADAR_CONFIG"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Fetch     FetchConfig     `yaml:"fetch"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// LoggingConfig selects the minimum log level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the repository backend.
type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when ingestion runs.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// HTTPConfig configures the trigger and serving endpoints.
type HTTPConfig struct {
	Addr       string `yaml:"addr"`
	CronSecret string `yaml:"cronSecret"`
}

// PipelineConfig bounds a single run.
type PipelineConfig struct {
	MaxItemsPerSource    int           `yaml:"maxItemsPerSource"`
	MaxConcurrentSources int           `yaml:"maxConcurrentSources"`
	BatchBudget          time.Duration `yaml:"batchBudget"`
	CandidateReserve     time.Duration `yaml:"candidateReserve"`
	CandidateTimeout     time.Duration `yaml:"candidateTimeout"`
	ForceRescore         bool          `yaml:"forceRescore"`
	MaxErrors            int           `yaml:"maxErrors"`
	CorpusLimit          int           `yaml:"corpusLimit"`
}

// ScoringConfig holds the final-score weights and decay settings.
type ScoringConfig struct {
	NoveltyWeight float64       `yaml:"noveltyWeight"`
	QualityWeight float64       `yaml:"qualityWeight"`
	RecencyWeight float64       `yaml:"recencyWeight"`
	HalfLife      time.Duration `yaml:"halfLife"`
	NoveltyWindow time.Duration `yaml:"noveltyWindow"`
}

// DedupConfig holds the near-duplicate threshold.
type DedupConfig struct {
	FingerprintThreshold int `yaml:"fingerprintThreshold"`
}

// ExtractorConfig bounds extracted text.
type ExtractorConfig struct {
	ContentMaxLength int `yaml:"contentMaxLength"`
	MinBodyLength    int `yaml:"minBodyLength"`
	MinTextLength    int `yaml:"minTextLength"`
}

// FetchConfig applies to every outbound request.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"userAgent"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
}

// RateLimitConfig is a per-domain fixed window; RedisAddr shares it across processes.
type RateLimitConfig struct {
	Requests      int           `yaml:"requests"`
	Window        time.Duration `yaml:"window"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
}

// KafkaConfig enables item.committed events when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ArchiveConfig enables run summary archiving when Bucket is set.
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// SourceConfig describes one source and its connector options.
type SourceConfig struct {
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	Connector string         `yaml:"connector"`
	Enabled   *bool          `yaml:"enabled"`
	Weight    *float64       `yaml:"weight"`
	Options   map[string]any `yaml:"options"`
}

// Load reads the YAML file at path (or $IDEARADAR_CONFIG), then applies
// environment overrides. A missing path means defaults plus environment.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	var errs []error

	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(dst *float64, key string) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.DSN, "DATABASE_DSN", "DATABASE_URL")
	setString(&c.HTTP.CronSecret, "CRON_SECRET")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	if c.HTTP.Addr == defaultConfig().HTTP.Addr {
		if port := os.Getenv("PORT"); port != "" {
			c.HTTP.Addr = ":" + port
		}
	}
	setInt(&c.Pipeline.MaxItemsPerSource, "MAX_ITEMS_PER_CRON")
	setInt(&c.Extractor.ContentMaxLength, "CONTENT_MAX_LENGTH")
	setFloat(&c.Scoring.NoveltyWeight, "NOVELTY_WEIGHT")
	setFloat(&c.Scoring.QualityWeight, "QUALITY_WEIGHT")
	setFloat(&c.Scoring.RecencyWeight, "RECENCY_WEIGHT")
	setInt(&c.Dedup.FingerprintThreshold, "SIMHASH_THRESHOLD")
	setInt(&c.RateLimit.Requests, "RATE_LIMIT_PER_DOMAIN")
	setString(&c.RateLimit.RedisAddr, "REDIS_ADDR")
	setString(&c.RateLimit.RedisPassword, "REDIS_PASS")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	setString(&c.Archive.Bucket, "S3_BUCKET")
	setString(&c.Archive.Prefix, "S3_PREFIX")
	setString(&c.Archive.Region, "S3_REGION")

	return errors.Join(errs...)
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("scheduler timezone %q: %w", tz, err)
	}
	c.Scheduler.location = loc
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of postgres, sqlite, memory", c.Database.Driver))
	}

	if c.Pipeline.MaxItemsPerSource <= 0 {
		errs = append(errs, errors.New("pipeline.maxItemsPerSource must be positive"))
	}
	if c.Pipeline.MaxConcurrentSources <= 0 {
		errs = append(errs, errors.New("pipeline.maxConcurrentSources must be positive"))
	}
	if c.Pipeline.BatchBudget < 0 || c.Pipeline.CandidateReserve < 0 || c.Pipeline.CandidateTimeout < 0 {
		errs = append(errs, errors.New("pipeline durations must not be negative"))
	}

	s := c.Scoring
	if s.NoveltyWeight < 0 || s.QualityWeight < 0 || s.RecencyWeight < 0 {
		errs = append(errs, errors.New("scoring weights must not be negative"))
	} else if s.NoveltyWeight+s.QualityWeight+s.RecencyWeight <= 0 {
		errs = append(errs, errors.New("scoring weights must sum to a positive value"))
	}
	if s.HalfLife <= 0 {
		errs = append(errs, errors.New("scoring.halfLife must be positive"))
	}

	if t := c.Dedup.FingerprintThreshold; t < 0 || t > 64 {
		errs = append(errs, fmt.Errorf("dedup.fingerprintThreshold %d is outside [0,64]", t))
	}
	if c.Extractor.ContentMaxLength <= 0 {
		errs = append(errs, errors.New("extractor.contentMaxLength must be positive"))
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rateLimit.window must be positive"))
	}

	seen := map[string]bool{}
	for i, src := range c.Sources {
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
			continue
		}
		if seen[src.Name] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name))
		}
		seen[src.Name] = true
		if _, err := src.ToSource(); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// ToSource converts the YAML entry into the persisted source row. Options,
// connector and weight are folded into the JSON config blob.
func (s SourceConfig) ToSource() (domain.Source, error) {
	typ := domain.SourceType(s.Type)
	if typ == "" {
		typ = domain.SourceStructuredAPI
		switch s.Connector {
		case "", "feed", "rss", "atom":
			typ = domain.SourceFeed
		}
	}
	if !typ.Valid() {
		return domain.Source{}, fmt.Errorf("source %s: unknown type %q", s.Name, s.Type)
	}
	if s.Weight != nil && (*s.Weight < 0 || *s.Weight > 1) {
		return domain.Source{}, fmt.Errorf("source %s: weight %v is outside [0,1]", s.Name, *s.Weight)
	}

	blob := make(map[string]any, len(s.Options)+2)
	for k, v := range s.Options {
		blob[k] = v
	}
	if s.Connector != "" {
		blob["connector"] = s.Connector
	}
	if s.Weight != nil {
		blob["weight"] = *s.Weight
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return domain.Source{}, fmt.Errorf("source %s: encode options: %w", s.Name, err)
	}

	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return domain.Source{Name: s.Name, Type: typ, Config: raw, Enabled: enabled}, nil
}

// RunConfig builds the immutable per-run configuration.
func (c Config) RunConfig() usecase.RunConfig {
	return usecase.RunConfig{
		MaxItems:             c.Pipeline.MaxItemsPerSource,
		MaxConcurrentSources: c.Pipeline.MaxConcurrentSources,
		BatchBudget:          c.Pipeline.BatchBudget,
		CandidateReserve:     c.Pipeline.CandidateReserve,
		CandidateTimeout:     c.Pipeline.CandidateTimeout,
		NoveltyWindow:        c.Scoring.NoveltyWindow,
		CorpusLimit:          c.Pipeline.CorpusLimit,
		FingerprintThreshold: c.Dedup.FingerprintThreshold,
		MinBodyLength:        c.Extractor.MinBodyLength,
		MaxErrors:            c.Pipeline.MaxErrors,
		ForceRescore:         c.Pipeline.ForceRescore,
		Scoring: scoring.Params{
			Weights: scoring.Weights{
				Novelty: c.Scoring.NoveltyWeight,
				Quality: c.Scoring.QualityWeight,
				Recency: c.Scoring.RecencyWeight,
			},
			HalfLife: c.Scoring.HalfLife,
		},
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Database:  DatabaseConfig{Driver: "sqlite", DSN: "file:idearadar.db"},
		Scheduler: SchedulerConfig{CronExpression: "0 */2 * * *", Timezone: defaultTimezone, location: tz},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Pipeline: PipelineConfig{
			MaxItemsPerSource:    50,
			MaxConcurrentSources: 4,
			BatchBudget:          50 * time.Second,
			CandidateReserve:     5 * time.Second,
			CandidateTimeout:     30 * time.Second,
			MaxErrors:            20,
			CorpusLimit:          5000,
		},
		Scoring: ScoringConfig{
			NoveltyWeight: 0.5,
			QualityWeight: 0.35,
			RecencyWeight: 0.15,
			HalfLife:      24 * time.Hour,
			NoveltyWindow: 30 * 24 * time.Hour,
		},
		Dedup:     DedupConfig{FingerprintThreshold: 5},
		Extractor: ExtractorConfig{ContentMaxLength: 10000, MinBodyLength: 100, MinTextLength: 200},
		Fetch: FetchConfig{
			Timeout:      10 * time.Second,
			UserAgent:    "IdeaRadar/1.0 (+https://github.com/idearadar)",
			MaxBodyBytes: 5 << 20,
		},
		RateLimit: RateLimitConfig{Requests: 10, Window: time.Second},
		Kafka:     KafkaConfig{Topic: "idearadar.items"},
		Archive:   ArchiveConfig{Prefix: "idearadar/"},
		Sources: []SourceConfig{
			{
				Name:      "Hacker News Show HN",
				Connector: "hackernews",
				Options:   map[string]any{"endpoint": "showstories"},
			},
			{
				Name:      "Product Hunt",
				Connector: "rss",
				Options:   map[string]any{"url": "https://www.producthunt.com/feed"},
			},
			{
				Name:      "GitHub Trending",
				Connector: "rss",
				Options:   map[string]any{"url": "https://mshibanami.github.io/GitHubTrendingRSS/daily/all.xml"},
			},
			{
				Name:      "Dev.to Top",
				Connector: "rss",
				Options:   map[string]any{"url": "https://dev.to/feed/top/week"},
			},
			{
				Name:      "arXiv cs.AI",
				Connector: "arxiv",
				Options:   map[string]any{"search_query": "cat:cs.AI"},
			},
		},
	}
}
