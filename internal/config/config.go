package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Queue backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config contains runtime configuration required by the service.
type Config struct {
	Ingestion IngestionConfig `yaml:"ingestion"`
	Redis     RedisConfig     `yaml:"redis"`
	DB        DBConfig        `yaml:"db"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`

	// APIKeys maps apiKey -> client name. Only settable through API_KEYS.
	APIKeys map[string]string `yaml:"-"`
}

type IngestionConfig struct {
	Queue QueueConfig `yaml:"queue"`
	Dedup DedupConfig `yaml:"dedup"`
}

type QueueConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	BatchSize      int    `yaml:"batch-size"`
	PopTimeoutMS   int    `yaml:"pop-timeout-ms"`
	PollIntervalMS int    `yaml:"poll-interval-ms"`
	Backend        string `yaml:"backend"`
	Key            string `yaml:"key"`
	MemoryCapacity int    `yaml:"memory-capacity"`
}

type DedupConfig struct {
	Prefix   string `yaml:"prefix"`
	TTLHours int    `yaml:"ttl-hours"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DBConfig struct {
	URL string `yaml:"url"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// QueueEnabled reports whether readings go through the shared queue.
func (c Config) QueueEnabled() bool {
	return c.Ingestion.Queue.Enabled == nil || *c.Ingestion.Queue.Enabled
}

func (c Config) PopTimeout() time.Duration {
	return time.Duration(c.Ingestion.Queue.PopTimeoutMS) * time.Millisecond
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Ingestion.Queue.PollIntervalMS) * time.Millisecond
}

func (c Config) DedupTTL() time.Duration {
	return time.Duration(c.Ingestion.Dedup.TTLHours) * time.Hour
}

// Load reads the optional CONFIG_FILE, then environment variables, which win.
// API_KEYS format: "client1:key1,client2:key2"
func Load() (Config, error) {
	var cfg Config

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	apiKeys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return Config{}, err
	}
	// Local dev fallback so the service runs out-of-the-box.
	if len(apiKeys) == 0 {
		apiKeys["device-key-123"] = "dev-terminal"
	}
	cfg.APIKeys = apiKeys

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	q := &cfg.Ingestion.Queue

	if v, ok := lookup("INGESTION_QUEUE_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("INGESTION_QUEUE_ENABLED: %w", err)
		}
		q.Enabled = &b
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"INGESTION_QUEUE_BATCH_SIZE", &q.BatchSize},
		{"INGESTION_QUEUE_POP_TIMEOUT_MS", &q.PopTimeoutMS},
		{"INGESTION_QUEUE_POLL_INTERVAL_MS", &q.PollIntervalMS},
		{"INGESTION_QUEUE_MEMORY_CAPACITY", &q.MemoryCapacity},
		{"INGESTION_DEDUP_TTL_HOURS", &cfg.Ingestion.Dedup.TTLHours},
		{"REDIS_DB", &cfg.Redis.DB},
	}
	for _, e := range ints {
		v, ok := lookup(e.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", e.name, err)
		}
		*e.dst = n
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"INGESTION_QUEUE_BACKEND", &q.Backend},
		{"INGESTION_QUEUE_KEY", &q.Key},
		{"INGESTION_DEDUP_PREFIX", &cfg.Ingestion.Dedup.Prefix},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"DB_URL", &cfg.DB.URL},
		{"HTTP_ADDR", &cfg.HTTP.Addr},
		{"LOG_LEVEL", &cfg.Log.Level},
	}
	for _, e := range strs {
		if v, ok := lookup(e.name); ok {
			*e.dst = v
		}
	}
	return nil
}

// lookup treats blank values as unset.
func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

func parseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apiKeys, nil
	}

	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "client:key,client:key"`)
		}
		client := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if client == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "client:key,client:key"`)
		}
		apiKeys[key] = client
	}
	return apiKeys, nil
}

func (c *Config) applyDefaults() {
	q := &c.Ingestion.Queue
	if q.BatchSize == 0 {
		q.BatchSize = 100
	}
	if q.PopTimeoutMS == 0 {
		q.PopTimeoutMS = 200
	}
	if q.PollIntervalMS == 0 {
		q.PollIntervalMS = 500
	}
	if q.Backend == "" {
		q.Backend = BackendRedis
	}
	q.Backend = strings.ToLower(q.Backend)
	if q.Key == "" {
		q.Key = "attendance:ingest:queue"
	}
	if q.MemoryCapacity == 0 {
		q.MemoryCapacity = 100000
	}
	if c.Ingestion.Dedup.Prefix == "" {
		c.Ingestion.Dedup.Prefix = "attendance:dedup"
	}
	if c.Ingestion.Dedup.TTLHours == 0 {
		c.Ingestion.Dedup.TTLHours = 168
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c Config) validate() error {
	q := c.Ingestion.Queue
	switch {
	case c.DB.URL == "":
		return errors.New("DB_URL required")
	case q.BatchSize <= 0:
		return errors.New("ingestion.queue.batch-size must be positive")
	case q.PopTimeoutMS <= 0:
		return errors.New("ingestion.queue.pop-timeout-ms must be positive")
	case q.PollIntervalMS <= 0:
		return errors.New("ingestion.queue.poll-interval-ms must be positive")
	case q.Backend != BackendRedis && q.Backend != BackendMemory:
		return fmt.Errorf("ingestion.queue.backend %q must be %q or %q", q.Backend, BackendRedis, BackendMemory)
	case c.Ingestion.Dedup.TTLHours <= 0:
		return errors.New("ingestion.dedup.ttl-hours must be positive")
	case c.Ingestion.Dedup.Prefix == q.Key:
		return errors.New("ingestion.dedup.prefix must differ from ingestion.queue.key")
	}
	return nil
}
