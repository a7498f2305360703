// Package config loads runtime configuration from environment variables and
// the feeds YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port             string
	DatabaseURL      string
	RedisURL         string
	OpenAIAPIKey     string
	OpenAIModel      string
	FeedsPath        string
	CacheTTLSecs     int
	ReadTimeoutSecs  int
	WriteTimeoutSecs int
	IdleTimeoutSecs  int
	FetchTimeoutSecs int
	QueueName        string
}

// Load reads configuration from environment variables, applying defaults and
// validation. DATABASE_URL and REDIS_URL are optional: the server degrades to
// the in-memory store and skips caching when they are absent.
func Load() (Config, error) {
	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		FeedsPath:        getEnv("FEEDS_PATH", "feeds.yaml"),
		CacheTTLSecs:     getEnvInt("CACHE_TTL_SECS", 30),
		ReadTimeoutSecs:  getEnvInt("SERVER_READ_TIMEOUT", 10),
		WriteTimeoutSecs: getEnvInt("SERVER_WRITE_TIMEOUT", 10),
		IdleTimeoutSecs:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		FetchTimeoutSecs: getEnvInt("FEED_FETCH_TIMEOUT", 20),
		QueueName:        getEnv("CLASSIFY_QUEUE", "classify:articles"),
	}

	if cfg.CacheTTLSecs <= 0 {
		return Config{}, fmt.Errorf("CACHE_TTL_SECS must be positive")
	}
	if cfg.FetchTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("FEED_FETCH_TIMEOUT must be positive")
	}
	if cfg.ReadTimeoutSecs <= 0 || cfg.WriteTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("server timeouts must be positive")
	}

	return cfg, nil
}

// CacheTTL returns the Redis cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// FetchTimeout returns the per-feed HTTP timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// FeedConfig describes one RSS source to ingest.
type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// FeedsFile is the top-level structure of the feeds YAML file.
type FeedsFile struct {
	Feeds []FeedConfig `yaml:"feeds"`
}

// LoadFeeds parses the feeds YAML file at path.
func LoadFeeds(path string) ([]FeedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}

	var file FeedsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse feeds file: %w", err)
	}
	if len(file.Feeds) == 0 {
		return nil, fmt.Errorf("feeds file %s lists no feeds", path)
	}
	for i, f := range file.Feeds {
		if f.Name == "" || f.URL == "" {
			return nil, fmt.Errorf("feed %d is missing name or url", i)
		}
	}

	return file.Feeds, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
