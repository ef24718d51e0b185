package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration round-trips through YAML as a string like "10m" or "1h30m".
// Plain integers are accepted as nanoseconds for compatibility.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		var ns int64
		if intErr := value.Decode(&ns); intErr == nil {
			*d = Duration(ns)
			return nil
		}
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		Group   string   `yaml:"group"`
	} `yaml:"kafka"`

	Ingest struct {
		Cron         string        `yaml:"cron"`
		PoolSize     int64         `yaml:"pool_size"`
		BatchSize    int           `yaml:"batch_size"`
		CycleBudget  Duration `yaml:"cycle_budget"`
		FetchTimeout Duration `yaml:"fetch_timeout"`
	} `yaml:"ingest"`

	Sweeper struct {
		Cron       string        `yaml:"cron"`
		StaleAfter Duration `yaml:"stale_after"`
		BatchSize  int           `yaml:"batch_size"`
	} `yaml:"sweeper"`

	Breaker struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		Cooldown         Duration `yaml:"cooldown"`
	} `yaml:"breaker"`

	Quota struct {
		Window Duration `yaml:"window"`
		Limit  int           `yaml:"limit"`
	} `yaml:"quota"`

	Analysis struct {
		Workers int64 `yaml:"workers"`
	} `yaml:"analysis"`

	Scoring struct {
		Endpoint       string        `yaml:"endpoint"`
		APIKey         string        `yaml:"api_key"`
		Model          string        `yaml:"model"`
		MaxInputTokens int           `yaml:"max_input_tokens"`
		Timeout        Duration `yaml:"timeout"`
	} `yaml:"scoring"`

	Cache struct {
		ProcessTTL        Duration `yaml:"process_ttl"`
		EntryTTL          Duration `yaml:"entry_ttl"`
		CoverageThreshold float64       `yaml:"coverage_threshold"`
	} `yaml:"cache"`

	Stream struct {
		PollInterval      Duration `yaml:"poll_interval"`
		HeartbeatInterval Duration `yaml:"heartbeat_interval"`
		IdleTimeout       Duration `yaml:"idle_timeout"`
		MaxPerIP          int           `yaml:"max_per_ip"`
	} `yaml:"stream"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

// Load reads the YAML config at path, writing defaults there on first run.
// Environment variables take highest precedence.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.DataDir = filepath.Join(os.Getenv("HOME"), ".newspulse")
	cfg.LogLevel = "info"
	cfg.HTTP.Listen = ":8080"
	cfg.Kafka.Topic = "newspulse.items"
	cfg.Kafka.Group = "newspulse-analysis"
	cfg.Ingest.Cron = "*/5 * * * *"
	cfg.Ingest.PoolSize = 4
	cfg.Ingest.BatchSize = 10
	cfg.Ingest.CycleBudget = Duration(4 * time.Minute)
	cfg.Ingest.FetchTimeout = Duration(20 * time.Second)
	cfg.Sweeper.Cron = "*/15 * * * *"
	cfg.Sweeper.StaleAfter = Duration(time.Hour)
	cfg.Sweeper.BatchSize = 10
	cfg.Breaker.FailureThreshold = 5
	cfg.Breaker.Cooldown = Duration(10 * time.Minute)
	cfg.Quota.Window = Duration(time.Hour)
	cfg.Quota.Limit = 100
	cfg.Analysis.Workers = 4
	cfg.Scoring.Endpoint = "https://scoring.example.com"
	cfg.Scoring.Model = "finbert-v2"
	cfg.Scoring.MaxInputTokens = 512
	cfg.Scoring.Timeout = Duration(15 * time.Second)
	cfg.Cache.ProcessTTL = Duration(time.Hour)
	cfg.Cache.EntryTTL = Duration(24 * time.Hour)
	cfg.Cache.CoverageThreshold = 0.8
	cfg.Stream.PollInterval = Duration(2 * time.Second)
	cfg.Stream.HeartbeatInterval = Duration(25 * time.Second)
	cfg.Stream.IdleTimeout = Duration(5 * time.Minute)
	cfg.Stream.MaxPerIP = 2
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SCORING_API_KEY"); v != "" {
		cfg.Scoring.APIKey = v
	}
	if v := os.Getenv("SCORING_ENDPOINT"); v != "" {
		cfg.Scoring.Endpoint = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("NEWSPULSE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NEWSPULSE_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
