// Package config loads and validates the service configuration. Config files
// are YAML with environment variable expansion; missing fields are filled
// from Defaults via a merge, so a minimal file only needs the secrets.
package config

import (
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	yaml "gopkg.in/yaml.v3"

	"github.com/recibo/invoicer/internal/artifact"
	"github.com/recibo/invoicer/internal/email"
	"github.com/recibo/invoicer/internal/semantic"
)

type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	IMAP       IMAPProviders    `yaml:"imap"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Inference  semantic.Config  `yaml:"inference"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	IncludeCaller bool   `yaml:"include_caller"`
}

type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

// IMAPProviders maps a source type ("gmail", "outlook") to its connection
// settings. Unknown source types fail at run wiring, not at load.
type IMAPProviders map[string]email.IMAPConfig

type OAuthConfig struct {
	Google    OAuthClient `yaml:"google"`
	Microsoft OAuthClient `yaml:"microsoft"`
}

type OAuthClient struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type ArtifactsConfig struct {
	Backend string                `yaml:"backend"` // s3, gdrive or file
	S3      artifact.S3Config     `yaml:"s3"`
	GDrive  artifact.GDriveConfig `yaml:"gdrive"`
	Dir     string                `yaml:"dir"` // file backend only
}

type IngestionConfig struct {
	BatchSize     int `yaml:"batch_size"`
	ChunkSize     int `yaml:"chunk_size"`
	MaxWorkers    int `yaml:"max_workers"`
	WorkerTimeout int `yaml:"worker_timeout"` // minutes
}

type SchedulingConfig struct {
	Enabled         bool   `yaml:"enabled"`
	FrequencyEvery  string `yaml:"frequency_every"` // minute, hour, day
	FrequencyAmount uint   `yaml:"frequency_amount"`
	StartNow        bool   `yaml:"start_now"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Defaults returns the configuration used when a field is absent from the
// file.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		IMAP: IMAPProviders{
			"gmail": {
				Server:     "imap.gmail.com",
				Port:       993,
				Timeout:    60,
				VerifyCert: true,
			},
			"outlook": {
				Server:     "outlook.office365.com",
				Port:       993,
				Timeout:    60,
				VerifyCert: true,
			},
		},
		Inference: semantic.Config{
			URL:     "http://localhost:11434/v1",
			Model:   "llama3.1",
			Timeout: 120,
		},
		Artifacts: ArtifactsConfig{
			Backend: "s3",
			S3: artifact.S3Config{
				Region: "us-east-1",
			},
		},
		Ingestion: IngestionConfig{
			BatchSize:     2000,
			ChunkSize:     200,
			MaxWorkers:    4,
			WorkerTimeout: 30,
		},
		Scheduling: SchedulingConfig{
			FrequencyEvery:  "hour",
			FrequencyAmount: 1,
			StartNow:        true,
		},
		Metrics: MetricsConfig{
			Dir: "./metrics",
		},
	}
}

// Load reads and validates one config file. Environment variable references
// ($VAR or ${VAR}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML, filling gaps from Defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.URL == "" {
		problems = append(problems, "database.url is required")
	}

	switch c.Artifacts.Backend {
	case "s3":
		if c.Artifacts.S3.Bucket == "" {
			problems = append(problems, "artifacts.s3.bucket is required for the s3 backend")
		}
	case "gdrive":
		if c.Artifacts.GDrive.CredentialsFile == "" {
			problems = append(problems, "artifacts.gdrive.credentials_file is required for the gdrive backend")
		}
	case "file":
		if c.Artifacts.Dir == "" {
			problems = append(problems, "artifacts.dir is required for the file backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown artifacts.backend %q", c.Artifacts.Backend))
	}

	if c.Ingestion.ChunkSize > c.Ingestion.BatchSize {
		problems = append(problems, "ingestion.chunk_size must not exceed ingestion.batch_size")
	}

	switch c.Scheduling.FrequencyEvery {
	case "minute", "hour", "day":
	default:
		problems = append(problems, fmt.Sprintf("unknown scheduling.frequency_every %q", c.Scheduling.FrequencyEvery))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
