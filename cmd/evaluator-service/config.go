package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"evalhub/internal/common/cache"
	"evalhub/internal/common/db"
	"evalhub/internal/common/mq"
	"evalhub/internal/common/storage"
	"evalhub/internal/eval/backend"
	"evalhub/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// IntakeConfig holds submission intake settings.
type IntakeConfig struct {
	SourceBucket       string        `yaml:"sourceBucket"`
	RateLimitPerMinute int           `yaml:"rateLimitPerMinute"`
	OperationTimeout   time.Duration `yaml:"operationTimeout"`
}

// EvaluationConfig holds orchestrator settings.
type EvaluationConfig struct {
	MaxConcurrent       int           `yaml:"maxConcurrent"`
	SlotWaitTimeout     time.Duration `yaml:"slotWaitTimeout"`
	Deadline            time.Duration `yaml:"deadline"`
	MaxAttempts         int           `yaml:"maxAttempts"`
	RetryBaseDelay      time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay       time.Duration `yaml:"retryMaxDelay"`
	ConsumerGroup       string        `yaml:"consumerGroup"`
	ConsumerConcurrency int           `yaml:"consumerConcurrency"`
}

// BackendsConfig holds the evaluation backend endpoints.
type BackendsConfig struct {
	Sync      backend.SyncConfig      `yaml:"sync"`
	AsyncPoll backend.AsyncPollConfig `yaml:"asyncPoll"`
}

// AppConfig holds evaluator-service configuration.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server"`
	Logger     logger.Config       `yaml:"logger"`
	Database   db.MySQLConfig      `yaml:"database"`
	Redis      cache.RedisConfig   `yaml:"redis"`
	Kafka      mq.KafkaConfig      `yaml:"kafka"`
	MinIO      storage.MinIOConfig `yaml:"minio"`
	Backends   BackendsConfig      `yaml:"backends"`
	Intake     IntakeConfig        `yaml:"intake"`
	Evaluation EvaluationConfig    `yaml:"evaluation"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Backends.Sync.BaseURL == "" {
		cfg.Backends.Sync = backend.DefaultSyncConfig()
	}
	if cfg.Backends.AsyncPoll.BaseURL == "" {
		cfg.Backends.AsyncPoll = backend.DefaultAsyncPollConfig()
	}

	if cfg.Intake.SourceBucket == "" {
		cfg.Intake.SourceBucket = "evalhub-sources"
	}
	if cfg.Intake.RateLimitPerMinute == 0 {
		cfg.Intake.RateLimitPerMinute = 30
	}
	if cfg.Intake.OperationTimeout == 0 {
		cfg.Intake.OperationTimeout = 5 * time.Second
	}

	if cfg.Evaluation.MaxConcurrent == 0 {
		cfg.Evaluation.MaxConcurrent = 8
	}
	if cfg.Evaluation.SlotWaitTimeout == 0 {
		cfg.Evaluation.SlotWaitTimeout = 2 * time.Second
	}
	if cfg.Evaluation.Deadline == 0 {
		cfg.Evaluation.Deadline = 120 * time.Second
	}
	if cfg.Evaluation.MaxAttempts == 0 {
		cfg.Evaluation.MaxAttempts = 3
	}
	if cfg.Evaluation.RetryBaseDelay == 0 {
		cfg.Evaluation.RetryBaseDelay = time.Second
	}
	if cfg.Evaluation.RetryMaxDelay == 0 {
		cfg.Evaluation.RetryMaxDelay = 8 * time.Second
	}
	if cfg.Evaluation.ConsumerGroup == "" {
		cfg.Evaluation.ConsumerGroup = "evalhub-evaluator"
	}
	if cfg.Evaluation.ConsumerConcurrency == 0 {
		cfg.Evaluation.ConsumerConcurrency = cfg.Evaluation.MaxConcurrent
	}
	return &cfg, nil
}
