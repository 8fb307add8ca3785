package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port           int           `env:"PORT" envDefault:"5000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"120s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"./data/netguard.db"`

	// An empty RabbitMQURL runs training jobs in process on an in-memory queue.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	// Job blobs go to S3 when S3EndpointURL or S3Region is set, to StorageDir otherwise.
	StorageDir        string `env:"STORAGE_DIR" envDefault:"./data/storage"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION"`
	JobBucket         string `env:"JOB_BUCKET" envDefault:"training-jobs"`

	// JobWorkers bounds how many training jobs one process runs at once.
	JobWorkers int `env:"JOB_WORKERS" envDefault:"2"`

	Runners RunnerDefaults
}

// RunnerDefaults describes the runners used when no RUNNERS_CONFIG file is set,
// and the limits applied to file entries that leave them out.
type RunnerDefaults struct {
	ConfigFile       string        `env:"RUNNERS_CONFIG"`
	PythonExecutable string        `env:"PYTHON_EXECUTABLE" envDefault:"python3"`
	ModelScriptDir   string        `env:"MODEL_SCRIPT_DIR" envDefault:"./models"`
	Timeout          time.Duration `env:"RUNNER_TIMEOUT" envDefault:"60s"`
	MaxConcurrent    int           `env:"RUNNER_MAX_CONCURRENT" envDefault:"4"`
	Warm             int           `env:"RUNNER_WARM" envDefault:"0"`
	QueueTimeout     time.Duration `env:"RUNNER_QUEUE_TIMEOUT" envDefault:"0s"`
	ExitGrace        time.Duration `env:"RUNNER_EXIT_GRACE" envDefault:"2s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}
	if cfg.Runners.Timeout <= 0 {
		return Config{}, fmt.Errorf("RUNNER_TIMEOUT must be positive, got %v", cfg.Runners.Timeout)
	}
	return cfg, nil
}

func (c Config) UseS3() bool {
	return c.S3EndpointURL != "" || c.S3Region != ""
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
