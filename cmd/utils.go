package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"netguard-backend/internal/bridge"
	"netguard-backend/internal/config"
	"netguard-backend/internal/storage"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// SetupLogging routes log and slog output to stderr, and also to LOG_FILE when
// it is set. The returned func closes the log file.
func SetupLogging(cfg config.Config) func() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	slog.SetLogLoggerLevel(cfg.SlogLevel())

	if cfg.LogFile == "" {
		return func() {}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	return func() {
		if err := f.Close(); err != nil {
			log.Printf("error closing log file: %v", err)
		}
	}
}

// CreateStorage returns the job blob store: S3 (or MinIO) when configured, a
// local directory otherwise. The job bucket is created if it is missing.
func CreateStorage(ctx context.Context, cfg config.Config) (storage.Provider, error) {
	var provider storage.Provider
	if cfg.UseS3() {
		s3p, err := storage.NewS3Provider(ctx, storage.S3ProviderConfig{
			S3EndpointURL:     cfg.S3EndpointURL,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
			S3Region:          cfg.S3Region,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating s3 storage: %w", err)
		}
		provider = s3p
		slog.Info("using s3 storage", "endpoint", cfg.S3EndpointURL, "bucket", cfg.JobBucket)
	} else {
		provider = storage.NewLocalProvider(cfg.StorageDir)
		slog.Info("using local storage", "dir", cfg.StorageDir, "bucket", cfg.JobBucket)
	}

	if err := provider.CreateBucket(ctx, cfg.JobBucket); err != nil {
		return nil, fmt.Errorf("error creating job bucket: %w", err)
	}
	return provider, nil
}

// CreateModelService loads the runner descriptors and builds one pool per model
// kind along with the service invoking them. Deadlines come from the pools.
func CreateModelService(cfg config.Config, opts ...bridge.Option) (*bridge.Service, *bridge.Pools, error) {
	specs, err := config.LoadRunners(cfg.Runners)
	if err != nil {
		return nil, nil, err
	}

	pools, err := bridge.NewPools(specs)
	if err != nil {
		return nil, nil, err
	}

	for _, kind := range bridge.Kinds {
		spec := specs[kind]
		slog.Info("configured model runner", "kind", kind, "path", spec.Path, "args", spec.Args, "timeout", spec.Timeout, "max_concurrent", spec.MaxConcurrent, "warm", spec.Warm)
	}

	return bridge.NewService(pools, opts...), pools, nil
}
