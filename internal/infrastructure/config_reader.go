package infrastructure

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"kmeans-workers/internal/domain"
)

type YAMLConfigReader struct {
	logger *zap.Logger
}

func NewYAMLConfigReader(logger *zap.Logger) *YAMLConfigReader {
	return &YAMLConfigReader{logger: logger}
}

// ReadConfig reads the YAML file at path, applies command line overrides
// from args, fills in defaults and validates the result.
func (r *YAMLConfigReader) ReadConfig(path string, args []string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config domain.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply command line arguments
	if _, err := r.applyCommandLineFlags(&config, args); err != nil {
		return nil, err
	}

	// Set default values
	r.setDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	r.logger.Debug("Config loaded",
		zap.String("path", path),
		zap.Int("workers", config.Workers),
		zap.Int("clusters", config.Clusters))
	return &config, nil
}

// ConfigPath returns the -config argument from args, or fallback.
func (r *YAMLConfigReader) ConfigPath(args []string, fallback string) (string, error) {
	path, err := r.applyCommandLineFlags(&domain.Config{}, args)
	if err != nil {
		return "", err
	}
	if path == "" {
		return fallback, nil
	}
	return path, nil
}

func (r *YAMLConfigReader) applyCommandLineFlags(config *domain.Config, args []string) (string, error) {
	fs := flag.NewFlagSet("kmeans", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.IntVar(&config.Workers, "workers", config.Workers, "Number of workers")
	fs.IntVar(&config.Clusters, "clusters", config.Clusters, "Number of clusters")
	fs.IntVar(&config.MaxRounds, "max-rounds", config.MaxRounds, "Maximum number of rounds")
	fs.DurationVar(&config.RoundInterval, "round-interval", config.RoundInterval, "Minimum time between rounds")
	fs.Int64Var(&config.Seed, "seed", config.Seed, "Random seed for the initial centroids")
	fs.StringVar(&config.Input, "input", config.Input, "Points file")
	fs.StringVar(&config.Output, "output", config.Output, "Labelled points file")
	fs.StringVar(&config.CentroidsOutput, "centroids-output", config.CentroidsOutput, "Centroids file")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level")
	fs.StringVar(&config.WorkerLogLevel, "worker-log-level", config.WorkerLogLevel, "Worker log level")
	fs.StringVar(&config.MetricsAddr, "metrics-addr", config.MetricsAddr, "Address to serve /metrics on")

	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *configPath, nil
}

func (r *YAMLConfigReader) setDefaults(config *domain.Config) {
	if config.Workers == 0 {
		config.Workers = max(1, runtime.NumCPU()-1)
	}
	if config.Clusters == 0 {
		config.Clusters = 3
	}
	if config.MaxRounds == 0 {
		config.MaxRounds = 100
	}
	if len(config.Labels) == 0 {
		config.Labels = slices.Clone(domain.DefaultLabels)
	}
	if config.Output == "" {
		config.Output = "clustered.txt"
	}
	if config.CentroidsOutput == "" {
		config.CentroidsOutput = "centroids.txt"
	}
	if config.Decimals == 0 {
		config.Decimals = 4
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.WorkerLogLevel == "" {
		config.WorkerLogLevel = "warn"
	}
}

// Validate reports every invalid field of config at once.
func Validate(config *domain.Config) error {
	var err error
	if config.Workers < 1 {
		err = multierr.Append(err, fmt.Errorf("%w: workers must be at least 1, got %d", domain.ErrInvalidConfig, config.Workers))
	}
	if config.Clusters < 1 {
		err = multierr.Append(err, fmt.Errorf("%w: clusters must be at least 1, got %d", domain.ErrInvalidConfig, config.Clusters))
	}
	if config.MaxRounds < 1 {
		err = multierr.Append(err, fmt.Errorf("%w: max_rounds must be at least 1, got %d", domain.ErrInvalidConfig, config.MaxRounds))
	}
	if config.RoundInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: round_interval must not be negative", domain.ErrInvalidConfig))
	}
	if config.Decimals < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: decimals must not be negative", domain.ErrInvalidConfig))
	}
	if config.Input == "" {
		err = multierr.Append(err, fmt.Errorf("%w: input file is required", domain.ErrInvalidConfig))
	}
	seen := make(map[string]bool, len(config.Labels))
	for i, label := range config.Labels {
		switch {
		case label == "":
			err = multierr.Append(err, fmt.Errorf("%w: labels[%d] is empty", domain.ErrInvalidConfig, i))
		case seen[label]:
			err = multierr.Append(err, fmt.Errorf("%w: label %q is listed twice", domain.ErrInvalidConfig, label))
		}
		seen[label] = true
	}
	for _, level := range []string{config.LogLevel, config.WorkerLogLevel} {
		if _, perr := ParseLevel(level); perr != nil {
			err = multierr.Append(err, perr)
		}
	}
	return err
}

// ParseLevel maps a configured log level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, level)
	}
}
