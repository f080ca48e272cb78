package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kmeans-workers/internal/app"
	"kmeans-workers/internal/domain"
	"kmeans-workers/internal/infrastructure"
	"kmeans-workers/internal/metrics"
	"kmeans-workers/internal/pool"
)

func main() {
	args := os.Args[1:]

	// Initialise the logger
	logger := initLogger("info")
	defer func() { _ = logger.Sync() }()

	// Read the configuration
	configReader := infrastructure.NewYAMLConfigReader(logger)
	configPath, err := configReader.ConfigPath(args, "config.yaml")
	if err != nil {
		logger.Fatal("Failed to parse arguments", zap.Error(err))
	}
	config, err := configReader.ReadConfig(configPath, args)
	if err != nil {
		logger.Fatal("Failed to read config", zap.Error(err))
	}

	// Rebuild the logger with the configured level
	if config.LogFile != "" {
		logger = initLogger(config.LogLevel, config.LogFile)
	} else {
		logger = initLogger(config.LogLevel)
	}
	workerLevel, err := infrastructure.ParseLevel(config.WorkerLogLevel)
	if err != nil {
		logger.Fatal("Invalid worker log level", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialise components
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	manager, err := pool.NewManager(logger, config.Workers,
		pool.WithLogLevel(workerLevel),
		pool.WithMetrics(metrics.New(reg)))
	if err != nil {
		logger.Fatal("Failed to start worker pool", zap.Error(err))
	}
	defer manager.Stop()

	if config.MetricsAddr != "" {
		go serveMetrics(ctx, logger, config.MetricsAddr, reg)
	}
	go reloadOnHangup(ctx, logger, configReader, configPath, args, manager)

	fileReader := infrastructure.NewTXTFileReader(logger)
	fileWriter := infrastructure.NewTXTFileWriter(logger, infrastructure.DecimalFormatter(config.Decimals))
	clusterer := app.NewKMeansClusterer(logger, manager, config)

	// Read input data
	points, err := fileReader.ReadPoints(config.Input)
	if err != nil {
		logger.Fatal("Failed to read points", zap.String("file", config.Input), zap.Error(err))
	}

	logger.Info("Starting k-means clustering",
		zap.Int("points", len(points)),
		zap.Int("clusters", config.Clusters),
		zap.Int("workers", config.Workers))

	result, err := clusterer.Run(ctx, points)
	if err != nil {
		logger.Fatal("Clustering failed", zap.Error(err))
	}

	// Write results
	if err := fileWriter.WritePoints(config.Output, result.Points); err != nil {
		logger.Error("Failed to write points", zap.String("file", config.Output), zap.Error(err))
	} else {
		logger.Info("Successfully written points", zap.String("file", config.Output))
	}
	if err := fileWriter.WriteCentroids(config.CentroidsOutput, result.Centroids); err != nil {
		logger.Error("Failed to write centroids", zap.String("file", config.CentroidsOutput), zap.Error(err))
	} else {
		logger.Info("Successfully written centroids", zap.String("file", config.CentroidsOutput))
	}

	logger.Info("K-means clustering completed",
		zap.String("run_id", result.RunID),
		zap.Int("rounds", result.Rounds),
		zap.Bool("converged", result.Converged))
}

// initLogger initializes the logger with the specified level and log file name.
func initLogger(level string, logfileName ...string) *zap.Logger {
	config := zap.NewProductionConfig()

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if len(logfileName) > 0 {
		config.OutputPaths = logfileName
		config.ErrorOutputPaths = logfileName
	}
	config.EncoderConfig.TimeKey = "t"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	config.DisableCaller = false

	logger, err := config.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

func serveMetrics(ctx context.Context, logger *zap.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", zap.Error(err))
	}
}

// reloadOnHangup re-reads the config on SIGHUP and resizes the pool.
func reloadOnHangup(ctx context.Context, logger *zap.Logger, reader domain.ConfigReader, path string, args []string, p domain.ResizablePool) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			config, err := reader.ReadConfig(path, args)
			if err != nil {
				logger.Error("Failed to reload config", zap.Error(err))
				continue
			}
			if err := p.SetThreadCount(config.Workers); err != nil {
				logger.Error("Failed to resize worker pool", zap.Int("workers", config.Workers), zap.Error(err))
				continue
			}
			logger.Info("Reloaded config", zap.Int("workers", config.Workers))
		}
	}
}
