package domain

import (
	"errors"
	"time"
)

// Config represents the application configuration
type Config struct {
	Workers         int           `yaml:"workers"`
	Clusters        int           `yaml:"clusters"`
	MaxRounds       int           `yaml:"max_rounds"`
	RoundInterval   time.Duration `yaml:"round_interval"`
	Seed            int64         `yaml:"seed"`
	Labels          []string      `yaml:"labels"`
	Input           string        `yaml:"input"`
	Output          string        `yaml:"output"`
	CentroidsOutput string        `yaml:"centroids_output"`
	Decimals        int           `yaml:"decimals"`
	LogLevel        string        `yaml:"log_level"`
	WorkerLogLevel  string        `yaml:"worker_log_level"`
	LogFile         string        `yaml:"log_file"`
	MetricsAddr     string        `yaml:"metrics_addr"`
}

// Label returns the cluster label for the i-th initial centroid.
func (c *Config) Label(i int) string {
	if i < len(c.Labels) {
		return c.Labels[i]
	}
	return clusterName(i)
}

// Point is a 2-D sample. An empty Label means the point is not classified yet.
type Point struct {
	X     float64
	Y     float64
	Label string
}

// Centroid is a Point that names a cluster.
type Centroid Point

// Result is the outcome of one clustering run.
type Result struct {
	RunID     string
	Points    []Point
	Centroids []Centroid
	Rounds    int
	Converged bool
}

// DefaultLabels is the palette used when the config does not list labels.
var DefaultLabels = []string{
	"#196040", "#2e443e", "#acaf3f", "#24af63", "#24b724",
	"#a4e8b2", "#366353", "#64d6b9", "#798740", "#55665e",
}

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidFileFormat = errors.New("invalid file format")
	ErrInvalidConfig     = errors.New("invalid config")
)
