// Package protocol defines the messages exchanged between the pool manager
// and its workers.
//
// Both directions are closed sets: ToWorker and FromWorker carry an
// unexported marker method, so only the variants declared here satisfy them.
// Receivers switch on the concrete type and treat anything else as a
// protocol violation.
package protocol

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"kmeans-workers/internal/domain"
)

// Kind names a message variant in logs and errors.
type Kind string

const (
	KindStart     Kind = "start"
	KindStop      Kind = "stop"
	KindResume    Kind = "resume"
	KindCentroids Kind = "centroids"
	KindCluster   Kind = "cluster"
	KindStarted   Kind = "started"
	KindStopped   Kind = "stopped"
	KindClustered Kind = "clustered"
)

// ToWorker is a manager-to-worker message.
type ToWorker interface {
	Kind() Kind
	toWorker()
}

// FromWorker is a worker-to-manager message. Every reply names its sender.
type FromWorker interface {
	Kind() Kind
	Worker() int
	fromWorker()
}

// LabelGroup is the set of points currently carrying one label.
type LabelGroup struct {
	Label  string
	Points []domain.Point
}

// Start assigns the worker its identity and log level.
type Start struct {
	WorkerID int
	LogLevel zapcore.Level
}

// Stop asks the worker to acknowledge and exit.
type Stop struct{}

// Resume returns an idle worker to service without restarting it.
type Resume struct{}

// ComputeCentroids asks for one centroid per label group.
type ComputeCentroids struct {
	CorrelationID uint64
	Groups        []LabelGroup
}

// Cluster asks the worker to label Points against Centroids.
type Cluster struct {
	CorrelationID uint64
	Centroids     []domain.Centroid
	Points        []domain.Point
}

// Started acknowledges Start or Resume.
type Started struct {
	WorkerID int
}

// Stopped acknowledges Stop. The worker has exited once it is sent.
type Stopped struct {
	WorkerID int
}

// Centroids answers ComputeCentroids.
type Centroids struct {
	WorkerID      int
	CorrelationID uint64
	Centroids     []domain.Centroid
}

// Clustered answers Cluster.
type Clustered struct {
	WorkerID      int
	CorrelationID uint64
	Points        []domain.Point
}

func (Start) Kind() Kind            { return KindStart }
func (Stop) Kind() Kind             { return KindStop }
func (Resume) Kind() Kind           { return KindResume }
func (ComputeCentroids) Kind() Kind { return KindCentroids }
func (Cluster) Kind() Kind          { return KindCluster }

func (Start) toWorker()            {}
func (Stop) toWorker()             {}
func (Resume) toWorker()           {}
func (ComputeCentroids) toWorker() {}
func (Cluster) toWorker()          {}

func (Started) Kind() Kind   { return KindStarted }
func (Stopped) Kind() Kind   { return KindStopped }
func (Centroids) Kind() Kind { return KindCentroids }
func (Clustered) Kind() Kind { return KindClustered }

func (m Started) Worker() int   { return m.WorkerID }
func (m Stopped) Worker() int   { return m.WorkerID }
func (m Centroids) Worker() int { return m.WorkerID }
func (m Clustered) Worker() int { return m.WorkerID }

func (Started) fromWorker()   {}
func (Stopped) fromWorker()   {}
func (Centroids) fromWorker() {}
func (Clustered) fromWorker() {}

// Error describes a broken protocol invariant. It is raised with panic,
// never returned.
type Error struct {
	Side   string
	Reason string
	Msg    any
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol violation on %s side: %s (%T)", e.Side, e.Reason, e.Msg)
}

// Unexpected panics with an *Error for a message the receiver cannot handle.
func Unexpected(side string, msg any) {
	panic(&Error{Side: side, Reason: "unrecognized message", Msg: msg})
}
