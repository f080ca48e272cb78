package worker

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kmeans-workers/internal/domain"
	"kmeans-workers/internal/protocol"
)

// MailboxSize bounds the messages queued for one agent. The manager never has
// more than a service message (start, resume or a compute request) and a stop
// outstanding per agent, so sends into the mailbox do not block.
const MailboxSize = 4

// Agent executes one request at a time and replies on the shared outbox.
// Its only state is the identity and log level received with Start.
type Agent struct {
	base    *zap.Logger
	logger  *zap.Logger
	id      int
	mailbox chan protocol.ToWorker
	outbox  chan<- protocol.FromWorker
}

func NewAgent(logger *zap.Logger, outbox chan<- protocol.FromWorker) *Agent {
	base := logger.Named("worker")
	return &Agent{
		base:    base,
		logger:  base,
		id:      -1,
		mailbox: make(chan protocol.ToWorker, MailboxSize),
		outbox:  outbox,
	}
}

// Send queues msg for the agent.
func (a *Agent) Send(msg protocol.ToWorker) {
	a.mailbox <- msg
}

// Run serves the mailbox until the agent acknowledges Stop or ctx ends.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("Worker terminated")
			return nil
		case msg := <-a.mailbox:
			reply, exit := a.handle(msg)
			select {
			case a.outbox <- reply:
			case <-ctx.Done():
				a.logger.Debug("Worker terminated before replying", zap.String("kind", string(reply.Kind())))
				return nil
			}
			if exit {
				return nil
			}
		}
	}
}

func (a *Agent) handle(msg protocol.ToWorker) (protocol.FromWorker, bool) {
	switch msg := msg.(type) {
	case protocol.Start:
		a.id = msg.WorkerID
		a.logger = withLevel(a.base, msg.LogLevel).With(zap.Int("worker", a.id))
		a.logger.Debug("Worker started", zap.Stringer("log_level", msg.LogLevel))
		return protocol.Started{WorkerID: a.id}, false

	case protocol.Resume:
		a.logger.Debug("Worker resumed")
		return protocol.Started{WorkerID: a.id}, false

	case protocol.Stop:
		a.logger.Debug("Worker stopping")
		return protocol.Stopped{WorkerID: a.id}, true

	case protocol.ComputeCentroids:
		centroids := make([]domain.Centroid, 0, len(msg.Groups))
		for _, g := range msg.Groups {
			centroids = append(centroids, domain.CentroidOf(g.Label, g.Points))
		}
		a.logger.Debug("Computed centroids",
			zap.Uint64("correlation_id", msg.CorrelationID),
			zap.Int("groups", len(msg.Groups)))
		return protocol.Centroids{
			WorkerID:      a.id,
			CorrelationID: msg.CorrelationID,
			Centroids:     centroids,
		}, false

	case protocol.Cluster:
		domain.Categorize(msg.Points, msg.Centroids)
		a.logger.Debug("Clustered points",
			zap.Uint64("correlation_id", msg.CorrelationID),
			zap.Int("points", len(msg.Points)),
			zap.Int("centroids", len(msg.Centroids)))
		return protocol.Clustered{
			WorkerID:      a.id,
			CorrelationID: msg.CorrelationID,
			Points:        msg.Points,
		}, false

	default:
		protocol.Unexpected("worker", msg)
		return nil, true
	}
}

// withLevel narrows logger to level. A level below what the core already
// allows is left as is, since zap can only raise levels.
func withLevel(logger *zap.Logger, level zapcore.Level) *zap.Logger {
	if !logger.Core().Enabled(level) {
		return logger
	}
	return logger.WithOptions(zap.IncreaseLevel(level))
}
