package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"kmeans-workers/internal/domain"
	"kmeans-workers/internal/metrics"
	"kmeans-workers/internal/protocol"
	"kmeans-workers/internal/worker"
	"kmeans-workers/pkg/partition"
)

const inboxSize = 16

type slotState int

const (
	slotEmpty slotState = iota
	slotStarting
	slotAvailable
	slotBusy
	slotStopping
	slotTerminated
)

func (s slotState) String() string {
	switch s {
	case slotEmpty:
		return "empty"
	case slotStarting:
		return "starting"
	case slotAvailable:
		return "available"
	case slotBusy:
		return "busy"
	case slotStopping:
		return "stopping"
	case slotTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("slotState(%d)", int(s))
	}
}

type slot struct {
	index int
	state slotState
	agent *worker.Agent
}

// live slots count towards the configured thread count.
func (s *slot) live() bool {
	return s.state == slotStarting || s.state == slotAvailable || s.state == slotBusy
}

type pendingRequest struct {
	round  *round
	worker int
}

// Manager owns a resizable set of workers and runs clustering rounds on them.
//
// All pool state is owned by a single coordinator goroutine. Public methods
// hand closures to it and wait for the answer. A round is dispatched only when
// every configured worker is available; until then it waits in a FIFO queue.
type Manager struct {
	logger      *zap.Logger
	base        *zap.Logger
	workerLevel zapcore.Level
	metrics     *metrics.Metrics

	commands chan func()
	inbox    chan protocol.FromWorker
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	workers  errgroup.Group
	stopOnce sync.Once

	// coordinator state
	slots   []*slot
	free    []int
	threads int
	pending map[uint64]*pendingRequest
	nextID  uint64
	queue   []*round
	stopped bool
}

// NewManager starts a pool with the given number of workers.
func NewManager(logger *zap.Logger, threads int, opts ...Option) (*Manager, error) {
	if threads < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidThreadCount, threads)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:      logger.Named("pool"),
		base:        logger,
		workerLevel: zapcore.WarnLevel,
		commands:    make(chan func()),
		inbox:       make(chan protocol.FromWorker, inboxSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[uint64]*pendingRequest),
		nextID:      1,
	}
	for _, opt := range opts {
		opt(m)
	}

	for range threads {
		m.addWorker()
	}
	m.metrics.SetThreads(m.threads)

	go m.loop()
	return m, nil
}

// SetThreadCount grows or shrinks the pool to n workers. New workers join
// once they confirm their start; removed workers leave the active set at once.
func (m *Manager) SetThreadCount(n int) error {
	if n < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidThreadCount, n)
	}
	return m.do(func() { m.resize(n) })
}

// Threads returns the configured worker count, or 0 after Stop.
func (m *Manager) Threads() int {
	var n int
	if err := m.do(func() { n = m.threads }); err != nil {
		return 0
	}
	return n
}

// Cluster labels every point with its nearest centroid. The work is split
// evenly across all workers. The result is in canonical order and the
// caller's slices are left untouched.
func (m *Manager) Cluster(ctx context.Context, centroids []domain.Centroid, points []domain.Point) ([]domain.Point, error) {
	if len(centroids) == 0 {
		return nil, ErrNoCentroids
	}
	r := newRound(ctx, protocol.KindCluster)
	r.centroids = slices.Clone(centroids)
	r.points = slices.Clone(points)

	res, err := m.run(ctx, r)
	if err != nil {
		return nil, err
	}
	return res.points, nil
}

// RecomputeCentroids returns the mean of every label group in points.
// A label group is never split across workers.
func (m *Manager) RecomputeCentroids(ctx context.Context, points []domain.Point) ([]domain.Centroid, error) {
	r := newRound(ctx, protocol.KindCentroids)
	r.points = slices.Clone(points)

	res, err := m.run(ctx, r)
	if err != nil {
		return nil, err
	}
	return res.centroids, nil
}

// Stop terminates every worker regardless of its state. Pending and queued
// rounds fail with ErrPoolStopped. Stop is idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		_ = m.do(m.shutdown)
		<-m.done
		if err := m.workers.Wait(); err != nil {
			m.logger.Warn("Worker exited with error", zap.Error(err))
		}
		m.logger.Info("Pool stopped")
	})
}

func (m *Manager) run(ctx context.Context, r *round) (roundResult, error) {
	if err := m.do(func() { m.enqueue(r) }); err != nil {
		return roundResult{}, err
	}
	select {
	case res := <-r.done:
		return res, res.err
	case <-ctx.Done():
		return roundResult{}, ctx.Err()
	}
}

// do runs fn on the coordinator goroutine and waits for it to return.
func (m *Manager) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case m.commands <- func() { fn(); close(finished) }:
	case <-m.done:
		return ErrPoolStopped
	}
	<-finished
	return nil
}

func (m *Manager) loop() {
	defer close(m.done)
	for !m.stopped {
		select {
		case fn := <-m.commands:
			fn()
		case msg := <-m.inbox:
			m.handleMessage(msg)
		}
	}
}

func (m *Manager) resize(n int) {
	before := m.threads
	for m.threads < n {
		m.addWorker()
	}
	for m.threads > n {
		m.removeWorker()
	}
	if before != n {
		m.logger.Info("Resized pool", zap.Int("from", before), zap.Int("to", n))
	}
	m.metrics.SetThreads(m.threads)
	m.tryDispatch()
}

func (m *Manager) addWorker() {
	index := len(m.slots)
	if n := len(m.free); n > 0 {
		index = m.free[n-1]
		m.free = m.free[:n-1]
	}

	agent := worker.NewAgent(m.base, m.inbox)
	s := &slot{index: index, state: slotStarting, agent: agent}
	if index == len(m.slots) {
		m.slots = append(m.slots, s)
	} else {
		m.slots[index] = s
	}

	m.workers.Go(func() error {
		return agent.Run(m.ctx)
	})
	m.logger.Info("Starting worker", zap.Int("id", index))
	m.send(s, protocol.Start{WorkerID: index, LogLevel: m.workerLevel})
	m.threads++
}

// removeWorker stops the live worker with the highest index.
func (m *Manager) removeWorker() {
	for i := len(m.slots) - 1; i >= 0; i-- {
		s := m.slots[i]
		if s.live() {
			m.logger.Info("Stopping worker", zap.Int("id", s.index), zap.Stringer("state", s.state))
			s.state = slotStopping
			m.send(s, protocol.Stop{})
			m.threads--
			return
		}
	}
	panic(fmt.Sprintf("pool: no live worker to stop with %d threads configured", m.threads))
}

func (m *Manager) send(s *slot, msg protocol.ToWorker) {
	m.logger.Debug("Sending message",
		zap.String("kind", string(msg.Kind())),
		zap.Int("worker", s.index))
	s.agent.Send(msg)
}

func (m *Manager) enqueue(r *round) {
	m.queue = append(m.queue, r)
	m.tryDispatch()
}

// tryDispatch starts queued rounds for as long as the barrier holds.
func (m *Manager) tryDispatch() {
	for len(m.queue) > 0 {
		r := m.queue[0]
		if err := r.ctx.Err(); err != nil {
			m.queue = m.queue[1:]
			m.settle(r, roundResult{err: err})
			continue
		}
		workers := m.takeWorkers()
		if workers == nil {
			break
		}
		m.queue = m.queue[1:]
		m.dispatch(r, workers)
	}
	m.metrics.SetQueued(len(m.queue))
}

// takeWorkers returns every worker, marked busy, if all configured workers
// are available. Otherwise it returns nil and changes nothing.
func (m *Manager) takeWorkers() []*slot {
	if m.stopped || m.threads == 0 {
		return nil
	}
	var available []*slot
	for _, s := range m.slots {
		if s.state == slotAvailable {
			available = append(available, s)
		}
	}
	if len(available) != m.threads {
		return nil
	}
	for _, s := range available {
		s.state = slotBusy
	}
	return available
}

func (m *Manager) dispatch(r *round, workers []*slot) {
	r.dispatched = time.Now()

	switch r.kind {
	case protocol.KindCluster:
		parts := partition.Group(len(workers), r.points)
		r.remaining = len(workers)
		for i, s := range workers {
			m.send(s, protocol.Cluster{
				CorrelationID: m.track(r, s),
				Centroids:     r.centroids,
				Points:        parts[i],
			})
		}

	case protocol.KindCentroids:
		groups := groupByLabel(r.points)
		if len(groups) < len(workers) {
			for _, s := range workers[len(groups):] {
				m.send(s, protocol.Resume{})
			}
			workers = workers[:len(groups)]
		}
		if len(workers) == 0 {
			m.complete(r)
			return
		}
		assignments := partition.Group(len(workers), groups)
		r.remaining = len(workers)
		for i, s := range workers {
			m.send(s, protocol.ComputeCentroids{
				CorrelationID: m.track(r, s),
				Groups:        assignments[i],
			})
		}

	default:
		panic(fmt.Sprintf("pool: unknown round kind %q", r.kind))
	}
	m.metrics.SetPending(len(m.pending))
}

// track registers a pending request and returns its correlation id.
func (m *Manager) track(r *round, s *slot) uint64 {
	id := m.nextID
	m.nextID++
	m.pending[id] = &pendingRequest{round: r, worker: s.index}
	return id
}

func (m *Manager) handleMessage(msg protocol.FromWorker) {
	if msg == nil {
		protocol.Unexpected("manager", msg)
	}
	m.logger.Debug("Handling message",
		zap.String("kind", string(msg.Kind())),
		zap.Int("worker", msg.Worker()))

	switch msg := msg.(type) {
	case protocol.Started:
		s := m.slot(msg)
		if s.state == slotStarting || s.state == slotBusy {
			s.state = slotAvailable
		}

	case protocol.Stopped:
		s := m.slot(msg)
		m.logger.Info("Worker stopped", zap.Int("id", s.index))
		s.state = slotEmpty
		s.agent = nil
		m.free = append(m.free, s.index)

	case protocol.Centroids:
		r := m.resolve(msg, msg.CorrelationID)
		r.outCentres = append(r.outCentres, msg.Centroids...)
		m.release(msg)
		m.complete(r)

	case protocol.Clustered:
		r := m.resolve(msg, msg.CorrelationID)
		r.outPoints = append(r.outPoints, msg.Points...)
		m.release(msg)
		m.complete(r)

	default:
		protocol.Unexpected("manager", msg)
	}

	m.tryDispatch()
}

func (m *Manager) slot(msg protocol.FromWorker) *slot {
	id := msg.Worker()
	if id < 0 || id >= len(m.slots) || m.slots[id].agent == nil {
		panic(&protocol.Error{Side: "manager", Reason: fmt.Sprintf("reply from unknown worker %d", id), Msg: msg})
	}
	return m.slots[id]
}

// resolve removes the pending request for id and returns its round.
func (m *Manager) resolve(msg protocol.FromWorker, id uint64) *round {
	p, ok := m.pending[id]
	if !ok {
		panic(&protocol.Error{Side: "manager", Reason: fmt.Sprintf("unknown correlation id %d", id), Msg: msg})
	}
	delete(m.pending, id)
	m.metrics.SetPending(len(m.pending))
	p.round.remaining--
	return p.round
}

// release returns a worker that finished its request to the available set.
// Workers stopped meanwhile stay out of it.
func (m *Manager) release(msg protocol.FromWorker) {
	s := m.slot(msg)
	if s.state == slotBusy {
		s.state = slotAvailable
	}
}

func (m *Manager) complete(r *round) {
	if r.remaining > 0 {
		return
	}
	m.settle(r, r.merge())
}

func (m *Manager) settle(r *round, res roundResult) {
	if r.settled {
		return
	}
	r.settled = true

	var elapsed time.Duration
	if !r.dispatched.IsZero() {
		elapsed = time.Since(r.dispatched)
	}
	m.metrics.RoundFinished(string(r.kind), elapsed, res.err)
	if res.err != nil {
		m.logger.Debug("Round abandoned", zap.String("kind", string(r.kind)), zap.Error(res.err))
	} else {
		m.logger.Debug("Round finished",
			zap.String("kind", string(r.kind)),
			zap.Duration("elapsed", elapsed))
	}
	r.done <- res
}

func (m *Manager) shutdown() {
	m.logger.Info("Stopping pool",
		zap.Int("threads", m.threads),
		zap.Int("pending", len(m.pending)),
		zap.Int("queued", len(m.queue)))

	m.stopped = true
	m.cancel()

	for id, p := range m.pending {
		m.settle(p.round, roundResult{err: ErrPoolStopped})
		delete(m.pending, id)
	}
	for _, r := range m.queue {
		m.settle(r, roundResult{err: ErrPoolStopped})
	}
	m.queue = nil

	for _, s := range m.slots {
		if s.agent != nil {
			s.state = slotTerminated
			s.agent = nil
		}
	}
	m.threads = 0

	m.metrics.SetThreads(0)
	m.metrics.SetPending(0)
	m.metrics.SetQueued(0)
}
