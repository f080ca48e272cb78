package pool

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kmeans-workers/internal/domain"
	"kmeans-workers/internal/metrics"
	"kmeans-workers/internal/protocol"
	"kmeans-workers/internal/worker"
)

func newTestManager(t *testing.T, threads int, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(zap.NewNop(), threads, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

// inspect runs fn on the coordinator goroutine.
func inspect(t *testing.T, m *Manager, fn func()) {
	t.Helper()
	require.NoError(t, m.do(fn))
}

func randomPoints(rng *rand.Rand, n int) []domain.Point {
	points := make([]domain.Point, n)
	for i := range points {
		points[i] = domain.Point{X: rng.Float64() * 100, Y: rng.Float64() * 100}
	}
	return points
}

func TestNewManagerRejectsZeroThreads(t *testing.T) {
	_, err := NewManager(zap.NewNop(), 0)
	assert.ErrorIs(t, err, ErrInvalidThreadCount)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestClusterAndRecomputeScenario(t *testing.T) {
	m := newTestManager(t, 2)
	ctx := context.Background()

	points := []domain.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 10, Y: 0}, {X: 10, Y: 1}}
	centroids := []domain.Centroid{{X: 0, Y: 0, Label: "A"}, {X: 10, Y: 0, Label: "B"}}

	clustered, err := m.Cluster(ctx, centroids, points)
	require.NoError(t, err)
	assert.Equal(t, []domain.Point{
		{X: 0, Y: 0, Label: "A"},
		{X: 0, Y: 1, Label: "A"},
		{X: 10, Y: 0, Label: "B"},
		{X: 10, Y: 1, Label: "B"},
	}, clustered)

	next, err := m.RecomputeCentroids(ctx, clustered)
	require.NoError(t, err)
	assert.Equal(t, []domain.Centroid{
		{X: 0, Y: 0.5, Label: "A"},
		{X: 10, Y: 0.5, Label: "B"},
	}, next)
}

func TestClusterLeavesInputUntouched(t *testing.T) {
	m := newTestManager(t, 3)
	points := []domain.Point{{X: 1, Y: 1}, {X: 9, Y: 9}}
	centroids := []domain.Centroid{{X: 0, Y: 0, Label: "A"}}

	_, err := m.Cluster(context.Background(), centroids, points)
	require.NoError(t, err)
	assert.Equal(t, []domain.Point{{X: 1, Y: 1}, {X: 9, Y: 9}}, points)
}

func TestClusterRequiresCentroids(t *testing.T) {
	m := newTestManager(t, 1)
	_, err := m.Cluster(context.Background(), nil, []domain.Point{{X: 1}})
	assert.ErrorIs(t, err, ErrNoCentroids)
}

func TestClusterMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	points := randomPoints(rng, 503)
	centroids := make([]domain.Centroid, 5)
	for i, p := range domain.Pick(rng, 5, points) {
		centroids[i] = domain.Centroid{X: p.X, Y: p.Y, Label: fmt.Sprintf("c%d", i)}
	}

	want := slices.Clone(points)
	domain.Categorize(want, centroids)
	domain.SortPoints(want)

	m := newTestManager(t, 1)
	for threads := 1; threads <= 6; threads++ {
		t.Run(fmt.Sprintf("%d threads", threads), func(t *testing.T) {
			require.NoError(t, m.SetThreadCount(threads))
			got, err := m.Cluster(context.Background(), centroids, points)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRecomputeCentroidsMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	points := randomPoints(rng, 200)
	labels := []string{"a", "b", "c", "d", "e", "f", "g"}
	groups := map[string][]domain.Point{}
	for i := range points {
		points[i].Label = labels[rng.Intn(len(labels))]
		groups[points[i].Label] = append(groups[points[i].Label], points[i])
	}
	var want []domain.Centroid
	for label, group := range groups {
		want = append(want, domain.CentroidOf(label, group))
	}
	domain.SortCentroids(want)

	tests := []struct {
		name    string
		threads int
	}{
		{name: "fewer workers than labels", threads: 3},
		{name: "one worker per label", threads: 7},
		{name: "more workers than labels", threads: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.threads)
			for range 2 {
				got, err := m.RecomputeCentroids(context.Background(), points)
				require.NoError(t, err)
				require.Len(t, got, len(want))
				for i := range want {
					assert.Equal(t, want[i].Label, got[i].Label)
					assert.InDelta(t, want[i].X, got[i].X, 1e-9)
					assert.InDelta(t, want[i].Y, got[i].Y, 1e-9)
				}
			}
		})
	}
}

func TestRecomputeCentroidsUnlabelledGroup(t *testing.T) {
	m := newTestManager(t, 2)
	got, err := m.RecomputeCentroids(context.Background(), []domain.Point{
		{X: 2, Y: 2},
		{X: 4, Y: 4},
		{X: 1, Y: 1, Label: "A"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Centroid{{X: 3, Y: 3}, {X: 1, Y: 1, Label: "A"}}, got)
}

func TestRecomputeCentroidsNoPoints(t *testing.T) {
	m := newTestManager(t, 3)

	got, err := m.RecomputeCentroids(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	// the resumed workers must come back for the next round
	clustered, err := m.Cluster(context.Background(), []domain.Centroid{{Label: "A"}}, []domain.Point{{X: 1}})
	require.NoError(t, err)
	assert.Equal(t, []domain.Point{{X: 1, Label: "A"}}, clustered)
}

func TestSetThreadCount(t *testing.T) {
	m := newTestManager(t, 3)

	t.Run("zero is rejected", func(t *testing.T) {
		err := m.SetThreadCount(0)
		assert.ErrorIs(t, err, ErrInvalidThreadCount)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		assert.Equal(t, 3, m.Threads())
	})

	t.Run("negative is rejected", func(t *testing.T) {
		assert.ErrorIs(t, m.SetThreadCount(-2), ErrInvalidThreadCount)
		assert.Equal(t, 3, m.Threads())
	})

	t.Run("same count is a no-op", func(t *testing.T) {
		require.NoError(t, m.SetThreadCount(3))
		assert.Equal(t, 3, m.Threads())
	})

	t.Run("grow and shrink", func(t *testing.T) {
		require.NoError(t, m.SetThreadCount(5))
		assert.Equal(t, 5, m.Threads())
		require.NoError(t, m.SetThreadCount(2))
		assert.Equal(t, 2, m.Threads())

		got, err := m.Cluster(context.Background(), []domain.Centroid{{Label: "A"}}, []domain.Point{{X: 1}, {X: 2}, {X: 3}})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})
}

func TestSlotIndicesAreRecycled(t *testing.T) {
	m := newTestManager(t, 4)
	require.NoError(t, m.SetThreadCount(1))

	assert.Eventually(t, func() bool {
		var free int
		inspect(t, m, func() { free = len(m.free) })
		return free == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.SetThreadCount(4))
	inspect(t, m, func() {
		assert.Len(t, m.slots, 4)
		assert.Empty(t, m.free)
		for _, s := range m.slots {
			assert.True(t, s.live(), "slot %d is %s", s.index, s.state)
		}
	})

	_, err := m.Cluster(context.Background(), []domain.Centroid{{Label: "A"}}, []domain.Point{{X: 1}})
	require.NoError(t, err)
}

func TestAvailableNeverExceedsThreads(t *testing.T) {
	m := newTestManager(t, 2)
	rng := rand.New(rand.NewSource(5))
	points := randomPoints(rng, 50)
	centroids := []domain.Centroid{{Label: "A"}, {X: 50, Y: 50, Label: "B"}}

	for _, n := range []int{4, 1, 3, 2, 6, 1} {
		require.NoError(t, m.SetThreadCount(n))
		_, err := m.Cluster(context.Background(), centroids, points)
		require.NoError(t, err)
		inspect(t, m, func() {
			available := 0
			for _, s := range m.slots {
				if s.state == slotAvailable {
					available++
				}
			}
			assert.LessOrEqual(t, available, m.threads)
		})
	}
}

func TestConcurrentRoundsAreSerialized(t *testing.T) {
	m := newTestManager(t, 3)
	rng := rand.New(rand.NewSource(11))
	points := randomPoints(rng, 120)
	centroids := []domain.Centroid{{X: 10, Y: 10, Label: "A"}, {X: 90, Y: 90, Label: "B"}}

	want := slices.Clone(points)
	domain.Categorize(want, centroids)
	domain.SortPoints(want)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%5 == 0 {
				if err := m.SetThreadCount(1 + i%4); err != nil {
					errs <- err
					return
				}
			}
			got, err := m.Cluster(context.Background(), centroids, points)
			if err != nil {
				errs <- err
				return
			}
			if !assert.Equal(t, want, got) {
				errs <- fmt.Errorf("round %d returned wrong labels", i)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCorrelationIDsAreNeverReused(t *testing.T) {
	m := newTestManager(t, 3)
	centroids := []domain.Centroid{{Label: "A"}}

	for range 4 {
		_, err := m.Cluster(context.Background(), centroids, []domain.Point{{X: 1}, {X: 2}})
		require.NoError(t, err)
	}
	inspect(t, m, func() {
		assert.Equal(t, uint64(13), m.nextID)
		assert.Empty(t, m.pending)
	})
}

func TestConvergenceIsStable(t *testing.T) {
	m := newTestManager(t, 4)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(3))

	var points []domain.Point
	for _, centre := range []domain.Point{{X: 10, Y: 10}, {X: 80, Y: 20}, {X: 50, Y: 90}} {
		for range 40 {
			points = append(points, domain.Point{X: centre.X + rng.NormFloat64(), Y: centre.Y + rng.NormFloat64()})
		}
	}
	centroids := []domain.Centroid{{X: 0, Y: 0, Label: "a"}, {X: 100, Y: 0, Label: "b"}, {X: 50, Y: 100, Label: "c"}}

	converged := false
	for range 50 {
		clustered, err := m.Cluster(ctx, centroids, points)
		require.NoError(t, err)
		next, err := m.RecomputeCentroids(ctx, clustered)
		require.NoError(t, err)
		if domain.CentroidSetID(next) == domain.CentroidSetID(centroids) {
			converged = true
			break
		}
		centroids = next
	}
	require.True(t, converged)

	clustered, err := m.Cluster(ctx, centroids, points)
	require.NoError(t, err)
	again, err := m.RecomputeCentroids(ctx, clustered)
	require.NoError(t, err)
	assert.Equal(t, domain.CentroidSetID(centroids), domain.CentroidSetID(again))
}

func TestCancelledContext(t *testing.T) {
	m := newTestManager(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Cluster(ctx, []domain.Centroid{{Label: "A"}}, []domain.Point{{X: 1}})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = m.Cluster(context.Background(), []domain.Centroid{{Label: "A"}}, []domain.Point{{X: 1}})
	assert.NoError(t, err)
}

func TestStop(t *testing.T) {
	m, err := NewManager(zap.NewNop(), 3)
	require.NoError(t, err)

	m.Stop()
	m.Stop()

	assert.Equal(t, 0, m.Threads())
	assert.ErrorIs(t, m.SetThreadCount(2), ErrPoolStopped)
	_, err = m.Cluster(context.Background(), []domain.Centroid{{Label: "A"}}, nil)
	assert.ErrorIs(t, err, ErrPoolStopped)
	_, err = m.RecomputeCentroids(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestStopFailsOutstandingRounds(t *testing.T) {
	m, err := NewManager(zap.NewNop(), 2)
	require.NoError(t, err)

	// wait for every worker to be available
	_, err = m.Cluster(context.Background(), []domain.Centroid{{Label: "A"}}, nil)
	require.NoError(t, err)

	queued := newRound(context.Background(), protocol.KindCluster)
	inFlight := newRound(context.Background(), protocol.KindCentroids)
	inspect(t, m, func() {
		m.queue = append(m.queue, queued)
		inFlight.remaining = 1
		m.track(inFlight, m.slots[0])
	})

	m.Stop()

	for _, r := range []*round{queued, inFlight} {
		select {
		case res := <-r.done:
			assert.ErrorIs(t, res.err, ErrPoolStopped)
		case <-time.After(time.Second):
			t.Fatalf("%s round was never settled", r.kind)
		}
	}
}

func TestUnknownCorrelationIDPanics(t *testing.T) {
	m := &Manager{
		logger:  zap.NewNop(),
		pending: make(map[uint64]*pendingRequest),
		slots:   []*slot{{index: 0, state: slotBusy, agent: worker.NewAgent(zap.NewNop(), nil)}},
	}

	tests := []struct {
		name   string
		msg    protocol.FromWorker
		reason string
	}{
		{name: "unknown correlation id", msg: protocol.Clustered{WorkerID: 0, CorrelationID: 99}, reason: "unknown correlation id 99"},
		{name: "unknown worker", msg: protocol.Started{WorkerID: 7}, reason: "reply from unknown worker 7"},
		{name: "nil message", msg: nil, reason: "unrecognized message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				perr, ok := recover().(*protocol.Error)
				require.True(t, ok, "expected a *protocol.Error panic")
				assert.Equal(t, "manager", perr.Side)
				assert.Equal(t, tt.reason, perr.Reason)
			}()
			m.handleMessage(tt.msg)
		})
	}
}

func TestMetricsAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newTestManager(t, 2, WithMetrics(metrics.New(reg)))

	_, err := m.Cluster(context.Background(), []domain.Centroid{{Label: "A"}}, []domain.Point{{X: 1}})
	require.NoError(t, err)
	require.NoError(t, m.SetThreadCount(3))

	values := gather(t, reg)
	assert.Equal(t, 1.0, values["kmeans_rounds_total"])
	assert.Equal(t, 3.0, values["kmeans_threads"])
	assert.Equal(t, 0.0, values["kmeans_pending_requests"])
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}
	return values
}
