package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kmeans-workers/internal/domain"
)

// KMeansClusterer drives Lloyd's iterations over a worker pool until the
// centroids stop moving.
type KMeansClusterer struct {
	logger  *zap.Logger
	pool    domain.ClusteringPool
	config  *domain.Config
	limiter *rate.Limiter
	rng     *rand.Rand
}

func NewKMeansClusterer(logger *zap.Logger, pool domain.ClusteringPool, config *domain.Config) *KMeansClusterer {
	limit := rate.Inf
	if config.RoundInterval > 0 {
		limit = rate.Every(config.RoundInterval)
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &KMeansClusterer{
		logger:  logger,
		pool:    pool,
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Run clusters points into config.Clusters groups. It picks the initial
// centroids from the points themselves.
func (c *KMeansClusterer) Run(ctx context.Context, points []domain.Point) (*domain.Result, error) {
	k := c.config.Clusters
	if k < 1 || k > len(points) {
		return nil, fmt.Errorf("%w: cannot form %d clusters from %d points", domain.ErrInvalidArgument, k, len(points))
	}
	return c.RunFrom(ctx, domain.InitialCentroids(c.rng, k, points, c.config), points)
}

// RunFrom clusters points starting from the given centroids.
func (c *KMeansClusterer) RunFrom(ctx context.Context, centroids []domain.Centroid, points []domain.Point) (*domain.Result, error) {
	result := &domain.Result{
		RunID:     uuid.NewString(),
		Points:    points,
		Centroids: centroids,
	}
	logger := c.logger.With(zap.String("run_id", result.RunID))
	logger.Info("Starting clustering",
		zap.Int("points", len(points)),
		zap.Int("clusters", len(centroids)),
		zap.Int("max_rounds", c.config.MaxRounds))

	for result.Rounds < c.config.MaxRounds {
		if err := c.limiter.Wait(ctx); err != nil {
			return result, err
		}

		clustered, err := c.pool.Cluster(ctx, result.Centroids, result.Points)
		if err != nil {
			return result, fmt.Errorf("cluster round %d: %w", result.Rounds+1, err)
		}
		next, err := c.pool.RecomputeCentroids(ctx, clustered)
		if err != nil {
			return result, fmt.Errorf("centroids round %d: %w", result.Rounds+1, err)
		}

		before := domain.CentroidSetID(result.Centroids)
		after := domain.CentroidSetID(next)

		result.Rounds++
		result.Points = clustered
		result.Centroids = next

		logger.Debug("Round complete",
			zap.Int("round", result.Rounds),
			zap.Int("centroids", len(next)),
			zap.String("identity", after))

		if before == after {
			result.Converged = true
			break
		}
	}

	if result.Converged {
		logger.Info("Clustering converged", zap.Int("rounds", result.Rounds))
	} else {
		logger.Warn("Clustering stopped before converging", zap.Int("rounds", result.Rounds))
	}
	return result, nil
}
