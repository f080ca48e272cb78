package pool

import (
	"errors"
	"fmt"

	"kmeans-workers/internal/domain"
)

var (
	// ErrPoolStopped is returned by every operation after Stop, and by rounds
	// that were still pending or queued when Stop was called.
	ErrPoolStopped = errors.New("pool stopped")

	ErrInvalidThreadCount = fmt.Errorf("%w: you must have at least one thread", domain.ErrInvalidArgument)
	ErrNoCentroids        = fmt.Errorf("%w: no centroids to cluster against", domain.ErrInvalidArgument)
)
