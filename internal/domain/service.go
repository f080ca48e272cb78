package domain

import "context"

// ClusteringPool runs distributed k-means rounds
type ClusteringPool interface {
	Cluster(ctx context.Context, centroids []Centroid, points []Point) ([]Point, error)
	RecomputeCentroids(ctx context.Context, points []Point) ([]Centroid, error)
}

// ResizablePool is a ClusteringPool whose worker count can change at runtime
type ResizablePool interface {
	ClusteringPool
	SetThreadCount(n int) error
	Threads() int
	Stop()
}
