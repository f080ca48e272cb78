package pool

import (
	"context"
	"time"

	"kmeans-workers/internal/domain"
	"kmeans-workers/internal/protocol"
)

// round is one dispatch-and-merge cycle. It is only touched by the
// coordinator goroutine; the caller waits on done.
type round struct {
	kind protocol.Kind
	ctx  context.Context

	centroids []domain.Centroid
	points    []domain.Point

	dispatched time.Time
	remaining  int
	outPoints  []domain.Point
	outCentres []domain.Centroid
	settled    bool
	done       chan roundResult
}

type roundResult struct {
	points    []domain.Point
	centroids []domain.Centroid
	err       error
}

func newRound(ctx context.Context, kind protocol.Kind) *round {
	return &round{
		kind: kind,
		ctx:  ctx,
		done: make(chan roundResult, 1),
	}
}

// merge orders the collected replies canonically, independent of arrival order.
func (r *round) merge() roundResult {
	switch r.kind {
	case protocol.KindCluster:
		points := r.outPoints
		if points == nil {
			points = []domain.Point{}
		}
		domain.SortPoints(points)
		return roundResult{points: points}
	default:
		centroids := r.outCentres
		if centroids == nil {
			centroids = []domain.Centroid{}
		}
		domain.SortCentroids(centroids)
		return roundResult{centroids: centroids}
	}
}

// groupByLabel splits points by label in order of first appearance.
// Unlabelled points form the group with the empty label.
func groupByLabel(points []domain.Point) []protocol.LabelGroup {
	index := make(map[string]int)
	var groups []protocol.LabelGroup
	for _, p := range points {
		i, ok := index[p.Label]
		if !ok {
			i = len(groups)
			index[p.Label] = i
			groups = append(groups, protocol.LabelGroup{Label: p.Label})
		}
		groups[i].Points = append(groups[i].Points, p)
	}
	return groups
}
