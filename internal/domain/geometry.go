package domain

import (
	"cmp"
	"math/rand"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SetSeparator joins the "x,y" entries of a canonical set identity.
const SetSeparator = ";"

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return floats.Distance([]float64{a.X, a.Y}, []float64{b.X, b.Y}, 2)
}

// Nearest returns the index of the centroid closest to p. Ties go to the
// centroid that appears first. It returns -1 when centroids is empty.
func Nearest(p Point, centroids []Centroid) int {
	best := -1
	var bestDist float64
	for i, c := range centroids {
		d := Distance(p, Point(c))
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Categorize gives every point the label of its nearest centroid, in place.
func Categorize(points []Point, centroids []Centroid) {
	if len(centroids) == 0 {
		return
	}
	for i := range points {
		points[i].Label = centroids[Nearest(points[i], centroids)].Label
	}
}

// CentroidOf returns the mean of points under the given label.
// The coordinates are NaN when points is empty.
func CentroidOf(label string, points []Point) Centroid {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	return Centroid{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Label: label}
}

// ComparePoints orders by label first (empty label first), then x, then y.
func ComparePoints(a, b Point) int {
	return cmp.Or(
		strings.Compare(a.Label, b.Label),
		cmp.Compare(a.X, b.X),
		cmp.Compare(a.Y, b.Y),
	)
}

// SortPoints sorts points into canonical order.
func SortPoints(points []Point) {
	slices.SortFunc(points, ComparePoints)
}

// SortCentroids sorts centroids into canonical order.
func SortCentroids(centroids []Centroid) {
	slices.SortFunc(centroids, func(a, b Centroid) int {
		return ComparePoints(Point(a), Point(b))
	})
}

// SetID returns the canonical identity of a point set. Two sets with the same
// identity are equal regardless of input order. The input is not modified.
func SetID(points []Point) string {
	sorted := slices.Clone(points)
	SortPoints(sorted)

	entries := make([]string, len(sorted))
	for i, p := range sorted {
		entries[i] = formatCoord(p.X) + "," + formatCoord(p.Y)
	}
	return strings.Join(entries, SetSeparator)
}

// CentroidSetID returns the canonical identity of a centroid set.
func CentroidSetID(centroids []Centroid) string {
	return SetID(CentroidPoints(centroids))
}

// CentroidPoints converts centroids to points.
func CentroidPoints(centroids []Centroid) []Point {
	points := make([]Point, len(centroids))
	for i, c := range centroids {
		points[i] = Point(c)
	}
	return points
}

// Pick selects up to n distinct points at random, in selection order.
func Pick(rng *rand.Rand, n int, points []Point) []Point {
	pool := slices.Clone(points)
	selection := make([]Point, 0, min(n, len(pool)))
	for len(pool) > 0 && len(selection) < n {
		idx := rng.Intn(len(pool))
		selection = append(selection, pool[idx])
		pool = slices.Delete(pool, idx, idx+1)
	}
	return selection
}

// InitialCentroids picks k points and labels them from the config palette.
func InitialCentroids(rng *rand.Rand, k int, points []Point, config *Config) []Centroid {
	picked := Pick(rng, k, points)
	centroids := make([]Centroid, len(picked))
	for i, p := range picked {
		centroids[i] = Centroid{X: p.X, Y: p.Y, Label: config.Label(i)}
	}
	return centroids
}

// formatCoord renders -0 as 0, since both compare equal.
func formatCoord(v float64) string {
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clusterName(i int) string {
	return "cluster-" + strconv.Itoa(i)
}
