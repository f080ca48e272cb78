package domain

// PointReader reads a point set from a file
type PointReader interface {
	ReadPoints(filename string) ([]Point, error)
}

// PointWriter writes clustering results
type PointWriter interface {
	WritePoints(filename string, points []Point) error
	WriteCentroids(filename string, centroids []Centroid) error
}

// ConfigReader reads the configuration
type ConfigReader interface {
	ReadConfig(path string, args []string) (*Config, error)
}
