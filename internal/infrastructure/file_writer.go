package infrastructure

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"kmeans-workers/internal/domain"
)

type FmtFunc func(float64) string

// DecimalFormatter formats values with a fixed number of decimals.
func DecimalFormatter(decimals int) FmtFunc {
	return func(val float64) string {
		return strconv.FormatFloat(val, 'f', decimals, 64)
	}
}

type TXTFileWriter struct {
	logger    *zap.Logger
	formatter FmtFunc
}

func NewTXTFileWriter(logger *zap.Logger, formatter FmtFunc) *TXTFileWriter {
	return &TXTFileWriter{logger: logger, formatter: formatter}
}

func (w *TXTFileWriter) WritePoints(filename string, points []domain.Point) error {
	return w.write(filename, points)
}

func (w *TXTFileWriter) WriteCentroids(filename string, centroids []domain.Centroid) error {
	return w.write(filename, domain.CentroidPoints(centroids))
}

func (w *TXTFileWriter) write(filename string, points []domain.Point) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	writer := bufio.NewWriter(file)

	// Header
	fmt.Fprintf(writer, "X\tY\tLabel\n")

	for _, p := range points {
		if p.Label == "" {
			fmt.Fprintf(writer, "%s\t%s\n", w.formatter(p.X), w.formatter(p.Y))
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", w.formatter(p.X), w.formatter(p.Y), p.Label)
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	w.logger.Debug("Wrote points", zap.String("file", filename), zap.Int("count", len(points)))
	return nil
}
