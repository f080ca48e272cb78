package infrastructure

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"kmeans-workers/internal/domain"
)

type TXTFileReader struct {
	logger *zap.Logger
}

func NewTXTFileReader(logger *zap.Logger) *TXTFileReader {
	return &TXTFileReader{logger: logger}
}

// ReadPoints reads one point per line as "x y [label]". Blank lines, lines
// starting with '#' and a leading "X Y ..." header are skipped.
func (r *TXTFileReader) ReadPoints(filename string) ([]domain.Point, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var points []domain.Point
	scanner := bufio.NewScanner(file)
	line := 0
	started := false
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if !started {
			started = true
			if strings.EqualFold(fields[0], "x") {
				continue
			}
		}
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("%s:%d: %w: expected \"x y [label]\", got %d fields",
				filename, line, domain.ErrInvalidFileFormat, len(fields))
		}

		p, err := parsePoint(fields)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filename, line, err)
		}
		points = append(points, p)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("%s: %w: no points", filename, domain.ErrInvalidFileFormat)
	}

	r.logger.Debug("Read points", zap.String("file", filename), zap.Int("count", len(points)))
	return points, nil
}

func parsePoint(fields []string) (domain.Point, error) {
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return domain.Point{}, err
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return domain.Point{}, err
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return domain.Point{}, fmt.Errorf("%w: coordinates must be finite", domain.ErrInvalidFileFormat)
	}

	p := domain.Point{X: x, Y: y}
	if len(fields) == 3 {
		p.Label = fields[2]
	}
	return p, nil
}
