package analytics

import (
	"sort"
	"time"
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// TrendHysteresis is the minimum change in mean mood, on the canonical
// 1-10 scale, between the prior and recent halves before a series is
// labelled improving or declining.
const TrendHysteresis = 0.2

// Point is one value of an ordered series.
type Point struct {
	At    time.Time
	Value float64
}

// ClassifyTrend compares the mean of the recent half of series against the
// prior half. For odd lengths the middle element belongs to neither half.
func ClassifyTrend(series []float64) Trend {
	prior, recent := SplitHalves(series)
	if len(prior) == 0 || len(recent) == 0 {
		return TrendStable
	}
	delta := average(recent) - average(prior)
	switch {
	case delta > TrendHysteresis:
		return TrendImproving
	case delta < -TrendHysteresis:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// ClassifyPoints sorts a copy of points chronologically and classifies the
// resulting series, so input order does not matter.
func ClassifyPoints(points []Point) Trend {
	sorted := append([]Point(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })
	series := make([]float64, len(sorted))
	for i, p := range sorted {
		series[i] = p.Value
	}
	return ClassifyTrend(series)
}

func SplitHalves(series []float64) (prior, recent []float64) {
	n := len(series)
	return series[:n/2], series[(n+1)/2:]
}

// TrendPoints returns the days of the snapshot that have entries, as a
// chronological series of daily mean mood.
func TrendPoints(snap Snapshot) []Point {
	points := make([]Point, 0, len(snap.Daily))
	for _, b := range snap.Daily {
		if b.Count == 0 {
			continue
		}
		points = append(points, Point{At: b.Start, Value: b.Mean})
	}
	return points
}

func average(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
