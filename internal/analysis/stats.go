package analysis

import (
	"math"
	"sort"
)

// Distribution summarises a sample of counts.
type Distribution struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
}

func describe(xs []int64) Distribution {
	if len(xs) == 0 {
		return Distribution{}
	}
	d := Distribution{
		Mean:   mean(xs),
		Median: median(xs),
		Std:    stddev(xs),
		Min:    xs[0],
		Max:    xs[0],
	}
	for _, x := range xs[1:] {
		d.Min = min(d.Min, x)
		d.Max = max(d.Max, x)
	}
	return d
}

func sum(xs []int64) int64 {
	var s int64
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []int64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return float64(sum(xs)) / float64(len(xs))
}

func median(xs []int64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]int64(nil), xs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}

// stddev is the sample standard deviation (n-1 denominator); 0 for fewer
// than two values.
func stddev(xs []int64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := float64(x) - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// pearson returns the correlation of xs and ys, and false when it is
// undefined (fewer than two points or zero variance).
func pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0, false
	}

	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}
