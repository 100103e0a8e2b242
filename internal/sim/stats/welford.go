// Package stats implements the chunk-level statistics aggregator: an
// online Welford accumulator per iteration stream, merged across
// threads (if a chunk is internally parallelized) via Chan's parallel
// algorithm.
package stats

import (
	"math"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

// Accumulator is a Welford online (count, mean, M2, min, max) summary.
type Accumulator struct {
	Count int64
	Mean  float64
	M2    float64
	Min   float64
	Max   float64
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Add folds one sample (one iteration's dps_i = total_damage_i /
// duration) into the accumulator.
func (a *Accumulator) Add(x float64) {
	a.Count++
	delta := x - a.Mean
	a.Mean += delta / float64(a.Count)
	delta2 := x - a.Mean
	a.M2 += delta * delta2
	if x < a.Min {
		a.Min = x
	}
	if x > a.Max {
		a.Max = x
	}
}

// Summary exposes the reported view: count, mean, std_dev, min, max.
func (a *Accumulator) Summary() model.StatSummary {
	var stddev float64
	if a.Count > 1 {
		stddev = math.Sqrt(a.M2 / float64(a.Count-1))
	}
	min, max := a.Min, a.Max
	if a.Count == 0 {
		min, max = 0, 0
	}
	return model.StatSummary{Count: a.Count, Mean: a.Mean, StdDev: stddev, Min: min, Max: max}
}

// Merge combines this accumulator with other using Chan's parallel
// algorithm, producing the same result (within float tolerance) as if
// every sample in other had instead been added to this one
// sequentially.
func (a *Accumulator) Merge(other *Accumulator) *Accumulator {
	if a.Count == 0 {
		return other
	}
	if other.Count == 0 {
		return a
	}

	na, nb := float64(a.Count), float64(other.Count)
	delta := other.Mean - a.Mean
	n := na + nb

	mean := a.Mean + delta*nb/n
	m2 := a.M2 + other.M2 + delta*delta*na*nb/n

	min := a.Min
	if other.Min < min {
		min = other.Min
	}
	max := a.Max
	if other.Max > max {
		max = other.Max
	}

	return &Accumulator{
		Count: a.Count + other.Count,
		Mean:  mean,
		M2:    m2,
		Min:   min,
		Max:   max,
	}
}

// MergeAll reduces a slice of per-thread accumulators (produced by
// parallel iteration batches within a single chunk) into one summary via
// pairwise Chan merges.
func MergeAll(accs []*Accumulator) *Accumulator {
	if len(accs) == 0 {
		return NewAccumulator()
	}
	result := accs[0]
	for _, a := range accs[1:] {
		result = result.Merge(a)
	}
	return result
}
