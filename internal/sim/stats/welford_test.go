package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relClose asserts |a-b| <= tol * max(|a|, |b|), the relative-tolerance
// form the parallel-merge equivalence law is stated in.
func relClose(t *testing.T, a, b, tol float64) {
	t.Helper()
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		assert.Equal(t, a, b)
		return
	}
	assert.LessOrEqual(t, math.Abs(a-b)/scale, tol, "a=%v b=%v", a, b)
}

// TestMergeMatchesSequential covers the Welford/Chan equivalence law:
// for any partition of a sample, merging the partitions' accumulators
// must equal the single sequential accumulation within 1e-10 relative
// tolerance on mean and variance, and exactly on count/min/max.
func TestMergeMatchesSequential(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	samples := make([]float64, 10000)
	for i := range samples {
		samples[i] = 5000 + r.NormFloat64()*300
	}

	sequential := NewAccumulator()
	for _, x := range samples {
		sequential.Add(x)
	}

	for _, parts := range []int{2, 3, 7, 16} {
		accs := make([]*Accumulator, parts)
		for i := range accs {
			accs[i] = NewAccumulator()
		}
		for i, x := range samples {
			accs[i%parts].Add(x)
		}
		merged := MergeAll(accs)

		assert.Equal(t, sequential.Count, merged.Count, "parts=%d", parts)
		assert.Equal(t, sequential.Min, merged.Min, "parts=%d", parts)
		assert.Equal(t, sequential.Max, merged.Max, "parts=%d", parts)
		relClose(t, sequential.Mean, merged.Mean, 1e-10)
		relClose(t, sequential.M2, merged.M2, 1e-10)
	}
}

// TestMergeWithEmptySideIsIdentity covers the degenerate partitions: an
// empty accumulator merged on either side must leave the other
// unchanged, not poison min/max with the +/-Inf sentinels.
func TestMergeWithEmptySideIsIdentity(t *testing.T) {
	full := NewAccumulator()
	for _, x := range []float64{1, 2, 3} {
		full.Add(x)
	}

	left := NewAccumulator().Merge(full)
	right := full.Merge(NewAccumulator())

	for _, m := range []*Accumulator{left, right} {
		assert.EqualValues(t, 3, m.Count)
		assert.Equal(t, 2.0, m.Mean)
		assert.Equal(t, 1.0, m.Min)
		assert.Equal(t, 3.0, m.Max)
	}
}

func TestSummaryOfSingleSample(t *testing.T) {
	a := NewAccumulator()
	a.Add(42.5)
	s := a.Summary()
	assert.EqualValues(t, 1, s.Count)
	assert.Equal(t, 42.5, s.Mean)
	assert.Equal(t, 0.0, s.StdDev, "one sample has no spread")
	assert.Equal(t, 42.5, s.Min)
	assert.Equal(t, 42.5, s.Max)
}

// TestSummaryStdDevIsSampleStdDev pins the StdDev denominator to n-1:
// for {2, 4} the sample variance is 2, so std_dev must be sqrt(2), not
// the population value 1.
func TestSummaryStdDevIsSampleStdDev(t *testing.T) {
	a := NewAccumulator()
	a.Add(2)
	a.Add(4)
	s := a.Summary()
	relClose(t, math.Sqrt2, s.StdDev, 1e-12)
}

func TestSummaryEmptyAccumulator(t *testing.T) {
	s := NewAccumulator().Summary()
	require.EqualValues(t, 0, s.Count)
	assert.Equal(t, 0.0, s.Min, "empty summary must not leak the +Inf sentinel")
	assert.Equal(t, 0.0, s.Max)
	assert.Equal(t, 0.0, s.StdDev)
}
