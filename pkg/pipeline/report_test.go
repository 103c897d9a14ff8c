package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistribute(t *testing.T) {
	d := Distribute([]float64{10, 20, 34.9, 35, 64, 80, 95, 100})

	require.Len(t, d.Buckets, len(Edges)-1)
	counts := make([]int, len(d.Buckets))
	for i, b := range d.Buckets {
		counts[i] = b.Count
	}
	assert.Equal(t, []int{1, 2, 1, 1, 0, 1, 2}, counts)
	assert.Equal(t, 8, d.Total)
	assert.Equal(t, 25.0, d.Buckets[6].Percent)
	assert.Equal(t, 90.0, d.Buckets[6].Low)
	assert.Equal(t, 100.0, d.Buckets[6].High)
	assert.InDelta(t, 54.9, d.Mean, 0.1)
	assert.Positive(t, d.StdDev)
}

func TestDistribute_EdgeCases(t *testing.T) {
	empty := Distribute(nil)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.Mean)
	assert.Len(t, empty.Buckets, len(Edges)-1)

	one := Distribute([]float64{42})
	assert.Equal(t, 42.0, one.Mean)
	assert.Zero(t, one.StdDev)

	clamped := Distribute([]float64{-5, 130})
	assert.Equal(t, 1, clamped.Buckets[0].Count)
	assert.Equal(t, 1, clamped.Buckets[len(clamped.Buckets)-1].Count)
}

func TestDistribution_String(t *testing.T) {
	out := Distribute([]float64{50, 91}).String()
	assert.Contains(t, out, "[50,65)")
	assert.Contains(t, out, "[90,100]")
	assert.Contains(t, out, "total 2")
}

func TestReport_Result(t *testing.T) {
	r := &Report{}
	assert.Equal(t, "ok", r.Result())
	assert.NoError(t, r.Err())

	r.fail("subject s1", errors.New("boom"))
	assert.Equal(t, "partial", r.Result())
	assert.ErrorContains(t, r.Err(), "subject s1: boom")

	r.fatal = errors.New("load sponsors")
	assert.Equal(t, "failed", r.Result())
}
