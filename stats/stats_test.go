package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

func TestAverage(t *testing.T) {
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	var s Average
	for _, v := range vals {
		s.Add(v)
	}
	mean := stat.Mean(vals, nil)
	variance := stat.MomentAbout(2, vals, mean, nil)
	assert.Equal(t, 8.0, s.Count)
	assert.InDelta(t, mean, s.Mean, 1e-12)
	assert.InDelta(t, variance, s.Var, 1e-12)
	assert.InDelta(t, 2.0, s.StdDev, 1e-12)
	t.Log(s.String())
}

func TestAverageSingle(t *testing.T) {
	var s Average
	s.AddSlice([]float32{3})
	assert.Equal(t, 3.0, s.Mean)
	assert.Equal(t, 0.0, s.StdDev)
}

func TestMean(t *testing.T) {
	var m Mean
	assert.Equal(t, 0.0, m.Value())
	m.Add(1.0, 32)
	m.Add(4.0, 16)
	assert.InDelta(t, 2.0, m.Value(), 1e-12)
}
