// Package stats contains running statistics accumulators.
package stats

import (
	"fmt"
	"math"
)

// Running mean and population stddev as per http://www.johndcook.com/blog/standard_deviation/
type Average struct {
	Count, Mean float64
	Var, StdDev float64
	oldM, oldV  float64
}

func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.oldM, s.Mean = x, x
		s.oldV = 0
	} else {
		s.Mean = s.oldM + (x-s.oldM)/s.Count
		s.oldV += (x - s.oldM) * (x - s.Mean)
		s.oldM = s.Mean
		s.Var = s.oldV / s.Count
		s.StdDev = math.Sqrt(s.Var)
	}
}

// Add all values from a float32 slice.
func (s *Average) AddSlice(vals []float32) {
	for _, v := range vals {
		s.Add(float64(v))
	}
}

// Weighted mean of a series of batch values, e.g. loss per batch weighted by batch size.
type Mean struct {
	Sum, Weight float64
}

func (m *Mean) Add(val, weight float64) {
	m.Sum += val * weight
	m.Weight += weight
}

func (m Mean) Value() float64 {
	if m.Weight == 0 {
		return 0
	}
	return m.Sum / m.Weight
}

func (s *Average) String() string {
	return fmt.Sprintf("%.4f±%.4f", s.Mean, s.StdDev)
}
