package nnet

import (
	"math"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// RMSProp optimiser with time based learning rate decay. It implements the gorgonia Solver
// interface. State is indexed by position in the list of learnable params, so it can be
// shared between networks built from the same config.
//
//	lr  = Eta / (1 + Decay * Iterations)
//	a   = Rho * a + (1 - Rho) * g²
//	w  -= lr * g / (sqrt(a) + Epsilon)
type RMSProp struct {
	Eta        float64
	Rho        float64
	Epsilon    float64
	Decay      float64
	Iterations int64
	Accum      [][]float32
}

// Create new optimiser with settings from the config
func NewRMSProp(c Config) *RMSProp {
	return &RMSProp{Eta: c.Eta, Rho: c.Rho, Epsilon: c.Epsilon, Decay: c.Decay}
}

// Current learning rate
func (o *RMSProp) LearningRate() float64 {
	return o.Eta / (1 + o.Decay*float64(o.Iterations))
}

// Step updates the values in place from the gradients, which are then zeroed.
func (o *RMSProp) Step(model []G.ValueGrad) error {
	if o.Accum == nil {
		o.Accum = make([][]float32, len(model))
	}
	if len(o.Accum) != len(model) {
		return errors.Errorf("rmsprop: expecting %d params, got %d", len(o.Accum), len(model))
	}
	lr := float32(o.LearningRate())
	rho, eps := float32(o.Rho), float32(o.Epsilon)
	for i, vg := range model {
		w, grad, err := valueGrad(vg)
		if err != nil {
			return errors.Wrapf(err, "rmsprop: param %d", i)
		}
		if o.Accum[i] == nil {
			o.Accum[i] = make([]float32, len(w))
		}
		acc := o.Accum[i]
		if len(acc) != len(w) {
			return errors.Errorf("rmsprop: param %d has size %d, expecting %d", i, len(w), len(acc))
		}
		for j, g := range grad {
			acc[j] = rho*acc[j] + (1-rho)*g*g
			w[j] -= lr * g / (float32(math.Sqrt(float64(acc[j]))) + eps)
			grad[j] = 0
		}
	}
	o.Iterations++
	return nil
}

func valueGrad(vg G.ValueGrad) (w, grad []float32, err error) {
	v := vg.Value()
	if v == nil {
		return nil, nil, errors.New("value not set")
	}
	g, err := vg.Grad()
	if err != nil {
		return nil, nil, err
	}
	var ok bool
	if w, ok = v.Data().([]float32); !ok {
		return nil, nil, errors.Errorf("invalid value type %T", v.Data())
	}
	if grad, ok = g.Data().([]float32); !ok {
		return nil, nil, errors.Errorf("invalid gradient type %T", g.Data())
	}
	if len(w) != len(grad) {
		return nil, nil, errors.Errorf("gradient size %d does not match value size %d", len(grad), len(w))
	}
	return w, grad, nil
}
