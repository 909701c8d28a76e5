package nnet

import (
	"math"
	"math/rand"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Param holds one weight, bias or statistics array. Learnable params are updated by the
// optimiser, others are updated directly by their layer.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
	Learn bool
}

// Tensor returns a new tensor header which shares the param data.
func (p *Param) Tensor() *tensor.Dense {
	return tensor.New(tensor.WithShape(p.Shape...), tensor.WithBacking(p.Data))
}

// Params is the ordered set of parameters for a model which is shared by each network
// built from it.
type Params struct {
	List  []*Param
	index map[string]*Param
	rng   *rand.Rand
}

// InitFunc sets the initial values for a new param
type InitFunc func(data []float32, rng *rand.Rand)

// Glorot uniform initialisation with limit sqrt(6 / (fanIn + fanOut))
func GlorotUniform(fanIn, fanOut int) InitFunc {
	return func(data []float32, rng *rand.Rand) {
		limit := math.Sqrt(6 / float64(fanIn+fanOut))
		for i := range data {
			data[i] = float32((2*rng.Float64() - 1) * limit)
		}
	}
}

// Fill with a constant value
func Fill(val float32) InitFunc {
	return func(data []float32, rng *rand.Rand) {
		for i := range data {
			data[i] = val
		}
	}
}

func NewParams(rng *rand.Rand) *Params {
	return &Params{index: make(map[string]*Param), rng: rng}
}

// Get returns the named param, it is allocated and initialised if it does not exist yet.
func (p *Params) Get(name string, shape []int, learn bool, init InitFunc) *Param {
	if par, ok := p.index[name]; ok {
		if !sameShape(par.Shape, shape) {
			panic("param " + name + ": shape mismatch")
		}
		return par
	}
	par := &Param{Name: name, Shape: append([]int{}, shape...), Data: make([]float32, prod(shape)), Learn: learn}
	if init != nil {
		init(par.Data, p.rng)
	}
	p.add(par)
	return par
}

// Number of learnable and fixed values
func (p *Params) Count() (learn, fixed int) {
	for _, par := range p.List {
		if par.Learn {
			learn += len(par.Data)
		} else {
			fixed += len(par.Data)
		}
	}
	return
}

func (p *Params) add(par *Param) {
	if p.index == nil {
		p.index = make(map[string]*Param)
	}
	p.List = append(p.List, par)
	p.index[par.Name] = par
}

// binding between a param and the node which uses it in a graph
type paramNode struct {
	param *Param
	node  *G.Node
}

func newParamNode(g *G.ExprGraph, par *Param) paramNode {
	node := G.NewTensor(g, tensor.Float32, len(par.Shape), G.WithShape(par.Shape...), G.WithName(par.Name), G.WithValue(par.Tensor()))
	return paramNode{param: par, node: node}
}

// copy param data to or from the node value if they are not backed by the same array
func (p paramNode) sync(toNode bool) {
	v := p.node.Value()
	if v == nil {
		return
	}
	data, ok := v.Data().([]float32)
	if !ok || len(data) != len(p.param.Data) || sameBacking(data, p.param.Data) {
		return
	}
	if toNode {
		copy(data, p.param.Data)
	} else {
		copy(p.param.Data, data)
	}
}

func sameBacking(a, b []float32) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func prod(arr []int) int {
	p := 1
	for _, v := range arr {
		p *= v
	}
	return p
}
