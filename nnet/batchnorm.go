package nnet

import (

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// batch normalisation layer implementation. Input is reshaped to a matrix with one column
// per channel so the same graph serves conv and linear layers. When training the batch mean and
// variance are used and read back to update the running statistics; otherwise the running
// statistics are used as constants.
type batchNorm struct {
	BatchNorm
	training    bool
	inShape     []int
	samples     int
	gamma, beta paramNode
	mean, vari  *Param
	stats       []paramNode
	batchMean   G.Value
	batchVar    G.Value
}

func (l *batchNorm) OutShape(inShape []int) []int { return inShape }

func (l *batchNorm) Init(g *G.ExprGraph, p *Params, id int, inShape []int, training bool) error {
	if len(inShape) != 2 && len(inShape) != 4 {
		return errors.Errorf("batchNorm: expect 2 or 4 dimensional input, got %v", inShape)
	}
	l.training = training
	l.inShape = inShape
	nfeat := inShape[1]
	l.samples = prod(inShape) / nfeat
	shape := []int{1, nfeat}
	l.gamma = newParamNode(g, p.Get(paramName(id, "gamma"), shape, true, Fill(1)))
	l.beta = newParamNode(g, p.Get(paramName(id, "beta"), shape, true, Fill(0)))
	l.mean = p.Get(paramName(id, "mean"), shape, false, Fill(0))
	l.vari = p.Get(paramName(id, "var"), shape, false, Fill(1))
	if !training {
		l.stats = []paramNode{newParamNode(g, l.mean), newParamNode(g, l.vari)}
	}
	return nil
}

func (l *batchNorm) Fprop(in *G.Node) (out *G.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, errors.Errorf("batchNorm: %v", r)
		}
	}()
	x := in
	if len(l.inShape) == 4 {
		// NCHW => (NHW)C
		n, c, h, w := l.inShape[0], l.inShape[1], l.inShape[2], l.inShape[3]
		x = G.Must(G.Transpose(x, 0, 2, 3, 1))
		x = G.Must(G.Reshape(x, tensor.Shape{n * h * w, c}))
	}
	nfeat := l.inShape[1]
	var mean, vari *G.Node
	if l.training {
		mean = G.Must(G.Reshape(G.Must(G.Mean(x, 0)), tensor.Shape{1, nfeat}))
		centered := G.Must(G.BroadcastSub(x, mean, nil, []byte{0}))
		vari = G.Must(G.Reshape(G.Must(G.Mean(G.Must(G.Square(centered)), 0)), tensor.Shape{1, nfeat}))
		G.Read(mean, &l.batchMean)
		G.Read(vari, &l.batchVar)
		x = centered
	} else {
		mean, vari = l.stats[0].node, l.stats[1].node
		x = G.Must(G.BroadcastSub(x, mean, nil, []byte{0}))
	}
	eps := G.NewConstant(float32(l.Epsilon))
	std := G.Must(G.Sqrt(G.Must(G.Add(vari, eps))))
	x = G.Must(G.BroadcastHadamardDiv(x, std, nil, []byte{0}))
	x = G.Must(G.BroadcastHadamardProd(x, l.gamma.node, nil, []byte{0}))
	x = G.Must(G.BroadcastAdd(x, l.beta.node, nil, []byte{0}))
	if len(l.inShape) == 4 {
		n, c, h, w := l.inShape[0], l.inShape[1], l.inShape[2], l.inShape[3]
		x = G.Must(G.Reshape(x, tensor.Shape{n, h, w, c}))
		x = G.Must(G.Transpose(x, 0, 3, 1, 2))
	}
	return x, nil
}

// Learnable scale and shift
func (l *batchNorm) Params() []paramNode { return []paramNode{l.gamma, l.beta} }

// Running mean and variance, only bound to the graph for inference
func (l *batchNorm) Stats() []paramNode { return l.stats }

// UpdateStats updates the running mean and variance from the last training batch. The
// variance uses the unbiased estimate.
func (l *batchNorm) UpdateStats() error {
	if !l.training {
		return nil
	}
	if l.batchMean == nil || l.batchVar == nil {
		return errors.New("batchNorm: batch statistics not available")
	}
	bm, ok1 := l.batchMean.Data().([]float32)
	bv, ok2 := l.batchVar.Data().([]float32)
	if !ok1 || !ok2 {
		return errors.New("batchNorm: invalid statistics type")
	}
	m := float32(l.Momentum)
	n := float32(l.samples)
	scale := float32(1)
	if n > 2 {
		scale = n / (n - (1 + float32(l.Epsilon)))
	}
	rm, rv := l.mean.Data, l.vari.Data
	for i := range rm {
		rm[i] = m*rm[i] + (1-m)*bm[i]
		rv[i] = m*rv[i] + (1-m)*bv[i]*scale
	}
	return nil
}
