// Package nnet contains routines for constructing, training and testing neural networks.
package nnet

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Offset added to the predicted probabilities before taking the log in the loss function
const lossEpsilon = 1e-7

// Network type represents the expression graph for a multilayer neural network with a fixed
// batch size. Training networks compute gradients and have dropout enabled, inference networks
// use the running batch norm statistics. All networks built from the same Params share weights.
type Network struct {
	Layers    []Layer
	BatchSize int
	Training  bool
	shapes    [][]int
	g         *G.ExprGraph
	x, y      *G.Node
	pred      *G.Node
	cost      *G.Node
	costVal   G.Value
	predVal   G.Value
	learn     G.Nodes
	bound     []paramNode
	stats     []StatsLayer
	vm        G.VM
}

// New function creates a new network with the given layers. inShape is the shape of one
// input sample.
func New(conf Config, params *Params, batchSize int, inShape []int, training bool) (n *Network, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, errors.Errorf("error building network: %v", r)
		}
	}()
	n = &Network{BatchSize: batchSize, Training: training, g: G.NewGraph()}
	shape := append([]int{batchSize}, inShape...)
	n.shapes = append(n.shapes, shape)
	n.x = G.NewTensor(n.g, tensor.Float32, len(shape), G.WithShape(shape...), G.WithName("x"))
	out := n.x
	for i, l := range conf.Layers {
		layer := l.Unmarshal()
		if err = layer.Init(n.g, params, i, shape, training); err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		if out, err = layer.Fprop(out); err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		shape = layer.OutShape(shape)
		if !sameShape(out.Shape(), shape) {
			return nil, errors.Errorf("layer %d: output shape %v, expecting %v", i, out.Shape(), shape)
		}
		n.shapes = append(n.shapes, shape)
		n.Layers = append(n.Layers, layer)
		if pl, ok := layer.(ParamLayer); ok {
			for _, p := range pl.Params() {
				n.learn = append(n.learn, p.node)
				n.bound = append(n.bound, p)
			}
		}
		if sl, ok := layer.(StatsLayer); ok {
			n.stats = append(n.stats, sl)
			n.bound = append(n.bound, sl.Stats()...)
		}
	}
	if len(shape) != 2 {
		return nil, errors.Errorf("expecting 2 dimensional output, got %v", shape)
	}
	n.pred = out
	n.y = G.NewMatrix(n.g, tensor.Float32, G.WithShape(shape...), G.WithName("y"))

	// categorical cross entropy averaged over the batch
	eps := G.NewConstant(float32(lossEpsilon))
	logp := G.Must(G.Log(G.Must(G.Add(n.pred, eps))))
	n.cost = G.Must(G.Neg(G.Must(G.Mean(G.Must(G.Sum(G.Must(G.HadamardProd(n.y, logp)), 1))))))
	G.Read(n.cost, &n.costVal)
	G.Read(n.pred, &n.predVal)

	if training {
		if _, err = G.Grad(n.cost, n.learn...); err != nil {
			return nil, errors.Wrap(err, "error building gradients")
		}
		n.vm = G.NewTapeMachine(n.g, G.BindDualValues(n.learn...))
	} else {
		n.vm = G.NewTapeMachine(n.g)
	}
	return n, nil
}

// Number of output classes
func (n *Network) Classes() int {
	return n.shapes[len(n.shapes)-1][1]
}

// Run the graph on a batch of input data, returns the loss and the predicted output.
// If a solver is given then the parameters are updated.
func (n *Network) Run(x, yOneHot *tensor.Dense, solver G.Solver) (loss float64, pred []float32, err error) {
	if solver != nil && !n.Training {
		return 0, nil, errors.New("cannot update weights for inference network")
	}
	for _, p := range n.bound {
		p.sync(true)
	}
	if err = G.Let(n.x, x); err != nil {
		return 0, nil, errors.Wrap(err, "error setting input")
	}
	if err = G.Let(n.y, yOneHot); err != nil {
		return 0, nil, errors.Wrap(err, "error setting labels")
	}
	defer n.vm.Reset()
	if err = n.vm.RunAll(); err != nil {
		return 0, nil, errors.Wrap(err, "error running graph")
	}
	loss, pred, err = n.outputs()
	if err != nil || solver == nil {
		return loss, pred, err
	}
	if err = solver.Step(G.NodesToValueGrads(n.learn)); err != nil {
		return 0, nil, err
	}
	for _, p := range n.bound {
		p.sync(false)
	}
	for _, l := range n.stats {
		if err = l.UpdateStats(); err != nil {
			return 0, nil, err
		}
	}
	return loss, pred, nil
}

func (n *Network) outputs() (loss float64, pred []float32, err error) {
	if n.costVal == nil || n.predVal == nil {
		return 0, nil, errors.New("network output not set")
	}
	switch v := n.costVal.Data().(type) {
	case float32:
		loss = float64(v)
	case []float32:
		loss = float64(v[0])
	default:
		return 0, nil, errors.Errorf("invalid loss type %T", v)
	}
	data, ok := n.predVal.Data().([]float32)
	if !ok {
		return 0, nil, errors.Errorf("invalid output type %T", n.predVal.Data())
	}
	return loss, append([]float32{}, data...), nil
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-40s %v", i, layer.ToString(), n.shapes[i+1])
	}
	return fmt.Sprintf("== Network ==\ninput: %v\n%s", n.shapes[0], strings.Join(s, "\n"))
}

// Set random number seed, or random seed if seed <= 0
func SetSeed(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	slog.Info("set random seed", "seed", seed)
	return rand.New(rand.NewSource(seed))
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		slog.Error("fatal error", "error", fmt.Sprintf("%+v", err))
		os.Exit(1)
	}
}
