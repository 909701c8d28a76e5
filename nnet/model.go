package nnet

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/jnb666/cifarnet/stats"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

type netKey struct {
	batch    int
	training bool
}

// Model holds the parameters and optimiser state for a network config. Networks for each batch
// size are built on demand and all share the same parameters.
type Model struct {
	Config
	Params    *Params
	Optimiser *RMSProp
	InShape   []int
	nets      map[netKey]*Network
}

// Create a new model with weights initialised using rng. inShape is the shape of one input sample.
func NewModel(conf Config, inShape []int, rng *rand.Rand) (*Model, error) {
	return newModel(conf, inShape, NewParams(rng), NewRMSProp(conf))
}

func newModel(conf Config, inShape []int, params *Params, opt *RMSProp) (*Model, error) {
	if len(conf.Layers) == 0 {
		return nil, errors.New("model has no layers")
	}
	m := &Model{Config: conf, Params: params, Optimiser: opt, InShape: append([]int{}, inShape...), nets: make(map[netKey]*Network)}
	if _, err := m.Network(m.batchSize(), true); err != nil {
		return nil, err
	}
	return m, nil
}

// Network returns the compiled network for the given batch size and mode
func (m *Model) Network(batchSize int, training bool) (*Network, error) {
	key := netKey{batch: batchSize, training: training}
	if net, ok := m.nets[key]; ok {
		return net, nil
	}
	net, err := New(m.Config, m.Params, batchSize, m.InShape, training)
	if err != nil {
		return nil, err
	}
	if m.DebugLevel >= 1 {
		fmt.Printf("build network: batch=%d training=%v\n", batchSize, training)
	}
	m.nets[key] = net
	return net, nil
}

func (m *Model) batchSize() int {
	if m.Config.TrainBatch <= 0 {
		return 1
	}
	return m.Config.TrainBatch
}

// Number of output classes
func (m *Model) Classes() int {
	for _, net := range m.nets {
		return net.Classes()
	}
	return 0
}

// TrainStep performs one optimisation step on a batch of data. Returns the loss prior to
// updating the weights and the number of correct predictions.
func (m *Model) TrainStep(x, yOneHot *tensor.Dense, labels []int32) (loss float64, correct int, err error) {
	net, err := m.Network(len(labels), true)
	if err != nil {
		return 0, 0, err
	}
	loss, pred, err := net.Run(x, yOneHot, m.Optimiser)
	if err != nil {
		return 0, 0, err
	}
	return loss, countCorrect(pred, labels, net.Classes()), nil
}

// Evaluate the loss and accuracy over one pass of the dataset in inference mode.
func (m *Model) Evaluate(d *Dataset) (loss, accuracy float64, err error) {
	var lossAvg, accAvg stats.Mean
	d.Rewind()
	for batch := 0; batch < d.Batches; batch++ {
		x, yOneHot, labels := d.NextBatch()
		net, err := m.Network(len(labels), false)
		if err != nil {
			return 0, 0, err
		}
		l, pred, err := net.Run(x, yOneHot, nil)
		if err != nil {
			return 0, 0, err
		}
		n := float64(len(labels))
		lossAvg.Add(l, n)
		accAvg.Add(float64(countCorrect(pred, labels, net.Classes()))/n, n)
	}
	return lossAvg.Value(), accAvg.Value(), nil
}

// Predict returns the output probabilities for a batch of input in inference mode
func (m *Model) Predict(x *tensor.Dense) ([]float32, error) {
	batch := x.Shape()[0]
	net, err := m.Network(batch, false)
	if err != nil {
		return nil, err
	}
	y := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(batch, net.Classes()))
	_, pred, err := net.Run(x, y, nil)
	return pred, err
}

// Summary lists the layers with their output shape and number of parameters
func (m *Model) Summary() string {
	net, err := m.Network(m.batchSize(), true)
	if err != nil {
		return err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-44s %-20s %10s\n", "", "layer", "output shape", "params")
	for i, layer := range net.Layers {
		prefix := paramName(i, "")
		count := 0
		for _, p := range m.Params.List {
			if strings.HasPrefix(p.Name, prefix) {
				count += len(p.Data)
			}
		}
		fmt.Fprintf(&b, "%-4d %-44s %-20s %10d\n", i, layer.ToString(), fmt.Sprint(net.shapes[i+1][1:]), count)
	}
	learn, fixed := m.Params.Count()
	fmt.Fprintf(&b, "total params: %d\ntrainable params: %d\nnon-trainable params: %d\n", learn+fixed, learn, fixed)
	return b.String()
}

func countCorrect(pred []float32, labels []int32, classes int) int {
	correct := 0
	for i, label := range Unhot(pred, classes) {
		if label == labels[i] {
			correct++
		}
	}
	return correct
}

// file format for saved model
type modelFile struct {
	Config    []byte
	InShape   []int
	Params    []*Param
	Optimiser *RMSProp
}

// SaveModel writes the model config, weights and optimiser state to a file in gob format.
// The parent directory is created if it does not exist.
func SaveModel(m *Model, pathName string) error {
	if err := os.MkdirAll(filepath.Dir(pathName), 0755); err != nil {
		return errors.Wrap(err, "error creating model directory")
	}
	var conf bytes.Buffer
	if err := m.Config.Encode(&conf); err != nil {
		return err
	}
	tmpName := filepath.Join(filepath.Dir(pathName), "."+filepath.Base(pathName))
	f, err := os.Create(tmpName)
	if err != nil {
		return errors.Wrap(err, "error saving model")
	}
	w := bufio.NewWriter(f)
	err = gob.NewEncoder(w).Encode(modelFile{
		Config:    conf.Bytes(),
		InShape:   m.InShape,
		Params:    m.Params.List,
		Optimiser: m.Optimiser,
	})
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "error saving model")
	}
	return errors.Wrap(os.Rename(tmpName, pathName), "error saving model")
}

// LoadModel restores a model previously written with SaveModel.
func LoadModel(pathName string) (*Model, error) {
	f, err := os.Open(pathName)
	if err != nil {
		return nil, errors.Wrap(err, "error loading model")
	}
	defer f.Close()
	var mf modelFile
	if err = gob.NewDecoder(bufio.NewReader(f)).Decode(&mf); err != nil {
		return nil, errors.Wrap(err, "error decoding model")
	}
	conf, err := DecodeConfig(bytes.NewReader(mf.Config))
	if err != nil {
		return nil, err
	}
	params := NewParams(nil)
	for _, p := range mf.Params {
		params.add(p)
	}
	opt := mf.Optimiser
	if opt == nil {
		opt = NewRMSProp(conf)
	}
	return newModel(conf, mf.InShape, params, opt)
}
