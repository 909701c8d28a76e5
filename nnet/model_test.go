package nnet

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jnb666/cifarnet/img"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// generate a set of small random images where the label depends on the mean brightness
func testData(rng *rand.Rand, samples, width, height int) *img.Data {
	images := make([]*img.Image, samples)
	labels := make([]int32, samples)
	for i := range images {
		m := img.NewRGB(width, height)
		labels[i] = int32(i % 2)
		base := float32(labels[i]) * 0.5
		for j := range m.Pix {
			m.Pix[j] = base + 0.5*rng.Float32()
		}
		images[i] = m
	}
	return img.NewData([]string{"dark", "light"}, labels, images)
}

func smallConfig() Config {
	conf := testConfig(
		Conv{Nfeats: 4, Size: 3, Pad: true}, Activation{Atype: "relu"}, BatchNorm{}, MaxPool{Size: 2}, Dropout{Ratio: 0.2},
		Flatten{}, Linear{Nout: 8}, Activation{Atype: "relu"}, BatchNorm{},
		Linear{Nout: 2}, Activation{Atype: "softmax"},
	)
	conf.TrainBatch = 4
	conf.TestBatch = 3
	return conf
}

func TestOneHot(t *testing.T) {
	labels := []int32{2, 0, 1}
	out := make([]float32, 9)
	OneHot(labels, out, 3)
	assert.Equal(t, []float32{0, 0, 1, 1, 0, 0, 0, 1, 0}, out)
	assert.Equal(t, labels, Unhot(out, 3))
}

func TestStepsPerEpoch(t *testing.T) {
	assert.Equal(t, 1563, StepsPerEpoch(50000, 32, false))
	assert.Equal(t, 1563, StepsPerEpoch(50000, 32, true))
	assert.Equal(t, 2, StepsPerEpoch(64, 32, false))
	assert.Equal(t, 2, StepsPerEpoch(64, 32, true))
	assert.Equal(t, 3, StepsPerEpoch(65, 32, true))
	assert.Equal(t, 0, StepsPerEpoch(0, 32, true))
}

func TestDatasetBatches(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := NewDataset(testData(rng, 5, 4, 4), 2, false, nil, rng)
	defer d.Release()
	assert.Equal(t, 3, d.Batches)
	var sizes []int
	var labels []int32
	for i := 0; i < 4; i++ {
		x, y, l := d.NextBatch()
		assert.Equal(t, tensor.Shape{len(l), 3, 4, 4}, x.Shape())
		assert.Equal(t, tensor.Shape{len(l), 2}, y.Shape())
		assert.Equal(t, l, Unhot(y.Data().([]float32), 2))
		sizes = append(sizes, len(l))
		labels = append(labels, l...)
	}
	assert.Equal(t, []int{2, 2, 1, 2}, sizes)
	assert.Equal(t, []int32{0, 1, 0, 1, 0, 0, 1}, labels)
	assert.Equal(t, 1, d.Epoch())
}

func TestDatasetShuffle(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := testData(rng, 20, 2, 2)
	d := NewDataset(data, 20, true, nil, rng)
	defer d.Release()
	x, _, labels := d.NextBatch()
	seen := make(map[float32]bool)
	nfeat := 3 * 2 * 2
	pix := x.Data().([]float32)
	for i := range labels {
		seen[pix[i*nfeat]] = true
	}
	assert.Len(t, seen, 20)
}

func TestTrainStep(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m, err := NewModel(smallConfig(), []int{3, 4, 4}, rng)
	require.NoError(t, err)
	d := NewDataset(testData(rng, 10, 4, 4), 4, true, nil, rng)
	defer d.Release()

	before := append([]float32{}, m.Params.List[0].Data...)
	var mean *Param
	for _, p := range m.Params.List {
		if p.Name == "02_mean" {
			mean = p
		}
	}
	require.NotNil(t, mean)
	assert.Equal(t, make([]float32, 4), mean.Data)

	for step := 0; step < d.Batches; step++ {
		x, y, labels := d.NextBatch()
		loss, correct, err := m.TrainStep(x, y, labels)
		require.NoError(t, err)
		assert.True(t, loss > 0)
		assert.True(t, correct >= 0 && correct <= len(labels))
	}
	assert.Equal(t, int64(3), m.Optimiser.Iterations)
	assert.NotEqual(t, before, m.Params.List[0].Data)
	assert.NotEqual(t, make([]float32, 4), mean.Data)
	// last batch of 2 samples uses its own network sharing the same params
	assert.Len(t, m.nets, 2)
}

func TestTrain(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	conf := smallConfig()
	conf.MaxEpoch = 3
	m, err := NewModel(conf, []int{3, 4, 4}, rng)
	require.NoError(t, err)
	train := NewDataset(testData(rng, 16, 4, 4), conf.TrainBatch, true, nil, rng)
	defer train.Release()
	test := NewDataset(testData(rng, 7, 4, 4), conf.TestBatch, false, nil, rng)
	defer test.Release()

	var out bytes.Buffer
	hist, err := Train(m, train, testLogger{TestBase: NewTestBase(test), w: &out})
	require.NoError(t, err)
	require.Len(t, hist, 3)
	for i, s := range hist {
		assert.Equal(t, i+1, s.Epoch)
		assert.True(t, s.Accuracy >= 0 && s.Accuracy <= 1)
		assert.True(t, s.ValAccuracy >= 0 && s.ValAccuracy <= 1)
		assert.True(t, s.ValLoss > 0)
	}
	assert.Equal(t, 3, strings.Count(out.String(), "val_acc="))
	assert.Equal(t, []float64{hist[0].Loss, hist[1].Loss, hist[2].Loss}, hist.Series("loss"))
	assert.Panics(t, func() { hist.Series("error") })
}

func TestTrainAugmented(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	conf := smallConfig()
	conf.Augment = true
	m, err := NewModel(conf, []int{3, 4, 4}, rng)
	require.NoError(t, err)
	trans := img.NewTransformer(img.Shift|img.HorizFlip, 0.1, 0.1, 2, rng)
	train := NewDataset(testData(rng, 10, 4, 4), conf.TrainBatch, true, trans, rng)
	defer train.Release()

	steps := StepsPerEpoch(train.Samples, train.BatchSize, true)
	_, _, err = TrainEpoch(m, train, steps)
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Optimiser.Iterations)
}

func TestSaveLoad(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m, err := NewModel(smallConfig(), []int{3, 4, 4}, rng)
	require.NoError(t, err)
	data := testData(rng, 8, 4, 4)
	d := NewDataset(data, 4, false, nil, rng)
	defer d.Release()
	x, y, labels := d.NextBatch()
	_, _, err = m.TrainStep(x, y, labels)
	require.NoError(t, err)

	pathName := filepath.Join(t.TempDir(), "saved_models", "test", "model.net")
	require.NoError(t, SaveModel(m, pathName))
	require.NoError(t, SaveModel(m, pathName))
	_, err = os.Stat(filepath.Join(filepath.Dir(pathName), ".model.net"))
	assert.True(t, os.IsNotExist(err))

	m2, err := LoadModel(pathName)
	require.NoError(t, err)
	assert.Equal(t, m.InShape, m2.InShape)
	assert.Equal(t, m.Optimiser.Iterations, m2.Optimiser.Iterations)
	assert.Equal(t, m.Optimiser.Accum, m2.Optimiser.Accum)
	assert.Equal(t, m.Config.String(), m2.Config.String())

	x, _, _ = d.NextBatch()
	p1, err := m.Predict(x)
	require.NoError(t, err)
	p2, err := m2.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	_, err = LoadModel(filepath.Join(t.TempDir(), "missing.net"))
	assert.Error(t, err)
}

func TestTestBase(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m, err := NewModel(smallConfig(), []int{3, 4, 4}, rng)
	require.NoError(t, err)
	start := time.Now()
	s, err := NewTestBase(nil).Test(m, 1, 0.5, 0.25, start)
	require.NoError(t, err)
	assert.Equal(t, Stats{Epoch: 1, Loss: 0.5, Accuracy: 0.25, Elapsed: s.Elapsed}, s)
}

func copyParams(p *Params) [][]float32 {
	data := make([][]float32, len(p.List))
	for i, par := range p.List {
		data[i] = append([]float32{}, par.Data...)
	}
	return data
}

func TestEvaluateUnchanged(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	m, err := NewModel(smallConfig(), []int{3, 4, 4}, rng)
	require.NoError(t, err)
	train := NewDataset(testData(rng, 8, 4, 4), 4, true, nil, rng)
	defer train.Release()
	x, y, labels := train.NextBatch()
	_, _, err = m.TrainStep(x, y, labels)
	require.NoError(t, err)

	params := copyParams(m.Params)
	iter := m.Optimiser.Iterations
	accum := make([][]float32, len(m.Optimiser.Accum))
	for i, a := range m.Optimiser.Accum {
		accum[i] = append([]float32{}, a...)
	}

	test := NewDataset(testData(rng, 7, 4, 4), 3, false, nil, rng)
	defer test.Release()
	loss1, acc1, err := m.Evaluate(test)
	require.NoError(t, err)
	loss2, acc2, err := m.Evaluate(test)
	require.NoError(t, err)
	assert.Equal(t, loss1, loss2)
	assert.Equal(t, acc1, acc2)

	assert.Equal(t, params, copyParams(m.Params))
	assert.Equal(t, iter, m.Optimiser.Iterations)
	assert.Equal(t, accum, m.Optimiser.Accum)
}

func TestDropoutResampled(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	conf := testConfig(Linear{Nout: 16}, Activation{Atype: "relu"}, Dropout{Ratio: 0.5}, Linear{Nout: nOut}, Activation{Atype: "softmax"})
	m, err := NewModel(conf, []int{nIn}, rng)
	require.NoError(t, err)
	x := tensor.New(tensor.WithShape(batch, nIn), tensor.WithBacking(randArray(rng, batch*nIn, 0, 1)))
	labels := []int32{0, 1, 2, 3, 0}
	yData := make([]float32, batch*nOut)
	OneHot(labels, yData, nOut)
	y := tensor.New(tensor.WithShape(batch, nOut), tensor.WithBacking(yData))
	params := copyParams(m.Params)

	net, err := m.Network(batch, true)
	require.NoError(t, err)
	_, pred1, err := net.Run(x, y, nil)
	require.NoError(t, err)
	_, pred2, err := net.Run(x, y, nil)
	require.NoError(t, err)
	assert.NotEqual(t, pred1, pred2)
	assert.Equal(t, params, copyParams(m.Params))

	out1, err := m.Predict(x)
	require.NoError(t, err)
	out2, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestConfigString(t *testing.T) {
	s := smallConfig().String()
	assert.True(t, strings.HasPrefix(s, "== Config =="))
	assert.Contains(t, s, "Eta:         0.01")
	assert.Contains(t, s, "TrainBatch:  4")
	assert.Contains(t, s, "\n== Layers ==\n 0: ")
	assert.Equal(t, 1+15+1+11, strings.Count(s, "\n")+1)
	assert.NotContains(t, testConfig().String(), "Layers")
}
