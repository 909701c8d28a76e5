package nnet

import (
	"math/rand"
	"sync"

	"github.com/jnb666/cifarnet/img"
	"gorgonia.org/tensor"
)

// Dataset type encapsulates a set of training or test data. Batches are loaded in the background
// into one of two buffers while the other is in use. The dataset cycles through the samples
// indefinitely, if shuffle is set the order is permuted at the start of each pass.
type Dataset struct {
	*img.Data
	Samples   int
	BatchSize int
	Batches   int
	trans     *img.Transformer
	shuffle   bool
	nfeat     int
	classes   int
	xBuf      [2][]float32
	yBuf      [2][]int32
	y1HBuf    [2][]float32
	size      [2]int
	indexes   []int
	buf       int
	epoch     int
	batch     int
	rng       *rand.Rand
	sync.WaitGroup
}

// Create a new Dataset struct, allocate buffers and set the batch size. If trans is not nil it is
// applied to each batch as it is loaded.
func NewDataset(data *img.Data, batchSize int, shuffle bool, trans *img.Transformer, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), trans: trans, shuffle: shuffle, rng: rng}
	if batchSize <= 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	d.Batches = (d.Samples + d.BatchSize - 1) / d.BatchSize
	d.nfeat = prod(data.Shape())
	d.classes = len(data.Classes())
	for i := range d.xBuf {
		d.xBuf[i] = make([]float32, d.nfeat*d.BatchSize)
		d.yBuf[i] = make([]int32, d.BatchSize)
		d.y1HBuf[i] = make([]float32, d.classes*d.BatchSize)
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	d.Rewind()
	return d
}

// Wait for any pending load to complete
func (d *Dataset) Release() {
	d.Wait()
}

// kick off load of next batch of data in background
func (d *Dataset) loadBatch() {
	d.Add(1)
	go func(buf, batch int) {
		start := batch * d.BatchSize
		end := start + d.BatchSize
		if end > d.Samples {
			end = d.Samples
		}
		index := d.indexes[start:end]
		n := len(index)
		d.Input(index, d.xBuf[buf], d.trans)
		d.Label(index, d.yBuf[buf][:n])
		OneHot(d.yBuf[buf][:n], d.y1HBuf[buf][:n*d.classes], d.classes)
		d.size[buf] = n
		d.Done()
	}(d.buf, d.batch)
}

// Get next batch of data. The returned arrays are valid until the following call to NextBatch.
// The final batch of each pass may be smaller than BatchSize.
func (d *Dataset) NextBatch() (x, yOneHot *tensor.Dense, labels []int32) {
	d.Wait()
	n := d.size[d.buf]
	shape := append([]int{n}, d.Shape()...)
	x = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(d.xBuf[d.buf][:n*d.nfeat]))
	yOneHot = tensor.New(tensor.WithShape(n, d.classes), tensor.WithBacking(d.y1HBuf[d.buf][:n*d.classes]))
	labels = d.yBuf[d.buf][:n]
	d.batch = (d.batch + 1) % d.Batches
	if d.batch == 0 {
		d.epoch++
		if d.shuffle {
			d.Shuffle()
		}
	}
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return
}

// Rewind to start of data, reshuffling if enabled
func (d *Dataset) Rewind() {
	d.Wait()
	d.epoch = 0
	d.batch = 0
	if d.shuffle {
		d.Shuffle()
	}
	d.loadBatch()
}

// Number of complete passes through the data
func (d *Dataset) Epoch() int {
	return d.epoch
}

// Shuffle the data set
func (d *Dataset) Shuffle() {
	d.indexes = d.rng.Perm(d.Samples)
}

// Encode labels in one hot format to out which should have size len(labels)*classes
func OneHot(labels []int32, out []float32, classes int) {
	for i := range out {
		out[i] = 0
	}
	for i, label := range labels {
		out[i*classes+int(label)] = 1
	}
}

// Unhot returns the index of the maximum value from each row of a batch of predictions
func Unhot(pred []float32, classes int) []int32 {
	labels := make([]int32, len(pred)/classes)
	for i := range labels {
		row := pred[i*classes : (i+1)*classes]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		labels[i] = int32(best)
	}
	return labels
}

// StepsPerEpoch returns the number of batches in one training epoch. Without augmentation this
// is one pass over the data including a partial final batch. With augmentation the batch
// generator runs continuously and steps are counted while step < samples/batchSize.
func StepsPerEpoch(samples, batchSize int, augment bool) int {
	if batchSize <= 0 || samples <= 0 {
		return 0
	}
	if !augment {
		return (samples + batchSize - 1) / batchSize
	}
	limit := float64(samples) / float64(batchSize)
	steps := 0
	for float64(steps) < limit {
		steps++
	}
	return steps
}
