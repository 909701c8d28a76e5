package nnet

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jnb666/cifarnet/stats"
)

// Training statistics for one epoch
type Stats struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
	Elapsed     time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("epoch %3d: loss=%.4f acc=%.4f val_loss=%.4f val_acc=%.4f [%s]",
		s.Epoch, s.Loss, s.Accuracy, s.ValLoss, s.ValAccuracy, s.Elapsed.Round(10*time.Millisecond))
}

// History of per epoch stats for a training run
type History []Stats

// Series returns the values of the named metric for each epoch: one of loss, accuracy,
// val_loss or val_accuracy.
func (h History) Series(name string) []float64 {
	vals := make([]float64, len(h))
	for i, s := range h {
		switch name {
		case "loss":
			vals[i] = s.Loss
		case "accuracy":
			vals[i] = s.Accuracy
		case "val_loss":
			vals[i] = s.ValLoss
		case "val_accuracy":
			vals[i] = s.ValAccuracy
		default:
			panic("invalid metric: " + name)
		}
	}
	return vals
}

// Tester interface to evaluate the performance after each epoch.
type Tester interface {
	Test(m *Model, epoch int, loss, acc float64, start time.Time) (Stats, error)
}

// Tester which evaluates the loss and accuracy on the validation data.
type TestBase struct {
	Data *Dataset
}

// Create a new base class which implements the Tester interface.
func NewTestBase(data *Dataset) *TestBase {
	return &TestBase{Data: data}
}

// Test performance of the model, called from the Train function on completion of each epoch.
func (t *TestBase) Test(m *Model, epoch int, loss, acc float64, start time.Time) (Stats, error) {
	s := Stats{Epoch: epoch, Loss: loss, Accuracy: acc}
	var err error
	if t.Data != nil {
		if s.ValLoss, s.ValAccuracy, err = m.Evaluate(t.Data); err != nil {
			return s, err
		}
	}
	s.Elapsed = time.Since(start)
	return s, nil
}

type testLogger struct {
	*TestBase
	w io.Writer
}

// Create a new tester which prints the stats for each epoch to stdout.
func NewTestLogger(data *Dataset) Tester {
	return testLogger{TestBase: NewTestBase(data), w: os.Stdout}
}

func (t testLogger) Test(m *Model, epoch int, loss, acc float64, start time.Time) (Stats, error) {
	s, err := t.TestBase.Test(m, epoch, loss, acc, start)
	if err == nil {
		fmt.Fprintln(t.w, s)
	}
	return s, err
}

// Train the model on the given training set by updating the weights for MaxEpoch epochs.
func Train(m *Model, dset *Dataset, test Tester) (History, error) {
	var hist History
	steps := StepsPerEpoch(dset.Samples, dset.BatchSize, m.Augment)
	slog.Info("start training", "samples", dset.Samples, "batch", dset.BatchSize, "steps", steps, "epochs", m.MaxEpoch)
	start := time.Now()
	for epoch := 1; epoch <= m.MaxEpoch; epoch++ {
		loss, acc, err := TrainEpoch(m, dset, steps)
		if err != nil {
			return hist, err
		}
		s, err := test.Test(m, epoch, loss, acc, start)
		if err != nil {
			return hist, err
		}
		hist = append(hist, s)
	}
	slog.Info("training complete", "elapsed", time.Since(start).Round(time.Second))
	return hist, nil
}

// Perform one training epoch of the given number of steps, returns the average loss and
// accuracy prior to each weight update.
func TrainEpoch(m *Model, dset *Dataset, steps int) (loss, acc float64, err error) {
	var lossAvg, accAvg stats.Mean
	for step := 0; step < steps; step++ {
		x, yOneHot, labels := dset.NextBatch()
		l, correct, err := m.TrainStep(x, yOneHot, labels)
		if err != nil {
			return 0, 0, err
		}
		n := float64(len(labels))
		lossAvg.Add(l, n)
		accAvg.Add(float64(correct)/n, n)
		if m.DebugLevel >= 2 || (m.DebugLevel == 1 && step%100 == 0) {
			fmt.Printf("step %d/%d: loss=%.4f acc=%.4f lr=%.3g\n", step+1, steps, lossAvg.Value(), accAvg.Value(), m.Optimiser.LearningRate())
		}
	}
	return lossAvg.Value(), accAvg.Value(), nil
}
