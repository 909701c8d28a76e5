// Train an alexnet style convolutional network on the CIFAR-10 data set, save the model and
// serve charts of the training history at http://localhost:8080 until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jnb666/cifarnet/cifar10"
	"github.com/jnb666/cifarnet/img"
	"github.com/jnb666/cifarnet/nnet"
	"github.com/jnb666/cifarnet/web"
	"gorgonia.org/tensor"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf := newConfig(useDropout, useBatchNorm)
	rng := nnet.SetSeed(conf.RandSeed)

	// load the data and scale using the stats from the training set
	dir, err := cifar10.CacheDir()
	nnet.CheckErr(err)
	train, test, err := cifar10.Load(ctx, dir)
	nnet.CheckErr(err)
	fmt.Println("x_train shape:", append([]int{train.Len()}, train.Shape()...))
	fmt.Println(train.Len(), "train samples")
	fmt.Println(test.Len(), "test samples")

	mean, std := img.GetStats(train.Images)
	slog.Info("normalise inputs", "mean", mean, "std", std)
	nnet.CheckErr(train.Normalise(mean, std))
	nnet.CheckErr(test.Normalise(mean, std))

	fmt.Println(conf)
	model, err := nnet.NewModel(conf, train.Shape(), rng)
	nnet.CheckErr(err)
	fmt.Print(model.Summary())

	var trans *img.Transformer
	if conf.Augment {
		fmt.Println("Using real-time data augmentation.")
		trans = img.NewTransformer(transType(conf), conf.MaxShift, conf.MaxShift, conf.Threads, rng)
	} else {
		fmt.Println("Not using data augmentation.")
	}
	trainSet := nnet.NewDataset(train, conf.TrainBatch, conf.Shuffle, trans, rng)
	testSet := nnet.NewDataset(test, conf.TestBatch, false, nil, rng)
	hist, err := nnet.Train(model, trainSet, nnet.NewTestLogger(testSet))
	nnet.CheckErr(err)
	trainSet.Release()

	modelPath, err := filepath.Abs(filepath.Join(modelDir, modelName))
	nnet.CheckErr(err)
	nnet.CheckErr(nnet.SaveModel(model, modelPath))
	slog.Info("saved trained model", "path", modelPath)

	loss, acc, err := model.Evaluate(testSet)
	nnet.CheckErr(err)
	testSet.Release()
	fmt.Printf("Test loss: %.4f\n", loss)
	fmt.Printf("Test accuracy: %.4f\n", acc)

	pred, err := predict(model, test, galleryImages)
	nnet.CheckErr(err)
	srv, err := web.NewServer("cifar10 alexnet", hist, model.Summary())
	nnet.CheckErr(err)
	srv.MaxImages = galleryImages
	nnet.CheckErr(srv.AddImages(test, pred).Serve(ctx, viewerAddr))
}

func transType(conf nnet.Config) img.TransType {
	var trans img.TransType
	if conf.MaxShift > 0 {
		trans |= img.Shift
	}
	if conf.FlipHoriz {
		trans |= img.HorizFlip
	}
	return trans
}

// predicted classes for the first n images
func predict(model *nnet.Model, data *img.Data, n int) ([]int32, error) {
	if n > data.Len() {
		n = data.Len()
	}
	index := make([]int, n)
	for i := range index {
		index[i] = i
	}
	shape := append([]int{n}, data.Shape()...)
	buf := make([]float32, n*data.Shape()[0]*data.Shape()[1]*data.Shape()[2])
	data.Input(index, buf, nil)
	out, err := model.Predict(tensor.New(tensor.WithShape(shape...), tensor.WithBacking(buf)))
	if err != nil {
		return nil, err
	}
	return nnet.Unhot(out, len(data.Classes())), nil
}
