package main

import (
	"github.com/jnb666/cifarnet/cifar10"
	"github.com/jnb666/cifarnet/nnet"
)

const (
	batchSize        = 32
	epochs           = 10
	dataAugmentation = true
	useDropout       = true
	useBatchNorm     = true
	modelDir         = "saved_models"
	modelName        = "cifar10_trained_model.net"
	viewerAddr       = ":8080"
	galleryImages    = 100
)

// training settings with rmsprop optimiser
func trainConfig() nnet.Config {
	return nnet.Config{
		DataSet:    "cifar10",
		Eta:        1e-4,
		Decay:      1e-6,
		Rho:        0.9,
		Epsilon:    1e-7,
		TrainBatch: batchSize,
		TestBatch:  batchSize,
		MaxEpoch:   epochs,
		Shuffle:    true,
		Augment:    dataAugmentation,
		MaxShift:   0.1,
		FlipHoriz:  true,
	}
}

// alexnet style network: five conv blocks then three hidden dense layers
func modelLayers(dropout, batchNorm bool) []nnet.ConfigLayer {
	var layers []nnet.ConfigLayer
	add := func(l ...nnet.ConfigLayer) {
		layers = append(layers, l...)
	}
	norm := func() {
		if batchNorm {
			add(nnet.BatchNorm{})
		}
	}
	drop := func(ratio float64) {
		if dropout {
			add(nnet.Dropout{Ratio: ratio})
		}
	}
	convBlock := func(nfeats int) {
		add(nnet.Conv{Nfeats: nfeats, Size: 3, Pad: true}, nnet.Activation{Atype: "relu"})
		norm()
	}

	convBlock(48)
	add(nnet.MaxPool{Size: 2})
	drop(0.2)

	convBlock(96)
	add(nnet.MaxPool{Size: 2})
	drop(0.3)

	convBlock(192)
	convBlock(192)
	add(nnet.MaxPool{Size: 2})
	drop(0.4)

	convBlock(256)
	add(nnet.MaxPool{Size: 2})
	drop(0.5)

	add(nnet.Flatten{})
	for _, n := range []int{512, 512, 256} {
		add(nnet.Linear{Nout: n}, nnet.Activation{Atype: "relu"})
		norm()
	}
	add(nnet.Linear{Nout: cifar10.NumClasses}, nnet.Activation{Atype: "softmax"})
	return layers
}

func newConfig(dropout, batchNorm bool) nnet.Config {
	return trainConfig().AddLayers(modelLayers(dropout, batchNorm)...)
}
