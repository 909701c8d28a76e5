package nnet

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Training configuration settings
type Config struct {
	DataSet    string
	Eta        float64
	Decay      float64
	Rho        float64
	Epsilon    float64
	TrainBatch int
	TestBatch  int
	MaxEpoch   int
	Shuffle    bool
	Augment    bool
	MaxShift   float64
	FlipHoriz  bool
	RandSeed   int64
	Threads    int
	DebugLevel int
	Layers     []LayerConfig
}

// Decode network config in JSON format
func DecodeConfig(r io.Reader) (c Config, err error) {
	err = json.NewDecoder(r).Decode(&c)
	return c, errors.Wrap(err, "error decoding config")
}

// Append layers to the config struct, the receiver is not modified.
func (c Config) AddLayers(layers ...ConfigLayer) Config {
	c.Layers = append([]LayerConfig{}, c.Layers...)
	for _, l := range layers {
		c.Layers = append(c.Layers, l.Marshal())
	}
	return c
}

// Encode config in JSON format
func (c Config) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(c), "error encoding config")
}

// String lists the training settings followed by the layers, one per line.
func (c Config) String() string {
	lines := []string{"== Config =="}
	v := reflect.ValueOf(c)
	for i := 0; i < v.NumField(); i++ {
		if name := v.Type().Field(i).Name; name != "Layers" {
			lines = append(lines, fmt.Sprintf("%-12s %v", name+":", v.Field(i).Interface()))
		}
	}
	if len(c.Layers) > 0 {
		lines = append(lines, "== Layers ==")
		for i, layer := range c.Layers {
			lines = append(lines, fmt.Sprintf("%2d: %s", i, layer))
		}
	}
	return strings.Join(lines, "\n")
}
