package nnet

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer interface type represents one layer of the neural net. Shapes include the batch size
// as the first dimension.
type Layer interface {
	Init(g *G.ExprGraph, p *Params, id int, inShape []int, training bool) error
	OutShape(inShape []int) []int
	Fprop(in *G.Node) (*G.Node, error)
	ToString() string
}

// ParamLayer is a layer with learnable weight and bias parameters
type ParamLayer interface {
	Layer
	Params() []paramNode
}

// StatsLayer is a layer which tracks running statistics during training
type StatsLayer interface {
	Layer
	Stats() []paramNode
	UpdateStats() error
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		return cfg.unmarshal(l.Data)
	case "maxPool":
		cfg := new(MaxPool)
		return cfg.unmarshal(l.Data)
	case "linear":
		cfg := new(Linear)
		return cfg.unmarshal(l.Data)
	case "activation":
		cfg := new(Activation)
		return cfg.unmarshal(l.Data)
	case "batchNorm":
		cfg := new(BatchNorm)
		return cfg.unmarshal(l.Data)
	case "dropout":
		cfg := new(Dropout)
		return cfg.unmarshal(l.Data)
	case "flatten":
		return &flatten{}
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Convolutional layer with 2d square kernel, if Pad is set then output size is the same as the input.
type Conv struct {
	Nfeats, Size, Stride int
	Pad                  bool
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

func (c Conv) ToString() string {
	return fmt.Sprintf("conv %+v", c)
}

func (c *Conv) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &conv{Conv: *c}
}

// Max pooling layer with no padding, stride defaults to the pool size.
type MaxPool struct {
	Size, Stride int
}

func (c MaxPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "maxPool", Data: marshal(c)}
}

func (c MaxPool) ToString() string {
	return fmt.Sprintf("maxPool %+v", c)
}

func (c *MaxPool) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &maxPool{MaxPool: *c}
}

// Linear fully connected layer.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

func (c Linear) ToString() string {
	return fmt.Sprintf("linear %+v", c)
}

func (c *Linear) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &linear{Linear: *c}
}

// Sigmoid, tanh, relu or softmax activation layer.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) ToString() string {
	return fmt.Sprintf("activation %+v", c)
}

func (c *Activation) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	layer := &activation{Activation: *c}
	switch c.Atype {
	case "sigmoid":
		layer.activ = G.Sigmoid
	case "tanh":
		layer.activ = G.Tanh
	case "relu":
		layer.activ = G.Rectify
	case "softmax":
		layer.activ = func(x *G.Node) (*G.Node, error) { return G.SoftMax(x) }
	default:
		panic(fmt.Sprintf("activation type %s invalid", c.Atype))
	}
	return layer
}

// Batch normalisation layer. Normalises over all axes except the feature or channel axis.
type BatchNorm struct {
	Momentum, Epsilon float64
}

func (c BatchNorm) Marshal() LayerConfig {
	if c.Momentum == 0 {
		c.Momentum = 0.99
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-3
	}
	return LayerConfig{Type: "batchNorm", Data: marshal(c)}
}

func (c BatchNorm) ToString() string {
	return fmt.Sprintf("batchNorm %+v", c)
}

func (c *BatchNorm) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &batchNorm{BatchNorm: *c}
}

// Dropout layer sets a random fraction Ratio of the inputs to zero when training.
type Dropout struct {
	Ratio float64
}

func (c Dropout) Marshal() LayerConfig {
	return LayerConfig{Type: "dropout", Data: marshal(c)}
}

func (c Dropout) ToString() string {
	return fmt.Sprintf("dropout %+v", c)
}

func (c *Dropout) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &dropout{Dropout: *c}
}

// Flatten layer reshapes from 4 to 2 dimensions.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// convolutional layer implementation
type conv struct {
	Conv
	w, b paramNode
}

func (l *conv) pad() int {
	if l.Pad {
		return l.Size / 2
	}
	return 0
}

func (l *conv) OutShape(inShape []int) []int {
	pad := l.pad()
	h := (inShape[2]+2*pad-l.Size)/l.Stride + 1
	w := (inShape[3]+2*pad-l.Size)/l.Stride + 1
	return []int{inShape[0], l.Nfeats, h, w}
}

func (l *conv) Init(g *G.ExprGraph, p *Params, id int, inShape []int, training bool) error {
	if len(inShape) != 4 {
		return errors.Errorf("conv: expect 4 dimensional input, got %v", inShape)
	}
	nIn := inShape[1]
	fanIn, fanOut := nIn*l.Size*l.Size, l.Nfeats*l.Size*l.Size
	w := p.Get(paramName(id, "w"), []int{l.Nfeats, nIn, l.Size, l.Size}, true, GlorotUniform(fanIn, fanOut))
	b := p.Get(paramName(id, "b"), []int{1, l.Nfeats, 1, 1}, true, Fill(0))
	l.w, l.b = newParamNode(g, w), newParamNode(g, b)
	return nil
}

func (l *conv) Fprop(in *G.Node) (*G.Node, error) {
	pad, stride := l.pad(), l.Stride
	out, err := G.Conv2d(in, l.w.node, tensor.Shape{l.Size, l.Size}, []int{pad, pad}, []int{stride, stride}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "conv")
	}
	return G.BroadcastAdd(out, l.b.node, nil, []byte{0, 2, 3})
}

func (l *conv) Params() []paramNode { return []paramNode{l.w, l.b} }

// max pooling layer implementation
type maxPool struct {
	MaxPool
}

func (l *maxPool) OutShape(inShape []int) []int {
	h := (inShape[2]-l.Size)/l.Stride + 1
	w := (inShape[3]-l.Size)/l.Stride + 1
	return []int{inShape[0], inShape[1], h, w}
}

func (l *maxPool) Init(g *G.ExprGraph, p *Params, id int, inShape []int, training bool) error {
	if len(inShape) != 4 {
		return errors.Errorf("maxPool: expect 4 dimensional input, got %v", inShape)
	}
	return nil
}

func (l *maxPool) Fprop(in *G.Node) (*G.Node, error) {
	return G.MaxPool2D(in, tensor.Shape{l.Size, l.Size}, []int{0, 0}, []int{l.Stride, l.Stride})
}

// linear layer implementation
type linear struct {
	Linear
	w, b paramNode
}

func (l *linear) OutShape(inShape []int) []int {
	return []int{inShape[0], l.Nout}
}

func (l *linear) Init(g *G.ExprGraph, p *Params, id int, inShape []int, training bool) error {
	if len(inShape) != 2 {
		return errors.Errorf("linear: expect 2 dimensional input, got %v", inShape)
	}
	nIn := inShape[1]
	w := p.Get(paramName(id, "w"), []int{nIn, l.Nout}, true, GlorotUniform(nIn, l.Nout))
	b := p.Get(paramName(id, "b"), []int{1, l.Nout}, true, Fill(0))
	l.w, l.b = newParamNode(g, w), newParamNode(g, b)
	return nil
}

func (l *linear) Fprop(in *G.Node) (*G.Node, error) {
	out, err := G.Mul(in, l.w.node)
	if err != nil {
		return nil, errors.Wrap(err, "linear")
	}
	return G.BroadcastAdd(out, l.b.node, nil, []byte{0})
}

func (l *linear) Params() []paramNode { return []paramNode{l.w, l.b} }

// activation layers
type activation struct {
	Activation
	activ func(x *G.Node) (*G.Node, error)
}

func (l *activation) OutShape(inShape []int) []int { return inShape }

func (l *activation) Init(g *G.ExprGraph, p *Params, id int, inShape []int, training bool) error {
	return nil
}

func (l *activation) Fprop(in *G.Node) (*G.Node, error) {
	return l.activ(in)
}

// dropout is only applied when training
type dropout struct {
	Dropout
	training bool
}

func (l *dropout) OutShape(inShape []int) []int { return inShape }

func (l *dropout) Init(g *G.ExprGraph, p *Params, id int, inShape []int, training bool) error {
	l.training = training
	return nil
}

func (l *dropout) Fprop(in *G.Node) (*G.Node, error) {
	if !l.training || l.Ratio <= 0 {
		return in, nil
	}
	return G.Dropout(in, l.Ratio)
}

type flatten struct{}

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) OutShape(inShape []int) []int {
	return []int{inShape[0], prod(inShape[1:])}
}

func (l *flatten) Init(g *G.ExprGraph, p *Params, id int, inShape []int, training bool) error {
	return nil
}

func (l *flatten) Fprop(in *G.Node) (*G.Node, error) {
	shape := in.Shape()
	return G.Reshape(in, tensor.Shape{shape[0], prod(shape[1:])})
}

func paramName(id int, name string) string {
	return fmt.Sprintf("%02d_%s", id, name)
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	if len(data) == 0 {
		return
	}
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
