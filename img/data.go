package img

import (
	"github.com/jnb666/cifarnet/stats"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Epsilon is added to the standard deviation before dividing when normalising.
const Epsilon = 1e-7

// Image data set with one label per image
type Data struct {
	Class  []string
	Dims   []int
	Labels []int32
	Images []*Image
	Mean   float32
	StdDev float32
}

// Create a new image set
func NewData(classes []string, labels []int32, images []*Image) *Data {
	d := &Data{Class: classes, Labels: labels, Images: images}
	if len(images) > 0 {
		src := images[0]
		d.Dims = []int{src.Channels, src.Height, src.Width}
	}
	return d
}

// Len function returns number of images
func (d *Data) Len() int { return len(d.Labels) }

// Classes functions number of differerent label values
func (d *Data) Classes() []string { return d.Class }

// Shape returns channels, height, width
func (d *Data) Shape() []int { return d.Dims }

// Label returns classification for given images
func (d *Data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

// Input copies the pixel data for the given images to buf, applying the transformer if not nil.
func (d *Data) Input(index []int, buf []float32, t *Transformer) {
	nfeat := d.nfeat()
	if t == nil {
		for i, ix := range index {
			copy(buf[i*nfeat:], d.Images[ix].Pix)
		}
		return
	}
	temp := t.TransformBatch(d, index, nil)
	for i := range index {
		copy(buf[i*nfeat:], temp[i].Pix)
	}
}

// Append adds the images and labels from src to d.
func (d *Data) Append(src *Data) {
	d.Labels = append(d.Labels, src.Labels...)
	d.Images = append(d.Images, src.Images...)
	if d.Dims == nil {
		d.Dims = src.Dims
	}
}

// Normalise subtracts mean and divides by stddev+Epsilon for each pixel in place.
func (d *Data) Normalise(mean, std float64) error {
	d.Mean, d.StdDev = float32(mean), float32(std)
	m, s := float32(mean), float32(std+Epsilon)
	for i, img := range d.Images {
		t := tensor.New(tensor.WithShape(len(img.Pix)), tensor.WithBacking(img.Pix))
		if _, err := t.SubScalar(m, true, tensor.UseUnsafe()); err != nil {
			return errors.Wrapf(err, "normalise image %d", i)
		}
		if _, err := t.DivScalar(s, true, tensor.UseUnsafe()); err != nil {
			return errors.Wrapf(err, "normalise image %d", i)
		}
	}
	return nil
}

// Display returns a copy of image i with the normalisation undone so pixels are back in [0, 1].
func (d *Data) Display(i int) *Image {
	src := d.Images[i]
	m := NewImageLike(src)
	std := d.StdDev
	if std != 0 {
		std += Epsilon
	} else {
		std = 1
	}
	for j, v := range src.Pix {
		m.Pix[j] = clamp(v*std+d.Mean, 0, 1)
	}
	return m
}

func (d *Data) nfeat() int {
	n := 1
	for _, d := range d.Dims {
		n *= d
	}
	return n
}

// Calculate mean and stddev over every pixel and channel of a set of images.
func GetStats(images []*Image) (mean, std float64) {
	var s stats.Average
	for _, img := range images {
		s.AddSlice(img.Pix)
	}
	return s.Mean, s.StdDev
}
