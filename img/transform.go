package img

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Types of image transformations
type TransType int

const NoTrans TransType = 0

const (
	HorizFlip TransType = 1 << iota
	Shift
)

var transTypeNames = map[TransType]string{
	HorizFlip: "HorizFlip",
	Shift:     "Shift",
}

func (t TransType) String() string {
	if t == NoTrans {
		return "None"
	}
	s := []string{}
	for key, name := range transTypeNames {
		if t&key != 0 {
			s = append(s, name)
		}
	}
	sort.Strings(s)
	return strings.Join(s, " ")
}

// Transformer applies random label preserving distortions to batches of images.
type Transformer struct {
	Trans     TransType
	MaxShiftX float64
	MaxShiftY float64
	rng       []*rand.Rand
}

// Create a new transformer object. Shifts are given as a fraction of the image width and height.
// Threads sets the number of worker goroutines, or one per CPU if <= 0.
func NewTransformer(trans TransType, maxShiftX, maxShiftY float64, threads int, rng *rand.Rand) *Transformer {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	t := &Transformer{Trans: trans, MaxShiftX: maxShiftX, MaxShiftY: maxShiftY}
	for i := 0; i < threads; i++ {
		t.rng = append(t.rng, rand.New(rand.NewSource(rng.Int63())))
	}
	return t
}

// Transform a batch of images in parallel
func (t *Transformer) TransformBatch(data *Data, index []int, dst []*Image) []*Image {
	if dst == nil {
		dst = make([]*Image, len(index))
	}
	var wg sync.WaitGroup
	queue := make(chan int, len(t.rng))
	for thread := range t.rng {
		wg.Add(1)
		go func(thread int) {
			for i := range queue {
				dst[i] = t.Transform(data.Images[index[i]], thread)
			}
			wg.Done()
		}(thread)
	}
	for i := range index {
		queue <- i
	}
	close(queue)
	wg.Wait()
	return dst
}

// Apply a random shift and then flip with probability 0.5, returns a new image.
func (t *Transformer) Transform(img *Image, thread int) *Image {
	rng := t.rng[thread]
	if t.Trans&Shift != 0 {
		dx := (2*rng.Float64() - 1) * t.MaxShiftX * float64(img.Width)
		dy := (2*rng.Float64() - 1) * t.MaxShiftY * float64(img.Height)
		img = ShiftImage(img, dx, dy)
	}
	if t.Trans&HorizFlip != 0 && rng.Float64() < 0.5 {
		img = FlipImage(img)
	}
	return img
}

// ShiftImage translates the image by dx, dy pixels using bilinear interpolation. Points which
// fall outside the source take the value of the nearest edge pixel.
func ShiftImage(src *Image, dx, dy float64) *Image {
	dst := NewImageLike(src)
	w, h := src.Width, src.Height
	for y := 0; y < h; y++ {
		sy := float64(y) - dy
		y0, y1, fy := interp(sy, h)
		for x := 0; x < w; x++ {
			sx := float64(x) - dx
			x0, x1, fx := interp(sx, w)
			for ch := 0; ch < src.Channels; ch++ {
				in := src.Pixels(ch)
				v0 := in[y0*w+x0]*(1-fx) + in[y0*w+x1]*fx
				v1 := in[y1*w+x0]*(1-fx) + in[y1*w+x1]*fx
				dst.Pixels(ch)[y*w+x] = v0*(1-fy) + v1*fy
			}
		}
	}
	return dst
}

// FlipImage mirrors the image about the vertical axis.
func FlipImage(src *Image) *Image {
	dst := NewImageLike(src)
	w := src.Width
	for ch := 0; ch < src.Channels; ch++ {
		in, out := src.Pixels(ch), dst.Pixels(ch)
		for y := 0; y < src.Height; y++ {
			for x := 0; x < w; x++ {
				out[y*w+x] = in[y*w+w-x-1]
			}
		}
	}
	return dst
}

// clamp to edge and get neighbouring sample points plus fractional offset
func interp(pos float64, size int) (i0, i1 int, frac float32) {
	pos = math.Max(0, math.Min(pos, float64(size-1)))
	i0 = int(pos)
	i1 = i0 + 1
	if i1 >= size {
		i1 = size - 1
	}
	return i0, i1, float32(pos - float64(i0))
}
