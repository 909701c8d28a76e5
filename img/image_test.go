package img

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func printArray(in []float32, w, h int) string {
	s := make([]string, h)
	for i := 0; i < h; i++ {
		s[i] = fmt.Sprintf("%6.3f", in[i*w:(i+1)*w])
	}
	return strings.Join(s, "\n")
}

func testImage(w, h int) *Image {
	m := NewRGB(w, h)
	for i := range m.Pix {
		m.Pix[i] = float32(i)
	}
	return m
}

func TestImageColor(t *testing.T) {
	m := NewRGB(4, 2)
	m.Pixels(0)[5], m.Pixels(1)[5], m.Pixels(2)[5] = 0.25, 0.5, 1
	assert.Equal(t, RGB{R: 0.25, G: 0.5, B: 1}, m.RGBAt(1, 1))
	assert.Equal(t, float32(0.5), m.Pixels(1)[5])
	assert.Equal(t, RGB{}, m.RGBAt(4, 0))
	r, _, _, a := m.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff/4), r)
	assert.Equal(t, uint32(0xffff), a)
}

func TestShiftIdentity(t *testing.T) {
	src := testImage(5, 4)
	dst := ShiftImage(src, 0, 0)
	assert.Equal(t, src.Pix, dst.Pix)
}

func TestShiftNearestFill(t *testing.T) {
	src := testImage(5, 4)
	dst := ShiftImage(src, 2, 1)
	t.Logf("src\n%s", printArray(src.Pixels(0), 5, 4))
	t.Logf("shift\n%s", printArray(dst.Pixels(0), 5, 4))
	for ch := 0; ch < 3; ch++ {
		in, out := src.Pixels(ch), dst.Pixels(ch)
		for y := 0; y < 4; y++ {
			sy := y - 1
			if sy < 0 {
				sy = 0
			}
			for x := 0; x < 5; x++ {
				sx := x - 2
				if sx < 0 {
					sx = 0
				}
				require.Equal(t, in[sy*5+sx], out[y*5+x], "ch=%d x=%d y=%d", ch, x, y)
			}
		}
	}
}

func TestShiftFraction(t *testing.T) {
	src := NewRGB(3, 1)
	copy(src.Pixels(0), []float32{0, 1, 2})
	dst := ShiftImage(src, -0.5, 0)
	assert.InDeltaSlice(t, []float32{0.5, 1.5, 2}, dst.Pixels(0), 1e-6)
}

func TestFlip(t *testing.T) {
	src := testImage(4, 3)
	dst := FlipImage(src)
	for ch := 0; ch < 3; ch++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				assert.Equal(t, src.Pixels(ch)[y*4+x], dst.Pixels(ch)[y*4+3-x])
			}
		}
	}
	assert.Equal(t, src.Pix, FlipImage(dst).Pix)
}

func TestTransformBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	images := []*Image{testImage(8, 8), testImage(8, 8), testImage(8, 8)}
	data := NewData([]string{"a", "b"}, []int32{0, 1, 0}, images)
	trans := NewTransformer(Shift|HorizFlip, 0.1, 0.1, 2, rng)
	assert.Equal(t, "HorizFlip Shift", trans.Trans.String())
	out := trans.TransformBatch(data, []int{2, 0}, nil)
	require.Len(t, out, 2)
	for _, m := range out {
		assert.Equal(t, 8, m.Width)
		assert.Len(t, m.Pix, len(images[0].Pix))
	}
	// source images are never modified
	assert.Equal(t, testImage(8, 8).Pix, images[0].Pix)

	none := NewTransformer(NoTrans, 0.1, 0.1, 1, rng)
	assert.Same(t, images[1], none.Transform(images[1], 0))
}

func TestNormalise(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	train := make([]*Image, 20)
	test := make([]*Image, 5)
	for i := range train {
		train[i] = NewRGB(4, 4)
		for j := range train[i].Pix {
			train[i].Pix[j] = float32(rng.Intn(256)) / 255
		}
	}
	for i := range test {
		test[i] = NewRGB(4, 4)
		for j := range test[i].Pix {
			test[i].Pix[j] = 0.5 + rng.Float32()/2
		}
	}
	trainData := NewData(nil, make([]int32, len(train)), train)
	testData := NewData(nil, make([]int32, len(test)), test)
	orig := test[0].Pix[0]

	mean, std := GetStats(train)
	require.NoError(t, trainData.Normalise(mean, std))
	require.NoError(t, testData.Normalise(mean, std))
	assert.Equal(t, float32(mean), testData.Mean)
	assert.InDelta(t, (float64(orig)-mean)/(std+Epsilon), test[0].Pix[0], 1e-5)

	var all []float64
	for _, img := range train {
		for _, v := range img.Pix {
			all = append(all, float64(v))
		}
	}
	m := stat.Mean(all, nil)
	assert.InDelta(t, 0, m, 1e-5)
	assert.InDelta(t, 1, stat.MomentAbout(2, all, m, nil), 1e-4)

	disp := testData.Display(0)
	assert.InDelta(t, orig, disp.Pix[0], 1e-5)
	assert.NotSame(t, test[0], disp)
}
