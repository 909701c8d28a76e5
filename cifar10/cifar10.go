// Package cifar10 fetches and decodes the CIFAR-10 image classification data set in binary format.
package cifar10

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"github.com/jnb666/cifarnet/img"
	"github.com/pkg/errors"
)

const (
	URL      = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	Checksum = "md5:c32a1d4ab5d03f1284b67883e8d87530"
	BatchDir = "cifar-10-batches-bin"

	ImageWidth  = 32
	ImageHeight = 32
	NumClasses  = 10
	imageSize   = ImageWidth * ImageHeight
	imageBytes  = imageSize*3 + 1
	batchImages = 10000
)

var (
	trainFiles = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}
	testFile   = "test_batch.bin"
	metaFile   = "batches.meta.txt"
)

// CacheDir returns the default directory where the data set is stored.
func CacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "cifar10: no cache directory")
	}
	return filepath.Join(dir, "cifar10"), nil
}

// Load reads the training and test sets from dir, downloading the archive first if needed.
// Pixel values are scaled to the range 0-1.
func Load(ctx context.Context, dir string) (train, test *img.Data, err error) {
	if err = Fetch(ctx, dir); err != nil {
		return nil, nil, err
	}
	base := filepath.Join(dir, BatchDir)
	classes, err := readClassFile(filepath.Join(base, metaFile))
	if err != nil {
		return nil, nil, err
	}
	train = img.NewData(classes, nil, nil)
	for _, name := range trainFiles {
		d, err := readBatchFile(filepath.Join(base, name), classes)
		if err != nil {
			return nil, nil, err
		}
		train.Append(d)
	}
	if test, err = readBatchFile(filepath.Join(base, testFile), classes); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// Fetch downloads and unpacks the archive to dir unless all of the batch files are already present.
func Fetch(ctx context.Context, dir string) error {
	if Cached(dir) {
		return nil
	}
	dst, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrap(err, "cifar10")
	}
	slog.Info("downloading dataset", "url", URL, "dir", dst)
	client := &getter.Client{
		Ctx:  ctx,
		Src:  URL + "?checksum=" + Checksum,
		Dst:  dst,
		Mode: getter.ClientModeDir,
	}
	if err := client.Get(); err != nil {
		return errors.Wrapf(err, "cifar10: error fetching %s", URL)
	}
	if !Cached(dir) {
		return errors.Errorf("cifar10: archive from %s did not contain %s", URL, BatchDir)
	}
	return nil
}

// Cached checks if the extracted files exist under dir.
func Cached(dir string) bool {
	for _, name := range append([]string{metaFile, testFile}, trainFiles...) {
		if _, err := os.Stat(filepath.Join(dir, BatchDir, name)); err != nil {
			return false
		}
	}
	return true
}

func readBatchFile(pathName string, classes []string) (*img.Data, error) {
	f, err := os.Open(pathName)
	if err != nil {
		return nil, errors.Wrap(err, "cifar10")
	}
	defer f.Close()
	d, err := ReadBatch(bufio.NewReader(f), classes)
	if err != nil {
		return nil, errors.Wrapf(err, "cifar10: error reading %s", pathName)
	}
	slog.Debug("read batch", "file", filepath.Base(pathName), "images", d.Len())
	return d, nil
}

// ReadBatch decodes a batch of images in binary format. Each record is a label byte
// followed by the 1024 red, 1024 green and 1024 blue pixel values in row major order.
func ReadBatch(r io.Reader, classes []string) (*img.Data, error) {
	labels := make([]int32, 0, batchImages)
	images := make([]*img.Image, 0, batchImages)
	buf := make([]uint8, imageBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Errorf("incomplete read: expected %d bytes got %d", imageBytes, n)
		}
		if err != nil {
			return nil, err
		}
		if int(buf[0]) >= NumClasses {
			return nil, errors.Errorf("invalid label %d for image %d", buf[0], len(labels))
		}
		labels = append(labels, int32(buf[0]))
		m := img.NewRGB(ImageWidth, ImageHeight)
		for j, v := range buf[1:] {
			m.Pix[j] = float32(v) / 255
		}
		images = append(images, m)
	}
	return img.NewData(classes, labels, images), nil
}

func readClassFile(pathName string) ([]string, error) {
	f, err := os.Open(pathName)
	if err != nil {
		return nil, errors.Wrap(err, "cifar10")
	}
	defer f.Close()
	return ReadClasses(f)
}

// ReadClasses loads the class descriptions, one per line.
func ReadClasses(r io.Reader) ([]string, error) {
	s := bufio.NewScanner(r)
	classes := []string{}
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, s.Err()
}
