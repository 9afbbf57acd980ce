// Package imageio turns image files into the fixed-shape tensors the
// classifier consumes.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"os"
	"slices"
	"strings"

	"github.com/pdai-labs/pdai/internal/utils/pathutil"

	"github.com/anthonynsimon/bild/transform"
	"github.com/gabriel-vasile/mimetype"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

const (
	Width    = 224
	Height   = 224
	Channels = 3
	// TensorLen is the number of float32 values in a decoded image.
	TensorLen = Width * Height * Channels
)

var SupportedExtensions = []string{"jpeg", "jpg", "png", "bmp", "tiff", "tif", "dcm", "dicom"}

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrNotFound          = errors.New("image file not found")
)

// MetadataField is one DICOM header entry.
type MetadataField struct {
	Tag   string
	VR    string
	Name  string
	Value string
}

func (f MetadataField) String() string {
	return fmt.Sprintf("%s %s %s: %s", f.Tag, f.VR, f.Name, f.Value)
}

type Image struct {
	Path   string
	Format string
	// Tensor holds Height*Width*Channels values in [0, 1], row-major HWC.
	Tensor   []float32
	Source   image.Image
	Metadata []MetadataField
}

func (img *Image) IsDICOM() bool {
	return img.Format == "dicom"
}

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open reads, decodes and normalizes the image at path.
func (d *Decoder) Open(path string) (*Image, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	ext := pathutil.Ext(path)
	if !slices.Contains(SupportedExtensions, ext) {
		return nil, fmt.Errorf("%w: .%s", ErrUnsupportedFormat, ext)
	}

	if ext == "dcm" || ext == "dicom" {
		return openDICOM(path)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect image type: %w", err)
	}
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mtype.String())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &Image{
		Path:   path,
		Format: format,
		Tensor: ToTensor(src, false),
		Source: src,
	}, nil
}

// ToTensor resizes src to Width x Height and scales channels into [0, 1].
// With stretch set the values are min-max normalized, which keeps 16-bit
// grayscale scans from collapsing into a narrow band.
func ToTensor(src image.Image, stretch bool) []float32 {
	resized := transform.Resize(src, Width, Height, transform.Linear)

	out := make([]float32, 0, TensorLen)
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			i := resized.PixOffset(x, y)
			px := resized.Pix[i : i+3 : i+3]
			out = append(out, float32(px[0])/255, float32(px[1])/255, float32(px[2])/255)
		}
	}

	if stretch {
		normalize(out)
	}
	return out
}

func normalize(t []float32) {
	lo, hi := t[0], t[0]
	for _, v := range t {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi == lo {
		return
	}
	for i, v := range t {
		t[i] = (v - lo) / (hi - lo)
	}
}
