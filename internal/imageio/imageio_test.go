package imageio

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/suyashkumar/dicom/pkg/uid"
)

func writePNG(t *testing.T, w, h int, c color.Color) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	path := filepath.Join(t.TempDir(), "scan.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestOpenPNG(t *testing.T) {
	path := writePNG(t, 64, 48, color.RGBA{R: 255, G: 0, B: 51, A: 255})

	img, err := NewDecoder().Open(path)
	require.NoError(t, err)
	require.Equal(t, "png", img.Format)
	require.False(t, img.IsDICOM())
	require.Len(t, img.Tensor, TensorLen)
	require.InDelta(t, 1.0, img.Tensor[0], 1e-6)
	require.InDelta(t, 0.0, img.Tensor[1], 1e-6)
	require.InDelta(t, 0.2, img.Tensor[2], 1e-6)
}

func TestOpenRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	_, err := NewDecoder().Open(path)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOpenRejectsMislabelledFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.png")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not pixels"), 0o644))

	_, err := NewDecoder().Open(path)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOpenMissing(t *testing.T) {
	_, err := NewDecoder().Open(filepath.Join(t.TempDir(), "gone.jpg"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestToTensorStretch(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.SetGray(0, 0, color.Gray{Y: 100})
	src.SetGray(1, 0, color.Gray{Y: 110})

	out := ToTensor(src, true)
	lo, hi := out[0], out[0]
	for _, v := range out {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	require.InDelta(t, 0.0, lo, 1e-6)
	require.InDelta(t, 1.0, hi, 1e-6)
}

func TestOpenRejectsTruncatedDICOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.dcm")
	require.NoError(t, os.WriteFile(path, make([]byte, 140), 0o644))

	require.NotPanics(t, func() {
		_, err := NewDecoder().Open(path)
		require.Error(t, err)
	})
}

func TestOpenDICOMWithoutPixelData(t *testing.T) {
	var elems []*dicom.Element
	for _, e := range []struct {
		tag   tag.Tag
		value any
	}{
		{tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.1.2"}},
		{tag.MediaStorageSOPInstanceUID, []string{"1.2.3.4.5.6.7"}},
		{tag.TransferSyntaxUID, []string{uid.ImplicitVRLittleEndian}},
		{tag.PatientName, []string{"Anonymous"}},
		{tag.Rows, []int{16}},
	} {
		elem, err := dicom.NewElement(e.tag, e.value)
		require.NoError(t, err)
		elems = append(elems, elem)
	}

	path := filepath.Join(t.TempDir(), "scan.dcm")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, dicom.Write(f, dicom.Dataset{Elements: elems}))
	require.NoError(t, f.Close())

	_, err = NewDecoder().Open(path)
	require.ErrorIs(t, err, ErrNoPixelData)
}
