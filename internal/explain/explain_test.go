package explain

import (
	"context"
	"os"
	"testing"

	"github.com/pdai-labs/pdai/internal/imageio"
	"github.com/pdai-labs/pdai/internal/model"

	"github.com/stretchr/testify/require"
)

type weightedStub struct {
	weights []float32
}

func (w weightedStub) Infer(ctx context.Context, image []float32) ([]float32, error) {
	return []float32{0, 1}, nil
}

func (w weightedStub) ClassWeights(class int) []float32 {
	return w.weights
}

func TestHeatmapRendersOverlay(t *testing.T) {
	tensor := make([]float32, imageio.TensorLen)
	weights := make([]float32, imageio.TensorLen)
	for i := range tensor {
		tensor[i] = 0.5
	}
	// one hot pixel in the middle
	mid := (imageio.Height/2*imageio.Width + imageio.Width/2) * imageio.Channels
	weights[mid] = 1

	dir := t.TempDir()
	hm, err := NewSaliency(dir, nil).Heatmap(context.Background(), tensor, weightedStub{weights}, model.HeatmapParams{
		Sensitivity: 2,
		Class:       model.ClassPneumonia,
	})
	require.NoError(t, err)
	require.Len(t, hm.Values, imageio.Width*imageio.Height)
	require.FileExists(t, hm.Path)

	peak := hm.Values[imageio.Height/2*imageio.Width+imageio.Width/2]
	require.Greater(t, peak, hm.Values[0])

	info, err := os.Stat(hm.Path)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

func TestHeatmapWithoutOutputDir(t *testing.T) {
	tensor := make([]float32, imageio.TensorLen)
	hm, err := NewSaliency("", nil).Heatmap(context.Background(), tensor, weightedStub{make([]float32, imageio.TensorLen)}, model.HeatmapParams{})
	require.NoError(t, err)
	require.Empty(t, hm.Path)
}

type plain struct{}

func (plain) Infer(ctx context.Context, image []float32) ([]float32, error) { return nil, nil }

func TestHeatmapUnsupportedHandle(t *testing.T) {
	_, err := NewSaliency("", nil).Heatmap(context.Background(), nil, plain{}, model.HeatmapParams{})
	require.ErrorIs(t, err, ErrUnsupportedHandle)
}

func TestOverlaySize(t *testing.T) {
	tensor := make([]float32, imageio.TensorLen)
	values := make([]float32, imageio.Width*imageio.Height)
	img := Overlay(tensor, values)
	require.Equal(t, OverlaySize, img.Bounds().Dx())
	require.Equal(t, OverlaySize, img.Bounds().Dy())
}
