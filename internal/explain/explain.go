// Package explain renders class saliency heatmaps for linear classifiers.
package explain

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/pdai-labs/pdai/internal/imageio"
	"github.com/pdai-labs/pdai/internal/model"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	OverlaySize  = 600
	heatWeight   = 0.3
	imageWeight  = 0.7
	smoothRadius = 3.0
)

var ErrUnsupportedHandle = errors.New("classifier does not expose class weights")

type weighted interface {
	ClassWeights(class int) []float32
}

type Saliency struct {
	outDir string
	logger *zap.Logger
}

// NewSaliency returns an explainer that writes overlays into outDir. An empty
// outDir skips rendering.
func NewSaliency(outDir string, logger *zap.Logger) *Saliency {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saliency{outDir: outDir, logger: logger}
}

func (s *Saliency) Heatmap(ctx context.Context, tensor []float32, handle model.Classifier, params model.HeatmapParams) (*model.Heatmap, error) {
	w, ok := handle.(weighted)
	if !ok {
		return nil, ErrUnsupportedHandle
	}

	weights := w.ClassWeights(params.Class)
	if len(weights) != len(tensor) || len(tensor) != imageio.TensorLen {
		return nil, fmt.Errorf("heatmap needs %d inputs, got %d weights and %d values",
			imageio.TensorLen, len(weights), len(tensor))
	}

	values := saliency(tensor, weights, params.Sensitivity)
	values = smooth(values)

	hm := &model.Heatmap{Width: imageio.Width, Height: imageio.Height, Values: values}

	s.logger.Debug("heatmap computed",
		zap.String("target_layer", params.TargetLayer),
		zap.String("second_layer", params.SecondLayer),
		zap.Float64("sensitivity", params.Sensitivity),
	)

	if s.outDir == "" {
		return hm, nil
	}

	if err := os.MkdirAll(s.outDir, os.ModePerm); err != nil {
		return nil, err
	}
	path := filepath.Join(s.outDir, "heatmap-"+uuid.NewString()+".png")
	if err := imgio.Save(path, Overlay(tensor, values), imgio.PNGEncoder()); err != nil {
		return nil, fmt.Errorf("failed to save heatmap: %w", err)
	}
	hm.Path = path

	return hm, nil
}

// saliency sums |w*x| over the channels of each pixel, scales the result to
// [0, 1] and raises it to sensitivity.
func saliency(tensor, weights []float32, sensitivity float64) []float32 {
	if sensitivity <= 0 {
		sensitivity = 1
	}

	out := make([]float32, imageio.Width*imageio.Height)
	var peak float32
	for p := range out {
		var sum float32
		for c := 0; c < imageio.Channels; c++ {
			i := p*imageio.Channels + c
			sum += float32(math.Abs(float64(weights[i] * tensor[i])))
		}
		out[p] = sum
		peak = max(peak, sum)
	}

	if peak == 0 {
		return out
	}
	for i, v := range out {
		out[i] = float32(math.Pow(float64(v/peak), sensitivity))
	}
	return out
}

func smooth(values []float32) []float32 {
	gray := image.NewGray(image.Rect(0, 0, imageio.Width, imageio.Height))
	for i, v := range values {
		gray.Pix[i] = uint8(v * 255)
	}

	blurred := blur.Gaussian(gray, smoothRadius)

	out := make([]float32, len(values))
	for y := 0; y < imageio.Height; y++ {
		for x := 0; x < imageio.Width; x++ {
			out[y*imageio.Width+x] = float32(blurred.Pix[blurred.PixOffset(x, y)]) / 255
		}
	}
	return out
}

// Overlay blends a red heat layer over the image and scales the result to
// OverlaySize x OverlaySize.
func Overlay(tensor, values []float32) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, imageio.Width, imageio.Height))
	for p, heat := range values {
		i := p * imageio.Channels
		r := imageWeight*tensor[i] + heatWeight*heat
		g := imageWeight * tensor[i+1]
		b := imageWeight*tensor[i+2] + heatWeight*(1-heat)
		img.Set(p%imageio.Width, p/imageio.Width, color.RGBA{
			R: toByte(r),
			G: toByte(g),
			B: toByte(b),
			A: 255,
		})
	}

	return transform.Resize(img, OverlaySize, OverlaySize, transform.Linear)
}

func toByte(v float32) uint8 {
	return uint8(min(max(v, 0), 1) * 255)
}
