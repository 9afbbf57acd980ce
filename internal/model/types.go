package model

import (
	"context"
	"errors"
)

type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

const (
	ClassNormal    = 0
	ClassPneumonia = 1
)

var DefaultClasses = []string{"NORMAL", "PNEUMONIA"}

var (
	ErrModelUnavailable    = errors.New("model unavailable")
	ErrTrainingUnsupported = errors.New("model does not support training")
	ErrEmptyScores         = errors.New("classifier returned no scores")
	ErrNoExplainer         = errors.New("no heatmap explainer configured")
)

// Loader reads a classifier artifact. extensions names the custom layers or
// components the artifact may reference.
type Loader interface {
	Load(ctx context.Context, path string, extensions []string) (Classifier, error)
}

// Classifier maps a normalized image tensor to per-class probabilities.
type Classifier interface {
	Infer(ctx context.Context, image []float32) ([]float32, error)
}

// Trainer is implemented by classifiers that can be fitted in place.
// labels are one-hot rows aligned with images.
type Trainer interface {
	Fit(ctx context.Context, images, labels [][]float32, epochs int, progress func(epoch int, loss float64)) error
}

type HeatmapParams struct {
	TargetLayer string
	SecondLayer string
	Sensitivity float64
	Class       int
}

type Heatmap struct {
	Width  int
	Height int
	// Values are row-major intensities in [0, 1].
	Values []float32
	// Path is the rendered overlay, if the explainer wrote one.
	Path string
}

type Explainer interface {
	Heatmap(ctx context.Context, image []float32, handle Classifier, params HeatmapParams) (*Heatmap, error)
}

type PredictOptions struct {
	Heatmap       bool
	HeatmapParams HeatmapParams
}

type Prediction struct {
	Class         int
	Label         string
	Confidence    float64
	Scores        []float32
	LowConfidence bool
	Heatmap       *Heatmap
	// HeatmapErr is set when the heatmap was requested but could not be
	// produced. The prediction itself is still valid.
	HeatmapErr error
}
