// Package classifier provides a softmax linear classifier stored as a
// msgpack artifact. It stands in for the image model wherever a real network
// is not available.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/pdai-labs/pdai/internal/model"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	Kind          = "linear-softmax"
	ArtifactName  = "model.msgpack"
	DefaultRate   = 0.01
	formatVersion = 1
)

var (
	ErrUnknownKind      = errors.New("unknown model kind")
	ErrUnknownExtension = errors.New("model requires an unregistered extension")
	ErrShapeMismatch    = errors.New("model shape mismatch")
)

type Artifact struct {
	Kind         string      `msgpack:"kind"`
	Version      int         `msgpack:"version"`
	Extensions   []string    `msgpack:"extensions"`
	Classes      []string    `msgpack:"classes"`
	Inputs       int         `msgpack:"inputs"`
	Weights      [][]float32 `msgpack:"weights"`
	Bias         []float32   `msgpack:"bias"`
	LearningRate float64     `msgpack:"learning_rate"`
}

type Linear struct {
	artifact Artifact
}

// New returns an untrained classifier with zero weights.
func New(inputs int, classes, extensions []string) *Linear {
	weights := make([][]float32, len(classes))
	for i := range weights {
		weights[i] = make([]float32, inputs)
	}

	return &Linear{artifact: Artifact{
		Kind:         Kind,
		Version:      formatVersion,
		Extensions:   extensions,
		Classes:      classes,
		Inputs:       inputs,
		Weights:      weights,
		Bias:         make([]float32, len(classes)),
		LearningRate: DefaultRate,
	}}
}

func (l *Linear) Classes() []string {
	return l.artifact.Classes
}

// ClassWeights exposes the weight row of class for saliency maps.
func (l *Linear) ClassWeights(class int) []float32 {
	if class < 0 || class >= len(l.artifact.Weights) {
		return nil
	}
	return l.artifact.Weights[class]
}

func (l *Linear) Infer(ctx context.Context, image []float32) ([]float32, error) {
	if len(image) != l.artifact.Inputs {
		return nil, fmt.Errorf("%w: got %d inputs, want %d", ErrShapeMismatch, len(image), l.artifact.Inputs)
	}
	if len(l.artifact.Weights) == 0 {
		return nil, fmt.Errorf("%w: model has no classes", ErrShapeMismatch)
	}
	return softmax(l.logits(image)), nil
}

// Fit runs per-sample gradient descent on the cross-entropy loss.
func (l *Linear) Fit(ctx context.Context, images, labels [][]float32, epochs int, progress func(epoch int, loss float64)) error {
	if len(images) != len(labels) {
		return fmt.Errorf("%w: %d images, %d labels", ErrShapeMismatch, len(images), len(labels))
	}

	rate := float32(l.artifact.LearningRate)
	for epoch := 1; epoch <= epochs; epoch++ {
		var total float64
		for i, x := range images {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(x) != l.artifact.Inputs || len(labels[i]) != len(l.artifact.Classes) {
				return fmt.Errorf("%w: sample %d", ErrShapeMismatch, i)
			}

			probs := softmax(l.logits(x))
			for c, p := range probs {
				grad := p - labels[i][c]
				if labels[i][c] > 0 {
					total -= float64(labels[i][c]) * math.Log(math.Max(float64(p), 1e-12))
				}
				w := l.artifact.Weights[c]
				for j, v := range x {
					w[j] -= rate * grad * v
				}
				l.artifact.Bias[c] -= rate * grad
			}
		}

		if progress != nil && len(images) > 0 {
			progress(epoch, total/float64(len(images)))
		}
	}

	return nil
}

func (l *Linear) logits(x []float32) []float32 {
	out := make([]float32, len(l.artifact.Weights))
	for c, w := range l.artifact.Weights {
		sum := l.artifact.Bias[c]
		for j, v := range x {
			sum += w[j] * v
		}
		out[c] = sum
	}
	return out
}

func softmax(logits []float32) []float32 {
	maxLogit := logits[0]
	for _, v := range logits {
		maxLogit = max(maxLogit, v)
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Save writes the artifact to path, creating parent directories.
func (l *Linear) Save(path string) error {
	data, err := msgpack.Marshal(&l.artifact)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type Loader struct{}

func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the artifact at path. A directory is treated as a saved-model
// folder holding ArtifactName.
func (Loader) Load(ctx context.Context, path string, extensions []string) (model.Classifier, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		path = filepath.Join(path, ArtifactName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var artifact Artifact
	if err := msgpack.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", path, err)
	}

	if artifact.Kind != Kind {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, artifact.Kind)
	}
	for _, ext := range artifact.Extensions {
		if !slices.Contains(extensions, ext) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownExtension, ext)
		}
	}
	if len(artifact.Classes) == 0 || artifact.Inputs <= 0 {
		return nil, fmt.Errorf("%w: %d classes, %d inputs", ErrShapeMismatch, len(artifact.Classes), artifact.Inputs)
	}
	if len(artifact.Weights) != len(artifact.Classes) || len(artifact.Bias) != len(artifact.Classes) {
		return nil, fmt.Errorf("%w: %d classes, %d weight rows, %d biases",
			ErrShapeMismatch, len(artifact.Classes), len(artifact.Weights), len(artifact.Bias))
	}
	for _, row := range artifact.Weights {
		if len(row) != artifact.Inputs {
			return nil, fmt.Errorf("%w: weight row has %d inputs, want %d", ErrShapeMismatch, len(row), artifact.Inputs)
		}
	}
	if artifact.LearningRate <= 0 {
		artifact.LearningRate = DefaultRate
	}

	return &Linear{artifact: artifact}, nil
}
