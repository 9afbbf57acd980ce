package model

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// loadCall is one load attempt. Callers that arrive while it is running wait
// on done and share its outcome.
type loadCall struct {
	done   chan struct{}
	handle Classifier
	err    error

	// abandoned is set when the caller that started the load gave up on it.
	// Waiters with a live context start a fresh load instead of failing.
	abandoned bool
}

// Manager owns the single classifier handle of a session.
type Manager struct {
	path          string
	extensions    []string
	loader        Loader
	explainer     Explainer
	classes       []string
	lowConfidence float64
	logger        *zap.Logger

	mu       sync.Mutex
	state    State
	handle   Classifier
	reason   error
	inflight *loadCall

	// use serializes training against inference on the same handle.
	use sync.RWMutex
}

type OptionFunc func(m *Manager)

func WithExplainer(e Explainer) OptionFunc {
	return func(m *Manager) {
		m.explainer = e
	}
}

func WithClasses(classes []string) OptionFunc {
	return func(m *Manager) {
		m.classes = classes
	}
}

func WithLowConfidence(threshold float64) OptionFunc {
	return func(m *Manager) {
		m.lowConfidence = threshold
	}
}

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(path string, extensions []string, loader Loader, opts ...OptionFunc) *Manager {
	m := &Manager{
		path:          path,
		extensions:    extensions,
		loader:        loader,
		classes:       DefaultClasses,
		lowConfidence: 0.82,
		logger:        zap.NewNop(),
		state:         StateUnloaded,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Classes() []string {
	return m.classes
}

// State returns the current lifecycle state and, when Failed, the reason.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.reason
}

// EnsureLoaded returns the Ready handle, loading it first when the manager is
// Unloaded or Failed. Concurrent callers share a single load.
func (m *Manager) EnsureLoaded(ctx context.Context) (Classifier, error) {
	for {
		m.mu.Lock()
		if m.state == StateReady {
			h := m.handle
			m.mu.Unlock()
			return h, nil
		}

		if call := m.inflight; call != nil {
			m.mu.Unlock()
			h, err := m.wait(ctx, call)
			if call.abandoned && ctx.Err() == nil {
				continue
			}
			return h, err
		}

		call := m.begin()
		m.mu.Unlock()

		m.load(ctx, call)
		return call.handle, call.err
	}
}

// Reload discards the current handle and loads the artifact again. A load
// already in flight is allowed to settle first.
func (m *Manager) Reload(ctx context.Context) (Classifier, error) {
	for {
		m.mu.Lock()
		call := m.inflight
		if call == nil {
			break
		}
		m.mu.Unlock()

		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := m.begin()
	m.mu.Unlock()

	m.logger.Info("reloading model", zap.String("path", m.path))
	m.load(ctx, call)
	return call.handle, call.err
}

// begin must be called with mu held.
func (m *Manager) begin() *loadCall {
	call := &loadCall{done: make(chan struct{})}
	m.inflight = call
	m.state = StateLoading
	m.handle = nil
	m.reason = nil
	return call
}

func (m *Manager) load(ctx context.Context, call *loadCall) {
	handle, err := m.loadArtifact(ctx)

	m.mu.Lock()
	if err != nil && ctx.Err() != nil {
		// The caller went away; this says nothing about the artifact.
		m.state = StateUnloaded
		call.err = err
		call.abandoned = true
		m.logger.Info("model load abandoned", zap.String("path", m.path), zap.Error(err))
	} else if err != nil {
		m.state = StateFailed
		m.reason = err
		call.err = err
		m.logger.Warn("failed to load model", zap.String("path", m.path), zap.Error(err))
	} else {
		m.state = StateReady
		m.handle = handle
		call.handle = handle
		m.logger.Info("model loaded", zap.String("path", m.path))
	}
	m.inflight = nil
	m.mu.Unlock()

	close(call.done)
}

// loadArtifact calls the loader, turning a panic into a load failure so the
// in-flight call always settles.
func (m *Manager) loadArtifact(ctx context.Context) (handle Classifier, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("loader panicked: %v", p)
		}
	}()
	return m.loader.Load(ctx, m.path, m.extensions)
}

func (m *Manager) wait(ctx context.Context, call *loadCall) (Classifier, error) {
	select {
	case <-call.done:
		return call.handle, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Predict classifies image. Loading failures are reported as
// ErrModelUnavailable wrapping the cause.
func (m *Manager) Predict(ctx context.Context, image []float32, opts PredictOptions) (*Prediction, error) {
	handle, err := m.EnsureLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	scores, err := m.infer(ctx, handle, image)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(scores) == 0 {
		return nil, ErrEmptyScores
	}

	class := argmax(scores)
	pred := &Prediction{
		Class:      class,
		Label:      m.label(class),
		Confidence: float64(scores[class]),
		Scores:     scores,
	}
	pred.LowConfidence = pred.Confidence < m.lowConfidence

	if opts.Heatmap && class == ClassPneumonia && m.explainer != nil {
		params := opts.HeatmapParams
		params.Class = class

		pred.Heatmap, pred.HeatmapErr = m.heatmap(ctx, image, handle, params)
	}

	return pred, nil
}

func (m *Manager) infer(ctx context.Context, handle Classifier, image []float32) ([]float32, error) {
	m.use.RLock()
	defer m.use.RUnlock()
	return handle.Infer(ctx, image)
}

func (m *Manager) heatmap(ctx context.Context, image []float32, handle Classifier, params HeatmapParams) (*Heatmap, error) {
	m.use.RLock()
	defer m.use.RUnlock()
	return m.explainer.Heatmap(ctx, image, handle, params)
}

// Explain produces a heatmap for class on image without classifying it again.
func (m *Manager) Explain(ctx context.Context, image []float32, params HeatmapParams) (*Heatmap, error) {
	if m.explainer == nil {
		return nil, ErrNoExplainer
	}

	handle, err := m.EnsureLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	return m.heatmap(ctx, image, handle, params)
}

// Train fits the loaded handle on the given samples. Predictions issued
// during training wait for it to finish.
func (m *Manager) Train(ctx context.Context, images, labels [][]float32, epochs int, progress func(epoch int, loss float64)) error {
	handle, err := m.EnsureLoaded(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	trainer, ok := handle.(Trainer)
	if !ok {
		return ErrTrainingUnsupported
	}

	m.use.Lock()
	defer m.use.Unlock()

	m.logger.Info("training model", zap.Int("samples", len(images)), zap.Int("epochs", epochs))
	return trainer.Fit(ctx, images, labels, epochs, progress)
}

func (m *Manager) label(class int) string {
	if class < len(m.classes) {
		return m.classes[class]
	}
	return fmt.Sprintf("class %d", class)
}

func argmax(scores []float32) int {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}
