package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	scores []float32
	fitted int
}

func (f *fakeClassifier) Infer(ctx context.Context, image []float32) ([]float32, error) {
	return f.scores, nil
}

func (f *fakeClassifier) Fit(ctx context.Context, images, labels [][]float32, epochs int, progress func(int, float64)) error {
	f.fitted += epochs
	return nil
}

type fakeLoader struct {
	calls   atomic.Int32
	release chan struct{}
	handle  Classifier
	err     error
}

func (l *fakeLoader) Load(ctx context.Context, path string, extensions []string) (Classifier, error) {
	l.calls.Add(1)
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.handle, nil
}

type fakeExplainer struct {
	calls int
}

func (e *fakeExplainer) Heatmap(ctx context.Context, image []float32, handle Classifier, params HeatmapParams) (*Heatmap, error) {
	e.calls++
	return &Heatmap{Width: 1, Height: 1, Values: []float32{float32(params.Class)}}, nil
}

func TestEnsureLoadedSingleFlight(t *testing.T) {
	loader := &fakeLoader{
		release: make(chan struct{}),
		handle:  &fakeClassifier{scores: []float32{0.1, 0.9}},
	}
	m := NewManager("model.h5", nil, loader)

	var wg sync.WaitGroup
	results := make([]Classifier, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.EnsureLoaded(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool {
		state, _ := m.State()
		return state == StateLoading
	}, time.Second, time.Millisecond)
	// give the second caller time to join the in-flight load
	time.Sleep(20 * time.Millisecond)
	close(loader.release)
	wg.Wait()

	require.Equal(t, int32(1), loader.calls.Load())
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Same(t, results[0], results[1])

	state, reason := m.State()
	require.Equal(t, StateReady, state)
	require.NoError(t, reason)
}

func TestEnsureLoadedReadyDoesNoIO(t *testing.T) {
	loader := &fakeLoader{handle: &fakeClassifier{scores: []float32{1, 0}}}
	m := NewManager("model.h5", nil, loader)

	_, err := m.EnsureLoaded(context.Background())
	require.NoError(t, err)
	_, err = m.EnsureLoaded(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), loader.calls.Load())
}

func TestFailedLoadRetriesOnNextCall(t *testing.T) {
	loader := &fakeLoader{err: errors.New("file missing")}
	m := NewManager("model.h5", nil, loader)

	_, err := m.Predict(context.Background(), nil, PredictOptions{})
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.ErrorContains(t, err, "file missing")

	state, reason := m.State()
	require.Equal(t, StateFailed, state)
	require.EqualError(t, reason, "file missing")

	loader.err = nil
	loader.handle = &fakeClassifier{scores: []float32{0.6, 0.4}}
	_, err = m.EnsureLoaded(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), loader.calls.Load())
}

func TestReloadReplacesHandle(t *testing.T) {
	first := &fakeClassifier{scores: []float32{1, 0}}
	loader := &fakeLoader{handle: first}
	m := NewManager("model.h5", nil, loader)

	h, err := m.EnsureLoaded(context.Background())
	require.NoError(t, err)
	require.Same(t, first, h)

	second := &fakeClassifier{scores: []float32{0, 1}}
	loader.handle = second
	h, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.Same(t, second, h)
	require.Equal(t, int32(2), loader.calls.Load())
}

func TestWaiterHonoursContext(t *testing.T) {
	loader := &fakeLoader{release: make(chan struct{}), handle: &fakeClassifier{}}
	m := NewManager("model.h5", nil, loader)

	go func() { _, _ = m.EnsureLoaded(context.Background()) }()
	require.Eventually(t, func() bool {
		state, _ := m.State()
		return state == StateLoading
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.EnsureLoaded(ctx)
	require.ErrorIs(t, err, context.Canceled)

	close(loader.release)
}

func TestReloadWaitsForInflightLoad(t *testing.T) {
	first := &fakeClassifier{scores: []float32{1, 0}}
	loader := &fakeLoader{release: make(chan struct{}), handle: first}
	m := NewManager("model.h5", nil, loader)

	loaded := make(chan error, 1)
	go func() {
		_, err := m.EnsureLoaded(context.Background())
		loaded <- err
	}()
	require.Eventually(t, func() bool {
		state, _ := m.State()
		return state == StateLoading
	}, time.Second, time.Millisecond)

	reloaded := make(chan Classifier, 1)
	go func() {
		h, err := m.Reload(context.Background())
		if err != nil {
			h = nil
		}
		reloaded <- h
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), loader.calls.Load())

	close(loader.release)
	require.NoError(t, <-loaded)
	require.Same(t, first, <-reloaded)
	require.Equal(t, int32(2), loader.calls.Load())

	state, _ := m.State()
	require.Equal(t, StateReady, state)
}

func TestCancelledLeaderDoesNotFailWaiters(t *testing.T) {
	handle := &fakeClassifier{scores: []float32{0.5, 0.5}}
	loader := &fakeLoader{release: make(chan struct{}), handle: handle}
	m := NewManager("model.h5", nil, loader)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := m.EnsureLoaded(leaderCtx)
		leader <- err
	}()
	require.Eventually(t, func() bool {
		state, _ := m.State()
		return state == StateLoading
	}, time.Second, time.Millisecond)

	type outcome struct {
		h   Classifier
		err error
	}
	waiter := make(chan outcome, 1)
	go func() {
		h, err := m.EnsureLoaded(context.Background())
		waiter <- outcome{h, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leader, context.Canceled)

	require.Eventually(t, func() bool {
		return loader.calls.Load() == 2
	}, time.Second, time.Millisecond)
	close(loader.release)

	got := <-waiter
	require.NoError(t, got.err)
	require.Same(t, handle, got.h)

	state, reason := m.State()
	require.Equal(t, StateReady, state)
	require.NoError(t, reason)
}

type panickingLoader struct{}

func (panickingLoader) Load(ctx context.Context, path string, extensions []string) (Classifier, error) {
	panic("corrupt artifact")
}

func TestLoaderPanicSettlesLoad(t *testing.T) {
	m := NewManager("model.h5", nil, panickingLoader{})

	_, err := m.EnsureLoaded(context.Background())
	require.ErrorContains(t, err, "corrupt artifact")

	state, _ := m.State()
	require.Equal(t, StateFailed, state)

	_, err = m.Predict(context.Background(), nil, PredictOptions{})
	require.ErrorIs(t, err, ErrModelUnavailable)
}

type panickingClassifier struct{}

func (panickingClassifier) Infer(ctx context.Context, image []float32) ([]float32, error) {
	panic("index out of range")
}

func (panickingClassifier) Fit(ctx context.Context, images, labels [][]float32, epochs int, progress func(int, float64)) error {
	return nil
}

func TestInferPanicReleasesHandle(t *testing.T) {
	m := NewManager("model.h5", nil, &fakeLoader{handle: panickingClassifier{}})

	require.Panics(t, func() {
		_, _ = m.Predict(context.Background(), nil, PredictOptions{})
	})

	done := make(chan error, 1)
	go func() {
		done <- m.Train(context.Background(), nil, nil, 1, nil)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("training blocked after a panicking prediction")
	}
}

func TestPredictLowConfidenceStillClassifies(t *testing.T) {
	loader := &fakeLoader{handle: &fakeClassifier{scores: []float32{0.25, 0.75}}}
	explainer := &fakeExplainer{}
	m := NewManager("model.h5", nil, loader, WithExplainer(explainer))

	pred, err := m.Predict(context.Background(), nil, PredictOptions{})
	require.NoError(t, err)
	require.Equal(t, ClassPneumonia, pred.Class)
	require.Equal(t, "PNEUMONIA", pred.Label)
	require.InDelta(t, 0.75, pred.Confidence, 1e-6)
	require.True(t, pred.LowConfidence)
	require.Nil(t, pred.Heatmap)
	require.Zero(t, explainer.calls)
}

func TestPredictHeatmapOnlyForPositiveClass(t *testing.T) {
	handle := &fakeClassifier{scores: []float32{0.9, 0.1}}
	explainer := &fakeExplainer{}
	m := NewManager("model.h5", nil, &fakeLoader{handle: handle}, WithExplainer(explainer))

	pred, err := m.Predict(context.Background(), nil, PredictOptions{Heatmap: true})
	require.NoError(t, err)
	require.Equal(t, ClassNormal, pred.Class)
	require.False(t, pred.LowConfidence)
	require.Nil(t, pred.Heatmap)

	handle.scores = []float32{0.05, 0.95}
	pred, err = m.Predict(context.Background(), nil, PredictOptions{Heatmap: true})
	require.NoError(t, err)
	require.NotNil(t, pred.Heatmap)
	require.Equal(t, 1, explainer.calls)
}

func TestTrain(t *testing.T) {
	handle := &fakeClassifier{scores: []float32{1, 0}}
	m := NewManager("model.h5", nil, &fakeLoader{handle: handle})

	require.NoError(t, m.Train(context.Background(), nil, nil, 3, nil))
	require.Equal(t, 3, handle.fitted)
}

type inferOnly struct{}

func (inferOnly) Infer(ctx context.Context, image []float32) ([]float32, error) {
	return []float32{1}, nil
}

func TestTrainUnsupported(t *testing.T) {
	m := NewManager("model.h5", nil, &fakeLoader{handle: inferOnly{}})
	require.ErrorIs(t, m.Train(context.Background(), nil, nil, 1, nil), ErrTrainingUnsupported)
}

func TestExplain(t *testing.T) {
	explainer := &fakeExplainer{}
	m := NewManager("model.h5", nil, &fakeLoader{handle: &fakeClassifier{scores: []float32{0, 1}}}, WithExplainer(explainer))

	hm, err := m.Explain(context.Background(), nil, HeatmapParams{Class: ClassPneumonia})
	require.NoError(t, err)
	require.Equal(t, []float32{1}, hm.Values)

	_, err = NewManager("model.h5", nil, &fakeLoader{}).Explain(context.Background(), nil, HeatmapParams{})
	require.ErrorIs(t, err, ErrNoExplainer)
}
