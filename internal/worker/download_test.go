package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadWorkerSerializesJobs(t *testing.T) {
	w := NewDownloadWorker(context.Background(), nil)
	defer w.Stop()

	var mu sync.Mutex
	var order []int
	active := 0
	overlap := false

	for i := 0; i < 5; i++ {
		i := i
		w.Submit("job", func(ctx context.Context) error {
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			order = append(order, i)
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	w.Submit("last", func(ctx context.Context) error {
		close(done)
		return errors.New("ignored")
	})
	<-done
	w.Stop()

	require.False(t, overlap)
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
	require.False(t, w.Busy())
}

func TestDownloadWorkerPassesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewDownloadWorker(ctx, nil)
	defer w.Stop()

	got := make(chan error, 1)
	w.Submit("ctx", func(ctx context.Context) error {
		got <- ctx.Err()
		return ctx.Err()
	})
	require.ErrorIs(t, <-got, context.Canceled)
}
