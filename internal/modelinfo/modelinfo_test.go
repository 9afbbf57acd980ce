package modelinfo

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pdai-labs/pdai/internal/utils/hashutil"

	"github.com/stretchr/testify/require"
)

type notes []string

func (n *notes) Push(item string) { *n = append(*n, item) }

type stubDownloader struct {
	calls   int
	err     error
	content map[string]Entry
}

func (s *stubDownloader) Download(ctx context.Context, feedURL, assetName, dest string, chunkSize int) (int64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	data, _ := json.Marshal(s.content)
	return int64(len(data)), os.WriteFile(dest, data, 0o644)
}

func TestLookupStates(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "PAI_model_T.h5")
	infoPath := filepath.Join(dir, "model_info.json")

	r := NewRegistry(infoPath, modelPath, 4*time.Hour, nil, nil, nil)

	info, err := r.Lookup()
	require.NoError(t, err)
	require.Equal(t, StateMissing, info.State())

	require.NoError(t, os.WriteFile(modelPath, []byte("weights"), 0o644))
	info, err = r.Lookup()
	require.NoError(t, err)
	require.Equal(t, StateInvalid, info.State())

	hash, err := hashutil.SHA256File(modelPath)
	require.NoError(t, err)
	data, _ := json.Marshal(map[string]Entry{hash: {Ver: "v2.1", StoredType: "H5_SF"}})
	require.NoError(t, os.WriteFile(infoPath, data, 0o644))

	info, err = r.Lookup()
	require.NoError(t, err)
	require.Equal(t, StateOK, info.State())
	require.Equal(t, "v2.1", info.Ver)
	require.Contains(t, info.String(), "Model_hash (SHA256): "+hash)
	require.Contains(t, info.String(), "State: OK")
}

func TestRefreshOnlyWhenOutdated(t *testing.T) {
	dir := t.TempDir()
	dl := &stubDownloader{content: map[string]Entry{}}
	n := &notes{}
	r := NewRegistry(filepath.Join(dir, "model_info.json"), filepath.Join(dir, "m.h5"), 4*time.Hour, dl, n, nil)
	r.FeedURL = "http://feed"
	r.Asset = "model_info.json"

	require.True(t, r.Outdated())
	require.NoError(t, r.Refresh(context.Background()))
	require.Equal(t, 1, dl.calls)
	require.Equal(t, []string{"Model info downloaded."}, []string(*n))

	require.NoError(t, r.Refresh(context.Background()))
	require.Equal(t, 1, dl.calls)

	r.now = func() time.Time { return time.Now().Add(5 * time.Hour) }
	require.True(t, r.Outdated())
}

func TestRefreshFailure(t *testing.T) {
	dl := &stubDownloader{err: errors.New("offline")}
	n := &notes{}
	r := NewRegistry(filepath.Join(t.TempDir(), "model_info.json"), "m.h5", time.Hour, dl, n, nil)
	r.FeedURL = "http://feed"

	require.Error(t, r.Refresh(context.Background()))
	require.Equal(t, []string{"ERROR: Failed to download the model info."}, []string(*n))
	require.Contains(t, r.Describe(context.Background()), StateMissing)
}
