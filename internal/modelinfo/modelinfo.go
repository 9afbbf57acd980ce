// Package modelinfo identifies the installed model by looking up its
// SHA-256 digest in the model_info.json published with each release.
package modelinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pdai-labs/pdai/internal/utils/hashutil"

	"go.uber.org/zap"
)

const Unknown = "Unknown"

const (
	StateOK      = "OK"
	StateInvalid = "Model is not a valid model. (hash not found!)"
	StateMissing = "Model file is missing."
)

type Entry struct {
	Ver        string `json:"Ver"`
	StoredType string `json:"stored_type"`
}

type Info struct {
	FileExists bool
	Hash       string
	Ver        string
	StoredType string
}

func (i Info) State() string {
	switch {
	case i.Ver != Unknown:
		return StateOK
	case i.FileExists:
		return StateInvalid
	default:
		return StateMissing
	}
}

func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File_exists: %t\n", i.FileExists)
	fmt.Fprintf(&b, "Model_hash (SHA256): %s\n", i.Hash)
	fmt.Fprintf(&b, "stored_type: %s\n", i.StoredType)
	fmt.Fprintf(&b, "State: %s\n", i.State())
	fmt.Fprintf(&b, "Ver: %s", i.Ver)
	return b.String()
}

type Downloader interface {
	Download(ctx context.Context, feedURL, assetName, dest string, chunkSize int) (int64, error)
}

type Notifier interface {
	Push(item string)
}

type Registry struct {
	Path      string
	ModelPath string
	MaxAge    time.Duration
	FeedURL   string
	Asset     string
	ChunkSize int

	downloader Downloader
	notify     Notifier
	logger     *zap.Logger
	now        func() time.Time
}

func NewRegistry(path, modelPath string, maxAge time.Duration, downloader Downloader, notify Notifier, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		Path:       path,
		ModelPath:  modelPath,
		MaxAge:     maxAge,
		ChunkSize:  256,
		downloader: downloader,
		notify:     notify,
		logger:     logger,
		now:        time.Now,
	}
}

// Outdated reports whether the registry file is missing or older than MaxAge.
func (r *Registry) Outdated() bool {
	st, err := os.Stat(r.Path)
	if err != nil {
		return true
	}
	return r.now().Sub(st.ModTime()) > r.MaxAge
}

// Refresh re-downloads the registry file when it is outdated.
func (r *Registry) Refresh(ctx context.Context) error {
	if !r.Outdated() || r.downloader == nil || r.FeedURL == "" {
		return nil
	}

	if _, err := r.downloader.Download(ctx, r.FeedURL, r.Asset, r.Path, r.ChunkSize); err != nil {
		r.logger.Warn("failed to download the model info", zap.Error(err))
		r.push("ERROR: Failed to download the model info.")
		return err
	}

	r.push("Model info downloaded.")
	return nil
}

// Lookup hashes the model file and resolves it against the registry.
func (r *Registry) Lookup() (Info, error) {
	info := Info{Hash: Unknown, Ver: Unknown, StoredType: Unknown}

	if _, err := os.Stat(r.ModelPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return info, nil
		}
		return info, err
	}
	info.FileExists = true

	hash, err := hashutil.SHA256File(r.ModelPath)
	if err != nil {
		return info, err
	}
	info.Hash = hash

	entries, err := r.entries()
	if err != nil {
		return info, err
	}
	if e, ok := entries[hash]; ok {
		info.Ver = e.Ver
		info.StoredType = e.StoredType
	}

	return info, nil
}

// Describe refreshes if needed and renders the lookup result as text.
func (r *Registry) Describe(ctx context.Context) string {
	_ = r.Refresh(ctx)

	info, err := r.Lookup()
	if err != nil {
		r.logger.Warn("model info lookup failed", zap.Error(err))
	}
	return info.String()
}

func (r *Registry) entries() (map[string]Entry, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Entry{}, nil
		}
		return nil, err
	}

	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("invalid model info file: %w", err)
	}
	return entries, nil
}

func (r *Registry) push(item string) {
	if r.notify != nil {
		r.notify.Push(item)
	}
}
