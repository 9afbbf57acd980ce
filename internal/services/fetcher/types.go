package fetcher

import (
	"errors"
	"fmt"
)

var (
	ErrFeedUnavailable = errors.New("release feed unavailable")
	ErrAssetNotFound   = errors.New("asset not found in release")
	ErrDownloadFailed  = errors.New("download failed")
	ErrSizeMismatch    = errors.New("download size mismatch")
)

type Asset struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"browser_download_url"`
}

type Release struct {
	Name    string  `json:"name"`
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

func (r *Release) Asset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// SizeMismatchError reports a body that ended before (or after) the declared
// length. The partial file is left at Partial.
type SizeMismatchError struct {
	Expected int64
	Got      int64
	Partial  string
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("download size mismatch: expected %d bytes, got %d", e.Expected, e.Got)
}

func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

// Notifier receives human-readable progress and failure messages.
type Notifier interface {
	Push(item string)
}

type nopNotifier struct{}

func (nopNotifier) Push(string) {}
