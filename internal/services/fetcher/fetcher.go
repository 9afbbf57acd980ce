package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"go.uber.org/zap"
)

const partSuffix = ".part"

// Fetcher talks to a release feed: one JSON document listing the assets of
// the latest release, each downloadable by URL. Failed requests are not
// retried.
type Fetcher struct {
	client   *http.Client
	notify   Notifier
	logger   *zap.Logger
	progress io.Writer
}

type OptionFunc func(f *Fetcher)

func WithHTTPClient(client *http.Client) OptionFunc {
	return func(f *Fetcher) {
		f.client = client
	}
}

func WithNotifier(n Notifier) OptionFunc {
	return func(f *Fetcher) {
		f.notify = n
	}
}

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithProgressOutput renders a progress bar per download on w.
func WithProgressOutput(w io.Writer) OptionFunc {
	return func(f *Fetcher) {
		f.progress = w
	}
}

func New(timeout time.Duration, opts ...OptionFunc) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				IdleConnTimeout:       60 * time.Second,
			},
		},
		notify: nopNotifier{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Release fetches and decodes the feed document.
func (f *Fetcher) Release(ctx context.Context, feedURL string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("%w: invalid payload: %w", ErrFeedUnavailable, err)
	}

	return &release, nil
}

// ListAssets returns the asset names of the latest release. When the feed
// cannot be read the failure is reported through the notifier and the result
// is empty, which callers must read as "unknown".
func (f *Fetcher) ListAssets(ctx context.Context, feedURL string) []string {
	release, err := f.Release(ctx, feedURL)
	if err != nil {
		f.logger.Warn("failed to list release assets", zap.Error(err))
		f.notify.Push(fmt.Sprintf("Failed to get the release files: %v", err))
		return []string{}
	}

	names := make([]string, 0, len(release.Assets))
	for _, a := range release.Assets {
		names = append(names, a.Name)
	}
	return names
}

// Download saves assetName from the latest release to dest and returns the
// number of bytes written. The body is streamed to dest+".part" and only
// renamed onto dest once its size matches the declared length.
func (f *Fetcher) Download(ctx context.Context, feedURL, assetName, dest string, chunkSize int) (int64, error) {
	release, err := f.Release(ctx, feedURL)
	if err != nil {
		f.notify.Push(fmt.Sprintf("Failed to reach the release feed: %v", err))
		return 0, err
	}
	f.notify.Push("Latest release: " + release.Name)

	asset, ok := release.Asset(assetName)
	if !ok {
		f.notify.Push(fmt.Sprintf("No file named '%s' in the latest release.", assetName))
		return 0, fmt.Errorf("%w: %s", ErrAssetNotFound, assetName)
	}

	written, err := f.fetch(ctx, asset, dest, chunkSize)
	if err != nil {
		f.logger.Error("download failed", zap.String("asset", asset.Name), zap.Error(err))
		f.notify.Push(fmt.Sprintf("Download of '%s' failed: %v", asset.Name, err))
		return written, err
	}

	f.notify.Push(fmt.Sprintf("File '%s' downloaded successfully.", filepath.Base(dest)))
	return written, nil
}

func (f *Fetcher) fetch(ctx context.Context, asset Asset, dest string, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.DownloadURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	total := resp.ContentLength
	if total < 0 {
		total = asset.Size
	}
	if total <= 0 {
		f.logger.Warn("download length unknown, size will not be verified", zap.String("asset", asset.Name))
		f.notify.Push("Warning: file size unknown, the download cannot be verified.")
	}

	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	partPath := PartialPath(dest)
	file, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}

	var reader io.Reader = resp.Body
	var progress *mpb.Progress
	var bar *mpb.Bar
	if f.progress != nil {
		progress = mpb.NewWithContext(ctx,
			mpb.WithOutput(f.progress),
			mpb.WithWidth(60),
			mpb.WithRefreshRate(180*time.Millisecond),
		)
		bar = progress.AddBar(max(total, 0),
			mpb.PrependDecorators(
				decor.Name(asset.Name, decor.WC{W: 30, C: decor.DidentRight}),
				decor.CountersKibiByte("% .2f / % .2f"),
			),
			mpb.AppendDecorators(
				decor.EwmaETA(decor.ET_STYLE_GO, 90),
				decor.Name(" ] "),
				decor.EwmaSpeed(decor.UnitKiB, "% .2f", 60),
			),
		)
		reader = bar.ProxyReader(resp.Body)
	}

	written, copyErr := f.copyChunks(file, reader, total, chunkSize)
	closeErr := file.Close()
	if progress != nil {
		if !bar.Completed() {
			bar.Abort(false)
		}
		progress.Wait()
	}

	if copyErr != nil {
		return written, copyErr
	}
	if closeErr != nil {
		return written, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if total > 0 && written != total {
		return written, &SizeMismatchError{Expected: total, Got: written, Partial: partPath}
	}

	if err := os.Rename(partPath, dest); err != nil {
		return written, fmt.Errorf("failed to move file: %w", err)
	}

	return written, nil
}

// copyChunks streams r into w chunkSize bytes at a time, reporting every 10%
// of total through the notifier.
func (f *Fetcher) copyChunks(w io.Writer, r io.Reader, total int64, chunkSize int) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	nextStep := int64(10)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("write failed: %w", werr)
			}
			written += int64(n)

			if total > 0 {
				for nextStep <= 100 && written*100 >= total*nextStep {
					f.notify.Push(fmt.Sprintf("Downloading... %d%%", nextStep))
					nextStep += 10
				}
			}
		}

		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("%w: read failed: %w", ErrDownloadFailed, err)
		}
	}
}

// PartialPath is where Download leaves an unverified body for dest.
func PartialPath(dest string) string {
	return dest + partSuffix
}
