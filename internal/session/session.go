// Package session holds the state of one interactive session and implements
// every command independently of how it is presented.
package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/pdai-labs/pdai/internal/argparse"
	"github.com/pdai-labs/pdai/internal/config"
	"github.com/pdai-labs/pdai/internal/dataset"
	dbmodels "github.com/pdai-labs/pdai/internal/db/models"
	"github.com/pdai-labs/pdai/internal/db/repository"
	"github.com/pdai-labs/pdai/internal/imageio"
	"github.com/pdai-labs/pdai/internal/model"
	"github.com/pdai-labs/pdai/internal/modelinfo"
	"github.com/pdai-labs/pdai/internal/mq"
	"github.com/pdai-labs/pdai/internal/services/fetcher"
	"github.com/pdai-labs/pdai/internal/utils/hashutil"
	"github.com/pdai-labs/pdai/internal/worker"
	"github.com/pdai-labs/pdai/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	LabelNormal    = 0
	LabelPneumonia = 1
	LabelUnknown   = 2
)

// Session is the explicit context every command handler runs against. The
// current image, label and debug flag belong to the dispatcher goroutine.
type Session struct {
	ID uuid.UUID

	cfg       *config.Config
	logger    *zap.Logger
	queue     *mq.Queue
	models    *model.Manager
	store     *dataset.Store
	decoder   *imageio.Decoder
	fetcher   *fetcher.Fetcher
	catalog   *fetcher.Catalog
	info      *modelinfo.Registry
	history   repository.IPredictionRepository
	downloads *worker.DownloadWorker

	image *imageio.Image
	label *int
	debug bool

	hashMu    sync.Mutex
	modelHash string
}

type OptionFunc func(s *Session)

func WithFetcher(f *fetcher.Fetcher, c *fetcher.Catalog) OptionFunc {
	return func(s *Session) {
		s.fetcher = f
		s.catalog = c
	}
}

func WithModelInfo(r *modelinfo.Registry) OptionFunc {
	return func(s *Session) {
		s.info = r
	}
}

func WithHistory(repo repository.IPredictionRepository) OptionFunc {
	return func(s *Session) {
		s.history = repo
	}
}

func WithDownloadWorker(w *worker.DownloadWorker) OptionFunc {
	return func(s *Session) {
		s.downloads = w
	}
}

func WithLogger(l *zap.Logger) OptionFunc {
	return func(s *Session) {
		s.logger = l
	}
}

func New(cfg *config.Config, queue *mq.Queue, models *model.Manager, store *dataset.Store, opts ...OptionFunc) *Session {
	s := &Session{
		ID:      uuid.New(),
		cfg:     cfg,
		logger:  zap.NewNop(),
		queue:   queue,
		models:  models,
		store:   store,
		decoder: imageio.NewDecoder(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.ID.String()))
	// A session starts with debug off; keep the shared log level in step.
	logger.SetDebug(s.debug)
	return s
}

func (s *Session) Config() *config.Config {
	return s.cfg
}

func (s *Session) Queue() *mq.Queue {
	return s.queue
}

func (s *Session) Models() *model.Manager {
	return s.models
}

func (s *Session) Image() *imageio.Image {
	return s.image
}

// Label returns the label of the current image; ok is false while pending.
func (s *Session) Label() (label int, ok bool) {
	if s.label == nil {
		return 0, false
	}
	return *s.label, true
}

func (s *Session) Debug() bool {
	return s.debug
}

// LoadImage replaces the current image. The label becomes pending.
func (s *Session) LoadImage(path string) (*imageio.Image, error) {
	img, err := s.decoder.Open(path)
	if err != nil {
		return nil, err
	}

	s.image = img
	s.label = nil
	s.logger.Debug("image loaded", zap.String("path", path), zap.String("format", img.Format))
	return img, nil
}

// SetLabel assigns a label to the current image. LabelUnknown keeps it pending.
func (s *Session) SetLabel(label int) error {
	if s.image == nil {
		return ErrNoImage
	}

	switch label {
	case LabelNormal, LabelPneumonia:
		s.label = &label
	case LabelUnknown:
		s.label = nil
	default:
		return ErrInvalidLabel
	}
	return nil
}

// ParseLabel reads an operator answer to the label prompt.
func ParseLabel(input string) (int, error) {
	label, err := strconv.Atoi(input)
	if err != nil || label < LabelNormal || label > LabelUnknown {
		return 0, ErrInvalidLabel
	}
	return label, nil
}

// Predict classifies the current image and records the result in the
// history store when one is configured.
func (s *Session) Predict(ctx context.Context, heatmap bool) (*model.Prediction, error) {
	if s.image == nil {
		return nil, ErrNoImage
	}

	pred, err := s.models.Predict(ctx, s.image.Tensor, model.PredictOptions{
		Heatmap:       heatmap,
		HeatmapParams: s.heatmapParams(),
	})
	if err != nil {
		return nil, err
	}

	if pred.HeatmapErr != nil {
		s.logger.Warn("heatmap failed", zap.Error(pred.HeatmapErr))
	}
	s.record(ctx, pred)

	return pred, nil
}

// Heatmap explains the positive class for the current image.
func (s *Session) Heatmap(ctx context.Context) (*model.Heatmap, error) {
	if s.image == nil {
		return nil, ErrNoImage
	}

	return s.models.Explain(ctx, s.image.Tensor, s.heatmapParams())
}

func (s *Session) heatmapParams() model.HeatmapParams {
	return model.HeatmapParams{
		TargetLayer: s.cfg.Predict.TargetLayer,
		SecondLayer: s.cfg.Predict.SecondLayer,
		Sensitivity: s.cfg.Predict.Sensitivity,
		Class:       model.ClassPneumonia,
	}
}

func (s *Session) record(ctx context.Context, pred *model.Prediction) {
	if s.history == nil {
		return
	}

	_, err := s.history.Create(ctx, &dbmodels.Prediction{
		SourcePath:    s.image.Path,
		Fingerprint:   Fingerprint(s.image.Tensor),
		Class:         pred.Class,
		Label:         pred.Label,
		Confidence:    pred.Confidence,
		LowConfidence: pred.LowConfidence,
		ModelHash:     s.currentModelHash(),
	})
	if err != nil {
		s.logger.Warn("failed to record prediction", zap.Error(err))
	}
}

func (s *Session) currentModelHash() string {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()

	if s.modelHash == "" {
		hash, err := hashutil.SHA256File(s.models.Path())
		if err != nil {
			return ""
		}
		s.modelHash = hash
	}
	return s.modelHash
}

func (s *Session) forgetModelHash() {
	s.hashMu.Lock()
	s.modelHash = ""
	s.hashMu.Unlock()
}

// Fingerprint identifies an image tensor in the history store.
func Fingerprint(tensor []float32) string {
	buf := make([]byte, 4*len(tensor))
	for i, v := range tensor {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return hashutil.Blake3Hash(buf)
}

// AddToDataset appends the labeled image and returns the dataset size. The
// label is consumed so the same sample is not added twice by accident.
func (s *Session) AddToDataset() (int, error) {
	if s.image == nil {
		return 0, ErrNoImage
	}
	if s.label == nil {
		return 0, ErrNoLabel
	}

	count, err := s.store.Append(s.image.Tensor, dataset.OneHot(*s.label, len(s.models.Classes())))
	if err != nil {
		return 0, err
	}

	s.label = nil
	return count, nil
}

// ResolveEpochs reads -e from args. A missing flag means the configured
// default; a malformed one also falls back to it and yields a warning.
func (s *Session) ResolveEpochs(args []string) (epochs int, warning string) {
	def := s.cfg.Train.DefaultEpochs

	res, err := argparse.Parse(args, "e", argparse.WithValue())
	switch {
	case errors.Is(err, argparse.ErrFlagNotFound), errors.Is(err, argparse.ErrEmptyArgumentList):
		return def, ""
	case errors.Is(err, argparse.ErrMissingFlagValue):
		return def, s.epochWarning(def)
	case err != nil:
		if argparse.KindOf(err) == argparse.KindUsage {
			s.logger.Error("argument parser misuse", zap.Error(err))
		}
		return def, s.epochWarning(def)
	}

	n, convErr := strconv.Atoi(res.Value)
	if convErr != nil || n <= 0 {
		return def, s.epochWarning(def)
	}
	return n, ""
}

func (s *Session) epochWarning(def int) string {
	if !s.cfg.Train.WarnOnInvalidEpochs {
		return ""
	}
	return fmt.Sprintf("WARNING: Invalid arg for -e. Using default value %d.", def)
}

type TrainResult struct {
	Epochs  int
	Samples int
	Loss    float64
	Warning string
}

// Train fits the model on the stored dataset. args may carry -e<epochs> and
// -i to skip the minimum sample check. Per-epoch progress is pushed to the
// notification queue.
func (s *Session) Train(ctx context.Context, args []string) (*TrainResult, error) {
	epochs, warning := s.ResolveEpochs(args)
	ignoreLimit := argparse.Present(args, "i")

	if !s.store.Exists() {
		return nil, ErrNoDataset
	}

	ds, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if ds.Len() <= s.cfg.Train.MinSamples && !ignoreLimit {
		return nil, &NotEnoughSamplesError{Count: ds.Len(), Min: s.cfg.Train.MinSamples}
	}

	result := &TrainResult{Epochs: epochs, Samples: ds.Len(), Warning: warning}
	err = s.models.Train(ctx, ds.Images, ds.Labels, epochs, func(epoch int, loss float64) {
		result.Loss = loss
		s.queue.Pushf("Epoch %d/%d - loss: %.4f", epoch, epochs, loss)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Session) ReloadModel(ctx context.Context) error {
	s.forgetModelHash()
	if _, err := s.models.Reload(ctx); err != nil {
		return fmt.Errorf("%w: %w", model.ErrModelUnavailable, err)
	}
	return nil
}

// ModelAsset picks the release asset for the full or the light model.
func (s *Session) ModelAsset(light bool) string {
	if light {
		return s.cfg.Feed.LightModelAsset
	}
	return s.cfg.Feed.ModelAsset
}

// CanUpdateModel reports whether the model can be replaced by a release
// asset. Only .h5 model files can.
func (s *Session) CanUpdateModel() error {
	if s.cfg.ModelFormat == config.ModelFormatDir {
		return fmt.Errorf("%w: %s is a directory", ErrUpdateUnsupportedFormat, s.cfg.ModelPath())
	}
	return nil
}

// UpdateModel downloads asset over the model file and reloads it. It blocks
// until both steps finish.
func (s *Session) UpdateModel(ctx context.Context, asset string) error {
	if err := s.CanUpdateModel(); err != nil {
		return err
	}
	if s.fetcher == nil {
		return fmt.Errorf("%w: no release feed configured", fetcher.ErrFeedUnavailable)
	}

	if _, err := s.fetcher.Download(ctx, s.cfg.Feed.URL, asset, s.cfg.ModelPath(), s.cfg.Feed.ChunkSize); err != nil {
		if errors.Is(err, fetcher.ErrAssetNotFound) && s.catalog != nil {
			s.catalog.Invalidate()
		}
		return err
	}

	s.queue.Push("Reloading the model...")
	if err := s.ReloadModel(ctx); err != nil {
		s.queue.Push(fmt.Sprintf("ERROR: Failed to load the model: %v", err))
		return err
	}
	s.queue.Push("Model loaded.")
	return nil
}

// UpdateModelAsync runs UpdateModel on the download worker. Progress and the
// outcome arrive through the notification queue only.
func (s *Session) UpdateModelAsync(asset string) error {
	if err := s.CanUpdateModel(); err != nil {
		return err
	}
	if s.downloads == nil {
		return errors.New("download worker not configured")
	}
	if s.downloads.Busy() {
		return ErrDownloadBusy
	}

	s.queue.Push("Downloading " + asset + "...")
	s.downloads.Submit(asset, func(ctx context.Context) error {
		return s.UpdateModel(ctx, asset)
	})
	return nil
}

// AvailableModels lists model assets of the latest release, cached per the
// catalog TTL. An empty result means the feed could not be read.
func (s *Session) AvailableModels(ctx context.Context) []string {
	if s.catalog == nil {
		return []string{}
	}
	return s.catalog.ModelAssets(ctx)
}

// CatalogStale reports whether AvailableModels would hit the network.
func (s *Session) CatalogStale() bool {
	return s.catalog != nil && s.catalog.Stale()
}

// RefreshModelInfo re-downloads the model registry when it is outdated.
func (s *Session) RefreshModelInfo(ctx context.Context) error {
	if s.info == nil {
		return nil
	}
	return s.info.Refresh(ctx)
}

// ModelInfo describes the installed model file.
func (s *Session) ModelInfo(ctx context.Context) string {
	if s.info == nil {
		return modelinfo.Info{Hash: modelinfo.Unknown, Ver: modelinfo.Unknown, StoredType: modelinfo.Unknown}.String()
	}
	return s.info.Describe(ctx)
}

func (s *Session) History(ctx context.Context, limit int) ([]dbmodels.Prediction, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.ListRecent(ctx, limit)
}

// HistoryLimit reads -n from args, falling back to the configured limit.
func (s *Session) HistoryLimit(args []string) int {
	res, err := argparse.Parse(args, "n", argparse.WithValue())
	if err == nil {
		if n, convErr := strconv.Atoi(res.Value); convErr == nil && n > 0 {
			return n
		}
	}
	return s.cfg.CLI.HistoryLimit
}

func (s *Session) Upload() error {
	return ErrUploadDisabled
}

// ToggleDebug flips debug mode and the shared log level with it.
func (s *Session) ToggleDebug() bool {
	s.debug = !s.debug
	logger.SetDebug(s.debug)
	s.logger.Info("debug mode changed", zap.Bool("debug", s.debug))
	return s.debug
}
