package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pdai-labs/pdai/internal/classifier"
	"github.com/pdai-labs/pdai/internal/config"
	"github.com/pdai-labs/pdai/internal/dataset"
	"github.com/pdai-labs/pdai/internal/db"
	"github.com/pdai-labs/pdai/internal/db/drivers"
	"github.com/pdai-labs/pdai/internal/db/repository"
	"github.com/pdai-labs/pdai/internal/explain"
	"github.com/pdai-labs/pdai/internal/model"
	"github.com/pdai-labs/pdai/internal/modelinfo"
	"github.com/pdai-labs/pdai/internal/mq"
	"github.com/pdai-labs/pdai/internal/services/fetcher"
	"github.com/pdai-labs/pdai/internal/session"
	"github.com/pdai-labs/pdai/internal/worker"
	"github.com/pdai-labs/pdai/pkg/logger"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var ErrModelFormatMismatch = errors.New("model path does not match the configured model format")

type App struct {
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     *config.Config

	Logger *zap.Logger

	queueCapacity int
	progress      io.Writer
	hub           *mq.Hub
	driver        drivers.Driver
	db            *bun.DB
	downloads     *worker.DownloadWorker

	HistoryRepository repository.IPredictionRepository

	session *session.Session
}

// Option funcs used to initialize the App struct
type OptionFunc func(app *App) error

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(app *App) error {
		app.Logger = logger
		return nil
	}
}

// WithQueueCapacity sizes the notification window of the front end.
func WithQueueCapacity(capacity int) OptionFunc {
	return func(app *App) error {
		if capacity <= 0 {
			return fmt.Errorf("queue capacity must be positive, got %d", capacity)
		}
		app.queueCapacity = capacity
		return nil
	}
}

// WithProgressOutput renders download progress bars on w.
func WithProgressOutput(w io.Writer) OptionFunc {
	return func(app *App) error {
		app.progress = w
		return nil
	}
}

func WithDBInitialization() OptionFunc {
	return func(app *App) error {
		driver, err := db.NewConnection(app.ctx, app.config.HistoryDB)
		if err != nil {
			return err
		}
		if err := db.EnsureSchema(app.ctx, driver.GetDB()); err != nil {
			driver.Close()
			return err
		}

		app.driver = driver
		app.db = driver.GetDB()
		app.HistoryRepository = repository.NewPredictionRepository(app.db)
		return nil
	}
}

func WithDownloadWorker() OptionFunc {
	return func(app *App) error {
		app.downloads = worker.NewDownloadWorker(app.ctx, app.Logger)
		return nil
	}
}

// NewApp wires a session and everything it runs against. Option failures
// are logged and skipped, so a broken history database only disables hist.
func NewApp(cfg *config.Config, options ...OptionFunc) (*App, error) {
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		ctx:           ctx,
		config:        cfg,
		Logger:        log,
		cancelFunc:    cancel,
		queueCapacity: config.DefaultQueueCapacity,
	}

	for _, opt := range options {
		if err := opt(app); err != nil {
			app.Logger.Error("failed to apply option", zap.Error(err))
		}
	}

	app.session = app.newSession()

	if err := CheckModelFormat(cfg); err != nil {
		ie := app.session.HandleInternal("Func[main>>model_format]", err, true)
		return app, ie
	}

	return app, nil
}

func (app *App) newSession() *session.Session {
	cfg := app.config
	log := app.Logger

	app.hub = mq.NewHub(app.queueCapacity, log)
	queue := app.hub.Topic(config.DefaultMainLogTopic)

	fetchOpts := []fetcher.OptionFunc{fetcher.WithNotifier(queue), fetcher.WithLogger(log)}
	if app.progress != nil {
		fetchOpts = append(fetchOpts, fetcher.WithProgressOutput(app.progress))
	}
	f := fetcher.New(cfg.Feed.Timeout, fetchOpts...)
	catalog := fetcher.NewCatalog(f, cfg.Feed.URL, cfg.Feed.CatalogTTL)

	registry := modelinfo.NewRegistry(cfg.ModelInfoPath, cfg.ModelPath(), cfg.ModelInfoMaxAge, f, queue, log)
	registry.FeedURL = cfg.Feed.URL
	registry.Asset = cfg.Feed.ModelInfoAsset

	models := model.NewManager(cfg.ModelPath(), cfg.ModelExtensions, classifier.NewLoader(),
		model.WithExplainer(explain.NewSaliency(cfg.TempDir, log)),
		model.WithLowConfidence(cfg.Predict.LowConfidence),
		model.WithLogger(log),
	)

	opts := []session.OptionFunc{
		session.WithLogger(log),
		session.WithFetcher(f, catalog),
		session.WithModelInfo(registry),
	}
	if app.HistoryRepository != nil {
		opts = append(opts, session.WithHistory(app.HistoryRepository))
	}
	if app.downloads != nil {
		opts = append(opts, session.WithDownloadWorker(app.downloads))
	}

	return session.New(cfg, queue, models, dataset.NewStore(cfg.DatasetPath, log), opts...)
}

// CheckModelFormat verifies an installed model matches the configured
// storage format: a file for H5_SF, a directory for TF_dir.
func CheckModelFormat(cfg *config.Config) error {
	st, err := os.Stat(cfg.ModelPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	switch cfg.ModelFormat {
	case config.ModelFormatH5:
		if st.IsDir() {
			return fmt.Errorf("%w: %s is a directory, %s expects a file", ErrModelFormatMismatch, cfg.ModelPath(), cfg.ModelFormat)
		}
	case config.ModelFormatDir:
		if !st.IsDir() {
			return fmt.Errorf("%w: %s is a file, %s expects a directory", ErrModelFormatMismatch, cfg.ModelPath(), cfg.ModelFormat)
		}
	default:
		return fmt.Errorf("%w: %s", config.ErrInvalidModelFormat, cfg.ModelFormat)
	}
	return nil
}

func (app *App) Close() {
	app.cancelFunc()

	if app.downloads != nil {
		app.downloads.Stop()
	}
	if app.driver != nil {
		if err := app.driver.Close(); err != nil {
			app.Logger.Warn("failed to close history database", zap.Error(err))
		}
	}
	_ = app.Logger.Sync()
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) Session() *session.Session {
	return app.session
}
