// Package dataset persists labeled samples as a single msgpack blob.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pdai-labs/pdai/internal/utils/hashutil"

	"github.com/gofrs/flock"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const envelopeVersion = 1

var (
	ErrCorrupt      = errors.New("dataset file is corrupt")
	ErrShape        = errors.New("sample shape does not match dataset")
	ErrLockNotTaken = errors.New("dataset is locked by another process")
)

type Dataset struct {
	Images [][]float32 `msgpack:"images"`
	Labels [][]float32 `msgpack:"labels"`
}

func (d *Dataset) Len() int {
	return len(d.Images)
}

type envelope struct {
	Version  int    `msgpack:"version"`
	Checksum string `msgpack:"checksum"`
	Payload  []byte `msgpack:"payload"`
}

// Store appends samples to the dataset file at path. Every append rewrites
// the whole file under an advisory lock held on path+".lock".
type Store struct {
	path   string
	mu     sync.Mutex
	lock   *flock.Flock
	logger *zap.Logger
}

func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}
}

func (s *Store) Path() string {
	return s.path
}

// Exists reports whether anything has been saved yet.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load returns the stored dataset, or an empty one if nothing was saved yet.
func (s *Store) Load() (*Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(false); err != nil {
		return nil, err
	}
	defer s.lock.Unlock() //nolint:errcheck

	return s.read()
}

func (s *Store) Count() (int, error) {
	ds, err := s.Load()
	if err != nil {
		return 0, err
	}
	return ds.Len(), nil
}

// Append adds one sample and returns the new sample count.
func (s *Store) Append(image, label []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(true); err != nil {
		return 0, err
	}
	defer s.lock.Unlock() //nolint:errcheck

	ds, err := s.read()
	if err != nil {
		return 0, err
	}

	if ds.Len() > 0 && (len(ds.Images[0]) != len(image) || len(ds.Labels[0]) != len(label)) {
		return 0, fmt.Errorf("%w: image %d/%d, label %d/%d", ErrShape,
			len(image), len(ds.Images[0]), len(label), len(ds.Labels[0]))
	}

	ds.Images = append(ds.Images, image)
	ds.Labels = append(ds.Labels, label)

	if err := s.write(ds); err != nil {
		return 0, err
	}

	s.logger.Debug("sample appended", zap.String("path", s.path), zap.Int("count", ds.Len()))
	return ds.Len(), nil
}

func (s *Store) acquire(exclusive bool) error {
	if err := os.MkdirAll(filepath.Dir(s.path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}

	if exclusive {
		if err := s.lock.Lock(); err != nil {
			return fmt.Errorf("%w: %w", ErrLockNotTaken, err)
		}
		return nil
	}

	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("%w: %w", ErrLockNotTaken, err)
	}
	return nil
}

func (s *Store) read() (*Dataset, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Dataset{}, nil
		}
		return nil, err
	}

	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if env.Checksum != hashutil.Blake3Hash(env.Payload) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var ds Dataset
	if err := msgpack.Unmarshal(env.Payload, &ds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(ds.Images) != len(ds.Labels) {
		return nil, fmt.Errorf("%w: %d images, %d labels", ErrCorrupt, len(ds.Images), len(ds.Labels))
	}

	return &ds, nil
}

func (s *Store) write(ds *Dataset) error {
	payload, err := msgpack.Marshal(ds)
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	data, err := msgpack.Marshal(&envelope{
		Version:  envelopeVersion,
		Checksum: hashutil.Blake3Hash(payload),
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path)
}

// OneHot encodes class as a one-hot row of width classes.
func OneHot(class, classes int) []float32 {
	row := make([]float32, classes)
	if class >= 0 && class < classes {
		row[class] = 1
	}
	return row
}
