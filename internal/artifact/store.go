// Package artifact persists and loads the model artifact: the co-versioned
// {scaler, classifier} pair produced by a training run and consumed
// read-only by scoring.
package artifact

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/kestrel/internal/ml"
)

var (
	// ErrNotFound indicates no classifier blob exists; scoring cannot run.
	ErrNotFound = errors.New("model artifact not found")

	// ErrVersionMismatch indicates the scaler and classifier blobs come
	// from different training runs and must not be used together.
	ErrVersionMismatch = errors.New("scaler and classifier versions do not match")
)

const (
	scalerFile = "scaler.gob"
	forestFile = "forest.gob"
)

// Artifact is the deployable model: a fitted scaler and a fitted forest
// trained together. It is immutable after creation; Load returns a fresh
// value per call and scoring never mutates it.
type Artifact struct {
	Version   string
	TrainedAt time.Time
	Scaler    *ml.Scaler
	Forest    *ml.Forest

	// Degraded is set by Load when the scaler blob is absent: scoring then
	// runs on unscaled input, with an explicit warning, instead of failing.
	Degraded bool
}

type scalerBlob struct {
	Version   string
	TrainedAt time.Time
	Scaler    *ml.Scaler
}

type forestBlob struct {
	Version   string
	TrainedAt time.Time
	Forest    *ml.Forest
}

// Store reads and writes artifact blobs under a directory.
type Store struct {
	dir string
}

// NewStore creates an artifact store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save persists both blobs. Each file is written to a temporary name and
// renamed into place, so a concurrent reader never observes a partially
// written blob.
func (s *Store) Save(a *Artifact) error {
	if a.Forest == nil {
		return fmt.Errorf("artifact has no classifier")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if a.Scaler != nil {
		blob := scalerBlob{Version: a.Version, TrainedAt: a.TrainedAt, Scaler: a.Scaler}
		if err := s.writeBlob(scalerFile, &blob); err != nil {
			return fmt.Errorf("failed to write scaler blob: %w", err)
		}
	}

	blob := forestBlob{Version: a.Version, TrainedAt: a.TrainedAt, Forest: a.Forest}
	if err := s.writeBlob(forestFile, &blob); err != nil {
		return fmt.Errorf("failed to write classifier blob: %w", err)
	}

	return nil
}

// Load reads the artifact. A missing classifier blob is ErrNotFound and
// fatal for scoring. A missing scaler blob yields a degraded artifact:
// the caller must log the fallback and score unscaled input.
func (s *Store) Load() (*Artifact, error) {
	var fb forestBlob
	if err := s.readBlob(forestFile, &fb); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("corrupt classifier blob: %w", err)
	}

	a := &Artifact{
		Version:   fb.Version,
		TrainedAt: fb.TrainedAt,
		Forest:    fb.Forest,
	}

	var sb scalerBlob
	if err := s.readBlob(scalerFile, &sb); err != nil {
		if os.IsNotExist(err) {
			a.Degraded = true
			return a, nil
		}
		return nil, fmt.Errorf("corrupt scaler blob: %w", err)
	}

	if sb.Version != fb.Version {
		return nil, fmt.Errorf("%w: scaler %s, classifier %s", ErrVersionMismatch, sb.Version, fb.Version)
	}
	a.Scaler = sb.Scaler

	return a, nil
}

func (s *Store) writeBlob(name string, v any) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

func (s *Store) readBlob(name string, v any) error {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	return gob.NewDecoder(f).Decode(v)
}
