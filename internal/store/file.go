package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/capitalize-ai/operator-relay/internal/model"
)

// FilePersister keeps the snapshot in a single JSON document on disk.
type FilePersister struct {
	path string
}

// NewFilePersister creates the parent directory of path if needed.
func NewFilePersister(path string) (*FilePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Name returns the driver name.
func (p *FilePersister) Name() string {
	return "file"
}

// Load reads the state file. A missing file yields an empty snapshot.
func (p *FilePersister) Load(ctx context.Context) (*model.Snapshot, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	snap, err := model.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}
	return snap, nil
}

// Save writes to a temporary file, syncs it and renames it over the state file,
// so readers never observe a torn document.
func (p *FilePersister) Save(ctx context.Context, snap *model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (p *FilePersister) Close() error {
	return nil
}
