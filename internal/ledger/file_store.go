package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

// FileStore keeps the aggregate as indented JSON on local disk.
type FileStore struct {
	path   string
	logger *slog.Logger
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (entity.LedgerState, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entity.LedgerState{}, fmt.Errorf("ledger file %s: %w", s.path, common.ErrNotFound)
		}
		return entity.LedgerState{}, fmt.Errorf("%w: read %s: %w", common.ErrPersistence, s.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return entity.LedgerState{}, fmt.Errorf("%w: %s is empty", common.ErrPersistence, s.path)
	}
	var state entity.LedgerState
	if err := json.Unmarshal(b, &state); err != nil {
		return entity.LedgerState{}, fmt.Errorf("%w: decode %s: %w", common.ErrPersistence, s.path, err)
	}
	state.Normalize()
	return state, nil
}

// Save writes to a temp file in the same directory and renames it over the
// target, so readers see either the old or the new aggregate.
func (s *FileStore) Save(_ context.Context, state entity.LedgerState) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode ledger: %w", common.ErrPersistence, err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", common.ErrPersistence, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: temp file: %w", common.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("ledger.file.cleanup_error", "path", tmpName, "error", rmErr)
		}
	}

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write %s: %w", common.ErrPersistence, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync %s: %w", common.ErrPersistence, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close %s: %w", common.ErrPersistence, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("%w: replace %s: %w", common.ErrPersistence, s.path, err)
	}
	return nil
}
