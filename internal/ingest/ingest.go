// Package ingest finds invoice documents on disk and computes their identity.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

// Identify returns the ledger identity of path: the cleaned absolute path and
// the hex sha256 of the file bytes.
func Identify(path string) (entity.FileIdentity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return entity.FileIdentity{Path: filepath.Clean(path)}, fmt.Errorf("abs path: %w", err)
	}
	id := entity.FileIdentity{Path: abs}

	f, err := os.Open(abs)
	if err != nil {
		return id, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return id, fmt.Errorf("hash %s: %w", abs, err)
	}
	id.ContentHash = hex.EncodeToString(h.Sum(nil))
	return id, nil
}
