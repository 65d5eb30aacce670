package ingest

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
)

type DirStats struct {
	Matched int
	Hidden  int
	Ignored int // matched the pattern but not an allowed extension
}

// Discover returns the absolute paths below root that match pattern, sorted.
// Hidden files and directories are skipped and matching is case-insensitive.
// An unreadable root or a bad pattern is a configuration error.
func Discover(root, pattern string, logger *slog.Logger) ([]string, DirStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stats DirStats

	if strings.TrimSpace(root) == "" {
		return nil, stats, fmt.Errorf("%w: input directory is required", common.ErrConfig)
	}
	if pattern == "" {
		pattern = constants.DefaultInputPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, stats, fmt.Errorf("%w: invalid input pattern %q", common.ErrConfig, pattern)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: input directory %q: %w", common.ErrConfig, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: input directory %q: %w", common.ErrConfig, root, err)
	}
	if !info.IsDir() {
		return nil, stats, fmt.Errorf("%w: input path %q is not a directory", common.ErrConfig, root)
	}
	if _, err := os.ReadDir(abs); err != nil {
		return nil, stats, fmt.Errorf("%w: input directory %q is unreadable: %w", common.ErrConfig, root, err)
	}

	var out []string
	err = doublestar.GlobWalk(os.DirFS(abs), pattern, func(rel string, d fs.DirEntry) error {
		if IsHidden(rel) {
			stats.Hidden++
			return nil
		}
		if !constants.IsAllowedExt(filepath.Ext(rel)) {
			stats.Ignored++
			return nil
		}
		stats.Matched++
		out = append(out, filepath.Join(abs, filepath.FromSlash(rel)))
		return nil
	}, doublestar.WithFilesOnly(), doublestar.WithCaseInsensitive())
	if err != nil {
		return nil, stats, fmt.Errorf("walk %s: %w", abs, err)
	}

	sort.Strings(out)
	logger.Info("ingest.discover.ok",
		"root", abs,
		"pattern", pattern,
		"matched", stats.Matched,
		"hidden", stats.Hidden,
		"ignored", stats.Ignored,
	)
	return out, stats, nil
}

// IsHidden reports whether any segment of a slash-separated relative path starts with '.'.
func IsHidden(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}
