package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var errHEICUnsupported = errors.New("HEIC input needs a converter: set HEIC_CONVERTER to heif-convert, magick or sips")

// convertHEIC writes a PNG rendition of in to a temp dir. The caller must run
// cleanup once tesseract is done with the PNG.
func (e *Extractor) convertHEIC(ctx context.Context, in string) (string, func(), error) {
	var args func(out string) []string
	switch e.cfg.HeicConverter {
	case "heif-convert", "magick":
		args = func(out string) []string { return []string{in, out} }
	case "sips":
		args = func(out string) []string { return []string{"-s", "format", "png", in, "--out", out} }
	case "":
		return "", func() {}, errHEICUnsupported
	default:
		return "", func() {}, fmt.Errorf("unknown HEIC converter %q", e.cfg.HeicConverter)
	}

	dir, err := os.MkdirTemp("", "invoice-heic-*")
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	out := filepath.Join(dir, "page.png")

	if _, errb, err := e.runner.Run(ctx, e.cfg.HeicConverter, args(out)...); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("%s: %w: %s", e.cfg.HeicConverter, err, truncate(string(errb), 512))
	}
	if _, err := os.Stat(out); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("%s produced no output: %w", e.cfg.HeicConverter, err)
	}
	e.logger.Debug("ocr.heic.converted", "path", in, "converter", e.cfg.HeicConverter)
	return out, cleanup, nil
}
