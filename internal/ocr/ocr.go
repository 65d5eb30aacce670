// Package ocr turns invoice documents into plain text using poppler and
// tesseract binaries. Text files are read as-is.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	DPI           int // rasterization DPI for scanned PDFs, default 300
	MaxPages      int // 0 = no limit

	EnableTSVConfidence bool
	PSM                 int // e.g., 6 is good for uniform block of text
	OEM                 int // 1 = LSTM; leave 0 to use default

	HeicConverter string // heif-convert | magick | sips; empty rejects HEIC input
}

// ConfigFrom maps the application OCR settings.
func ConfigFrom(c common.OCRConfig) Config {
	return Config{
		Pdftotext:     c.Pdftotext,
		Pdftoppm:      c.Pdftoppm,
		Tesseract:     c.Tesseract,
		TesseractLang: c.TesseractLang,
		TessdataDir:   c.TessdataDir,
		DPI:           c.DPI,
		MaxPages:      c.MaxPages,
		HeicConverter: c.HeicConverter,
	}
}

type ExtractionResult struct {
	Text       string
	Pages      int
	SourceType string // constants.PDF | constants.IMAGE | constants.TXT
	Method     string // "pdf-text" | "pdf-ocr" | "image-ocr" | "plain-text"
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

var errNoText = errors.New("no text extracted")

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return NewExtractorWithRunner(cfg, execRunner{logger: logger}, logger)
}

// NewExtractorWithRunner is NewExtractor with an injected command runner.
func NewExtractorWithRunner(cfg Config, runner Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Extractor{cfg: cfg, runner: runner, logger: logger}
}

// Text returns the normalized text of path. Failures and empty documents wrap
// common.ErrTextExtraction.
func (e *Extractor) Text(ctx context.Context, path string) (string, error) {
	res, err := e.Extract(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", common.ErrTextExtraction, filepath.Base(path), err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", fmt.Errorf("%w: %s: %w", common.ErrTextExtraction, filepath.Base(path), errNoText)
	}
	return res.Text, nil
}

// Extract picks a strategy based on file extension.
func (e *Extractor) Extract(ctx context.Context, path string) (ExtractionResult, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("ocr.extract.start", "path", path, "ext", ext)

	var (
		res ExtractionResult
		err error
	)
	switch constants.MapExtToFormat(ext) {
	case constants.PDF:
		res, err = e.extractPDF(ctx, path)
	case constants.IMAGE:
		res, err = e.extractImage(ctx, path)
	case constants.TXT:
		res, err = e.extractPlain(path)
	default:
		e.logger.Error("ocr.extract.unsupported", "extension", ext)
		return ExtractionResult{}, fmt.Errorf("unsupported extension: %q", ext)
	}
	res.Duration = time.Since(start)
	if err != nil {
		e.logger.Warn("ocr.extract.error", "path", path, "method", res.Method, "error", err, "warnings", res.Warnings)
		return res, err
	}
	e.logger.Debug("ocr.extract.ok",
		"path", path,
		"method", res.Method,
		"pages", res.Pages,
		"chars", len(res.Text),
		"confidence", res.Confidence,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) extractPlain(path string) (ExtractionResult, error) {
	b, err := os.ReadFile(path)
	res := ExtractionResult{SourceType: constants.TXT, Method: "plain-text", Pages: 1}
	if err != nil {
		return res, err
	}
	res.Text = Normalize(string(b))
	res.Confidence = 1
	return res, nil
}

// extractPDF prefers the embedded text layer and rasterizes + OCRs only when
// the layer is empty (scanned documents).
func (e *Extractor) extractPDF(ctx context.Context, path string) (ExtractionResult, error) {
	res := ExtractionResult{SourceType: constants.PDF, Language: e.cfg.TesseractLang}

	txt, pages, warns, err := e.pdfToText(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	if err == nil {
		if norm := Normalize(txt); norm != "" {
			res.Text, res.Pages, res.Method = norm, pages, "pdf-text"
			res.Confidence = 1
			return res, nil
		}
		res.Warnings = append(res.Warnings, "pdf has no text layer")
	} else {
		res.Warnings = append(res.Warnings, "pdftotext: "+err.Error())
	}

	txt, pages, warns, err = e.pdfToOCR(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	res.Method = "pdf-ocr"
	if err != nil {
		return res, err
	}
	res.Text, res.Pages = Normalize(txt), pages
	res.Confidence = heuristicConfidence(res.Text)
	return res, nil
}
