package ocr

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-ledger/constants"
)

func (e *Extractor) extractImage(ctx context.Context, path string) (ExtractionResult, error) {
	res := ExtractionResult{
		SourceType: constants.IMAGE,
		Method:     "image-ocr",
		Language:   e.cfg.TesseractLang,
		Pages:      1,
	}

	src := path
	if constants.IsHEICExt(filepath.Ext(path)) {
		png, cleanup, err := e.convertHEIC(ctx, path)
		if err != nil {
			return res, err
		}
		defer cleanup()
		src = png
		res.Method = "heic-ocr"
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.tesseractArgs(src)...)
	if err != nil {
		res.Warnings = append(res.Warnings, string(errb))
		return res, fmt.Errorf("tesseract: %w", err)
	}
	res.Text = Normalize(string(out))
	res.Confidence = heuristicConfidence(res.Text)

	if !e.cfg.EnableTSVConfidence {
		return res, nil
	}
	tsv, _, err := e.runner.Run(ctx, e.cfg.Tesseract, append(e.tesseractArgs(src), "tsv")...)
	if err != nil {
		res.Warnings = append(res.Warnings, "tesseract tsv: "+err.Error())
		return res, nil
	}
	if word := meanWordConfidence(tsv); word > 0 {
		res.Confidence = min(0.7*word+0.3*res.Confidence, 1)
	}
	return res, nil
}

// tesseractArgs builds "tesseract <file> stdout -l <lang> [tuning]".
func (e *Extractor) tesseractArgs(path string) []string {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return args
}

// meanWordConfidence averages the conf column of tesseract TSV output, scaled to 0..1.
// Rows with conf -1 are layout rows, not words.
func meanWordConfidence(tsv []byte) float32 {
	var sum, n float64
	for i, line := range strings.Split(string(tsv), "\n") {
		if i == 0 {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)
		if err != nil || v < 0 {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return float32(sum / n / 100)
}
