package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/export"
	"github.com/joseph-ayodele/invoice-ledger/internal/ledger"
	"github.com/joseph-ayodele/invoice-ledger/internal/llm"
	"github.com/joseph-ayodele/invoice-ledger/internal/llm/anthropic"
	"github.com/joseph-ayodele/invoice-ledger/internal/llm/mock"
	"github.com/joseph-ayodele/invoice-ledger/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-ledger/internal/ocr"
	"github.com/joseph-ayodele/invoice-ledger/internal/pipeline"
	"github.com/joseph-ayodele/invoice-ledger/internal/repository"
)

// app holds what every command shares once configuration is loaded.
type app struct {
	cfg    *common.Config
	logger *slog.Logger

	store      ledger.Store
	closeStore func()
	bank       *ledger.MemoryBank
}

// openLedger connects the configured store and loads the memory bank.
func (a *app) openLedger(ctx context.Context) error {
	store, closeFn, err := repository.OpenStore(ctx, a.cfg.Ledger, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	a.closeStore = closeFn
	a.bank = ledger.Load(ctx, store, a.logger)
	return nil
}

func (a *app) close() {
	if a.closeStore != nil {
		a.closeStore()
		a.closeStore = nil
	}
}

// newExtractor picks the real extractor when USE_LLM is set, the mock otherwise.
func newExtractor(cfg common.ExtractorConfig, logger *slog.Logger) (llm.Extractor, string, error) {
	if !cfg.UseLLM {
		return mock.New(logger), constants.ProviderMock, nil
	}
	switch cfg.Provider {
	case constants.ProviderAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Temperature:       cfg.Temperature,
			MaxTokens:         cfg.MaxTokens,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			LenientOptional:   true,
		}, logger), constants.ProviderAnthropic, nil
	case constants.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Temperature:       cfg.Temperature,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			LenientOptional:   true,
		}, logger), constants.ProviderOpenAI, nil
	default:
		return nil, "", fmt.Errorf("%w: unknown llm provider %q", common.ErrConfig, cfg.Provider)
	}
}

func (a *app) newTextProvider() *ocr.Extractor {
	return ocr.NewExtractor(ocr.ConfigFrom(a.cfg.OCR), a.logger)
}

// newOrchestrator wires text extraction, the extractor and the XLSX exporter.
func (a *app) newOrchestrator(opts ...pipeline.Option) (*pipeline.Orchestrator, error) {
	extractor, provider, err := newExtractor(a.cfg.Extractor, a.logger)
	if err != nil {
		return nil, err
	}
	p := a.cfg.Pipeline
	return pipeline.New(a.newTextProvider(), extractor, export.NewXLSXExporter(a.logger), pipeline.Config{
		Workers:        p.Workers,
		CallTimeout:    p.CallTimeout,
		IncludeSkipped: p.IncludeSkipped,
		UsesLLM:        a.cfg.Extractor.UseLLM,
		Mode:           a.cfg.Mode(),
		Provider:       provider,
		InputDir:       p.InputDir,
	}, a.logger, opts...), nil
}
