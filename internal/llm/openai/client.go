package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
	"github.com/joseph-ayodele/invoice-ledger/internal/llm"
)

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Parse implements llm.Extractor using text-only chat/completions in JSON mode.
func (c *Client) Parse(ctx context.Context, req llm.ParseRequest) (entity.Invoice, error) {
	rid := uuid.New().String()
	start := time.Now()
	log := common.LoggerFromContext(ctx, c.logger).With("req_id", rid)

	log.Info("llm.extract.start",
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.Text),
		"reparse", req.VendorContext != "",
	)

	if err := llm.Wait(ctx, c.limiter); err != nil {
		return entity.Invoice{}, err
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req.VendorContext)},
			{"role": "user", "content": llm.BuildUserPrompt(req)},
			{"role": "system", "content": llm.SchemaPrompt()},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, log)
	if err != nil {
		log.Error("llm.extract.http_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return entity.Invoice{}, fmt.Errorf("%w: openai: %w", common.ErrUpstreamService, err)
	}

	var cc chatCompletion
	if err := json.Unmarshal(raw, &cc); err != nil {
		log.Error("llm.extract.decode_error", "error", err, "raw_bytes", len(raw))
		return entity.Invoice{}, fmt.Errorf("%w: decode openai response: %w", common.ErrUpstreamService, err)
	}
	if len(cc.Choices) == 0 {
		log.Error("llm.extract.no_choices", "raw", string(raw))
		return entity.Invoice{}, fmt.Errorf("%w: no choices in openai response", common.ErrUpstreamService)
	}

	inv, err := llm.DecodeInvoice(cc.Choices[0].Message.Content, c.cfg.LenientOptional, log)
	if err != nil {
		return entity.Invoice{}, err
	}

	log.Info("llm.extract.ok",
		"vendor", inv.VendorName,
		"invoice_number", inv.InvoiceNumber,
		"items", len(inv.LineItems),
		"status", inv.Status,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return inv, nil
}
