package anthropic

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

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Parse implements llm.Extractor on the Messages API.
func (c *Client) Parse(ctx context.Context, req llm.ParseRequest) (entity.Invoice, error) {
	rid := uuid.New().String()
	start := time.Now()
	log := common.LoggerFromContext(ctx, c.logger).With("req_id", rid)

	log.Info("llm.extract.start",
		"model", c.cfg.Model,
		"text_len", len(req.Text),
		"reparse", req.VendorContext != "",
	)

	if err := llm.Wait(ctx, c.limiter); err != nil {
		return entity.Invoice{}, err
	}

	body := messagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      llm.BuildSystemPrompt(req.VendorContext) + "\n\n" + llm.SchemaPrompt(),
		Messages:    []message{{Role: "user", Content: llm.BuildUserPrompt(req)}},
		Temperature: c.cfg.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": apiVersion,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, log)
	if err != nil {
		log.Error("llm.extract.http_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return entity.Invoice{}, fmt.Errorf("%w: anthropic: %w", common.ErrUpstreamService, err)
	}

	var mr messagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		log.Error("llm.extract.decode_error", "error", err, "raw_bytes", len(raw))
		return entity.Invoice{}, fmt.Errorf("%w: decode anthropic response: %w", common.ErrUpstreamService, err)
	}

	var text strings.Builder
	for _, block := range mr.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		log.Error("llm.extract.empty_content", "stop_reason", mr.StopReason)
		return entity.Invoice{}, fmt.Errorf("%w: empty anthropic response", common.ErrUpstreamService)
	}

	inv, err := llm.DecodeInvoice(text.String(), c.cfg.LenientOptional, log)
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
