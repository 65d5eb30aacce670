package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/invoice-ledger/internal/llm"
)

// Config for the OpenAI client.
type Config struct {
	APIKey            string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL           string        // default https://api.openai.com/v1
	Model             string        // e.g., "gpt-4o-mini"
	Temperature       float32       // 0..2
	Timeout           time.Duration // http client timeout
	RequestsPerSecond float64       // <= 0 disables client-side limiting
	Burst             int
	LenientOptional   bool
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ llm.Extractor = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: llm.NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  logger.With("provider", "openai"),
	}
}
