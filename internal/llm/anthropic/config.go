package anthropic

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/invoice-ledger/internal/llm"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-3-5-sonnet-latest"
	apiVersion     = "2023-06-01"
)

// Config for the Anthropic Messages API client.
type Config struct {
	APIKey            string // if empty, falls back to env ANTHROPIC_API_KEY
	BaseURL           string
	Model             string
	Temperature       float32
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
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
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
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
		logger:  logger.With("provider", "anthropic"),
	}
}
