package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/joseph-ayodele/invoice-ledger/constants"
)

// Config holds all application configuration
type Config struct {
	Ledger    LedgerConfig
	Extractor ExtractorConfig
	Pipeline  PipelineConfig
	OCR       OCRConfig
	Server    ServerConfig
	Log       LogConfig
}

// LedgerConfig selects and configures the memory bank store
type LedgerConfig struct {
	Backend       constants.LedgerBackend
	Path          string // json backend file
	DSN           string // sqlite file or postgres URL
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	MaxConns      int32
	MinConns      int32
	DialTimeout   time.Duration
}

// ExtractorConfig holds LLM-related configuration
type ExtractorConfig struct {
	UseLLM            bool
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	Temperature       float32
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxTokens         int
}

// PipelineConfig holds batch and watch settings
type PipelineConfig struct {
	InputDir       string
	Pattern        string
	OutputPath     string
	Workers        int
	QueueSize      int
	CallTimeout    time.Duration
	IncludeSkipped bool
	WatchDebounce  time.Duration
}

// OCRConfig holds text-extraction binaries and tuning
type OCRConfig struct {
	Pdftotext     string
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	TessdataDir   string
	DPI           int
	MaxPages      int
	HeicConverter string
}

// ServerConfig holds watch-mode listener addresses
type ServerConfig struct {
	GRPCAddr    string
	MetricsAddr string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// Mode is "llm" when the real extractor is wired, "mock" otherwise.
func (c *Config) Mode() string {
	if c.Extractor.UseLLM {
		return "llm"
	}
	return "mock"
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Backend:     constants.LedgerJSON,
			Path:        "memory_bank.json",
			RedisAddr:   "localhost:6379",
			RedisKey:    "invoice-ledger:state",
			MaxConns:    10,
			MinConns:    1,
			DialTimeout: 3 * time.Second,
		},
		Extractor: ExtractorConfig{
			Provider:          constants.ProviderAnthropic,
			Temperature:       0.0,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
			Burst:             1,
			MaxTokens:         2048,
		},
		Pipeline: PipelineConfig{
			InputDir:       "pdf",
			Pattern:        constants.DefaultInputPattern,
			OutputPath:     "invoices.xlsx",
			Workers:        1,
			QueueSize:      256,
			CallTimeout:    90 * time.Second,
			IncludeSkipped: true,
			WatchDebounce:  750 * time.Millisecond,
		},
		OCR: OCRConfig{
			Pdftotext:     "pdftotext",
			Pdftoppm:      "pdftoppm",
			Tesseract:     "tesseract",
			TesseractLang: "eng",
			DPI:           300,
		},
		Server: ServerConfig{
			GRPCAddr:    ":8080",
			MetricsAddr: ":9090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig layers defaults, an optional TOML file and the environment.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "load .env", errors.Join(ErrConfig, err))
		}
	}

	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "load config file "+path, errors.Join(ErrConfig, err))
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

type fileConfig struct {
	Ledger struct {
		Backend     string `toml:"backend"`
		Path        string `toml:"path"`
		DSN         string `toml:"dsn"`
		RedisAddr   string `toml:"redis_addr"`
		RedisDB     *int   `toml:"redis_db"`
		RedisKey    string `toml:"redis_key"`
		MaxConns    *int32 `toml:"max_conns"`
		MinConns    *int32 `toml:"min_conns"`
		DialTimeout string `toml:"dial_timeout"`
	} `toml:"ledger"`
	Extractor struct {
		UseLLM            *bool    `toml:"use_llm"`
		Provider          string   `toml:"provider"`
		Model             string   `toml:"model"`
		BaseURL           string   `toml:"base_url"`
		Temperature       *float32 `toml:"temperature"`
		Timeout           string   `toml:"timeout"`
		RequestsPerSecond *float64 `toml:"requests_per_second"`
		Burst             *int     `toml:"burst"`
		MaxTokens         *int     `toml:"max_tokens"`
	} `toml:"extractor"`
	Pipeline struct {
		InputDir       string `toml:"input_dir"`
		Pattern        string `toml:"pattern"`
		OutputPath     string `toml:"output"`
		Workers        *int   `toml:"workers"`
		QueueSize      *int   `toml:"queue_size"`
		CallTimeout    string `toml:"call_timeout"`
		IncludeSkipped *bool  `toml:"include_skipped"`
		WatchDebounce  string `toml:"watch_debounce"`
	} `toml:"pipeline"`
	OCR struct {
		Pdftotext     string `toml:"pdftotext"`
		Pdftoppm      string `toml:"pdftoppm"`
		Tesseract     string `toml:"tesseract"`
		TesseractLang string `toml:"tesseract_lang"`
		TessdataDir   string `toml:"tessdata_dir"`
		DPI           *int   `toml:"dpi"`
		MaxPages      *int   `toml:"max_pages"`
		HeicConverter string `toml:"heic_converter"`
	} `toml:"ocr"`
	Server struct {
		GRPCAddr    string `toml:"grpc_addr"`
		MetricsAddr string `toml:"metrics_addr"`
	} `toml:"server"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("decode toml: %w", err)
	}

	setString(&cfg.Ledger.Path, fc.Ledger.Path)
	setString(&cfg.Ledger.DSN, fc.Ledger.DSN)
	setString(&cfg.Ledger.RedisAddr, fc.Ledger.RedisAddr)
	setString(&cfg.Ledger.RedisKey, fc.Ledger.RedisKey)
	if fc.Ledger.Backend != "" {
		cfg.Ledger.Backend = constants.LedgerBackend(strings.ToLower(fc.Ledger.Backend))
	}
	setPtr(&cfg.Ledger.RedisDB, fc.Ledger.RedisDB)
	setPtr(&cfg.Ledger.MaxConns, fc.Ledger.MaxConns)
	setPtr(&cfg.Ledger.MinConns, fc.Ledger.MinConns)

	setPtr(&cfg.Extractor.UseLLM, fc.Extractor.UseLLM)
	setString(&cfg.Extractor.Provider, strings.ToLower(fc.Extractor.Provider))
	setString(&cfg.Extractor.Model, fc.Extractor.Model)
	setString(&cfg.Extractor.BaseURL, fc.Extractor.BaseURL)
	setPtr(&cfg.Extractor.Temperature, fc.Extractor.Temperature)
	setPtr(&cfg.Extractor.RequestsPerSecond, fc.Extractor.RequestsPerSecond)
	setPtr(&cfg.Extractor.Burst, fc.Extractor.Burst)
	setPtr(&cfg.Extractor.MaxTokens, fc.Extractor.MaxTokens)

	setString(&cfg.Pipeline.InputDir, fc.Pipeline.InputDir)
	setString(&cfg.Pipeline.Pattern, fc.Pipeline.Pattern)
	setString(&cfg.Pipeline.OutputPath, fc.Pipeline.OutputPath)
	setPtr(&cfg.Pipeline.Workers, fc.Pipeline.Workers)
	setPtr(&cfg.Pipeline.QueueSize, fc.Pipeline.QueueSize)
	setPtr(&cfg.Pipeline.IncludeSkipped, fc.Pipeline.IncludeSkipped)

	setString(&cfg.OCR.Pdftotext, fc.OCR.Pdftotext)
	setString(&cfg.OCR.Pdftoppm, fc.OCR.Pdftoppm)
	setString(&cfg.OCR.Tesseract, fc.OCR.Tesseract)
	setString(&cfg.OCR.TesseractLang, fc.OCR.TesseractLang)
	setString(&cfg.OCR.TessdataDir, fc.OCR.TessdataDir)
	setPtr(&cfg.OCR.DPI, fc.OCR.DPI)
	setPtr(&cfg.OCR.MaxPages, fc.OCR.MaxPages)
	setString(&cfg.OCR.HeicConverter, fc.OCR.HeicConverter)

	setString(&cfg.Server.GRPCAddr, fc.Server.GRPCAddr)
	setString(&cfg.Server.MetricsAddr, fc.Server.MetricsAddr)
	setString(&cfg.Log.Level, fc.Log.Level)
	setString(&cfg.Log.Format, fc.Log.Format)

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{fc.Ledger.DialTimeout, &cfg.Ledger.DialTimeout},
		{fc.Extractor.Timeout, &cfg.Extractor.Timeout},
		{fc.Pipeline.CallTimeout, &cfg.Pipeline.CallTimeout},
		{fc.Pipeline.WatchDebounce, &cfg.Pipeline.WatchDebounce},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	l := &cfg.Ledger
	l.Backend = constants.LedgerBackend(strings.ToLower(getEnv("LEDGER_BACKEND", string(l.Backend))))
	l.Path = getEnv("LEDGER_PATH", l.Path)
	l.DSN = getEnv("LEDGER_DSN", l.DSN)
	l.RedisAddr = getEnv("REDIS_ADDR", l.RedisAddr)
	l.RedisPassword = getEnv("REDIS_PASSWORD", l.RedisPassword)
	l.RedisDB = getEnvAsInt("REDIS_DB", l.RedisDB)
	l.RedisKey = getEnv("LEDGER_REDIS_KEY", l.RedisKey)
	l.MaxConns = getEnvAsInt32("DB_MAX_CONNS", l.MaxConns)
	l.MinConns = getEnvAsInt32("DB_MIN_CONNS", l.MinConns)
	l.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", l.DialTimeout)

	e := &cfg.Extractor
	e.UseLLM = getEnvAsBool("USE_LLM", e.UseLLM)
	e.Provider = strings.ToLower(getEnv("LLM_PROVIDER", e.Provider))
	e.Model = getEnv("LLM_MODEL", e.Model)
	e.BaseURL = getEnv("LLM_BASE_URL", e.BaseURL)
	e.Temperature = getEnvAsFloat32("LLM_TEMPERATURE", e.Temperature)
	e.Timeout = getEnvAsDuration("LLM_TIMEOUT", e.Timeout)
	e.RequestsPerSecond = getEnvAsFloat64("LLM_RPS", e.RequestsPerSecond)
	e.Burst = getEnvAsInt("LLM_BURST", e.Burst)
	e.MaxTokens = getEnvAsInt("LLM_MAX_TOKENS", e.MaxTokens)
	switch e.Provider {
	case constants.ProviderAnthropic:
		e.APIKey = getEnv("ANTHROPIC_API_KEY", e.APIKey)
	case constants.ProviderOpenAI:
		e.APIKey = getEnv("OPENAI_API_KEY", e.APIKey)
	}
	e.APIKey = getEnv("LLM_API_KEY", e.APIKey)

	p := &cfg.Pipeline
	p.InputDir = getEnv("INPUT_DIR", p.InputDir)
	p.Pattern = getEnv("INPUT_PATTERN", p.Pattern)
	p.OutputPath = getEnv("OUTPUT_PATH", p.OutputPath)
	p.Workers = getEnvAsInt("WORKERS", p.Workers)
	p.QueueSize = getEnvAsInt("QUEUE_SIZE", p.QueueSize)
	p.CallTimeout = getEnvAsDuration("CALL_TIMEOUT", p.CallTimeout)
	p.IncludeSkipped = getEnvAsBool("EXPORT_INCLUDE_SKIPPED", p.IncludeSkipped)
	p.WatchDebounce = getEnvAsDuration("WATCH_DEBOUNCE", p.WatchDebounce)

	o := &cfg.OCR
	o.Pdftotext = getEnv("PDFTOTEXT", o.Pdftotext)
	o.Pdftoppm = getEnv("PDFTOPPM", o.Pdftoppm)
	o.Tesseract = getEnv("TESSERACT", o.Tesseract)
	o.TesseractLang = getEnv("TESSERACT_LANG", o.TesseractLang)
	o.TessdataDir = getEnv("TESSDATA_PREFIX", o.TessdataDir)
	o.DPI = getEnvAsInt("OCR_DPI", o.DPI)
	o.HeicConverter = getEnv("HEIC_CONVERTER", o.HeicConverter)

	cfg.Server.GRPCAddr = getEnv("GRPC_ADDR", cfg.Server.GRPCAddr)
	cfg.Server.MetricsAddr = getEnv("METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()

	switch c.Ledger.Backend {
	case constants.LedgerJSON:
		v.Field("LEDGER_PATH", c.Ledger.Path, Required)
	case constants.LedgerSQLite, constants.LedgerPostgres:
		v.Field("LEDGER_DSN", c.Ledger.DSN, Required)
	case constants.LedgerRedis:
		v.Field("REDIS_ADDR", c.Ledger.RedisAddr, Required)
		v.Field("LEDGER_REDIS_KEY", c.Ledger.RedisKey, Required)
	default:
		v.Check(false, "LEDGER_BACKEND", c.Ledger.Backend, "must be one of json, sqlite, postgres, redis")
	}

	if c.Extractor.UseLLM {
		v.Field("LLM_PROVIDER", c.Extractor.Provider, OneOf(constants.ProviderAnthropic, constants.ProviderOpenAI))
		v.Field("LLM_API_KEY", c.Extractor.APIKey, Required)
	}
	v.Field("WORKERS", c.Pipeline.Workers, Positive)
	v.Field("INPUT_PATTERN", c.Pipeline.Pattern, Required)
	v.Check(c.Pipeline.CallTimeout >= 0, "CALL_TIMEOUT", c.Pipeline.CallTimeout, "must not be negative")
	v.Field("LOG_FORMAT", c.Log.Format, OneOf("text", "json"))

	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrConfig)
	}
	return nil
}
