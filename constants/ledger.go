package constants

// LedgerBackend selects where the memory bank is persisted.
type LedgerBackend string

const (
	LedgerJSON     LedgerBackend = "json"
	LedgerSQLite   LedgerBackend = "sqlite"
	LedgerPostgres LedgerBackend = "postgres"
	LedgerRedis    LedgerBackend = "redis"
)

// LedgerSchemaVersion tags the persisted aggregate.
const LedgerSchemaVersion = "invoice_v1"

// Extractor providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)
