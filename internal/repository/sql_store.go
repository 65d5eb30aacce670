package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
	"github.com/joseph-ayodele/invoice-ledger/internal/ledger"
)

const (
	metaSchemaVersion = "schema_version"
	metaStats         = "stats"
	metaLastRun       = "last_run"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ledger_files (
		path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		vendor_name TEXT NOT NULL DEFAULT '',
		invoice_number TEXT NOT NULL DEFAULT '',
		review_reason TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		used_llm INTEGER NOT NULL DEFAULT 0,
		processed_at TEXT NOT NULL,
		invoice_json TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_vendor_flags (
		vendor_key TEXT PRIMARY KEY,
		vendor_name TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		occurrence_count INTEGER NOT NULL,
		first_flagged_at TEXT NOT NULL,
		last_seen_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

const (
	upsertFileSQL = `INSERT INTO ledger_files
		(path, content_hash, status, vendor_name, invoice_number, review_reason, error, used_llm, processed_at, invoice_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			content_hash = excluded.content_hash,
			status = excluded.status,
			vendor_name = excluded.vendor_name,
			invoice_number = excluded.invoice_number,
			review_reason = excluded.review_reason,
			error = excluded.error,
			used_llm = excluded.used_llm,
			processed_at = excluded.processed_at,
			invoice_json = excluded.invoice_json`

	upsertFlagSQL = `INSERT INTO ledger_vendor_flags
		(vendor_key, vendor_name, reason, occurrence_count, first_flagged_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (vendor_key) DO UPDATE SET
			vendor_name = excluded.vendor_name,
			reason = excluded.reason,
			occurrence_count = excluded.occurrence_count,
			first_flagged_at = excluded.first_flagged_at,
			last_seen_at = excluded.last_seen_at`

	upsertMetaSQL = `INSERT INTO ledger_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`

	selectMetaSQL  = `SELECT key, value FROM ledger_meta`
	selectFilesSQL = `SELECT path, content_hash, status, vendor_name, invoice_number, review_reason, error, used_llm, processed_at, invoice_json FROM ledger_files`
	selectFlagsSQL = `SELECT vendor_key, vendor_name, reason, occurrence_count, first_flagged_at, last_seen_at FROM ledger_vendor_flags`
)

// SQLStore persists the memory bank in three tables. Records and flags are
// never removed from the bank, so Save only upserts.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ ledger.Store = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger.With("store", "sql", "dialect", dialect)}
}

// Migrate creates the ledger tables when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", common.ErrPersistence, err)
		}
	}
	s.logger.Debug("ledger.sql.migrated")
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return HealthCheck(ctx, s.db, 0, s.logger)
}

func (s *SQLStore) Load(ctx context.Context) (entity.LedgerState, error) {
	state := entity.NewLedgerState()

	meta, err := s.loadMeta(ctx)
	if err != nil {
		return state, err
	}
	if len(meta) == 0 {
		return state, fmt.Errorf("%w: ledger tables are empty", common.ErrNotFound)
	}
	if v := meta[metaSchemaVersion]; v != "" {
		state.SchemaVersion = v
	}
	if v := meta[metaStats]; v != "" {
		if err := json.Unmarshal([]byte(v), &state.Stats); err != nil {
			return state, fmt.Errorf("%w: decode stats: %w", common.ErrPersistence, err)
		}
	}
	if v := meta[metaLastRun]; v != "" {
		var run entity.RunInfo
		if err := json.Unmarshal([]byte(v), &run); err != nil {
			return state, fmt.Errorf("%w: decode last run: %w", common.ErrPersistence, err)
		}
		state.LastRun = &run
	}

	if err := s.loadFiles(ctx, &state); err != nil {
		return state, err
	}
	if err := s.loadFlags(ctx, &state); err != nil {
		return state, err
	}
	return state, nil
}

func (s *SQLStore) loadMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, selectMetaSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: query meta: %w", common.ErrPersistence, err)
	}
	defer rows.Close()

	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%w: scan meta: %w", common.ErrPersistence, err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read meta: %w", common.ErrPersistence, err)
	}
	return meta, nil
}

func (s *SQLStore) loadFiles(ctx context.Context, state *entity.LedgerState) error {
	rows, err := s.db.QueryContext(ctx, selectFilesSQL)
	if err != nil {
		return fmt.Errorf("%w: query files: %w", common.ErrPersistence, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec         entity.ProcessedFile
			status      string
			usedLLM     int64
			processedAt string
			invoiceJSON sql.NullString
		)
		if err := rows.Scan(&rec.Path, &rec.ContentHash, &status, &rec.VendorName, &rec.InvoiceNumber,
			&rec.ReviewReason, &rec.Error, &usedLLM, &processedAt, &invoiceJSON); err != nil {
			return fmt.Errorf("%w: scan file: %w", common.ErrPersistence, err)
		}
		rec.Status = constants.InvoiceStatus(status)
		rec.UsedLLM = usedLLM != 0
		if rec.Timestamp, err = parseTime(processedAt); err != nil {
			return err
		}
		if invoiceJSON.Valid && invoiceJSON.String != "" {
			var inv entity.Invoice
			if err := json.Unmarshal([]byte(invoiceJSON.String), &inv); err != nil {
				return fmt.Errorf("%w: decode invoice of %s: %w", common.ErrPersistence, rec.Path, err)
			}
			rec.Invoice = &inv
		}
		state.ProcessedFiles[rec.Path] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: read files: %w", common.ErrPersistence, err)
	}
	return nil
}

func (s *SQLStore) loadFlags(ctx context.Context, state *entity.LedgerState) error {
	rows, err := s.db.QueryContext(ctx, selectFlagsSQL)
	if err != nil {
		return fmt.Errorf("%w: query vendor flags: %w", common.ErrPersistence, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key, first, last string
			f                entity.VendorFlag
		)
		if err := rows.Scan(&key, &f.VendorName, &f.Reason, &f.OccurrenceCount, &first, &last); err != nil {
			return fmt.Errorf("%w: scan vendor flag: %w", common.ErrPersistence, err)
		}
		if f.FirstFlaggedAt, err = parseTime(first); err != nil {
			return err
		}
		if f.LastSeenAt, err = parseTime(last); err != nil {
			return err
		}
		state.VendorFlags[key] = f
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: read vendor flags: %w", common.ErrPersistence, err)
	}
	return nil
}

// Save writes the whole aggregate in one transaction, in sorted key order.
func (s *SQLStore) Save(ctx context.Context, state entity.LedgerState) (err error) {
	state.Normalize()

	stats, err := json.Marshal(state.Stats)
	if err != nil {
		return fmt.Errorf("%w: encode stats: %w", common.ErrPersistence, err)
	}
	var lastRun []byte
	if state.LastRun != nil {
		if lastRun, err = json.Marshal(state.LastRun); err != nil {
			return fmt.Errorf("%w: encode last run: %w", common.ErrPersistence, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", common.ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("ledger.sql.rollback_error", "error", rbErr)
			}
		}
	}()

	for _, path := range sortedKeys(state.ProcessedFiles) {
		rec := state.ProcessedFiles[path]
		var invoiceJSON sql.NullString
		if rec.Invoice != nil {
			b, mErr := json.Marshal(rec.Invoice)
			if mErr != nil {
				return fmt.Errorf("%w: encode invoice of %s: %w", common.ErrPersistence, path, mErr)
			}
			invoiceJSON = sql.NullString{String: string(b), Valid: true}
		}
		if _, err = tx.ExecContext(ctx, s.rebind(upsertFileSQL),
			path, rec.ContentHash, string(rec.Status), rec.VendorName, rec.InvoiceNumber,
			rec.ReviewReason, rec.Error, boolToInt(rec.UsedLLM), formatTime(rec.Timestamp), invoiceJSON,
		); err != nil {
			return fmt.Errorf("%w: upsert file %s: %w", common.ErrPersistence, path, err)
		}
	}

	for _, key := range sortedKeys(state.VendorFlags) {
		f := state.VendorFlags[key]
		if _, err = tx.ExecContext(ctx, s.rebind(upsertFlagSQL),
			key, f.VendorName, f.Reason, f.OccurrenceCount, formatTime(f.FirstFlaggedAt), formatTime(f.LastSeenAt),
		); err != nil {
			return fmt.Errorf("%w: upsert vendor flag %s: %w", common.ErrPersistence, key, err)
		}
	}

	meta := [][2]string{
		{metaSchemaVersion, state.SchemaVersion},
		{metaStats, string(stats)},
	}
	if lastRun != nil {
		meta = append(meta, [2]string{metaLastRun, string(lastRun)})
	}
	for _, kv := range meta {
		if _, err = tx.ExecContext(ctx, s.rebind(upsertMetaSQL), kv[0], kv[1]); err != nil {
			return fmt.Errorf("%w: upsert meta %s: %w", common.ErrPersistence, kv[0], err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", common.ErrPersistence, err)
	}
	s.logger.Debug("ledger.sql.saved", "files", len(state.ProcessedFiles), "flags", len(state.VendorFlags))
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse timestamp %q: %w", common.ErrPersistence, s, err)
	}
	return t, nil
}
