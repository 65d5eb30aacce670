package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/ledger"
)

// Pinger is implemented by stores that hold a live connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpenStore builds the ledger store selected by cfg.Backend. The returned
// close func releases connections and is never nil.
func OpenStore(ctx context.Context, cfg common.LedgerConfig, logger *slog.Logger) (ledger.Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() {}

	switch cfg.Backend {
	case constants.LedgerJSON, "":
		return ledger.NewFileStore(cfg.Path, logger), noop, nil

	case constants.LedgerSQLite:
		db, err := OpenSQLite(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, noop, err
		}
		return migrated(ctx, db, nil, DialectSQLite, logger)

	case constants.LedgerPostgres:
		db, pool, err := OpenPostgres(ctx, Config{
			DSN:         cfg.DSN,
			MaxConns:    cfg.MaxConns,
			MinConns:    cfg.MinConns,
			DialTimeout: cfg.DialTimeout,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return migrated(ctx, db, pool, DialectPostgres, logger)

	case constants.LedgerRedis:
		s := NewRedisStore(RedisConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Key:         cfg.RedisKey,
			DialTimeout: cfg.DialTimeout,
		}, logger)
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}, nil

	default:
		return nil, noop, fmt.Errorf("%w: unknown ledger backend %q", common.ErrConfig, cfg.Backend)
	}
}

func migrated(ctx context.Context, db *sql.DB, pool *pgxpool.Pool, d Dialect, logger *slog.Logger) (ledger.Store, func(), error) {
	closeFn := func() { Close(db, pool, logger) }
	s := NewSQLStore(db, d, logger)
	if err := s.Migrate(ctx); err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return s, closeFn, nil
}
