package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mmledger/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// EntityStore loads and saves the ledger entities. Load methods report a
// missing record with found=false rather than an error.
type EntityStore interface {
	LoadMarket(ctx context.Context, id string) (Market, bool, error)
	SaveMarket(ctx context.Context, market Market) error
	LoadAsset(ctx context.Context, id string) (Asset, bool, error)
	SaveAsset(ctx context.Context, asset Asset) error
	LoadAccount(ctx context.Context, id string) (Account, bool, error)
	SaveAccount(ctx context.Context, account Account) error
	LoadProtocolParameters(ctx context.Context) (ProtocolParameters, bool, error)
	SaveProtocolParameters(ctx context.Context, params ProtocolParameters) error
}

// Journal records which logs have already been reconciled.
type Journal interface {
	IsProcessed(ctx context.Context, txHash string, logIndex int64) (bool, error)
	MarkProcessed(ctx context.Context, rec ProcessedEvent) error
}

// Tx is the view of the store handed to one atomic unit of work.
type Tx interface {
	EntityStore
	Journal
}

// Store is the full persistence surface used by the indexer.
type Store interface {
	// Atomic runs fn in one unit of work; nothing fn wrote survives an error.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Cursor(ctx context.Context, name string) (int64, bool, error)
	SaveCursor(ctx context.Context, name string, block int64) error
	ListMarkets(ctx context.Context) ([]Market, error)
	ListAssetsByAccount(ctx context.Context, account string) ([]Asset, error)
	CountProcessed(ctx context.Context) (int64, error)
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
