package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const (
	selectMarketSQL = `SELECT
        id,
        symbol,
        interest_rate_model,
        is_supported,
        is_suspended,
        block_number,
        total_supply,
        total_borrows,
        supply_rate_mantissa,
        borrow_rate_mantissa,
        supply_index,
        borrow_index,
        price_in_wei
    FROM markets`

	upsertMarketSQL = `INSERT INTO markets (
        id,
        symbol,
        interest_rate_model,
        is_supported,
        is_suspended,
        block_number,
        total_supply,
        total_borrows,
        supply_rate_mantissa,
        borrow_rate_mantissa,
        supply_index,
        borrow_index,
        price_in_wei
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (id) DO UPDATE
    SET
        symbol               = EXCLUDED.symbol,
        interest_rate_model  = EXCLUDED.interest_rate_model,
        is_supported         = EXCLUDED.is_supported,
        is_suspended         = EXCLUDED.is_suspended,
        block_number         = EXCLUDED.block_number,
        total_supply         = EXCLUDED.total_supply,
        total_borrows        = EXCLUDED.total_borrows,
        supply_rate_mantissa = EXCLUDED.supply_rate_mantissa,
        borrow_rate_mantissa = EXCLUDED.borrow_rate_mantissa,
        supply_index         = EXCLUDED.supply_index,
        borrow_index         = EXCLUDED.borrow_index,
        price_in_wei         = EXCLUDED.price_in_wei,
        updated_at           = NOW();`

	selectAssetSQL = `SELECT
        id,
        account,
        supply_principal,
        supply_interest_last_change,
        total_supply_interest,
        supply_interest_index,
        borrow_principal,
        borrow_interest_last_change,
        total_borrow_interest,
        borrow_interest_index,
        transaction_hashes,
        transaction_times
    FROM assets`

	upsertAssetSQL = `INSERT INTO assets (
        id,
        account,
        supply_principal,
        supply_interest_last_change,
        total_supply_interest,
        supply_interest_index,
        borrow_principal,
        borrow_interest_last_change,
        total_borrow_interest,
        borrow_interest_index,
        transaction_hashes,
        transaction_times
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (id) DO UPDATE
    SET
        account                     = EXCLUDED.account,
        supply_principal            = EXCLUDED.supply_principal,
        supply_interest_last_change = EXCLUDED.supply_interest_last_change,
        total_supply_interest       = EXCLUDED.total_supply_interest,
        supply_interest_index       = EXCLUDED.supply_interest_index,
        borrow_principal            = EXCLUDED.borrow_principal,
        borrow_interest_last_change = EXCLUDED.borrow_interest_last_change,
        total_borrow_interest       = EXCLUDED.total_borrow_interest,
        borrow_interest_index       = EXCLUDED.borrow_interest_index,
        transaction_hashes          = EXCLUDED.transaction_hashes,
        transaction_times           = EXCLUDED.transaction_times,
        updated_at                  = NOW();`

	selectAccountSQL = `SELECT id, created_block FROM accounts WHERE id = $1;`

	upsertAccountSQL = `INSERT INTO accounts (id, created_block) VALUES ($1, $2)
    ON CONFLICT (id) DO NOTHING;`

	selectParamsSQL = `SELECT
        id,
        collateral_ratio_mantissa,
        liquidation_discount_mantissa,
        origination_fee_mantissa,
        blocks_per_year
    FROM protocol_parameters
    WHERE id = $1;`

	upsertParamsSQL = `INSERT INTO protocol_parameters (
        id,
        collateral_ratio_mantissa,
        liquidation_discount_mantissa,
        origination_fee_mantissa,
        blocks_per_year
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (id) DO UPDATE
    SET
        collateral_ratio_mantissa     = EXCLUDED.collateral_ratio_mantissa,
        liquidation_discount_mantissa = EXCLUDED.liquidation_discount_mantissa,
        origination_fee_mantissa      = EXCLUDED.origination_fee_mantissa,
        blocks_per_year               = EXCLUDED.blocks_per_year;`

	isProcessedSQL = `SELECT EXISTS (
        SELECT 1 FROM processed_events WHERE tx_hash = $1 AND log_index = $2
    );`

	insertProcessedSQL = `INSERT INTO processed_events (
        tx_hash,
        log_index,
        kind,
        block_number,
        processed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (tx_hash, log_index) DO NOTHING;`

	countProcessedSQL = `SELECT COUNT(*) FROM processed_events;`

	selectCursorSQL = `SELECT block_number FROM sync_cursors WHERE name = $1;`

	upsertCursorSQL = `INSERT INTO sync_cursors (name, block_number) VALUES ($1, $2)
    ON CONFLICT (name) DO UPDATE
    SET block_number = EXCLUDED.block_number,
        updated_at   = NOW();`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists the ledger in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Atomic runs fn inside one database transaction.
func (s *Postgres) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return fn(pgEntities{q: tx})
	})
}

// Cursor returns the last fully processed block recorded under name.
func (s *Postgres) Cursor(ctx context.Context, name string) (int64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}
	var block int64
	if err := pool.QueryRow(ctx, selectCursorSQL, name).Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load cursor %s: %w", name, err)
	}
	return block, true, nil
}

// SaveCursor records the last fully processed block under name.
func (s *Postgres) SaveCursor(ctx context.Context, name string, block int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertCursorSQL, name, block); err != nil {
		return fmt.Errorf("save cursor %s: %w", name, err)
	}
	return nil
}

// ListMarkets returns every market ordered by symbol.
func (s *Postgres) ListMarkets(ctx context.Context) ([]Market, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, selectMarketSQL+` ORDER BY symbol;`)
	if queryErr != nil {
		return nil, fmt.Errorf("list markets: %w", queryErr)
	}
	defer rows.Close()

	markets := make([]Market, 0)
	for rows.Next() {
		market, scanErr := scanMarket(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		markets = append(markets, market)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return markets, nil
}

// ListAssetsByAccount returns an account's positions ordered by key.
func (s *Postgres) ListAssetsByAccount(ctx context.Context, account string) ([]Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, selectAssetSQL+` WHERE account = $1 ORDER BY id;`, account)
	if queryErr != nil {
		return nil, fmt.Errorf("list assets: %w", queryErr)
	}
	defer rows.Close()

	assets := make([]Asset, 0)
	for rows.Next() {
		asset, scanErr := scanAsset(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		assets = append(assets, asset)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return assets, nil
}

// CountProcessed counts journaled events.
func (s *Postgres) CountProcessed(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countProcessedSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count processed events: %w", scanErr)
	}
	return count, nil
}

// pgEntities implements Tx over a pgx transaction.
type pgEntities struct {
	q querier
}

func (e pgEntities) LoadMarket(ctx context.Context, id string) (Market, bool, error) {
	rows, err := e.q.Query(ctx, selectMarketSQL+` WHERE id = $1;`, id)
	if err != nil {
		return Market{}, false, fmt.Errorf("load market %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Market{}, false, rows.Err()
	}
	market, err := scanMarket(rows)
	if err != nil {
		return Market{}, false, err
	}
	return market, true, nil
}

func (e pgEntities) SaveMarket(ctx context.Context, m Market) error {
	_, err := e.q.Exec(ctx, upsertMarketSQL,
		m.ID,
		m.Symbol,
		m.InterestRateModel,
		m.IsSupported,
		m.IsSuspended,
		m.BlockNumber,
		m.TotalSupply.String(),
		m.TotalBorrows.String(),
		m.SupplyRateMantissa.String(),
		m.BorrowRateMantissa.String(),
		m.SupplyIndex.String(),
		m.BorrowIndex.String(),
		m.PriceInWei.String(),
	)
	if err != nil {
		return fmt.Errorf("save market %s: %w", m.ID, err)
	}
	return nil
}

func (e pgEntities) LoadAsset(ctx context.Context, id string) (Asset, bool, error) {
	rows, err := e.q.Query(ctx, selectAssetSQL+` WHERE id = $1;`, id)
	if err != nil {
		return Asset{}, false, fmt.Errorf("load asset %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Asset{}, false, rows.Err()
	}
	asset, err := scanAsset(rows)
	if err != nil {
		return Asset{}, false, err
	}
	return asset, true, nil
}

func (e pgEntities) SaveAsset(ctx context.Context, a Asset) error {
	hashes := a.TransactionHashes
	if hashes == nil {
		hashes = []string{}
	}
	times := a.TransactionTimes
	if times == nil {
		times = []int64{}
	}

	_, err := e.q.Exec(ctx, upsertAssetSQL,
		a.ID,
		a.Account,
		nullDecimalArg(a.SupplyPrincipal),
		nullDecimalArg(a.SupplyInterestLastChange),
		nullDecimalArg(a.TotalSupplyInterest),
		nullDecimalArg(a.SupplyInterestIndex),
		nullDecimalArg(a.BorrowPrincipal),
		nullDecimalArg(a.BorrowInterestLastChange),
		nullDecimalArg(a.TotalBorrowInterest),
		nullDecimalArg(a.BorrowInterestIndex),
		hashes,
		times,
	)
	if err != nil {
		return fmt.Errorf("save asset %s: %w", a.ID, err)
	}
	return nil
}

func (e pgEntities) LoadAccount(ctx context.Context, id string) (Account, bool, error) {
	var acc Account
	if err := e.q.QueryRow(ctx, selectAccountSQL, id).Scan(&acc.ID, &acc.CreatedBlock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, false, nil
		}
		return Account{}, false, fmt.Errorf("load account %s: %w", id, err)
	}
	return acc, true, nil
}

func (e pgEntities) SaveAccount(ctx context.Context, acc Account) error {
	if _, err := e.q.Exec(ctx, upsertAccountSQL, acc.ID, acc.CreatedBlock); err != nil {
		return fmt.Errorf("save account %s: %w", acc.ID, err)
	}
	return nil
}

func (e pgEntities) LoadProtocolParameters(ctx context.Context) (ProtocolParameters, bool, error) {
	var (
		params        ProtocolParameters
		collateralStr string
		discountStr   string
		feeStr        string
	)
	err := e.q.QueryRow(ctx, selectParamsSQL, ProtocolParametersID).Scan(
		&params.ID,
		&collateralStr,
		&discountStr,
		&feeStr,
		&params.BlocksPerYear,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProtocolParameters{}, false, nil
		}
		return ProtocolParameters{}, false, fmt.Errorf("load protocol parameters: %w", err)
	}

	if params.CollateralRatioMantissa, err = decimal.NewFromString(collateralStr); err != nil {
		return ProtocolParameters{}, false, fmt.Errorf("parse collateral ratio: %w", err)
	}
	if params.LiquidationDiscountMantissa, err = decimal.NewFromString(discountStr); err != nil {
		return ProtocolParameters{}, false, fmt.Errorf("parse liquidation discount: %w", err)
	}
	if params.OriginationFeeMantissa, err = decimal.NewFromString(feeStr); err != nil {
		return ProtocolParameters{}, false, fmt.Errorf("parse origination fee: %w", err)
	}
	return params, true, nil
}

func (e pgEntities) SaveProtocolParameters(ctx context.Context, p ProtocolParameters) error {
	_, err := e.q.Exec(ctx, upsertParamsSQL,
		p.ID,
		p.CollateralRatioMantissa.String(),
		p.LiquidationDiscountMantissa.String(),
		p.OriginationFeeMantissa.String(),
		p.BlocksPerYear,
	)
	if err != nil {
		return fmt.Errorf("save protocol parameters: %w", err)
	}
	return nil
}

func (e pgEntities) IsProcessed(ctx context.Context, txHash string, logIndex int64) (bool, error) {
	var exists bool
	if err := e.q.QueryRow(ctx, isProcessedSQL, txHash, logIndex).Scan(&exists); err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return exists, nil
}

func (e pgEntities) MarkProcessed(ctx context.Context, rec ProcessedEvent) error {
	_, err := e.q.Exec(ctx, insertProcessedSQL,
		rec.TxHash,
		rec.LogIndex,
		rec.Kind,
		rec.BlockNumber,
		rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("mark processed event: %w", err)
	}
	return nil
}

func nullDecimalArg(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func scanMarket(rows pgx.Rows) (Market, error) {
	var (
		m                                 Market
		totalSupply, totalBorrows         string
		supplyRate, borrowRate            string
		supplyIndex, borrowIndex, priceIn string
	)

	if err := rows.Scan(
		&m.ID,
		&m.Symbol,
		&m.InterestRateModel,
		&m.IsSupported,
		&m.IsSuspended,
		&m.BlockNumber,
		&totalSupply,
		&totalBorrows,
		&supplyRate,
		&borrowRate,
		&supplyIndex,
		&borrowIndex,
		&priceIn,
	); err != nil {
		return Market{}, err
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"total_supply", totalSupply, &m.TotalSupply},
		{"total_borrows", totalBorrows, &m.TotalBorrows},
		{"supply_rate_mantissa", supplyRate, &m.SupplyRateMantissa},
		{"borrow_rate_mantissa", borrowRate, &m.BorrowRateMantissa},
		{"supply_index", supplyIndex, &m.SupplyIndex},
		{"borrow_index", borrowIndex, &m.BorrowIndex},
		{"price_in_wei", priceIn, &m.PriceInWei},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Market{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return m, nil
}

func scanAsset(rows pgx.Rows) (Asset, error) {
	var (
		a    Asset
		raws [8]sql.NullString
	)

	if err := rows.Scan(
		&a.ID,
		&a.Account,
		&raws[0],
		&raws[1],
		&raws[2],
		&raws[3],
		&raws[4],
		&raws[5],
		&raws[6],
		&raws[7],
		&a.TransactionHashes,
		&a.TransactionTimes,
	); err != nil {
		return Asset{}, err
	}

	dsts := [8]*decimal.NullDecimal{
		&a.SupplyPrincipal,
		&a.SupplyInterestLastChange,
		&a.TotalSupplyInterest,
		&a.SupplyInterestIndex,
		&a.BorrowPrincipal,
		&a.BorrowInterestLastChange,
		&a.TotalBorrowInterest,
		&a.BorrowInterestIndex,
	}
	for i, raw := range raws {
		if !raw.Valid {
			continue
		}
		v, err := decimal.NewFromString(raw.String)
		if err != nil {
			return Asset{}, fmt.Errorf("parse asset %s column %d: %w", a.ID, i, err)
		}
		*dsts[i] = decimal.NewNullDecimal(v)
	}
	return a, nil
}

var (
	_ Store          = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
	_ Tx             = pgEntities{}
)
