package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bucketd/internal/basket"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")

	// ErrBasketNotFound indicates the named basket has no stored row.
	ErrBasketNotFound = errors.New("storage: basket not found")
)

const (
	upsertBasketSQL = `INSERT INTO baskets (
        name,
        reserve_mint,
        custody,
        authority,
        rebalance_authority
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (name) DO UPDATE
    SET
        reserve_mint        = EXCLUDED.reserve_mint,
        custody             = EXCLUDED.custody,
        authority           = EXCLUDED.authority,
        rebalance_authority = EXCLUDED.rebalance_authority;`

	deleteCollateralSQL = `DELETE FROM basket_collateral WHERE basket_name = $1;`

	insertCollateralSQL = `INSERT INTO basket_collateral (
        basket_name,
        position,
        asset,
        allocation_bps
    ) VALUES (
        $1,$2,$3,$4
    );`

	getBasketSQL = `SELECT
        name,
        reserve_mint,
        custody,
        authority,
        rebalance_authority
    FROM baskets
    WHERE name = $1;`

	getCollateralSQL = `SELECT
        asset,
        allocation_bps
    FROM basket_collateral
    WHERE basket_name = $1
    ORDER BY position;`

	listBasketNamesSQL = `SELECT name FROM baskets ORDER BY name;`

	insertOperationSQL = `INSERT INTO operations (
        basket_name,
        kind,
        caller,
        asset,
        amount_in,
        amount_out,
        detail,
        status
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	listRecentOperationsSQL = `SELECT
        id,
        basket_name,
        kind,
        caller,
        asset,
        amount_in,
        amount_out,
        detail,
        status,
        created_at
    FROM operations
    WHERE basket_name = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	insertDriftSampleSQL = `INSERT INTO drift_samples (
        basket_name,
        bucket_ts,
        asset,
        target_bps,
        actual_bps,
        drift_bps,
        value_usd
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (basket_name, bucket_ts, asset) DO UPDATE
    SET target_bps = EXCLUDED.target_bps,
        actual_bps = EXCLUDED.actual_bps,
        drift_bps  = EXCLUDED.drift_bps,
        value_usd  = EXCLUDED.value_usd;`

	listDriftSamplesBetweenSQL = `SELECT
        basket_name,
        bucket_ts,
        asset,
        target_bps,
        actual_bps,
        drift_bps,
        value_usd,
        created_at
    FROM drift_samples
    WHERE basket_name = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts, asset;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// BasketStore defines operations for basket persistence.
type BasketStore interface {
	SaveBasket(ctx context.Context, b *basket.Basket) error
	GetBasket(ctx context.Context, name string) (*basket.Basket, error)
	ListBasketNames(ctx context.Context) ([]string, error)
}

// OperationStore defines operations for the accounting journal.
type OperationStore interface {
	InsertOperation(ctx context.Context, rec OperationRecord) (OperationRecord, error)
	ListRecentOperations(ctx context.Context, basketName string, limit int) ([]OperationRecord, error)
}

// DriftStore defines operations for drift sample persistence.
type DriftStore interface {
	InsertDriftSample(ctx context.Context, sample DriftSample) error
	ListDriftSamplesBetween(ctx context.Context, basketName string, from, to time.Time) ([]DriftSample, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to baskets, the operation journal and drift samples.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key) // unlock is best effort
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveBasket persists the basket row and replaces its collateral entries
// inside a single transaction so the allocation ledger never appears torn.
func (s *Store) SaveBasket(ctx context.Context, b *basket.Basket) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save basket: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, execErr := tx.Exec(ctx, upsertBasketSQL,
		b.Name,
		b.ReserveMint.Hex(),
		b.Custody.Hex(),
		b.Authority.Hex(),
		b.RebalanceAuthority.Hex(),
	); execErr != nil {
		return fmt.Errorf("upsert basket: %w", execErr)
	}

	if _, execErr := tx.Exec(ctx, deleteCollateralSQL, b.Name); execErr != nil {
		return fmt.Errorf("clear basket collateral: %w", execErr)
	}

	for position, entry := range b.Collateral {
		if _, execErr := tx.Exec(ctx, insertCollateralSQL,
			b.Name,
			position,
			entry.Asset.Hex(),
			int32(entry.AllocationBps),
		); execErr != nil {
			return fmt.Errorf("insert basket collateral: %w", execErr)
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return fmt.Errorf("commit save basket: %w", commitErr)
	}
	return nil
}

// GetBasket reconstructs a basket with its collateral entries in insertion order.
func (s *Store) GetBasket(ctx context.Context, name string) (*basket.Basket, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		b                  basket.Basket
		reserveMint        string
		custody            string
		authority          string
		rebalanceAuthority string
	)
	if scanErr := pool.QueryRow(ctx, getBasketSQL, name).Scan(
		&b.Name,
		&reserveMint,
		&custody,
		&authority,
		&rebalanceAuthority,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrBasketNotFound
		}
		return nil, fmt.Errorf("get basket: %w", scanErr)
	}
	b.ReserveMint = common.HexToAddress(reserveMint)
	b.Custody = common.HexToAddress(custody)
	b.Authority = common.HexToAddress(authority)
	b.RebalanceAuthority = common.HexToAddress(rebalanceAuthority)

	rows, queryErr := pool.Query(ctx, getCollateralSQL, name)
	if queryErr != nil {
		return nil, fmt.Errorf("get basket collateral: %w", queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			asset string
			bps   int32
		)
		if err := rows.Scan(&asset, &bps); err != nil {
			return nil, err
		}
		b.Collateral = append(b.Collateral, basket.CollateralEntry{
			Asset:         common.HexToAddress(asset),
			AllocationBps: uint16(bps),
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return &b, nil
}

// ListBasketNames lists all stored basket names.
func (s *Store) ListBasketNames(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBasketNamesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list basket names: %w", queryErr)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return names, nil
}

// InsertOperation appends one journal entry and returns it with its assigned id.
func (s *Store) InsertOperation(ctx context.Context, rec OperationRecord) (OperationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return OperationRecord{}, err
	}

	detail := rec.Detail
	if detail == nil {
		detail = []byte("{}")
	}

	row := pool.QueryRow(ctx, insertOperationSQL,
		rec.Basket,
		rec.Kind,
		rec.Caller,
		rec.Asset,
		rec.AmountIn.String(),
		rec.AmountOut.String(),
		[]byte(detail),
		rec.Status,
	)
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return OperationRecord{}, fmt.Errorf("insert operation: %w", scanErr)
	}
	return rec, nil
}

// ListRecentOperations lists the most recent journal entries for one basket.
func (s *Store) ListRecentOperations(ctx context.Context, basketName string, limit int) ([]OperationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOperationsSQL, basketName, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent operations: %w", queryErr)
	}
	defer rows.Close()

	records := make([]OperationRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanOperation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertDriftSample persists or updates a drift sample.
func (s *Store) InsertDriftSample(ctx context.Context, sample DriftSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertDriftSampleSQL,
		sample.Basket,
		sample.Bucket,
		sample.Asset,
		sample.TargetBps,
		sample.ActualBps,
		sample.DriftBps,
		sample.ValueUSD.String(),
	); execErr != nil {
		return fmt.Errorf("insert drift sample: %w", execErr)
	}
	return nil
}

// ListDriftSamplesBetween lists drift samples within a time window.
func (s *Store) ListDriftSamplesBetween(ctx context.Context, basketName string, from, to time.Time) ([]DriftSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDriftSamplesBetweenSQL, basketName, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list drift samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]DriftSample, 0)
	for rows.Next() {
		var (
			sample   DriftSample
			valueStr string
		)
		if err := rows.Scan(
			&sample.Basket,
			&sample.Bucket,
			&sample.Asset,
			&sample.TargetBps,
			&sample.ActualBps,
			&sample.DriftBps,
			&valueStr,
			&sample.CreatedAt,
		); err != nil {
			return nil, err
		}

		value, convErr := decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse drift value: %w", convErr)
		}
		sample.ValueUSD = value

		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanOperation(rows pgx.Rows) (OperationRecord, error) {
	var (
		rec          OperationRecord
		amountInStr  string
		amountOutStr string
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.Basket,
		&rec.Kind,
		&rec.Caller,
		&rec.Asset,
		&amountInStr,
		&amountOutStr,
		&rec.Detail,
		&rec.Status,
		&rec.CreatedAt,
	); err != nil {
		return OperationRecord{}, err
	}

	var convErr error
	rec.AmountIn, convErr = decimal.NewFromString(amountInStr)
	if convErr != nil {
		return OperationRecord{}, fmt.Errorf("parse amount in: %w", convErr)
	}
	rec.AmountOut, convErr = decimal.NewFromString(amountOutStr)
	if convErr != nil {
		return OperationRecord{}, fmt.Errorf("parse amount out: %w", convErr)
	}

	return rec, nil
}
