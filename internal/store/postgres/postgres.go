// Package postgres is a pgx-backed reference implementation of the store
// contract (internal/store). It is a collaborator, not a required part of
// streamcore's core surface: any implementation of the store interfaces
// works equally well, including an in-memory one used by tests.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pumpfun-indexer/streamcore/internal/store"
)

// Store wraps a pgx pool and implements every store.*Store interface
// against a single PostgreSQL schema.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses dsn and opens a connection pool sized for the ingest plane's
// moderate write volume (trades, slots) plus bursty snapshot writes.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: open pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) UpsertToken(ctx context.Context, t store.TokenRecord) error {
	q := `INSERT INTO tokens (mint, symbol, name, creator, first_seen_at, market_cap_usd, graduated_to_pool, graduation_at, pool_trade_count)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (mint) DO UPDATE SET
	        symbol = EXCLUDED.symbol,
	        name = EXCLUDED.name,
	        market_cap_usd = EXCLUDED.market_cap_usd,
	        graduated_to_pool = EXCLUDED.graduated_to_pool,
	        graduation_at = EXCLUDED.graduation_at,
	        pool_trade_count = EXCLUDED.pool_trade_count`
	_, err := s.pool.Exec(ctx, q, t.Mint, t.Symbol, t.Name, t.Creator, t.FirstSeenAt, t.MarketCapUSD, t.GraduatedToPool, t.GraduationAt, t.PoolTradeCount)
	if err != nil {
		return fmt.Errorf("store/postgres: upsert token: %w", err)
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, mint string) (store.TokenRecord, bool, error) {
	q := `SELECT mint, symbol, name, creator, first_seen_at, market_cap_usd, graduated_to_pool, graduation_at, pool_trade_count
	      FROM tokens WHERE mint = $1`
	var t store.TokenRecord
	err := s.pool.QueryRow(ctx, q, mint).Scan(&t.Mint, &t.Symbol, &t.Name, &t.Creator, &t.FirstSeenAt, &t.MarketCapUSD, &t.GraduatedToPool, &t.GraduationAt, &t.PoolTradeCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.TokenRecord{}, false, nil
	}
	if err != nil {
		return store.TokenRecord{}, false, fmt.Errorf("store/postgres: get token: %w", err)
	}
	return t, true, nil
}

func (s *Store) MarkGraduated(ctx context.Context, mint string, at time.Time) error {
	q := `UPDATE tokens SET graduated_to_pool = true, graduation_at = $2 WHERE mint = $1`
	_, err := s.pool.Exec(ctx, q, mint, at)
	if err != nil {
		return fmt.Errorf("store/postgres: mark graduated: %w", err)
	}
	return nil
}

func (s *Store) IncrementPoolTradeCount(ctx context.Context, mint string) (int64, error) {
	q := `UPDATE tokens SET pool_trade_count = pool_trade_count + 1 WHERE mint = $1 RETURNING pool_trade_count`
	var count int64
	if err := s.pool.QueryRow(ctx, q, mint).Scan(&count); err != nil {
		return 0, fmt.Errorf("store/postgres: increment pool trade count: %w", err)
	}
	return count, nil
}

func (s *Store) InsertTrade(ctx context.Context, t store.TradeRecord) error {
	q := `INSERT INTO trades (signature, slot, mint, trader, is_buy, amount_in, amount_out, at, source)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (signature, slot) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, t.Signature, t.Slot, t.Mint, t.Trader, t.IsBuy, t.AmountIn, t.AmountOut, t.At, t.Source)
	if err != nil {
		return fmt.Errorf("store/postgres: insert trade: %w", err)
	}
	return nil
}

func (s *Store) UpsertSlot(ctx context.Context, rec store.SlotSummary) error {
	q := `INSERT INTO slots (slot, parent_slot, status, tx_count, success_count, fail_count, fork_detected)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)
	      ON CONFLICT (slot) DO UPDATE SET
	        status = EXCLUDED.status,
	        tx_count = EXCLUDED.tx_count,
	        success_count = EXCLUDED.success_count,
	        fail_count = EXCLUDED.fail_count,
	        fork_detected = slots.fork_detected OR EXCLUDED.fork_detected`
	_, err := s.pool.Exec(ctx, q, rec.Slot, rec.ParentSlot, rec.Status, rec.TxCount, rec.SuccessCount, rec.FailCount, rec.ForkDetected)
	if err != nil {
		return fmt.Errorf("store/postgres: upsert slot: %w", err)
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, mint string) (store.Snapshot, bool, error) {
	q := `SELECT mint, captured_at, total_holders, gini, hhi, top10_pct, top25_pct, top100_pct,
	             median_hold_duration_ns, mean_hold_duration_ns, score, score_breakdown, content_hash
	      FROM holder_snapshots WHERE mint = $1 ORDER BY captured_at DESC LIMIT 1`
	var snap store.Snapshot
	var breakdown []byte
	var medianNS, meanNS int64
	err := s.pool.QueryRow(ctx, q, mint).Scan(&snap.Mint, &snap.CapturedAt, &snap.TotalHolders, &snap.Gini, &snap.HHI,
		&snap.Top10Pct, &snap.Top25Pct, &snap.Top100Pct, &medianNS, &meanNS, &snap.Score, &breakdown, &snap.ContentHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Snapshot{}, false, nil
	}
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("store/postgres: latest snapshot: %w", err)
	}
	snap.MedianHoldDuration = time.Duration(medianNS)
	snap.MeanHoldDuration = time.Duration(meanNS)
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &snap.ScoreBreakdown); err != nil {
			return store.Snapshot{}, false, fmt.Errorf("store/postgres: decode score breakdown: %w", err)
		}
	}
	return snap, true, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snap store.Snapshot) error {
	breakdown, err := json.Marshal(snap.ScoreBreakdown)
	if err != nil {
		return fmt.Errorf("store/postgres: encode score breakdown: %w", err)
	}
	q := `INSERT INTO holder_snapshots
	      (mint, captured_at, total_holders, gini, hhi, top10_pct, top25_pct, top100_pct,
	       median_hold_duration_ns, mean_hold_duration_ns, score, score_breakdown, content_hash)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err = s.pool.Exec(ctx, q, snap.Mint, snap.CapturedAt, snap.TotalHolders, snap.Gini, snap.HHI,
		snap.Top10Pct, snap.Top25Pct, snap.Top100Pct, int64(snap.MedianHoldDuration), int64(snap.MeanHoldDuration),
		snap.Score, breakdown, snap.ContentHash)
	if err != nil {
		return fmt.Errorf("store/postgres: save snapshot: %w", err)
	}
	return nil
}

func (s *Store) SaveJob(ctx context.Context, j store.JobRecord) error {
	q := `INSERT INTO jobs (id, type, state, priority, attempts, max_attempts, created_at, last_error)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	      ON CONFLICT (id) DO UPDATE SET
	        state = EXCLUDED.state,
	        attempts = EXCLUDED.attempts,
	        last_error = EXCLUDED.last_error`
	_, err := s.pool.Exec(ctx, q, j.ID, j.Type, j.State, j.Priority, j.Attempts, j.MaxAttempts, j.CreatedAt, j.LastError)
	if err != nil {
		return fmt.Errorf("store/postgres: save job: %w", err)
	}
	return nil
}

func (s *Store) LoadPending(ctx context.Context) ([]store.JobRecord, error) {
	q := `SELECT id, type, state, priority, attempts, max_attempts, created_at, last_error
	      FROM jobs WHERE state IN ('waiting', 'delayed', 'active')`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: load pending jobs: %w", err)
	}
	defer rows.Close()

	var out []store.JobRecord
	for rows.Next() {
		var j store.JobRecord
		if err := rows.Scan(&j.ID, &j.Type, &j.State, &j.Priority, &j.Attempts, &j.MaxAttempts, &j.CreatedAt, &j.LastError); err != nil {
			return nil, fmt.Errorf("store/postgres: scan pending job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

var _ store.TokenStore = (*Store)(nil)
var _ store.TradeStore = (*Store)(nil)
var _ store.SlotStore = (*Store)(nil)
var _ store.SnapshotStore = (*Store)(nil)
var _ store.JobStore = (*Store)(nil)
