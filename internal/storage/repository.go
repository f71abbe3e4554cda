package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"utxo-diff-alerts/internal/utxo"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	loadSnapshotSQL = `SELECT height, outputs
    FROM address_snapshots
    WHERE address = $1
      AND network = $2;`

	upsertSnapshotSQL = `INSERT INTO address_snapshots (
        address,
        network,
        height,
        outputs,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,now()
    )
    ON CONFLICT (address, network) DO UPDATE
    SET
        height     = EXCLUDED.height,
        outputs    = EXCLUDED.outputs,
        updated_at = EXCLUDED.updated_at
    WHERE address_snapshots.height <= EXCLUDED.height;`

	insertEventSQL = `INSERT INTO utxo_events (
        address,
        network,
        kind,
        txid,
        vout,
        value_sats,
        confirmed_height,
        height
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (address, network, kind, txid, vout, height) DO NOTHING;`

	listRecentEventsSQL = `SELECT
        id,
        address,
        network,
        kind,
        txid,
        vout,
        value_sats,
        confirmed_height,
        height,
        created_at
    FROM utxo_events
    WHERE ($1 = '' OR address = $1)
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`

	listEventsBetweenSQL = `SELECT
        id,
        address,
        network,
        kind,
        txid,
        vout,
        value_sats,
        confirmed_height,
        height,
        created_at
    FROM utxo_events
    WHERE ($1 = '' OR address = $1)
      AND created_at >= $2
      AND created_at < $3
    ORDER BY created_at, id;`


	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore persists the last known snapshot of each address.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, address, network string) (snap utxo.Snapshot, height int64, found bool, err error)
	SaveSnapshot(ctx context.Context, address, network string, snap utxo.Snapshot, height int64) error
}

// EventStore records poll results and serves the event history.
type EventStore interface {
	RecordPoll(ctx context.Context, rec PollRecord) error
	ListRecentEvents(ctx context.Context, address string, limit int) ([]EventRecord, error)
	ListEventsBetween(ctx context.Context, address string, from, to time.Time) ([]EventRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots and events.
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
		// A failed unlock is released with the session.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
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

// LoadSnapshot returns the stored snapshot for an address, if any.
func (s *Store) LoadSnapshot(ctx context.Context, address, network string) (utxo.Snapshot, int64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return utxo.Snapshot{}, 0, false, err
	}

	var (
		height int64
		raw    []byte
	)
	scanErr := pool.QueryRow(ctx, loadSnapshotSQL, address, network).Scan(&height, &raw)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return utxo.Snapshot{}, 0, false, nil
	}
	if scanErr != nil {
		return utxo.Snapshot{}, 0, false, fmt.Errorf("load snapshot: %w", scanErr)
	}

	snap, err := decodeSnapshot(raw)
	if err != nil {
		return utxo.Snapshot{}, 0, false, err
	}
	return snap, height, true, nil
}

// SaveSnapshot upserts the snapshot of an address. Older heights never overwrite newer ones.
func (s *Store) SaveSnapshot(ctx context.Context, address, network string, snap utxo.Snapshot, height int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	raw, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertSnapshotSQL, address, network, height, raw); execErr != nil {
		return fmt.Errorf("save snapshot: %w", execErr)
	}
	return nil
}

// RecordPoll stores the new snapshot and its events in one transaction.
func (s *Store) RecordPoll(ctx context.Context, rec PollRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	raw, err := encodeSnapshot(rec.Snapshot)
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin record poll: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	batch.Queue(upsertSnapshotSQL, rec.Address, rec.Network, rec.Height, raw)
	for _, ev := range rec.Events {
		batch.Queue(insertEventSQL,
			rec.Address,
			rec.Network,
			ev.Kind.String(),
			ev.Output.TxID,
			int64(ev.Output.Vout),
			ev.Output.ValueSats,
			ev.Output.ConfirmedHeight,
			rec.Height,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record poll: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record poll: %w", err)
	}
	return nil
}

// ListRecentEvents lists the newest events, optionally for one address.
func (s *Store) ListRecentEvents(ctx context.Context, address string, limit int) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, address, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]EventRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// ListEventsBetween lists events recorded within a time window in ascending order.
func (s *Store) ListEventsBetween(ctx context.Context, address string, from, to time.Time) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEventsBetweenSQL, address, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list events between: %w", queryErr)
	}
	defer rows.Close()

	events := make([]EventRecord, 0)
	for rows.Next() {
		rec, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanEvent(rows pgx.Rows) (EventRecord, error) {
	var (
		rec       EventRecord
		kind      string
		vout      int64
		confirmed sql.NullInt64
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.Address,
		&rec.Network,
		&kind,
		&rec.TxID,
		&vout,
		&rec.ValueSats,
		&confirmed,
		&rec.Height,
		&rec.CreatedAt,
	); err != nil {
		return EventRecord{}, err
	}

	parsed, err := utxo.ParseKind(kind)
	if err != nil {
		return EventRecord{}, fmt.Errorf("parse event kind: %w", err)
	}
	rec.Kind = parsed
	rec.Vout = uint32(vout)
	if confirmed.Valid {
		value := confirmed.Int64
		rec.ConfirmedHeight = &value
	}
	return rec, nil
}
