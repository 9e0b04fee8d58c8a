package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrFull is returned by Enqueue when accepting the record would push
// queue_bytes over the configured ceiling.
var ErrFull = errors.New("queue: full")

// Store is the SQLite-backed persistence layer for the dispatch queue. It
// owns queue_pending, queue_inflight, and queue_meta, sharing the *sql.DB
// the relay opens once for the whole process.
type Store struct {
	db       *sql.DB
	maxBytes int64
}

func NewStore(db *sql.DB, maxBytes int64) *Store {
	return &Store{db: db, maxBytes: maxBytes}
}

// Migrate creates the queue tables and initializes queue_meta if absent,
// recomputing queue_bytes from the persisted rows when it is missing.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS queue_pending (
			seq INTEGER PRIMARY KEY,
			record BLOB NOT NULL,
			send_after_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_pending_send_after ON queue_pending(send_after_ms, seq);`,
		`CREATE TABLE IF NOT EXISTS queue_inflight (
			seq INTEGER PRIMARY KEY,
			record BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS queue_meta (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("queue: migrate: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: migrate tx: %w", err)
	}
	defer tx.Rollback()

	if _, ok, err := metaGet(ctx, tx, "next_seq"); err != nil {
		return err
	} else if !ok {
		if err := metaSet(ctx, tx, "next_seq", 1); err != nil {
			return err
		}
	}
	if _, ok, err := metaGet(ctx, tx, "queue_bytes"); err != nil {
		return err
	} else if !ok {
		var sum int64
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(length(record)), 0) FROM (
				SELECT record FROM queue_pending
				UNION ALL
				SELECT record FROM queue_inflight
			)`).Scan(&sum); err != nil {
			return fmt.Errorf("queue: recompute queue_bytes: %w", err)
		}
		if err := metaSet(ctx, tx, "queue_bytes", sum); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func metaGet(ctx context.Context, tx *sql.Tx, key string) (int64, bool, error) {
	var v int64
	err := tx.QueryRowContext(ctx, `SELECT value FROM queue_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("queue: meta get %s: %w", key, err)
	}
	return v, true, nil
}

func metaSet(ctx context.Context, tx *sql.Tx, key string, value int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO queue_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("queue: meta set %s: %w", key, err)
	}
	return nil
}

func metaAdd(ctx context.Context, tx *sql.Tx, key string, delta int64) (int64, error) {
	cur, _, err := metaGet(ctx, tx, key)
	if err != nil {
		return 0, err
	}
	next := cur + delta
	if err := metaSet(ctx, tx, key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Enqueue persists rec under a freshly allocated, strictly increasing
// sequence number, failing with ErrFull if it would exceed queue_max_bytes.
func (s *Store) Enqueue(ctx context.Context, rec Record) error {
	encoded, err := rec.Encode()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: enqueue begin: %w", err)
	}
	defer tx.Rollback()

	curBytes, _, err := metaGet(ctx, tx, "queue_bytes")
	if err != nil {
		return err
	}
	if s.maxBytes > 0 && curBytes+int64(len(encoded)) > s.maxBytes {
		return ErrFull
	}

	seq, _, err := metaGet(ctx, tx, "next_seq")
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO queue_pending (seq, record, send_after_ms) VALUES (?, ?, ?)`,
		seq, encoded, rec.SendAfterMS); err != nil {
		return fmt.Errorf("queue: insert pending: %w", err)
	}
	if err := metaSet(ctx, tx, "next_seq", seq+1); err != nil {
		return err
	}
	if _, err := metaAdd(ctx, tx, "queue_bytes", int64(len(encoded))); err != nil {
		return err
	}
	return tx.Commit()
}

// Claimed is a record moved into queue_inflight, identified by its
// inflight sequence number so the worker can later Complete/Retry/Drop it.
type Claimed struct {
	Seq    int64
	Record Record
}

// Claim moves the oldest ready (send_after_ms <= nowMS) pending record into
// queue_inflight and returns it. ok is false (with a nil error) if nothing
// is ready yet.
func (s *Store) Claim(ctx context.Context, nowMS int64) (Claimed, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Claimed{}, false, fmt.Errorf("queue: claim begin: %w", err)
	}
	defer tx.Rollback()

	var (
		seq    int64
		record []byte
	)
	row := tx.QueryRowContext(ctx, `
		SELECT seq, record FROM queue_pending
		WHERE send_after_ms <= ?
		ORDER BY seq ASC
		LIMIT 1`, nowMS)
	if err := row.Scan(&seq, &record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Claimed{}, false, nil
		}
		return Claimed{}, false, fmt.Errorf("queue: claim scan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_pending WHERE seq = ?`, seq); err != nil {
		return Claimed{}, false, fmt.Errorf("queue: claim delete pending: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO queue_inflight (seq, record) VALUES (?, ?)`, seq, record); err != nil {
		return Claimed{}, false, fmt.Errorf("queue: claim insert inflight: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Claimed{}, false, fmt.Errorf("queue: claim commit: %w", err)
	}

	rec, err := DecodeRecord(record)
	if err != nil {
		return Claimed{}, false, err
	}
	return Claimed{Seq: seq, Record: rec}, true, nil
}

// Complete removes a resolved inflight record (delivered, or its target
// subscription no longer exists) and decrements queue_bytes.
func (s *Store) Complete(ctx context.Context, seq int64) error {
	return s.dropInflight(ctx, seq)
}

// Drop removes a terminally-failed inflight record (dead subscription,
// payload too large, attempts exhausted) and decrements queue_bytes.
func (s *Store) Drop(ctx context.Context, seq int64) error {
	return s.dropInflight(ctx, seq)
}

func (s *Store) dropInflight(ctx context.Context, seq int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: drop begin: %w", err)
	}
	defer tx.Rollback()

	var recordLen int64
	if err := tx.QueryRowContext(ctx, `SELECT length(record) FROM queue_inflight WHERE seq = ?`, seq).Scan(&recordLen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx.Commit()
		}
		return fmt.Errorf("queue: drop select: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_inflight WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("queue: drop delete: %w", err)
	}
	if _, err := metaAdd(ctx, tx, "queue_bytes", -recordLen); err != nil {
		return err
	}
	return tx.Commit()
}

// Retry moves an inflight record back to pending with attempts
// incremented and a new send_after_ms, under a freshly allocated
// sequence number. Net queue_bytes change is zero since the re-encoded
// record is the same length (attempts is a fixed-width field).
func (s *Store) Retry(ctx context.Context, seq int64, rec Record, newSendAfterMS int64) error {
	rec.Attempts++
	rec.SendAfterMS = newSendAfterMS
	encoded, err := rec.Encode()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: retry begin: %w", err)
	}
	defer tx.Rollback()

	var oldLen int64
	if err := tx.QueryRowContext(ctx, `SELECT length(record) FROM queue_inflight WHERE seq = ?`, seq).Scan(&oldLen); err != nil {
		return fmt.Errorf("queue: retry select: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_inflight WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("queue: retry delete inflight: %w", err)
	}

	newSeq, _, err := metaGet(ctx, tx, "next_seq")
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO queue_pending (seq, record, send_after_ms) VALUES (?, ?, ?)`,
		newSeq, encoded, rec.SendAfterMS); err != nil {
		return fmt.Errorf("queue: retry insert pending: %w", err)
	}
	if err := metaSet(ctx, tx, "next_seq", newSeq+1); err != nil {
		return err
	}
	if _, err := metaAdd(ctx, tx, "queue_bytes", int64(len(encoded))-oldLen); err != nil {
		return err
	}
	return tx.Commit()
}

// RecoverInflight moves every row stranded in queue_inflight (by a prior
// crash) back into queue_pending with attempts incremented and
// send_after_ms reset to nowMS, each under a freshly allocated sequence
// number. Resolves the inflight-recovery open question from spec §9 in
// favor of forward progress over leaving records stuck until an operator
// intervenes.
func (s *Store) RecoverInflight(ctx context.Context, nowMS int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("queue: recover begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT seq, record FROM queue_inflight`)
	if err != nil {
		return 0, fmt.Errorf("queue: recover select: %w", err)
	}
	type stranded struct {
		seq    int64
		record []byte
	}
	var all []stranded
	for rows.Next() {
		var st stranded
		if err := rows.Scan(&st.seq, &st.record); err != nil {
			rows.Close()
			return 0, fmt.Errorf("queue: recover scan: %w", err)
		}
		all = append(all, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	nextSeq, _, err := metaGet(ctx, tx, "next_seq")
	if err != nil {
		return 0, err
	}

	for _, st := range all {
		rec, err := DecodeRecord(st.record)
		if err != nil {
			return 0, err
		}
		rec.Attempts++
		rec.SendAfterMS = nowMS
		encoded, err := rec.Encode()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_inflight WHERE seq = ?`, st.seq); err != nil {
			return 0, fmt.Errorf("queue: recover delete inflight: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO queue_pending (seq, record, send_after_ms) VALUES (?, ?, ?)`,
			nextSeq, encoded, rec.SendAfterMS); err != nil {
			return 0, fmt.Errorf("queue: recover insert pending: %w", err)
		}
		// Length is unchanged (attempts is fixed-width), so queue_bytes
		// needs no adjustment; only next_seq advances.
		nextSeq++
	}
	if len(all) > 0 {
		if err := metaSet(ctx, tx, "next_seq", nextSeq); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("queue: recover commit: %w", err)
	}
	return len(all), nil
}

// Ping checks that the underlying database connection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Bytes returns the current queue_bytes accounting value.
func (s *Store) Bytes(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	v, _, err := metaGet(ctx, tx, "queue_bytes")
	return v, err
}
