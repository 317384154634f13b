package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"smc-engine/internal/model"
	"smc-engine/internal/smc"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for backfill and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

const barColumns = `token, exchange, tf, ts, open, high, low, close, volume`

// ReadBars reads bars for one exchange:token and TF newer than afterTS (unix
// nanos), ordered by timestamp ascending for correct replay order.
func (r *Reader) ReadBars(exchange, token string, tf int, afterTS int64) ([]model.Bar, error) {
	rows, err := r.db.Query(`
		SELECT `+barColumns+`
		FROM bars_tf
		WHERE exchange = ? AND token = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, token, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars_tf: %w", err)
	}
	return scanBars(rows)
}

// ReadAllBars reads every instrument's bars for a TF, ordered by timestamp.
func (r *Reader) ReadAllBars(tf int, afterTS int64) ([]model.Bar, error) {
	rows, err := r.db.Query(`
		SELECT `+barColumns+`
		FROM bars_tf
		WHERE tf = ? AND ts > ?
		ORDER BY ts ASC, exchange ASC, token ASC
	`, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query all bars_tf: %w", err)
	}
	return scanBars(rows)
}

func scanBars(rows *sql.Rows) ([]model.Bar, error) {
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsNano int64
		var volume sql.NullFloat64
		if err := rows.Scan(&b.Token, &b.Exchange, &b.TF, &tsNano, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars_tf: %w", err)
		}
		b.TS = time.Unix(0, tsNano).UTC()
		b.Volume = volume.Float64
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ReadLatestSnapshot loads the most recent detector engine snapshot.
// Returns nil, nil when none exists.
func (r *Reader) ReadLatestSnapshot() (*smc.EngineSnapshot, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM detector_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	return smc.UnmarshalEngineSnapshot([]byte(data))
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
