// SPDX-License-Identifier: MIT
//
// Package store keeps labelled feature vectors in a SQLite catalog so the
// nearest-neighbour classifier can be trained from recordings.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"spectrogram/internal/feature"
	"spectrogram/internal/log"
)

// ErrEmptyCatalog is returned when no stored vector matches a query.
var ErrEmptyCatalog = errors.New("catalog holds no matching vectors")

// Record is one labelled classifier input.
type Record struct {
	ID      int64
	Label   string
	Meta    feature.Meta
	Vector  []float32
	Created time.Time
}

// Catalog is a SQLite-backed set of Records.
type Catalog struct {
	db     *sql.DB
	logger *log.Logger
}

// OpenCatalog opens or creates the catalog at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db, logger: log.Named("Catalog")}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", path, err)
	}
	c.logger.Debugf("opened %s", path)
	return c, nil
}

func (c *Catalog) migrate() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS features (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			label TEXT NOT NULL,
			fs INTEGER NOT NULL,
			fft_size INTEGER NOT NULL,
			mel_filters INTEGER NOT NULL,
			feature_center INTEGER NOT NULL,
			feature_width INTEGER NOT NULL,
			vector BLOB NOT NULL,
			created DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_features_shape
			ON features(fs, fft_size, mel_filters, feature_center, feature_width);
	`)
	return err
}

// Save inserts r and returns its id. Created defaults to now.
func (c *Catalog) Save(ctx context.Context, r Record) (int64, error) {
	if r.Label == "" {
		return 0, errors.New("store: record needs a label")
	}
	if len(r.Vector) == 0 {
		return 0, errors.New("store: record needs a vector")
	}
	if r.Created.IsZero() {
		r.Created = time.Now()
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO features (label, fs, fft_size, mel_filters, feature_center, feature_width, vector, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Label, r.Meta.SampleRate, r.Meta.FFTSize, r.Meta.MelFilters, r.Meta.Center, r.Meta.Width,
		encodeVector(r.Vector), r.Created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("store: save %q: %w", r.Label, err)
	}
	return res.LastInsertId()
}

// Count returns the number of records carrying label, or every record when
// label is empty.
func (c *Catalog) Count(ctx context.Context, label string) (int, error) {
	var n int
	var err error
	if label == "" {
		err = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM features").Scan(&n)
	} else {
		err = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM features WHERE label = ?", label).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Labels returns the distinct labels in the catalog, sorted.
func (c *Catalog) Labels(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT DISTINCT label FROM features ORDER BY label")
	if err != nil {
		return nil, fmt.Errorf("store: labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("store: labels: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// Vectors returns every record computed with the pipeline shape meta, in
// insertion order. It returns ErrEmptyCatalog when there are none.
func (c *Catalog) Vectors(ctx context.Context, meta feature.Meta) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, label, vector, created FROM features
		WHERE fs = ? AND fft_size = ? AND mel_filters = ? AND feature_center = ? AND feature_width = ?
		ORDER BY id`,
		meta.SampleRate, meta.FFTSize, meta.MelFilters, meta.Center, meta.Width)
	if err != nil {
		return nil, fmt.Errorf("store: vectors: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			blob    []byte
			created string
		)
		if err := rows.Scan(&r.ID, &r.Label, &blob, &created); err != nil {
			return nil, fmt.Errorf("store: vectors: %w", err)
		}
		r.Meta = meta
		r.Vector = decodeVector(blob)
		r.Created, _ = time.Parse(time.RFC3339Nano, created)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: vectors: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyCatalog
	}
	return records, nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 0, 4*len(v))
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
