// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package export

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/524D/mzfame/internal/align"
	"github.com/524D/mzfame/internal/cluster"
	"github.com/524D/mzfame/internal/spectrum"
)

const schema = `
CREATE TABLE IF NOT EXISTS result_row (
	row_id      INTEGER PRIMARY KEY,
	label       TEXT NOT NULL,
	mass        INTEGER NOT NULL,
	rt          REAL NOT NULL,
	ri          REAL,
	files       INTEGER NOT NULL,
	ionizations TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS result_member (
	row_id     INTEGER NOT NULL REFERENCES result_row(row_id),
	file       TEXT NOT NULL,
	ionization TEXT NOT NULL,
	scan_index INTEGER NOT NULL,
	rt         REAL NOT NULL,
	ri         REAL,
	adducts    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS marker_match (
	file       TEXT NOT NULL,
	marker     TEXT NOT NULL,
	scan_index INTEGER NOT NULL,
	rt         REAL NOT NULL,
	library_rt REAL NOT NULL,
	library_ri REAL NOT NULL,
	score      REAL NOT NULL,
	votes      INTEGER NOT NULL
);
`

// DB writes results into an SQLite database.
// All writes happen in one transaction that is committed by Close.
type DB struct {
	db         *sql.DB
	tx         *sql.Tx
	rowStmt    *sql.Stmt
	memberStmt *sql.Stmt
	matchStmt  *sql.Stmt
	rowID      int64
}

// NewDB creates the tables in the database at path
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	d := &DB{db: db}
	if err := d.init(); err != nil {
		if d.tx != nil {
			d.tx.Rollback()
		}
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init() error {
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if err := d.db.QueryRow(`SELECT COALESCE(MAX(row_id), 0) FROM result_row`).Scan(&d.rowID); err != nil {
		return fmt.Errorf("failed to read row ids: %w", err)
	}

	var err error
	if d.tx, err = d.db.Begin(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	d.rowStmt, err = d.tx.Prepare(`
		INSERT INTO result_row (row_id, label, mass, rt, ri, files, ionizations)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare row statement: %w", err)
	}
	d.memberStmt, err = d.tx.Prepare(`
		INSERT INTO result_member (row_id, file, ionization, scan_index, rt, ri, adducts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare member statement: %w", err)
	}
	d.matchStmt, err = d.tx.Prepare(`
		INSERT INTO marker_match (file, marker, scan_index, rt, library_rt, library_ri, score, votes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare marker statement: %w", err)
	}
	return nil
}

// nullRI stores unaligned retention indices as NULL
func nullRI(ri float64) any {
	if ri == spectrum.NoRetentionIndex {
		return nil
	}
	return ri
}

// WriteRows inserts result rows and their members
func (d *DB) WriteRows(rows []cluster.ResultRow) error {
	for i := range rows {
		r := &rows[i]
		d.rowID++
		_, err := d.rowStmt.Exec(d.rowID, r.Label, r.Mass, r.RT, nullRI(r.RI),
			len(r.Files), Ionizations(r.Ionizations))
		if err != nil {
			return fmt.Errorf("failed to insert row %s: %w", r.Label, err)
		}
		for _, fm := range r.Files {
			for _, m := range fm.Members {
				_, err := d.memberStmt.Exec(d.rowID, fm.File.Name(), m.Ionization, m.ScanIndex,
					m.RT, nullRI(m.RI), strings.Join(m.Adducts, ","))
				if err != nil {
					return fmt.Errorf("failed to insert member of %s: %w", r.Label, err)
				}
			}
		}
	}
	return nil
}

// WriteMatches inserts the located markers of a file
func (d *DB) WriteMatches(file string, matches []align.Match) error {
	for _, m := range matches {
		_, err := d.matchStmt.Exec(file, m.Marker, m.ScanIndex, m.RT,
			m.LibraryRT, m.LibraryRI, m.Score, m.Votes)
		if err != nil {
			return fmt.Errorf("failed to insert marker %s: %w", m.Marker, err)
		}
	}
	return nil
}

func (d *DB) closeStmts() {
	for _, s := range []*sql.Stmt{d.rowStmt, d.memberStmt, d.matchStmt} {
		if s != nil {
			s.Close()
		}
	}
}

// Abort discards all writes of this export and closes the database
func (d *DB) Abort() error {
	d.closeStmts()
	err := d.tx.Rollback()
	if cerr := d.db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to abort export: %w", err)
	}
	return nil
}

// Close commits all writes and closes the database
func (d *DB) Close() error {
	d.closeStmts()
	if err := d.tx.Commit(); err != nil {
		d.db.Close()
		return fmt.Errorf("failed to commit: %w", err)
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
