// Package store keeps program images and a journal of their runs in a
// SQLite database. Images are addressed by the hash of their canonical
// encoding.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/ember/image"
	"github.com/chazu/ember/vm"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("ember.store")

// ErrProgramNotFound indicates the requested program doesn't exist.
var ErrProgramNotFound = errors.New("program not found")

// ErrAmbiguousHash indicates a hash prefix matches several programs.
var ErrAmbiguousHash = errors.New("ambiguous hash prefix")

const schema = `
CREATE TABLE IF NOT EXISTS programs (
	hash  TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	data  BLOB NOT NULL,
	added INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id      TEXT PRIMARY KEY,
	hash    TEXT NOT NULL REFERENCES programs(hash),
	status  TEXT NOT NULL,
	result  TEXT NOT NULL,
	started INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_by_hash ON runs(hash, started);
`

// Store is a program store backed by one SQLite file.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Entry describes a stored program.
type Entry struct {
	Hash  string
	Name  string
	Size  int
	Added time.Time
}

// Run is one journaled execution of a stored program.
type Run struct {
	ID      uuid.UUID
	Hash    string
	Status  string
	Result  string
	Started time.Time
}

// Open opens or creates the store at path, creating parent directories.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	log.Debugf("opened program store %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores a program and returns its hash. Storing the same program
// twice is a no-op.
func (s *Store) Put(p *image.Program) (string, error) {
	data, err := image.Marshal(p)
	if err != nil {
		return "", err
	}
	hash := image.HashBytes(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO programs (hash, name, data, added) VALUES (?, ?, ?, ?)",
		hash, p.Name, data, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("saving program %s: %w", p.Name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Infof("stored program %s as %s", p.Name, hash)
	}
	return hash, nil
}

// Get retrieves a program by its full hash.
func (s *Store) Get(hash string) (*image.Program, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM programs WHERE hash = ?", hash).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, hash)
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}
	if got := image.HashBytes(data); got != hash {
		return nil, fmt.Errorf("program %s is corrupt: content hashes to %s", hash, got)
	}
	return image.Unmarshal(data)
}

// Resolve expands a hash prefix to the full hash of the one program it
// names.
func (s *Store) Resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty hash", ErrProgramNotFound)
	}
	rows, err := s.db.Query("SELECT hash FROM programs WHERE substr(hash, 1, ?) = ? LIMIT 2", len(prefix), prefix)
	if err != nil {
		return "", fmt.Errorf("querying programs: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return "", fmt.Errorf("scanning program: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("querying programs: %w", err)
	}
	switch len(hashes) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrProgramNotFound, prefix)
	case 1:
		return hashes[0], nil
	}
	return "", fmt.Errorf("%w: %s", ErrAmbiguousHash, prefix)
}

// List returns every stored program, oldest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT hash, name, length(data), added FROM programs ORDER BY added, hash")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var added int64
		if err := rows.Scan(&e.Hash, &e.Name, &e.Size, &added); err != nil {
			return nil, fmt.Errorf("scanning program: %w", err)
		}
		e.Added = time.Unix(0, added)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordRun journals one execution of the program with the given hash.
func (s *Store) RecordRun(hash string, status vm.Status, result string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRow("SELECT count(*) FROM programs WHERE hash = ?", hash).Scan(&exists); err != nil {
		return uuid.Nil, fmt.Errorf("querying program: %w", err)
	}
	if exists == 0 {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrProgramNotFound, hash)
	}

	id := uuid.New()
	_, err := s.db.Exec(
		"INSERT INTO runs (id, hash, status, result, started) VALUES (?, ?, ?, ?, ?)",
		id.String(), hash, status.String(), result, time.Now().UnixNano(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("recording run: %w", err)
	}
	log.Debugf("run %s of %s: %s", id, hash, status)
	return id, nil
}

// Runs returns the journaled runs of a program, oldest first.
func (s *Store) Runs(hash string) ([]Run, error) {
	rows, err := s.db.Query("SELECT id, hash, status, result, started FROM runs WHERE hash = ? ORDER BY started, rowid", hash)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var id string
		var started int64
		if err := rows.Scan(&id, &r.Hash, &r.Status, &r.Result, &started); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run has malformed id %q: %w", id, err)
		}
		r.Started = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
