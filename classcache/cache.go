// Package classcache persists the member lists of class path archives so
// later runs can skip archives that cannot hold a requested class.
package classcache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("kopi.classcache")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("classcache: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// entryList is the CBOR payload stored per archive.
type entryList struct {
	Version int      `cbor:"1,keyasint"`
	Names   []string `cbor:"2,keyasint"`
}

const formatVersion = 1

// Cache is a SQLite-backed archive index.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the index database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Several kopi processes may share one index.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS archives (
		path     TEXT PRIMARY KEY,
		mod_time INTEGER NOT NULL,
		size     INTEGER NOT NULL,
		entries  BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Cache{db: db, path: path}, nil
}

// Lookup returns the cached member names of an archive if the cached record
// matches its modification time and size.
func (c *Cache) Lookup(path string, modTime time.Time, size int64) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var blob []byte
	err := c.db.QueryRow(
		"SELECT entries FROM archives WHERE path = ? AND mod_time = ? AND size = ?",
		path, modTime.UnixNano(), size,
	).Scan(&blob)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Warningf("lookup %s: %v", path, err)
		}
		return nil, false
	}
	var list entryList
	if err := cbor.Unmarshal(blob, &list); err != nil || list.Version != formatVersion {
		log.Debugf("discarding stale record for %s", path)
		return nil, false
	}
	return list.Names, true
}

// Store records the member names of an archive, replacing any older record.
func (c *Cache) Store(path string, modTime time.Time, size int64, names []string) error {
	blob, err := cborEncMode.Marshal(entryList{Version: formatVersion, Names: names})
	if err != nil {
		return fmt.Errorf("classcache: marshal %s: %w", path, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO archives (path, mod_time, size, entries) VALUES (?, ?, ?, ?)",
		path, modTime.UnixNano(), size, blob,
	)
	if err != nil {
		return fmt.Errorf("classcache: store %s: %w", path, err)
	}
	return nil
}

// Stats reports how many archives and member names the index holds.
func (c *Cache) Stats() (archives, entries int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := c.db.Query("SELECT entries FROM archives")
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return 0, 0, err
		}
		var list entryList
		if cbor.Unmarshal(blob, &list) == nil {
			entries += len(list.Names)
		}
		archives++
	}
	return archives, entries, rows.Err()
}

// Path returns the database file location.
func (c *Cache) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
