package study

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/saidsurucu/tvstream/internal/model"
)

// SQLiteDescriptorCache persists descriptors across process restarts so a
// long-running embedder doesn't re-fetch indicator schemas on every start.
// Same bounded, oldest-eviction policy as the in-process LRU cache.
type SQLiteDescriptorCache struct {
	db       *sql.DB
	capacity int
}

// NewSQLiteDescriptorCache opens (creating if absent) a SQLite-backed
// descriptor cache at dbPath.
func NewSQLiteDescriptorCache(dbPath string, capacity int) (*SQLiteDescriptorCache, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS descriptors (
			wire_id   TEXT NOT NULL,
			version   TEXT NOT NULL,
			auth_fp   TEXT NOT NULL,
			data      TEXT NOT NULL,
			inserted  INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			PRIMARY KEY (wire_id, version, auth_fp)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return &SQLiteDescriptorCache{db: db, capacity: capacity}, nil
}

func (c *SQLiteDescriptorCache) Get(key CacheKey) (model.Descriptor, bool) {
	var data string
	err := c.db.QueryRow(
		`SELECT data FROM descriptors WHERE wire_id = ? AND version = ? AND auth_fp = ?`,
		key.WireID, key.Version, key.AuthFingerprint,
	).Scan(&data)
	if err != nil {
		return model.Descriptor{}, false
	}
	var d model.Descriptor
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return model.Descriptor{}, false
	}
	return d, true
}

func (c *SQLiteDescriptorCache) Put(key CacheKey, d model.Descriptor) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	c.db.Exec(
		`INSERT OR REPLACE INTO descriptors (wire_id, version, auth_fp, data) VALUES (?, ?, ?, ?)`,
		key.WireID, key.Version, key.AuthFingerprint, string(data),
	)
	if c.capacity > 0 {
		c.db.Exec(`
			DELETE FROM descriptors
			WHERE rowid NOT IN (
				SELECT rowid FROM descriptors ORDER BY inserted DESC LIMIT ?
			)`, c.capacity)
	}
}

// Close closes the underlying database handle.
func (c *SQLiteDescriptorCache) Close() error {
	return c.db.Close()
}
