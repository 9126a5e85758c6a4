package facts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AlexanderGrooff/converge/pkg/common"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS facts (
	host       TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteCache persists facts between runs. Reads are served from memory;
// every write goes through to the database.
type SQLiteCache struct {
	mem *MemoryCache
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// OpenSQLite opens (or creates) the fact database at path and loads every entry
// younger than ttl. A zero ttl keeps entries forever.
func OpenSQLite(ctx context.Context, path string, ttl time.Duration) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fact cache %s: %w", path, err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to fact cache %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create fact cache schema: %w", err)
	}

	c := &SQLiteCache{mem: NewMemoryCache(), db: db, ttl: ttl, now: time.Now}
	if err := c.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) load(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, `SELECT host, data, updated_at FROM facts`)
	if err != nil {
		return fmt.Errorf("failed to read fact cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var host, data string
		var updated int64
		if err := rows.Scan(&host, &data, &updated); err != nil {
			return fmt.Errorf("failed to scan fact cache row: %w", err)
		}
		if c.ttl > 0 && c.now().Sub(time.Unix(updated, 0)) > c.ttl {
			common.LogDebug("Skipping expired cached facts", map[string]interface{}{"host": host})
			continue
		}
		var facts map[string]interface{}
		if err := json.Unmarshal([]byte(data), &facts); err != nil {
			common.LogWarn("Ignoring unreadable cached facts", map[string]interface{}{
				"host":  host,
				"error": err.Error(),
			})
			continue
		}
		_ = c.mem.Set(host, facts)
	}
	return rows.Err()
}

func (c *SQLiteCache) persist(host string) error {
	facts, _ := c.mem.Get(host)
	data, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("failed to encode facts for %s: %w", host, err)
	}
	_, err = c.db.Exec(`INSERT INTO facts (host, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		host, string(data), c.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store facts for %s: %w", host, err)
	}
	return nil
}

func (c *SQLiteCache) Get(host string) (map[string]interface{}, bool) {
	return c.mem.Get(host)
}

func (c *SQLiteCache) Set(host string, facts map[string]interface{}) error {
	if err := c.mem.Set(host, facts); err != nil {
		return err
	}
	return c.persist(host)
}

func (c *SQLiteCache) Merge(host string, facts map[string]interface{}) (bool, error) {
	changed, err := c.mem.Merge(host, facts)
	if err != nil || !changed {
		return changed, err
	}
	return true, c.persist(host)
}

func (c *SQLiteCache) Hosts() []string {
	return c.mem.Hosts()
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
