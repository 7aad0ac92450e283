package ingestion

import (
	"context"
	"fmt"
	"sync"

	"vasppay/internal/common/database"
)

// PGCursor keeps the scan position in Postgres so restarts resume where
// they left off.
type PGCursor struct {
	db   *database.DB
	name string
}

// NewPGCursor creates a named persistent cursor.
func NewPGCursor(db *database.DB, name string) *PGCursor {
	return &PGCursor{db: db, name: name}
}

// Get reads the next version to scan; a missing row means start at zero.
func (c *PGCursor) Get(ctx context.Context) (uint64, error) {
	var version uint64
	err := c.db.QueryRow(ctx,
		`SELECT version FROM chain_cursors WHERE name = $1`, c.name).Scan(&version)
	if err != nil {
		if database.IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cursor %s: %w", c.name, err)
	}
	return version, nil
}

// Set stores the next version to scan.
func (c *PGCursor) Set(ctx context.Context, version uint64) error {
	_, err := c.db.Exec(ctx, `
		INSERT INTO chain_cursors (name, version) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET version = $2
	`, c.name, version)
	if err != nil {
		return fmt.Errorf("writing cursor %s: %w", c.name, err)
	}
	return nil
}

// MemoryCursor is an in-process cursor for tests and ephemeral runs.
type MemoryCursor struct {
	mu      sync.Mutex
	version uint64
}

func (c *MemoryCursor) Get(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, nil
}

func (c *MemoryCursor) Set(ctx context.Context, version uint64) error {
	c.mu.Lock()
	c.version = version
	c.mu.Unlock()
	return nil
}
