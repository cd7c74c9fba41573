// Package delegation caches the on-chain delegate registry for the listing
// endpoints. Authorization decisions (upload, delete, delegate checks) do not
// read this cache; they query chainclient.Client.IsDelegate live, so the
// chain stays the ground truth for who may write.
package delegation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fusevault/core/internal/database"
)

// Entry is one (owner, delegate) cache row.
type Entry struct {
	OwnerAddress    string
	DelegateAddress string
	IsActive        bool
	LastTxHash      string
	BlockNumber     uint64
	UpdatedAt       time.Time
}

// Registry is the Postgres-backed delegation cache.
type Registry struct {
	db *database.Client
}

// NewRegistry creates a delegation cache over db.
func NewRegistry(db *database.Client) *Registry {
	return &Registry{db: db}
}

// IsActive reports the cached delegation status for (owner, delegate). A
// cache miss is treated as "not delegated" — callers that need a
// guaranteed-fresh answer should go through chainclient.Client.IsDelegate
// instead.
func (r *Registry) IsActive(ctx context.Context, owner, delegate string) (bool, error) {
	var active bool
	query := `SELECT is_active FROM delegations WHERE owner_address = $1 AND delegate_address = $2`
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(owner), strings.ToLower(delegate)).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read delegation cache: %w", err)
	}
	return active, nil
}

// ListDelegatesOf returns every delegate currently active for owner.
func (r *Registry) ListDelegatesOf(ctx context.Context, owner string) ([]Entry, error) {
	query := `SELECT owner_address, delegate_address, is_active, last_tx_hash, block_number, updated_at
		FROM delegations WHERE owner_address = $1 AND is_active = true`
	rows, err := r.db.QueryContext(ctx, query, strings.ToLower(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list delegates: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.OwnerAddress, &e.DelegateAddress, &e.IsActive, &e.LastTxHash, &e.BlockNumber, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert writes the cache's view of (owner, delegate) forward, only if
// blockNumber is newer than what's already cached — an out-of-order event
// replay must never regress a more recent state.
func (r *Registry) Upsert(ctx context.Context, owner, delegate string, isActive bool, txHash string, blockNumber uint64) error {
	query := `
		INSERT INTO delegations (owner_address, delegate_address, is_active, last_tx_hash, block_number, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (owner_address, delegate_address) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			last_tx_hash = EXCLUDED.last_tx_hash,
			block_number = EXCLUDED.block_number,
			updated_at = now()
		WHERE delegations.block_number <= EXCLUDED.block_number`
	_, err := r.db.ExecContext(ctx, query, strings.ToLower(owner), strings.ToLower(delegate), isActive, txHash, blockNumber)
	if err != nil {
		return fmt.Errorf("failed to upsert delegation: %w", err)
	}
	return nil
}

// SyncFromEvent applies a single DelegateStatusChanged event to the cache.
// It is the write path the delegate-event scanner drives
// (chainclient.Client.ScanDelegateEvents feeds this).
func (r *Registry) SyncFromEvent(ctx context.Context, owner, delegate string, status bool, txHash string, blockNumber uint64) error {
	return r.Upsert(ctx, owner, delegate, status, txHash, blockNumber)
}

// Cursor tracks the last block number the delegate-event scanner
// processed, so a restart resumes instead of rescanning from genesis.
type Cursor struct {
	db *database.Client
}

// NewCursor creates a scan-position tracker over db.
func NewCursor(db *database.Client) *Cursor {
	return &Cursor{db: db}
}

// Get returns the last processed block, or 0 if the scanner has never run.
func (c *Cursor) Get(ctx context.Context) (uint64, error) {
	var last uint64
	err := c.db.QueryRowContext(ctx, `SELECT last_block FROM delegate_event_cursor WHERE id = true`).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read delegate event cursor: %w", err)
	}
	return last, nil
}

// Set advances the cursor to block.
func (c *Cursor) Set(ctx context.Context, block uint64) error {
	query := `
		INSERT INTO delegate_event_cursor (id, last_block) VALUES (true, $1)
		ON CONFLICT (id) DO UPDATE SET last_block = EXCLUDED.last_block`
	_, err := c.db.ExecContext(ctx, query, block)
	if err != nil {
		return fmt.Errorf("failed to advance delegate event cursor: %w", err)
	}
	return nil
}
