// Package txlog is the append-only transaction log every state-changing
// operation writes to (spec.md §3 "transaction log entity", §4 "every
// operation that changes an asset's state — or fails trying to — appends
// exactly one entry"). Grounded the same way as internal/assetstore: the
// teacher's repository-per-aggregate pattern, generalized to an
// insert-and-list-only table with no update path.
package txlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fusevault/core/internal/domain"
)

// querier is satisfied by both *database.Client and a *sql.Tx, so record
// calls can participate in a caller's existing transaction when needed.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Repository is the transaction log.
type Repository struct {
	db querier
}

// NewRepository creates a transaction-log repository over db.
func NewRepository(db querier) *Repository {
	return &Repository{db: db}
}

// Entry is one transaction-log row.
type Entry struct {
	ID            string
	AssetID       string
	WalletAddress string
	Action        domain.Action
	Details       map[string]any
	CreatedAt     time.Time
}

// Record appends a new entry. The log never updates or deletes a row once
// written.
func (r *Repository) Record(ctx context.Context, assetID, walletAddress string, action domain.Action, details map[string]any) (*Entry, error) {
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction details: %w", err)
	}

	entry := &Entry{
		ID:            uuid.New().String(),
		AssetID:       assetID,
		WalletAddress: walletAddress,
		Action:        action,
		Details:       details,
		CreatedAt:     time.Now(),
	}

	query := `INSERT INTO transactions (id, asset_id, wallet_address, action, details, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.AssetID, entry.WalletAddress, string(action), encoded, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	return entry, nil
}

// ListByAsset returns transaction-log entries for assetID, newest first. If
// version is non-nil, only entries recorded against that version number are
// returned — entries carry their version in details.version_number (spec.md
// §4.4 `list_by_asset(asset_id, version?)`), the same metadata-filter
// approach the original get_asset_history used ("look for transactions with
// that version in metadata").
func (r *Repository) ListByAsset(ctx context.Context, assetID string, version *int, limit int) ([]*Entry, error) {
	query := `
		SELECT id, asset_id, wallet_address, action, details, created_at
		FROM transactions WHERE asset_id = $1`
	args := []any{assetID}
	if version != nil {
		query += fmt.Sprintf(` AND (details->>'version_number')::int = $%d`, len(args)+1)
		args = append(args, *version)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions by asset: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByWallet returns transaction-log entries a wallet has performed,
// newest first, up to limit rows. By default (includeHistory=false) entries
// are restricted to currentAssetIDs — the assets the wallet presently owns
// — mirroring the original get_wallet_history, which "by default only
// includes transactions for current versions" by first resolving the
// wallet's current asset ids and filtering to them. includeHistory=true
// returns every entry regardless of current ownership; currentAssetIDs is
// ignored in that case.
func (r *Repository) ListByWallet(ctx context.Context, walletAddress string, includeHistory bool, currentAssetIDs []string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, asset_id, wallet_address, action, details, created_at
		FROM transactions WHERE wallet_address = $1`
	args := []any{walletAddress}
	if !includeHistory {
		query += fmt.Sprintf(` AND asset_id = ANY($%d)`, len(args)+1)
		args = append(args, pq.Array(currentAssetIDs))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions by wallet: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Summary tallies action counts for an asset.
type Summary struct {
	AssetID      string
	ActionCounts map[domain.Action]int
	LastAction   domain.Action
	LastAt       time.Time
}

// Summarize aggregates the full transaction history of assetID.
func (r *Repository) Summarize(ctx context.Context, assetID string) (*Summary, error) {
	entries, err := r.ListByAsset(ctx, assetID, nil, 10000)
	if err != nil {
		return nil, err
	}
	summary := &Summary{AssetID: assetID, ActionCounts: map[domain.Action]int{}}
	for i, e := range entries {
		summary.ActionCounts[e.Action]++
		if i == 0 {
			summary.LastAction = e.Action
			summary.LastAt = e.CreatedAt
		}
	}
	return summary, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		var (
			e       Entry
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.AssetID, &e.WalletAddress, &action, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		e.Action = domain.Action(action)
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction details: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
