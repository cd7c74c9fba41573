// Package assetstore is the versioned asset repository: the system of
// record for every AssetVersion row FuseVault has ever written (spec.md
// §3). It follows the teacher's pkg/database/repository_anchor.go shape —
// one repository type per aggregate, typed New*Record inputs, sentinel
// errors translated out of sql.ErrNoRows — generalized to the
// create-new-version compare-and-swap spec.md §4.4 requires.
package assetstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fusevault/core/internal/database"
	"github.com/fusevault/core/internal/domain"
)

// Repository is the versioned asset store.
type Repository struct {
	db *database.Client
}

// NewRepository creates an asset repository over db.
func NewRepository(db *database.Client) *Repository {
	return &Repository{db: db}
}

// NewVersionInput is what Insert needs to write a brand-new asset_id's
// first version (spec.md §4.3 create).
type NewVersionInput struct {
	AssetID             string
	OwnerAddress        string
	CriticalMetadata    map[string]any
	NonCriticalMetadata map[string]any
	IPFSHash            string
	ChainTxID           string
	PerformedBy         string
	IsDelegatedAction   bool
}

// Insert writes the first version (version_number 1) of a new asset_id.
func (r *Repository) Insert(ctx context.Context, in NewVersionInput) (*domain.AssetVersion, error) {
	return insertRow(ctx, r.db, in)
}

// sqlExecer is satisfied by both *database.Client and *database.Tx, so the
// row-writing helpers below can run standalone or as part of a larger
// caller-managed transaction (WriteBatch).
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRow(ctx context.Context, db sqlExecer, in NewVersionInput) (*domain.AssetVersion, error) {
	critical, err := json.Marshal(nonNilMap(in.CriticalMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal critical metadata: %w", err)
	}
	nonCritical, err := json.Marshal(nonNilMap(in.NonCriticalMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal non-critical metadata: %w", err)
	}

	row := &domain.AssetVersion{
		ID:                  uuid.New().String(),
		AssetID:             in.AssetID,
		OwnerAddress:        in.OwnerAddress,
		VersionNumber:       1,
		IPFSVersion:         1,
		CriticalMetadata:    in.CriticalMetadata,
		NonCriticalMetadata: in.NonCriticalMetadata,
		IPFSHash:            in.IPFSHash,
		ChainTxID:           in.ChainTxID,
		IsCurrent:           true,
		PerformedBy:         in.PerformedBy,
		IsDelegatedAction:   in.IsDelegatedAction,
		LastUpdated:         time.Now(),
	}

	query := `
		INSERT INTO asset_versions (
			id, asset_id, owner_address, version_number, ipfs_version,
			critical_metadata, non_critical_metadata, ipfs_hash, chain_tx_id,
			is_current, performed_by, is_delegated_action, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = db.ExecContext(ctx, query,
		row.ID, row.AssetID, row.OwnerAddress, row.VersionNumber, row.IPFSVersion,
		critical, nonCritical, row.IPFSHash, row.ChainTxID,
		row.IsCurrent, row.PerformedBy, row.IsDelegatedAction, row.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert asset version: %w", err)
	}
	return row, nil
}

// FindCurrent returns the current (is_current=true, is_deleted=false) row
// for assetID, or database.ErrNotFound.
func (r *Repository) FindCurrent(ctx context.Context, assetID string) (*domain.AssetVersion, error) {
	query := selectColumns + ` FROM asset_versions WHERE asset_id = $1 AND is_current = true AND is_deleted = false`
	return r.scanOne(r.db.QueryRowContext(ctx, query, assetID))
}

// FindAnyIncludingDeleted returns the current row for assetID regardless of
// deletion state (spec.md §4.11 recovery path needs to see soft-deleted
// rows too).
func (r *Repository) FindAnyIncludingDeleted(ctx context.Context, assetID string) (*domain.AssetVersion, error) {
	query := selectColumns + ` FROM asset_versions WHERE asset_id = $1 AND is_current = true`
	return r.scanOne(r.db.QueryRowContext(ctx, query, assetID))
}

// FindVersion returns a specific historical version of assetID.
func (r *Repository) FindVersion(ctx context.Context, assetID string, versionNumber int) (*domain.AssetVersion, error) {
	query := selectColumns + ` FROM asset_versions WHERE asset_id = $1 AND version_number = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, assetID, versionNumber))
}

// ListByOwner returns assets owned by ownerAddress. Owner matching is
// case-insensitive (spec.md §4.3). By default it returns only the current,
// non-deleted version of each asset; includeHistory also returns prior
// versions, and includeDeleted also returns soft-deleted assets.
func (r *Repository) ListByOwner(ctx context.Context, ownerAddress string, includeHistory, includeDeleted bool) ([]*domain.AssetVersion, error) {
	query := selectColumns + ` FROM asset_versions WHERE LOWER(owner_address) = LOWER($1)`
	if !includeHistory {
		query += ` AND is_current = true`
	}
	if !includeDeleted {
		query += ` AND is_deleted = false`
	}
	query += ` ORDER BY asset_id, version_number DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets by owner: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// History returns every version of assetID, oldest first.
func (r *Repository) History(ctx context.Context, assetID string) ([]*domain.AssetVersion, error) {
	query := selectColumns + ` FROM asset_versions WHERE asset_id = $1 ORDER BY version_number ASC`
	rows, err := r.db.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset history: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// NewVersionDelta is what CreateNewVersion writes on top of the current
// row it is superseding. Every update mints a new version; whether the
// critical metadata changed decides only IPFSVersion (below).
type NewVersionDelta struct {
	CriticalMetadata    map[string]any
	NonCriticalMetadata map[string]any
	IPFSHash            string
	ChainTxID           string
	// IPFSVersion is the on-chain counter to record on the new row. Spec.md
	// §3 invariant 3: it only advances when critical_metadata changed; a
	// non-critical-only update carries the previous value forward.
	IPFSVersion       int
	PerformedBy       string
	IsDelegatedAction bool
}

// CreateNewVersion flips the current row's is_current flag off and inserts
// the next version as the new current row, in a single transaction. If
// expectedCurrentVersion no longer matches the live current version (a
// concurrent writer raced us), it returns database.ErrVersionConflict and
// the caller should re-read and retry (spec.md §4.4 "compare and swap").
func (r *Repository) CreateNewVersion(ctx context.Context, assetID string, expectedCurrentVersion int, delta NewVersionDelta) (*domain.AssetVersion, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := createNewVersionRow(ctx, tx.Tx(), assetID, expectedCurrentVersion, delta); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit new version: %w", err)
	}

	return r.FindCurrent(ctx, assetID)
}

// queryRowExecer additionally supports QueryRowContext, needed for the
// flip-then-insert compare-and-swap below.
type queryRowExecer interface {
	sqlExecer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func createNewVersionRow(ctx context.Context, db queryRowExecer, assetID string, expectedCurrentVersion int, delta NewVersionDelta) (*domain.AssetVersion, error) {
	var previousID string
	flip := `
		UPDATE asset_versions SET is_current = false
		WHERE asset_id = $1 AND is_current = true AND version_number = $2
		RETURNING id`
	err := db.QueryRowContext(ctx, flip, assetID, expectedCurrentVersion).Scan(&previousID)
	if err == sql.ErrNoRows {
		return nil, database.ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to flip current version: %w", err)
	}

	critical, err := json.Marshal(nonNilMap(delta.CriticalMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal critical metadata: %w", err)
	}
	nonCritical, err := json.Marshal(nonNilMap(delta.NonCriticalMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal non-critical metadata: %w", err)
	}

	row := &domain.AssetVersion{
		ID:                  uuid.New().String(),
		AssetID:             assetID,
		VersionNumber:       expectedCurrentVersion + 1,
		IPFSVersion:         delta.IPFSVersion,
		CriticalMetadata:    delta.CriticalMetadata,
		NonCriticalMetadata: delta.NonCriticalMetadata,
		IPFSHash:            delta.IPFSHash,
		ChainTxID:           delta.ChainTxID,
		IsCurrent:           true,
		PreviousVersionID:   previousID,
		PerformedBy:         delta.PerformedBy,
		IsDelegatedAction:   delta.IsDelegatedAction,
		LastUpdated:         time.Now(),
	}

	insert := `
		INSERT INTO asset_versions (
			id, asset_id, owner_address, version_number, ipfs_version,
			critical_metadata, non_critical_metadata, ipfs_hash, chain_tx_id,
			is_current, previous_version_id, performed_by, is_delegated_action, last_updated
		)
		SELECT $1, asset_id, owner_address, $2, $3, $4, $5, $6, $7, true, $8, $9, $10, $11
		FROM asset_versions WHERE id = $8`

	_, err = db.ExecContext(ctx, insert,
		row.ID, row.VersionNumber, row.IPFSVersion, critical, nonCritical, row.IPFSHash, row.ChainTxID,
		previousID, row.PerformedBy, row.IsDelegatedAction, row.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert new asset version: %w", err)
	}
	return row, nil
}

// TransferOwnership flips the current row's is_current flag off, marks it
// deleted (custody leaving deletedBy's hands, mirroring the Python
// original's explicit "mark the previous version as deleted (transferred)"
// step), and inserts the next version as the new current row under
// newOwner — all in a single transaction. Unlike CreateNewVersion (which
// always carries the prior row's owner_address forward), this is the one
// write path that changes ownership. Subject to the same compare-and-swap
// as CreateNewVersion: a stale expectedCurrentVersion returns
// database.ErrVersionConflict.
func (r *Repository) TransferOwnership(ctx context.Context, assetID string, expectedCurrentVersion int, newOwner, deletedBy string, delta NewVersionDelta) (*domain.AssetVersion, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var previousID string
	flip := `
		UPDATE asset_versions
		SET is_current = false, is_deleted = true, deleted_by = $3, deleted_at = now()
		WHERE asset_id = $1 AND is_current = true AND version_number = $2
		RETURNING id`
	err = tx.Tx().QueryRowContext(ctx, flip, assetID, expectedCurrentVersion, deletedBy).Scan(&previousID)
	if err == sql.ErrNoRows {
		return nil, database.ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to flip current version: %w", err)
	}

	critical, err := json.Marshal(nonNilMap(delta.CriticalMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal critical metadata: %w", err)
	}
	nonCritical, err := json.Marshal(nonNilMap(delta.NonCriticalMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal non-critical metadata: %w", err)
	}

	row := &domain.AssetVersion{
		ID:                  uuid.New().String(),
		AssetID:             assetID,
		OwnerAddress:        newOwner,
		VersionNumber:       expectedCurrentVersion + 1,
		IPFSVersion:         delta.IPFSVersion,
		CriticalMetadata:    delta.CriticalMetadata,
		NonCriticalMetadata: delta.NonCriticalMetadata,
		IPFSHash:            delta.IPFSHash,
		ChainTxID:           delta.ChainTxID,
		IsCurrent:           true,
		PreviousVersionID:   previousID,
		PerformedBy:         delta.PerformedBy,
		IsDelegatedAction:   delta.IsDelegatedAction,
		LastUpdated:         time.Now(),
	}

	insert := `
		INSERT INTO asset_versions (
			id, asset_id, owner_address, version_number, ipfs_version,
			critical_metadata, non_critical_metadata, ipfs_hash, chain_tx_id,
			is_current, previous_version_id, performed_by, is_delegated_action, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, $11, $12, $13)`
	_, err = tx.Tx().ExecContext(ctx, insert,
		row.ID, row.AssetID, row.OwnerAddress, row.VersionNumber, row.IPFSVersion,
		critical, nonCritical, row.IPFSHash, row.ChainTxID,
		previousID, row.PerformedBy, row.IsDelegatedAction, row.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transferred asset version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transferred version: %w", err)
	}

	full, err := r.FindCurrent(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return full, nil
}

// Recreate purges every existing version of assetID (including its
// soft-deleted history) and inserts a fresh version 1, in a single
// transaction. Used by the upload orchestrator's recreate-deleted branch
// (spec.md §4.9 step 3: "DB-insert(version 1, purging prior deleted if
// recreate)"; invariant 6: "zero rows with is_deleted=true remain, new row
// has version_number=1").
func (r *Repository) Recreate(ctx context.Context, in NewVersionInput) (*domain.AssetVersion, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row, err := recreateRow(ctx, tx.Tx(), in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit recreated version: %w", err)
	}
	return row, nil
}

func recreateRow(ctx context.Context, db sqlExecer, in NewVersionInput) (*domain.AssetVersion, error) {
	if _, err := db.ExecContext(ctx, `DELETE FROM asset_versions WHERE asset_id = $1`, in.AssetID); err != nil {
		return nil, fmt.Errorf("failed to purge prior versions: %w", err)
	}

	critical, err := json.Marshal(nonNilMap(in.CriticalMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal critical metadata: %w", err)
	}
	nonCritical, err := json.Marshal(nonNilMap(in.NonCriticalMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal non-critical metadata: %w", err)
	}

	row := &domain.AssetVersion{
		ID:                  uuid.New().String(),
		AssetID:             in.AssetID,
		OwnerAddress:        in.OwnerAddress,
		VersionNumber:       1,
		IPFSVersion:         1,
		CriticalMetadata:    in.CriticalMetadata,
		NonCriticalMetadata: in.NonCriticalMetadata,
		IPFSHash:            in.IPFSHash,
		ChainTxID:           in.ChainTxID,
		IsCurrent:           true,
		PerformedBy:         in.PerformedBy,
		IsDelegatedAction:   in.IsDelegatedAction,
		LastUpdated:         time.Now(),
	}

	insert := `
		INSERT INTO asset_versions (
			id, asset_id, owner_address, version_number, ipfs_version,
			critical_metadata, non_critical_metadata, ipfs_hash, chain_tx_id,
			is_current, performed_by, is_delegated_action, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = db.ExecContext(ctx, insert,
		row.ID, row.AssetID, row.OwnerAddress, row.VersionNumber, row.IPFSVersion,
		critical, nonCritical, row.IPFSHash, row.ChainTxID,
		row.IsCurrent, row.PerformedBy, row.IsDelegatedAction, row.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert recreated asset version: %w", err)
	}
	return row, nil
}

// BatchVersionPlan describes one asset's DB write within a batch upload's
// single write pass. Exactly one of Insert, Recreate, or NewVersion is set,
// mirroring the three branches Insert/Recreate/CreateNewVersion serve
// individually (spec.md §4.9 step 3).
type BatchVersionPlan struct {
	Insert     *NewVersionInput
	Recreate   *NewVersionInput
	NewVersion *NewVersionPlan
}

// NewVersionPlan is the CreateNewVersion arguments for one asset within a
// batch write pass.
type NewVersionPlan struct {
	AssetID                string
	ExpectedCurrentVersion int
	Delta                  NewVersionDelta
}

// WriteBatch commits every plan's DB write inside a single transaction,
// then re-reads each asset's resulting current row (spec.md:176 "on
// completion write all DB versions in one pass"). Returns one
// *domain.AssetVersion per plan, in the same order as plans, or the first
// error encountered — in which case the whole transaction rolls back and no
// plan's write takes effect.
func (r *Repository) WriteBatch(ctx context.Context, plans []BatchVersionPlan) ([]*domain.AssetVersion, error) {
	if len(plans) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	assetIDs := make([]string, len(plans))
	for i, plan := range plans {
		switch {
		case plan.Insert != nil:
			if _, err := insertRow(ctx, tx.Tx(), *plan.Insert); err != nil {
				return nil, err
			}
			assetIDs[i] = plan.Insert.AssetID
		case plan.Recreate != nil:
			if _, err := recreateRow(ctx, tx.Tx(), *plan.Recreate); err != nil {
				return nil, err
			}
			assetIDs[i] = plan.Recreate.AssetID
		case plan.NewVersion != nil:
			if _, err := createNewVersionRow(ctx, tx.Tx(), plan.NewVersion.AssetID, plan.NewVersion.ExpectedCurrentVersion, plan.NewVersion.Delta); err != nil {
				return nil, err
			}
			assetIDs[i] = plan.NewVersion.AssetID
		default:
			return nil, fmt.Errorf("batch version plan for index %d has no write set", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch version writes: %w", err)
	}

	out := make([]*domain.AssetVersion, len(assetIDs))
	for i, assetID := range assetIDs {
		full, err := r.FindCurrent(ctx, assetID)
		if err != nil {
			return nil, err
		}
		out[i] = full
	}
	return out, nil
}

// SoftDeleteAll marks every current (non-deleted) version of each asset id
// in assetIDs as deleted by deletedBy (spec.md §4.6 delete/batch delete).
func (r *Repository) SoftDeleteAll(ctx context.Context, assetIDs []string, deletedBy string) error {
	query := `
		UPDATE asset_versions
		SET is_deleted = true, deleted_by = $2, deleted_at = now(), last_updated = now()
		WHERE asset_id = ANY($1) AND is_current = true AND is_deleted = false`
	_, err := r.db.ExecContext(ctx, query, pq.Array(assetIDs), deletedBy)
	if err != nil {
		return fmt.Errorf("failed to soft-delete assets: %w", err)
	}
	return nil
}

// RestoreDeletionStatus clears is_deleted on assetID's current row, used
// when recovery finds the chain considers the asset still live (spec.md
// §4.11 DELETION_STATUS_RESTORED).
func (r *Repository) RestoreDeletionStatus(ctx context.Context, assetID string) error {
	query := `
		UPDATE asset_versions
		SET is_deleted = false, deleted_by = '', deleted_at = NULL, last_updated = now()
		WHERE asset_id = $1 AND is_current = true`
	_, err := r.db.ExecContext(ctx, query, assetID)
	if err != nil {
		return fmt.Errorf("failed to restore deletion status: %w", err)
	}
	return nil
}

// PurgeDeleted permanently removes rows that have been soft-deleted for
// longer than olderThan — a retention sweep, not part of the request path.
func (r *Repository) PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM asset_versions WHERE is_deleted = true AND deleted_at < $1`
	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted assets: %w", err)
	}
	return result.RowsAffected()
}

// UpdateNonCritical updates only the non-critical metadata of the current
// row for assetID in place, without minting a new version. The upload path
// does not use it: a non-critical-only upload goes through CreateNewVersion.
func (r *Repository) UpdateNonCritical(ctx context.Context, assetID string, nonCritical map[string]any, performedBy string) (*domain.AssetVersion, error) {
	encoded, err := json.Marshal(nonNilMap(nonCritical))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal non-critical metadata: %w", err)
	}
	query := `
		UPDATE asset_versions
		SET non_critical_metadata = $2, performed_by = $3, last_updated = now()
		WHERE asset_id = $1 AND is_current = true AND is_deleted = false`
	result, err := r.db.ExecContext(ctx, query, assetID, encoded, performedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to update non-critical metadata: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, database.ErrNotFound
	}
	return r.FindCurrent(ctx, assetID)
}

// MarkVerified stamps last_verified on the current row for assetID,
// recording that the verification pipeline checked it (spec.md §4.11).
func (r *Repository) MarkVerified(ctx context.Context, assetID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE asset_versions SET last_verified = $2 WHERE asset_id = $1 AND is_current = true`, assetID, at)
	return err
}

const selectColumns = `
	SELECT id, asset_id, owner_address, version_number, ipfs_version,
		critical_metadata, non_critical_metadata, ipfs_hash, chain_tx_id,
		is_current, is_deleted, deleted_by, deleted_at, COALESCE(previous_version_id::text, ''),
		performed_by, is_delegated_action, last_updated, last_verified`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOne(row rowScanner) (*domain.AssetVersion, error) {
	v, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan asset version: %w", err)
	}
	return v, nil
}

func scanRow(row rowScanner) (*domain.AssetVersion, error) {
	var (
		v            domain.AssetVersion
		critical     []byte
		nonCritical  []byte
		deletedAt    sql.NullTime
		lastVerified sql.NullTime
	)
	err := row.Scan(
		&v.ID, &v.AssetID, &v.OwnerAddress, &v.VersionNumber, &v.IPFSVersion,
		&critical, &nonCritical, &v.IPFSHash, &v.ChainTxID,
		&v.IsCurrent, &v.IsDeleted, &v.DeletedBy, &deletedAt, &v.PreviousVersionID,
		&v.PerformedBy, &v.IsDelegatedAction, &v.LastUpdated, &lastVerified,
	)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		v.DeletedAt = &deletedAt.Time
	}
	if lastVerified.Valid {
		v.LastVerified = &lastVerified.Time
	}
	if err := json.Unmarshal(critical, &v.CriticalMetadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal critical metadata: %w", err)
	}
	if err := json.Unmarshal(nonCritical, &v.NonCriticalMetadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal non-critical metadata: %w", err)
	}
	return &v, nil
}

func scanAll(rows *sql.Rows) ([]*domain.AssetVersion, error) {
	var out []*domain.AssetVersion
	for rows.Next() {
		v, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
