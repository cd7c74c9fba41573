package apikey

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/database"
	"github.com/fusevault/core/internal/domain"
)

// Record is one persisted API-key row. Full is never stored, only Hash.
type Record struct {
	ID          string
	WalletAddress string
	Name        string
	Hash        string
	Permissions []domain.Permission
	IsActive    bool
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
	LastUsedAt  *time.Time
}

// Store is the Postgres-backed API-key record store.
type Store struct {
	db *database.Client
}

// NewStore creates an API-key store over db.
func NewStore(db *database.Client) *Store {
	return &Store{db: db}
}

// CreateInput is what Create needs to mint a new key row.
type CreateInput struct {
	WalletAddress string
	Name          string
	Permissions   []domain.Permission
	ExpiresAt     *time.Time
}

// ErrMaxKeysExceeded is returned by Create when walletAddress already holds
// its configured maximum of active keys (spec.md §4.7: "create (enforces
// per-wallet max)").
var ErrMaxKeysExceeded = apperr.New(apperr.KindConflict, "wallet has reached its maximum number of active api keys")

// Create mints and persists a new key for in.WalletAddress, enforcing
// maxPerWallet active keys.
func (s *Store) Create(ctx context.Context, signer *Signer, in CreateInput, maxPerWallet int) (*Issued, *Record, error) {
	wallet := strings.ToLower(in.WalletAddress)

	var activeCount int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM api_keys WHERE wallet_address = $1 AND is_active = true`, wallet).Scan(&activeCount)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count active api keys: %w", err)
	}
	if activeCount >= maxPerWallet {
		return nil, nil, ErrMaxKeysExceeded
	}

	issued, err := signer.Issue(wallet)
	if err != nil {
		return nil, nil, err
	}

	permsJSON, err := json.Marshal(in.Permissions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}

	record := &Record{
		ID:            uuid.New().String(),
		WalletAddress: wallet,
		Name:          in.Name,
		Hash:          issued.Hash,
		Permissions:   in.Permissions,
		IsActive:      true,
		CreatedAt:     time.Now(),
		ExpiresAt:     in.ExpiresAt,
	}

	query := `
		INSERT INTO api_keys (id, wallet_address, name, key_hash, permissions, is_active, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $7)`
	_, err = s.db.ExecContext(ctx, query, record.ID, record.WalletAddress, record.Name, record.Hash, permsJSON, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert api key: %w", err)
	}

	return issued, record, nil
}

// List returns every key record for walletAddress, active or not. Key
// material is never reconstructible from a Record (spec.md §4.7: "list
// never returns key material").
func (s *Store) List(ctx context.Context, walletAddress string) ([]*Record, error) {
	query := `
		SELECT id, wallet_address, name, key_hash, permissions, is_active, created_at, expires_at, revoked_at, last_used_at
		FROM api_keys WHERE wallet_address = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, strings.ToLower(walletAddress))
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindByHash looks up the record matching hash, used on the validation
// path after the HMAC has already been verified.
func (s *Store) FindByHash(ctx context.Context, hash string) (*Record, error) {
	query := `
		SELECT id, wallet_address, name, key_hash, permissions, is_active, created_at, expires_at, revoked_at, last_used_at
		FROM api_keys WHERE key_hash = $1`
	row := s.db.QueryRowContext(ctx, query, hash)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindAuthorization, "api key not recognized")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return r, nil
}

// RevokeByName deactivates walletAddress's key named name.
func (s *Store) RevokeByName(ctx context.Context, walletAddress, name string) error {
	query := `UPDATE api_keys SET is_active = false, revoked_at = now() WHERE wallet_address = $1 AND name = $2 AND is_active = true`
	result, err := s.db.ExecContext(ctx, query, strings.ToLower(walletAddress), name)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.New(apperr.KindNotFound, "no active api key with that name")
	}
	return nil
}

// Deactivate marks a record inactive without touching revoked_at, used
// when an expiry check finds a lapsed key (spec.md §4.7 step 4: "Expired
// records are deactivated as a side effect").
func (s *Store) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1`, id)
	return err
}

// UpdatePermissions overwrites the permission set of walletAddress's key
// named name.
func (s *Store) UpdatePermissions(ctx context.Context, walletAddress, name string, perms []domain.Permission) error {
	encoded, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	query := `UPDATE api_keys SET permissions = $3 WHERE wallet_address = $1 AND name = $2 AND is_active = true`
	result, err := s.db.ExecContext(ctx, query, strings.ToLower(walletAddress), name, encoded)
	if err != nil {
		return fmt.Errorf("failed to update api key permissions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.New(apperr.KindNotFound, "no active api key with that name")
	}
	return nil
}

// TouchLastUsed stamps last_used_at on a successful validation.
func (s *Store) TouchLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r          Record
		permsJSON  []byte
		expiresAt  sql.NullTime
		revokedAt  sql.NullTime
		lastUsedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.WalletAddress, &r.Name, &r.Hash, &permsJSON, &r.IsActive, &r.CreatedAt, &expiresAt, &revokedAt, &lastUsedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(permsJSON, &r.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api key permissions: %w", err)
	}
	if expiresAt.Valid {
		r.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		r.RevokedAt = &revokedAt.Time
	}
	if lastUsedAt.Valid {
		r.LastUsedAt = &lastUsedAt.Time
	}
	return &r, nil
}
