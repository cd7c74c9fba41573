// Package testsupport provides in-memory fakes for the orchestrator
// collaborator interfaces declared in internal/upload, internal/delete,
// internal/retrieval, and internal/transfer, mirroring the teacher's own
// practice of keeping test doubles next to (not inside) the packages they
// support. Nothing here talks to Postgres, Redis, or a chain; it exists
// purely so orchestrator business logic can be exercised without any of
// those.
package testsupport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/database"
	"github.com/fusevault/core/internal/domain"
)

// FakeAssetStore is an in-memory stand-in for *assetstore.Repository. It
// reproduces the compare-and-swap semantics of CreateNewVersion and
// TransferOwnership (version-number check against the live current row)
// since several invariants under test depend on that race behavior.
type FakeAssetStore struct {
	mu       sync.Mutex
	versions map[string][]*domain.AssetVersion // assetID -> versions, version_number ascending
	seq      int
}

// NewFakeAssetStore creates an empty in-memory asset store.
func NewFakeAssetStore() *FakeAssetStore {
	return &FakeAssetStore{versions: make(map[string][]*domain.AssetVersion)}
}

func (f *FakeAssetStore) nextID() string {
	f.seq++
	return "fake-version-" + itoa(f.seq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func clone(v *domain.AssetVersion) *domain.AssetVersion {
	cp := *v
	return &cp
}

// Seed directly inserts a version row, bypassing Insert's bookkeeping —
// used by tests that need to start from a specific pre-existing state.
func (f *FakeAssetStore) Seed(v *domain.AssetVersion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[v.AssetID] = append(f.versions[v.AssetID], clone(v))
}

func (f *FakeAssetStore) currentLocked(assetID string) *domain.AssetVersion {
	for _, v := range f.versions[assetID] {
		if v.IsCurrent {
			return v
		}
	}
	return nil
}

// FindAnyIncludingDeleted returns the current row regardless of deletion
// state.
func (f *FakeAssetStore) FindAnyIncludingDeleted(ctx context.Context, assetID string) (*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.currentLocked(assetID)
	if v == nil {
		return nil, database.ErrNotFound
	}
	return clone(v), nil
}

// FindCurrent returns the current row, only if it isn't deleted.
func (f *FakeAssetStore) FindCurrent(ctx context.Context, assetID string) (*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.currentLocked(assetID)
	if v == nil || v.IsDeleted {
		return nil, database.ErrNotFound
	}
	return clone(v), nil
}

// FindVersion returns a specific historical version.
func (f *FakeAssetStore) FindVersion(ctx context.Context, assetID string, versionNumber int) (*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions[assetID] {
		if v.VersionNumber == versionNumber {
			return clone(v), nil
		}
	}
	return nil, database.ErrNotFound
}

// ListByOwner returns assets owned by ownerAddress, case-insensitively. By
// default only the current, non-deleted version of each asset is returned;
// includeHistory also returns prior versions, includeDeleted also returns
// soft-deleted assets.
func (f *FakeAssetStore) ListByOwner(ctx context.Context, ownerAddress string, includeHistory, includeDeleted bool) ([]*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AssetVersion
	for _, versions := range f.versions {
		for _, v := range versions {
			if !strings.EqualFold(v.OwnerAddress, ownerAddress) {
				continue
			}
			if !includeHistory && !v.IsCurrent {
				continue
			}
			if !includeDeleted && v.IsDeleted {
				continue
			}
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

// History returns every version of assetID, oldest first.
func (f *FakeAssetStore) History(ctx context.Context, assetID string) ([]*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AssetVersion
	for _, v := range f.versions[assetID] {
		out = append(out, clone(v))
	}
	return out, nil
}

func (f *FakeAssetStore) insertLocked(in assetstore.NewVersionInput) *domain.AssetVersion {
	row := &domain.AssetVersion{
		ID: f.nextID(), AssetID: in.AssetID, OwnerAddress: in.OwnerAddress,
		VersionNumber: 1, IPFSVersion: 1,
		CriticalMetadata: in.CriticalMetadata, NonCriticalMetadata: in.NonCriticalMetadata,
		IPFSHash: in.IPFSHash, ChainTxID: in.ChainTxID,
		IsCurrent: true, PerformedBy: in.PerformedBy, IsDelegatedAction: in.IsDelegatedAction,
		LastUpdated: time.Now(),
	}
	f.versions[in.AssetID] = append(f.versions[in.AssetID], row)
	return row
}

// Insert writes the first version (version_number 1) of a new asset_id.
func (f *FakeAssetStore) Insert(ctx context.Context, in assetstore.NewVersionInput) (*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return clone(f.insertLocked(in)), nil
}

func (f *FakeAssetStore) recreateLocked(in assetstore.NewVersionInput) *domain.AssetVersion {
	row := &domain.AssetVersion{
		ID: f.nextID(), AssetID: in.AssetID, OwnerAddress: in.OwnerAddress,
		VersionNumber: 1, IPFSVersion: 1,
		CriticalMetadata: in.CriticalMetadata, NonCriticalMetadata: in.NonCriticalMetadata,
		IPFSHash: in.IPFSHash, ChainTxID: in.ChainTxID,
		IsCurrent: true, PerformedBy: in.PerformedBy, IsDelegatedAction: in.IsDelegatedAction,
		LastUpdated: time.Now(),
	}
	f.versions[in.AssetID] = []*domain.AssetVersion{row}
	return row
}

// Recreate purges every existing version of assetID and inserts a fresh
// version 1.
func (f *FakeAssetStore) Recreate(ctx context.Context, in assetstore.NewVersionInput) (*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return clone(f.recreateLocked(in)), nil
}

func (f *FakeAssetStore) createNewVersionLocked(assetID string, expectedCurrentVersion int, delta assetstore.NewVersionDelta) (*domain.AssetVersion, error) {
	current := f.currentLocked(assetID)
	if current == nil || current.VersionNumber != expectedCurrentVersion {
		return nil, database.ErrVersionConflict
	}
	current.IsCurrent = false
	row := &domain.AssetVersion{
		ID: f.nextID(), AssetID: assetID, OwnerAddress: current.OwnerAddress,
		VersionNumber: expectedCurrentVersion + 1, IPFSVersion: delta.IPFSVersion,
		CriticalMetadata: delta.CriticalMetadata, NonCriticalMetadata: delta.NonCriticalMetadata,
		IPFSHash: delta.IPFSHash, ChainTxID: delta.ChainTxID,
		IsCurrent: true, PreviousVersionID: current.ID,
		PerformedBy: delta.PerformedBy, IsDelegatedAction: delta.IsDelegatedAction,
		LastUpdated: time.Now(),
	}
	f.versions[assetID] = append(f.versions[assetID], row)
	return row, nil
}

// CreateNewVersion reproduces Postgres's compare-and-swap: it only flips
// the current row if expectedCurrentVersion still matches, else returns
// database.ErrVersionConflict.
func (f *FakeAssetStore) CreateNewVersion(ctx context.Context, assetID string, expectedCurrentVersion int, delta assetstore.NewVersionDelta) (*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := f.createNewVersionLocked(assetID, expectedCurrentVersion, delta)
	if err != nil {
		return nil, err
	}
	return clone(row), nil
}

// WriteBatch commits every plan against the in-memory store under a single
// lock, mirroring assetstore.Repository.WriteBatch's all-or-nothing
// semantics: any plan's failure leaves none of the batch's writes visible.
func (f *FakeAssetStore) WriteBatch(ctx context.Context, plans []assetstore.BatchVersionPlan) ([]*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rolledBack := make(map[string][]*domain.AssetVersion, len(f.versions))
	for id, versions := range f.versions {
		cp := make([]*domain.AssetVersion, len(versions))
		for i, v := range versions {
			cp[i] = clone(v)
		}
		rolledBack[id] = cp
	}

	out := make([]*domain.AssetVersion, len(plans))
	for i, plan := range plans {
		switch {
		case plan.Insert != nil:
			out[i] = f.insertLocked(*plan.Insert)
		case plan.Recreate != nil:
			out[i] = f.recreateLocked(*plan.Recreate)
		case plan.NewVersion != nil:
			row, err := f.createNewVersionLocked(plan.NewVersion.AssetID, plan.NewVersion.ExpectedCurrentVersion, plan.NewVersion.Delta)
			if err != nil {
				f.versions = rolledBack
				return nil, err
			}
			out[i] = row
		default:
			f.versions = rolledBack
			return nil, fmt.Errorf("batch version plan for index %d has no write set", i)
		}
	}

	clones := make([]*domain.AssetVersion, len(out))
	for i, v := range out {
		clones[i] = clone(v)
	}
	return clones, nil
}

// TransferOwnership is CreateNewVersion's cousin: it also marks the
// previous row deleted and changes owner_address on the new one.
func (f *FakeAssetStore) TransferOwnership(ctx context.Context, assetID string, expectedCurrentVersion int, newOwner, deletedBy string, delta assetstore.NewVersionDelta) (*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.currentLocked(assetID)
	if current == nil || current.VersionNumber != expectedCurrentVersion {
		return nil, database.ErrVersionConflict
	}
	now := time.Now()
	current.IsCurrent = false
	current.IsDeleted = true
	current.DeletedBy = deletedBy
	current.DeletedAt = &now
	row := &domain.AssetVersion{
		ID: f.nextID(), AssetID: assetID, OwnerAddress: newOwner,
		VersionNumber: expectedCurrentVersion + 1, IPFSVersion: delta.IPFSVersion,
		CriticalMetadata: delta.CriticalMetadata, NonCriticalMetadata: delta.NonCriticalMetadata,
		IPFSHash: delta.IPFSHash, ChainTxID: delta.ChainTxID,
		IsCurrent: true, PreviousVersionID: current.ID,
		PerformedBy: delta.PerformedBy, IsDelegatedAction: delta.IsDelegatedAction,
		LastUpdated: time.Now(),
	}
	f.versions[assetID] = append(f.versions[assetID], row)
	return clone(row), nil
}

// SoftDeleteAll marks the current, non-deleted row of each asset id as
// deleted.
func (f *FakeAssetStore) SoftDeleteAll(ctx context.Context, assetIDs []string, deletedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, id := range assetIDs {
		v := f.currentLocked(id)
		if v == nil || v.IsDeleted {
			continue
		}
		v.IsDeleted = true
		v.DeletedBy = deletedBy
		v.DeletedAt = &now
	}
	return nil
}

// RestoreDeletionStatus clears is_deleted on assetID's current row.
func (f *FakeAssetStore) RestoreDeletionStatus(ctx context.Context, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.currentLocked(assetID)
	if v == nil {
		return database.ErrNotFound
	}
	v.IsDeleted = false
	v.DeletedBy = ""
	v.DeletedAt = nil
	return nil
}

// MarkVerified stamps last_verified on the current row for assetID.
func (f *FakeAssetStore) MarkVerified(ctx context.Context, assetID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.currentLocked(assetID)
	if v == nil {
		return database.ErrNotFound
	}
	stamp := at
	v.LastVerified = &stamp
	return nil
}

// UpdateNonCritical updates only the non-critical metadata of the current
// row for assetID.
func (f *FakeAssetStore) UpdateNonCritical(ctx context.Context, assetID string, nonCritical map[string]any, performedBy string) (*domain.AssetVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.currentLocked(assetID)
	if v == nil || v.IsDeleted {
		return nil, database.ErrNotFound
	}
	v.NonCriticalMetadata = nonCritical
	v.PerformedBy = performedBy
	v.LastUpdated = time.Now()
	return clone(v), nil
}
