package testsupport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/canonicaljson"
	"github.com/fusevault/core/internal/contentstore"
)

// FakeContentStore is an in-memory stand-in for *contentstore.Client. CIDs
// are derived deterministically from the canonical JSON encoding of the
// payload, the same invariant the real IPFS-backed client relies on
// (spec.md invariant 6), so two calls with identical content always agree
// on the CID without a real content-addressed backend.
type FakeContentStore struct {
	mu        sync.Mutex
	stored    map[string]map[string]any
	sentinels map[string]*contentstore.RetrievedSentinel
	missing   map[string]bool
}

// NewFakeContentStore creates an empty in-memory content store.
func NewFakeContentStore() *FakeContentStore {
	return &FakeContentStore{
		stored:    make(map[string]map[string]any),
		sentinels: make(map[string]*contentstore.RetrievedSentinel),
		missing:   make(map[string]bool),
	}
}

func computeFakeCID(payload map[string]any) string {
	b, err := canonicaljson.Marshal(payload)
	if err != nil {
		return "bafy-invalid"
	}
	sum := sha256.Sum256(b)
	return "bafy" + hex.EncodeToString(sum[:16])
}

// Store canonicalizes and "uploads" payload, returning its content CID.
func (f *FakeContentStore) Store(ctx context.Context, payload map[string]any) (string, error) {
	cid := computeFakeCID(payload)
	f.mu.Lock()
	f.stored[cid] = payload
	f.mu.Unlock()
	return cid, nil
}

// ComputeCID returns the CID payload would have without storing it.
func (f *FakeContentStore) ComputeCID(ctx context.Context, payload map[string]any) (string, error) {
	return computeFakeCID(payload), nil
}

// Retrieve looks up a previously stored payload by CID.
func (f *FakeContentStore) Retrieve(ctx context.Context, id string) (map[string]any, *contentstore.RetrievedSentinel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[id] {
		return nil, nil, apperr.New(apperr.KindDependencyUnavailable, "content unavailable at gateway and all fallbacks")
	}
	if s, ok := f.sentinels[id]; ok {
		return nil, s, nil
	}
	payload, ok := f.stored[id]
	if !ok {
		return nil, nil, apperr.New(apperr.KindDependencyUnavailable, "content unavailable at gateway and all fallbacks")
	}
	return payload, nil, nil
}

// Put directly registers a payload under cid, for tests simulating content
// that was anchored independently of this store's own Store calls (e.g. an
// authentic version recovered via an on-chain event scan).
func (f *FakeContentStore) Put(cid string, payload map[string]any) {
	f.mu.Lock()
	f.stored[cid] = payload
	f.mu.Unlock()
}

// SetSentinel makes Retrieve(id) return sentinel instead of a payload,
// simulating retrieved-but-invalid content (spec.md §4.11 step 11).
func (f *FakeContentStore) SetSentinel(id string, sentinel *contentstore.RetrievedSentinel) {
	f.mu.Lock()
	f.sentinels[id] = sentinel
	f.mu.Unlock()
}

// SetMissing makes Retrieve(id) fail as if unavailable at every gateway.
func (f *FakeContentStore) SetMissing(id string) {
	f.mu.Lock()
	f.missing[id] = true
	f.mu.Unlock()
}
