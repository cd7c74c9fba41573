package testsupport

import (
	"context"
	"sync"
	"time"

	"github.com/fusevault/core/internal/domain"
	"github.com/fusevault/core/internal/txlog"
)

// FakeTxLog is an in-memory stand-in for *txlog.Repository.
type FakeTxLog struct {
	mu      sync.Mutex
	Entries []*txlog.Entry
	seq     int
}

// NewFakeTxLog creates an empty in-memory transaction log.
func NewFakeTxLog() *FakeTxLog {
	return &FakeTxLog{}
}

// Record appends a new entry.
func (f *FakeTxLog) Record(ctx context.Context, assetID, walletAddress string, action domain.Action, details map[string]any) (*txlog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	e := &txlog.Entry{
		ID: "fake-entry-" + itoa(f.seq), AssetID: assetID, WalletAddress: walletAddress,
		Action: action, Details: details, CreatedAt: time.Now(),
	}
	f.Entries = append(f.Entries, e)
	return e, nil
}

// ForAsset returns every recorded entry for assetID, in write order.
func (f *FakeTxLog) ForAsset(assetID string) []*txlog.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*txlog.Entry
	for _, e := range f.Entries {
		if e.AssetID == assetID {
			out = append(out, e)
		}
	}
	return out
}
