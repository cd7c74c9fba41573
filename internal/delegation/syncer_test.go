package delegation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusevault/core/internal/chainclient"
)

type fakeEventSource struct {
	latest uint64
	events []chainclient.DelegateEvent
	calls  int
}

func (f *fakeEventSource) LatestBlock(ctx context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeEventSource) ScanDelegateEvents(ctx context.Context, fromBlock, toBlock uint64) ([]chainclient.DelegateEvent, error) {
	f.calls++
	var out []chainclient.DelegateEvent
	for _, ev := range f.events {
		if ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeStore struct {
	mu     sync.Mutex
	cursor uint64
	synced []chainclient.DelegateEvent
}

func (f *fakeStore) SyncFromEvent(ctx context.Context, owner, delegate string, status bool, txHash string, blockNumber uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, chainclient.DelegateEvent{Owner: owner, Delegate: delegate, Status: status, TxHash: txHash, BlockNumber: blockNumber})
	return nil
}

func (f *fakeStore) CursorGet(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeStore) CursorSet(ctx context.Context, block uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = block
	return nil
}

func TestPollOnce_AppliesEventsAndAdvancesCursorPastConfirmationLag(t *testing.T) {
	chain := &fakeEventSource{
		latest: 100,
		events: []chainclient.DelegateEvent{
			{Owner: "0xowner", Delegate: "0xdelegate", Status: true, TxHash: "0xtx1", BlockNumber: 50},
		},
	}
	store := &fakeStore{}
	syncer := NewSyncer(chain, store, time.Minute, nil)

	require.NoError(t, syncer.pollOnce(t.Context()))

	require.Len(t, store.synced, 1)
	assert.Equal(t, "0xdelegate", store.synced[0].Delegate)
	assert.Equal(t, uint64(97), store.cursor, "cursor advances to latest minus the confirmation lag")
}

func TestPollOnce_NoOpWhenCursorAlreadyCaughtUp(t *testing.T) {
	chain := &fakeEventSource{latest: 10}
	store := &fakeStore{cursor: 10}
	syncer := NewSyncer(chain, store, time.Minute, nil)

	require.NoError(t, syncer.pollOnce(t.Context()))
	assert.Zero(t, chain.calls, "no scan should run when the cursor is already at the safe head")
}

func TestPollOnce_SplitsWideRangesIntoBatches(t *testing.T) {
	chain := &fakeEventSource{latest: 10000}
	store := &fakeStore{}
	syncer := NewSyncer(chain, store, time.Minute, nil)

	require.NoError(t, syncer.pollOnce(t.Context()))
	assert.Greater(t, chain.calls, 1, "a wide block range is scanned in multiple bounded batches")
	assert.Equal(t, uint64(9997), store.cursor)
}

func TestStartStop_RunsAtLeastOncePollAndReturnsPromptlyOnStop(t *testing.T) {
	chain := &fakeEventSource{latest: 5}
	store := &fakeStore{}
	syncer := NewSyncer(chain, store, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		syncer.Start(t.Context())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	syncer.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
