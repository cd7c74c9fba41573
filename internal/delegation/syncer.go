package delegation

import (
	"context"
	"log"
	"time"

	"github.com/fusevault/core/internal/chainclient"
)

// EventSource is the subset of chainclient.Client the syncer polls.
// *chainclient.Client satisfies it without modification.
type EventSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	ScanDelegateEvents(ctx context.Context, fromBlock, toBlock uint64) ([]chainclient.DelegateEvent, error)
}

// Store is the subset of Registry/Cursor the syncer writes through.
type Store interface {
	SyncFromEvent(ctx context.Context, owner, delegate string, status bool, txHash string, blockNumber uint64) error
	CursorGet(ctx context.Context) (uint64, error)
	CursorSet(ctx context.Context, block uint64) error
}

// registryCursor adapts a *Registry and *Cursor pair to the Store
// interface, so production code can wire the two concrete repositories
// the syncer actually needs without the syncer importing *database.Client
// itself.
type registryCursor struct {
	registry *Registry
	cursor   *Cursor
}

// NewStore adapts registry/cursor into the Store interface the Syncer
// drives.
func NewStore(registry *Registry, cursor *Cursor) Store {
	return &registryCursor{registry: registry, cursor: cursor}
}

func (rc *registryCursor) SyncFromEvent(ctx context.Context, owner, delegate string, status bool, txHash string, blockNumber uint64) error {
	return rc.registry.SyncFromEvent(ctx, owner, delegate, status, txHash, blockNumber)
}

func (rc *registryCursor) CursorGet(ctx context.Context) (uint64, error) { return rc.cursor.Get(ctx) }
func (rc *registryCursor) CursorSet(ctx context.Context, block uint64) error {
	return rc.cursor.Set(ctx, block)
}

const (
	// scanBatchBlocks bounds a single poll's eth_getLogs window, the same
	// node-provider-imposed cap the teacher's EventWatcher observes.
	scanBatchBlocks uint64 = 2000
	// confirmationLag keeps the syncer a few blocks behind the chain head
	// so it never reconciles against a block that later gets reorged out.
	confirmationLag uint64 = 3
)

// Syncer keeps the delegation registry's DB cache current by polling
// DelegateStatusChanged events on a fixed interval, the way the teacher's
// EventWatcher.pollLoop polls CertenAnchorV3 on a ticker and dispatches
// whatever it finds to registered handlers — generalized here to one
// handler (Store.SyncFromEvent) for one event type.
type Syncer struct {
	chain    EventSource
	store    Store
	interval time.Duration
	logger   *log.Logger

	stop chan struct{}
	done chan struct{}
}

// NewSyncer assembles a Syncer. It does not start polling until Start is
// called.
func NewSyncer(chain EventSource, store Store, interval time.Duration, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(log.Writer(), "[DelegationSync] ", log.LstdFlags)
	}
	return &Syncer{chain: chain, store: store, interval: interval, logger: logger}
}

// Start runs the poll loop until ctx is cancelled or Stop is called.
// It blocks the caller's goroutine; callers run it with `go syncer.Start(ctx)`.
func (s *Syncer) Start(ctx context.Context) {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.pollOnce(ctx); err != nil {
			s.logger.Printf("delegate event poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop signals Start's loop to exit and waits for it to return.
func (s *Syncer) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}

func (s *Syncer) pollOnce(ctx context.Context) error {
	latest, err := s.chain.LatestBlock(ctx)
	if err != nil {
		return err
	}
	if latest <= confirmationLag {
		return nil
	}
	safeHead := latest - confirmationLag

	from, err := s.store.CursorGet(ctx)
	if err != nil {
		return err
	}
	if from >= safeHead {
		return nil
	}

	for from < safeHead {
		to := from + scanBatchBlocks
		if to > safeHead {
			to = safeHead
		}
		events, err := s.chain.ScanDelegateEvents(ctx, from+1, to)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := s.store.SyncFromEvent(ctx, ev.Owner, ev.Delegate, ev.Status, ev.TxHash, ev.BlockNumber); err != nil {
				s.logger.Printf("failed to apply delegate event tx=%s: %v", ev.TxHash, err)
				continue
			}
		}
		if err := s.store.CursorSet(ctx, to); err != nil {
			return err
		}
		from = to
	}
	return nil
}
