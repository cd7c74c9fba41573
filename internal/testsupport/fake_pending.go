package testsupport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/domain"
)

// FakePendingStore is an in-memory stand-in for *pending.Coordinator,
// keyed the same way the Redis-backed original is: (walletAddress, txID).
type FakePendingStore struct {
	mu  sync.Mutex
	txs map[string]*domain.PendingTx
}

// NewFakePendingStore creates an empty in-memory pending-transaction store.
func NewFakePendingStore() *FakePendingStore {
	return &FakePendingStore{txs: make(map[string]*domain.PendingTx)}
}

func pendingKey(wallet, txID string) string { return wallet + "|" + txID }

// Store mints a new pending transaction for walletAddress.
func (f *FakePendingStore) Store(ctx context.Context, walletAddress, operationType string, transaction map[string]any, estimatedGas uint64, gasPrice, functionName string, echo map[string]any) (*domain.PendingTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &domain.PendingTx{
		TxID: uuid.New().String(), InitiatorAddress: walletAddress, OperationType: operationType,
		Transaction: transaction, EstimatedGas: estimatedGas, GasPrice: gasPrice,
		FunctionName: functionName, Echo: echo, CreatedAt: time.Now(),
	}
	f.txs[pendingKey(walletAddress, tx.TxID)] = tx
	return tx, nil
}

// Get returns the pending transaction for (walletAddress, txID).
func (f *FakePendingStore) Get(ctx context.Context, walletAddress, txID string) (*domain.PendingTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[pendingKey(walletAddress, txID)]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "pending transaction not found or expired")
	}
	return tx, nil
}

// Remove deletes the pending transaction for (walletAddress, txID).
func (f *FakePendingStore) Remove(ctx context.Context, walletAddress, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.txs, pendingKey(walletAddress, txID))
	return nil
}
