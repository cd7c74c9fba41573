package transfer

import (
	"context"

	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/chainclient"
	"github.com/fusevault/core/internal/domain"
	"github.com/fusevault/core/internal/txlog"
)

// AssetStore is the subset of assetstore.Repository the transfer
// orchestrator drives. *assetstore.Repository satisfies it without
// modification.
type AssetStore interface {
	FindAnyIncludingDeleted(ctx context.Context, assetID string) (*domain.AssetVersion, error)
	ListByOwner(ctx context.Context, ownerAddress string, includeHistory, includeDeleted bool) ([]*domain.AssetVersion, error)
	TransferOwnership(ctx context.Context, assetID string, expectedCurrentVersion int, newOwner, deletedBy string, delta assetstore.NewVersionDelta) (*domain.AssetVersion, error)
}

// ChainClient is the subset of chainclient.Client the transfer orchestrator
// drives.
type ChainClient interface {
	PendingTransferTo(ctx context.Context, owner, assetID string) (string, error)
	InitiateTransfer(ctx context.Context, currentOwner, assetID, newOwner string) (*chainclient.UnsignedTransaction, error)
	AcceptTransfer(ctx context.Context, newOwner, assetID, previousOwner string) (*chainclient.UnsignedTransaction, error)
	CancelTransfer(ctx context.Context, currentOwner, assetID string) (*chainclient.UnsignedTransaction, error)
	ConfirmBroadcast(ctx context.Context, txHash string) (*chainclient.CallResult, error)
	LatestBlock(ctx context.Context) (uint64, error)
	ScanTransferEventsTo(ctx context.Context, newOwner string, fromBlock, toBlock uint64) ([]chainclient.TransferEvent, error)
}

// TxLog is the subset of txlog.Repository the transfer orchestrator drives.
type TxLog interface {
	Record(ctx context.Context, assetID, walletAddress string, action domain.Action, details map[string]any) (*txlog.Entry, error)
}

// PendingStore is the subset of pending.Coordinator the transfer
// orchestrator drives.
type PendingStore interface {
	Store(ctx context.Context, walletAddress, operationType string, transaction map[string]any, estimatedGas uint64, gasPrice, functionName string, echo map[string]any) (*domain.PendingTx, error)
	Get(ctx context.Context, walletAddress, txID string) (*domain.PendingTx, error)
	Remove(ctx context.Context, walletAddress, txID string) error
}
