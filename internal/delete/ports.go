package delete

import (
	"context"

	"github.com/fusevault/core/internal/chainclient"
	"github.com/fusevault/core/internal/domain"
	"github.com/fusevault/core/internal/txlog"

	"github.com/ethereum/go-ethereum/common"
)

// AssetStore is the subset of assetstore.Repository the delete orchestrator
// drives. *assetstore.Repository satisfies it without modification.
type AssetStore interface {
	FindAnyIncludingDeleted(ctx context.Context, assetID string) (*domain.AssetVersion, error)
	SoftDeleteAll(ctx context.Context, assetIDs []string, deletedBy string) error
}

// ChainClient is the subset of chainclient.Client the delete orchestrator
// drives. *chainclient.Client satisfies it without modification.
type ChainClient interface {
	ServerAddress() common.Address
	IsDelegate(ctx context.Context, owner, delegate string) (bool, error)
	GetIPFSInfo(ctx context.Context, owner, assetID string) (*chainclient.IPFSInfo, error)
	DeleteAsset(ctx context.Context, owner, assetID string) (*chainclient.UnsignedTransaction, error)
	DeleteAssetForServerSigned(ctx context.Context, owner, assetID string) (*chainclient.CallResult, error)
	BatchDeleteAssets(ctx context.Context, owner string, assetIDs []string) (*chainclient.UnsignedTransaction, error)
	BatchDeleteAssetsForServerSigned(ctx context.Context, owner string, assetIDs []string) (*chainclient.CallResult, error)
	ConfirmBroadcast(ctx context.Context, txHash string) (*chainclient.CallResult, error)
}

// TxLog is the subset of txlog.Repository the delete orchestrator drives.
type TxLog interface {
	Record(ctx context.Context, assetID, walletAddress string, action domain.Action, details map[string]any) (*txlog.Entry, error)
}

// PendingStore is the subset of pending.Coordinator the delete orchestrator
// drives.
type PendingStore interface {
	Store(ctx context.Context, walletAddress, operationType string, transaction map[string]any, estimatedGas uint64, gasPrice, functionName string, echo map[string]any) (*domain.PendingTx, error)
	Get(ctx context.Context, walletAddress, txID string) (*domain.PendingTx, error)
	Remove(ctx context.Context, walletAddress, txID string) error
}
