package upload

import (
	"context"

	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/chainclient"
	"github.com/fusevault/core/internal/contentstore"
	"github.com/fusevault/core/internal/domain"
	"github.com/fusevault/core/internal/txlog"

	"github.com/ethereum/go-ethereum/common"
)

// AssetStore is the subset of assetstore.Repository the upload orchestrator
// drives. *assetstore.Repository satisfies it without modification.
type AssetStore interface {
	FindAnyIncludingDeleted(ctx context.Context, assetID string) (*domain.AssetVersion, error)
	Insert(ctx context.Context, in assetstore.NewVersionInput) (*domain.AssetVersion, error)
	Recreate(ctx context.Context, in assetstore.NewVersionInput) (*domain.AssetVersion, error)
	CreateNewVersion(ctx context.Context, assetID string, expectedCurrentVersion int, delta assetstore.NewVersionDelta) (*domain.AssetVersion, error)
	WriteBatch(ctx context.Context, plans []assetstore.BatchVersionPlan) ([]*domain.AssetVersion, error)
}

// ContentStore is the subset of contentstore.Client the upload orchestrator
// drives. *contentstore.Client satisfies it without modification.
type ContentStore interface {
	Store(ctx context.Context, payload map[string]any) (string, error)
	ComputeCID(ctx context.Context, payload map[string]any) (string, error)
}

// ChainClient is the subset of chainclient.Client the upload orchestrator
// drives. *chainclient.Client satisfies it without modification.
type ChainClient interface {
	ServerAddress() common.Address
	IsDelegate(ctx context.Context, owner, delegate string) (bool, error)
	StoreCIDDigest(ctx context.Context, owner, assetID, cidStr string) (*chainclient.UnsignedTransaction, error)
	StoreCIDDigestForServerSigned(ctx context.Context, owner, assetID, cidStr string) (*chainclient.CallResult, error)
	UpdateIPFS(ctx context.Context, owner, assetID, cidStr string) (*chainclient.UnsignedTransaction, error)
	UpdateIPFSForServerSigned(ctx context.Context, owner, assetID, cidStr string) (*chainclient.CallResult, error)
	BatchStoreCIDDigests(ctx context.Context, owner string, assetIDs, cids []string) (*chainclient.UnsignedTransaction, error)
	BatchStoreCIDDigestsForServerSigned(ctx context.Context, owner string, assetIDs, cids []string) (*chainclient.CallResult, error)
	ConfirmBroadcast(ctx context.Context, txHash string) (*chainclient.CallResult, error)
}

// TxLog is the subset of txlog.Repository the upload orchestrator drives.
type TxLog interface {
	Record(ctx context.Context, assetID, walletAddress string, action domain.Action, details map[string]any) (*txlog.Entry, error)
}

// PendingStore is the subset of pending.Coordinator the upload orchestrator
// drives.
type PendingStore interface {
	Store(ctx context.Context, walletAddress, operationType string, transaction map[string]any, estimatedGas uint64, gasPrice, functionName string, echo map[string]any) (*domain.PendingTx, error)
	Get(ctx context.Context, walletAddress, txID string) (*domain.PendingTx, error)
	Remove(ctx context.Context, walletAddress, txID string) error
}
