package retrieval

import (
	"context"
	"time"

	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/chainclient"
	"github.com/fusevault/core/internal/contentstore"
	"github.com/fusevault/core/internal/domain"
	"github.com/fusevault/core/internal/txlog"

	"github.com/ethereum/go-ethereum/common"
)

// AssetStore is the subset of assetstore.Repository the verifier drives.
// *assetstore.Repository satisfies it without modification.
type AssetStore interface {
	FindAnyIncludingDeleted(ctx context.Context, assetID string) (*domain.AssetVersion, error)
	FindVersion(ctx context.Context, assetID string, versionNumber int) (*domain.AssetVersion, error)
	CreateNewVersion(ctx context.Context, assetID string, expectedCurrentVersion int, delta assetstore.NewVersionDelta) (*domain.AssetVersion, error)
	SoftDeleteAll(ctx context.Context, assetIDs []string, deletedBy string) error
	MarkVerified(ctx context.Context, assetID string, at time.Time) error
}

// ContentStore is the subset of contentstore.Client the verifier drives.
type ContentStore interface {
	ComputeCID(ctx context.Context, payload map[string]any) (string, error)
	Retrieve(ctx context.Context, id string) (map[string]any, *contentstore.RetrievedSentinel, error)
}

// ChainClient is the subset of chainclient.Client the verifier drives.
type ChainClient interface {
	ServerAddress() common.Address
	GetIPFSInfo(ctx context.Context, owner, assetID string) (*chainclient.IPFSInfo, error)
	VerifyCID(ctx context.Context, owner, assetID, cidStr string, claimedVersion uint64) (*chainclient.VerificationResult, error)
	GetTransactionDetails(ctx context.Context, txHash, expectedAssetID string) (*chainclient.TransactionDetails, error)
	RecoverFromEvents(ctx context.Context, owner, assetID string) (*chainclient.AnchorEvent, error)
}

// TxLog is the subset of txlog.Repository the verifier drives.
type TxLog interface {
	Record(ctx context.Context, assetID, walletAddress string, action domain.Action, details map[string]any) (*txlog.Entry, error)
}
