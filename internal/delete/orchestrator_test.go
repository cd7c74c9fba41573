package delete

import (
	"context"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/chainclient"
	"github.com/fusevault/core/internal/domain"
	"github.com/fusevault/core/internal/testsupport"
)

const serverWallet = "0x0000000000000000000000000000000000000001"

func walletAuth() *domain.AuthContext {
	return &domain.AuthContext{Method: domain.AuthMethodWalletSession}
}

func apiKeyAuth(perms ...domain.Permission) *domain.AuthContext {
	m := make(map[domain.Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return &domain.AuthContext{Method: domain.AuthMethodAPIKey, Permissions: m}
}

func newTestOrchestrator() (*Orchestrator, *testsupport.FakeAssetStore, *testsupport.FakeChain, *testsupport.FakeTxLog, *testsupport.FakePendingStore) {
	assets := testsupport.NewFakeAssetStore()
	chain := testsupport.NewFakeChain(serverWallet)
	chain.IsDelegateFn = func(ctx context.Context, owner, delegate string) (bool, error) {
		return strings.EqualFold(delegate, serverWallet), nil
	}
	logs := testsupport.NewFakeTxLog()
	pend := testsupport.NewFakePendingStore()
	o := New(assets, chain, logs, pend, log.New(log.Writer(), "", 0))
	return o, assets, chain, logs, pend
}

func TestProcess_RequiresDeletePermission(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator()
	_, err := o.Process(context.Background(), Input{AssetID: "asset-1", Auth: apiKeyAuth(domain.PermissionWrite)})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestProcess_NotFound(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator()
	_, err := o.Process(context.Background(), Input{
		AssetID: "missing", InitiatorAddress: "0xowner", Auth: apiKeyAuth(domain.PermissionDelete),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestProcess_AlreadyDeleted_ReturnsWarningNotError(t *testing.T) {
	o, assets, _, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-2", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true, IsDeleted: true})

	out, err := o.Process(context.Background(), Input{
		AssetID: "asset-2", InitiatorAddress: "0xowner", Auth: apiKeyAuth(domain.PermissionDelete),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWarning, out.Status)
}

func TestProcess_NonDelegateInitiator_Forbidden(t *testing.T) {
	o, assets, _, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-3", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})

	_, err := o.Process(context.Background(), Input{
		AssetID: "asset-3", InitiatorAddress: "0xstranger", Auth: walletAuth(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestProcess_APIKey_ServerSigned_Success(t *testing.T) {
	o, assets, chain, logs, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-4", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})

	out, err := o.Process(context.Background(), Input{
		AssetID: "asset-4", InitiatorAddress: "0xowner", Auth: apiKeyAuth(domain.PermissionDelete),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.True(t, out.Asset.IsDeleted)
	assert.Equal(t, 1, chain.CallCount("DeleteAssetForServerSigned"))
	assert.Equal(t, 1, chain.CallCount("GetIPFSInfo"))
	assert.Len(t, logs.ForAsset("asset-4"), 1)
	assert.Equal(t, domain.ActionDelete, logs.ForAsset("asset-4")[0].Action)
}

func TestProcess_WalletSession_ReturnsPendingSignature(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-5", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})

	out, err := o.Process(context.Background(), Input{
		AssetID: "asset-5", InitiatorAddress: "0xowner", Auth: walletAuth(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingSignature, out.Status)
	assert.Equal(t, 1, chain.CallCount("DeleteAsset"))
	assert.Equal(t, 0, chain.CallCount("DeleteAssetForServerSigned"))
}

func TestProcess_ChainAlreadyReportsDeleted_SyncsWithoutChainWrite(t *testing.T) {
	o, assets, chain, logs, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-6", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})
	chain.GetIPFSInfoFn = func(context.Context, string, string) (*chainclient.IPFSInfo, error) {
		return &chainclient.IPFSInfo{IsDeleted: true}, nil
	}

	out, err := o.Process(context.Background(), Input{
		AssetID: "asset-6", InitiatorAddress: "0xowner", Auth: apiKeyAuth(domain.PermissionDelete),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.True(t, out.Asset.IsDeleted)
	assert.Equal(t, 0, chain.CallCount("DeleteAssetForServerSigned"))
	assert.Equal(t, 0, chain.CallCount("DeleteAsset"))
	require.Len(t, logs.ForAsset("asset-6"), 1)
	assert.Equal(t, "", logs.ForAsset("asset-6")[0].Details["chain_tx_id"])
}

func TestComplete_ResumesPendingDelete(t *testing.T) {
	o, assets, chain, logs, pend := newTestOrchestrator()
	ctx := context.Background()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-7", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})

	out, err := o.Process(ctx, Input{AssetID: "asset-7", InitiatorAddress: "0xowner", Auth: walletAuth()})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingSignature, out.Status)

	completed, err := o.Complete(ctx, "0xowner", out.Pending.TxID, "0xbroadcasttx")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, completed.Status)
	assert.True(t, completed.Asset.IsDeleted)

	_, err = pend.Get(ctx, "0xowner", out.Pending.TxID)
	assert.Error(t, err)
	assert.Equal(t, 1, chain.CallCount("ConfirmBroadcast"))
	assert.Len(t, logs.ForAsset("asset-7"), 1)
}

func TestProcessBatch_FiltersToOwnedUndeletedAssets(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	ctx := context.Background()
	assets.Seed(&domain.AssetVersion{AssetID: "batch-1", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})
	assets.Seed(&domain.AssetVersion{AssetID: "batch-2", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true, IsDeleted: true})
	assets.Seed(&domain.AssetVersion{AssetID: "batch-3", OwnerAddress: "0xsomeoneelse", VersionNumber: 1, IsCurrent: true})

	out, err := o.ProcessBatch(ctx, BatchInput{
		OwnerAddress: "0xowner", AssetIDs: []string{"batch-1", "batch-2", "batch-3", "missing"},
		InitiatorAddress: "0xowner", Auth: apiKeyAuth(domain.PermissionDelete),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.Equal(t, 1, chain.CallCount("BatchDeleteAssetsForServerSigned"))

	a1, err := assets.FindAnyIncludingDeleted(ctx, "batch-1")
	require.NoError(t, err)
	assert.True(t, a1.IsDeleted)

	a3, err := assets.FindAnyIncludingDeleted(ctx, "batch-3")
	require.NoError(t, err)
	assert.False(t, a3.IsDeleted, "asset owned by a different wallet is never touched")
}

func TestProcessBatch_NothingDeletable_ReturnsWarning(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "batch-4", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true, IsDeleted: true})

	out, err := o.ProcessBatch(context.Background(), BatchInput{
		OwnerAddress: "0xowner", AssetIDs: []string{"batch-4"},
		InitiatorAddress: "0xowner", Auth: apiKeyAuth(domain.PermissionDelete),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWarning, out.Status)
	assert.Equal(t, 0, chain.CallCount("BatchDeleteAssetsForServerSigned"))
	assert.Equal(t, 0, chain.CallCount("BatchDeleteAssets"))
}
