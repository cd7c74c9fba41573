package upload

import (
	"context"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/canonicaljson"
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

// newTestOrchestrator wires an Orchestrator against fresh fakes. The server
// wallet is treated as a delegate of any owner by default, matching the
// common case where an API-key (server-signed) caller has already been
// granted delegate status on chain; tests exercising the opposite override
// IsDelegateFn themselves.
func newTestOrchestrator() (*Orchestrator, *testsupport.FakeAssetStore, *testsupport.FakeContentStore, *testsupport.FakeChain, *testsupport.FakeTxLog, *testsupport.FakePendingStore) {
	assets := testsupport.NewFakeAssetStore()
	content := testsupport.NewFakeContentStore()
	chain := testsupport.NewFakeChain(serverWallet)
	chain.IsDelegateFn = func(ctx context.Context, owner, delegate string) (bool, error) {
		return strings.EqualFold(delegate, serverWallet), nil
	}
	logs := testsupport.NewFakeTxLog()
	pend := testsupport.NewFakePendingStore()
	o := New(assets, content, chain, logs, pend, log.New(log.Writer(), "", 0))
	return o, assets, content, chain, logs, pend
}

func TestProcess_FreshCreate_WalletSession_ReturnsPendingSignature(t *testing.T) {
	o, _, _, chain, logs, pend := newTestOrchestrator()
	ctx := context.Background()

	out, err := o.Process(ctx, Input{
		AssetID: "asset-1", OwnerAddress: "0xOWNER", InitiatorAddress: "0xOWNER",
		CriticalMetadata: map[string]any{"k": "v"}, Auth: walletAuth(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingSignature, out.Status)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "create", out.Pending.Echo["branch"])
	assert.Equal(t, 1, chain.CallCount("StoreCIDDigest"))
	assert.Empty(t, logs.Entries, "no log entry until the pending transaction completes")

	stored, err := pend.Get(ctx, "0xowner", out.Pending.TxID)
	require.NoError(t, err)
	assert.Equal(t, "create", stored.OperationType)
}

func TestProcess_FreshCreate_APIKey_ServerSigned(t *testing.T) {
	o, assets, _, chain, logs, _ := newTestOrchestrator()
	ctx := context.Background()

	out, err := o.Process(ctx, Input{
		AssetID: "asset-2", OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		CriticalMetadata: map[string]any{"k": "v"}, Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.Equal(t, 1, chain.CallCount("StoreCIDDigestForServerSigned"))
	asset, err := assets.FindCurrent(ctx, "asset-2")
	require.NoError(t, err)
	assert.Equal(t, 1, asset.VersionNumber)
	require.Len(t, logs.ForAsset("asset-2"), 1)
	assert.Equal(t, domain.ActionCreate, logs.ForAsset("asset-2")[0].Action)
}

func TestProcess_RequiresWritePermission(t *testing.T) {
	o, _, _, _, _, _ := newTestOrchestrator()
	ctx := context.Background()

	_, err := o.Process(ctx, Input{
		AssetID: "asset-3", OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		Auth: apiKeyAuth(domain.PermissionRead),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestProcess_DelegateRequired_NonOwnerInitiator(t *testing.T) {
	o, _, _, _, _, _ := newTestOrchestrator()
	ctx := context.Background()

	_, err := o.Process(ctx, Input{
		AssetID: "asset-4", OwnerAddress: "0xowner", InitiatorAddress: "0xdelegate",
		Auth: walletAuth(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestProcess_DelegatedWrite_Succeeds(t *testing.T) {
	o, assets, _, chain, _, _ := newTestOrchestrator()
	ctx := context.Background()
	chain.IsDelegateFn = func(ctx context.Context, owner, delegate string) (bool, error) {
		return delegate == "0xdelegate" || strings.EqualFold(delegate, serverWallet), nil
	}

	out, err := o.Process(ctx, Input{
		AssetID: "asset-5", OwnerAddress: "0xowner", InitiatorAddress: "0xdelegate",
		CriticalMetadata: map[string]any{"k": "v"}, Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	asset, err := assets.FindCurrent(ctx, "asset-5")
	require.NoError(t, err)
	assert.True(t, asset.IsDelegatedAction)
}

func TestProcess_ServerSignedRequiresServerDelegate(t *testing.T) {
	o, _, _, chain, _, _ := newTestOrchestrator()
	ctx := context.Background()
	chain.IsDelegateFn = func(ctx context.Context, owner, delegate string) (bool, error) { return false, nil }

	_, err := o.Process(ctx, Input{
		AssetID: "asset-6", OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		CriticalMetadata: map[string]any{"k": "v"}, Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestProcess_ExistingUpdate_NonCriticalOnly_SkipsChainCall(t *testing.T) {
	o, assets, content, chain, logs, _ := newTestOrchestrator()
	ctx := context.Background()

	critical := map[string]any{"k": "v"}
	cid, err := content.ComputeCID(ctx, canonicaljson.AssetPayload("asset-7", "0xowner", critical))
	require.NoError(t, err)
	assets.Seed(&domain.AssetVersion{
		AssetID: "asset-7", OwnerAddress: "0xowner", VersionNumber: 1, IPFSVersion: 1,
		CriticalMetadata: critical, IPFSHash: cid, ChainTxID: "0xtx1", IsCurrent: true,
	})

	out, err := o.Process(ctx, Input{
		AssetID: "asset-7", OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		CriticalMetadata: critical, NonCriticalMetadata: map[string]any{"note": "updated"},
		Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.Equal(t, 2, out.Asset.VersionNumber)
	assert.Equal(t, 1, out.Asset.IPFSVersion, "ipfs_version carries forward when critical metadata is unchanged")
	assert.Equal(t, 0, chain.CallCount("UpdateIPFSForServerSigned"))
	assert.Equal(t, 0, chain.CallCount("StoreCIDDigestForServerSigned"))
	require.Len(t, logs.ForAsset("asset-7"), 1)
	assert.Equal(t, domain.ActionUpdate, logs.ForAsset("asset-7")[0].Action)
}

func TestProcess_ExistingUpdate_CriticalChange_MintsNewVersion(t *testing.T) {
	o, assets, _, chain, logs, _ := newTestOrchestrator()
	ctx := context.Background()

	assets.Seed(&domain.AssetVersion{
		AssetID: "asset-8", OwnerAddress: "0xowner", VersionNumber: 1, IPFSVersion: 1,
		CriticalMetadata: map[string]any{"k": "old"}, IPFSHash: "bafy-old", ChainTxID: "0xtx1", IsCurrent: true,
	})

	out, err := o.Process(ctx, Input{
		AssetID: "asset-8", OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		CriticalMetadata: map[string]any{"k": "new"}, Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.Equal(t, 2, out.Asset.VersionNumber)
	assert.Equal(t, 2, out.Asset.IPFSVersion, "ipfs_version advances when critical metadata changes")
	assert.Equal(t, 1, chain.CallCount("UpdateIPFSForServerSigned"))
	require.NotEmpty(t, logs.ForAsset("asset-8"))
	assert.Equal(t, domain.ActionVersionCreate, logs.ForAsset("asset-8")[0].Action)
}

type staleReadAssetStore struct {
	*testsupport.FakeAssetStore
	once sync.Once
}

// FindAnyIncludingDeleted simulates a concurrent writer racing in between
// the orchestrator's read and its own compare-and-swap write: the snapshot
// returned here is already stale by the time the caller uses it.
func (s *staleReadAssetStore) FindAnyIncludingDeleted(ctx context.Context, assetID string) (*domain.AssetVersion, error) {
	v, err := s.FakeAssetStore.FindAnyIncludingDeleted(ctx, assetID)
	if err == nil {
		s.once.Do(func() {
			_, _ = s.FakeAssetStore.CreateNewVersion(ctx, assetID, v.VersionNumber, assetstore.NewVersionDelta{
				CriticalMetadata: v.CriticalMetadata, IPFSHash: v.IPFSHash, IPFSVersion: v.IPFSVersion,
			})
		})
	}
	return v, err
}

func TestProcess_VersionConflict_MapsToConflictError(t *testing.T) {
	base := testsupport.NewFakeAssetStore()
	assets := &staleReadAssetStore{FakeAssetStore: base}
	content := testsupport.NewFakeContentStore()
	chain := testsupport.NewFakeChain(serverWallet)
	chain.IsDelegateFn = func(context.Context, string, string) (bool, error) { return true, nil }
	logs := testsupport.NewFakeTxLog()
	pend := testsupport.NewFakePendingStore()
	o := New(assets, content, chain, logs, pend, log.New(log.Writer(), "", 0))
	ctx := context.Background()

	base.Seed(&domain.AssetVersion{
		AssetID: "asset-9", OwnerAddress: "0xowner", VersionNumber: 1, IPFSVersion: 1,
		CriticalMetadata: map[string]any{"k": "old"}, IPFSHash: "bafy-old", IsCurrent: true,
	})

	_, err := o.Process(ctx, Input{
		AssetID: "asset-9", OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		CriticalMetadata: map[string]any{"k": "racing"}, Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestProcess_Recreate_DeletedAssetByOriginalOwner(t *testing.T) {
	o, assets, _, chain, logs, _ := newTestOrchestrator()
	ctx := context.Background()

	assets.Seed(&domain.AssetVersion{
		AssetID: "asset-10", OwnerAddress: "0xowner", VersionNumber: 3, IPFSVersion: 2,
		CriticalMetadata: map[string]any{"k": "old"}, IsCurrent: true, IsDeleted: true,
	})

	out, err := o.Process(ctx, Input{
		AssetID: "asset-10", OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		CriticalMetadata: map[string]any{"k": "fresh"}, Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.Equal(t, 1, out.Asset.VersionNumber)
	assert.False(t, out.Asset.IsDeleted)
	assert.Equal(t, 1, chain.CallCount("UpdateIPFSForServerSigned"))
	history, err := assets.History(ctx, "asset-10")
	require.NoError(t, err)
	assert.Len(t, history, 1, "recreate purges prior history")
	entries := logs.ForAsset("asset-10")
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.ActionRecreateDeleted, entries[len(entries)-1].Action)
}

func TestProcess_RecreateByDifferentAddress_Forbidden(t *testing.T) {
	o, assets, _, _, _, _ := newTestOrchestrator()
	ctx := context.Background()

	assets.Seed(&domain.AssetVersion{
		AssetID: "asset-11", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true, IsDeleted: true,
	})

	_, err := o.Process(ctx, Input{
		AssetID: "asset-11", OwnerAddress: "0xsomeoneelse", InitiatorAddress: "0xsomeoneelse",
		CriticalMetadata: map[string]any{"k": "v"}, Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestProcess_DifferentOwner_LiveAsset_Rejected(t *testing.T) {
	o, assets, _, _, _, _ := newTestOrchestrator()
	ctx := context.Background()

	assets.Seed(&domain.AssetVersion{
		AssetID: "asset-12", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true,
	})

	_, err := o.Process(ctx, Input{
		AssetID: "asset-12", OwnerAddress: "0xsomeoneelse", InitiatorAddress: "0xsomeoneelse",
		CriticalMetadata: map[string]any{"k": "v"}, Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestComplete_Create_ResumesPendingFlow(t *testing.T) {
	o, assets, _, chain, logs, pend := newTestOrchestrator()
	ctx := context.Background()

	out, err := o.Process(ctx, Input{
		AssetID: "asset-13", OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		CriticalMetadata: map[string]any{"k": "v"}, NonCriticalMetadata: map[string]any{"n": 1.0},
		Auth: walletAuth(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingSignature, out.Status)

	completed, err := o.Complete(ctx, "0xowner", out.Pending.TxID, "0xbroadcasttx")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, completed.Status)
	assert.Equal(t, 1, completed.Asset.VersionNumber)
	assert.Equal(t, "0xbroadcasttx", completed.Asset.ChainTxID)

	_, err = pend.Get(ctx, "0xowner", out.Pending.TxID)
	assert.Error(t, err, "pending transaction is removed once completed")

	asset, err := assets.FindCurrent(ctx, "asset-13")
	require.NoError(t, err)
	assert.Equal(t, "0xbroadcasttx", asset.ChainTxID)
	assert.Len(t, logs.ForAsset("asset-13"), 1)
	assert.Equal(t, 1, chain.CallCount("ConfirmBroadcast"))
}

func TestComplete_BroadcastReverted_ReturnsInternalError(t *testing.T) {
	o, _, _, chain, _, _ := newTestOrchestrator()
	ctx := context.Background()

	out, err := o.Process(ctx, Input{
		AssetID: "asset-14", OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		CriticalMetadata: map[string]any{"k": "v"}, Auth: walletAuth(),
	})
	require.NoError(t, err)

	chain.ConfirmBroadcastFn = func(ctx context.Context, txHash string) (*chainclient.CallResult, error) {
		return &chainclient.CallResult{TxHash: txHash, Success: false}, nil
	}
	_, err = o.Complete(ctx, "0xowner", out.Pending.TxID, "0xbroadcasttx")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func batchItems(n int) []BatchItem {
	items := make([]BatchItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, BatchItem{
			AssetID:          "batch-asset-" + itoaTest(i),
			CriticalMetadata: map[string]any{"i": i},
		})
	}
	return items
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func TestProcessBatch_CapsAtMaxBatchAssets(t *testing.T) {
	o, assets, _, chain, _, _ := newTestOrchestrator()
	ctx := context.Background()

	out, err := o.ProcessBatch(ctx, BatchInput{
		OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		Items: batchItems(maxBatchAssets + 10), Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.Len(t, out.Assets, maxBatchAssets)
	assert.Equal(t, 1, chain.CallCount("BatchStoreCIDDigestsForServerSigned"), "one aggregate chain call regardless of batch size")

	all, err := assets.ListByOwner(ctx, "0xowner", false, false)
	require.NoError(t, err)
	assert.Len(t, all, maxBatchAssets)
}

func TestProcessBatch_FreshCreates_OneAggregateTransaction_APIKey(t *testing.T) {
	o, assets, _, chain, logs, _ := newTestOrchestrator()
	ctx := context.Background()

	out, err := o.ProcessBatch(ctx, BatchInput{
		OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		Items: []BatchItem{
			{AssetID: "b-1", CriticalMetadata: map[string]any{"k": "1"}},
			{AssetID: "b-2", CriticalMetadata: map[string]any{"k": "2"}},
			{AssetID: "b-3", CriticalMetadata: map[string]any{"k": "3"}},
		},
		Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	require.Len(t, out.Assets, 3)
	assert.Equal(t, 1, chain.CallCount("BatchStoreCIDDigestsForServerSigned"))
	assert.Equal(t, 0, chain.CallCount("StoreCIDDigestForServerSigned"), "batch items anchor via the aggregate call, not the single-asset one")

	for _, id := range []string{"b-1", "b-2", "b-3"} {
		asset, err := assets.FindCurrent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, asset.VersionNumber)
		require.Len(t, logs.ForAsset(id), 1)
		assert.Equal(t, domain.ActionCreate, logs.ForAsset(id)[0].Action)
	}
}

func TestProcessBatch_SingleItemFailure_AbortsWholeBatchBeforeChainWork(t *testing.T) {
	o, assets, _, chain, logs, _ := newTestOrchestrator()
	ctx := context.Background()

	_, err := o.ProcessBatch(ctx, BatchInput{
		OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		Items: []BatchItem{
			{AssetID: "good-1", CriticalMetadata: map[string]any{"k": "1"}},
			{AssetID: "", CriticalMetadata: map[string]any{"k": "2"}},
			{AssetID: "good-2", CriticalMetadata: map[string]any{"k": "3"}},
		},
		Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 0, chain.CallCount("BatchStoreCIDDigestsForServerSigned"), "no chain work happens once any item fails planning")
	assert.Equal(t, 0, chain.CallCount("BatchStoreCIDDigests"))

	_, err = assets.FindCurrent(ctx, "good-1")
	assert.Error(t, err, "no asset in the batch is written when one item fails")
	assert.Empty(t, logs.ForAsset("good-1"))
}

func TestProcessBatch_NonCriticalOnly_SkipsChainCallButStillWrites(t *testing.T) {
	o, assets, content, chain, logs, _ := newTestOrchestrator()
	ctx := context.Background()

	critical := map[string]any{"k": "v"}
	cid, err := content.ComputeCID(ctx, canonicaljson.AssetPayload("b-skip", "0xowner", critical))
	require.NoError(t, err)
	assets.Seed(&domain.AssetVersion{
		AssetID: "b-skip", OwnerAddress: "0xowner", VersionNumber: 1, IPFSVersion: 1,
		CriticalMetadata: critical, IPFSHash: cid, ChainTxID: "0xtx1", IsCurrent: true,
	})

	out, err := o.ProcessBatch(ctx, BatchInput{
		OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		Items: []BatchItem{
			{AssetID: "b-skip", CriticalMetadata: critical, NonCriticalMetadata: map[string]any{"note": "updated"}},
		},
		Auth: apiKeyAuth(domain.PermissionWrite),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	require.Len(t, out.Assets, 1)
	assert.Equal(t, 2, out.Assets[0].VersionNumber)
	assert.Equal(t, 0, chain.CallCount("BatchStoreCIDDigestsForServerSigned"), "non-critical-only items need no chain call at all")
	require.Len(t, logs.ForAsset("b-skip"), 1)
	assert.Equal(t, domain.ActionUpdate, logs.ForAsset("b-skip")[0].Action)
}

func TestProcessBatch_WalletSession_PendingThenComplete_WritesAllInOnePass(t *testing.T) {
	o, assets, _, chain, logs, pend := newTestOrchestrator()
	ctx := context.Background()

	out, err := o.ProcessBatch(ctx, BatchInput{
		OwnerAddress: "0xowner", InitiatorAddress: "0xowner",
		Items: []BatchItem{
			{AssetID: "w-1", CriticalMetadata: map[string]any{"k": "1"}},
			{AssetID: "w-2", CriticalMetadata: map[string]any{"k": "2"}},
		},
		Auth: walletAuth(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingSignature, out.Status)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "batch", out.Pending.Echo["branch"])
	assert.Equal(t, 1, chain.CallCount("BatchStoreCIDDigests"))
	assert.Empty(t, logs.Entries, "no log entry until the pending batch completes")

	completed, err := o.Complete(ctx, "0xowner", out.Pending.TxID, "0xbatchtx")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, completed.Status)
	require.Len(t, completed.Assets, 2)

	for _, id := range []string{"w-1", "w-2"} {
		asset, err := assets.FindCurrent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "0xbatchtx", asset.ChainTxID)
		require.Len(t, logs.ForAsset(id), 1)
	}
	_, err = pend.Get(ctx, "0xowner", out.Pending.TxID)
	assert.Error(t, err, "pending transaction is removed once the batch completes")
}
