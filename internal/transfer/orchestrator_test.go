package transfer

import (
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/chainclient"
	"github.com/fusevault/core/internal/domain"
	"github.com/fusevault/core/internal/testsupport"
)

func walletAuth() *domain.AuthContext {
	return &domain.AuthContext{Method: domain.AuthMethodWalletSession}
}

func newTestOrchestrator() (*Orchestrator, *testsupport.FakeAssetStore, *testsupport.FakeChain, *testsupport.FakeTxLog, *testsupport.FakePendingStore) {
	assets := testsupport.NewFakeAssetStore()
	chain := testsupport.NewFakeChain("0x0000000000000000000000000000000000000001")
	logs := testsupport.NewFakeTxLog()
	pend := testsupport.NewFakePendingStore()
	o := New(assets, chain, logs, pend, log.New(log.Writer(), "", 0))
	return o, assets, chain, logs, pend
}

func TestInitiate_RequiresOwner(t *testing.T) {
	o, assets, _, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-1", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})

	_, err := o.Initiate(context.Background(), InitiateInput{
		AssetID: "asset-1", CurrentOwner: "0xsomeoneelse", NewOwner: "0xnewowner", Auth: walletAuth(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestInitiate_RejectsDeletedAsset(t *testing.T) {
	o, assets, _, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-2", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true, IsDeleted: true})

	_, err := o.Initiate(context.Background(), InitiateInput{
		AssetID: "asset-2", CurrentOwner: "0xowner", NewOwner: "0xnewowner", Auth: walletAuth(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestInitiate_RejectsWhenAlreadyPending(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-3", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})
	chain.PendingTransferToFn = func(context.Context, string, string) (string, error) {
		return "0xalreadypending", nil
	}

	_, err := o.Initiate(context.Background(), InitiateInput{
		AssetID: "asset-3", CurrentOwner: "0xowner", NewOwner: "0xnewowner", Auth: walletAuth(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestInitiate_Success_ReturnsPendingSignature(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-4", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})

	out, err := o.Initiate(context.Background(), InitiateInput{
		AssetID: "asset-4", CurrentOwner: "0xowner", NewOwner: "0xnewowner", Auth: walletAuth(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingSignature, out.Status)
	assert.Equal(t, "initiate", out.Pending.Echo["branch"])
	assert.Equal(t, 1, chain.CallCount("InitiateTransfer"))
}

func TestCompleteInitiate_LogsAndReturnsAsset(t *testing.T) {
	o, assets, chain, logs, _ := newTestOrchestrator()
	ctx := context.Background()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-5", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})

	out, err := o.Initiate(ctx, InitiateInput{AssetID: "asset-5", CurrentOwner: "0xowner", NewOwner: "0xnewowner", Auth: walletAuth()})
	require.NoError(t, err)

	completed, err := o.CompleteInitiate(ctx, "0xowner", out.Pending.TxID, "0xbroadcasttx")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, completed.Status)
	assert.Equal(t, "asset-5", completed.Asset.AssetID)
	require.Len(t, logs.ForAsset("asset-5"), 1)
	assert.Equal(t, domain.ActionTransferInitiated, logs.ForAsset("asset-5")[0].Action)
	assert.Equal(t, 1, chain.CallCount("ConfirmBroadcast"))
}

func TestAccept_RejectsWrongPreviousOwner(t *testing.T) {
	o, assets, _, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-6", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})

	_, err := o.Accept(context.Background(), AcceptInput{
		AssetID: "asset-6", PreviousOwner: "0xwrongowner", NewOwner: "0xnewowner", Auth: walletAuth(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAccept_RejectsWhenNoMatchingPendingTransfer(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-7", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})
	chain.PendingTransferToFn = func(context.Context, string, string) (string, error) {
		return "0x0000000000000000000000000000000000000000", nil
	}

	_, err := o.Accept(context.Background(), AcceptInput{
		AssetID: "asset-7", PreviousOwner: "0xowner", NewOwner: "0xnewowner", Auth: walletAuth(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAccept_Success_ReturnsPendingSignature(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-8", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})
	chain.PendingTransferToFn = func(context.Context, string, string) (string, error) { return "0xnewowner", nil }

	out, err := o.Accept(context.Background(), AcceptInput{
		AssetID: "asset-8", PreviousOwner: "0xowner", NewOwner: "0xnewowner", Auth: walletAuth(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingSignature, out.Status)
	assert.Equal(t, 1, chain.CallCount("AcceptTransfer"))
}

func TestCompleteAccept_MintsNewVersionUnderNewOwnerAndDeletesOld(t *testing.T) {
	o, assets, chain, logs, pend := newTestOrchestrator()
	ctx := context.Background()
	assets.Seed(&domain.AssetVersion{
		AssetID: "asset-9", OwnerAddress: "0xowner", VersionNumber: 1, IPFSVersion: 1,
		CriticalMetadata: map[string]any{"k": "v"}, IPFSHash: "bafy-1", IsCurrent: true,
	})
	chain.PendingTransferToFn = func(context.Context, string, string) (string, error) { return "0xnewowner", nil }

	out, err := o.Accept(ctx, AcceptInput{AssetID: "asset-9", PreviousOwner: "0xowner", NewOwner: "0xnewowner", Auth: walletAuth()})
	require.NoError(t, err)

	completed, err := o.CompleteAccept(ctx, "0xnewowner", out.Pending.TxID, "0xaccepttx")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, completed.Status)
	assert.Equal(t, "0xnewowner", completed.Asset.OwnerAddress)
	assert.Equal(t, 2, completed.Asset.VersionNumber)
	assert.Equal(t, "bafy-1", completed.Asset.IPFSHash, "transfer carries the content forward unchanged")

	old, err := assets.FindVersion(ctx, "asset-9", 1)
	require.NoError(t, err)
	assert.True(t, old.IsDeleted)
	assert.Equal(t, "0xowner", old.DeletedBy)

	require.Len(t, logs.ForAsset("asset-9"), 1)
	assert.Equal(t, domain.ActionTransferCompleted, logs.ForAsset("asset-9")[0].Action)

	_, err = pend.Get(ctx, "0xnewowner", out.Pending.TxID)
	assert.Error(t, err)
}

func TestCancel_RejectsWhenNothingPending(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-10", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})
	chain.PendingTransferToFn = func(context.Context, string, string) (string, error) {
		return "0x0000000000000000000000000000000000000000", nil
	}

	_, err := o.Cancel(context.Background(), CancelInput{AssetID: "asset-10", Owner: "0xowner", Auth: walletAuth()})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCancel_Success_ReturnsPendingSignature(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-11", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})
	chain.PendingTransferToFn = func(context.Context, string, string) (string, error) { return "0xnewowner", nil }

	out, err := o.Cancel(context.Background(), CancelInput{AssetID: "asset-11", Owner: "0xowner", Auth: walletAuth()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingSignature, out.Status)
	assert.Equal(t, 1, chain.CallCount("CancelTransfer"))
}

func TestCompleteCancel_LogsCancellation(t *testing.T) {
	_, assets, _, logs, _ := newTestOrchestrator()
	ctx := context.Background()
	assets.Seed(&domain.AssetVersion{AssetID: "asset-12", OwnerAddress: "0xowner", VersionNumber: 1, IsCurrent: true})

	chainOverride := testsupport.NewFakeChain("0x0000000000000000000000000000000000000001")
	chainOverride.PendingTransferToFn = func(context.Context, string, string) (string, error) { return "0xnewowner", nil }
	pend := testsupport.NewFakePendingStore()
	o2 := New(assets, chainOverride, logs, pend, log.New(log.Writer(), "", 0))

	out, err := o2.Cancel(ctx, CancelInput{AssetID: "asset-12", Owner: "0xowner", Auth: walletAuth()})
	require.NoError(t, err)

	completed, err := o2.CompleteCancel(ctx, "0xowner", out.Pending.TxID, "0xcanceltx")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, completed.Status)
	require.Len(t, logs.ForAsset("asset-12"), 1)
	assert.Equal(t, domain.ActionTransferCancelled, logs.ForAsset("asset-12")[0].Action)
}

func TestListPending_ReportsOutgoingAndIncoming(t *testing.T) {
	o, assets, chain, _, _ := newTestOrchestrator()
	ctx := context.Background()
	assets.Seed(&domain.AssetVersion{AssetID: "owned-1", OwnerAddress: "0xwallet", VersionNumber: 1, IsCurrent: true})
	assets.Seed(&domain.AssetVersion{AssetID: "owned-2", OwnerAddress: "0xwallet", VersionNumber: 1, IsCurrent: true})
	assets.Seed(&domain.AssetVersion{AssetID: "deleted-1", OwnerAddress: "0xwallet", VersionNumber: 1, IsCurrent: true, IsDeleted: true})

	chain.PendingTransferToFn = func(ctx context.Context, owner, assetID string) (string, error) {
		switch assetID {
		case "owned-1":
			return "0xrecipient", nil
		case "incoming-asset":
			return "0xwallet", nil
		default:
			return "0x0000000000000000000000000000000000000000", nil
		}
	}
	chain.ScanTransferEventsToFn = func(context.Context, string, uint64, uint64) ([]chainclient.TransferEvent, error) {
		return []chainclient.TransferEvent{{Owner: "0xotherowner", AssetID: "incoming-asset", NewOwner: "0xwallet"}}, nil
	}

	outgoing, incoming, err := o.ListPending(ctx, "0xwallet")
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, "owned-1", outgoing[0].AssetID)
	assert.Equal(t, "0xrecipient", outgoing[0].To)

	require.Len(t, incoming, 1)
	assert.Equal(t, "incoming-asset", incoming[0].AssetID)
	assert.Equal(t, "0xotherowner", incoming[0].From)
}
