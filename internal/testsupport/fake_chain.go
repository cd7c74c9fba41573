package testsupport

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/chainclient"
)

// FakeChain is an in-memory stand-in for *chainclient.Client. Every method
// is backed by an overridable func field so a test only has to specify the
// behavior it actually cares about; NewFakeChain's defaults make the
// common happy-path flows work unmodified.
//
// Calls is a recording of every method invoked, in order, for tests that
// want to assert call shape rather than just return values.
type FakeChain struct {
	mu    sync.Mutex
	Calls []string

	ServerAddr string

	IsDelegateFn                     func(ctx context.Context, owner, delegate string) (bool, error)
	GetIPFSInfoFn                    func(ctx context.Context, owner, assetID string) (*chainclient.IPFSInfo, error)
	VerifyCIDFn                      func(ctx context.Context, owner, assetID, cidStr string, claimedVersion uint64) (*chainclient.VerificationResult, error)
	GetTransactionDetailsFn          func(ctx context.Context, txHash, expectedAssetID string) (*chainclient.TransactionDetails, error)
	RecoverFromEventsFn              func(ctx context.Context, owner, assetID string) (*chainclient.AnchorEvent, error)
	StoreCIDDigestFn                 func(ctx context.Context, owner, assetID, cidStr string) (*chainclient.UnsignedTransaction, error)
	StoreCIDDigestForServerSignedFn  func(ctx context.Context, owner, assetID, cidStr string) (*chainclient.CallResult, error)
	UpdateIPFSFn                     func(ctx context.Context, owner, assetID, cidStr string) (*chainclient.UnsignedTransaction, error)
	UpdateIPFSForServerSignedFn      func(ctx context.Context, owner, assetID, cidStr string) (*chainclient.CallResult, error)
	DeleteAssetFn                    func(ctx context.Context, owner, assetID string) (*chainclient.UnsignedTransaction, error)
	DeleteAssetForServerSignedFn     func(ctx context.Context, owner, assetID string) (*chainclient.CallResult, error)
	BatchDeleteAssetsFn              func(ctx context.Context, owner string, assetIDs []string) (*chainclient.UnsignedTransaction, error)
	BatchDeleteAssetsForServerSignedFn func(ctx context.Context, owner string, assetIDs []string) (*chainclient.CallResult, error)
	BatchStoreCIDDigestsFn              func(ctx context.Context, owner string, assetIDs, cids []string) (*chainclient.UnsignedTransaction, error)
	BatchStoreCIDDigestsForServerSignedFn func(ctx context.Context, owner string, assetIDs, cids []string) (*chainclient.CallResult, error)
	ConfirmBroadcastFn                func(ctx context.Context, txHash string) (*chainclient.CallResult, error)
	PendingTransferToFn                func(ctx context.Context, owner, assetID string) (string, error)
	InitiateTransferFn                 func(ctx context.Context, currentOwner, assetID, newOwner string) (*chainclient.UnsignedTransaction, error)
	AcceptTransferFn                   func(ctx context.Context, newOwner, assetID, previousOwner string) (*chainclient.UnsignedTransaction, error)
	CancelTransferFn                   func(ctx context.Context, currentOwner, assetID string) (*chainclient.UnsignedTransaction, error)
	LatestBlockFn                      func(ctx context.Context) (uint64, error)
	ScanTransferEventsToFn              func(ctx context.Context, newOwner string, fromBlock, toBlock uint64) ([]chainclient.TransferEvent, error)

	txSeq int
}

// NewFakeChain returns a FakeChain whose server wallet is serverAddr and
// whose defaults make a simple owner-signed, non-delegated happy path
// succeed without any further configuration.
func NewFakeChain(serverAddr string) *FakeChain {
	f := &FakeChain{ServerAddr: serverAddr}
	f.IsDelegateFn = func(context.Context, string, string) (bool, error) { return false, nil }
	f.GetIPFSInfoFn = func(context.Context, string, string) (*chainclient.IPFSInfo, error) {
		return &chainclient.IPFSInfo{}, nil
	}
	f.VerifyCIDFn = func(context.Context, string, string, string, uint64) (*chainclient.VerificationResult, error) {
		return &chainclient.VerificationResult{IsValid: true}, nil
	}
	f.GetTransactionDetailsFn = func(context.Context, string, string) (*chainclient.TransactionDetails, error) {
		return &chainclient.TransactionDetails{Sender: serverAddr}, nil
	}
	f.RecoverFromEventsFn = func(context.Context, string, string) (*chainclient.AnchorEvent, error) {
		return nil, apperr.New(apperr.KindNotFound, "no AssetAnchored event found for this asset within the scan window")
	}
	f.StoreCIDDigestFn = f.unsignedFn("storeCIDDigest")
	f.UpdateIPFSFn = f.unsignedFn("updateIPFS")
	f.DeleteAssetFn = f.unsignedFn("deleteAsset")
	f.BatchDeleteAssetsFn = func(ctx context.Context, owner string, assetIDs []string) (*chainclient.UnsignedTransaction, error) {
		return f.unsigned("batchDeleteAssets"), nil
	}
	f.StoreCIDDigestForServerSignedFn = f.callResultFn()
	f.UpdateIPFSForServerSignedFn = f.callResultFn()
	f.DeleteAssetForServerSignedFn = f.callResultFn()
	f.BatchDeleteAssetsForServerSignedFn = func(ctx context.Context, owner string, assetIDs []string) (*chainclient.CallResult, error) {
		return f.callResult(), nil
	}
	f.BatchStoreCIDDigestsFn = func(ctx context.Context, owner string, assetIDs, cids []string) (*chainclient.UnsignedTransaction, error) {
		return f.unsigned("batchStoreCIDDigests"), nil
	}
	f.BatchStoreCIDDigestsForServerSignedFn = func(ctx context.Context, owner string, assetIDs, cids []string) (*chainclient.CallResult, error) {
		return f.callResult(), nil
	}
	f.ConfirmBroadcastFn = func(ctx context.Context, txHash string) (*chainclient.CallResult, error) {
		return &chainclient.CallResult{TxHash: txHash, Success: true}, nil
	}
	f.PendingTransferToFn = func(context.Context, string, string) (string, error) {
		return "0x0000000000000000000000000000000000000000", nil
	}
	f.InitiateTransferFn = f.unsignedFn("initiateTransfer")
	f.AcceptTransferFn = func(ctx context.Context, newOwner, assetID, previousOwner string) (*chainclient.UnsignedTransaction, error) {
		return f.unsigned("acceptTransfer"), nil
	}
	f.CancelTransferFn = f.unsignedFn("cancelTransfer")
	f.LatestBlockFn = func(context.Context) (uint64, error) { return 1000, nil }
	f.ScanTransferEventsToFn = func(context.Context, string, uint64, uint64) ([]chainclient.TransferEvent, error) {
		return nil, nil
	}
	return f
}

func (f *FakeChain) unsigned(fn string) *chainclient.UnsignedTransaction {
	f.txSeq++
	return &chainclient.UnsignedTransaction{
		FunctionName: fn,
		GasPrice:     big.NewInt(5_000_000_000),
		ChainID:      big.NewInt(11155111),
		EstimatedGas: 21000,
	}
}

func (f *FakeChain) unsignedFn(fn string) func(ctx context.Context, a, b, c string) (*chainclient.UnsignedTransaction, error) {
	return func(context.Context, string, string, string) (*chainclient.UnsignedTransaction, error) {
		return f.unsigned(fn), nil
	}
}

func (f *FakeChain) callResult() *chainclient.CallResult {
	f.txSeq++
	return &chainclient.CallResult{TxHash: "0xfaketx" + itoa(f.txSeq), Success: true}
}

func (f *FakeChain) callResultFn() func(ctx context.Context, a, b, c string) (*chainclient.CallResult, error) {
	return func(context.Context, string, string, string) (*chainclient.CallResult, error) {
		return f.callResult(), nil
	}
}

func (f *FakeChain) record(name string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, name)
	f.mu.Unlock()
}

func (f *FakeChain) ServerAddress() common.Address { return common.HexToAddress(f.ServerAddr) }

func (f *FakeChain) IsDelegate(ctx context.Context, owner, delegate string) (bool, error) {
	f.record("IsDelegate")
	return f.IsDelegateFn(ctx, owner, delegate)
}

func (f *FakeChain) GetIPFSInfo(ctx context.Context, owner, assetID string) (*chainclient.IPFSInfo, error) {
	f.record("GetIPFSInfo")
	return f.GetIPFSInfoFn(ctx, owner, assetID)
}

func (f *FakeChain) VerifyCID(ctx context.Context, owner, assetID, cidStr string, claimedVersion uint64) (*chainclient.VerificationResult, error) {
	f.record("VerifyCID")
	return f.VerifyCIDFn(ctx, owner, assetID, cidStr, claimedVersion)
}

func (f *FakeChain) GetTransactionDetails(ctx context.Context, txHash, expectedAssetID string) (*chainclient.TransactionDetails, error) {
	f.record("GetTransactionDetails")
	return f.GetTransactionDetailsFn(ctx, txHash, expectedAssetID)
}

func (f *FakeChain) RecoverFromEvents(ctx context.Context, owner, assetID string) (*chainclient.AnchorEvent, error) {
	f.record("RecoverFromEvents")
	return f.RecoverFromEventsFn(ctx, owner, assetID)
}

func (f *FakeChain) StoreCIDDigest(ctx context.Context, owner, assetID, cidStr string) (*chainclient.UnsignedTransaction, error) {
	f.record("StoreCIDDigest")
	return f.StoreCIDDigestFn(ctx, owner, assetID, cidStr)
}

func (f *FakeChain) StoreCIDDigestForServerSigned(ctx context.Context, owner, assetID, cidStr string) (*chainclient.CallResult, error) {
	f.record("StoreCIDDigestForServerSigned")
	return f.StoreCIDDigestForServerSignedFn(ctx, owner, assetID, cidStr)
}

func (f *FakeChain) UpdateIPFS(ctx context.Context, owner, assetID, cidStr string) (*chainclient.UnsignedTransaction, error) {
	f.record("UpdateIPFS")
	return f.UpdateIPFSFn(ctx, owner, assetID, cidStr)
}

func (f *FakeChain) UpdateIPFSForServerSigned(ctx context.Context, owner, assetID, cidStr string) (*chainclient.CallResult, error) {
	f.record("UpdateIPFSForServerSigned")
	return f.UpdateIPFSForServerSignedFn(ctx, owner, assetID, cidStr)
}

func (f *FakeChain) DeleteAsset(ctx context.Context, owner, assetID string) (*chainclient.UnsignedTransaction, error) {
	f.record("DeleteAsset")
	return f.DeleteAssetFn(ctx, owner, assetID)
}

func (f *FakeChain) DeleteAssetForServerSigned(ctx context.Context, owner, assetID string) (*chainclient.CallResult, error) {
	f.record("DeleteAssetForServerSigned")
	return f.DeleteAssetForServerSignedFn(ctx, owner, assetID)
}

func (f *FakeChain) BatchDeleteAssets(ctx context.Context, owner string, assetIDs []string) (*chainclient.UnsignedTransaction, error) {
	f.record("BatchDeleteAssets")
	return f.BatchDeleteAssetsFn(ctx, owner, assetIDs)
}

func (f *FakeChain) BatchDeleteAssetsForServerSigned(ctx context.Context, owner string, assetIDs []string) (*chainclient.CallResult, error) {
	f.record("BatchDeleteAssetsForServerSigned")
	return f.BatchDeleteAssetsForServerSignedFn(ctx, owner, assetIDs)
}

func (f *FakeChain) BatchStoreCIDDigests(ctx context.Context, owner string, assetIDs, cids []string) (*chainclient.UnsignedTransaction, error) {
	f.record("BatchStoreCIDDigests")
	return f.BatchStoreCIDDigestsFn(ctx, owner, assetIDs, cids)
}

func (f *FakeChain) BatchStoreCIDDigestsForServerSigned(ctx context.Context, owner string, assetIDs, cids []string) (*chainclient.CallResult, error) {
	f.record("BatchStoreCIDDigestsForServerSigned")
	return f.BatchStoreCIDDigestsForServerSignedFn(ctx, owner, assetIDs, cids)
}

func (f *FakeChain) ConfirmBroadcast(ctx context.Context, txHash string) (*chainclient.CallResult, error) {
	f.record("ConfirmBroadcast")
	return f.ConfirmBroadcastFn(ctx, txHash)
}

func (f *FakeChain) PendingTransferTo(ctx context.Context, owner, assetID string) (string, error) {
	f.record("PendingTransferTo")
	return f.PendingTransferToFn(ctx, owner, assetID)
}

func (f *FakeChain) InitiateTransfer(ctx context.Context, currentOwner, assetID, newOwner string) (*chainclient.UnsignedTransaction, error) {
	f.record("InitiateTransfer")
	return f.InitiateTransferFn(ctx, currentOwner, assetID, newOwner)
}

func (f *FakeChain) AcceptTransfer(ctx context.Context, newOwner, assetID, previousOwner string) (*chainclient.UnsignedTransaction, error) {
	f.record("AcceptTransfer")
	return f.AcceptTransferFn(ctx, newOwner, assetID, previousOwner)
}

func (f *FakeChain) CancelTransfer(ctx context.Context, currentOwner, assetID string) (*chainclient.UnsignedTransaction, error) {
	f.record("CancelTransfer")
	return f.CancelTransferFn(ctx, currentOwner, assetID)
}

func (f *FakeChain) LatestBlock(ctx context.Context) (uint64, error) {
	f.record("LatestBlock")
	return f.LatestBlockFn(ctx)
}

func (f *FakeChain) ScanTransferEventsTo(ctx context.Context, newOwner string, fromBlock, toBlock uint64) ([]chainclient.TransferEvent, error) {
	f.record("ScanTransferEventsTo")
	return f.ScanTransferEventsToFn(ctx, newOwner, fromBlock, toBlock)
}

// CallCount returns how many times method was invoked.
func (f *FakeChain) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == method {
			n++
		}
	}
	return n
}
