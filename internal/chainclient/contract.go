package chainclient

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fusevault/core/internal/apperr"
)

// IPFSInfo mirrors the contract's getIPFSInfo output (spec.md §4.2).
type IPFSInfo struct {
	CID       string
	Version   uint64
	IsDeleted bool
}

// GetIPFSInfo reads the contract's current view of an asset's anchored CID.
func (c *Client) GetIPFSInfo(ctx context.Context, owner, assetID string) (*IPFSInfo, error) {
	out, err := c.call(ctx, "getIPFSInfo", common.HexToAddress(owner), assetID)
	if err != nil {
		return nil, err
	}
	return &IPFSInfo{
		CID:       out[0].(string),
		Version:   out[1].(*big.Int).Uint64(),
		IsDeleted: out[2].(bool),
	}, nil
}

// VerificationResult mirrors the contract's verifyCID output (spec.md
// §4.11, step "on-chain verifyCID call").
type VerificationResult struct {
	IsValid       bool
	ActualVersion uint64
	IsDeleted     bool
	Message       string
}

// VerifyCID asks the contract whether cid/claimedVersion match what it has
// recorded for (owner, assetID).
func (c *Client) VerifyCID(ctx context.Context, owner, assetID, cidStr string, claimedVersion uint64) (*VerificationResult, error) {
	out, err := c.call(ctx, "verifyCID", common.HexToAddress(owner), assetID, cidStr, new(big.Int).SetUint64(claimedVersion))
	if err != nil {
		return nil, err
	}
	return &VerificationResult{
		IsValid:       out[0].(bool),
		ActualVersion: out[1].(*big.Int).Uint64(),
		IsDeleted:     out[2].(bool),
		Message:       out[3].(string),
	}, nil
}

// IsDelegate reports whether delegate currently holds delegated write
// access on owner's assets (spec.md §4.7, live re-check against chain).
func (c *Client) IsDelegate(ctx context.Context, owner, delegate string) (bool, error) {
	out, err := c.call(ctx, "delegates", common.HexToAddress(owner), common.HexToAddress(delegate))
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// PendingTransferTo reads the contract's pendingTransferOf mapping: the
// address a transfer is pending to, or the zero address if none is
// pending (SPEC_FULL.md §10).
func (c *Client) PendingTransferTo(ctx context.Context, owner, assetID string) (string, error) {
	out, err := c.call(ctx, "pendingTransferOf", common.HexToAddress(owner), assetID)
	if err != nil {
		return "", err
	}
	addr := out[0].(common.Address)
	return addr.Hex(), nil
}

// StoreCIDDigest builds an unsigned storeCIDDigest transaction for the
// asset owner to sign (first-time anchor of a new asset, spec.md §4.3).
func (c *Client) StoreCIDDigest(ctx context.Context, owner, assetID, cidStr string) (*UnsignedTransaction, error) {
	return c.BuildUnsigned(ctx, owner, "storeCIDDigest", assetID, cidStr)
}

// StoreCIDDigestForServerSigned submits a server-signed storeCIDDigest call
// on behalf of owner, used when a delegate acting through an API key creates
// a brand-new asset for that owner (spec.md §4.7).
func (c *Client) StoreCIDDigestForServerSigned(ctx context.Context, owner, assetID, cidStr string) (*CallResult, error) {
	return c.CallServerSigned(ctx, "storeCIDDigestFor", common.HexToAddress(owner), assetID, cidStr)
}

// UpdateIPFS builds an unsigned updateIPFS transaction for the asset owner
// to sign (critical-metadata change by the owner themselves, spec.md
// §4.5).
func (c *Client) UpdateIPFS(ctx context.Context, owner, assetID, cidStr string) (*UnsignedTransaction, error) {
	return c.BuildUnsigned(ctx, owner, "updateIPFS", assetID, cidStr)
}

// UpdateIPFSForServerSigned submits a server-signed updateIPFS call on
// behalf of owner, used when a delegate acting through the server updates
// an asset's critical metadata (spec.md §4.7).
func (c *Client) UpdateIPFSForServerSigned(ctx context.Context, owner, assetID, cidStr string) (*CallResult, error) {
	return c.CallServerSigned(ctx, "updateIPFSFor", common.HexToAddress(owner), assetID, cidStr)
}

// DeleteAsset builds an unsigned deleteAsset transaction for the asset
// owner to sign (spec.md §4.6).
func (c *Client) DeleteAsset(ctx context.Context, owner, assetID string) (*UnsignedTransaction, error) {
	return c.BuildUnsigned(ctx, owner, "deleteAsset", assetID)
}

// DeleteAssetForServerSigned submits a server-signed deleteAsset call on
// behalf of owner, used for delegate-initiated deletes.
func (c *Client) DeleteAssetForServerSigned(ctx context.Context, owner, assetID string) (*CallResult, error) {
	return c.CallServerSigned(ctx, "deleteAssetFor", common.HexToAddress(owner), assetID)
}

// BatchDeleteAssets builds an unsigned batchDeleteAssets transaction for
// the owner to sign (spec.md §4.6 batch variant).
func (c *Client) BatchDeleteAssets(ctx context.Context, owner string, assetIDs []string) (*UnsignedTransaction, error) {
	return c.BuildUnsigned(ctx, owner, "batchDeleteAssets", assetIDs)
}

// BatchDeleteAssetsForServerSigned submits a server-signed batch delete on
// behalf of owner.
func (c *Client) BatchDeleteAssetsForServerSigned(ctx context.Context, owner string, assetIDs []string) (*CallResult, error) {
	return c.CallServerSigned(ctx, "batchDeleteAssetsFor", common.HexToAddress(owner), assetIDs)
}

// BatchStoreCIDDigests builds a single unsigned batchStoreCIDDigests
// transaction anchoring every (assetID, cid) pair in one call, for the
// owner to sign (spec.md §4.3 batch variant: "upload each to IPFS
// concurrently, [then] build one aggregate on-chain transaction").
// assetIDs and cids must be parallel slices of equal length.
func (c *Client) BatchStoreCIDDigests(ctx context.Context, owner string, assetIDs, cids []string) (*UnsignedTransaction, error) {
	return c.BuildUnsigned(ctx, owner, "batchStoreCIDDigests", assetIDs, cids)
}

// BatchStoreCIDDigestsForServerSigned submits a server-signed aggregate
// anchor on behalf of owner, used when a delegate acting through an API
// key batch-uploads multiple assets for that owner in one call.
func (c *Client) BatchStoreCIDDigestsForServerSigned(ctx context.Context, owner string, assetIDs, cids []string) (*CallResult, error) {
	return c.CallServerSigned(ctx, "batchStoreCIDDigestsFor", common.HexToAddress(owner), assetIDs, cids)
}

// SetDelegate builds an unsigned setDelegate transaction for the owner to
// sign (spec.md §4.7: delegation is granted on-chain by the owner).
func (c *Client) SetDelegate(ctx context.Context, owner, delegate string, status bool) (*UnsignedTransaction, error) {
	return c.BuildUnsigned(ctx, owner, "setDelegate", common.HexToAddress(delegate), status)
}

// InitiateTransfer builds an unsigned initiateTransfer transaction for the
// current owner to sign (SPEC_FULL.md §10).
func (c *Client) InitiateTransfer(ctx context.Context, currentOwner, assetID, newOwner string) (*UnsignedTransaction, error) {
	return c.BuildUnsigned(ctx, currentOwner, "initiateTransfer", assetID, common.HexToAddress(newOwner))
}

// AcceptTransfer builds an unsigned acceptTransfer transaction for the new
// owner to sign (SPEC_FULL.md §10).
func (c *Client) AcceptTransfer(ctx context.Context, newOwner, assetID, previousOwner string) (*UnsignedTransaction, error) {
	return c.BuildUnsigned(ctx, newOwner, "acceptTransfer", assetID, common.HexToAddress(previousOwner))
}

// CancelTransfer builds an unsigned cancelTransfer transaction for the
// current owner to sign (SPEC_FULL.md §10).
func (c *Client) CancelTransfer(ctx context.Context, currentOwner, assetID string) (*UnsignedTransaction, error) {
	return c.BuildUnsigned(ctx, currentOwner, "cancelTransfer", assetID)
}

// TransactionDetails is what GetTransactionDetails decodes out of a mined
// transaction's calldata, used by the recovery path to recover a CID from
// a known tx hash (spec.md §4.11 step "decode calldata").
type TransactionDetails struct {
	FunctionName string
	Sender       string
	CID          string
}

// GetTransactionDetails fetches and decodes a mined transaction, checking
// that its calldata references expectedAssetID. Returns
// apperr.KindIntegrityFailure if the transaction exists but doesn't
// reference the expected asset.
func (c *Client) GetTransactionDetails(ctx context.Context, txHash, expectedAssetID string) (*TransactionDetails, error) {
	hash := common.HexToHash(txHash)

	tx, isPending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to fetch transaction", err)
	}
	if isPending {
		return nil, apperr.New(apperr.KindDependencyUnavailable, "transaction is still pending")
	}

	sender, err := types.Sender(types.NewEIP155Signer(tx.ChainId()), tx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to recover transaction sender", err)
	}

	method, err := c.abi.MethodById(tx.Data()[:4])
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrityFailure, "transaction calldata does not match the asset-registry ABI", err)
	}

	args := make(map[string]any)
	if err := method.Inputs.UnpackIntoMap(args, tx.Data()[4:]); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to unpack transaction calldata", err)
	}

	assetID, _ := args["assetId"].(string)
	if assetID != expectedAssetID {
		return nil, apperr.New(apperr.KindIntegrityFailure, "transaction does not reference the expected asset id")
	}

	cidValue, _ := args["cid"].(string)
	return &TransactionDetails{
		FunctionName: method.Name,
		Sender:       sender.Hex(),
		CID:          cidValue,
	}, nil
}
