// Package transfer implements ownership transfer between wallets
// (SPEC_FULL.md §10, grounded on original_source/backend/app/handlers/
// transfer_handler.go): initiate on-chain, accept by minting a new version
// under the new owner and soft-deleting the old owner's row, or cancel
// before acceptance. It follows the same lookup/authorize/branch/log shape
// as internal/upload and internal/delete.
package transfer

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/database"
	"github.com/fusevault/core/internal/domain"
)

// zeroAddress is the contract's sentinel for "no pending transfer", matching
// Ethereum's zero address convention.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// transferEventScanWindow bounds how far back ListPending scans for
// incoming transfers, mirroring chainclient's own event-scan ceiling.
const transferEventScanWindow = 50000

// Orchestrator runs the transfer state machine.
type Orchestrator struct {
	assets  AssetStore
	chain   ChainClient
	logs    TxLog
	pending PendingStore
	logger  *log.Logger
}

// New assembles an Orchestrator from its collaborators.
func New(assets AssetStore, chain ChainClient, logs TxLog, pendingCoord PendingStore, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Transfer] ", log.LstdFlags)
	}
	return &Orchestrator{assets: assets, chain: chain, logs: logs, pending: pendingCoord, logger: logger}
}

// InitiateInput is a request to start transferring an asset to a new owner.
type InitiateInput struct {
	AssetID      string
	CurrentOwner string
	NewOwner     string
	Auth         *domain.AuthContext
}

// Initiate starts an on-chain transfer of asset_id to new_owner, callable
// only by the current owner (transfer_handler.py step 2: "only the asset
// owner can initiate a transfer").
func (o *Orchestrator) Initiate(ctx context.Context, in InitiateInput) (*domain.Outcome, error) {
	if !in.Auth.HasPermission(domain.PermissionWrite) {
		return nil, apperr.New(apperr.KindAuthorization, "caller lacks write permission")
	}

	asset, err := o.assets.FindAnyIncludingDeleted(ctx, in.AssetID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "asset not found")
	}
	if err != nil {
		return nil, err
	}

	owner := strings.ToLower(in.CurrentOwner)
	if !strings.EqualFold(asset.OwnerAddress, owner) {
		return nil, apperr.New(apperr.KindAuthorization, "only the asset owner can initiate a transfer")
	}
	if asset.IsDeleted {
		return nil, apperr.New(apperr.KindValidation, "cannot transfer a deleted asset")
	}

	pendingTo, err := o.chain.PendingTransferTo(ctx, owner, in.AssetID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(pendingTo, zeroAddress) {
		return nil, apperr.New(apperr.KindConflict, "asset already has a pending transfer")
	}

	newOwner := strings.ToLower(in.NewOwner)

	// initiateTransfer has no *For variant in the contract (no explicit
	// owner parameter): only the owner's own signature can authorize it, so
	// this is always a pending-signature flow regardless of auth method.
	unsigned, err := o.chain.InitiateTransfer(ctx, owner, in.AssetID, newOwner)
	if err != nil {
		return nil, err
	}
	echo := map[string]any{"branch": "initiate", "asset_id": in.AssetID, "from": owner, "to": newOwner}
	pendingTx, err := o.pending.Store(ctx, owner, "transfer_initiate", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx}, nil
}

// CompleteInitiate resumes a pending-signature initiate once the owner has
// signed and broadcast the initiateTransfer transaction externally.
func (o *Orchestrator) CompleteInitiate(ctx context.Context, walletAddress, txID, blockchainTxHash string) (*domain.Outcome, error) {
	pendingTx, err := o.pending.Get(ctx, walletAddress, txID)
	if err != nil {
		return nil, err
	}
	result, err := o.chain.ConfirmBroadcast(ctx, blockchainTxHash)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, apperr.New(apperr.KindInternal, "broadcast transaction reverted on chain")
	}

	assetID, _ := pendingTx.Echo["asset_id"].(string)
	from, _ := pendingTx.Echo["from"].(string)
	to, _ := pendingTx.Echo["to"].(string)

	o.record(ctx, assetID, from, domain.ActionTransferInitiated, map[string]any{"from": from, "to": to, "chain_tx_id": result.TxHash})
	if err := o.pending.Remove(ctx, walletAddress, txID); err != nil {
		o.logger.Printf("failed to remove completed pending transaction %s: %v", txID, err)
	}
	asset, err := o.assets.FindAnyIncludingDeleted(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
}

// AcceptInput is a request by the prospective new owner to accept a pending
// transfer.
type AcceptInput struct {
	AssetID       string
	PreviousOwner string
	NewOwner      string
	Auth          *domain.AuthContext
}

// Accept completes a pending transfer: it mints a new version of the asset
// under new_owner carrying forward the same IPFS hash (transfer doesn't
// change the content, only custody), then soft-deletes the previous owner's
// row (transfer_handler.py step 4: "Mark the previous version as deleted
// (transferred)").
func (o *Orchestrator) Accept(ctx context.Context, in AcceptInput) (*domain.Outcome, error) {
	if !in.Auth.HasPermission(domain.PermissionWrite) {
		return nil, apperr.New(apperr.KindAuthorization, "caller lacks write permission")
	}

	asset, err := o.assets.FindAnyIncludingDeleted(ctx, in.AssetID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "asset not found")
	}
	if err != nil {
		return nil, err
	}

	previousOwner := strings.ToLower(in.PreviousOwner)
	if !strings.EqualFold(asset.OwnerAddress, previousOwner) {
		return nil, apperr.New(apperr.KindValidation, "asset is not owned by the specified previous owner")
	}

	pendingTo, err := o.chain.PendingTransferTo(ctx, previousOwner, in.AssetID)
	if err != nil {
		return nil, err
	}
	newOwner := strings.ToLower(in.NewOwner)
	if !strings.EqualFold(pendingTo, newOwner) {
		return nil, apperr.New(apperr.KindNotFound, "no pending transfer for this asset to this recipient")
	}

	// acceptTransfer has no *For variant either: only the new owner's own
	// signature can accept custody, so this is always pending-signature.
	unsigned, err := o.chain.AcceptTransfer(ctx, newOwner, in.AssetID, previousOwner)
	if err != nil {
		return nil, err
	}
	echo := map[string]any{
		"branch":         "accept",
		"asset_id":       in.AssetID,
		"previous_owner": previousOwner,
		"new_owner":      newOwner,
	}
	pendingTx, err := o.pending.Store(ctx, newOwner, "transfer_accept", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx}, nil
}

func (o *Orchestrator) completeAccept(ctx context.Context, asset *domain.AssetVersion, previousOwner, newOwner, chainTxID string) (*domain.Outcome, error) {
	minted, err := o.assets.TransferOwnership(ctx, asset.AssetID, asset.VersionNumber, newOwner, previousOwner, assetstore.NewVersionDelta{
		CriticalMetadata: asset.CriticalMetadata, NonCriticalMetadata: asset.NonCriticalMetadata,
		IPFSHash: asset.IPFSHash, ChainTxID: chainTxID, IPFSVersion: asset.IPFSVersion,
		PerformedBy: newOwner, IsDelegatedAction: false,
	})
	if errors.Is(err, database.ErrVersionConflict) {
		return nil, apperr.Wrap(apperr.KindConflict, "asset was concurrently modified, retry the transfer acceptance", err)
	}
	if err != nil {
		return nil, err
	}

	o.record(ctx, asset.AssetID, newOwner, domain.ActionTransferCompleted, map[string]any{
		"from": previousOwner, "to": newOwner, "chain_tx_id": chainTxID,
		"new_version": minted.VersionNumber,
	})
	return &domain.Outcome{Status: domain.StatusSuccess, Asset: minted}, nil
}

// CompleteAccept resumes a pending-signature accept once the wallet-session
// caller has signed and broadcast the acceptTransfer transaction
// externally.
func (o *Orchestrator) CompleteAccept(ctx context.Context, walletAddress, txID, blockchainTxHash string) (*domain.Outcome, error) {
	pendingTx, err := o.pending.Get(ctx, walletAddress, txID)
	if err != nil {
		return nil, err
	}
	result, err := o.chain.ConfirmBroadcast(ctx, blockchainTxHash)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, apperr.New(apperr.KindInternal, "broadcast transaction reverted on chain")
	}

	assetID, _ := pendingTx.Echo["asset_id"].(string)
	previousOwner, _ := pendingTx.Echo["previous_owner"].(string)
	newOwner, _ := pendingTx.Echo["new_owner"].(string)

	asset, err := o.assets.FindAnyIncludingDeleted(ctx, assetID)
	if err != nil {
		return nil, err
	}
	outcome, err := o.completeAccept(ctx, asset, previousOwner, newOwner, result.TxHash)
	if err != nil {
		return nil, err
	}
	if err := o.pending.Remove(ctx, walletAddress, txID); err != nil {
		o.logger.Printf("failed to remove completed pending transaction %s: %v", txID, err)
	}
	return outcome, nil
}

// CancelInput is a request by the current owner to cancel a transfer they
// initiated before it is accepted.
type CancelInput struct {
	AssetID string
	Owner   string
	Auth    *domain.AuthContext
}

// Cancel reverts a pending transfer, callable only by the current owner.
func (o *Orchestrator) Cancel(ctx context.Context, in CancelInput) (*domain.Outcome, error) {
	if !in.Auth.HasPermission(domain.PermissionWrite) {
		return nil, apperr.New(apperr.KindAuthorization, "caller lacks write permission")
	}

	asset, err := o.assets.FindAnyIncludingDeleted(ctx, in.AssetID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "asset not found")
	}
	if err != nil {
		return nil, err
	}

	owner := strings.ToLower(in.Owner)
	if !strings.EqualFold(asset.OwnerAddress, owner) {
		return nil, apperr.New(apperr.KindAuthorization, "only the asset owner can cancel a transfer")
	}

	pendingTo, err := o.chain.PendingTransferTo(ctx, owner, in.AssetID)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(pendingTo, "") || strings.EqualFold(pendingTo, zeroAddress) {
		return nil, apperr.New(apperr.KindNotFound, "no pending transfer for this asset")
	}

	// cancelTransfer has no *For variant: only the owner's own signature can
	// cancel, so this is always pending-signature.
	unsigned, err := o.chain.CancelTransfer(ctx, owner, in.AssetID)
	if err != nil {
		return nil, err
	}
	echo := map[string]any{"branch": "cancel", "asset_id": in.AssetID, "owner": owner, "pending_to": pendingTo}
	pendingTx, err := o.pending.Store(ctx, owner, "transfer_cancel", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx}, nil
}

// CompleteCancel resumes a pending-signature cancel once the owner has
// signed and broadcast the cancelTransfer transaction externally.
func (o *Orchestrator) CompleteCancel(ctx context.Context, walletAddress, txID, blockchainTxHash string) (*domain.Outcome, error) {
	pendingTx, err := o.pending.Get(ctx, walletAddress, txID)
	if err != nil {
		return nil, err
	}
	result, err := o.chain.ConfirmBroadcast(ctx, blockchainTxHash)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, apperr.New(apperr.KindInternal, "broadcast transaction reverted on chain")
	}

	assetID, _ := pendingTx.Echo["asset_id"].(string)
	owner, _ := pendingTx.Echo["owner"].(string)
	pendingTo, _ := pendingTx.Echo["pending_to"].(string)

	o.record(ctx, assetID, owner, domain.ActionTransferCancelled, map[string]any{"from": owner, "to": pendingTo, "chain_tx_id": result.TxHash})
	if err := o.pending.Remove(ctx, walletAddress, txID); err != nil {
		o.logger.Printf("failed to remove completed pending transaction %s: %v", txID, err)
	}
	asset, err := o.assets.FindAnyIncludingDeleted(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
}

// PendingTransfer is one row of a wallet's pending-transfer listing.
type PendingTransfer struct {
	AssetID string
	From    string
	To      string
}

// ListPending reports every transfer pending for wallet_address, both
// outgoing (assets this wallet owns that it has started transferring away)
// and incoming (transfers addressed to this wallet, discovered via an
// event scan rather than a per-asset poll — the original handler's
// get_pending_transfers left this side unimplemented as "a real
// implementation would need to listen to transfer events").
func (o *Orchestrator) ListPending(ctx context.Context, walletAddress string) (outgoing, incoming []PendingTransfer, err error) {
	wallet := strings.ToLower(walletAddress)

	owned, err := o.assets.ListByOwner(ctx, wallet, false, false)
	if err != nil {
		return nil, nil, err
	}

	type lookup struct {
		assetID string
		pending string
		ok      bool
	}
	results := make([]lookup, len(owned))
	sem := make(chan struct{}, 16)
	var wg sync.WaitGroup
	for i, a := range owned {
		if a.IsDeleted {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, assetID string) {
			defer wg.Done()
			defer func() { <-sem }()
			pendingTo, err := o.chain.PendingTransferTo(ctx, wallet, assetID)
			if err != nil || strings.EqualFold(pendingTo, zeroAddress) {
				return
			}
			results[i] = lookup{assetID: assetID, pending: pendingTo, ok: true}
		}(i, a.AssetID)
	}
	wg.Wait()

	for _, r := range results {
		if r.ok {
			outgoing = append(outgoing, PendingTransfer{AssetID: r.assetID, From: wallet, To: r.pending})
		}
	}

	latest, err := o.chain.LatestBlock(ctx)
	if err != nil {
		o.logger.Printf("failed to fetch latest block for incoming-transfer scan: %v", err)
		return outgoing, incoming, nil
	}
	from := uint64(0)
	if latest > transferEventScanWindow {
		from = latest - transferEventScanWindow
	}
	events, err := o.chain.ScanTransferEventsTo(ctx, wallet, from, latest)
	if err != nil {
		o.logger.Printf("failed to scan incoming transfer events: %v", err)
		return outgoing, incoming, nil
	}
	for _, e := range events {
		stillPending, err := o.chain.PendingTransferTo(ctx, e.Owner, e.AssetID)
		if err != nil || !strings.EqualFold(stillPending, wallet) {
			continue
		}
		incoming = append(incoming, PendingTransfer{AssetID: e.AssetID, From: strings.ToLower(e.Owner), To: wallet})
	}
	return outgoing, incoming, nil
}

func (o *Orchestrator) record(ctx context.Context, assetID, wallet string, action domain.Action, details map[string]any) {
	if _, err := o.logs.Record(ctx, assetID, wallet, action, details); err != nil {
		o.logger.Printf("failed to record transaction log entry for %s: %v", assetID, err)
	}
}
