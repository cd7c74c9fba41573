// Package delete implements the delete orchestrator (spec.md §4.10):
// look the asset up, authorize the initiator, skip the chain call if the
// chain already agrees the asset is gone, otherwise soft-delete it after the
// on-chain delete lands. It mirrors internal/upload's shape deliberately —
// lookup, authorize, branch, coordinate a signature, log — since both
// orchestrators are instances of the same signature-coordination pattern
// (spec.md §5).
package delete

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/database"
	"github.com/fusevault/core/internal/domain"
)

// maxBatchAssets bounds a single batch-delete call (spec.md §4.10 batch
// variant).
const maxBatchAssets = 50

// Orchestrator runs the delete state machine.
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
		logger = log.New(log.Writer(), "[Delete] ", log.LstdFlags)
	}
	return &Orchestrator{assets: assets, chain: chain, logs: logs, pending: pendingCoord, logger: logger}
}

// Input is one delete request.
type Input struct {
	AssetID          string
	InitiatorAddress string
	Auth             *domain.AuthContext
}

// Process deletes a single asset, or returns a warning outcome if it is
// already deleted (spec.md §4.10: "already-deleted is a warning, not a
// failure").
func (o *Orchestrator) Process(ctx context.Context, in Input) (*domain.Outcome, error) {
	if !in.Auth.HasPermission(domain.PermissionDelete) {
		return nil, apperr.New(apperr.KindAuthorization, "caller lacks delete permission")
	}

	existing, err := o.assets.FindAnyIncludingDeleted(ctx, in.AssetID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "asset not found")
	}
	if err != nil {
		return nil, err
	}
	if existing.IsDeleted {
		return &domain.Outcome{Status: domain.StatusWarning, Message: "asset is already deleted", Asset: existing}, nil
	}

	owner := strings.ToLower(existing.OwnerAddress)
	initiator := strings.ToLower(in.InitiatorAddress)
	if err := o.authorizeDelete(ctx, owner, initiator, in.Auth); err != nil {
		return nil, err
	}

	info, err := o.chain.GetIPFSInfo(ctx, owner, in.AssetID)
	if err != nil {
		return nil, err
	}
	if info.IsDeleted {
		if err := o.assets.SoftDeleteAll(ctx, []string{in.AssetID}, initiator); err != nil {
			return nil, err
		}
		o.record(ctx, in.AssetID, initiator, "")
		asset, err := o.assets.FindAnyIncludingDeleted(ctx, in.AssetID)
		if err != nil {
			return nil, err
		}
		return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
	}

	if in.Auth.IsServerSigned() {
		result, err := o.chain.DeleteAssetForServerSigned(ctx, owner, in.AssetID)
		if err != nil {
			return nil, err
		}
		if err := o.assets.SoftDeleteAll(ctx, []string{in.AssetID}, initiator); err != nil {
			return nil, err
		}
		o.record(ctx, in.AssetID, initiator, result.TxHash)
		asset, err := o.assets.FindAnyIncludingDeleted(ctx, in.AssetID)
		if err != nil {
			return nil, err
		}
		return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
	}

	unsigned, err := o.chain.DeleteAsset(ctx, owner, in.AssetID)
	if err != nil {
		return nil, err
	}
	echo := map[string]any{"asset_ids": []any{in.AssetID}, "owner_address": owner}
	pendingTx, err := o.pending.Store(ctx, initiator, "delete", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx}, nil
}

// authorizeDelete implements spec.md §4.10's authorization rule: owner or a
// chain-verified delegate may delete directly; an API-key (server-signed)
// caller additionally requires the server's own wallet to be a
// chain-verified delegate of owner, since the server signs the transaction
// itself.
func (o *Orchestrator) authorizeDelete(ctx context.Context, owner, initiator string, auth *domain.AuthContext) error {
	if !strings.EqualFold(owner, initiator) {
		isDelegate, err := o.chain.IsDelegate(ctx, owner, initiator)
		if err != nil {
			return err
		}
		if !isDelegate {
			return apperr.New(apperr.KindAuthorization, "initiator is neither the owner nor a chain-verified delegate")
		}
	}
	if auth.IsServerSigned() {
		serverIsDelegate, err := o.chain.IsDelegate(ctx, owner, o.chain.ServerAddress().Hex())
		if err != nil {
			return err
		}
		if !serverIsDelegate {
			return apperr.New(apperr.KindAuthorization, "server wallet is not a chain-verified delegate of the owner")
		}
	}
	return nil
}

// Complete resumes a pending-signature delete once the wallet-session caller
// has signed and broadcast the transaction externally (spec.md §6 "Delete
// complete").
func (o *Orchestrator) Complete(ctx context.Context, walletAddress, txID, blockchainTxHash string) (*domain.Outcome, error) {
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

	assetIDs := echoStringSlice(pendingTx.Echo["asset_ids"])
	if len(assetIDs) == 0 {
		return nil, apperr.New(apperr.KindInternal, "pending delete transaction carried no asset ids")
	}

	if err := o.assets.SoftDeleteAll(ctx, assetIDs, pendingTx.InitiatorAddress); err != nil {
		return nil, err
	}
	for _, id := range assetIDs {
		o.record(ctx, id, pendingTx.InitiatorAddress, result.TxHash)
	}
	if err := o.pending.Remove(ctx, walletAddress, txID); err != nil {
		o.logger.Printf("failed to remove completed pending transaction %s: %v", txID, err)
	}

	var asset *domain.AssetVersion
	if len(assetIDs) == 1 {
		asset, err = o.assets.FindAnyIncludingDeleted(ctx, assetIDs[0])
		if err != nil {
			return nil, err
		}
	}
	return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
}

func (o *Orchestrator) record(ctx context.Context, assetID, wallet, chainTxID string) {
	_, err := o.logs.Record(ctx, assetID, wallet, domain.ActionDelete, map[string]any{"chain_tx_id": chainTxID})
	if err != nil {
		o.logger.Printf("failed to record transaction log entry for %s: %v", assetID, err)
	}
}

func echoStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, elem := range raw {
		if s, ok := elem.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BatchInput is a request to delete several assets owned by the same
// wallet in one aggregate on-chain transaction (spec.md §4.2
// batchDeleteAssets/batchDeleteAssetsFor).
type BatchInput struct {
	OwnerAddress     string
	AssetIDs         []string
	InitiatorAddress string
	Auth             *domain.AuthContext
}

// ProcessBatch authorizes once against OwnerAddress, then deletes every
// asset in AssetIDs that exists, is owned by OwnerAddress, and isn't already
// deleted, as one on-chain batch call.
func (o *Orchestrator) ProcessBatch(ctx context.Context, in BatchInput) (*domain.Outcome, error) {
	if !in.Auth.HasPermission(domain.PermissionDelete) {
		return nil, apperr.New(apperr.KindAuthorization, "caller lacks delete permission")
	}
	owner := strings.ToLower(in.OwnerAddress)
	initiator := strings.ToLower(in.InitiatorAddress)
	if err := o.authorizeDelete(ctx, owner, initiator, in.Auth); err != nil {
		return nil, err
	}

	assetIDs := in.AssetIDs
	if len(assetIDs) > maxBatchAssets {
		assetIDs = assetIDs[:maxBatchAssets]
	}

	toDelete := o.filterDeletable(ctx, owner, assetIDs)
	if len(toDelete) == 0 {
		return &domain.Outcome{Status: domain.StatusWarning, Message: "no assets required deletion"}, nil
	}

	if in.Auth.IsServerSigned() {
		result, err := o.chain.BatchDeleteAssetsForServerSigned(ctx, owner, toDelete)
		if err != nil {
			return nil, err
		}
		if err := o.assets.SoftDeleteAll(ctx, toDelete, initiator); err != nil {
			return nil, err
		}
		for _, id := range toDelete {
			o.record(ctx, id, initiator, result.TxHash)
		}
		return &domain.Outcome{Status: domain.StatusSuccess}, nil
	}

	unsigned, err := o.chain.BatchDeleteAssets(ctx, owner, toDelete)
	if err != nil {
		return nil, err
	}
	assetIDsEcho := make([]any, len(toDelete))
	for i, id := range toDelete {
		assetIDsEcho[i] = id
	}
	echo := map[string]any{"asset_ids": assetIDsEcho, "owner_address": owner}
	pendingTx, err := o.pending.Store(ctx, initiator, "batch_delete", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx}, nil
}

// filterDeletable looks each asset id up concurrently and keeps only the
// ones owner actually owns and hasn't already deleted.
func (o *Orchestrator) filterDeletable(ctx context.Context, owner string, assetIDs []string) []string {
	type lookup struct {
		id string
		ok bool
	}
	results := make([]lookup, len(assetIDs))
	sem := make(chan struct{}, maxBatchAssets)
	var wg sync.WaitGroup

	for i, id := range assetIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			existing, err := o.assets.FindAnyIncludingDeleted(ctx, id)
			if err != nil || existing.IsDeleted || !strings.EqualFold(existing.OwnerAddress, owner) {
				return
			}
			results[i] = lookup{id: id, ok: true}
		}(i, id)
	}
	wg.Wait()

	var out []string
	for _, r := range results {
		if r.ok {
			out = append(out, r.id)
		}
	}
	return out
}
