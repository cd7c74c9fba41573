// Package upload implements the create/update orchestrator (spec.md §4.9):
// look the asset up, canonicalize and fingerprint its critical metadata,
// branch on what changed, coordinate a signature if one is needed, and log
// exactly one transaction-log entry. It follows the teacher's
// pkg/server/proof_handlers.go shape — a single struct wiring together the
// repositories and remote clients a multi-step operation needs — generalized
// from "verify a proof" to "create or version an asset".
package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/canonicaljson"
	"github.com/fusevault/core/internal/chainclient"
	"github.com/fusevault/core/internal/database"
	"github.com/fusevault/core/internal/domain"
)

// maxBatchAssets bounds how many assets a single batch upload call will
// process concurrently (spec.md §4.9 batch variant).
const maxBatchAssets = 50

// Orchestrator runs the create/update state machine.
type Orchestrator struct {
	assets  AssetStore
	content ContentStore
	chain   ChainClient
	logs    TxLog
	pending PendingStore
	logger  *log.Logger
}

// New assembles an Orchestrator from its collaborators. The concrete
// *assetstore.Repository, *contentstore.Client, *chainclient.Client,
// *txlog.Repository, and *pending.Coordinator types all satisfy their
// respective interfaces here unmodified.
func New(assets AssetStore, content ContentStore, chain ChainClient, logs TxLog, pendingCoord PendingStore, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Upload] ", log.LstdFlags)
	}
	return &Orchestrator{assets: assets, content: content, chain: chain, logs: logs, pending: pendingCoord, logger: logger}
}

// Input is one create-or-update request.
type Input struct {
	AssetID             string
	OwnerAddress        string
	InitiatorAddress    string
	CriticalMetadata    map[string]any
	NonCriticalMetadata map[string]any
	Auth                *domain.AuthContext
}

// Process runs the full lookup/branch/anchor/log pipeline for one asset.
func (o *Orchestrator) Process(ctx context.Context, in Input) (*domain.Outcome, error) {
	if in.AssetID == "" {
		return nil, apperr.New(apperr.KindValidation, "asset_id is required")
	}
	owner := strings.ToLower(in.OwnerAddress)
	initiator := strings.ToLower(in.InitiatorAddress)
	if !in.Auth.HasPermission(domain.PermissionWrite) {
		return nil, apperr.New(apperr.KindAuthorization, "caller lacks write permission")
	}

	existing, err := o.assets.FindAnyIncludingDeleted(ctx, in.AssetID)
	if errors.Is(err, database.ErrNotFound) {
		return o.processFreshCreate(ctx, in, owner, initiator)
	}
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(existing.OwnerAddress, owner) {
		if !existing.IsDeleted {
			return nil, apperr.New(apperr.KindValidation, "asset_id already belongs to a different owner")
		}
		return nil, apperr.New(apperr.KindAuthorization, "only the original owner may recreate a deleted asset")
	}

	if err := o.authorizeWrite(ctx, existing.OwnerAddress, initiator, in.Auth); err != nil {
		return nil, err
	}

	if existing.IsDeleted {
		return o.processRecreate(ctx, in, owner, initiator)
	}
	return o.processExistingUpdate(ctx, in, owner, initiator, existing)
}

// authorizeWrite requires the initiator to be either the owner themselves or
// a chain-verified delegate (spec.md §4.7: the cache is for reads, the chain
// is ground truth for the write itself). An API-key (server-signed) caller
// additionally requires the server's own wallet to be a chain-verified
// delegate of owner, since the server signs the transaction itself —
// invariant 12: "succeeds iff the chain reports W delegated both the
// API-key user and the server wallet".
func (o *Orchestrator) authorizeWrite(ctx context.Context, owner, initiator string, auth *domain.AuthContext) error {
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

func (o *Orchestrator) processFreshCreate(ctx context.Context, in Input, owner, initiator string) (*domain.Outcome, error) {
	if err := o.authorizeWrite(ctx, owner, initiator, in.Auth); err != nil {
		return nil, err
	}

	payload := canonicaljson.AssetPayload(in.AssetID, owner, in.CriticalMetadata)
	cid, err := o.content.Store(ctx, payload)
	if err != nil {
		return nil, err
	}
	delegated := !strings.EqualFold(owner, initiator)

	if in.Auth.IsServerSigned() {
		result, err := o.chain.StoreCIDDigestForServerSigned(ctx, owner, in.AssetID, cid)
		if err != nil {
			return nil, err
		}
		asset, err := o.assets.Insert(ctx, assetstore.NewVersionInput{
			AssetID: in.AssetID, OwnerAddress: owner,
			CriticalMetadata: in.CriticalMetadata, NonCriticalMetadata: in.NonCriticalMetadata,
			IPFSHash: cid, ChainTxID: result.TxHash,
			PerformedBy: initiator, IsDelegatedAction: delegated,
		})
		if err != nil {
			return nil, err
		}
		o.record(ctx, in.AssetID, initiator, domain.ActionCreate, cid, result.TxHash, asset.VersionNumber)
		return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
	}

	unsigned, err := o.chain.StoreCIDDigest(ctx, owner, in.AssetID, cid)
	if err != nil {
		return nil, err
	}
	echo := map[string]any{
		"branch":                "create",
		"asset_id":              in.AssetID,
		"owner_address":         owner,
		"critical_metadata":     in.CriticalMetadata,
		"non_critical_metadata": in.NonCriticalMetadata,
		"ipfs_hash":             cid,
		"is_delegated_action":   delegated,
	}
	pendingTx, err := o.pending.Store(ctx, initiator, "create", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx}, nil
}

// processRecreate handles a create call against an asset_id whose only
// existing row is soft-deleted: it re-anchors on chain (the asset already
// has on-chain history, so this is an updateIPFS call, not storeCIDDigest)
// and then purges the entire DB history, inserting a fresh version 1
// (spec.md §4.9 step 3, invariant 6).
func (o *Orchestrator) processRecreate(ctx context.Context, in Input, owner, initiator string) (*domain.Outcome, error) {
	cid, err := o.content.Store(ctx, canonicaljson.AssetPayload(in.AssetID, owner, in.CriticalMetadata))
	if err != nil {
		return nil, err
	}
	delegated := !strings.EqualFold(owner, initiator)

	if in.Auth.IsServerSigned() {
		result, err := o.chain.UpdateIPFSForServerSigned(ctx, owner, in.AssetID, cid)
		if err != nil {
			return nil, err
		}
		asset, err := o.assets.Recreate(ctx, assetstore.NewVersionInput{
			AssetID: in.AssetID, OwnerAddress: owner,
			CriticalMetadata: in.CriticalMetadata, NonCriticalMetadata: in.NonCriticalMetadata,
			IPFSHash: cid, ChainTxID: result.TxHash,
			PerformedBy: initiator, IsDelegatedAction: delegated,
		})
		if err != nil {
			return nil, err
		}
		o.record(ctx, in.AssetID, initiator, domain.ActionRecreateDeleted, cid, result.TxHash, asset.VersionNumber)
		return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
	}

	unsigned, err := o.chain.UpdateIPFS(ctx, owner, in.AssetID, cid)
	if err != nil {
		return nil, err
	}
	echo := map[string]any{
		"branch":                "recreate",
		"asset_id":              in.AssetID,
		"owner_address":         owner,
		"critical_metadata":     in.CriticalMetadata,
		"non_critical_metadata": in.NonCriticalMetadata,
		"ipfs_hash":             cid,
		"is_delegated_action":   delegated,
	}
	pendingTx, err := o.pending.Store(ctx, initiator, "recreate", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx}, nil
}

// processExistingUpdate handles a create call against a live (non-deleted)
// asset_id: it fingerprints the new critical metadata against what's on
// record and branches into the non-critical-only path (no chain call at
// all) or the critical-change path (store, anchor, mint a new version).
func (o *Orchestrator) processExistingUpdate(ctx context.Context, in Input, owner, initiator string, existing *domain.AssetVersion) (*domain.Outcome, error) {
	newCID, err := o.content.ComputeCID(ctx, canonicaljson.AssetPayload(in.AssetID, owner, in.CriticalMetadata))
	if err != nil {
		return nil, err
	}
	delegated := !strings.EqualFold(owner, initiator)

	if newCID == existing.IPFSHash {
		asset, err := o.assets.CreateNewVersion(ctx, in.AssetID, existing.VersionNumber, assetstore.NewVersionDelta{
			CriticalMetadata: in.CriticalMetadata, NonCriticalMetadata: in.NonCriticalMetadata,
			IPFSHash: existing.IPFSHash, ChainTxID: existing.ChainTxID, IPFSVersion: existing.IPFSVersion,
			PerformedBy: initiator, IsDelegatedAction: delegated,
		})
		if errors.Is(err, database.ErrVersionConflict) {
			return nil, apperr.Wrap(apperr.KindConflict, "asset was concurrently modified, retry the update", err)
		}
		if err != nil {
			return nil, err
		}
		o.record(ctx, in.AssetID, initiator, domain.ActionUpdate, existing.IPFSHash, existing.ChainTxID, asset.VersionNumber)
		return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
	}

	cid, err := o.content.Store(ctx, canonicaljson.AssetPayload(in.AssetID, owner, in.CriticalMetadata))
	if err != nil {
		return nil, err
	}
	newIPFSVersion := existing.IPFSVersion + 1

	if in.Auth.IsServerSigned() {
		result, err := o.chain.UpdateIPFSForServerSigned(ctx, owner, in.AssetID, cid)
		if err != nil {
			return nil, err
		}
		asset, err := o.assets.CreateNewVersion(ctx, in.AssetID, existing.VersionNumber, assetstore.NewVersionDelta{
			CriticalMetadata: in.CriticalMetadata, NonCriticalMetadata: in.NonCriticalMetadata,
			IPFSHash: cid, ChainTxID: result.TxHash, IPFSVersion: newIPFSVersion,
			PerformedBy: initiator, IsDelegatedAction: delegated,
		})
		if errors.Is(err, database.ErrVersionConflict) {
			return nil, apperr.Wrap(apperr.KindConflict, "asset was concurrently modified, retry the update", err)
		}
		if err != nil {
			return nil, err
		}
		o.record(ctx, in.AssetID, initiator, domain.ActionVersionCreate, cid, result.TxHash, asset.VersionNumber)
		return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
	}

	unsigned, err := o.chain.UpdateIPFS(ctx, owner, in.AssetID, cid)
	if err != nil {
		return nil, err
	}
	echo := map[string]any{
		"branch":                   string(domain.ActionVersionCreate),
		"asset_id":                 in.AssetID,
		"owner_address":            owner,
		"critical_metadata":        in.CriticalMetadata,
		"non_critical_metadata":    in.NonCriticalMetadata,
		"ipfs_hash":                cid,
		"is_delegated_action":      delegated,
		"expected_current_version": existing.VersionNumber,
		"ipfs_version":             newIPFSVersion,
	}
	pendingTx, err := o.pending.Store(ctx, initiator, "update", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx}, nil
}

// Complete resumes a pending-signature upload once the wallet-session caller
// has signed and broadcast the transaction externally, reporting back only
// the resulting hash (spec.md §6 "Upload complete").
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

	if branch, _ := pendingTx.Echo["branch"].(string); branch == "batch" {
		return o.completeBatch(ctx, walletAddress, txID, pendingTx, result)
	}

	assetID, _ := pendingTx.Echo["asset_id"].(string)
	ownerAddress, _ := pendingTx.Echo["owner_address"].(string)
	critical, _ := pendingTx.Echo["critical_metadata"].(map[string]any)
	nonCritical, _ := pendingTx.Echo["non_critical_metadata"].(map[string]any)
	ipfsHash, _ := pendingTx.Echo["ipfs_hash"].(string)
	delegated, _ := pendingTx.Echo["is_delegated_action"].(bool)
	branch, _ := pendingTx.Echo["branch"].(string)

	var asset *domain.AssetVersion
	var action domain.Action

	switch branch {
	case "create":
		asset, err = o.assets.Insert(ctx, assetstore.NewVersionInput{
			AssetID: assetID, OwnerAddress: ownerAddress,
			CriticalMetadata: critical, NonCriticalMetadata: nonCritical,
			IPFSHash: ipfsHash, ChainTxID: result.TxHash,
			PerformedBy: pendingTx.InitiatorAddress, IsDelegatedAction: delegated,
		})
		action = domain.ActionCreate
	case "recreate":
		asset, err = o.assets.Recreate(ctx, assetstore.NewVersionInput{
			AssetID: assetID, OwnerAddress: ownerAddress,
			CriticalMetadata: critical, NonCriticalMetadata: nonCritical,
			IPFSHash: ipfsHash, ChainTxID: result.TxHash,
			PerformedBy: pendingTx.InitiatorAddress, IsDelegatedAction: delegated,
		})
		action = domain.ActionRecreateDeleted
	default:
		expectedVersion := echoInt(pendingTx.Echo["expected_current_version"])
		ipfsVersion := echoInt(pendingTx.Echo["ipfs_version"])
		asset, err = o.assets.CreateNewVersion(ctx, assetID, expectedVersion, assetstore.NewVersionDelta{
			CriticalMetadata: critical, NonCriticalMetadata: nonCritical,
			IPFSHash: ipfsHash, ChainTxID: result.TxHash, IPFSVersion: ipfsVersion,
			PerformedBy: pendingTx.InitiatorAddress, IsDelegatedAction: delegated,
		})
		action = domain.Action(branch)
		if errors.Is(err, database.ErrVersionConflict) {
			return nil, apperr.Wrap(apperr.KindConflict, "asset was concurrently modified, retry the update", err)
		}
	}
	if err != nil {
		return nil, err
	}

	o.record(ctx, assetID, pendingTx.InitiatorAddress, action, ipfsHash, result.TxHash, asset.VersionNumber)
	if err := o.pending.Remove(ctx, walletAddress, txID); err != nil {
		o.logger.Printf("failed to remove completed pending transaction %s: %v", txID, err)
	}
	return &domain.Outcome{Status: domain.StatusSuccess, Asset: asset}, nil
}

func (o *Orchestrator) record(ctx context.Context, assetID, wallet string, action domain.Action, ipfsHash, chainTxID string, versionNumber int) {
	_, err := o.logs.Record(ctx, assetID, wallet, action, map[string]any{
		"ipfs_hash":      ipfsHash,
		"chain_tx_id":    chainTxID,
		"version_number": versionNumber,
	})
	if err != nil {
		o.logger.Printf("failed to record transaction log entry for %s: %v", assetID, err)
	}
}

// echoInt recovers an int that was round-tripped through JSON (and so
// arrives back as a float64) in a pending transaction's echo payload.
func echoInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// BatchItem is one asset within a batch upload request.
type BatchItem struct {
	AssetID             string
	CriticalMetadata    map[string]any
	NonCriticalMetadata map[string]any
}

// BatchInput is a request to create or update several assets owned by the
// same wallet in one aggregate on-chain transaction (spec.md §4.9 batch
// variant: "upload each to IPFS concurrently, build one aggregate on-chain
// transaction, and on completion write all DB versions in one pass").
type BatchInput struct {
	OwnerAddress     string
	InitiatorAddress string
	Items            []BatchItem
	Auth             *domain.AuthContext
}

// batchItemPlan is the outcome of planning one batch item: its content
// store / lookup work is already done, and versionPlan is ready to hand to
// AssetStore.WriteBatch once (and if) a chain anchor confirms.
type batchItemPlan struct {
	assetID         string
	action          domain.Action
	cid             string
	needsAnchor     bool
	delegated       bool
	critical        map[string]any
	nonCritical     map[string]any
	expectedVersion int
	ipfsVersion     int
	versionPlan     assetstore.BatchVersionPlan
}

func (p *batchItemPlan) setChainTxID(txID string) {
	switch {
	case p.versionPlan.Insert != nil:
		p.versionPlan.Insert.ChainTxID = txID
	case p.versionPlan.Recreate != nil:
		p.versionPlan.Recreate.ChainTxID = txID
	case p.versionPlan.NewVersion != nil:
		p.versionPlan.NewVersion.Delta.ChainTxID = txID
	}
}

// ProcessBatch authorizes once against OwnerAddress, plans every item
// concurrently (aborting the whole batch before any chain work if a single
// item's IPFS upload or lookup fails), and anchors every item that actually
// changed critical metadata in one aggregate on-chain transaction — modeled
// on delete.Orchestrator.ProcessBatch's single BatchDeleteAssets(For) call.
// Items whose critical metadata is unchanged need no chain call at all and
// are written immediately, same as Process's non-critical-only branch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, in BatchInput) (*domain.Outcome, error) {
	if !in.Auth.HasPermission(domain.PermissionWrite) {
		return nil, apperr.New(apperr.KindAuthorization, "caller lacks write permission")
	}
	owner := strings.ToLower(in.OwnerAddress)
	initiator := strings.ToLower(in.InitiatorAddress)
	if err := o.authorizeWrite(ctx, owner, initiator, in.Auth); err != nil {
		return nil, err
	}

	items := in.Items
	if len(items) > maxBatchAssets {
		items = items[:maxBatchAssets]
	}
	if len(items) == 0 {
		return nil, apperr.New(apperr.KindValidation, "batch upload requires at least one item")
	}

	plans, err := o.planBatchItems(ctx, owner, initiator, items)
	if err != nil {
		return nil, err
	}

	var anchor, skip []batchItemPlan
	for _, p := range plans {
		if p.needsAnchor {
			anchor = append(anchor, p)
		} else {
			skip = append(skip, p)
		}
	}

	var written []*domain.AssetVersion
	if len(skip) > 0 {
		versions, err := o.writePlans(ctx, skip, initiator)
		if err != nil {
			return nil, err
		}
		written = append(written, versions...)
	}
	if len(anchor) == 0 {
		return &domain.Outcome{Status: domain.StatusSuccess, Assets: written}, nil
	}

	assetIDs := make([]string, len(anchor))
	cids := make([]string, len(anchor))
	for i, p := range anchor {
		assetIDs[i] = p.assetID
		cids[i] = p.cid
	}

	if in.Auth.IsServerSigned() {
		result, err := o.chain.BatchStoreCIDDigestsForServerSigned(ctx, owner, assetIDs, cids)
		if err != nil {
			return nil, err
		}
		versions, err := o.writeAnchoredPlans(ctx, anchor, result.TxHash, initiator)
		if err != nil {
			return nil, err
		}
		written = append(written, versions...)
		return &domain.Outcome{Status: domain.StatusSuccess, Assets: written}, nil
	}

	unsigned, err := o.chain.BatchStoreCIDDigests(ctx, owner, assetIDs, cids)
	if err != nil {
		return nil, err
	}
	echo := map[string]any{
		"branch":        "batch",
		"owner_address": owner,
		"items":         itemsEcho(anchor),
	}
	pendingTx, err := o.pending.Store(ctx, initiator, "batch_upload", unsigned.AsMap(), unsigned.EstimatedGas, unsigned.GasPrice.String(), unsigned.FunctionName, echo)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.StatusPendingSignature, Pending: pendingTx}, nil
}

// planBatchItems plans every item concurrently, bounded at maxBatchAssets in
// flight. A single item's failure aborts the whole batch: the caller never
// reaches any chain work unless every item's plan succeeded (spec.md §4.9:
// "a single IPFS failure aborts the batch before any chain work").
func (o *Orchestrator) planBatchItems(ctx context.Context, owner, initiator string, items []BatchItem) ([]batchItemPlan, error) {
	plans := make([]batchItemPlan, len(items))
	errs := make([]error, len(items))
	sem := make(chan struct{}, maxBatchAssets)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()
			plan, err := o.planBatchItem(ctx, owner, initiator, item)
			plans[i] = plan
			errs[i] = err
		}(i, item)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", items[i].AssetID, err)
		}
	}
	return plans, nil
}

// planBatchItem reproduces Process's lookup/branch decision tree for one
// item, without touching the chain: it only resolves which DB write the
// item needs and, for branches that change the anchored CID, uploads the
// new content to IPFS.
func (o *Orchestrator) planBatchItem(ctx context.Context, owner, initiator string, item BatchItem) (batchItemPlan, error) {
	if item.AssetID == "" {
		return batchItemPlan{}, apperr.New(apperr.KindValidation, "asset_id is required")
	}
	delegated := !strings.EqualFold(owner, initiator)

	existing, err := o.assets.FindAnyIncludingDeleted(ctx, item.AssetID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		cid, err := o.content.Store(ctx, canonicaljson.AssetPayload(item.AssetID, owner, item.CriticalMetadata))
		if err != nil {
			return batchItemPlan{}, err
		}
		insert := &assetstore.NewVersionInput{
			AssetID: item.AssetID, OwnerAddress: owner,
			CriticalMetadata: item.CriticalMetadata, NonCriticalMetadata: item.NonCriticalMetadata,
			IPFSHash: cid, PerformedBy: initiator, IsDelegatedAction: delegated,
		}
		return batchItemPlan{
			assetID: item.AssetID, action: domain.ActionCreate, cid: cid, needsAnchor: true, delegated: delegated,
			critical: item.CriticalMetadata, nonCritical: item.NonCriticalMetadata, ipfsVersion: 1,
			versionPlan: assetstore.BatchVersionPlan{Insert: insert},
		}, nil
	case err != nil:
		return batchItemPlan{}, err
	}

	if !strings.EqualFold(existing.OwnerAddress, owner) {
		if !existing.IsDeleted {
			return batchItemPlan{}, apperr.New(apperr.KindValidation, "asset_id already belongs to a different owner")
		}
		return batchItemPlan{}, apperr.New(apperr.KindAuthorization, "only the original owner may recreate a deleted asset")
	}

	if existing.IsDeleted {
		cid, err := o.content.Store(ctx, canonicaljson.AssetPayload(item.AssetID, owner, item.CriticalMetadata))
		if err != nil {
			return batchItemPlan{}, err
		}
		recreate := &assetstore.NewVersionInput{
			AssetID: item.AssetID, OwnerAddress: owner,
			CriticalMetadata: item.CriticalMetadata, NonCriticalMetadata: item.NonCriticalMetadata,
			IPFSHash: cid, PerformedBy: initiator, IsDelegatedAction: delegated,
		}
		return batchItemPlan{
			assetID: item.AssetID, action: domain.ActionRecreateDeleted, cid: cid, needsAnchor: true, delegated: delegated,
			critical: item.CriticalMetadata, nonCritical: item.NonCriticalMetadata, ipfsVersion: 1,
			versionPlan: assetstore.BatchVersionPlan{Recreate: recreate},
		}, nil
	}

	newCID, err := o.content.ComputeCID(ctx, canonicaljson.AssetPayload(item.AssetID, owner, item.CriticalMetadata))
	if err != nil {
		return batchItemPlan{}, err
	}

	if newCID == existing.IPFSHash {
		plan := &assetstore.NewVersionPlan{
			AssetID: item.AssetID, ExpectedCurrentVersion: existing.VersionNumber,
			Delta: assetstore.NewVersionDelta{
				CriticalMetadata: item.CriticalMetadata, NonCriticalMetadata: item.NonCriticalMetadata,
				IPFSHash: existing.IPFSHash, ChainTxID: existing.ChainTxID, IPFSVersion: existing.IPFSVersion,
				PerformedBy: initiator, IsDelegatedAction: delegated,
			},
		}
		return batchItemPlan{
			assetID: item.AssetID, action: domain.ActionUpdate, cid: existing.IPFSHash, needsAnchor: false, delegated: delegated,
			critical: item.CriticalMetadata, nonCritical: item.NonCriticalMetadata,
			expectedVersion: existing.VersionNumber, ipfsVersion: existing.IPFSVersion,
			versionPlan: assetstore.BatchVersionPlan{NewVersion: plan},
		}, nil
	}

	cid, err := o.content.Store(ctx, canonicaljson.AssetPayload(item.AssetID, owner, item.CriticalMetadata))
	if err != nil {
		return batchItemPlan{}, err
	}
	newIPFSVersion := existing.IPFSVersion + 1
	plan := &assetstore.NewVersionPlan{
		AssetID: item.AssetID, ExpectedCurrentVersion: existing.VersionNumber,
		Delta: assetstore.NewVersionDelta{
			CriticalMetadata: item.CriticalMetadata, NonCriticalMetadata: item.NonCriticalMetadata,
			IPFSHash: cid, IPFSVersion: newIPFSVersion,
			PerformedBy: initiator, IsDelegatedAction: delegated,
		},
	}
	return batchItemPlan{
		assetID: item.AssetID, action: domain.ActionVersionCreate, cid: cid, needsAnchor: true, delegated: delegated,
		critical: item.CriticalMetadata, nonCritical: item.NonCriticalMetadata,
		expectedVersion: existing.VersionNumber, ipfsVersion: newIPFSVersion,
		versionPlan: assetstore.BatchVersionPlan{NewVersion: plan},
	}, nil
}

// writePlans commits plans' DB writes in one pass via AssetStore.WriteBatch
// and logs one transaction-log entry per item.
func (o *Orchestrator) writePlans(ctx context.Context, plans []batchItemPlan, initiator string) ([]*domain.AssetVersion, error) {
	versionPlans := make([]assetstore.BatchVersionPlan, len(plans))
	for i, p := range plans {
		versionPlans[i] = p.versionPlan
	}
	versions, err := o.assets.WriteBatch(ctx, versionPlans)
	if errors.Is(err, database.ErrVersionConflict) {
		return nil, apperr.Wrap(apperr.KindConflict, "asset was concurrently modified, retry the update", err)
	}
	if err != nil {
		return nil, err
	}
	for i, v := range versions {
		o.record(ctx, plans[i].assetID, initiator, plans[i].action, v.IPFSHash, v.ChainTxID, v.VersionNumber)
	}
	return versions, nil
}

// writeAnchoredPlans stamps chainTxID into every plan's pending DB write
// before committing them, since the chain call only happens once for the
// whole group.
func (o *Orchestrator) writeAnchoredPlans(ctx context.Context, plans []batchItemPlan, chainTxID, initiator string) ([]*domain.AssetVersion, error) {
	for i := range plans {
		plans[i].setChainTxID(chainTxID)
	}
	return o.writePlans(ctx, plans, initiator)
}

// itemsEcho serializes the anchored plans into the pending transaction's
// echo payload, to be decoded back by completeBatch once the wallet-signed
// aggregate transaction is broadcast.
func itemsEcho(plans []batchItemPlan) []any {
	items := make([]any, len(plans))
	for i, p := range plans {
		m := map[string]any{
			"branch":                string(p.action),
			"asset_id":              p.assetID,
			"critical_metadata":     p.critical,
			"non_critical_metadata": p.nonCritical,
			"ipfs_hash":             p.cid,
			"is_delegated_action":   p.delegated,
		}
		if p.versionPlan.NewVersion != nil {
			m["expected_current_version"] = p.expectedVersion
			m["ipfs_version"] = p.ipfsVersion
		}
		items[i] = m
	}
	return items
}

// completeBatch resumes a pending batch upload once its aggregate
// transaction has been signed and broadcast, reconstructing every item's DB
// write from the pending transaction's echo and committing them all in one
// pass (spec.md §4.9: "on completion write all DB versions in one pass").
func (o *Orchestrator) completeBatch(ctx context.Context, walletAddress, txID string, pendingTx *domain.PendingTx, result *chainclient.CallResult) (*domain.Outcome, error) {
	ownerAddress, _ := pendingTx.Echo["owner_address"].(string)
	rawItems, _ := pendingTx.Echo["items"].([]any)
	if len(rawItems) == 0 {
		return nil, apperr.New(apperr.KindInternal, "pending batch upload transaction carried no items")
	}

	plans := make([]assetstore.BatchVersionPlan, len(rawItems))
	assetIDs := make([]string, len(rawItems))
	actions := make([]domain.Action, len(rawItems))

	for i, raw := range rawItems {
		m, _ := raw.(map[string]any)
		assetID, _ := m["asset_id"].(string)
		branch, _ := m["branch"].(string)
		critical, _ := m["critical_metadata"].(map[string]any)
		nonCritical, _ := m["non_critical_metadata"].(map[string]any)
		ipfsHash, _ := m["ipfs_hash"].(string)
		delegated, _ := m["is_delegated_action"].(bool)

		assetIDs[i] = assetID
		actions[i] = domain.Action(branch)

		switch domain.Action(branch) {
		case domain.ActionCreate:
			plans[i] = assetstore.BatchVersionPlan{Insert: &assetstore.NewVersionInput{
				AssetID: assetID, OwnerAddress: ownerAddress,
				CriticalMetadata: critical, NonCriticalMetadata: nonCritical,
				IPFSHash: ipfsHash, ChainTxID: result.TxHash,
				PerformedBy: pendingTx.InitiatorAddress, IsDelegatedAction: delegated,
			}}
		case domain.ActionRecreateDeleted:
			plans[i] = assetstore.BatchVersionPlan{Recreate: &assetstore.NewVersionInput{
				AssetID: assetID, OwnerAddress: ownerAddress,
				CriticalMetadata: critical, NonCriticalMetadata: nonCritical,
				IPFSHash: ipfsHash, ChainTxID: result.TxHash,
				PerformedBy: pendingTx.InitiatorAddress, IsDelegatedAction: delegated,
			}}
		default:
			expectedVersion := echoInt(m["expected_current_version"])
			ipfsVersion := echoInt(m["ipfs_version"])
			plans[i] = assetstore.BatchVersionPlan{NewVersion: &assetstore.NewVersionPlan{
				AssetID: assetID, ExpectedCurrentVersion: expectedVersion,
				Delta: assetstore.NewVersionDelta{
					CriticalMetadata: critical, NonCriticalMetadata: nonCritical,
					IPFSHash: ipfsHash, ChainTxID: result.TxHash, IPFSVersion: ipfsVersion,
					PerformedBy: pendingTx.InitiatorAddress, IsDelegatedAction: delegated,
				},
			}}
		}
	}

	versions, err := o.assets.WriteBatch(ctx, plans)
	if errors.Is(err, database.ErrVersionConflict) {
		return nil, apperr.Wrap(apperr.KindConflict, "asset was concurrently modified, retry the update", err)
	}
	if err != nil {
		return nil, err
	}

	for i, v := range versions {
		o.record(ctx, assetIDs[i], pendingTx.InitiatorAddress, actions[i], v.IPFSHash, v.ChainTxID, v.VersionNumber)
	}
	if err := o.pending.Remove(ctx, walletAddress, txID); err != nil {
		o.logger.Printf("failed to remove completed pending transaction %s: %v", txID, err)
	}
	return &domain.Outcome{Status: domain.StatusSuccess, Assets: versions}, nil
}
