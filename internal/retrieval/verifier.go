// Package retrieval implements the read path (spec.md §4.11): fetch a
// version, cross-check it against chain and content-store ground truth, and
// optionally repair what it finds tampered. The read path is the
// load-bearing integrity check of the whole system — every retrieval is
// also a verification.
package retrieval

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/canonicaljson"
	"github.com/fusevault/core/internal/database"
	"github.com/fusevault/core/internal/domain"
)

// Orchestrator runs the retrieve/verify/recover pipeline.
type Orchestrator struct {
	assets  AssetStore
	content ContentStore
	chain   ChainClient
	logs    TxLog
	logger  *log.Logger
	clock   func() time.Time
}

// New assembles an Orchestrator from its collaborators.
func New(assets AssetStore, content ContentStore, chain ChainClient, logs TxLog, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Retrieval] ", log.LstdFlags)
	}
	return &Orchestrator{assets: assets, content: content, chain: chain, logs: logs, logger: logger, clock: time.Now}
}

// Input is one retrieve request (spec.md §4.11).
type Input struct {
	AssetID     string
	Version     int // 0 means "current"
	AutoRecover bool
	// Progress, if set, is called after each numbered step completes
	// (spec.md §4.11: "optional progress callback at step granularity").
	Progress func(step, total int)
}

// Verdict is the verification outcome attached to a retrieved document.
type Verdict struct {
	Verified           bool
	IPFSHashVerified   bool
	CIDMatch           bool
	TxSenderVerified   bool
	DeletionTampered   bool
	RecoveryAttempted  bool
	RecoverySuccessful bool
	RecoveryReason     string
}

// Result is what Process returns: the document as best known, plus its
// verification verdict.
type Result struct {
	Asset   *domain.AssetVersion
	Verdict Verdict
}

const totalSteps = 9

// Process runs the full fetch/verify/recover pipeline for one asset version
// (spec.md §4.11, steps 1-11).
func (o *Orchestrator) Process(ctx context.Context, in Input) (*Result, error) {
	step := func(n int) {
		if in.Progress != nil {
			in.Progress(n, totalSteps)
		}
	}

	// Step 1: fetch, separating "asset exists at all" from "the requested
	// version exists and is visible".
	existing, err := o.assets.FindAnyIncludingDeleted(ctx, in.AssetID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "asset not found")
	}
	if err != nil {
		return nil, err
	}

	var record *domain.AssetVersion
	var isCurrentRequest bool
	if in.Version == 0 {
		record = existing
		isCurrentRequest = true
	} else {
		record, err = o.assets.FindVersion(ctx, in.AssetID, in.Version)
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "requested version not found")
		}
		if err != nil {
			return nil, err
		}
		isCurrentRequest = record.IsCurrent && !record.IsDeleted
	}
	step(1)

	owner := strings.ToLower(record.OwnerAddress)

	// Step 2: on-chain ground truth for the anchored CID/version/deletion.
	info, err := o.chain.GetIPFSInfo(ctx, owner, in.AssetID)
	if err != nil {
		return nil, err
	}
	step(2)

	// Step 3: on-chain verifyCID against what the DB believes is anchored.
	verification, err := o.chain.VerifyCID(ctx, owner, in.AssetID, record.IPFSHash, uint64(record.IPFSVersion))
	if err != nil {
		return nil, err
	}
	ipfsHashVerified := verification.IsValid
	step(3)

	// Step 4: decode the recorded transaction's calldata for a cross-check
	// independent of the chain's own bookkeeping.
	var calldataCID, txSender string
	txSenderVerified := false
	if record.ChainTxID != "" {
		details, err := o.chain.GetTransactionDetails(ctx, record.ChainTxID, in.AssetID)
		if err == nil {
			calldataCID = details.CID
			txSender = details.Sender
			txSenderVerified = strings.EqualFold(txSender, o.chain.ServerAddress().Hex())
		}
	}
	step(4)

	// Step 5: recompute the CID from the DB's own critical metadata and
	// compare against what the transaction actually anchored.
	computedCID, err := o.content.ComputeCID(ctx, canonicaljson.AssetPayload(in.AssetID, owner, record.CriticalMetadata))
	if err != nil {
		return nil, err
	}
	cidMatch := calldataCID != "" && computedCID == calldataCID
	step(5)

	// Step 6: deletion-status tamper check.
	deletionTampered := info.IsDeleted && !record.IsDeleted
	step(6)

	// Step 7: verdict. The current version trusts the chain's own verifyCID
	// result; historical versions, which the chain no longer carries a
	// distinct verifyCID answer for, instead trust that the recorded sender
	// was the server wallet once the CIDs line up (spec.md §9 design note:
	// "this implicitly trusts the server's past signing").
	var verified bool
	if isCurrentRequest {
		verified = ipfsHashVerified && cidMatch && !deletionTampered
	} else {
		verified = cidMatch && txSenderVerified && !deletionTampered
	}
	step(7)

	verdict := Verdict{
		Verified:         verified,
		IPFSHashVerified: ipfsHashVerified,
		CIDMatch:         cidMatch,
		TxSenderVerified: txSenderVerified,
		DeletionTampered: deletionTampered,
	}

	// Step 8: short-circuit if verified, or if the caller didn't ask for
	// recovery. A verified read stamps last_verified even though it writes
	// no transaction log entry (spec.md §9 open question: the source never
	// logs a VERIFY action on the read path, and this rewrite keeps that
	// behavior rather than invent one).
	if verified {
		if err := o.assets.MarkVerified(ctx, in.AssetID, o.clock()); err != nil {
			o.logger.Printf("failed to stamp last_verified for %s: %v", in.AssetID, err)
		}
	}
	if verified || !in.AutoRecover {
		step(8)
		step(9)
		return &Result{Asset: record, Verdict: verdict}, nil
	}
	step(8)

	// Historical versions never trigger recovery; their failure is
	// reported as-is (spec.md §4.11 step 11).
	if !isCurrentRequest {
		step(9)
		return &Result{Asset: record, Verdict: verdict}, nil
	}

	// Step 9a: deletion-tamper recovery takes priority over CID recovery —
	// an asset the chain says is gone shouldn't also get a fresh version
	// minted for it.
	if deletionTampered {
		if err := o.assets.SoftDeleteAll(ctx, []string{in.AssetID}, ""); err != nil {
			return nil, err
		}
		if _, err := o.logs.Record(ctx, in.AssetID, "", domain.ActionDeletionStatusRestored, map[string]any{
			"reason": "chain reported the asset deleted while the database did not",
		}); err != nil {
			o.logger.Printf("failed to record deletion-status-restored log for %s: %v", in.AssetID, err)
		}
		restored, err := o.assets.FindAnyIncludingDeleted(ctx, in.AssetID)
		if err != nil {
			return nil, err
		}
		verdict.RecoveryAttempted = true
		verdict.RecoverySuccessful = true
		step(9)
		return &Result{Asset: restored, Verdict: verdict}, nil
	}

	// Step 9b: CID-tamper recovery. Prefer the recorded transaction's own
	// calldata; fall back to an event scan if that transaction can't be
	// resolved to a usable CID (spec.md §4.11 step 10).
	verdict.RecoveryAttempted = true
	authenticCID := calldataCID
	correctedTxID := record.ChainTxID
	if authenticCID == "" {
		anchor, err := o.chain.RecoverFromEvents(ctx, owner, in.AssetID)
		if err != nil {
			verdict.RecoveryReason = "unable to locate an authentic anchor via event scan: " + err.Error()
			return &Result{Asset: record, Verdict: verdict}, nil
		}
		authenticCID = anchor.CID
		correctedTxID = anchor.TxHash
	}

	payload, sentinel, err := o.content.Retrieve(ctx, authenticCID)
	if err != nil {
		verdict.RecoveryReason = "authentic content unavailable: " + err.Error()
		return &Result{Asset: record, Verdict: verdict}, nil
	}
	if sentinel != nil {
		if _, logErr := o.logs.Record(ctx, in.AssetID, "", domain.ActionIntegrityRecovery, map[string]any{
			"reason":          "retrieved metadata invalid",
			"retrieval_error": sentinel.RetrievalError,
			"attempted_cid":   authenticCID,
		}); logErr != nil {
			o.logger.Printf("failed to record failed-recovery log for %s: %v", in.AssetID, logErr)
		}
		verdict.RecoveryReason = "retrieved metadata invalid"
		return &Result{Asset: record, Verdict: verdict}, nil
	}

	newVersion, err := o.assets.CreateNewVersion(ctx, in.AssetID, record.VersionNumber, assetstore.NewVersionDelta{
		CriticalMetadata:    payload,
		NonCriticalMetadata: record.NonCriticalMetadata,
		IPFSHash:            authenticCID,
		ChainTxID:           correctedTxID,
		IPFSVersion:         int(info.Version),
		PerformedBy:         "",
		IsDelegatedAction:   false,
	})
	if err != nil {
		verdict.RecoveryReason = "recovery write failed: " + err.Error()
		return &Result{Asset: record, Verdict: verdict}, nil
	}

	if _, err := o.logs.Record(ctx, in.AssetID, "", domain.ActionIntegrityRecovery, map[string]any{
		"before_ipfs_hash": record.IPFSHash,
		"after_ipfs_hash":  authenticCID,
		"before_tx_id":     record.ChainTxID,
		"after_tx_id":      correctedTxID,
	}); err != nil {
		o.logger.Printf("failed to record integrity-recovery log for %s: %v", in.AssetID, err)
	}

	verdict.RecoverySuccessful = true
	step(9)
	return &Result{Asset: newVersion, Verdict: verdict}, nil
}
