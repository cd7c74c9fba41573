package chainclient

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fusevault/core/internal/apperr"
)

// defaultScanBatchBlocks and defaultScanMaxBlocks bound a single RecoverFromEvents scan,
// mirroring the teacher's event_watcher.go block-range cap (there imposed
// by the node provider's eth_getLogs limit; here a deliberate ceiling so
// recovery never walks the entire chain history looking for one asset).
const (
	defaultScanBatchBlocks uint64 = 1000
	defaultScanMaxBlocks   uint64 = 50000
)

// AnchorEvent is a decoded AssetAnchored log, used by the recovery path to
// find the last transaction that anchored a given asset (spec.md §4.11).
type AnchorEvent struct {
	TxHash      string
	BlockNumber uint64
	Owner       string
	AssetID     string
	CID         string
}

// RecoverFromEvents scans AssetAnchored events backward from the current
// block, looking for the most recent anchor of (owner, assetID). It is the
// fallback recovery path when an asset's stored transaction hash is itself
// unusable (spec.md §4.11, step "if the stored tx hash can't be resolved,
// fall back to scanning AssetAnchored events").
func (c *Client) RecoverFromEvents(ctx context.Context, owner, assetID string) (*AnchorEvent, error) {
	eventABI, ok := c.abi.Events["AssetAnchored"]
	if !ok {
		return nil, apperr.New(apperr.KindInternal, "asset-registry ABI is missing the AssetAnchored event")
	}

	latest, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to fetch latest block", err)
	}

	ownerAddr := common.HexToAddress(owner)
	var scanned uint64
	to := latest

	for scanned < defaultScanMaxBlocks {
		from := uint64(0)
		if to > defaultScanBatchBlocks {
			from = to - defaultScanBatchBlocks
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{c.contractAddr},
			Topics:    [][]common.Hash{{eventABI.ID}, {ownerAddr.Hash()}},
		}

		logs, err := c.eth.FilterLogs(ctx, query)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to filter AssetAnchored logs", err)
		}

		if match := findMatchingAnchor(eventABI, logs, assetID); match != nil {
			return match, nil
		}

		scanned += to - from
		if from == 0 {
			break
		}
		to = from - 1
	}

	return nil, apperr.New(apperr.KindNotFound, "no AssetAnchored event found for this asset within the scan window")
}

func findMatchingAnchor(eventABI abi.Event, logs []types.Log, assetID string) *AnchorEvent {
	// Logs come back oldest-to-newest within the window; walk backward so
	// the most recent anchor wins.
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		args := make(map[string]any)
		if err := eventABI.Inputs.UnpackIntoMap(args, l.Data); err != nil {
			continue
		}
		gotAssetID, _ := args["assetId"].(string)
		if gotAssetID != assetID {
			continue
		}
		cidValue, _ := args["cid"].(string)
		owner := common.Address{}
		if len(l.Topics) > 1 {
			owner = common.HexToAddress(l.Topics[1].Hex())
		}
		return &AnchorEvent{
			TxHash:      l.TxHash.Hex(),
			BlockNumber: l.BlockNumber,
			Owner:       owner.Hex(),
			AssetID:     gotAssetID,
			CID:         cidValue,
		}
	}
	return nil
}

// DelegateEvent is a decoded DelegateStatusChanged log, used to keep the
// delegation registry's cache in sync with the chain (spec.md §4.7).
type DelegateEvent struct {
	TxHash      string
	BlockNumber uint64
	Owner       string
	Delegate    string
	Status      bool
}

// ScanDelegateEvents scans DelegateStatusChanged events in [fromBlock,
// toBlock] so the delegation registry can reconcile its cache against a
// ground truth it doesn't need to re-derive on every authorization check
// (SPEC_FULL.md §5.6).
func (c *Client) ScanDelegateEvents(ctx context.Context, fromBlock, toBlock uint64) ([]DelegateEvent, error) {
	eventABI, ok := c.abi.Events["DelegateStatusChanged"]
	if !ok {
		return nil, apperr.New(apperr.KindInternal, "asset-registry ABI is missing the DelegateStatusChanged event")
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contractAddr},
		Topics:    [][]common.Hash{{eventABI.ID}},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to filter DelegateStatusChanged logs", err)
	}

	events := make([]DelegateEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 3 {
			continue
		}
		args := make(map[string]any)
		if err := eventABI.Inputs.UnpackIntoMap(args, l.Data); err != nil {
			continue
		}
		status, _ := args["status"].(bool)
		events = append(events, DelegateEvent{
			TxHash:      l.TxHash.Hex(),
			BlockNumber: l.BlockNumber,
			Owner:       common.HexToAddress(l.Topics[1].Hex()).Hex(),
			Delegate:    common.HexToAddress(l.Topics[2].Hex()).Hex(),
			Status:      status,
		})
	}
	return events, nil
}

// TransferEvent is a decoded TransferInitiated log, used to discover
// incoming transfers addressed to a wallet without that wallet having to
// already know which asset/owner pair to ask about (SPEC_FULL.md §10; the
// original handler's get_pending_transfers left this side as a documented
// simplification — "a real implementation would need to listen to transfer
// events").
type TransferEvent struct {
	TxHash      string
	BlockNumber uint64
	Owner       string
	AssetID     string
	NewOwner    string
}

// ScanTransferEventsTo scans TransferInitiated events in [fromBlock,
// toBlock] addressed to newOwner, so a wallet can discover incoming
// transfers without enumerating every asset on chain.
func (c *Client) ScanTransferEventsTo(ctx context.Context, newOwner string, fromBlock, toBlock uint64) ([]TransferEvent, error) {
	eventABI, ok := c.abi.Events["TransferInitiated"]
	if !ok {
		return nil, apperr.New(apperr.KindInternal, "asset-registry ABI is missing the TransferInitiated event")
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contractAddr},
		Topics:    [][]common.Hash{{eventABI.ID}, {}, {common.HexToAddress(newOwner).Hash()}},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to filter TransferInitiated logs", err)
	}

	events := make([]TransferEvent, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 3 {
			continue
		}
		args := make(map[string]any)
		if err := eventABI.Inputs.UnpackIntoMap(args, l.Data); err != nil {
			continue
		}
		assetID, _ := args["assetId"].(string)
		events = append(events, TransferEvent{
			TxHash:      l.TxHash.Hex(),
			BlockNumber: l.BlockNumber,
			Owner:       common.HexToAddress(l.Topics[1].Hex()).Hex(),
			AssetID:     assetID,
			NewOwner:    common.HexToAddress(l.Topics[2].Hex()).Hex(),
		})
	}
	return events, nil
}

// LatestBlock returns the chain's current block number, used by callers
// that drive ScanDelegateEvents incrementally.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to fetch latest block", err)
	}
	return n, nil
}

// pollInterval is how often a long-running delegate-event sync loop should
// poll for new blocks, matching the teacher's event watcher's default
// cadence.
const pollInterval = 15 * time.Second
