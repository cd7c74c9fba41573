// Package chainclient is FuseVault's typed interface onto the asset-registry
// smart contract (spec.md §1: "we consume it via a typed interface"). It
// follows the teacher's pkg/ethereum/client.go shape — a thin wrapper around
// *ethclient.Client with one method per remote operation — generalized to
// the asset-registry ABI and extended with a nonce sequencer and an event
// scanner for the recovery path (spec.md §4.11).
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fusevault/core/internal/apperr"
)

// Client is FuseVault's binding onto the deployed asset-registry contract.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	abi     abi.ABI

	contractAddr common.Address

	serverKey     *ecdsa.PrivateKey
	serverAddress common.Address

	nonces *NonceSequencer

	readTimeout        time.Duration
	receiptWaitTimeout time.Duration
	gasEstimateMargin  float64
}

// Option configures a Client.
type Option func(*Client)

// WithReadTimeout overrides the per-call timeout for view calls.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithReceiptWaitTimeout overrides how long CallServerSigned waits for a
// transaction to be mined before giving up.
func WithReceiptWaitTimeout(d time.Duration) Option {
	return func(c *Client) { c.receiptWaitTimeout = d }
}

// WithGasEstimateMargin overrides the multiplier applied to estimated gas
// before it is used as a transaction's gas limit.
func WithGasEstimateMargin(m float64) Option {
	return func(c *Client) { c.gasEstimateMargin = m }
}

// NewClient dials url and binds to the asset-registry contract at
// contractAddress, signing server-initiated transactions with
// serverPrivateKeyHex.
func NewClient(ctx context.Context, url string, chainID int64, contractAddress, serverPrivateKeyHex string, opts ...Option) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to connect to chain node", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(assetRegistryABI))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to parse asset-registry ABI", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(serverPrivateKeyHex, "0x"))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid server private key", err)
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, apperr.New(apperr.KindInternal, "server private key produced a non-ECDSA public key")
	}

	c := &Client{
		eth:                eth,
		chainID:            big.NewInt(chainID),
		abi:                parsedABI,
		contractAddr:       common.HexToAddress(contractAddress),
		serverKey:          privateKey,
		serverAddress:      crypto.PubkeyToAddress(*publicKeyECDSA),
		readTimeout:        10 * time.Second,
		receiptWaitTimeout: 2 * time.Minute,
		gasEstimateMargin:  1.2,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.nonces = NewNonceSequencer(eth, c.serverAddress)
	return c, nil
}

// ServerAddress returns the address FuseVault's own transactions are sent
// from (spec.md §5: server-signed delete/update paths).
func (c *Client) ServerAddress() common.Address {
	return c.serverAddress
}

// Health reports whether the underlying node is reachable.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.eth.BlockNumber(ctx); err != nil {
		return apperr.Wrap(apperr.KindDependencyUnavailable, "chain node unreachable", err)
	}
	return nil
}

// call performs a read-only contract call and unpacks the result into outs.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, fmt.Sprintf("failed to pack %s call", method), err)
	}

	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contractAddr, Data: data}, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, fmt.Sprintf("%s call failed", method), err)
	}

	outputs, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, fmt.Sprintf("failed to unpack %s result", method), err)
	}
	return outputs, nil
}

// CallResult is the outcome of a server-signed write, mirroring the
// teacher's ContractCallResult.
type CallResult struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// CallServerSigned packs, signs with the server key, broadcasts, and waits
// for the receipt of a write method — used for server-initiated chain
// writes such as soft-delete-on-chain and delegate status changes (spec.md
// §5: "the server's own signing key for server-initiated writes").
func (c *Client) CallServerSigned(ctx context.Context, method string, args ...any) (*CallResult, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, fmt.Sprintf("failed to pack %s call", method), err)
	}

	nonce, err := c.nonces.Next(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to reserve nonce", err)
	}

	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		_ = c.nonces.Release(ctx)
		return nil, err
	}

	gasLimit, err := c.estimateGas(ctx, c.serverAddress, data)
	if err != nil {
		_ = c.nonces.Release(ctx)
		return nil, err
	}

	tx := types.NewTransaction(nonce, c.contractAddr, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.serverKey)
	if err != nil {
		_ = c.nonces.Release(ctx)
		return nil, apperr.Wrap(apperr.KindInternal, "failed to sign server transaction", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		_ = c.nonces.Release(ctx)
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, fmt.Sprintf("failed to broadcast %s", method), err)
	}

	receipt, err := c.waitMined(ctx, signedTx)
	if err != nil {
		return nil, err
	}

	return &CallResult{
		TxHash:      signedTx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}, nil
}

// UnsignedTransaction is what BuildUnsigned hands back to a caller who must
// get it signed by the asset owner's own wallet (spec.md §5: "signature
// coordination").
type UnsignedTransaction struct {
	FunctionName  string
	To            string
	Nonce         uint64
	GasLimit      uint64
	GasPrice      *big.Int
	Data          []byte
	ChainID       *big.Int
	EstimatedGas  uint64
}

// BuildUnsigned builds (but does not sign or send) a write transaction
// intended for the asset owner to sign client-side, used whenever the
// caller authenticated via wallet session rather than a server-held key
// (spec.md §5).
func (c *Client) BuildUnsigned(ctx context.Context, fromAddress string, method string, args ...any) (*UnsignedTransaction, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, fmt.Sprintf("failed to pack %s call", method), err)
	}

	from := common.HexToAddress(fromAddress)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to fetch nonce", err)
	}

	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit, err := c.estimateGas(ctx, from, data)
	if err != nil {
		return nil, err
	}

	return &UnsignedTransaction{
		FunctionName: method,
		To:           c.contractAddr.Hex(),
		Nonce:        nonce,
		GasLimit:     gasLimit,
		GasPrice:     gasPrice,
		Data:         data,
		ChainID:      c.chainID,
		EstimatedGas: gasLimit,
	}, nil
}

// AsMap renders an unsigned transaction as the JSON-friendly shape the
// pending-transaction coordinator stores and a wallet-session client signs
// (spec.md §6 "transaction" field of a pending-signature response).
func (u *UnsignedTransaction) AsMap() map[string]any {
	return map[string]any{
		"function_name": u.FunctionName,
		"to":            u.To,
		"nonce":         u.Nonce,
		"gas_limit":     u.GasLimit,
		"gas_price":     u.GasPrice.String(),
		"data":          "0x" + hex.EncodeToString(u.Data),
		"chain_id":      u.ChainID.String(),
	}
}

// BroadcastSigned submits a raw signed transaction (produced client-side
// from an UnsignedTransaction) and waits for its receipt. Used to complete
// a pending-signature flow once the owner has signed (spec.md §4.9/§4.10).
func (c *Client) BroadcastSigned(ctx context.Context, rawTxHex string) (*CallResult, error) {
	raw := strings.TrimPrefix(rawTxHex, "0x")
	var signedTx types.Transaction
	rawBytes, err := hex.DecodeString(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid raw transaction hex", err)
	}
	if err := signedTx.UnmarshalBinary(rawBytes); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid signed transaction", err)
	}

	if err := c.eth.SendTransaction(ctx, &signedTx); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to broadcast signed transaction", err)
	}

	receipt, err := c.waitMined(ctx, &signedTx)
	if err != nil {
		return nil, err
	}

	return &CallResult{
		TxHash:      signedTx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}, nil
}

// ConfirmBroadcast polls for the receipt of a transaction the caller already
// broadcast itself (the wallet-session completion flow hands the server a
// {pending_tx_id, blockchain_tx_hash} pair, not a raw signed transaction —
// spec.md §6 "Upload complete"/"Delete complete"). Unlike BroadcastSigned,
// this never sends anything; it only waits.
func (c *Client) ConfirmBroadcast(ctx context.Context, txHash string) (*CallResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptWaitTimeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return &CallResult{
				TxHash:      hash.Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "timed out waiting for broadcast transaction receipt", err)
		case <-ticker.C:
		}
	}
}

func (c *Client) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptWaitTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "timed out waiting for transaction receipt", err)
		}
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to wait for transaction receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, apperr.New(apperr.KindInternal, "transaction reverted on chain")
	}
	return receipt, nil
}

func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to fetch gas price", err)
	}
	minGasPrice := big.NewInt(5_000_000_000) // 5 Gwei floor
	if gasPrice.Cmp(minGasPrice) < 0 {
		gasPrice = minGasPrice
	}
	return gasPrice, nil
}

func (c *Client) estimateGas(ctx context.Context, from common.Address, data []byte) (uint64, error) {
	estimate, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.contractAddr, Data: data})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to estimate gas", err)
	}
	return uint64(float64(estimate) * c.gasEstimateMargin), nil
}

// pendingNoncer is the subset of *ethclient.Client the sequencer needs.
// *ethclient.Client satisfies it without modification.
type pendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceSequencer serializes nonce allocation for the server's own signing
// key so concurrent server-signed writes never collide on the same nonce
// (spec.md §5 "Shared resources": "the server's signing key's nonce
// sequence is a single shared resource across every in-flight
// server-signed write").
type NonceSequencer struct {
	mu      sync.Mutex
	eth     pendingNoncer
	address common.Address
	next    uint64
	primed  bool
}

// NewNonceSequencer creates a sequencer for address, lazily primed from the
// chain's pending nonce on first use.
func NewNonceSequencer(eth pendingNoncer, address common.Address) *NonceSequencer {
	return &NonceSequencer{eth: eth, address: address}
}

// Next reserves and returns the next nonce to use. The caller must call
// Release if it ultimately fails to send the transaction using this nonce,
// so a later call doesn't skip a slot permanently.
func (s *NonceSequencer) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		nonce, err := s.eth.PendingNonceAt(ctx, s.address)
		if err != nil {
			return 0, err
		}
		s.next = nonce
		s.primed = true
	}

	n := s.next
	s.next++
	return n, nil
}

// Release re-syncs the sequence from the chain's own pending nonce, for use
// when a reserved nonce's transaction was never actually broadcast.
// Blindly decrementing would be wrong under concurrency: if this nonce's
// caller fails after a later caller has already reserved and is still
// broadcasting the next nonce, a decrement hands that in-flight nonce back
// out to a third caller. Re-fetching PendingNonceAt instead rolls back only
// to whatever the chain has actually not yet seen.
func (s *NonceSequencer) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce, err := s.eth.PendingNonceAt(ctx, s.address)
	if err != nil {
		return err
	}
	s.next = nonce
	s.primed = true
	return nil
}
