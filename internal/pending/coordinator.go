// Package pending is the pending-transaction coordinator: it hands an
// unsigned transaction to a wallet-session caller and holds it, TTL'd, until
// the caller comes back with a signature or lets it expire (spec.md §3
// "pending transaction entity", §4.9/§4.10 "signature coordination"). It
// follows the teacher's repository method-per-operation shape, adapted from
// Postgres to Redis because the entity itself is explicitly transient (a
// TTL'd key-value store, not a system of record).
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/domain"
)

const keyPrefix = "pending_tx:"

// Coordinator stores and retrieves pending transactions in Redis.
type Coordinator struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Coordinator over an existing Redis client with the given
// default TTL (spec.md default: 300 seconds).
func New(client *redis.Client, ttl time.Duration) *Coordinator {
	return &Coordinator{client: client, ttl: ttl}
}

func key(walletAddress, txID string) string {
	return keyPrefix + strings.ToLower(walletAddress) + ":" + txID
}

func scanPattern(walletAddress string) string {
	return keyPrefix + strings.ToLower(walletAddress) + ":*"
}

// Store creates a new pending transaction for walletAddress and returns it
// with a freshly minted TxID.
func (c *Coordinator) Store(ctx context.Context, walletAddress, operationType string, transaction map[string]any, estimatedGas uint64, gasPrice, functionName string, echo map[string]any) (*domain.PendingTx, error) {
	tx := &domain.PendingTx{
		TxID:             uuid.New().String(),
		InitiatorAddress: strings.ToLower(walletAddress),
		OperationType:    operationType,
		Transaction:      transaction,
		EstimatedGas:     estimatedGas,
		GasPrice:         gasPrice,
		FunctionName:     functionName,
		Echo:             echo,
		CreatedAt:        time.Now(),
	}

	encoded, err := json.Marshal(tx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to encode pending transaction", err)
	}

	if err := c.client.Set(ctx, key(walletAddress, tx.TxID), encoded, c.ttl).Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to store pending transaction", err)
	}
	return tx, nil
}

// Get retrieves a pending transaction by wallet and tx id, returning
// apperr.KindNotFound if it has expired or never existed.
func (c *Coordinator) Get(ctx context.Context, walletAddress, txID string) (*domain.PendingTx, error) {
	raw, err := c.client.Get(ctx, key(walletAddress, txID)).Result()
	if err == redis.Nil {
		return nil, apperr.New(apperr.KindNotFound, "pending transaction not found or expired")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to fetch pending transaction", err)
	}

	var tx domain.PendingTx
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to decode pending transaction", err)
	}
	return &tx, nil
}

// Remove deletes a pending transaction, used once it has been completed or
// explicitly cancelled.
func (c *Coordinator) Remove(ctx context.Context, walletAddress, txID string) error {
	if err := c.client.Del(ctx, key(walletAddress, txID)).Err(); err != nil {
		return apperr.Wrap(apperr.KindDependencyUnavailable, "failed to remove pending transaction", err)
	}
	return nil
}

// Update rewrites the stored payload for an existing pending transaction
// (e.g. to attach a partially-collected signature) without changing its
// remaining TTL.
func (c *Coordinator) Update(ctx context.Context, tx *domain.PendingTx) error {
	ttl, err := c.client.TTL(ctx, key(tx.InitiatorAddress, tx.TxID)).Result()
	if err != nil {
		return apperr.Wrap(apperr.KindDependencyUnavailable, "failed to read pending transaction ttl", err)
	}
	if ttl <= 0 {
		return apperr.New(apperr.KindNotFound, "pending transaction not found or expired")
	}

	encoded, err := json.Marshal(tx)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to encode pending transaction", err)
	}
	if err := c.client.Set(ctx, key(tx.InitiatorAddress, tx.TxID), encoded, ttl).Err(); err != nil {
		return apperr.Wrap(apperr.KindDependencyUnavailable, "failed to update pending transaction", err)
	}
	return nil
}

// ListByUser returns every live pending transaction for walletAddress,
// scanning rather than blocking the server with KEYS (spec.md §7: Redis
// operations must not risk blocking the single-threaded server).
func (c *Coordinator) ListByUser(ctx context.Context, walletAddress string) ([]*domain.PendingTx, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, scanPattern(walletAddress), 100).Result()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to scan pending transactions", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "failed to fetch pending transactions", err)
	}

	out := make([]*domain.PendingTx, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var tx domain.PendingTx
		if err := json.Unmarshal([]byte(s), &tx); err != nil {
			continue
		}
		out = append(out, &tx)
	}
	return out, nil
}

// Stats reports how many pending transactions are currently outstanding
// for walletAddress, used by operational health checks.
func (c *Coordinator) Stats(ctx context.Context, walletAddress string) (int, error) {
	txs, err := c.ListByUser(ctx, walletAddress)
	if err != nil {
		return 0, err
	}
	return len(txs), nil
}

// Health pings the Redis connection.
func (c *Coordinator) Health(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}
