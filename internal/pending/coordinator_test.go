package pending

import (
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusevault/core/internal/apperr"
)

var testRedisClient *redis.Client

func TestMain(m *testing.M) {
	if addr := os.Getenv("FUSEVAULT_TEST_REDIS"); addr != "" {
		testRedisClient = redis.NewClient(&redis.Options{Addr: addr})
	}
	os.Exit(m.Run())
}

func TestStore_ThenGetRoundTrips(t *testing.T) {
	if testRedisClient == nil {
		t.Skip("FUSEVAULT_TEST_REDIS not configured")
	}
	coord := New(testRedisClient, time.Minute)

	tx, err := coord.Store(t.Context(), "0xOWNER", "transfer_initiate", map[string]any{"to": "0xnew"}, 21000, "5000000000", "initiateTransfer", map[string]any{"branch": "initiate"})
	require.NoError(t, err)

	found, err := coord.Get(t.Context(), "0xowner", tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, tx.TxID, found.TxID)
	assert.Equal(t, "0xowner", found.InitiatorAddress, "wallet address is lowercased on store")
	assert.Equal(t, "initiate", found.Echo["branch"])
}

func TestGet_MissingReturnsNotFound(t *testing.T) {
	if testRedisClient == nil {
		t.Skip("FUSEVAULT_TEST_REDIS not configured")
	}
	coord := New(testRedisClient, time.Minute)
	_, err := coord.Get(t.Context(), "0xowner", "nonexistent-tx-id")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRemove_DeletesPendingTransaction(t *testing.T) {
	if testRedisClient == nil {
		t.Skip("FUSEVAULT_TEST_REDIS not configured")
	}
	coord := New(testRedisClient, time.Minute)
	tx, err := coord.Store(t.Context(), "0xremoveowner", "delete", nil, 21000, "1", "deleteAsset", nil)
	require.NoError(t, err)

	require.NoError(t, coord.Remove(t.Context(), "0xremoveowner", tx.TxID))

	_, err = coord.Get(t.Context(), "0xremoveowner", tx.TxID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListByUser_ReturnsOnlyThatWalletsTransactions(t *testing.T) {
	if testRedisClient == nil {
		t.Skip("FUSEVAULT_TEST_REDIS not configured")
	}
	coord := New(testRedisClient, time.Minute)
	_, err := coord.Store(t.Context(), "0xlistuser", "create", nil, 21000, "1", "storeCIDDigest", nil)
	require.NoError(t, err)
	_, err = coord.Store(t.Context(), "0xlistuser", "delete", nil, 21000, "1", "deleteAsset", nil)
	require.NoError(t, err)
	_, err = coord.Store(t.Context(), "0xotheruser", "create", nil, 21000, "1", "storeCIDDigest", nil)
	require.NoError(t, err)

	list, err := coord.ListByUser(t.Context(), "0xlistuser")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStats_CountsOutstandingTransactions(t *testing.T) {
	if testRedisClient == nil {
		t.Skip("FUSEVAULT_TEST_REDIS not configured")
	}
	coord := New(testRedisClient, time.Minute)
	wallet := "0xstatsuser"
	_, err := coord.Store(t.Context(), wallet, "create", nil, 21000, "1", "storeCIDDigest", nil)
	require.NoError(t, err)

	n, err := coord.Stats(t.Context(), wallet)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestUpdate_RewritesPayloadPreservingTTL(t *testing.T) {
	if testRedisClient == nil {
		t.Skip("FUSEVAULT_TEST_REDIS not configured")
	}
	coord := New(testRedisClient, time.Minute)
	tx, err := coord.Store(t.Context(), "0xupdateowner", "create", map[string]any{"step": 1}, 21000, "1", "storeCIDDigest", nil)
	require.NoError(t, err)

	tx.Transaction["step"] = 2
	require.NoError(t, coord.Update(t.Context(), tx))

	found, err := coord.Get(t.Context(), "0xupdateowner", tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, float64(2), found.Transaction["step"])
}

func TestUpdate_ExpiredTransactionReturnsNotFound(t *testing.T) {
	if testRedisClient == nil {
		t.Skip("FUSEVAULT_TEST_REDIS not configured")
	}
	coord := New(testRedisClient, time.Minute)
	tx, err := coord.Store(t.Context(), "0xghostowner", "create", nil, 21000, "1", "storeCIDDigest", nil)
	require.NoError(t, err)
	require.NoError(t, coord.Remove(t.Context(), "0xghostowner", tx.TxID))

	err = coord.Update(t.Context(), tx)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestHealth_PingsSuccessfully(t *testing.T) {
	if testRedisClient == nil {
		t.Skip("FUSEVAULT_TEST_REDIS not configured")
	}
	coord := New(testRedisClient, time.Minute)
	assert.NoError(t, coord.Health(t.Context()))
}
