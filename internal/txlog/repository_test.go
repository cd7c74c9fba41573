package txlog

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusevault/core/internal/database"
	"github.com/fusevault/core/internal/domain"
)

var testDB *database.Client

func TestMain(m *testing.M) {
	url := os.Getenv("FUSEVAULT_TEST_DB")
	if url == "" {
		os.Exit(0)
	}

	client, err := database.NewClient(database.Params{URL: url, MaxConns: 5, MinConns: 1})
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := client.MigrateUp(context.Background()); err != nil {
		panic("failed to run migrations against test database: " + err.Error())
	}
	testDB = client

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func TestRecord_AppendsEntryRetrievableByAsset(t *testing.T) {
	if testDB == nil {
		t.Skip("FUSEVAULT_TEST_DB not configured")
	}
	repo := NewRepository(testDB)
	assetID := "test-asset-" + uuid.New().String()

	entry, err := repo.Record(t.Context(), assetID, "0xowner", domain.ActionCreate, map[string]any{"chain_tx_id": "0xabc"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionCreate, entry.Action)

	list, err := repo.ListByAsset(t.Context(), assetID, nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0xabc", list[0].Details["chain_tx_id"])
}

func TestRecord_NilDetailsBecomeEmptyObject(t *testing.T) {
	if testDB == nil {
		t.Skip("FUSEVAULT_TEST_DB not configured")
	}
	repo := NewRepository(testDB)
	assetID := "test-asset-" + uuid.New().String()

	_, err := repo.Record(t.Context(), assetID, "0xowner", domain.ActionDelete, nil)
	require.NoError(t, err)

	list, err := repo.ListByAsset(t.Context(), assetID, nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].Details)
	assert.Empty(t, list[0].Details)
}

func TestListByAsset_OrdersNewestFirst(t *testing.T) {
	if testDB == nil {
		t.Skip("FUSEVAULT_TEST_DB not configured")
	}
	repo := NewRepository(testDB)
	assetID := "test-asset-" + uuid.New().String()

	_, err := repo.Record(t.Context(), assetID, "0xowner", domain.ActionCreate, nil)
	require.NoError(t, err)
	_, err = repo.Record(t.Context(), assetID, "0xowner", domain.ActionUpdate, nil)
	require.NoError(t, err)

	list, err := repo.ListByAsset(t.Context(), assetID, nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ActionUpdate, list[0].Action)
	assert.Equal(t, domain.ActionCreate, list[1].Action)
}

func TestListByWallet_ScopesToWalletAcrossAssets(t *testing.T) {
	if testDB == nil {
		t.Skip("FUSEVAULT_TEST_DB not configured")
	}
	repo := NewRepository(testDB)
	wallet := "0xwallet-" + uuid.New().String()[:8]
	a1 := "test-asset-" + uuid.New().String()
	a2 := "test-asset-" + uuid.New().String()

	_, err := repo.Record(t.Context(), a1, wallet, domain.ActionCreate, nil)
	require.NoError(t, err)
	_, err = repo.Record(t.Context(), a2, wallet, domain.ActionDelete, nil)
	require.NoError(t, err)
	_, err = repo.Record(t.Context(), a1, "0xsomeoneelse", domain.ActionVerify, nil)
	require.NoError(t, err)

	list, err := repo.ListByWallet(t.Context(), wallet, true, nil, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestListByWallet_WithoutHistoryScopesToCurrentAssetIDs(t *testing.T) {
	if testDB == nil {
		t.Skip("FUSEVAULT_TEST_DB not configured")
	}
	repo := NewRepository(testDB)
	wallet := "0xwallet-" + uuid.New().String()[:8]
	stillOwned := "test-asset-" + uuid.New().String()
	transferredAway := "test-asset-" + uuid.New().String()

	_, err := repo.Record(t.Context(), stillOwned, wallet, domain.ActionCreate, nil)
	require.NoError(t, err)
	_, err = repo.Record(t.Context(), transferredAway, wallet, domain.ActionCreate, nil)
	require.NoError(t, err)

	list, err := repo.ListByWallet(t.Context(), wallet, false, []string{stillOwned}, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, stillOwned, list[0].AssetID)
}

func TestListByAsset_FiltersByVersionNumber(t *testing.T) {
	if testDB == nil {
		t.Skip("FUSEVAULT_TEST_DB not configured")
	}
	repo := NewRepository(testDB)
	assetID := "test-asset-" + uuid.New().String()

	_, err := repo.Record(t.Context(), assetID, "0xowner", domain.ActionCreate, map[string]any{"version_number": 1})
	require.NoError(t, err)
	_, err = repo.Record(t.Context(), assetID, "0xowner", domain.ActionUpdate, map[string]any{"version_number": 2})
	require.NoError(t, err)

	v1 := 1
	list, err := repo.ListByAsset(t.Context(), assetID, &v1, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.ActionCreate, list[0].Action)
}

func TestSummarize_TalliesActionCountsAndLastAction(t *testing.T) {
	if testDB == nil {
		t.Skip("FUSEVAULT_TEST_DB not configured")
	}
	repo := NewRepository(testDB)
	assetID := "test-asset-" + uuid.New().String()

	_, err := repo.Record(t.Context(), assetID, "0xowner", domain.ActionCreate, nil)
	require.NoError(t, err)
	_, err = repo.Record(t.Context(), assetID, "0xowner", domain.ActionVerify, nil)
	require.NoError(t, err)
	_, err = repo.Record(t.Context(), assetID, "0xowner", domain.ActionVerify, nil)
	require.NoError(t, err)

	summary, err := repo.Summarize(t.Context(), assetID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ActionCounts[domain.ActionCreate])
	assert.Equal(t, 2, summary.ActionCounts[domain.ActionVerify])
	assert.Equal(t, domain.ActionVerify, summary.LastAction)
}
