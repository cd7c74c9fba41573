package chainclient

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetRegistryABI_Parses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(assetRegistryABI))
	require.NoError(t, err)

	for _, method := range []string{
		"storeCIDDigest", "storeCIDDigestFor", "updateIPFS", "updateIPFSFor",
		"deleteAsset", "deleteAssetFor", "batchDeleteAssets", "batchDeleteAssetsFor",
		"setDelegate", "delegates", "getIPFSInfo", "verifyCID",
		"initiateTransfer", "acceptTransfer", "cancelTransfer", "pendingTransferOf",
	} {
		_, ok := parsed.Methods[method]
		assert.True(t, ok, "expected method %s in ABI", method)
	}

	for _, event := range []string{"DelegateStatusChanged", "AssetAnchored", "TransferInitiated"} {
		_, ok := parsed.Events[event]
		assert.True(t, ok, "expected event %s in ABI", event)
	}
}

func TestAssetRegistryABI_DelegateStatusChangedIndexedFields(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(assetRegistryABI))
	require.NoError(t, err)

	ev := parsed.Events["DelegateStatusChanged"]
	require.Len(t, ev.Inputs, 3)
	assert.True(t, ev.Inputs[0].Indexed)
	assert.True(t, ev.Inputs[1].Indexed)
	assert.False(t, ev.Inputs[2].Indexed)
}
