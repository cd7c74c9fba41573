package chainclient

// assetRegistryABI is the JSON ABI for the asset-registry contract FuseVault
// consumes via a typed interface (spec.md §1 "the smart contract itself...
// we consume it via a typed interface"). The function and event set matches
// spec.md §4.2 and §6, plus the transfer extension from SPEC_FULL.md §10.
const assetRegistryABI = `[
	{"type":"function","name":"storeCIDDigest","stateMutability":"nonpayable",
		"inputs":[{"name":"assetId","type":"string"},{"name":"cid","type":"string"}],
		"outputs":[]},
	{"type":"function","name":"updateIPFS","stateMutability":"nonpayable",
		"inputs":[{"name":"assetId","type":"string"},{"name":"cid","type":"string"}],
		"outputs":[]},
	{"type":"function","name":"updateIPFSFor","stateMutability":"nonpayable",
		"inputs":[{"name":"owner","type":"address"},{"name":"assetId","type":"string"},{"name":"cid","type":"string"}],
		"outputs":[]},
	{"type":"function","name":"storeCIDDigestFor","stateMutability":"nonpayable",
		"inputs":[{"name":"owner","type":"address"},{"name":"assetId","type":"string"},{"name":"cid","type":"string"}],
		"outputs":[]},
	{"type":"function","name":"deleteAsset","stateMutability":"nonpayable",
		"inputs":[{"name":"assetId","type":"string"}],
		"outputs":[]},
	{"type":"function","name":"deleteAssetFor","stateMutability":"nonpayable",
		"inputs":[{"name":"owner","type":"address"},{"name":"assetId","type":"string"}],
		"outputs":[]},
	{"type":"function","name":"batchDeleteAssets","stateMutability":"nonpayable",
		"inputs":[{"name":"assetIds","type":"string[]"}],
		"outputs":[]},
	{"type":"function","name":"batchDeleteAssetsFor","stateMutability":"nonpayable",
		"inputs":[{"name":"owner","type":"address"},{"name":"assetIds","type":"string[]"}],
		"outputs":[]},
	{"type":"function","name":"batchStoreCIDDigests","stateMutability":"nonpayable",
		"inputs":[{"name":"assetIds","type":"string[]"},{"name":"cids","type":"string[]"}],
		"outputs":[]},
	{"type":"function","name":"batchStoreCIDDigestsFor","stateMutability":"nonpayable",
		"inputs":[{"name":"owner","type":"address"},{"name":"assetIds","type":"string[]"},{"name":"cids","type":"string[]"}],
		"outputs":[]},
	{"type":"function","name":"setDelegate","stateMutability":"nonpayable",
		"inputs":[{"name":"delegate","type":"address"},{"name":"status","type":"bool"}],
		"outputs":[]},
	{"type":"function","name":"delegates","stateMutability":"view",
		"inputs":[{"name":"owner","type":"address"},{"name":"delegate","type":"address"}],
		"outputs":[{"name":"isDelegate","type":"bool"}]},
	{"type":"function","name":"getIPFSInfo","stateMutability":"view",
		"inputs":[{"name":"owner","type":"address"},{"name":"assetId","type":"string"}],
		"outputs":[{"name":"cid","type":"string"},{"name":"version","type":"uint256"},{"name":"isDeleted","type":"bool"}]},
	{"type":"function","name":"verifyCID","stateMutability":"view",
		"inputs":[{"name":"owner","type":"address"},{"name":"assetId","type":"string"},{"name":"cid","type":"string"},{"name":"claimedVersion","type":"uint256"}],
		"outputs":[{"name":"isValid","type":"bool"},{"name":"actualVersion","type":"uint256"},{"name":"isDeleted","type":"bool"},{"name":"message","type":"string"}]},
	{"type":"function","name":"initiateTransfer","stateMutability":"nonpayable",
		"inputs":[{"name":"assetId","type":"string"},{"name":"newOwner","type":"address"}],
		"outputs":[]},
	{"type":"function","name":"acceptTransfer","stateMutability":"nonpayable",
		"inputs":[{"name":"assetId","type":"string"},{"name":"previousOwner","type":"address"}],
		"outputs":[]},
	{"type":"function","name":"cancelTransfer","stateMutability":"nonpayable",
		"inputs":[{"name":"assetId","type":"string"}],
		"outputs":[]},
	{"type":"function","name":"pendingTransferOf","stateMutability":"view",
		"inputs":[{"name":"owner","type":"address"},{"name":"assetId","type":"string"}],
		"outputs":[{"name":"pendingTo","type":"address"}]},
	{"type":"event","name":"DelegateStatusChanged","anonymous":false,
		"inputs":[
			{"name":"owner","type":"address","indexed":true},
			{"name":"delegate","type":"address","indexed":true},
			{"name":"status","type":"bool","indexed":false}
		]},
	{"type":"event","name":"AssetAnchored","anonymous":false,
		"inputs":[
			{"name":"owner","type":"address","indexed":true},
			{"name":"assetId","type":"string","indexed":false},
			{"name":"cid","type":"string","indexed":false}
		]},
	{"type":"event","name":"TransferInitiated","anonymous":false,
		"inputs":[
			{"name":"owner","type":"address","indexed":true},
			{"name":"assetId","type":"string","indexed":false},
			{"name":"newOwner","type":"address","indexed":true}
		]}
]`
