package chain

// RedeemModuleABI is the ABI of the redeem module contract. Requests are keyed
// by bytes32 id; heights are ledger block numbers.
const RedeemModuleABI = `[
	{
		"inputs": [
			{
				"name": "calls",
				"type": "tuple[]",
				"components": [
					{"name": "provider", "type": "address"},
					{"name": "amount", "type": "uint256"},
					{"name": "destination", "type": "string"}
				]
			},
			{"name": "atomic", "type": "bool"}
		],
		"name": "requestRedeemBatch",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "id", "type": "bytes32"},
			{"name": "merkleProof", "type": "bytes"},
			{"name": "rawTx", "type": "bytes"}
		],
		"name": "executeRedeem",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "id", "type": "bytes32"}],
		"name": "getRedeemRequest",
		"outputs": [
			{
				"name": "request",
				"type": "tuple",
				"components": [
					{"name": "requester", "type": "address"},
					{"name": "provider", "type": "address"},
					{"name": "amount", "type": "uint256"},
					{"name": "fee", "type": "uint256"},
					{"name": "transferFee", "type": "uint256"},
					{"name": "premium", "type": "uint256"},
					{"name": "destination", "type": "string"},
					{"name": "openHeight", "type": "uint64"},
					{"name": "period", "type": "uint64"},
					{"name": "btcHeight", "type": "uint64"},
					{"name": "status", "type": "uint8"}
				]
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getRedeemRequestIds",
		"outputs": [{"name": "", "type": "bytes32[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "getRedeemRequestIdsFor",
		"outputs": [{"name": "", "type": "bytes32[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "redeemPeriod",
		"outputs": [{"name": "", "type": "uint64"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getProviderCapacities",
		"outputs": [
			{"name": "providers", "type": "address[]"},
			{"name": "capacities", "type": "uint256[]"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "id", "type": "bytes32"},
			{"indexed": true, "name": "requester", "type": "address"},
			{"indexed": true, "name": "provider", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"},
			{"indexed": false, "name": "destination", "type": "string"}
		],
		"name": "RequestRedeem",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "name": "index", "type": "uint256"},
			{"indexed": false, "name": "provider", "type": "address"},
			{"indexed": false, "name": "reason", "type": "string"}
		],
		"name": "BatchItemFailed",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "id", "type": "bytes32"},
			{"indexed": true, "name": "requester", "type": "address"},
			{"indexed": true, "name": "provider", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "ExecuteRedeem",
		"type": "event"
	}
]`
