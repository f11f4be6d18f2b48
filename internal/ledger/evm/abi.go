package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// betChainABI covers the slice of the BetChain contract this engine
// consumes. The ledger is treated as an opaque value store behind these
// methods; nothing here depends on its internal storage layout.
const betChainABIJSON = `[
	{
		"name": "getEventIds",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256[]"}]
	},
	{
		"name": "getEvent",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "eventId", "type": "uint256"}],
		"outputs": [
			{"name": "name", "type": "string"},
			{"name": "closeTime", "type": "uint256"},
			{"name": "closed", "type": "bool"},
			{"name": "winningOption", "type": "uint256"},
			{"name": "pool", "type": "uint256"}
		]
	},
	{
		"name": "getUserBet",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "eventId", "type": "uint256"},
			{"name": "user", "type": "address"}
		],
		"outputs": [
			{"name": "amount", "type": "uint256"},
			{"name": "option", "type": "uint256"},
			{"name": "claimed", "type": "bool"}
		]
	},
	{
		"name": "getOutcomeTotal",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "eventId", "type": "uint256"},
			{"name": "option", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "placeBet",
		"type": "function",
		"stateMutability": "payable",
		"inputs": [
			{"name": "eventId", "type": "uint256"},
			{"name": "option", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "closeEvent",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "eventId", "type": "uint256"},
			{"name": "winningOption", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "claimReward",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "eventId", "type": "uint256"}],
		"outputs": []
	},
	{
		"name": "withdrawFees",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [],
		"outputs": []
	},
	{
		"name": "EventCreated",
		"type": "event",
		"inputs": [
			{"name": "eventId", "type": "uint256", "indexed": true},
			{"name": "name", "type": "string", "indexed": false},
			{"name": "closeTime", "type": "uint256", "indexed": false}
		]
	}
]`

var betChainABI abi.ABI

func init() {
	var err error
	betChainABI, err = abi.JSON(strings.NewReader(betChainABIJSON))
	if err != nil {
		panic("betchain abi parse: " + err.Error())
	}
}
