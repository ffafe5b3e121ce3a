package domain

import "strings"

// Network describes an EVM network the wallet can operate on.
type Network struct {
	ID              string `json:"id"`
	ChainID         int64  `json:"chain_id"`
	USDCContract    string `json:"usdc_contract"`
	SupportsGasless bool   `json:"supports_gasless"`
}

// DefaultNetworkID is used when no network is configured.
const DefaultNetworkID = "base-sepolia"

var networks = map[string]Network{
	"base-sepolia": {
		ID:              "base-sepolia",
		ChainID:         84532,
		USDCContract:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		SupportsGasless: true,
	},
	"base-mainnet": {
		ID:              "base-mainnet",
		ChainID:         8453,
		USDCContract:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		SupportsGasless: true,
	},
	"ethereum-sepolia": {
		ID:           "ethereum-sepolia",
		ChainID:      11155111,
		USDCContract: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
	},
}

// LookupNetwork returns the registered network for an identifier.
func LookupNetwork(id string) (Network, bool) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(id))]
	return n, ok
}

// SameNetwork reports whether two identifiers name the same network.
func SameNetwork(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
