package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset describes a transferable token and its fixed decimal scale.
type Asset struct {
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

var (
	AssetUSDC = Asset{Symbol: "USDC", Decimals: 6}
	AssetETH  = Asset{Symbol: "ETH", Decimals: 18}
)

var assets = map[string]Asset{
	AssetUSDC.Symbol: AssetUSDC,
	AssetETH.Symbol:  AssetETH,
}

// LookupAsset returns the registered asset for a symbol (case-insensitive).
func LookupAsset(symbol string) (Asset, bool) {
	a, ok := assets[strings.ToUpper(strings.TrimSpace(symbol))]
	return a, ok
}

// FromUnits converts an amount in the asset's smallest unit to its display decimal.
func (a Asset) FromUnits(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -a.Decimals)
}

// ToUnits converts a display decimal into the asset's smallest unit.
// It fails when the amount carries more precision than the asset supports.
func (a Asset) ToUnits(amount decimal.Decimal) (*big.Int, error) {
	shifted := amount.Shift(a.Decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s exceeds %s precision of %d decimals", amount, a.Symbol, a.Decimals)
	}
	return shifted.BigInt(), nil
}
