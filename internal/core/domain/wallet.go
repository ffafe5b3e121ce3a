package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletState is the lifecycle state of the wallet manager.
type WalletState string

const (
	WalletStateUninitialized WalletState = "UNINITIALIZED"
	WalletStateInitializing  WalletState = "INITIALIZING"
	WalletStateReady         WalletState = "READY"
	WalletStateFailed        WalletState = "FAILED"
)

// BackendKind identifies which ledger backend is active.
type BackendKind string

const (
	BackendPrimary  BackendKind = "PRIMARY"
	BackendFallback BackendKind = "FALLBACK"
)

// WalletType returns the human-facing label for the backend kind.
func (k BackendKind) WalletType() string {
	switch k {
	case BackendPrimary:
		return "Smart Wallet"
	case BackendFallback:
		return "Private Key"
	default:
		return "None"
	}
}

// Capabilities lists what a ledger backend can do.
type Capabilities struct {
	Balances  bool `json:"balances"`
	Transfers bool `json:"transfers"`
	Gasless   bool `json:"gasless"`
}

// WalletStatus is a point-in-time snapshot of the wallet manager state.
type WalletStatus struct {
	State   WalletState `json:"state"`
	Backend BackendKind `json:"backend,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// IsReady returns true once a backend has been selected.
func (s WalletStatus) IsReady() bool {
	return s.State == WalletStateReady
}

// Balance is a freshly fetched balance for one asset.
type Balance struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	AsOf   time.Time       `json:"as_of"`
}

// WalletInfo summarizes the active wallet.
type WalletInfo struct {
	Address     string           `json:"address"`
	Network     string           `json:"network"`
	Backend     BackendKind      `json:"backend"`
	WalletType  string           `json:"wallet_type"`
	Gasless     bool             `json:"gasless"`
	USDCBalance *decimal.Decimal `json:"usdc_balance,omitempty"`
	ETHBalance  *decimal.Decimal `json:"eth_balance,omitempty"`
}
