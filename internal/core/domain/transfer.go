package domain

import "github.com/shopspring/decimal"

// TransferRequest is an immutable instruction to move funds once.
type TransferRequest struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Asset       string          `json:"asset"`
	Memo        string          `json:"memo,omitempty"`
	Network     string          `json:"network"`
}

// TransferResult is the single outcome of a submitted transfer.
type TransferResult struct {
	Success     bool            `json:"success"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Error       string          `json:"error,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Asset       string          `json:"asset"`
	Destination string          `json:"destination"`
	Network     string          `json:"network"`
	Memo        string          `json:"memo,omitempty"`
}

// NewTransferResult seeds a result with the request fields it reports on.
func NewTransferResult(req TransferRequest) *TransferResult {
	return &TransferResult{
		Amount:      req.Amount,
		Asset:       req.Asset,
		Destination: req.Destination,
		Network:     req.Network,
		Memo:        req.Memo,
	}
}
