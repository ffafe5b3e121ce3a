// Package signer is the key-signing wallet backend. It derives the address from
// the owner private key and, when an RPC endpoint is configured, reads balances
// and submits EIP-155 signed transfers directly to the chain.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/pkg/apperror"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	nativeTransferGas = 21000
	erc20TransferGas  = 100000
)

const erc20JSON = `[
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20JSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parsing erc20 abi: %v", err))
	}
	return parsed
}

// ChainClient is the subset of ethclient.Client the signer uses.
type ChainClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Dialer opens a chain client for an RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (ChainClient, error)

// DialEthclient is the production Dialer.
func DialEthclient(ctx context.Context, rpcURL string) (ChainClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Config holds the signer settings.
type Config struct {
	PrivateKey string // hex, with or without 0x
	RPCURL     string // optional; without it only the address is available
	Network    string
}

// Ledger implements ports.Ledger with a local private key.
type Ledger struct {
	cfg  Config
	dial Dialer
	log  zerolog.Logger

	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	address common.Address
	network domain.Network
	client  ChainClient
	caps    domain.Capabilities
}

// New creates a signer backend. dial may be nil to use DialEthclient.
func New(cfg Config, dial Dialer, log zerolog.Logger) *Ledger {
	if dial == nil {
		dial = DialEthclient
	}
	return &Ledger{
		cfg:  cfg,
		dial: dial,
		log:  log.With().Str("component", "signer").Logger(),
	}
}

func (l *Ledger) Kind() domain.BackendKind { return domain.BackendFallback }

func (l *Ledger) Network() string { return l.cfg.Network }

func (l *Ledger) Capabilities() domain.Capabilities {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.caps
}

// EnsureReady parses the key and, if configured, connects to the RPC endpoint.
func (l *Ledger) EnsureReady(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key != nil {
		return nil
	}

	raw := strings.TrimPrefix(strings.TrimSpace(l.cfg.PrivateKey), "0x")
	if raw == "" {
		return apperror.ErrWalletNotConfigured(errors.New("private key is not set"))
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return apperror.ErrWalletNotConfigured(fmt.Errorf("invalid private key: %w", err))
	}
	network, ok := domain.LookupNetwork(l.cfg.Network)
	if !ok {
		return apperror.ErrWalletNotConfigured(fmt.Errorf("unknown network %q", l.cfg.Network))
	}

	caps := domain.Capabilities{}
	if l.cfg.RPCURL != "" {
		client, err := l.dial(ctx, l.cfg.RPCURL)
		if err != nil {
			return apperror.ErrWalletBackendUnavailable(fmt.Errorf("dial rpc: %w", err))
		}
		l.client = client
		caps.Balances = true
		caps.Transfers = true
	}

	l.key = key
	l.address = crypto.PubkeyToAddress(key.PublicKey)
	l.network = network
	l.caps = caps

	l.log.Info().
		Str("address", l.address.Hex()).
		Str("network", network.ID).
		Bool("rpc", l.client != nil).
		Msg("signer ready")
	return nil
}

func (l *Ledger) GetAddress(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.key == nil {
		return "", apperror.ErrWalletNotConfigured(errors.New("signer not initialized"))
	}
	return l.address.Hex(), nil
}

// GetBalance reads the native balance for ETH and balanceOf for tokens.
func (l *Ledger) GetBalance(ctx context.Context, symbol string) (*domain.Balance, error) {
	client, err := l.chain("balance")
	if err != nil {
		return nil, err
	}
	asset, ok := domain.LookupAsset(symbol)
	if !ok {
		return nil, apperror.ErrWalletUnsupported(fmt.Sprintf("balance of %s", symbol))
	}

	var units *big.Int
	switch asset.Symbol {
	case domain.AssetETH.Symbol:
		units, err = client.BalanceAt(ctx, l.address, nil)
		if err != nil {
			return nil, apperror.ErrWalletBackendUnavailable(fmt.Errorf("eth balance: %w", err))
		}
	default:
		units, err = l.tokenBalance(ctx, client)
		if err != nil {
			return nil, err
		}
	}

	return &domain.Balance{Asset: asset.Symbol, Amount: asset.FromUnits(units), AsOf: time.Now().UTC()}, nil
}

func (l *Ledger) tokenBalance(ctx context.Context, client ChainClient) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", l.address)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	token := common.HexToAddress(l.network.USDCContract)
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, apperror.ErrWalletBackendUnavailable(fmt.Errorf("call balanceOf: %w", err))
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, apperror.ErrWalletBackendUnavailable(fmt.Errorf("decode balanceOf: %v", err))
	}
	units, ok := values[0].(*big.Int)
	if !ok {
		return nil, apperror.ErrWalletBackendUnavailable(errors.New("decode balanceOf: unexpected type"))
	}
	return units, nil
}

// Transfer signs one legacy transaction and sends it once.
func (l *Ledger) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	client, err := l.chain("transfer")
	if err != nil {
		return nil, err
	}
	if req.Network != "" && !domain.SameNetwork(req.Network, l.network.ID) {
		return nil, apperror.ErrWalletUnsupported(fmt.Sprintf("transfer on %s", req.Network))
	}
	asset, ok := domain.LookupAsset(req.Asset)
	if !ok {
		return nil, apperror.ErrWalletUnsupported(fmt.Sprintf("transfer of %s", req.Asset))
	}
	if !common.IsHexAddress(req.Destination) {
		return nil, apperror.ErrInvalidPayment("destination must be a 0x-prefixed EVM address")
	}
	units, err := asset.ToUnits(req.Amount)
	if err != nil {
		return nil, apperror.ErrInvalidPayment(err.Error())
	}

	dest := common.HexToAddress(req.Destination)
	to, value, data := dest, units, []byte(nil)
	fallbackGas := uint64(nativeTransferGas)
	if asset.Symbol != domain.AssetETH.Symbol {
		data, err = erc20ABI.Pack("transfer", dest, units)
		if err != nil {
			return nil, fmt.Errorf("pack transfer: %w", err)
		}
		to, value = common.HexToAddress(l.network.USDCContract), big.NewInt(0)
		fallbackGas = erc20TransferGas
	}

	nonce, err := client.PendingNonceAt(ctx, l.address)
	if err != nil {
		return nil, apperror.ErrWalletBackendUnavailable(fmt.Errorf("pending nonce: %w", err))
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, apperror.ErrWalletBackendUnavailable(fmt.Errorf("gas price: %w", err))
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: l.address, To: &to, Value: value, Data: data})
	if err != nil {
		l.log.Warn().Err(err).Uint64("gas", fallbackGas).Msg("gas estimation failed, using default")
		gas = fallbackGas
	}
	gas = gas * 120 / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(l.network.ChainID)), l.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	result := domain.NewTransferResult(req)
	result.TxHash = signed.Hash().Hex()
	if err := client.SendTransaction(ctx, signed); err != nil {
		result.Error = err.Error()
		l.log.Error().Err(err).Str("tx_hash", result.TxHash).Msg("send transaction failed")
		return result, nil
	}

	result.Success = true
	l.log.Info().
		Str("tx_hash", result.TxHash).
		Str("asset", asset.Symbol).
		Str("amount", req.Amount.String()).
		Str("destination", dest.Hex()).
		Msg("transfer sent")
	return result, nil
}

// Close releases the RPC connection.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
}

func (l *Ledger) chain(op string) (ChainClient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.key == nil {
		return nil, apperror.ErrWalletNotConfigured(errors.New("signer not initialized"))
	}
	if l.client == nil {
		return nil, apperror.ErrWalletUnsupported(op + " without rpc_url")
	}
	return l.client, nil
}
