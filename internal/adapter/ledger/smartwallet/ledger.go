// Package smartwallet is the primary wallet backend: a smart account held by a
// custodial wallet provider and owned by the configured EVM key.
package smartwallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// multipleWalletsHint is returned when the provider cannot pick an account.
const multipleWalletsHint = "multiple smart wallets exist for this owner; set CDP_WALLET_SECRET to reuse the original one"

// Config holds provider credentials.
type Config struct {
	APIKeyID     string
	APIKeySecret string
	WalletSecret string
	OwnerKey     string // hex owner private key
	Network      string
	BaseURL      string
}

// Ledger implements ports.Ledger against the provider REST API.
type Ledger struct {
	cfg  Config
	http *resty.Client
	log  zerolog.Logger

	mu      sync.Mutex
	auth    *authenticator
	address string
	network domain.Network
	caps    domain.Capabilities
}

// New creates a smart wallet backend. Nothing is contacted until EnsureReady.
// The client never retries: a transfer is sent at most once.
func New(cfg Config, client *http.Client, log zerolog.Logger) *Ledger {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	rc := resty.NewWithClient(client).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &Ledger{
		cfg:  cfg,
		http: rc,
		log:  log.With().Str("component", "smartwallet").Logger(),
	}
}

func (l *Ledger) Kind() domain.BackendKind { return domain.BackendPrimary }

func (l *Ledger) Network() string { return l.cfg.Network }

func (l *Ledger) Capabilities() domain.Capabilities {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.caps
}

type smartAccount struct {
	Address string   `json:"address"`
	Owners  []string `json:"owners"`
}

type listAccountsResponse struct {
	Accounts []smartAccount `json:"accounts"`
}

type createAccountRequest struct {
	Owners []string `json:"owners"`
}

// EnsureReady resolves the smart account owned by the configured key,
// creating it on first use.
func (l *Ledger) EnsureReady(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.address != "" {
		return nil
	}

	var missing []string
	if l.cfg.APIKeyID == "" {
		missing = append(missing, "api key id")
	}
	if l.cfg.APIKeySecret == "" {
		missing = append(missing, "api key secret")
	}
	if l.cfg.OwnerKey == "" {
		missing = append(missing, "owner private key")
	}
	if len(missing) > 0 {
		return apperror.ErrWalletNotConfigured(fmt.Errorf("smart wallet credentials incomplete: missing %s", strings.Join(missing, ", ")))
	}

	network, ok := domain.LookupNetwork(l.cfg.Network)
	if !ok {
		return apperror.ErrWalletNotConfigured(fmt.Errorf("unknown network %q", l.cfg.Network))
	}
	ownerKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(l.cfg.OwnerKey), "0x"))
	if err != nil {
		return apperror.ErrWalletNotConfigured(fmt.Errorf("invalid owner key: %w", err))
	}
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey).Hex()

	auth, err := newAuthenticator(l.cfg.APIKeyID, l.cfg.APIKeySecret, l.cfg.WalletSecret)
	if err != nil {
		return apperror.ErrWalletNotConfigured(err)
	}

	var list listAccountsResponse
	query := url.Values{"owner": []string{owner}}
	if err := l.call(ctx, auth, http.MethodGet, "/v2/evm/smart-accounts?"+query.Encode(), nil, &list); err != nil {
		return err
	}

	var address string
	switch len(list.Accounts) {
	case 0:
		var created smartAccount
		if err := l.call(ctx, auth, http.MethodPost, "/v2/evm/smart-accounts", createAccountRequest{Owners: []string{owner}}, &created); err != nil {
			return err
		}
		address = created.Address
		l.log.Info().Str("address", address).Str("owner", owner).Msg("smart wallet created")
	case 1:
		address = list.Accounts[0].Address
	default:
		return apperror.ErrWalletNotConfigured(errors.New(multipleWalletsHint))
	}
	if !common.IsHexAddress(address) {
		return apperror.ErrWalletBackendUnavailable(fmt.Errorf("provider returned invalid address %q", address))
	}

	l.auth = auth
	l.address = common.HexToAddress(address).Hex()
	l.network = network
	l.caps = domain.Capabilities{Balances: true, Transfers: true, Gasless: network.SupportsGasless}

	l.log.Info().Str("address", l.address).Str("network", network.ID).Bool("gasless", network.SupportsGasless).Msg("smart wallet ready")
	return nil
}

func (l *Ledger) GetAddress(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.address == "" {
		return "", apperror.ErrWalletNotConfigured(errors.New("smart wallet not initialized"))
	}
	return l.address, nil
}

type tokenBalancesResponse struct {
	Balances []struct {
		Amount struct {
			Amount   string `json:"amount"`
			Decimals int32  `json:"decimals"`
		} `json:"amount"`
		Token struct {
			Symbol          string `json:"symbol"`
			ContractAddress string `json:"contractAddress"`
		} `json:"token"`
	} `json:"balances"`
}

// GetBalance returns the balance for symbol. A token the provider does not
// list is reported as zero.
func (l *Ledger) GetBalance(ctx context.Context, symbol string) (*domain.Balance, error) {
	auth, address, network, err := l.ready()
	if err != nil {
		return nil, err
	}
	asset, ok := domain.LookupAsset(symbol)
	if !ok {
		return nil, apperror.ErrWalletUnsupported(fmt.Sprintf("balance of %s", symbol))
	}

	var resp tokenBalancesResponse
	path := fmt.Sprintf("/v2/evm/token-balances/%s/%s", network.ID, address)
	if err := l.call(ctx, auth, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	units := new(big.Int)
	for _, b := range resp.Balances {
		if !holdsAsset(b.Token.Symbol, b.Token.ContractAddress, asset, network) {
			continue
		}
		if _, ok := units.SetString(b.Amount.Amount, 10); !ok {
			return nil, apperror.ErrWalletBackendUnavailable(fmt.Errorf("malformed %s balance %q", asset.Symbol, b.Amount.Amount))
		}
		break
	}

	return &domain.Balance{Asset: asset.Symbol, Amount: asset.FromUnits(units), AsOf: time.Now().UTC()}, nil
}

// nativeTokenAddress is the placeholder contract some providers list for ETH.
const nativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// holdsAsset matches the native asset by symbol and tokens by contract.
// Any contract can call itself USDC.
func holdsAsset(symbol, contract string, asset domain.Asset, network domain.Network) bool {
	if asset.Symbol == domain.AssetETH.Symbol {
		native := contract == "" || strings.EqualFold(contract, nativeTokenAddress)
		return native && strings.EqualFold(symbol, asset.Symbol)
	}
	return contract != "" && strings.EqualFold(contract, network.USDCContract)
}

type sendRequest struct {
	Network   string `json:"network"`
	To        string `json:"to"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Sponsored bool   `json:"useGasSponsorship"`
}

type sendResponse struct {
	UserOpHash      string `json:"userOpHash"`
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
}

// Transfer submits one user operation. A provider rejection is reported in the
// result; only transport failures surface as errors.
func (l *Ledger) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	auth, address, network, err := l.ready()
	if err != nil {
		return nil, err
	}
	asset, ok := domain.LookupAsset(req.Asset)
	if !ok {
		return nil, apperror.ErrWalletUnsupported(fmt.Sprintf("transfer of %s", req.Asset))
	}
	if req.Network != "" && !domain.SameNetwork(req.Network, network.ID) {
		return nil, apperror.ErrWalletUnsupported(fmt.Sprintf("transfer on %s", req.Network))
	}
	units, err := asset.ToUnits(req.Amount)
	if err != nil {
		return nil, apperror.ErrInvalidPayment(err.Error())
	}

	body := sendRequest{
		Network:   network.ID,
		To:        req.Destination,
		Token:     strings.ToLower(asset.Symbol),
		Amount:    units.String(),
		Sponsored: network.SupportsGasless,
	}

	result := domain.NewTransferResult(req)
	var resp sendResponse
	err = l.call(ctx, auth, http.MethodPost, fmt.Sprintf("/v2/evm/smart-accounts/%s/send", address), body, &resp)
	var provider *providerError
	switch {
	case errors.As(err, &provider):
		result.Error = provider.Error()
		l.log.Error().Err(err).Str("destination", req.Destination).Msg("transfer rejected by provider")
		return result, nil
	case err != nil:
		return nil, err
	}

	result.Success = true
	result.TxHash = resp.TransactionHash
	if result.TxHash == "" {
		result.TxHash = resp.UserOpHash
	}
	l.log.Info().
		Str("tx_hash", result.TxHash).
		Str("asset", asset.Symbol).
		Str("amount", req.Amount.String()).
		Str("destination", req.Destination).
		Msg("transfer submitted")
	return result, nil
}

func (l *Ledger) ready() (*authenticator, string, domain.Network, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.address == "" {
		return nil, "", domain.Network{}, apperror.ErrWalletNotConfigured(errors.New("smart wallet not initialized"))
	}
	return l.auth, l.address, l.network, nil
}

// providerError is a non-2xx answer from the provider.
type providerError struct {
	Status  int
	Type    string `json:"errorType"`
	Message string `json:"errorMessage"`
}

func (e *providerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned %d", e.Status)
	}
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Message)
}

// call sends one signed request. Non-2xx answers are classified into the
// wallet error taxonomy with the providerError as cause.
func (l *Ledger) call(ctx context.Context, auth *authenticator, method, path string, in, out any) error {
	target, err := url.Parse(l.cfg.BaseURL + path)
	if err != nil {
		return apperror.ErrWalletNotConfigured(fmt.Errorf("invalid base url: %w", err))
	}
	uri := method + " " + target.Host + target.Path

	token, err := auth.bearer(uri)
	if err != nil {
		return apperror.ErrWalletNotConfigured(err)
	}
	req := l.http.R().SetContext(ctx).SetAuthToken(token)

	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		walletToken, err := auth.walletAuth(uri, body)
		if err != nil {
			return apperror.ErrWalletNotConfigured(err)
		}
		if walletToken != "" {
			req.SetHeader("X-Wallet-Auth", walletToken)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, target.String())
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		return apperror.ErrWalletBackendUnavailable(fmt.Errorf("%s %s: %w", method, path, err))
	}

	raw := resp.Body()
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		perr := &providerError{Status: status}
		_ = json.Unmarshal(raw, perr)
		return classify(perr)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperror.ErrWalletBackendUnavailable(fmt.Errorf("decode %s: %w", path, err))
		}
	}
	return nil
}

func classify(perr *providerError) error {
	switch {
	case strings.Contains(strings.ToLower(perr.Message), "multiple smart wallets"):
		return apperror.ErrWalletNotConfigured(fmt.Errorf("%s: %w", multipleWalletsHint, perr))
	case perr.Status == http.StatusUnauthorized, perr.Status == http.StatusForbidden:
		return apperror.ErrWalletNotConfigured(perr)
	case perr.Status >= 500, perr.Status == http.StatusTooManyRequests:
		return apperror.ErrWalletBackendUnavailable(perr)
	default:
		return apperror.Wrap(apperror.CodeWalletBackendUnavailable, "Wallet provider rejected the request", http.StatusBadGateway, perr)
	}
}
