package smartwallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/pkg/apperror"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smartAddr = "0x4444444444444444444444444444444444444444"

type providerStub struct {
	t         *testing.T
	apiPub    ed25519.PublicKey
	walletPub *ecdsa.PublicKey

	mu       sync.Mutex
	accounts []smartAccount
	created  int
	sends    []sendRequest
	sendCode int
	balances string
}

func (p *providerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checkBearer(r)
	body, _ := io.ReadAll(r.Body)
	if r.Method == http.MethodPost {
		p.checkWalletAuth(r, body)
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/platform/v2/evm/smart-accounts":
		_ = json.NewEncoder(w).Encode(listAccountsResponse{Accounts: p.accounts})
	case r.Method == http.MethodPost && r.URL.Path == "/platform/v2/evm/smart-accounts":
		p.created++
		var in createAccountRequest
		assert.NoError(p.t, json.Unmarshal(body, &in))
		acct := smartAccount{Address: smartAddr, Owners: in.Owners}
		p.accounts = append(p.accounts, acct)
		_ = json.NewEncoder(w).Encode(acct)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/platform/v2/evm/token-balances/base-sepolia/"):
		_, _ = w.Write([]byte(p.balances))
	case r.Method == http.MethodPost && r.URL.Path == "/platform/v2/evm/smart-accounts/"+smartAddr+"/send":
		var in sendRequest
		assert.NoError(p.t, json.Unmarshal(body, &in))
		p.sends = append(p.sends, in)
		if p.sendCode != 0 {
			w.WriteHeader(p.sendCode)
			_, _ = w.Write([]byte(`{"errorType":"invalid_request","errorMessage":"insufficient balance for transfer"}`))
			return
		}
		_, _ = w.Write([]byte(`{"userOpHash":"0xop","transactionHash":"0xtx","status":"broadcast"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *providerStub) checkBearer(r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) { return p.apiPub, nil },
		jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithIssuer("cdp"), jwt.WithAudience("cdp_service"))
	if !assert.NoError(p.t, err) {
		return
	}
	assert.Equal(p.t, "key-id", token.Header["kid"])
	assert.NotEmpty(p.t, token.Header["nonce"])
	assert.Equal(p.t, "key-id", claims["sub"])
	assert.Equal(p.t, []interface{}{r.Method + " " + r.Host + r.URL.Path}, claims["uris"])
}

func (p *providerStub) checkWalletAuth(r *http.Request, body []byte) {
	raw := r.Header.Get("X-Wallet-Auth")
	if p.walletPub == nil {
		assert.Empty(p.t, raw)
		return
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) { return p.walletPub, nil },
		jwt.WithValidMethods([]string{"ES256"}))
	assert.NoError(p.t, err)
	sum := sha256.Sum256(body)
	assert.Equal(p.t, hex.EncodeToString(sum[:]), claims["reqHash"])
}

type fixture struct {
	ledger   *Ledger
	provider *providerStub
	owner    string
}

func setup(t *testing.T, withWalletSecret bool) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	stub := &providerStub{t: t, apiPub: pub, balances: `{"balances":[]}`}
	cfg := Config{
		APIKeyID:     "key-id",
		APIKeySecret: base64.StdEncoding.EncodeToString(priv),
		OwnerKey:     hex.EncodeToString(crypto.FromECDSA(ownerKey)),
		Network:      "base-sepolia",
	}
	if withWalletSecret {
		walletKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(walletKey)
		require.NoError(t, err)
		cfg.WalletSecret = base64.StdEncoding.EncodeToString(der)
		stub.walletPub = &walletKey.PublicKey
	}

	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/platform/"

	return &fixture{
		ledger:   New(cfg, srv.Client(), zerolog.Nop()),
		provider: stub,
		owner:    crypto.PubkeyToAddress(ownerKey.PublicKey).Hex(),
	}
}

func TestEnsureReady_CreatesAccountOnce(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()

	require.NoError(t, f.ledger.EnsureReady(ctx))
	require.NoError(t, f.ledger.EnsureReady(ctx))

	assert.Equal(t, 1, f.provider.created)
	assert.Equal(t, []string{f.owner}, f.provider.accounts[0].Owners)

	addr, err := f.ledger.GetAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, smartAddr, addr)
	assert.Equal(t, domain.Capabilities{Balances: true, Transfers: true, Gasless: true}, f.ledger.Capabilities())
	assert.Equal(t, domain.BackendPrimary, f.ledger.Kind())
}

func TestEnsureReady_ReusesExistingAccount(t *testing.T) {
	f := setup(t, false)
	f.provider.accounts = []smartAccount{{Address: smartAddr}}

	require.NoError(t, f.ledger.EnsureReady(context.Background()))
	assert.Zero(t, f.provider.created)
}

func TestEnsureReady_MultipleWallets(t *testing.T) {
	f := setup(t, false)
	f.provider.accounts = []smartAccount{{Address: smartAddr}, {Address: "0x5555555555555555555555555555555555555555"}}

	err := f.ledger.EnsureReady(context.Background())
	assert.Equal(t, apperror.CodeWalletNotConfigured, apperror.CodeOf(err))
	assert.Contains(t, err.Error(), "CDP_WALLET_SECRET")
}

func TestEnsureReady_MissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"nothing", Config{Network: "base-sepolia"}},
		{"no owner", Config{APIKeyID: "id", APIKeySecret: "c2VjcmV0", Network: "base-sepolia"}},
		{"bad api secret", Config{APIKeyID: "id", APIKeySecret: "c2VjcmV0", OwnerKey: strings.Repeat("1", 64), Network: "base-sepolia"}},
		{"bad network", Config{APIKeyID: "id", APIKeySecret: "c2VjcmV0", OwnerKey: strings.Repeat("1", 64), Network: "nowhere"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.cfg, nil, zerolog.Nop()).EnsureReady(context.Background())
			assert.Equal(t, apperror.CodeWalletNotConfigured, apperror.CodeOf(err))
		})
	}
}

func TestEnsureReady_ProviderStatus(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusUnauthorized, apperror.CodeWalletNotConfigured},
		{http.StatusForbidden, apperror.CodeWalletNotConfigured},
		{http.StatusServiceUnavailable, apperror.CodeWalletBackendUnavailable},
		{http.StatusTooManyRequests, apperror.CodeWalletBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, priv, _ := ed25519.GenerateKey(rand.Reader)
			l := New(Config{
				APIKeyID:     "id",
				APIKeySecret: base64.StdEncoding.EncodeToString(priv),
				OwnerKey:     strings.Repeat("1", 64),
				Network:      "base-sepolia",
				BaseURL:      srv.URL,
			}, srv.Client(), zerolog.Nop())

			err := l.EnsureReady(context.Background())
			assert.Equal(t, tt.code, apperror.CodeOf(err))
		})
	}
}

func TestGetBalance(t *testing.T) {
	f := setup(t, false)
	f.provider.balances = `{"balances":[
		{"amount":{"amount":"1500000000000000000","decimals":18},"token":{"symbol":"ETH"}},
		{"amount":{"amount":"10250000","decimals":6},"token":{"symbol":"USDC","contractAddress":"0x036CbD53842c5426634e7929541eC2318f3dCF7e"}}
	]}`
	ctx := context.Background()
	require.NoError(t, f.ledger.EnsureReady(ctx))

	usdc, err := f.ledger.GetBalance(ctx, "usdc")
	require.NoError(t, err)
	assert.Equal(t, "USDC", usdc.Asset)
	assert.Equal(t, "10.25", usdc.Amount.String())

	eth, err := f.ledger.GetBalance(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "1.5", eth.Amount.String())
}

func TestGetBalance_UnlistedTokenIsZero(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	require.NoError(t, f.ledger.EnsureReady(ctx))

	b, err := f.ledger.GetBalance(ctx, "USDC")
	require.NoError(t, err)
	assert.True(t, b.Amount.IsZero())
}

func TestGetBalance_MatchesTokenByContract(t *testing.T) {
	f := setup(t, false)
	f.provider.balances = `{"balances":[
		{"amount":{"amount":"1000000000000","decimals":6},"token":{"symbol":"USDC","contractAddress":"0xdeaddeaddeaddeaddeaddeaddeaddeaddeaddead"}},
		{"amount":{"amount":"5000000000000000000","decimals":18},"token":{"symbol":"ETH","contractAddress":"0xdeaddeaddeaddeaddeaddeaddeaddeaddeaddead"}},
		{"amount":{"amount":"1000000","decimals":6},"token":{"symbol":"USDC","contractAddress":"0x036cbd53842c5426634e7929541ec2318f3dcf7e"}},
		{"amount":{"amount":"2000000000000000000","decimals":18},"token":{"symbol":"ETH","contractAddress":"0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"}}
	]}`
	ctx := context.Background()
	require.NoError(t, f.ledger.EnsureReady(ctx))

	usdc, err := f.ledger.GetBalance(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "1", usdc.Amount.String())

	eth, err := f.ledger.GetBalance(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "2", eth.Amount.String())
}

func TestGetBalance_BeforeReady(t *testing.T) {
	f := setup(t, false)

	_, err := f.ledger.GetBalance(context.Background(), "USDC")
	assert.Equal(t, apperror.CodeWalletNotConfigured, apperror.CodeOf(err))
}

func TestTransfer(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	require.NoError(t, f.ledger.EnsureReady(ctx))

	result, err := f.ledger.Transfer(ctx, domain.TransferRequest{
		Destination: "0x3333333333333333333333333333333333333333",
		Amount:      decimal.RequireFromString("1.25"),
		Asset:       "USDC",
		Network:     "base-sepolia",
		Memo:        "coffee",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "0xtx", result.TxHash)
	assert.Equal(t, "coffee", result.Memo)

	require.Len(t, f.provider.sends, 1)
	sent := f.provider.sends[0]
	assert.Equal(t, "1250000", sent.Amount)
	assert.Equal(t, "usdc", sent.Token)
	assert.True(t, sent.Sponsored)
}

func TestTransfer_ProviderRejection(t *testing.T) {
	f := setup(t, false)
	f.provider.sendCode = http.StatusBadRequest
	ctx := context.Background()
	require.NoError(t, f.ledger.EnsureReady(ctx))

	result, err := f.ledger.Transfer(ctx, domain.TransferRequest{
		Destination: "0x3333333333333333333333333333333333333333",
		Amount:      decimal.NewFromInt(1),
		Asset:       "USDC",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "insufficient balance")
	assert.Len(t, f.provider.sends, 1)
}

func TestTransfer_RefusesOtherNetwork(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	require.NoError(t, f.ledger.EnsureReady(ctx))

	result, err := f.ledger.Transfer(ctx, domain.TransferRequest{
		Destination: "0x3333333333333333333333333333333333333333",
		Amount:      decimal.NewFromInt(1),
		Asset:       "USDC",
		Network:     "base-mainnet",
	})
	assert.Nil(t, result)
	assert.Equal(t, apperror.CodeWalletUnsupported, apperror.CodeOf(err))
	assert.Empty(t, f.provider.sends)
}
