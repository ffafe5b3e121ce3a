package smartwallet

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTTL      = 120 * time.Second
	tokenIssuer   = "cdp"
	tokenAudience = "cdp_service"
)

// authenticator signs provider requests. The API key authenticates every call;
// the wallet key additionally authorizes calls that create accounts or move funds.
type authenticator struct {
	keyID     string
	apiKey    ed25519.PrivateKey
	walletKey *ecdsa.PrivateKey // nil when no wallet secret is configured
	now       func() time.Time
}

func newAuthenticator(keyID, apiSecret, walletSecret string) (*authenticator, error) {
	apiKey, err := parseAPIKey(apiSecret)
	if err != nil {
		return nil, err
	}
	a := &authenticator{keyID: keyID, apiKey: apiKey, now: time.Now}
	if walletSecret != "" {
		if a.walletKey, err = parseWalletKey(walletSecret); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// parseAPIKey accepts a base64 Ed25519 private key or seed.
func parseAPIKey(secret string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("api key secret is not base64: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("api key secret has %d bytes, want an Ed25519 key", len(raw))
	}
}

// parseWalletKey accepts a base64 PKCS#8 EC private key.
func parseWalletKey(secret string) (*ecdsa.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("wallet secret is not base64: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet secret: %w", err)
	}
	ec, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("wallet secret is not an EC key")
	}
	return ec, nil
}

// bearer returns the short-lived token for one request.
// uri is "METHOD host/path" without the query string.
func (a *authenticator) bearer(uri string) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":  a.keyID,
		"iss":  tokenIssuer,
		"aud":  []string{tokenAudience},
		"nbf":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
		"uris": []string{uri},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = a.keyID
	token.Header["nonce"] = nonce()

	signed, err := token.SignedString(a.apiKey)
	if err != nil {
		return "", fmt.Errorf("signing api token: %w", err)
	}
	return signed, nil
}

// walletAuth binds a mutating request body to the wallet key.
func (a *authenticator) walletAuth(uri string, body []byte) (string, error) {
	if a.walletKey == nil {
		return "", nil
	}
	now := a.now()
	sum := sha256.Sum256(body)
	claims := jwt.MapClaims{
		"iat":     now.Unix(),
		"nbf":     now.Unix(),
		"jti":     uuid.NewString(),
		"uris":    []string{uri},
		"reqHash": hex.EncodeToString(sum[:]),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(a.walletKey)
	if err != nil {
		return "", fmt.Errorf("signing wallet token: %w", err)
	}
	return signed, nil
}

func nonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
