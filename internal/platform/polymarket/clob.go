// Package polymarket implements the Polymarket venue adapter: the Gamma
// discovery client, the HMAC-authenticated CLOB client with EIP-712 order
// signing, a reconnecting websocket feed, and the normalization layer onto
// the common venue contract.
package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/crossarb/internal/crypto"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

// transient GETs are retried with this schedule before surfacing the error.
var getRetrySchedule = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second}

func isTransient(err error) bool {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr.status == http.StatusTooManyRequests || httpErr.status >= 500
	}
	// Network-level failures (no HTTP status) are transient by definition.
	return true
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

// sharesScale converts share counts and USDC amounts to the CLOB's 6-decimal
// fixed-point integers.
const sharesScale = 1_000_000

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles order placement, cancellation, and queries.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	sigType    int
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages.
// sigType selects the wallet flavor (0 EOA, 1 proxy, 2 Gnosis safe).
func NewClobClient(baseURL string, signer *crypto.Signer, sigType int) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:  signer,
		sigType: sigType,
	}
}

// DeriveAPIKey performs the CLOB auth flow to obtain HMAC credentials. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. On success it populates the client's hmacAuth.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %w", resp.StatusCode, domain.ErrUnauthorized)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// GetBook returns the live orderbook for one outcome token.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (Book, error) {
	path := "/book?" + url.Values{"token_id": {tokenID}}.Encode()

	body, err := c.getWithRetry(ctx, path)
	if err != nil {
		return Book{}, fmt.Errorf("polymarket/clob: get book: %w", err)
	}

	var book Book
	if err := json.Unmarshal(body, &book); err != nil {
		return Book{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book, nil
}

// GetCollateralBalance returns the wallet's available USDC in dollars.
func (c *ClobClient) GetCollateralBalance(ctx context.Context) (float64, error) {
	path := "/balance-allowance?" + url.Values{"asset_type": {"COLLATERAL"}}.Encode()

	body, err := c.getWithRetry(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get balance: %w", err)
	}

	var resp struct {
		Balance string `json:"balance"` // 6-decimal fixed point
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}

	units, err := strconv.ParseFloat(resp.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse balance %q: %w", resp.Balance, err)
	}
	return units / sharesScale, nil
}

// PostLimitOrder signs and submits a GTC limit order for size shares of
// tokenID at the given probability price. side is "BUY" or "SELL".
func (c *ClobClient) PostLimitOrder(ctx context.Context, tokenID, side string, price float64, size int64) (APIOrderResult, error) {
	payload, err := c.buildOrderPayload(tokenID, side, price, size)
	if err != nil {
		return APIOrderResult{}, err
	}

	signature, err := c.signer.SignOrder(payload)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          side,
			"signatureType": payload.SignatureType,
			"signature":     signature,
		},
		"owner":     c.ownerKey(),
		"orderType": "GTC",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s: %w", result.ErrorMsg, domain.ErrVenueRejected)
	}
	return result, nil
}

// GetOrder retrieves a single order by ID.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (APIOrder, error) {
	body, err := c.getWithRetry(ctx, "/data/order/"+url.PathEscape(orderID))
	if err != nil {
		return APIOrder{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}

	var order APIOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return APIOrder{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	return order, nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s: %w", result.ErrorMsg, domain.ErrVenueRejected)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildOrderPayload converts a price+size limit order into the 12-field
// EIP-712 payload. For BUY the maker supplies USDC (price*size) and takes
// shares; SELL is the reverse. Amounts are exact 6-decimal integers.
func (c *ClobClient) buildOrderPayload(tokenID, side string, price float64, size int64) (crypto.OrderPayload, error) {
	priceUnits := int64(math.Round(price * sharesScale))
	if priceUnits <= 0 || priceUnits >= sharesScale {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: price %.6f outside (0, 1): %w", price, domain.ErrInvalidOrder)
	}
	if size < 1 {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: size %d: %w", size, domain.ErrInvalidOrder)
	}

	shares := new(big.Int).Mul(big.NewInt(size), big.NewInt(sharesScale))
	usdc := new(big.Int).Mul(big.NewInt(size), big.NewInt(priceUnits))

	var makerAmount, takerAmount *big.Int
	switch side {
	case "BUY":
		makerAmount, takerAmount = usdc, shares
	case "SELL":
		makerAmount, takerAmount = shares, usdc
	default:
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: side %q: %w", side, domain.ErrInvalidOrder)
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: salt: %w", err)
	}

	address := c.signer.Address().Hex()
	return crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: c.sigType,
	}, nil
}

func (c *ClobClient) ownerKey() string {
	if c.hmacAuth != nil {
		return c.hmacAuth.Key
	}
	return ""
}

// getWithRetry retries idempotent GETs on transient failures. Mutating
// requests are never retried.
func (c *ClobClient) getWithRetry(ctx context.Context, path string) ([]byte, error) {
	body, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	for _, delay := range getRetrySchedule {
		if err == nil || !isTransient(err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		body, err = c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	}
	return body, err
}

// doAuthenticatedRequest builds, signs (HMAC L2), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		for k, v := range c.hmacAuth.L2Headers(address, method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}
