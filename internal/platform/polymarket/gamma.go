package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which provides
// market discovery and metadata. Gamma requires no authentication.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListMarketsByTag returns open markets carrying the given tag. The
// 15-minute crypto up/down markets share one tag ID.
func (g *GammaClient) ListMarketsByTag(ctx context.Context, tagID, limit int) ([]GammaMarket, error) {
	params := url.Values{}
	params.Set("tag_id", strconv.Itoa(tagID))
	params.Set("closed", "false")
	params.Set("active", "true")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	params.Set("order", "endDate")
	params.Set("ascending", "true")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets tag=%d: %w", tagID, err)
	}

	var markets []GammaMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	return markets, nil
}

// GetMarket returns a single market by its Gamma ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (GammaMarket, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return GammaMarket{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var market GammaMarket
	if err := json.Unmarshal(body, &market); err != nil {
		return GammaMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return market, nil
}

// doGet sends an unauthenticated GET request, retrying transient failures.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	body, err := g.doGetOnce(ctx, path)
	for _, delay := range getRetrySchedule {
		if err == nil || !isTransient(err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		body, err = g.doGetOnce(ctx, path)
	}
	return body, err
}

func (g *GammaClient) doGetOnce(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to sentinel-wrapped errors shared
// by the Gamma and CLOB clients.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	e := &httpError{status: statusCode, body: string(body)}
	switch statusCode {
	case http.StatusNotFound:
		e.wrapped = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		e.wrapped = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		e.wrapped = domain.ErrRateLimited
	case http.StatusBadRequest, http.StatusConflict:
		e.wrapped = domain.ErrVenueRejected
	default:
		e.wrapped = domain.ErrVenueUnavailable
	}
	return e
}

type httpError struct {
	status  int
	body    string
	wrapped error
}

func (e *httpError) Error() string {
	return fmt.Sprintf("polymarket: HTTP %d: %s", e.status, e.body)
}

func (e *httpError) Unwrap() error { return e.wrapped }
