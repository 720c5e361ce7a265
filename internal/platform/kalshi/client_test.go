package kalshi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL+"/trade-api/v2", "test-key-id")
	require.NoError(t, c.SetRSAPrivateKey(testKeyPEM(t)))
	return c, srv
}

func TestSignedRequestHeaders(t *testing.T) {
	var gotKey, gotSig, gotTS string
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("KALSHI-ACCESS-KEY")
		gotSig = r.Header.Get("KALSHI-ACCESS-SIGNATURE")
		gotTS = r.Header.Get("KALSHI-ACCESS-TIMESTAMP")
		w.Write([]byte(`{"balance": 12345}`))
	})

	cents, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), cents)
	assert.Equal(t, "test-key-id", gotKey)
	assert.NotEmpty(t, gotSig)
	assert.NotEmpty(t, gotTS)
}

func TestSignRequestWithoutKey(t *testing.T) {
	c := NewClient("https://api.example.com/trade-api/v2", "key")
	_, err := c.GetBalance(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestGetMarketsQuery(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "KXBTC15M", q.Get("series_ticker"))
		assert.Equal(t, "open", q.Get("status"))
		assert.Equal(t, "100", q.Get("limit"))
		w.Write([]byte(`{"markets": [{"ticker": "KXBTC15M-26AUG241215-T114000", "status": "open"}]}`))
	})

	markets, err := c.GetMarkets(context.Background(), "KXBTC15M", "open", 100)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "KXBTC15M-26AUG241215-T114000", markets[0].Ticker)
}

func TestGetOrderbookDecodesBothLevelShapes(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderbook": {"yes": [[40, 100], [42, 50]], "no": [{"price": 55, "quantity": 30}]}}`))
	})

	ob, err := c.GetOrderbook(context.Background(), "KXBTC15M-26AUG241215")
	require.NoError(t, err)
	assert.Equal(t, "KXBTC15M-26AUG241215", ob.Ticker)
	require.Len(t, ob.YesBids, 2)
	assert.Equal(t, PriceLevel{Price: 40, Quantity: 100}, ob.YesBids[0])
	require.Len(t, ob.NoBids, 1)
	assert.Equal(t, PriceLevel{Price: 55, Quantity: 30}, ob.NoBids[0])
	assert.False(t, ob.Timestamp.IsZero())
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"balance": 100}`))
	})

	cents, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), cents)
	assert.Equal(t, int64(3), calls.Load())
}

func TestPostIsNeverRetried(t *testing.T) {
	var calls atomic.Int64
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.PlaceOrder(context.Background(), Order{Ticker: "X", Action: "buy", Side: "yes", Type: "limit", Count: 1})
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
	assert.Equal(t, int64(1), calls.Load())
}

func TestStatusCodeSentinels(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusBadRequest, domain.ErrVenueRejected},
		{http.StatusConflict, domain.ErrVenueRejected},
		{http.StatusBadGateway, domain.ErrVenueUnavailable},
	}
	for _, tc := range cases {
		c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
			w.Write([]byte(`{"code": "err", "message": "nope"}`))
		})
		err := c.CancelOrder(context.Background(), "ord-1")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.code)
	}
}
