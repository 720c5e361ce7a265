package polymarket

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/crypto"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

// well-known throwaway key, never funded
const testPrivKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	signer, err := crypto.NewSigner(testPrivKey, 137)
	require.NoError(t, err)
	clob := NewClobClient("https://clob.example.com", signer, 2)
	gamma := NewGammaClient("https://gamma.example.com")
	return NewAdapter(gamma, clob, "wss://ws.example.com/ws/market", discardLogger())
}

func upDownMarket() GammaMarket {
	return GammaMarket{
		ID:            "501234",
		Question:      "Bitcoin Up or Down - August 24, 12:15 PM ET",
		ConditionID:   "0xdeadbeef",
		Slug:          "bitcoin-up-or-down-august-24-1215pm-et",
		Active:        true,
		Outcomes:      `["Up","Down"]`,
		OutcomePrices: `["0.42","0.58"]`,
		ClobTokenIDs:  `["111","222"]`,
		Volume:        "15000.5",
		EndDateISO:    "2026-08-24T16:15:00Z",
	}
}

func TestRegisterMarketMapsTokens(t *testing.T) {
	a := testAdapter(t)

	dm, ok := a.registerMarket(upDownMarket())
	require.True(t, ok)

	assert.Equal(t, domain.VenuePolymarket, dm.Venue)
	assert.Equal(t, "0xdeadbeef", dm.Instrument)
	assert.Equal(t, "active", dm.Status)
	assert.Equal(t, time.Date(2026, 8, 24, 16, 15, 0, 0, time.UTC), dm.ResolutionTime)
	assert.InDelta(t, 0.42, dm.YesPrice, 1e-9)
	assert.InDelta(t, 0.58, dm.NoPrice, 1e-9)

	// "Up" is the YES outcome.
	yes, err := a.tokenFor("0xdeadbeef", domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, "111", yes)
	no, err := a.tokenFor("0xdeadbeef", domain.OutcomeNo)
	require.NoError(t, err)
	assert.Equal(t, "222", no)
}

func TestRegisterCatalogRestoresTokenMapping(t *testing.T) {
	source := testAdapter(t)
	dm, ok := source.registerMarket(upDownMarket())
	require.True(t, ok)

	// A fresh adapter, as after a restart served from the catalog cache.
	a := testAdapter(t)
	_, err := a.tokenFor(dm.Instrument, domain.OutcomeYes)
	require.ErrorIs(t, err, domain.ErrNotFound)

	a.RegisterCatalog([]domain.Market{dm})
	yes, err := a.tokenFor(dm.Instrument, domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, "111", yes)
	no, err := a.tokenFor(dm.Instrument, domain.OutcomeNo)
	require.NoError(t, err)
	assert.Equal(t, "222", no)

	// Markets without token metadata are ignored.
	a.RegisterCatalog([]domain.Market{{Instrument: "0xbare"}})
	_, err = a.tokenFor("0xbare", domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterMarketReversedOutcomes(t *testing.T) {
	a := testAdapter(t)
	m := upDownMarket()
	m.Outcomes = `["Down","Up"]`
	m.OutcomePrices = `["0.58","0.42"]`

	dm, ok := a.registerMarket(m)
	require.True(t, ok)
	assert.InDelta(t, 0.42, dm.YesPrice, 1e-9)

	yes, err := a.tokenFor("0xdeadbeef", domain.OutcomeYes)
	require.NoError(t, err)
	assert.Equal(t, "222", yes)
}

func TestRegisterMarketSkipsNonBinary(t *testing.T) {
	a := testAdapter(t)
	m := upDownMarket()
	m.ClobTokenIDs = `["111"]`

	_, ok := a.registerMarket(m)
	assert.False(t, ok)
}

func TestTokenForUnknownInstrument(t *testing.T) {
	a := testAdapter(t)
	_, err := a.tokenFor("0xmissing", domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestToSnapshotSortsAndParses(t *testing.T) {
	a := testAdapter(t)
	book := Book{
		AssetID:   "111",
		Bids:      []BookLevel{{Price: "0.40", Size: "100"}, {Price: "0.41", Size: "50"}},
		Asks:      []BookLevel{{Price: "0.45", Size: "30"}, {Price: "0.44", Size: "80"}},
		Timestamp: "1787241600000",
	}

	snap := a.toSnapshot(book, "0xdeadbeef", domain.OutcomeYes)
	require.Len(t, snap.Asks, 2)
	assert.InDelta(t, 0.44, snap.Asks[0].Price, 1e-9)
	require.Len(t, snap.Bids, 2)
	assert.InDelta(t, 0.41, snap.Bids[0].Price, 1e-9)
	assert.Equal(t, time.UnixMilli(1787241600000), snap.UpdatedAt)
}

func TestToSnapshotDropsZeroSizeLevels(t *testing.T) {
	a := testAdapter(t)
	book := Book{
		Asks: []BookLevel{{Price: "0.45", Size: "0"}, {Price: "0.46", Size: "10"}},
	}
	snap := a.toSnapshot(book, "0xdeadbeef", domain.OutcomeNo)
	require.Len(t, snap.Asks, 1)
	assert.InDelta(t, 0.46, snap.Asks[0].Price, 1e-9)
}

func TestToOrderState(t *testing.T) {
	cases := []struct {
		name  string
		order APIOrder
		want  domain.OrderStatus
	}{
		{"matched", APIOrder{Status: "matched", SizeMatched: "10", OriginalSize: "10"}, domain.OrderStatusFilled},
		{"cancelled", APIOrder{Status: "cancelled"}, domain.OrderStatusCanceled},
		{"live untouched", APIOrder{Status: "live", SizeMatched: "0", OriginalSize: "10"}, domain.OrderStatusResting},
		{"live partial", APIOrder{Status: "live", SizeMatched: "4", OriginalSize: "10"}, domain.OrderStatusPartial},
		{"live fully matched", APIOrder{Status: "live", SizeMatched: "10", OriginalSize: "10"}, domain.OrderStatusFilled},
		{"delayed", APIOrder{Status: "delayed"}, domain.OrderStatusPending},
		{"unknown maps to rejected", APIOrder{Status: "weird"}, domain.OrderStatusRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, toOrderState(tc.order).Status)
		})
	}
}

func TestToOrderStateFillAccounting(t *testing.T) {
	out := toOrderState(APIOrder{ID: "ord-9", Status: "live", SizeMatched: "4", OriginalSize: "10", Price: "0.36"})
	assert.Equal(t, int64(4), out.FilledSize)
	assert.InDelta(t, 0.36, out.AvgPrice, 1e-9)
}

func TestBuildOrderPayloadAmounts(t *testing.T) {
	signer, err := crypto.NewSigner(testPrivKey, 137)
	require.NoError(t, err)
	c := NewClobClient("https://clob.example.com", signer, 2)

	// BUY 10 shares at 0.36: maker pays 3.6 USDC, takes 10 shares.
	buy, err := c.buildOrderPayload("111", "BUY", 0.36, 10)
	require.NoError(t, err)
	assert.Equal(t, "3600000", buy.MakerAmount)
	assert.Equal(t, "10000000", buy.TakerAmount)
	assert.Equal(t, signer.Address().Hex(), buy.Maker)
	assert.Equal(t, zeroAddress, buy.Taker)
	assert.Equal(t, 2, buy.SignatureType)

	// SELL is the reverse.
	sell, err := c.buildOrderPayload("111", "SELL", 0.36, 10)
	require.NoError(t, err)
	assert.Equal(t, "10000000", sell.MakerAmount)
	assert.Equal(t, "3600000", sell.TakerAmount)

	// Salt must be a decimal big integer.
	_, ok := new(big.Int).SetString(buy.Salt, 10)
	assert.True(t, ok)
	assert.NotEqual(t, buy.Salt, sell.Salt)
}

func TestBuildOrderPayloadRejectsBadInput(t *testing.T) {
	signer, err := crypto.NewSigner(testPrivKey, 137)
	require.NoError(t, err)
	c := NewClobClient("https://clob.example.com", signer, 0)

	_, err = c.buildOrderPayload("111", "BUY", 0, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = c.buildOrderPayload("111", "BUY", 1.0, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = c.buildOrderPayload("111", "HOLD", 0.5, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = c.buildOrderPayload("111", "BUY", 0.5, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}
