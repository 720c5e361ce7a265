package kalshi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSFixture() (*WSClient, *[]Orderbook) {
	var got []Orderbook
	w := NewWSClient("wss://example.com/ws", func(ob Orderbook) {
		got = append(got, ob)
	}, discardLogger())
	return w, &got
}

func TestHandleMessageSnapshotThenDelta(t *testing.T) {
	w, got := newWSFixture()

	w.handleMessage([]byte(`{"type":"orderbook_snapshot","sid":1,"msg":{
		"market_ticker":"KXBTC15M-26AUG241215",
		"yes":[[40,100],[42,50]],
		"no":[[53,80],[55,30]]}}`))

	require.Len(t, *got, 1)
	assert.Equal(t, []PriceLevel{{40, 100}, {42, 50}}, (*got)[0].YesBids)
	assert.Equal(t, []PriceLevel{{53, 80}, {55, 30}}, (*got)[0].NoBids)

	// A level change must merge into the cached snapshot, not replace it.
	w.handleMessage([]byte(`{"type":"orderbook_delta","sid":1,"msg":{
		"market_ticker":"KXBTC15M-26AUG241215","price":42,"delta":-20,"side":"yes"}}`))

	require.Len(t, *got, 2)
	merged := (*got)[1]
	assert.Equal(t, []PriceLevel{{40, 100}, {42, 30}}, merged.YesBids)
	assert.Equal(t, []PriceLevel{{53, 80}, {55, 30}}, merged.NoBids)
	assert.False(t, merged.Timestamp.IsZero())
}

func TestHandleMessageDeltaAddsAndRemovesLevels(t *testing.T) {
	w, got := newWSFixture()

	w.handleMessage([]byte(`{"type":"orderbook_snapshot","msg":{
		"market_ticker":"KXETH15M-26AUG241215","yes":[[48,10]],"no":[[50,25]]}}`))

	// New price level on the no side.
	w.handleMessage([]byte(`{"type":"orderbook_delta","msg":{
		"market_ticker":"KXETH15M-26AUG241215","price":51,"delta":40,"side":"no"}}`))
	// Drain the only yes level to zero.
	w.handleMessage([]byte(`{"type":"orderbook_delta","msg":{
		"market_ticker":"KXETH15M-26AUG241215","price":48,"delta":-10,"side":"yes"}}`))

	require.Len(t, *got, 3)
	assert.Equal(t, []PriceLevel{{50, 25}, {51, 40}}, (*got)[1].NoBids)
	assert.Empty(t, (*got)[2].YesBids)
	assert.Equal(t, []PriceLevel{{50, 25}, {51, 40}}, (*got)[2].NoBids)
}

func TestHandleMessageDeltaBeforeSnapshotDropped(t *testing.T) {
	w, got := newWSFixture()

	w.handleMessage([]byte(`{"type":"orderbook_delta","msg":{
		"market_ticker":"KXSOL15M-26AUG241215","price":30,"delta":5,"side":"yes"}}`))

	assert.Empty(t, *got)
}

func TestHandleMessageDeltaUnknownSideDropped(t *testing.T) {
	w, got := newWSFixture()

	w.handleMessage([]byte(`{"type":"orderbook_snapshot","msg":{
		"market_ticker":"KXBTC15M-26AUG241215","yes":[[40,100]],"no":[[55,30]]}}`))
	w.handleMessage([]byte(`{"type":"orderbook_delta","msg":{
		"market_ticker":"KXBTC15M-26AUG241215","price":40,"delta":-100,"side":"maybe"}}`))

	require.Len(t, *got, 1)
}

func TestHandleMessageSnapshotResetsLadder(t *testing.T) {
	w, got := newWSFixture()

	w.handleMessage([]byte(`{"type":"orderbook_snapshot","msg":{
		"market_ticker":"KXBTC15M-26AUG241215","yes":[[40,100],[42,50]],"no":[[55,30]]}}`))
	// Reconnect delivers a fresh snapshot; stale levels must not survive it.
	w.handleMessage([]byte(`{"type":"orderbook_snapshot","msg":{
		"market_ticker":"KXBTC15M-26AUG241215","yes":[[41,70]],"no":[[56,20]]}}`))
	w.handleMessage([]byte(`{"type":"orderbook_delta","msg":{
		"market_ticker":"KXBTC15M-26AUG241215","price":41,"delta":10,"side":"yes"}}`))

	require.Len(t, *got, 3)
	assert.Equal(t, []PriceLevel{{41, 80}}, (*got)[2].YesBids)
	assert.Equal(t, []PriceLevel{{56, 20}}, (*got)[2].NoBids)
}
