package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

var slot = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRecordRoundTrip(t *testing.T) {
	in := Record{
		Kind:          KindTrade,
		ID:            "t-1",
		Energy:        1.25,
		Price:         31.0625,
		Seller:        "pv",
		Buyer:         "load",
		OriginalPrice: 30,
		TimeSlot:      slot,
		MarketID:      "m-1",
		FeePrice:      1.0625,
	}
	data, err := in.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"original_price":30`)
	assert.Contains(t, string(data), `"time_slot":"2024-06-01T12:00:00Z"`)

	out, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRecordRejects(t *testing.T) {
	for name, data := range map[string]string{
		"garbage": `{`,
		"no kind": `{"id":"x"}`,
		"no id":   `{"kind":"offer"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(data))
			assert.Error(t, err)
		})
	}
}

func newMarket(typ market.Type) *market.Market {
	return market.New(market.Config{Area: "house", Kind: market.Spot, Type: typ, TimeSlot: slot})
}

func TestFromEvent(t *testing.T) {
	m := newMarket(market.TwoSided)
	var events []market.Event
	m.Subscribe(market.ListenerFunc(func(ev market.Event) { events = append(events, ev) }))

	offer, err := m.PostOffer(2, 20, market.Trader{Name: "pv"})
	require.NoError(t, err)
	bid, err := m.PostBid(1, 15, market.Trader{Name: "load"})
	require.NoError(t, err)
	_, err = m.AcceptBidOfferPair(bid.ID, offer.ID, 10, fees.TradeInfo{}, 1)
	require.NoError(t, err)

	var kinds []string
	for _, ev := range events {
		if rec, ok := FromEvent(ev); ok {
			kinds = append(kinds, rec.Kind)
		}
	}
	// the split and the bid side of the pair trade have no record
	assert.Equal(t, []string{KindOffer, KindBid, KindTrade}, kinds)

	rec := OfferRecord(offer)
	assert.Equal(t, "pv", rec.Seller)
	assert.Equal(t, m.ID(), rec.MarketID)
	assert.InDelta(t, 20.0, rec.OriginalPrice, 1e-9)
}

func TestLocalChannel(t *testing.T) {
	ch := NewLocalChannel()
	ctx := context.Background()

	var a, b [][]byte
	require.NoError(t, ch.Subscribe("x", func(p []byte) { a = append(a, p) }))
	require.NoError(t, ch.Subscribe("x", func(p []byte) { b = append(b, p) }))

	require.NoError(t, ch.Publish(ctx, "x", []byte("one")))
	require.NoError(t, ch.Publish(ctx, "y", []byte("ignored")))
	assert.Equal(t, [][]byte{[]byte("one")}, a)
	assert.Equal(t, a, b)

	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Publish(ctx, "x", nil), ErrClosed)
	assert.ErrorIs(t, ch.Subscribe("x", func([]byte) {}), ErrClosed)
}

func TestLocalChannelSubscribeFromHandler(t *testing.T) {
	ch := NewLocalChannel()
	ctx := context.Background()

	var first, late []string
	require.NoError(t, ch.Subscribe("x", func(p []byte) {
		first = append(first, string(p))
		if len(first) == 1 {
			require.NoError(t, ch.Subscribe("x", func(p []byte) { late = append(late, string(p)) }))
		}
	}))

	require.NoError(t, ch.Publish(ctx, "x", []byte("one")))
	assert.Empty(t, late, "handler added during a publish sees only later messages")

	require.NoError(t, ch.Publish(ctx, "x", []byte("two")))
	assert.Equal(t, []string{"one", "two"}, first)
	assert.Equal(t, []string{"two"}, late)
}

func TestPublisherSendsMarketRecords(t *testing.T) {
	ch := NewLocalChannel()
	var got []Record
	require.NoError(t, Listen(ch, "", nil, func(r Record) { got = append(got, r) }))

	m := newMarket(market.OneSided)
	m.Subscribe(NewPublisher(context.Background(), ch, "", nil))

	offer, err := m.PostOffer(1, 10, market.Trader{Name: "pv"})
	require.NoError(t, err)
	_, err = m.AcceptOffer(offer.ID, market.Trader{Name: "load"}, market.AcceptParams{})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, KindOffer, got[0].Kind)
	assert.Equal(t, KindTrade, got[1].Kind)
	assert.Equal(t, "load", got[1].Buyer)
	assert.InDelta(t, 10.0, got[1].Price, 1e-9)
}

func TestPublisherSwallowsFailures(t *testing.T) {
	ch := NewLocalChannel()
	require.NoError(t, ch.Close())

	m := newMarket(market.OneSided)
	m.Subscribe(NewPublisher(context.Background(), ch, "", nil))

	_, err := m.PostOffer(1, 10, market.Trader{Name: "pv"})
	assert.NoError(t, err)
}

func TestListenSkipsGarbage(t *testing.T) {
	ch := NewLocalChannel()
	var got []Record
	require.NoError(t, Listen(ch, "t", nil, func(r Record) { got = append(got, r) }))

	require.NoError(t, ch.Publish(context.Background(), "t", []byte("not json")))
	rec, _ := Record{Kind: KindBid, ID: "b"}.Encode()
	require.NoError(t, ch.Publish(context.Background(), "t", rec))

	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestLibp2pChannelLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a libp2p host")
	}
	ctx := context.Background()
	ch, err := NewLibp2pChannel(ctx, Libp2pConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)

	require.NoError(t, ch.Subscribe("t", func([]byte) {}))
	require.NoError(t, ch.Publish(ctx, "t", []byte("hello")))
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Publish(ctx, "t", nil), ErrClosed)
}
