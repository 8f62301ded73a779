package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
	"github.com/gridsingularity/gsy-e-sub006/pkg/matching"
)

var slot0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// harness routes market events to the agents bridging the event's area,
// the way the coordinator does.
type harness struct {
	t      *testing.T
	reg    *market.Registry
	agents []*Agent
	tick   int
	errs   []error
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, reg: market.NewRegistry()}
}

func (h *harness) OnMarketEvent(ev market.Event) {
	for _, a := range h.agents {
		if a.Kind() != ev.Kind || (a.Higher() != ev.Area && a.Lower() != ev.Area) {
			continue
		}
		if err := a.HandleEvent(ev); err != nil {
			h.errs = append(h.errs, err)
		}
	}
}

func (h *harness) market(area string, kind market.Kind, typ market.Type, slot time.Time, fee fees.Calculator) *market.Market {
	h.t.Helper()
	m := market.New(market.Config{Area: area, Kind: kind, Type: typ, TimeSlot: slot, Fee: fee})
	m.Subscribe(h)
	require.NoError(h.t, h.reg.Register(m))
	return m
}

func (h *harness) agent(build func(Config) (*Agent, error), higher, lower string, minOfferAge, minBidAge int) *Agent {
	h.t.Helper()
	a, err := build(Config{Higher: higher, Lower: lower, Registry: h.reg, MinOfferAge: minOfferAge, MinBidAge: minBidAge})
	require.NoError(h.t, err)
	h.agents = append(h.agents, a)
	return a
}

func (h *harness) step() error {
	h.tick++
	for _, m := range h.reg.Markets() {
		m.SetTick(h.tick)
	}
	for _, a := range h.agents {
		if err := a.HandleEvent(market.Event{Type: market.EventTick, Tick: h.tick}); err != nil {
			return err
		}
	}
	if len(h.errs) > 0 {
		return h.errs[0]
	}
	return nil
}

func (h *harness) steps(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(h.t, h.step())
	}
}

func (h *harness) cycle() {
	for _, a := range h.agents {
		require.NoError(h.t, a.HandleEvent(market.Event{Type: market.EventMarketCycle, Tick: h.tick}))
	}
}

func TestOfferForwardedOnceWithFee(t *testing.T) {
	h := newHarness(t)
	house := h.market("house", market.Spot, market.OneSided, slot0, nil)
	nbhd := h.market("nbhd", market.Spot, market.OneSided, slot0, fees.Constant{FeeRate: 1})
	a := h.agent(NewOneSidedAgent, "nbhd", "house", 0, 0)

	offer, err := house.PostOffer(2, 20, market.Trader{Name: "pv"})
	require.NoError(t, err)
	h.steps(3)

	clones := nbhd.SortedOffers()
	require.Len(t, clones, 1)
	assert.InDelta(t, 11, clones[0].Rate(), 1e-9)
	assert.Equal(t, "IAA house", clones[0].Seller.Name)
	assert.Equal(t, "pv", clones[0].Seller.Origin)
	assert.InDelta(t, 20, clones[0].OriginalPrice, 1e-9)

	assert.Equal(t, Forwarded, a.OfferUp.State(slot0, offer.ID))
	target, ok := a.OfferUp.Target(slot0, offer.ID)
	require.True(t, ok)
	assert.Equal(t, clones[0].ID, target)

	// the clone is never sent back down
	assert.Len(t, house.SortedOffers(), 1)
	assert.Equal(t, Unseen, a.OfferDown.State(slot0, clones[0].ID))
}

func TestOfferWaitsForMinimumAge(t *testing.T) {
	h := newHarness(t)
	house := h.market("house", market.Spot, market.OneSided, slot0, nil)
	nbhd := h.market("nbhd", market.Spot, market.OneSided, slot0, nil)
	h.agent(NewOneSidedAgent, "nbhd", "house", 3, 0)

	_, err := house.PostOffer(1, 10, market.Trader{Name: "pv"}, market.WithTick(0))
	require.NoError(t, err)
	h.steps(2)
	assert.Empty(t, nbhd.SortedOffers())
	h.steps(1)
	assert.Len(t, nbhd.SortedOffers(), 1)
}

func TestCloneTradeIsMirroredToSource(t *testing.T) {
	h := newHarness(t)
	house := h.market("house", market.Spot, market.OneSided, slot0, nil)
	nbhd := h.market("nbhd", market.Spot, market.OneSided, slot0, fees.Percentage{FeeRate: 0.1})
	a := h.agent(NewOneSidedAgent, "nbhd", "house", 0, 0)

	offer, _ := house.PostOffer(10, 100, market.Trader{Name: "pv"})
	h.steps(1)
	clone := nbhd.SortedOffers()[0]

	trade, err := nbhd.AcceptOffer(clone.ID, market.Trader{Name: "load"}, market.AcceptParams{Energy: 4})
	require.NoError(t, err)
	require.NotNil(t, trade.OfferResidual)

	mirrored := house.Trades()
	require.Len(t, mirrored, 1)
	assert.InDelta(t, 4, mirrored[0].Energy, 1e-9)
	assert.InDelta(t, 10, mirrored[0].Rate(), 1e-9)
	assert.Equal(t, "load", mirrored[0].Buyer.Origin)
	require.NotNil(t, mirrored[0].OfferResidual)

	assert.Equal(t, ResidualReplaced, a.OfferUp.State(slot0, offer.ID))
	srcRes := mirrored[0].OfferResidual.ID
	assert.Equal(t, Forwarded, a.OfferUp.State(slot0, srcRes))
	target, ok := a.OfferUp.Target(slot0, srcRes)
	require.True(t, ok)
	assert.Equal(t, trade.OfferResidual.ID, target)

	// the rest of the clone sells too
	_, err = nbhd.AcceptOffer(target, market.Trader{Name: "load"}, market.AcceptParams{})
	require.NoError(t, err)
	assert.Len(t, house.Trades(), 2)
	assert.Empty(t, house.SortedOffers())
	assert.Equal(t, Traded, a.OfferUp.State(slot0, srcRes))
	assert.InDelta(t, 6, house.Trades()[1].Energy, 1e-9)
}

func TestSourceChangesCascadeToClone(t *testing.T) {
	h := newHarness(t)
	house := h.market("house", market.Spot, market.OneSided, slot0, nil)
	nbhd := h.market("nbhd", market.Spot, market.OneSided, slot0, nil)
	a := h.agent(NewOneSidedAgent, "nbhd", "house", 0, 0)

	deleted, _ := house.PostOffer(1, 10, market.Trader{Name: "pv1"})
	bought, _ := house.PostOffer(1, 10, market.Trader{Name: "pv2"})
	split, _ := house.PostOffer(4, 40, market.Trader{Name: "pv3"})
	h.steps(1)
	require.Len(t, nbhd.SortedOffers(), 3)

	require.NoError(t, house.DeleteOffer(deleted.ID))
	assert.Equal(t, Deleted, a.OfferUp.State(slot0, deleted.ID))
	assert.Len(t, nbhd.SortedOffers(), 2)

	_, err := house.AcceptOffer(bought.ID, market.Trader{Name: "load"}, market.AcceptParams{})
	require.NoError(t, err)
	assert.Equal(t, Traded, a.OfferUp.State(slot0, bought.ID))
	require.Len(t, nbhd.SortedOffers(), 1)

	tr, err := house.AcceptOffer(split.ID, market.Trader{Name: "load"}, market.AcceptParams{Energy: 1})
	require.NoError(t, err)
	assert.Equal(t, ResidualReplaced, a.OfferUp.State(slot0, split.ID))

	clones := nbhd.SortedOffers()
	require.Len(t, clones, 1)
	assert.InDelta(t, 3, clones[0].Energy, 1e-9)
	target, ok := a.OfferUp.Target(slot0, tr.OfferResidual.ID)
	require.True(t, ok)
	assert.Equal(t, clones[0].ID, target)
	assert.Empty(t, nbhd.Trades())
}

func TestCloneDeletedByOthersIsNotReforwarded(t *testing.T) {
	h := newHarness(t)
	house := h.market("house", market.Spot, market.OneSided, slot0, nil)
	nbhd := h.market("nbhd", market.Spot, market.OneSided, slot0, nil)
	a := h.agent(NewOneSidedAgent, "nbhd", "house", 0, 0)

	offer, _ := house.PostOffer(1, 10, market.Trader{Name: "pv"})
	h.steps(1)
	clone := nbhd.SortedOffers()[0]
	require.NoError(t, nbhd.DeleteOffer(clone.ID))

	h.steps(3)
	assert.Empty(t, nbhd.SortedOffers())
	assert.Equal(t, Deleted, a.OfferUp.State(slot0, offer.ID))
	_, live := house.Offer(offer.ID)
	assert.True(t, live)
}

// Grid <-> neighborhood <-> two houses. A grid buyer takes the offer that
// travelled up from house A; every market on the path records exactly one
// trade and the copy offered to house B disappears.
func TestThreeLevelForwardingNeverDuplicates(t *testing.T) {
	h := newHarness(t)
	grid := h.market("grid", market.Spot, market.OneSided, slot0, fees.Constant{FeeRate: 1})
	nbhd := h.market("nbhd", market.Spot, market.OneSided, slot0, fees.Constant{FeeRate: 1})
	houseA := h.market("house_a", market.Spot, market.OneSided, slot0, nil)
	houseB := h.market("house_b", market.Spot, market.OneSided, slot0, nil)
	h.agent(NewOneSidedAgent, "grid", "nbhd", 0, 0)
	h.agent(NewOneSidedAgent, "nbhd", "house_a", 0, 0)
	h.agent(NewOneSidedAgent, "nbhd", "house_b", 0, 0)

	offer, _ := houseA.PostOffer(1, 10, market.Trader{Name: "pv"})
	h.steps(5)

	for _, m := range []*market.Market{grid, nbhd, houseA, houseB} {
		require.Len(t, m.SortedOffers(), 1, m.Area())
	}
	gridOffer := grid.SortedOffers()[0]
	assert.InDelta(t, 12, gridOffer.Rate(), 1e-9)

	_, err := grid.AcceptOffer(gridOffer.ID, market.Trader{Name: "grid_load"}, market.AcceptParams{})
	require.NoError(t, err)
	h.steps(3)

	for _, m := range []*market.Market{grid, nbhd, houseA} {
		require.Len(t, m.Trades(), 1, m.Area())
		assert.Empty(t, m.SortedOffers(), m.Area())
	}
	assert.Empty(t, houseB.Trades())
	assert.Empty(t, houseB.SortedOffers())

	trade := houseA.Trades()[0]
	assert.Equal(t, offer.ID, trade.Offer.ID)
	assert.InDelta(t, 10, trade.Rate(), 1e-9)
	assert.Equal(t, "grid_load", trade.Buyer.Identity())
}

// A house offer at 10 with two 5% boundaries above it and a grid bid at 13.
// The bid travels down and clears in the house; the trade is mirrored once
// into each market above.
func TestGridBidClearsInHouse(t *testing.T) {
	h := newHarness(t)
	grid := h.market("grid", market.Spot, market.TwoSided, slot0, fees.Percentage{FeeRate: 0.05})
	nbhd := h.market("nbhd", market.Spot, market.TwoSided, slot0, fees.Percentage{FeeRate: 0.05})
	house := h.market("house", market.Spot, market.TwoSided, slot0, fees.Percentage{})
	h.agent(NewTwoSidedAgent, "grid", "nbhd", 1000, 0)
	h.agent(NewTwoSidedAgent, "nbhd", "house", 1000, 0)

	_, err := house.PostOffer(1, 10, market.Trader{Name: "pv"})
	require.NoError(t, err)
	bid, err := grid.PostBid(1, 13, market.Trader{Name: "grid_load"})
	require.NoError(t, err)
	h.steps(2)

	houseBids := house.SortedBids()
	require.Len(t, houseBids, 1)
	assert.InDelta(t, 13/1.05/1.05, houseBids[0].Rate(), 1e-9)

	for _, m := range []*market.Market{grid, nbhd} {
		trades, err := matching.Clear(m, matching.PayAsBid{}, nil)
		require.NoError(t, err)
		assert.Empty(t, trades, m.Area())
	}
	trades, err := matching.Clear(house, matching.PayAsBid{}, nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	h.steps(2)

	for _, m := range []*market.Market{grid, nbhd, house} {
		require.Len(t, m.Trades(), 1, m.Area())
		assert.Empty(t, m.SortedBids(), m.Area())
		assert.Empty(t, m.SortedOffers(), m.Area())
	}
	gridTrade := grid.Trades()[0]
	assert.Equal(t, bid.ID, gridTrade.Bid.ID)
	assert.InDelta(t, 13, gridTrade.Rate(), 1e-9)
	assert.Equal(t, "pv", gridTrade.Seller.Identity())

	houseTrade := house.Trades()[0]
	assert.Equal(t, "grid_load", houseTrade.Buyer.Identity())
	assert.Zero(t, houseTrade.FeePrice)

	// what the buyer paid minus what the seller kept went to the grid fees
	var collected float64
	for _, m := range []*market.Market{grid, nbhd, house} {
		f, _ := m.AccumulatedFees().Float64()
		collected += f
	}
	assert.InDelta(t, gridTrade.Price-houseTrade.SellerRevenue(), collected, 1e-6)
}

func TestFutureAgentPurgesClosedSlot(t *testing.T) {
	h := newHarness(t)
	a := h.agent(NewFutureAgent, "grid", "house", 0, 0)

	slots := make([]time.Time, 10)
	offers := make([]*market.Offer, 10)
	bids := make([]*market.Bid, 10)
	for i := range slots {
		slots[i] = slot0.Add(time.Duration(i) * 15 * time.Minute)
		h.market("grid", market.Future, market.TwoSided, slots[i], nil)
		house := h.market("house", market.Future, market.TwoSided, slots[i], nil)
		o, err := house.PostOffer(1, 10, market.Trader{Name: fmt.Sprintf("pv%d", i)})
		require.NoError(t, err)
		offers[i] = o
		b, err := house.PostBid(1, 5, market.Trader{Name: fmt.Sprintf("load%d", i)})
		require.NoError(t, err)
		bids[i] = b
	}
	h.steps(1)
	for _, s := range slots {
		require.Equal(t, 1, a.OfferUp.RecordCount(s))
		require.Equal(t, 1, a.BidUp.RecordCount(s))
	}

	require.NoError(t, h.reg.Close("grid", market.Future, slots[0]))
	require.NoError(t, h.reg.Close("house", market.Future, slots[0]))
	h.cycle()

	assert.Zero(t, a.OfferUp.RecordCount(slots[0]))
	assert.Equal(t, Purged, a.OfferUp.State(slots[0], offers[0].ID))
	for i, s := range slots[1:] {
		assert.Equal(t, 1, a.OfferUp.RecordCount(s))
		assert.Equal(t, Forwarded, a.OfferUp.State(s, offers[i+1].ID))
	}
	assert.Len(t, a.OfferUp.Slots(), 9)

	assert.Zero(t, a.BidUp.RecordCount(slots[0]))
	assert.Equal(t, Purged, a.BidUp.State(slots[0], bids[0].ID))
	for i, s := range slots[1:] {
		assert.Equal(t, 1, a.BidUp.RecordCount(s))
		assert.Equal(t, Forwarded, a.BidUp.State(s, bids[i+1].ID))
	}
	assert.Len(t, a.BidUp.Slots(), 9)
}

func TestSettlementAgentIgnoresSpotEvents(t *testing.T) {
	h := newHarness(t)
	spotHouse := h.market("house", market.Spot, market.TwoSided, slot0, nil)
	h.market("grid", market.Spot, market.TwoSided, slot0, nil)
	h.market("house", market.Settlement, market.TwoSided, slot0, nil)
	settleGrid := h.market("grid", market.Settlement, market.TwoSided, slot0, nil)
	a := h.agent(NewSettlementAgent, "grid", "house", 0, 0)

	_, err := spotHouse.PostBid(1, 10, market.Trader{Name: "load"})
	require.NoError(t, err)
	h.steps(1)
	assert.Empty(t, settleGrid.SortedBids())
	assert.Empty(t, a.BidUp.Slots())
	assert.Equal(t, market.Settlement, a.Kind())
}

type skewedFee struct{ fees.Percentage }

// RemoveIncomingFee forgets to undo the fee.
func (skewedFee) RemoveIncomingFee(rate float64) float64 { return rate }

func TestBrokenFeeChainIsFatal(t *testing.T) {
	h := newHarness(t)
	house := h.market("house", market.Spot, market.OneSided, slot0, nil)
	h.market("nbhd", market.Spot, market.OneSided, slot0, skewedFee{fees.Percentage{FeeRate: 0.1}})
	h.agent(NewOneSidedAgent, "nbhd", "house", 0, 0)

	_, err := house.PostOffer(1, 10, market.Trader{Name: "pv"})
	require.NoError(t, err)
	err = h.step()
	require.ErrorIs(t, err, fees.ErrFeeChainBroken)
}

func TestNegativeBidRateIsNotForwarded(t *testing.T) {
	h := newHarness(t)
	grid := h.market("grid", market.Spot, market.TwoSided, slot0, fees.Constant{FeeRate: 5})
	house := h.market("house", market.Spot, market.TwoSided, slot0, nil)
	h.agent(NewTwoSidedAgent, "grid", "house", 0, 0)

	_, err := grid.PostBid(1, 3, market.Trader{Name: "load"})
	require.NoError(t, err)
	h.steps(2)
	assert.Empty(t, house.SortedBids())
}

func TestNewAgentValidation(t *testing.T) {
	reg := market.NewRegistry()
	_, err := NewTwoSidedAgent(Config{Higher: "a", Lower: "a", Registry: reg})
	require.Error(t, err)
	_, err = NewTwoSidedAgent(Config{Higher: "a", Lower: "b"})
	require.Error(t, err)
	_, err = NewOneSidedAgent(Config{Higher: "a", Lower: "b", Registry: reg, MinOfferAge: -1})
	require.Error(t, err)

	a, err := NewOneSidedAgent(Config{Higher: "a", Lower: "b", Registry: reg})
	require.NoError(t, err)
	assert.Equal(t, "IAA b", a.Name())
	assert.False(t, a.TwoSided())
	assert.Nil(t, a.BidUp)
}
