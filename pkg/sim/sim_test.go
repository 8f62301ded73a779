package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsingularity/gsy-e-sub006/params"
	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

func TestIntakeAppliesDeletesThenOffersThenBids(t *testing.T) {
	q := NewIntake()
	q.Push(Action{Kind: ActionBid, OrderID: "b1"})
	q.Push(Action{Kind: ActionOffer, OrderID: "o1"})
	q.Push(Action{Kind: ActionAccept, OrderID: "a1"})
	q.Push(Action{Kind: ActionDeleteBid, OrderID: "d1"})
	q.Push(Action{Kind: ActionOffer, OrderID: "o2"})
	q.Push(Action{Kind: ActionDeleteOffer, OrderID: "d2"})
	require.Equal(t, 6, q.Len())

	var got []string
	for _, a := range q.Drain() {
		got = append(got, a.OrderID)
	}
	assert.Equal(t, []string{"d1", "d2", "o1", "o2", "b1", "a1"}, got)
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain())
}

func TestDefaultTree(t *testing.T) {
	tree := DefaultTree(2, 2, fees.None())

	assert.Equal(t, "grid", tree.Root())
	assert.Equal(t, []string{"grid", "nbhd_1", "nbhd_2", "house_1_1", "house_1_2", "house_2_1", "house_2_2"}, tree.Names())
	assert.Equal(t, []string{"house_1_1", "house_1_2", "house_2_1", "house_2_2"}, tree.Leaves())
	assert.Len(t, tree.Edges(), 6)
	assert.Equal(t, [2]string{"grid", "nbhd_1"}, tree.Edges()[0])
	assert.Equal(t, [2]string{"nbhd_1", "house_1_1"}, tree.Edges()[2])

	a, ok := tree.Area("house_2_1")
	require.True(t, ok)
	assert.Equal(t, "nbhd_2", a.Parent)

	require.Error(t, tree.Add("nowhere", "x", fees.None()))
	require.Error(t, tree.Add("grid", "nbhd_1", fees.None()))
}

func TestCoordinatorWithCustomTree(t *testing.T) {
	tree := NewTree("grid", fees.None())
	require.NoError(t, tree.Add("grid", "street", fees.None()))
	require.NoError(t, tree.Add("grid", "farm", fees.None()))
	require.NoError(t, tree.Add("street", "flat", fees.None()))
	assert.Equal(t, []string{"grid", "street", "farm", "flat"}, tree.Names())

	c, err := New(testConfig(nil), WithTree(tree))
	require.NoError(t, err)
	require.NoError(t, c.Start())
	assert.Same(t, tree, c.Tree())
	assert.Equal(t, 4, c.Registry().Count())

	var bridged [][2]string
	for _, a := range c.Agents() {
		bridged = append(bridged, [2]string{a.Higher(), a.Lower()})
	}
	assert.Equal(t, tree.Edges(), bridged)
	runTicks(t, c, 3)
}

type stubHandler struct {
	name  string
	areas []string
	kind  market.Kind
	seen  []market.EventType
	err   error
}

func (h *stubHandler) HandleEvent(ev market.Event) error {
	h.seen = append(h.seen, ev.Type)
	return h.err
}
func (h *stubHandler) Areas() []string   { return h.areas }
func (h *stubHandler) Kind() market.Kind { return h.kind }
func (h *stubHandler) Name() string      { return h.name }

func TestDispatcherRouting(t *testing.T) {
	d := NewDispatcher(nil)
	spot := &stubHandler{name: "spot", areas: []string{"grid", "house"}, kind: market.Spot}
	future := &stubHandler{name: "future", areas: []string{"grid", "house"}, kind: market.Future}
	other := &stubHandler{name: "other", areas: []string{"nbhd"}, kind: market.Spot}
	d.Register(spot)
	d.Register(future)
	d.Register(other)

	var observed int
	d.Observe(market.ListenerFunc(func(market.Event) { observed++ }))

	d.OnMarketEvent(market.Event{Type: market.EventOffer, Area: "house", Kind: market.Spot})
	d.OnMarketEvent(market.Event{Type: market.EventBid, Area: "grid", Kind: market.Future})

	assert.Equal(t, 2, observed)
	assert.Equal(t, []market.EventType{market.EventOffer}, spot.seen)
	assert.Equal(t, []market.EventType{market.EventBid}, future.seen)
	assert.Empty(t, other.seen)
	assert.NoError(t, d.Err())
}

func TestDispatcherCollectsErrors(t *testing.T) {
	d := NewDispatcher(nil)
	boom := errors.New("boom")
	d.Register(&stubHandler{name: "a", areas: []string{"x"}, err: boom})
	d.Register(&stubHandler{name: "b", areas: []string{"x"}, err: fees.ErrFeeChainBroken})

	d.OnMarketEvent(market.Event{Type: market.EventOffer, Area: "x"})

	err := d.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, fees.ErrFeeChainBroken)
	assert.NoError(t, d.Err(), "errors are cleared once read")
}

func testConfig(fn func(*params.Config)) params.Config {
	return params.Default().With(func(c *params.Config) {
		c.Simulation.Slots = 4
		c.Simulation.TicksPerSlot = 10
		if fn != nil {
			fn(c)
		}
	})
}

func runTicks(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, c.Tick(), "tick %d", i+1)
	}
}

func TestCoordinatorIsDeterministic(t *testing.T) {
	cfg := testConfig(func(c *params.Config) {
		c.Simulation.Seed = 42
		c.Market.GridFeeType = fees.PercentageType
		c.Market.GridFeeRate = 0.02
	})

	digest := func(cfg params.Config) (string, int) {
		c, err := New(cfg, WithLoadGenerator())
		require.NoError(t, err)
		require.NoError(t, c.Run(context.Background(), 0))
		return c.StateDigest().Hex(), len(c.Ledger())
	}

	first, trades := digest(cfg)
	second, again := digest(cfg)
	require.NotZero(t, trades)
	assert.Equal(t, trades, again)
	assert.Equal(t, first, second)

	other, _ := digest(cfg.With(func(c *params.Config) { c.Simulation.Seed = 7 }))
	assert.NotEqual(t, first, other)
}

func TestFeesAreConserved(t *testing.T) {
	for _, typ := range []market.Type{market.OneSided, market.TwoSided, market.PayAsClear} {
		t.Run(typ.String(), func(t *testing.T) {
			cfg := testConfig(func(c *params.Config) {
				c.Market.MarketType = typ
				c.Market.GridFeeType = fees.PercentageType
				c.Market.GridFeeRate = 0.05
				c.Simulation.Seed = 3
			})
			c, err := New(cfg, WithLoadGenerator())
			require.NoError(t, err)
			require.NoError(t, c.Run(context.Background(), 0))

			tot := c.Totals()
			paid, _ := tot.DevicesPaid.Float64()
			received, _ := tot.DevicesReceived.Float64()
			fee, _ := tot.Fees.Float64()
			assert.InDelta(t, fee, paid-received, 1e-6)
			assert.True(t, c.FeeRevenue().Equal(tot.Fees))
		})
	}
}

func TestSubmittedAcceptTradesInHouse(t *testing.T) {
	cfg := testConfig(func(c *params.Config) {
		c.Market.MarketType = market.OneSided
	})
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	pv := market.Trader{Name: "pv"}
	load := market.Trader{Name: "load"}
	c.Submit(Action{Kind: ActionAccept, Area: "house_1_1", Energy: 1, Price: 20, Trader: load})
	c.Submit(Action{Kind: ActionOffer, Area: "house_1_1", OrderID: "pv-1", Energy: 2, Price: 30, Trader: pv})
	runTicks(t, c, 1)

	ledger := c.Ledger()
	require.Len(t, ledger, 1)
	tr := ledger[0].Trade
	assert.Equal(t, "house_1_1", ledger[0].Area)
	assert.Equal(t, "pv", tr.Seller.Name)
	assert.Equal(t, "load", tr.Buyer.Name)
	assert.InDelta(t, 1.0, tr.Energy, 1e-9)
	assert.InDelta(t, 15.0, tr.Price, 1e-9)

	m, ok := c.Registry().Lookup("house_1_1", market.Spot, c.CurrentSlot())
	require.True(t, ok)
	offers := m.SortedOffers()
	require.Len(t, offers, 1)
	assert.InDelta(t, 1.0, offers[0].Energy, 1e-9)
}

func TestAcceptRespectsPriceLimit(t *testing.T) {
	c, err := New(testConfig(func(c *params.Config) { c.Market.MarketType = market.OneSided }))
	require.NoError(t, err)

	c.Submit(Action{Kind: ActionOffer, Area: "house_1_1", Energy: 1, Price: 30, Trader: market.Trader{Name: "pv"}})
	c.Submit(Action{Kind: ActionAccept, Area: "house_1_1", Energy: 1, Price: 20, Trader: market.Trader{Name: "load"}})
	runTicks(t, c, 1)

	assert.Empty(t, c.Ledger())
}

func TestMarketsRollAtSlotBoundary(t *testing.T) {
	cfg := testConfig(func(c *params.Config) {
		c.Simulation.FutureSlots = 2
		c.Simulation.SettlementSlots = 1
	})
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	reg := c.Registry()
	slot0 := cfg.Simulation.Start
	slot := func(i int) time.Time { return slot0.Add(time.Duration(i) * cfg.Simulation.SlotLength) }

	assert.True(t, reg.IsOpen("grid", market.Spot, slot0))
	assert.True(t, reg.IsOpen("grid", market.Future, slot(1)))
	assert.True(t, reg.IsOpen("grid", market.Future, slot(2)))
	assert.Equal(t, 7*3, reg.Count())

	runTicks(t, c, cfg.Simulation.TicksPerSlot)
	require.Equal(t, slot(1), c.CurrentSlot())

	for _, area := range c.Tree().Names() {
		assert.False(t, reg.IsOpen(area, market.Spot, slot0), area)
		assert.True(t, reg.IsOpen(area, market.Spot, slot(1)), area)
		assert.True(t, reg.IsOpen(area, market.Settlement, slot0), area)
		assert.False(t, reg.IsOpen(area, market.Future, slot(1)), area)
		assert.True(t, reg.IsOpen(area, market.Future, slot(3)), area)
	}

	runTicks(t, c, cfg.Simulation.TicksPerSlot)
	for _, area := range c.Tree().Names() {
		assert.False(t, reg.IsOpen(area, market.Settlement, slot0), area)
		assert.True(t, reg.IsOpen(area, market.Settlement, slot(1)), area)
		_, kept := reg.Lookup(area, market.Spot, slot0)
		assert.False(t, kept, "closed spot market of %s is purged", area)
	}
}

func TestPastMarketsArePurgedUnlessKept(t *testing.T) {
	for _, keep := range []bool{false, true} {
		cfg := testConfig(func(c *params.Config) { c.Simulation.KeepPastMarkets = keep })
		c, err := New(cfg)
		require.NoError(t, err)
		runTicks(t, c, 2*cfg.Simulation.TicksPerSlot)

		_, ok := c.Registry().Lookup("grid", market.Spot, cfg.Simulation.Start)
		assert.Equal(t, keep, ok)
	}
}

func TestReconfigure(t *testing.T) {
	c, err := New(testConfig(nil))
	require.NoError(t, err)

	require.Error(t, c.Reconfigure(func(cfg *params.Config) { cfg.Simulation.TicksPerSlot = 0 }))

	require.NoError(t, c.Reconfigure(func(cfg *params.Config) {
		cfg.Market.GridFeeType = fees.ConstantType
		cfg.Market.GridFeeRate = 1
	}))
	a, _ := c.Tree().Area("nbhd_1")
	assert.InDelta(t, 1.0, a.Fee.Rate(), 1e-12)
	assert.InDelta(t, 1.0, c.Config().Market.GridFeeRate, 1e-12)
}

func TestRunStopsOnCancel(t *testing.T) {
	c, err := New(testConfig(func(c *params.Config) { c.Simulation.Slots = 0 }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx, time.Millisecond), context.Canceled)
}

func TestLoadGeneratorIsSeeded(t *testing.T) {
	cfg := LoadGeneratorConfig{Seed: 9, Houses: []string{"h1", "h2"}, TwoSided: true, TicksPerSlot: 4}
	a, b := NewLoadGenerator(cfg), NewLoadGenerator(cfg)
	for tick := 0; tick < 8; tick++ {
		assert.Equal(t, a.Generate(tick%4), b.Generate(tick%4))
	}

	first := NewLoadGenerator(cfg).Generate(0)
	require.Len(t, first, 4)
	assert.Equal(t, ActionOffer, first[0].Kind)
	assert.Equal(t, ActionBid, first[1].Kind)
	assert.NotEmpty(t, first[0].OrderID)
}
