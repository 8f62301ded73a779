// Package sim drives a market hierarchy: it owns the area tree and the
// market registry, opens and closes markets at slot boundaries, applies
// device actions, ticks the agents in a seeded order and runs clearing.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/params"
	"github.com/gridsingularity/gsy-e-sub006/pkg/agent"
	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
	"github.com/gridsingularity/gsy-e-sub006/pkg/matching"
	"github.com/gridsingularity/gsy-e-sub006/pkg/util"
)

// Coordinator runs on a single goroutine; only the read accessors may be
// called concurrently.
type Coordinator struct {
	cfg params.Config
	log *zap.SugaredLogger

	tree       *Tree
	registry   *market.Registry
	dispatcher *Dispatcher
	agents     []*agent.Agent
	clock      *util.SlotClock
	rng        *rand.Rand
	intake     *Intake
	gen        *LoadGenerator

	started bool

	mu     sync.RWMutex
	ledger []LedgerEntry
}

type Option func(*Coordinator)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithTree replaces the default grid/neighborhood/house tree.
func WithTree(t *Tree) Option {
	return func(c *Coordinator) { c.tree = t }
}

// WithLoadGenerator lets seeded PV and load devices trade in every leaf.
func WithLoadGenerator() Option {
	return func(c *Coordinator) {
		c.gen = NewLoadGenerator(LoadGeneratorConfig{
			Seed:         c.cfg.Simulation.Seed,
			Houses:       c.tree.Leaves(),
			TwoSided:     c.cfg.Market.MarketType.HasBids(),
			TicksPerSlot: c.cfg.Simulation.TicksPerSlot,
		})
	}
}

// WithObserver adds a listener that sees every market event.
func WithObserver(l market.Listener) Option {
	return func(c *Coordinator) { c.dispatcher.Observe(l) }
}

func New(cfg params.Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fee, err := fees.New(cfg.Market.GridFeeType, cfg.Market.GridFeeRate)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:      cfg,
		registry: market.NewRegistry(),
		clock:    util.NewSlotClock(cfg.Simulation.Start, cfg.Simulation.SlotLength, cfg.Simulation.TicksPerSlot),
		rng:      rand.New(rand.NewSource(cfg.Simulation.Seed)),
		intake:   NewIntake(),
		tree:     DefaultTree(cfg.Simulation.Neighborhoods, cfg.Simulation.HousesPerNeighborhood, fee),
	}
	c.dispatcher = NewDispatcher(nil)
	c.dispatcher.Observe(market.ListenerFunc(c.record))

	// the logger and tree options must land before the ones depending on them
	for _, opt := range opts {
		opt(c)
	}
	c.log = util.OrNop(c.log)
	c.dispatcher.log = c.log

	if err := c.buildAgents(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) buildAgents() error {
	m := c.cfg.Market
	for _, e := range c.tree.Edges() {
		ac := agent.Config{
			Higher:      e[0],
			Lower:       e[1],
			Registry:    c.registry,
			MinOfferAge: m.MinOfferAge,
			MinBidAge:   m.MinBidAge,
			Logger:      c.log,
		}
		builders := []func(agent.Config) (*agent.Agent, error){agent.NewTwoSidedAgent}
		if m.MarketType == market.OneSided {
			builders[0] = agent.NewOneSidedAgent
		}
		if c.cfg.Simulation.FutureSlots > 0 {
			builders = append(builders, agent.NewFutureAgent)
		}
		if c.cfg.Simulation.SettlementSlots > 0 {
			builders = append(builders, agent.NewSettlementAgent)
		}
		for _, build := range builders {
			a, err := build(ac)
			if err != nil {
				return err
			}
			c.agents = append(c.agents, a)
			c.dispatcher.Register(a)
		}
	}
	return nil
}

func (c *Coordinator) Registry() *market.Registry { return c.registry }
func (c *Coordinator) Tree() *Tree                { return c.tree }
func (c *Coordinator) Agents() []*agent.Agent     { return c.agents }
func (c *Coordinator) Config() params.Config      { return c.cfg }
func (c *Coordinator) CurrentTick() int           { return c.clock.Tick() }
func (c *Coordinator) CurrentSlot() time.Time     { return c.clock.CurrentSlot() }

// Observe adds a listener for every market event. Call it before the
// first tick.
func (c *Coordinator) Observe(l market.Listener) { c.dispatcher.Observe(l) }

// Submit queues a device action for the next tick.
func (c *Coordinator) Submit(a Action) { c.intake.Push(a) }

// Reconfigure swaps in a modified configuration. Fee changes apply to
// markets opened from the next slot on; open markets keep their fee.
func (c *Coordinator) Reconfigure(fn func(*params.Config)) error {
	next := c.cfg.With(fn)
	if err := next.Validate(); err != nil {
		return err
	}
	if next.Market.GridFeeType != c.cfg.Market.GridFeeType || next.Market.GridFeeRate != c.cfg.Market.GridFeeRate {
		fee, err := fees.New(next.Market.GridFeeType, next.Market.GridFeeRate)
		if err != nil {
			return err
		}
		for _, name := range c.tree.Names() {
			a, _ := c.tree.Area(name)
			a.Fee = fee
		}
	}
	c.cfg = next
	c.log.Infow("config_updated", "grid_fee_type", next.Market.GridFeeType.String(), "grid_fee_rate", next.Market.GridFeeRate)
	return nil
}

// Start opens the first slot's markets and activates the agents.
func (c *Coordinator) Start() error {
	if c.started {
		return nil
	}
	c.started = true
	slot := c.clock.CurrentSlot()
	for _, area := range c.tree.Names() {
		if err := c.openMarket(area, market.Spot, slot); err != nil {
			return err
		}
		for i := 1; i <= c.cfg.Simulation.FutureSlots; i++ {
			if err := c.openMarket(area, market.Future, c.slotAt(slot, i)); err != nil {
				return err
			}
		}
	}
	for _, a := range c.agents {
		if err := a.HandleEvent(market.Event{Type: market.EventActivate, Kind: a.Kind()}); err != nil {
			return err
		}
	}
	c.log.Infow("simulation_started", "slot", slot, "areas", len(c.tree.Names()), "agents", len(c.agents), "seed", c.cfg.Simulation.Seed)
	return nil
}

func (c *Coordinator) slotAt(base time.Time, offset int) time.Time {
	return base.Add(time.Duration(offset) * c.cfg.Simulation.SlotLength)
}

func (c *Coordinator) openMarket(area string, kind market.Kind, slot time.Time) error {
	if _, exists := c.registry.Lookup(area, kind, slot); exists {
		return nil
	}
	a, ok := c.tree.Area(area)
	if !ok {
		return fmt.Errorf("area %s not found", area)
	}
	typ := c.cfg.Market.MarketType
	if kind != market.Spot && typ == market.OneSided {
		typ = market.TwoSided
	}
	m := market.New(market.Config{
		Area:     area,
		Kind:     kind,
		Type:     typ,
		TimeSlot: slot,
		Fee:      a.Fee,
		Logger:   c.log,
		Now:      c.clock.Now,
	})
	m.SetTick(c.clock.Tick())
	m.Subscribe(c.dispatcher)
	return c.registry.Register(m)
}

// Tick advances the simulation by one tick. A returned error is fatal:
// it means the forwarding protocol broke an invariant.
func (c *Coordinator) Tick() error {
	if err := c.Start(); err != nil {
		return err
	}
	tick, newSlot := c.clock.Advance()
	if newSlot {
		if err := c.cycle(); err != nil {
			return err
		}
	}
	for _, m := range c.registry.Markets() {
		if !m.ReadOnly() {
			m.SetTick(tick)
		}
	}

	if c.gen != nil {
		for _, a := range c.gen.Generate(c.clock.TickInSlot()) {
			c.intake.Push(a)
		}
	}
	for _, a := range c.intake.Drain() {
		c.apply(a)
	}
	if err := c.dispatcher.Err(); err != nil {
		return err
	}

	for _, i := range c.rng.Perm(len(c.agents)) {
		a := c.agents[i]
		if err := a.HandleEvent(market.Event{Type: market.EventTick, Tick: tick, Kind: a.Kind()}); err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
	}
	if err := c.dispatcher.Err(); err != nil {
		return fmt.Errorf("tick %d: %w", tick, err)
	}

	if err := c.clear(tick); err != nil {
		return err
	}
	if err := c.dispatcher.Err(); err != nil {
		return fmt.Errorf("tick %d: %w", tick, err)
	}
	return nil
}

func (c *Coordinator) clear(tick int) error {
	for _, m := range c.registry.Markets() {
		if m.ReadOnly() || !m.Type().HasBids() {
			continue
		}
		if m.Type() == market.PayAsClear && tick%c.cfg.Market.ClearingInterval != 0 {
			continue
		}
		algo, err := matching.New(m.Type())
		if err != nil {
			return err
		}
		if _, err := matching.Clear(m, algo, c.log); err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
	}
	return nil
}

// cycle rolls every area over to the slot the clock just entered.
func (c *Coordinator) cycle() error {
	slot := c.clock.CurrentSlot()
	prev := c.slotAt(slot, -1)
	sim := c.cfg.Simulation

	for _, area := range c.tree.Names() {
		_ = c.registry.Close(area, market.Spot, prev)
		if err := c.openMarket(area, market.Spot, slot); err != nil {
			return err
		}
		if sim.FutureSlots > 0 {
			_ = c.registry.Close(area, market.Future, slot)
			if err := c.openMarket(area, market.Future, c.slotAt(slot, sim.FutureSlots)); err != nil {
				return err
			}
		}
		if sim.SettlementSlots > 0 {
			if err := c.openMarket(area, market.Settlement, prev); err != nil {
				return err
			}
			_ = c.registry.Close(area, market.Settlement, c.slotAt(prev, -sim.SettlementSlots))
		}
	}

	open := c.registry.OpenSlots(c.tree.Root(), market.Spot)
	for _, a := range c.agents {
		if err := a.HandleEvent(market.Event{Type: market.EventMarketCycle, Tick: c.clock.Tick(), Kind: a.Kind(), Slots: open}); err != nil {
			return err
		}
	}

	purged := 0
	if !sim.KeepPastMarkets {
		purged = c.registry.Purge(c.slotAt(slot, -sim.SettlementSlots))
	}
	c.log.Infow("market_cycle", "slot", slot, "markets", c.registry.Count(), "purged", purged)
	return nil
}

func (c *Coordinator) apply(a Action) {
	slot := a.Slot
	if slot.IsZero() {
		slot = c.clock.CurrentSlot()
	}
	m, ok := c.registry.Lookup(a.Area, a.MarketKind, slot)
	if !ok {
		c.log.Warnw("action_dropped", "action", a.Kind.String(), "area", a.Area, "reason", "no market")
		return
	}

	var err error
	switch a.Kind {
	case ActionOffer:
		var opts []market.OrderOption
		if a.OrderID != "" {
			opts = append(opts, market.WithOrderID(a.OrderID))
		}
		_, err = m.PostOffer(a.Energy, a.Price, a.Trader, opts...)
	case ActionBid:
		var opts []market.OrderOption
		if a.OrderID != "" {
			opts = append(opts, market.WithOrderID(a.OrderID))
		}
		_, err = m.PostBid(a.Energy, a.Price, a.Trader, opts...)
	case ActionDeleteOffer:
		err = m.DeleteOffer(a.OrderID)
	case ActionDeleteBid:
		err = m.DeleteBid(a.OrderID)
	case ActionAccept:
		err = c.acceptCheapest(m, a)
	}
	switch {
	case err == nil:
	case market.IsRecoverable(err), errors.Is(err, market.ErrMarketReadOnly):
		c.log.Debugw("action_skipped", "action", a.Kind.String(), "area", a.Area, "err", err)
	default:
		c.log.Warnw("action_rejected", "action", a.Kind.String(), "area", a.Area, "trader", a.Trader.Name, "err", err)
	}
}

// acceptCheapest buys up to a.Energy from the cheapest offers priced at or
// below the action's rate.
func (c *Coordinator) acceptCheapest(m *market.Market, a Action) error {
	if a.Energy <= 0 {
		return fmt.Errorf("%w: energy %v", market.ErrInvalidTrade, a.Energy)
	}
	limit := a.Price / a.Energy
	remaining := a.Energy
	for _, o := range m.SortedOffers() {
		if remaining <= 1e-9 || o.Rate() > limit {
			break
		}
		if o.Seller.Identity() == a.Trader.Identity() {
			continue
		}
		energy := math.Min(remaining, o.Energy)
		if _, err := m.AcceptOffer(o.ID, a.Trader, market.AcceptParams{Energy: energy}); err != nil {
			if market.IsRecoverable(err) {
				continue
			}
			return err
		}
		remaining -= energy
	}
	return nil
}

// Run ticks until the configured number of slots has passed or ctx is
// done. interval paces the ticks in wall-clock time; zero runs flat out.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	total := c.cfg.Simulation.Slots * c.cfg.Simulation.TicksPerSlot
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}
	for i := 0; total == 0 || i < total; i++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Tick(); err != nil {
			return err
		}
	}
	return nil
}
