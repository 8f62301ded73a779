// Package agent links two adjacent markets of the hierarchy. An Agent owns
// one forwarding engine per direction and order side; engines clone orders
// across the boundary, mirror trades of their clones back onto the source
// order, and cascade deletions and residuals.
package agent

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// Config describes the boundary an agent bridges.
type Config struct {
	// Name is the trader name stamped on clones. Defaults to "IAA <lower>".
	Name        string
	Higher      string // parent area
	Lower       string // child area
	Registry    *market.Registry
	MinOfferAge int
	MinBidAge   int
	Logger      *zap.SugaredLogger
}

// Agent is a pair of engines per order side working between Higher and
// Lower for one market kind.
type Agent struct {
	name   string
	higher string
	lower  string
	kind   market.Kind
	log    *zap.SugaredLogger

	OfferUp   *OfferEngine // lower -> higher
	OfferDown *OfferEngine // higher -> lower
	BidUp     *BidEngine   // nil on one-sided agents
	BidDown   *BidEngine

	handlers map[market.EventType]func(market.Event) error
}

// NewOneSidedAgent forwards offers only, on spot markets.
func NewOneSidedAgent(cfg Config) (*Agent, error) {
	return newAgent(cfg, market.Spot, false)
}

// NewTwoSidedAgent forwards offers and bids on spot markets.
func NewTwoSidedAgent(cfg Config) (*Agent, error) {
	return newAgent(cfg, market.Spot, true)
}

// NewFutureAgent works on future markets, which keep many slots open at
// once. Records are bucketed per slot like on every agent; only the market
// kind differs.
func NewFutureAgent(cfg Config) (*Agent, error) {
	return newAgent(cfg, market.Future, true)
}

// NewSettlementAgent works on settlement markets of past slots.
func NewSettlementAgent(cfg Config) (*Agent, error) {
	return newAgent(cfg, market.Settlement, true)
}

func newAgent(cfg Config, kind market.Kind, twoSided bool) (*Agent, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent %s/%s: nil registry", cfg.Higher, cfg.Lower)
	}
	if cfg.Higher == "" || cfg.Lower == "" || cfg.Higher == cfg.Lower {
		return nil, fmt.Errorf("agent needs two distinct areas, got %q and %q", cfg.Higher, cfg.Lower)
	}
	if cfg.MinOfferAge < 0 || cfg.MinBidAge < 0 {
		return nil, fmt.Errorf("agent %s: negative minimum age", cfg.Lower)
	}
	if cfg.Name == "" {
		cfg.Name = "IAA " + cfg.Lower
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	log := cfg.Logger.With("agent", cfg.Name, "kind", kind.String())

	a := &Agent{
		name:   cfg.Name,
		higher: cfg.Higher,
		lower:  cfg.Lower,
		kind:   kind,
		log:    log,
	}
	up := newEngine(cfg.Name, cfg.Lower, cfg.Higher, kind, cfg.MinOfferAge, cfg.Registry, log, "offers")
	down := newEngine(cfg.Name, cfg.Higher, cfg.Lower, kind, cfg.MinOfferAge, cfg.Registry, log, "offers")
	up.opposite, down.opposite = down, up
	a.OfferUp, a.OfferDown = &OfferEngine{up}, &OfferEngine{down}

	if twoSided {
		bup := newEngine(cfg.Name, cfg.Lower, cfg.Higher, kind, cfg.MinBidAge, cfg.Registry, log, "bids")
		bdown := newEngine(cfg.Name, cfg.Higher, cfg.Lower, kind, cfg.MinBidAge, cfg.Registry, log, "bids")
		bup.opposite, bdown.opposite = bdown, bup
		a.BidUp, a.BidDown = &BidEngine{bup}, &BidEngine{bdown}
	}
	a.handlers = a.handlerTable()
	return a, nil
}

func (a *Agent) Name() string      { return a.name }
func (a *Agent) Higher() string    { return a.higher }
func (a *Agent) Lower() string     { return a.lower }
func (a *Agent) Kind() market.Kind { return a.kind }
func (a *Agent) TwoSided() bool    { return a.BidUp != nil }

// Areas are the two areas whose market events the agent needs.
func (a *Agent) Areas() []string { return []string{a.higher, a.lower} }

func (a *Agent) offerEngines() []*OfferEngine { return []*OfferEngine{a.OfferUp, a.OfferDown} }

func (a *Agent) bidEngines() []*BidEngine {
	if a.BidUp == nil {
		return nil
	}
	return []*BidEngine{a.BidUp, a.BidDown}
}

func (a *Agent) handlerTable() map[market.EventType]func(market.Event) error {
	forOffers := func(fn func(*OfferEngine, market.Event) error) func(market.Event) error {
		return func(ev market.Event) error {
			var errs []error
			for _, e := range a.offerEngines() {
				if !e.relevant(ev) {
					continue
				}
				errs = append(errs, fn(e, ev))
			}
			return errors.Join(errs...)
		}
	}
	forBids := func(fn func(*BidEngine, market.Event) error) func(market.Event) error {
		return func(ev market.Event) error {
			var errs []error
			for _, e := range a.bidEngines() {
				if !e.relevant(ev) {
					continue
				}
				errs = append(errs, fn(e, ev))
			}
			return errors.Join(errs...)
		}
	}

	return map[market.EventType]func(market.Event) error{
		market.EventTick:         a.onTick,
		market.EventMarketCycle:  a.onMarketCycle,
		market.EventActivate:     a.onActivate,
		market.EventOfferTraded:  forOffers((*OfferEngine).onOfferTraded),
		market.EventOfferSplit:   forOffers((*OfferEngine).onOfferSplit),
		market.EventOfferDeleted: forOffers((*OfferEngine).onOfferDeleted),
		market.EventBidTraded:    forBids((*BidEngine).onBidTraded),
		market.EventBidSplit:     forBids((*BidEngine).onBidSplit),
		market.EventBidDeleted:   forBids((*BidEngine).onBidDeleted),
	}
}

// HandleEvent routes one event to the engines. EventOffer and EventBid
// need no reaction: new orders are picked up on the next tick.
func (a *Agent) HandleEvent(ev market.Event) error {
	h, ok := a.handlers[ev.Type]
	if !ok {
		return nil
	}
	return h(ev)
}

func (a *Agent) onTick(ev market.Event) error {
	for _, e := range a.offerEngines() {
		if err := e.onTick(ev.Tick); err != nil {
			return err
		}
	}
	for _, e := range a.bidEngines() {
		if err := e.onTick(ev.Tick); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) onMarketCycle(market.Event) error {
	for _, e := range a.offerEngines() {
		e.purge()
	}
	for _, e := range a.bidEngines() {
		e.purge()
	}
	return nil
}

func (a *Agent) onActivate(market.Event) error {
	a.log.Infow("agent_activated", "higher", a.higher, "lower", a.lower, "two_sided", a.TwoSided())
	return nil
}
