// Package market holds the order book of one delivery time slot: offers,
// bids and the trades made against them, plus the registry that owns every
// market of a simulation.
package market

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
)

// energies closer than this are considered equal
const energyEpsilon = 1e-9

// Config describes a market at construction time.
type Config struct {
	ID       string // generated when empty
	Area     string
	Kind     Kind
	Type     Type
	TimeSlot time.Time
	Fee      fees.Calculator
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

// Market is the order book for one time slot. Every mutation goes through
// its methods; listeners are notified after the lock is released, in the
// order the events were produced.
type Market struct {
	mu sync.RWMutex

	id       string
	area     string
	kind     Kind
	typ      Type
	timeSlot time.Time
	fee      fees.Calculator
	log      *zap.SugaredLogger
	now      func() time.Time

	offers   map[string]*Offer
	bids     map[string]*Bid
	trades   []*Trade
	used     map[string]struct{}
	seq      uint64
	tick     int
	readOnly bool

	accEnergy decimal.Decimal
	accPrice  decimal.Decimal
	accFees   decimal.Decimal

	listenerMu sync.RWMutex
	listeners  []Listener
}

func New(cfg Config) *Market {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Fee == nil {
		cfg.Fee = fees.None()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Market{
		id:       cfg.ID,
		area:     cfg.Area,
		kind:     cfg.Kind,
		typ:      cfg.Type,
		timeSlot: cfg.TimeSlot,
		fee:      cfg.Fee,
		log:      cfg.Logger,
		now:      cfg.Now,
		offers:   make(map[string]*Offer),
		bids:     make(map[string]*Bid),
		used:     make(map[string]struct{}),
	}
}

func (m *Market) ID() string           { return m.id }
func (m *Market) Area() string         { return m.area }
func (m *Market) Kind() Kind           { return m.kind }
func (m *Market) Type() Type           { return m.typ }
func (m *Market) TimeSlot() time.Time  { return m.timeSlot }
func (m *Market) Fee() fees.Calculator { return m.fee }

func (m *Market) String() string {
	return fmt.Sprintf("%s/%s@%s", m.area, m.kind, m.timeSlot.Format(time.RFC3339))
}

// Subscribe registers l for every event this market produces.
func (m *Market) Subscribe(l Listener) {
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, l)
	m.listenerMu.Unlock()
}

// SetTick sets the tick stamped on orders posted without WithTick.
func (m *Market) SetTick(tick int) {
	m.mu.Lock()
	m.tick = tick
	m.mu.Unlock()
}

// Close makes the market read-only. It is idempotent.
func (m *Market) Close() {
	m.mu.Lock()
	m.readOnly = true
	m.mu.Unlock()
}

func (m *Market) ReadOnly() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readOnly
}

// OrderOption customizes PostOffer and PostBid.
type OrderOption func(*orderOptions)

type orderOptions struct {
	id            string
	originalPrice float64
	hasOriginal   bool
	tick          int
	hasTick       bool
}

// WithOriginalPrice sets the pre-fee price at the order's origin market.
// Forwarded clones carry their source's original price.
func WithOriginalPrice(price float64) OrderOption {
	return func(o *orderOptions) { o.originalPrice, o.hasOriginal = price, true }
}

// WithOrderID posts the order under a caller-chosen id. Ids already used in
// this market are rejected.
func WithOrderID(id string) OrderOption {
	return func(o *orderOptions) { o.id = id }
}

// WithTick stamps the order with the tick it was created in.
func WithTick(tick int) OrderOption {
	return func(o *orderOptions) { o.tick, o.hasTick = tick, true }
}

func validOrder(energy, price float64) bool {
	return energy > 0 && price >= 0 &&
		!math.IsNaN(energy) && !math.IsInf(energy, 0) &&
		!math.IsNaN(price) && !math.IsInf(price, 0)
}

// PostOffer adds a sell order. price is the seller's total price; the
// market adds its incoming fee to form the visible price.
func (m *Market) PostOffer(energy, price float64, seller Trader, opts ...OrderOption) (*Offer, error) {
	if !validOrder(energy, price) {
		return nil, fmt.Errorf("%w: energy %v price %v", ErrInvalidOffer, energy, price)
	}
	o := applyOptions(opts)

	m.mu.Lock()
	if m.readOnly {
		m.mu.Unlock()
		return nil, fmt.Errorf("post offer in %s: %w", m, ErrMarketReadOnly)
	}
	id, err := m.claimID(o.id)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	original := price
	if o.hasOriginal {
		original = o.originalPrice
	}
	tick := m.tick
	if o.hasTick {
		tick = o.tick
	}
	m.seq++
	offer := &Offer{
		ID:            id,
		MarketID:      m.id,
		TimeSlot:      m.timeSlot,
		Energy:        energy,
		Price:         m.fee.ApplyIncomingFee(price/energy) * energy,
		OriginalPrice: original,
		Seller:        seller,
		Tick:          tick,
		seq:           m.seq,
	}
	m.offers[id] = offer
	ev := m.event(EventOffer)
	ev.Offer = offer
	m.mu.Unlock()

	m.log.Debugw("offer_posted", "market", m.id, "offer", offer.String())
	m.notify(ev)
	return offer, nil
}

// PostBid adds a buy order at the given total price. Bids are never fee
// adjusted on post.
func (m *Market) PostBid(energy, price float64, buyer Trader, opts ...OrderOption) (*Bid, error) {
	if !m.typ.HasBids() {
		return nil, fmt.Errorf("post bid in %s market: %w", m.typ, ErrWrongMarketType)
	}
	if !validOrder(energy, price) {
		return nil, fmt.Errorf("%w: energy %v price %v", ErrInvalidBid, energy, price)
	}
	o := applyOptions(opts)

	m.mu.Lock()
	if m.readOnly {
		m.mu.Unlock()
		return nil, fmt.Errorf("post bid in %s: %w", m, ErrMarketReadOnly)
	}
	id, err := m.claimID(o.id)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvalidBid, err)
	}
	original := price
	if o.hasOriginal {
		original = o.originalPrice
	}
	tick := m.tick
	if o.hasTick {
		tick = o.tick
	}
	m.seq++
	bid := &Bid{
		ID:            id,
		MarketID:      m.id,
		TimeSlot:      m.timeSlot,
		Energy:        energy,
		Price:         price,
		OriginalPrice: original,
		Buyer:         buyer,
		Tick:          tick,
		seq:           m.seq,
	}
	m.bids[id] = bid
	ev := m.event(EventBid)
	ev.Bid = bid
	m.mu.Unlock()

	m.log.Debugw("bid_posted", "market", m.id, "bid", bid.String())
	m.notify(ev)
	return bid, nil
}

func (m *Market) DeleteOffer(id string) error {
	m.mu.Lock()
	if m.readOnly {
		m.mu.Unlock()
		return fmt.Errorf("delete offer in %s: %w", m, ErrMarketReadOnly)
	}
	offer, ok := m.offers[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("offer %s: %w", id, ErrOfferNotFound)
	}
	delete(m.offers, id)
	ev := m.event(EventOfferDeleted)
	ev.Offer = offer
	m.mu.Unlock()

	m.log.Debugw("offer_deleted", "market", m.id, "id", id)
	m.notify(ev)
	return nil
}

func (m *Market) DeleteBid(id string) error {
	m.mu.Lock()
	if m.readOnly {
		m.mu.Unlock()
		return fmt.Errorf("delete bid in %s: %w", m, ErrMarketReadOnly)
	}
	bid, ok := m.bids[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("bid %s: %w", id, ErrBidNotFound)
	}
	delete(m.bids, id)
	ev := m.event(EventBidDeleted)
	ev.Bid = bid
	m.mu.Unlock()

	m.log.Debugw("bid_deleted", "market", m.id, "id", id)
	m.notify(ev)
	return nil
}

// AcceptParams tunes a single-sided acceptance. Zero values mean: the whole
// order, at the order's own rate, with trade info derived from the order.
type AcceptParams struct {
	Energy float64 // 0 takes the whole order
	// TradeRate fixes the settlement rate; nil trades at the order's rate.
	TradeRate *float64
	Info      fees.TradeInfo
}

// TradeAt returns a TradeRate for AcceptParams.
func TradeAt(rate float64) *float64 { return &rate }

// AcceptOffer buys (part of) an offer. A partial acceptance replaces the
// offer by the accepted part, which keeps the offer's id and is consumed by
// the trade, and a residual with a fresh id at the same rate.
func (m *Market) AcceptOffer(id string, buyer Trader, p AcceptParams) (*Trade, error) {
	m.mu.Lock()
	if m.readOnly {
		m.mu.Unlock()
		return nil, fmt.Errorf("accept offer in %s: %w", m, ErrMarketReadOnly)
	}
	offer, ok := m.offers[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("offer %s: %w", id, ErrOfferNotFound)
	}
	energy := p.Energy
	if energy == 0 {
		energy = offer.Energy
	}
	rate := offer.Rate()
	if p.TradeRate != nil {
		rate = *p.TradeRate
	}
	if err := checkAccept(energy, offer.Energy, rate, offer.Rate(), false); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("accept offer %s: %w", id, err)
	}
	if buyer.Identity() == offer.Seller.Identity() {
		m.mu.Unlock()
		return nil, fmt.Errorf("accept offer %s: %w: buyer and seller are both %s", id, ErrInvalidTrade, buyer.Identity())
	}

	var events []Event
	accepted, residual := offer, (*Offer)(nil)
	if energy < offer.Energy-energyEpsilon {
		accepted, residual = m.splitOffer(offer, energy)
		ev := m.event(EventOfferSplit)
		ev.Offer, ev.AcceptedOffer, ev.ResidualOffer = offer, accepted, residual
		events = append(events, ev)
	}
	delete(m.offers, id)

	info := p.Info
	if info == (fees.TradeInfo{}) {
		info.OriginalOfferRate = offer.OriginalRate()
		info.PropagatedOfferRate = offer.Rate()
	}
	info.TradeRate = rate
	trade := m.recordTrade(offer.Seller, buyer, accepted, nil, accepted.Energy, info)
	trade.OfferResidual = residual

	ev := m.event(EventOfferTraded)
	ev.Trade = trade
	events = append(events, ev)
	m.mu.Unlock()

	m.log.Debugw("offer_accepted", "market", m.id, "trade", trade.String())
	m.notify(events...)
	return trade, nil
}

// AcceptBid sells into (part of) a bid. It mirrors AcceptOffer.
func (m *Market) AcceptBid(id string, seller Trader, p AcceptParams) (*Trade, error) {
	if !m.typ.HasBids() {
		return nil, fmt.Errorf("accept bid in %s market: %w", m.typ, ErrWrongMarketType)
	}
	m.mu.Lock()
	if m.readOnly {
		m.mu.Unlock()
		return nil, fmt.Errorf("accept bid in %s: %w", m, ErrMarketReadOnly)
	}
	bid, ok := m.bids[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("bid %s: %w", id, ErrBidNotFound)
	}
	energy := p.Energy
	if energy == 0 {
		energy = bid.Energy
	}
	rate := bid.Rate()
	if p.TradeRate != nil {
		rate = *p.TradeRate
	}
	if err := checkAccept(energy, bid.Energy, rate, bid.Rate(), true); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("accept bid %s: %w", id, err)
	}
	if seller.Identity() == bid.Buyer.Identity() {
		m.mu.Unlock()
		return nil, fmt.Errorf("accept bid %s: %w: buyer and seller are both %s", id, ErrInvalidTrade, seller.Identity())
	}

	var events []Event
	accepted, residual := bid, (*Bid)(nil)
	if energy < bid.Energy-energyEpsilon {
		accepted, residual = m.splitBid(bid, energy)
		ev := m.event(EventBidSplit)
		ev.Bid, ev.AcceptedBid, ev.ResidualBid = bid, accepted, residual
		events = append(events, ev)
	}
	delete(m.bids, id)

	info := p.Info
	if info == (fees.TradeInfo{}) {
		info.OriginalBidRate = bid.OriginalRate()
		info.PropagatedBidRate = bid.Rate()
	}
	info.TradeRate = rate
	trade := m.recordTrade(seller, bid.Buyer, nil, accepted, accepted.Energy, info)
	trade.BidResidual = residual

	ev := m.event(EventBidTraded)
	ev.Trade = trade
	events = append(events, ev)
	m.mu.Unlock()

	m.log.Debugw("bid_accepted", "market", m.id, "trade", trade.String())
	m.notify(events...)
	return trade, nil
}

// AcceptBidOfferPair executes one match recommendation. selectedEnergy of
// zero trades the smaller of the two orders in full. Any rate or identity
// inconsistency rejects the pair without touching the book.
func (m *Market) AcceptBidOfferPair(bidID, offerID string, clearingRate float64, info fees.TradeInfo, selectedEnergy float64) (*Trade, error) {
	if !m.typ.HasBids() {
		return nil, fmt.Errorf("accept pair in %s market: %w", m.typ, ErrWrongMarketType)
	}
	m.mu.Lock()
	if m.readOnly {
		m.mu.Unlock()
		return nil, fmt.Errorf("accept pair in %s: %w", m, ErrMarketReadOnly)
	}
	bid, okB := m.bids[bidID]
	offer, okO := m.offers[offerID]
	if !okB || !okO {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: bid %s present=%t, offer %s present=%t", ErrInvalidBidOfferPair, bidID, okB, offerID, okO)
	}
	if clearingRate > bid.Rate()+rateSlack(bid.Rate()) || clearingRate < offer.Rate()-rateSlack(offer.Rate()) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: clearing rate %.6f outside [offer %.6f, bid %.6f]", ErrInvalidBidOfferPair, clearingRate, offer.Rate(), bid.Rate())
	}
	if bid.Buyer.Identity() == offer.Seller.Identity() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: self trade by %s", ErrInvalidBidOfferPair, bid.Buyer.Identity())
	}
	maxEnergy := math.Min(bid.Energy, offer.Energy)
	energy := selectedEnergy
	if energy == 0 {
		energy = maxEnergy
	}
	if energy < 0 || energy > maxEnergy+energyEpsilon {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: energy %.6f exceeds %.6f", ErrInvalidBidOfferPair, energy, maxEnergy)
	}

	var events []Event
	acceptedOffer, offerResidual := offer, (*Offer)(nil)
	if energy < offer.Energy-energyEpsilon {
		acceptedOffer, offerResidual = m.splitOffer(offer, energy)
		ev := m.event(EventOfferSplit)
		ev.Offer, ev.AcceptedOffer, ev.ResidualOffer = offer, acceptedOffer, offerResidual
		events = append(events, ev)
	}
	acceptedBid, bidResidual := bid, (*Bid)(nil)
	if energy < bid.Energy-energyEpsilon {
		acceptedBid, bidResidual = m.splitBid(bid, energy)
		ev := m.event(EventBidSplit)
		ev.Bid, ev.AcceptedBid, ev.ResidualBid = bid, acceptedBid, bidResidual
		events = append(events, ev)
	}
	delete(m.offers, offerID)
	delete(m.bids, bidID)

	if info.OriginalOfferRate == 0 {
		info.OriginalOfferRate = offer.OriginalRate()
	}
	if info.PropagatedOfferRate == 0 {
		info.PropagatedOfferRate = offer.Rate()
	}
	if info.OriginalBidRate == 0 {
		info.OriginalBidRate = bid.OriginalRate()
	}
	if info.PropagatedBidRate == 0 {
		info.PropagatedBidRate = bid.Rate()
	}
	info.TradeRate = clearingRate
	trade := m.recordTrade(offer.Seller, bid.Buyer, acceptedOffer, acceptedBid, energy, info)
	trade.OfferResidual = offerResidual
	trade.BidResidual = bidResidual

	offerEv := m.event(EventOfferTraded)
	offerEv.Trade = trade
	bidEv := m.event(EventBidTraded)
	bidEv.Trade = trade
	events = append(events, offerEv, bidEv)
	m.mu.Unlock()

	m.log.Debugw("pair_accepted", "market", m.id, "trade", trade.String())
	m.notify(events...)
	return trade, nil
}

// rateSlack absorbs float noise accumulated through fee transforms.
func rateSlack(rate float64) float64 {
	return fees.Tolerance * math.Max(1, math.Abs(rate))
}

// checkAccept validates a single-sided acceptance. For offers the trade rate
// may not undercut the order; for bids it may not exceed it.
func checkAccept(energy, available, rate, orderRate float64, isBid bool) error {
	if energy <= 0 || energy > available+energyEpsilon {
		return fmt.Errorf("%w: energy %.6f not in (0, %.6f]", ErrInvalidTrade, energy, available)
	}
	if rate < 0 {
		return fmt.Errorf("%w: negative trade rate %.6f", ErrInvalidTrade, rate)
	}
	if !isBid && rate < orderRate-rateSlack(orderRate) {
		return fmt.Errorf("%w: trade rate %.6f below offer rate %.6f", ErrInvalidTrade, rate, orderRate)
	}
	if isBid && rate > orderRate+rateSlack(orderRate) {
		return fmt.Errorf("%w: trade rate %.6f above bid rate %.6f", ErrInvalidTrade, rate, orderRate)
	}
	return nil
}

// splitOffer must be called with mu held. The residual takes the original's
// place in the book, so it inherits the insertion sequence and tick.
func (m *Market) splitOffer(o *Offer, energy float64) (accepted, residual *Offer) {
	a := *o
	a.Energy = energy
	a.Price = o.Price / o.Energy * energy
	a.OriginalPrice = o.OriginalPrice / o.Energy * energy

	r := *o
	r.ID = m.freshID()
	r.Energy = o.Energy - energy
	r.Price = o.Price / o.Energy * r.Energy
	r.OriginalPrice = o.OriginalPrice / o.Energy * r.Energy
	m.offers[r.ID] = &r
	return &a, &r
}

func (m *Market) splitBid(b *Bid, energy float64) (accepted, residual *Bid) {
	a := *b
	a.Energy = energy
	a.Price = b.Price / b.Energy * energy
	a.OriginalPrice = b.OriginalPrice / b.Energy * energy

	r := *b
	r.ID = m.freshID()
	r.Energy = b.Energy - energy
	r.Price = b.Price / b.Energy * r.Energy
	r.OriginalPrice = b.OriginalPrice / b.Energy * r.Energy
	m.bids[r.ID] = &r
	return &a, &r
}

// recordTrade must be called with mu held.
func (m *Market) recordTrade(seller, buyer Trader, offer *Offer, bid *Bid, energy float64, info fees.TradeInfo) *Trade {
	price, fee := m.fee.TradePriceAndFees(info, energy)
	trade := &Trade{
		ID:       m.freshID(),
		MarketID: m.id,
		TimeSlot: m.timeSlot,
		Seller:   seller,
		Buyer:    buyer,
		Offer:    offer,
		Bid:      bid,
		Energy:   energy,
		Price:    price,
		FeePrice: fee,
		Info:     info,
		Created:  m.now(),
		Tick:     m.tick,
	}
	m.trades = append(m.trades, trade)
	m.accEnergy = m.accEnergy.Add(decimal.NewFromFloat(energy))
	m.accPrice = m.accPrice.Add(decimal.NewFromFloat(price))
	m.accFees = m.accFees.Add(decimal.NewFromFloat(fee))
	return trade
}

func (m *Market) claimID(id string) (string, error) {
	if id == "" {
		return m.freshID(), nil
	}
	if _, dup := m.used[id]; dup {
		return "", fmt.Errorf("order id %s already used in market %s", id, m.id)
	}
	m.used[id] = struct{}{}
	return id, nil
}

func (m *Market) freshID() string {
	for {
		id := uuid.NewString()
		if _, dup := m.used[id]; !dup {
			m.used[id] = struct{}{}
			return id
		}
	}
}

func (m *Market) event(t EventType) Event {
	return Event{Type: t, MarketID: m.id, Area: m.area, Kind: m.kind, TimeSlot: m.timeSlot, Tick: m.tick}
}

func (m *Market) notify(events ...Event) {
	m.listenerMu.RLock()
	ls := make([]Listener, len(m.listeners))
	copy(ls, m.listeners)
	m.listenerMu.RUnlock()

	for _, ev := range events {
		for _, l := range ls {
			l.OnMarketEvent(ev)
		}
	}
}

func applyOptions(opts []OrderOption) orderOptions {
	var o orderOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Offer returns the live offer with the given id.
func (m *Market) Offer(id string) (*Offer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	return o, ok
}

func (m *Market) Bid(id string) (*Bid, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bids[id]
	return b, ok
}

// SortedOffers lists live offers cheapest first; equal rates keep
// insertion order.
func (m *Market) SortedOffers() []*Offer {
	m.mu.RLock()
	out := make([]*Offer, 0, len(m.offers))
	for _, o := range m.offers {
		out = append(out, o)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Rate(), out[j].Rate()
		if ri != rj {
			return ri < rj
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// SortedBids lists live bids highest rate first; equal rates keep
// insertion order.
func (m *Market) SortedBids() []*Bid {
	m.mu.RLock()
	out := make([]*Bid, 0, len(m.bids))
	for _, b := range m.bids {
		out = append(out, b)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Rate(), out[j].Rate()
		if ri != rj {
			return ri > rj
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Trades returns a copy of the trade list in creation order.
func (m *Market) Trades() []*Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

func (m *Market) AccumulatedTradeEnergy() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accEnergy
}

func (m *Market) AccumulatedTradePrice() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accPrice
}

// AccumulatedFees is the grid-fee revenue this market collected.
func (m *Market) AccumulatedFees() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accFees
}

func (m *Market) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{TradeCount: len(m.trades)}
	if len(m.trades) == 0 {
		return s
	}
	s.Energy, _ = m.accEnergy.Float64()
	s.Price, _ = m.accPrice.Float64()
	s.Fees, _ = m.accFees.Float64()
	s.MinRate = math.Inf(1)
	s.MaxRate = math.Inf(-1)
	for _, t := range m.trades {
		r := t.Rate()
		s.MinRate = math.Min(s.MinRate, r)
		s.MaxRate = math.Max(s.MaxRate, r)
	}
	if s.Energy > 0 {
		s.AvgRate = s.Price / s.Energy
	}
	return s
}
