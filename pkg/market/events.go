package market

import "time"

// EventType tags the events markets and the coordinator hand to agents.
type EventType int8

const (
	EventTick EventType = iota
	EventMarketCycle
	EventActivate
	EventOffer
	EventOfferSplit // offer replaced by accepted part + residual
	EventOfferDeleted
	EventOfferTraded
	EventBid
	EventBidSplit
	EventBidDeleted
	EventBidTraded
)

var eventNames = [...]string{
	EventTick:         "tick",
	EventMarketCycle:  "market_cycle",
	EventActivate:     "activate",
	EventOffer:        "offer",
	EventOfferSplit:   "offer_split",
	EventOfferDeleted: "offer_deleted",
	EventOfferTraded:  "offer_traded",
	EventBid:          "bid",
	EventBidSplit:     "bid_split",
	EventBidDeleted:   "bid_deleted",
	EventBidTraded:    "bid_traded",
}

func (t EventType) String() string {
	if int(t) < len(eventNames) && t >= 0 {
		return eventNames[t]
	}
	return "unknown"
}

// Event is a tagged union: which fields are set depends on Type.
//
//	EventTick          Tick
//	EventMarketCycle   Tick, Slots (currently open slots)
//	EventOffer         Offer
//	EventOfferSplit    Offer (original), AcceptedOffer, ResidualOffer
//	EventOfferDeleted  Offer
//	EventOfferTraded   Trade
//	EventBid*          the bid counterparts
type Event struct {
	Type     EventType
	MarketID string
	Area     string
	Kind     Kind
	TimeSlot time.Time
	Tick     int
	Slots    []time.Time

	Offer         *Offer
	AcceptedOffer *Offer
	ResidualOffer *Offer

	Bid         *Bid
	AcceptedBid *Bid
	ResidualBid *Bid

	Trade *Trade
}

// Listener receives market events synchronously, after the market has
// released its lock.
type Listener interface {
	OnMarketEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnMarketEvent(ev Event) { f(ev) }
