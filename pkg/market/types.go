package market

import (
	"fmt"
	"time"

	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
)

// Kind distinguishes spot markets (one open slot per area) from markets
// that keep many slots open at once.
type Kind int8

const (
	Spot Kind = iota
	Future
	Settlement
)

func (k Kind) String() string {
	switch k {
	case Spot:
		return "spot"
	case Future:
		return "future"
	case Settlement:
		return "settlement"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "spot", "":
		return Spot, nil
	case "future":
		return Future, nil
	case "settlement":
		return Settlement, nil
	default:
		return 0, fmt.Errorf("unknown market kind %q", s)
	}
}

// Type selects which order-book operations a market supports.
type Type int8

const (
	OneSided Type = iota // offers only, accepted directly by buyers
	TwoSided             // offers and bids, cleared pay-as-bid
	PayAsClear           // offers and bids, cleared at a uniform rate per interval
)

func (t Type) String() string {
	switch t {
	case OneSided:
		return "one-sided"
	case TwoSided:
		return "two-sided"
	case PayAsClear:
		return "pay-as-clear"
	default:
		return "unknown"
	}
}

// HasBids reports whether the market type keeps a bid book.
func (t Type) HasBids() bool { return t == TwoSided || t == PayAsClear }

// ParseType accepts the configuration spellings of a market type.
func ParseType(s string) (Type, error) {
	switch s {
	case "one-sided", "one_sided", "1":
		return OneSided, nil
	case "two-sided", "two_sided", "pay-as-bid", "2":
		return TwoSided, nil
	case "pay-as-clear", "pay_as_clear", "3":
		return PayAsClear, nil
	default:
		return 0, fmt.Errorf("unknown market type %q", s)
	}
}

// Trader identifies who owns an order in a market. Name is the direct owner
// (a device, or the agent that placed a forwarded clone); Origin is the
// participant the order ultimately belongs to and survives forwarding.
type Trader struct {
	Name   string `json:"name"`
	Origin string `json:"origin,omitempty"`
}

// Identity is what the self-trade rule compares.
func (t Trader) Identity() string {
	if t.Origin != "" {
		return t.Origin
	}
	return t.Name
}

// Offer is a sell order. Offers are immutable once posted; partial
// acceptance replaces them with a residual.
type Offer struct {
	ID            string
	MarketID      string
	TimeSlot      time.Time
	Energy        float64 // kWh
	Price         float64 // total, this market's fee included
	OriginalPrice float64 // total, pre-fee, at the origin market
	Seller        Trader
	Tick          int // tick the offer was posted in

	seq uint64
}

func (o *Offer) Rate() float64         { return o.Price / o.Energy }
func (o *Offer) OriginalRate() float64 { return o.OriginalPrice / o.Energy }

func (o *Offer) String() string {
	return fmt.Sprintf("{%s} [%s]: %.4f kWh @ %.4f (%.4f/kWh)", o.ID, o.Seller.Name, o.Energy, o.Price, o.Rate())
}

// Bid is a buy order, symmetric to Offer.
type Bid struct {
	ID            string
	MarketID      string
	TimeSlot      time.Time
	Energy        float64
	Price         float64
	OriginalPrice float64
	Buyer         Trader
	Tick          int

	seq uint64
}

func (b *Bid) Rate() float64         { return b.Price / b.Energy }
func (b *Bid) OriginalRate() float64 { return b.OriginalPrice / b.Energy }

func (b *Bid) String() string {
	return fmt.Sprintf("{%s} [%s]: %.4f kWh @ %.4f (%.4f/kWh)", b.ID, b.Buyer.Name, b.Energy, b.Price, b.Rate())
}

// Trade records one acceptance. Offer and Bid are the consumed parts of the
// orders; either is nil for single-sided acceptances. The residuals are the
// orders that replaced the consumed ones, if any.
type Trade struct {
	ID       string
	MarketID string
	TimeSlot time.Time
	Seller   Trader
	Buyer    Trader
	Offer    *Offer
	Bid      *Bid
	Energy   float64
	Price    float64
	FeePrice float64 // revenue of this market
	Info     fees.TradeInfo
	Created  time.Time
	Tick     int

	OfferResidual *Offer
	BidResidual   *Bid
}

func (t *Trade) Rate() float64 { return t.Price / t.Energy }

// SellerRevenue is what the seller side keeps after this market's fee.
func (t *Trade) SellerRevenue() float64 { return t.Price - t.FeePrice }

func (t *Trade) String() string {
	return fmt.Sprintf("{%s} [%s -> %s] %.4f kWh @ %.4f (fee %.4f)", t.ID, t.Seller.Name, t.Buyer.Name, t.Energy, t.Price, t.FeePrice)
}

// Stats summarizes the trades of one market.
type Stats struct {
	TradeCount int
	Energy     float64
	Price      float64
	Fees       float64
	MinRate    float64
	MaxRate    float64
	AvgRate    float64
}
