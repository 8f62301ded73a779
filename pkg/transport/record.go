package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// Record kinds on the wire.
const (
	KindOffer        = "offer"
	KindBid          = "bid"
	KindTrade        = "trade"
	KindOfferDeleted = "offer_deleted"
	KindBidDeleted   = "bid_deleted"
)

// Record is the flat wire form of an order or trade.
type Record struct {
	Kind          string    `json:"kind"`
	ID            string    `json:"id"`
	Energy        float64   `json:"energy"`
	Price         float64   `json:"price"`
	Seller        string    `json:"seller,omitempty"`
	Buyer         string    `json:"buyer,omitempty"`
	OriginalPrice float64   `json:"original_price"`
	TimeSlot      time.Time `json:"time_slot"`
	MarketID      string    `json:"market_id"`
	// FeePrice is set on trades only.
	FeePrice float64 `json:"fee_price,omitempty"`
}

func OfferRecord(o *market.Offer) Record {
	return Record{
		Kind:          KindOffer,
		ID:            o.ID,
		Energy:        o.Energy,
		Price:         o.Price,
		Seller:        o.Seller.Identity(),
		OriginalPrice: o.OriginalPrice,
		TimeSlot:      o.TimeSlot,
		MarketID:      o.MarketID,
	}
}

func BidRecord(b *market.Bid) Record {
	return Record{
		Kind:          KindBid,
		ID:            b.ID,
		Energy:        b.Energy,
		Price:         b.Price,
		Buyer:         b.Buyer.Identity(),
		OriginalPrice: b.OriginalPrice,
		TimeSlot:      b.TimeSlot,
		MarketID:      b.MarketID,
	}
}

func TradeRecord(t *market.Trade) Record {
	r := Record{
		Kind:     KindTrade,
		ID:       t.ID,
		Energy:   t.Energy,
		Price:    t.Price,
		Seller:   t.Seller.Identity(),
		Buyer:    t.Buyer.Identity(),
		TimeSlot: t.TimeSlot,
		MarketID: t.MarketID,
		FeePrice: t.FeePrice,
	}
	switch {
	case t.Offer != nil:
		r.OriginalPrice = t.Offer.OriginalPrice
	case t.Bid != nil:
		r.OriginalPrice = t.Bid.OriginalPrice
	}
	return r
}

// FromEvent converts the events worth publishing. Splits, ticks and cycles
// have no wire form. A pair trade yields a record only on its offer side.
func FromEvent(ev market.Event) (Record, bool) {
	switch ev.Type {
	case market.EventOffer:
		return OfferRecord(ev.Offer), true
	case market.EventBid:
		return BidRecord(ev.Bid), true
	case market.EventOfferDeleted:
		r := OfferRecord(ev.Offer)
		r.Kind = KindOfferDeleted
		return r, true
	case market.EventBidDeleted:
		r := BidRecord(ev.Bid)
		r.Kind = KindBidDeleted
		return r, true
	case market.EventOfferTraded:
		return TradeRecord(ev.Trade), true
	case market.EventBidTraded:
		if ev.Trade.Offer != nil {
			return Record{}, false
		}
		return TradeRecord(ev.Trade), true
	}
	return Record{}, false
}

func (r Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if r.Kind == "" || r.ID == "" {
		return Record{}, fmt.Errorf("decode record: missing kind or id")
	}
	return r, nil
}
