package api

import (
	"time"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
	"github.com/gridsingularity/gsy-e-sub006/pkg/storage"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// MarketInfo describes one market and its accumulated trading.
type MarketInfo struct {
	ID       string    `json:"id"`
	Area     string    `json:"area"`
	Kind     string    `json:"kind"`      // "spot", "future", "settlement"
	Type     string    `json:"type"`      // "one-sided", "two-sided", "pay-as-clear"
	TimeSlot time.Time `json:"timeSlot"`
	ReadOnly bool      `json:"readOnly"`
	FeeType  string    `json:"feeType"`
	FeeRate  float64   `json:"feeRate"`
	Stats    StatsInfo `json:"stats"`
}

type StatsInfo struct {
	Trades  int     `json:"trades"`
	Energy  float64 `json:"energy"`
	Price   float64 `json:"price"`
	Fees    float64 `json:"fees"`
	MinRate float64 `json:"minRate"`
	MaxRate float64 `json:"maxRate"`
	AvgRate float64 `json:"avgRate"`
}

// OrderInfo is an open offer or bid.
type OrderInfo struct {
	ID            string  `json:"id"`
	Trader        string  `json:"trader"`
	Origin        string  `json:"origin,omitempty"`
	Energy        float64 `json:"energy"`
	Price         float64 `json:"price"`
	Rate          float64 `json:"rate"`
	OriginalPrice float64 `json:"originalPrice"`
}

// OrderbookSnapshot is the current book of one market.
type OrderbookSnapshot struct {
	MarketID  string      `json:"marketId"`
	Offers    []OrderInfo `json:"offers"` // Sorted low to high
	Bids      []OrderInfo `json:"bids"`   // Sorted high to low
	Timestamp int64       `json:"timestamp"`
}

// TradeInfo is one executed trade.
type TradeInfo struct {
	ID       string    `json:"id"`
	MarketID string    `json:"marketId"`
	Area     string    `json:"area"`
	TimeSlot time.Time `json:"timeSlot"`
	Seller   string    `json:"seller"`
	Buyer    string    `json:"buyer"`
	Energy   float64   `json:"energy"`
	Price    float64   `json:"price"`
	FeePrice float64   `json:"feePrice"`
	Rate     float64   `json:"rate"`
	Tick     int       `json:"tick"`
}

// AreaInfo is one node of the area tree.
type AreaInfo struct {
	Name     string   `json:"name"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`
}

// SimStatus summarizes the running simulation.
type SimStatus struct {
	Tick        int       `json:"tick"`
	Slot        time.Time `json:"slot"`
	Markets     int       `json:"markets"`
	Trades      int       `json:"trades"`
	FeeRevenue  string    `json:"feeRevenue"`
	StateDigest string    `json:"stateDigest"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string      `json:"type"` // "trade", "order"
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:house_1_1", "orders:grid"]
}

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is the payload for POST /api/v1/orders. It is queued
// for the next tick.
type SubmitOrderRequest struct {
	Action     string    `json:"action"` // "offer", "bid", "accept", "delete_offer", "delete_bid"
	Area       string    `json:"area"`
	MarketKind string    `json:"marketKind,omitempty"`
	TimeSlot   time.Time `json:"timeSlot,omitempty"`
	OrderID    string    `json:"orderId,omitempty"`
	Energy     float64   `json:"energy"`
	Price      float64   `json:"price"`
	Trader     string    `json:"trader"`
}

type SubmitOrderResponse struct {
	Status  string `json:"status"` // "queued", "rejected"
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func marketInfo(m *market.Market) MarketInfo {
	st := m.Stats()
	return MarketInfo{
		ID:       m.ID(),
		Area:     m.Area(),
		Kind:     m.Kind().String(),
		Type:     m.Type().String(),
		TimeSlot: m.TimeSlot(),
		ReadOnly: m.ReadOnly(),
		FeeType:  m.Fee().Type().String(),
		FeeRate:  m.Fee().Rate(),
		Stats: StatsInfo{
			Trades:  st.TradeCount,
			Energy:  st.Energy,
			Price:   st.Price,
			Fees:    st.Fees,
			MinRate: st.MinRate,
			MaxRate: st.MaxRate,
			AvgRate: st.AvgRate,
		},
	}
}

func offerInfo(o *market.Offer) OrderInfo {
	return OrderInfo{ID: o.ID, Trader: o.Seller.Name, Origin: o.Seller.Origin, Energy: o.Energy, Price: o.Price, Rate: o.Rate(), OriginalPrice: o.OriginalPrice}
}

func bidInfo(b *market.Bid) OrderInfo {
	return OrderInfo{ID: b.ID, Trader: b.Buyer.Name, Origin: b.Buyer.Origin, Energy: b.Energy, Price: b.Price, Rate: b.Rate(), OriginalPrice: b.OriginalPrice}
}

func tradeInfo(area string, t *market.Trade) TradeInfo {
	return TradeInfo{
		ID:       t.ID,
		MarketID: t.MarketID,
		Area:     area,
		TimeSlot: t.TimeSlot,
		Seller:   t.Seller.Identity(),
		Buyer:    t.Buyer.Identity(),
		Energy:   t.Energy,
		Price:    t.Price,
		FeePrice: t.FeePrice,
		Rate:     t.Rate(),
		Tick:     t.Tick,
	}
}

func tradeInfoFromRow(r storage.TradeRow) TradeInfo {
	seller, buyer := r.Seller, r.Buyer
	if r.SellerOrigin != "" {
		seller = r.SellerOrigin
	}
	if r.BuyerOrigin != "" {
		buyer = r.BuyerOrigin
	}
	return TradeInfo{
		ID:       r.ID,
		MarketID: r.MarketID,
		Area:     r.Area,
		TimeSlot: r.TimeSlot,
		Seller:   seller,
		Buyer:    buyer,
		Energy:   r.Energy,
		Price:    r.Price,
		FeePrice: r.FeePrice,
		Rate:     r.Rate(),
		Tick:     r.Tick,
	}
}
