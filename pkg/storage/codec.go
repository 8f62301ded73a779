package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// TradeRow is a trade as persisted: flat, with the owning market's
// coordinates and the full trader identities.
type TradeRow struct {
	ID           string      `json:"id"`
	MarketID     string      `json:"market_id"`
	Area         string      `json:"area"`
	Kind         market.Kind `json:"kind"`
	TimeSlot     time.Time   `json:"time_slot"`
	Seller       string      `json:"seller"`
	SellerOrigin string      `json:"seller_origin,omitempty"`
	Buyer        string      `json:"buyer"`
	BuyerOrigin  string      `json:"buyer_origin,omitempty"`
	Energy       float64     `json:"energy"`
	Price        float64     `json:"price"`
	FeePrice     float64     `json:"fee_price"`
	Tick         int         `json:"tick"`
	Created      time.Time   `json:"created"`
}

func RowFromTrade(area string, kind market.Kind, t *market.Trade) TradeRow {
	return TradeRow{
		ID:           t.ID,
		MarketID:     t.MarketID,
		Area:         area,
		Kind:         kind,
		TimeSlot:     t.TimeSlot,
		Seller:       t.Seller.Name,
		SellerOrigin: t.Seller.Origin,
		Buyer:        t.Buyer.Name,
		BuyerOrigin:  t.Buyer.Origin,
		Energy:       t.Energy,
		Price:        t.Price,
		FeePrice:     t.FeePrice,
		Tick:         t.Tick,
		Created:      t.Created,
	}
}

func (r TradeRow) Rate() float64 {
	if r.Energy == 0 {
		return 0
	}
	return r.Price / r.Energy
}

func encodeRow(r TradeRow) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode trade %s: %w", r.ID, err)
	}
	return data, nil
}

func decodeRow(b []byte) (TradeRow, error) {
	var r TradeRow
	if err := json.Unmarshal(b, &r); err != nil {
		return TradeRow{}, fmt.Errorf("decode trade: %w", err)
	}
	return r, nil
}

func encodeSeq(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func decodeSeq(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
