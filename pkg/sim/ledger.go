package sim

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// LedgerEntry is one trade as the coordinator saw it.
type LedgerEntry struct {
	Area  string
	Kind  market.Kind
	Slot  time.Time
	Tick  int
	Trade *market.Trade
}

// record is the coordinator's own observer. A pair trade fires both an
// offer and a bid event; it is booked once, from the offer side.
func (c *Coordinator) record(ev market.Event) {
	if ev.Trade == nil {
		return
	}
	switch ev.Type {
	case market.EventOfferTraded:
	case market.EventBidTraded:
		if ev.Trade.Offer != nil {
			return
		}
	default:
		return
	}
	c.mu.Lock()
	c.ledger = append(c.ledger, LedgerEntry{
		Area:  ev.Area,
		Kind:  ev.Kind,
		Slot:  ev.TimeSlot,
		Tick:  ev.Tick,
		Trade: ev.Trade,
	})
	c.mu.Unlock()
}

// Ledger returns every trade booked so far, in execution order.
func (c *Coordinator) Ledger() []LedgerEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LedgerEntry, len(c.ledger))
	copy(out, c.ledger)
	return out
}

// Totals sums money across the ledger. A device is a trader with no
// origin; everything else is an agent acting on someone's behalf.
type Totals struct {
	Energy          decimal.Decimal
	DevicesPaid     decimal.Decimal // by buying devices
	DevicesReceived decimal.Decimal // by selling devices, net of the fee of their market
	Fees            decimal.Decimal
}

func (c *Coordinator) Totals() Totals {
	var t Totals
	for _, e := range c.Ledger() {
		tr := e.Trade
		price := decimal.NewFromFloat(tr.Price)
		fee := decimal.NewFromFloat(tr.FeePrice)
		t.Fees = t.Fees.Add(fee)
		if tr.Buyer.Origin == "" {
			t.DevicesPaid = t.DevicesPaid.Add(price)
		}
		if tr.Seller.Origin == "" {
			t.DevicesReceived = t.DevicesReceived.Add(price.Sub(fee))
			t.Energy = t.Energy.Add(decimal.NewFromFloat(tr.Energy))
		}
	}
	return t
}

// FeeRevenue is the grid fee collected by every market together.
func (c *Coordinator) FeeRevenue() decimal.Decimal {
	return c.Totals().Fees
}

// StateDigest hashes the ledger into a value that is equal across runs
// with the same seed and inputs. Generated ids are left out.
func (c *Coordinator) StateDigest() common.Hash {
	entries := c.Ledger()
	buf := make([]byte, 0, 128*len(entries))
	for _, e := range entries {
		tr := e.Trade
		buf = appendString(buf, e.Area)
		buf = append(buf, byte(e.Kind))
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.Slot.Unix()))
		buf = binary.BigEndian.AppendUint64(buf, uint64(tr.Tick))
		buf = appendString(buf, tr.Seller.Identity())
		buf = appendString(buf, tr.Buyer.Identity())
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(tr.Energy))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(tr.Price))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(tr.FeePrice))
	}
	return crypto.Keccak256Hash(buf)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
