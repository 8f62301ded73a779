package storage

import (
	"fmt"
	"time"
)

// Key schema:
//
//	meta:seq                                   → last trade sequence number
//	trade:{area}:{slot unix}:{seq}             → TradeRow (JSON)
//	tid:{tradeID}                              → trade key
//
// Slot and sequence are zero-padded so that keys sort chronologically.
const (
	prefixTrade   = "trade:"
	prefixTradeID = "tid:"
	keySeq        = "meta:seq"
)

func tradeKey(area string, slot time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%020d", prefixTrade, area, slot.Unix(), seq))
}

// tradePrefix covers every trade of an area.
func tradePrefix(area string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, area))
}

// slotPrefix covers the trades of one area and slot.
func slotPrefix(area string, slot time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:", prefixTrade, area, slot.Unix()))
}

func tradeIDKey(id string) []byte {
	return []byte(prefixTradeID + id)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
