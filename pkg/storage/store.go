// Package storage persists trades and keeps an append-only journal of
// market events.
package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("store closed")

// TradeStore keeps trades per area, ordered by slot and then by the order
// they were saved in. Saving a trade id twice is a no-op.
type TradeStore interface {
	SaveTrade(r TradeRow) error
	Trade(id string) (TradeRow, bool, error)
	SlotTrades(area string, slot time.Time) ([]TradeRow, error)
	// RecentTrades returns up to limit trades of an area, latest first.
	RecentTrades(area string, limit int) ([]TradeRow, error)
	Close() error
}

var (
	_ TradeStore = (*PebbleStore)(nil)
	_ TradeStore = (*MemoryStore)(nil)
)
