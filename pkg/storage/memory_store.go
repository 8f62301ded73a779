package storage

import (
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu     sync.Mutex
	rows   []TradeRow
	byID   map[string]int
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (s *MemoryStore) SaveTrade(r TradeRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, dup := s.byID[r.ID]; dup {
		return nil
	}
	s.byID[r.ID] = len(s.rows)
	s.rows = append(s.rows, r)
	return nil
}

func (s *MemoryStore) Trade(id string) (TradeRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return TradeRow{}, false, nil
	}
	return s.rows[i], true, nil
}

func (s *MemoryStore) SlotTrades(area string, slot time.Time) ([]TradeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TradeRow
	for _, r := range s.rows {
		if r.Area == area && r.TimeSlot.Equal(slot) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecentTrades(area string, limit int) ([]TradeRow, error) {
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TradeRow
	for _, r := range s.rows {
		if r.Area == area {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeSlot.Before(out[j].TimeSlot) })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
