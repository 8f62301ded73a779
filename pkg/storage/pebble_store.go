package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

type PebbleStore struct {
	mu  sync.Mutex // serializes sequence allocation
	db  *pebble.DB
	seq uint64
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := &PebbleStore{db: db}
	val, closer, err := db.Get([]byte(keySeq))
	switch {
	case err == nil:
		s.seq = decodeSeq(val)
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		db.Close()
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveTrade writes the row, its id index and the new sequence number in
// one batch.
func (s *PebbleStore) SaveTrade(r TradeRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := s.lookup(r.ID); err != nil || ok {
		return err
	}
	data, err := encodeRow(r)
	if err != nil {
		return err
	}
	seq := s.seq + 1
	key := tradeKey(r.Area, r.TimeSlot, seq)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, data, nil); err != nil {
		return err
	}
	if err := b.Set(tradeIDKey(r.ID), key, nil); err != nil {
		return err
	}
	if err := b.Set([]byte(keySeq), encodeSeq(seq), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	s.seq = seq
	return nil
}

func (s *PebbleStore) lookup(id string) ([]byte, bool, error) {
	val, closer, err := s.db.Get(tradeIDKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get trade index: %w", err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (s *PebbleStore) Trade(id string) (TradeRow, bool, error) {
	key, ok, err := s.lookup(id)
	if err != nil || !ok {
		return TradeRow{}, false, err
	}
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return TradeRow{}, false, nil
	}
	if err != nil {
		return TradeRow{}, false, fmt.Errorf("failed to get trade: %w", err)
	}
	defer closer.Close()
	r, err := decodeRow(val)
	return r, err == nil, err
}

func (s *PebbleStore) SlotTrades(area string, slot time.Time) ([]TradeRow, error) {
	prefix := slotPrefix(area, slot)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []TradeRow
	for iter.First(); iter.Valid(); iter.Next() {
		r, err := decodeRow(iter.Value())
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

func (s *PebbleStore) RecentTrades(area string, limit int) ([]TradeRow, error) {
	prefix := tradePrefix(area)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []TradeRow
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		r, err := decodeRow(iter.Value())
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, iter.Error()
}
