package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// JournalEntry is one line of the event journal.
type JournalEntry struct {
	Tick     int       `json:"tick"`
	Event    string    `json:"event"`
	MarketID string    `json:"market_id"`
	Area     string    `json:"area"`
	Kind     string    `json:"kind"`
	TimeSlot time.Time `json:"time_slot"`
	ID       string    `json:"id"`
	Energy   float64   `json:"energy"`
	Price    float64   `json:"price"`
	Trader   string    `json:"trader,omitempty"`
}

// EntryFromEvent covers order and trade events; splits are journaled
// under the original order's id.
func EntryFromEvent(ev market.Event) (JournalEntry, bool) {
	e := JournalEntry{
		Tick:     ev.Tick,
		Event:    ev.Type.String(),
		MarketID: ev.MarketID,
		Area:     ev.Area,
		Kind:     ev.Kind.String(),
		TimeSlot: ev.TimeSlot,
	}
	switch {
	case ev.Trade != nil:
		e.ID, e.Energy, e.Price = ev.Trade.ID, ev.Trade.Energy, ev.Trade.Price
		e.Trader = ev.Trade.Buyer.Identity()
	case ev.Offer != nil:
		e.ID, e.Energy, e.Price = ev.Offer.ID, ev.Offer.Energy, ev.Offer.Price
		e.Trader = ev.Offer.Seller.Identity()
	case ev.Bid != nil:
		e.ID, e.Energy, e.Price = ev.Bid.ID, ev.Bid.Energy, ev.Bid.Price
		e.Trader = ev.Bid.Buyer.Identity()
	default:
		return JournalEntry{}, false
	}
	return e, true
}

type Journal interface {
	Append(e JournalEntry) error
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal               { return &NopJournal{} }
func (NopJournal) Append(_ JournalEntry) error { return nil }
func (NopJournal) Close() error                { return nil }

// FileJournal appends JSON lines to a file.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f, w: bufio.NewWriter(f)}, nil
}

func (j *FileJournal) Append(e JournalEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return ErrClosed
	}
	if _, err := j.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (j *FileJournal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return ErrClosed
	}
	return j.w.Flush()
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return nil
	}
	err := j.w.Flush()
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	j.w = nil
	return err
}

// ReadJournal loads every entry of a journal file.
func ReadJournal(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []JournalEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		var e JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("journal line %d: %w", line, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

var (
	_ Journal = (*NopJournal)(nil)
	_ Journal = (*FileJournal)(nil)
)
