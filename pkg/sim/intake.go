package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// ActionKind classifies device actions for the intake queue.
type ActionKind int8

const (
	ActionDeleteOffer ActionKind = iota
	ActionDeleteBid
	ActionOffer
	ActionBid
	ActionAccept // buy the cheapest offers up to Energy at no more than Price/Energy
)

func (k ActionKind) String() string {
	switch k {
	case ActionDeleteOffer:
		return "delete_offer"
	case ActionDeleteBid:
		return "delete_bid"
	case ActionOffer:
		return "offer"
	case ActionBid:
		return "bid"
	case ActionAccept:
		return "accept"
	default:
		return "unknown"
	}
}

func ParseActionKind(s string) (ActionKind, error) {
	for k := ActionDeleteOffer; k <= ActionAccept; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Action is a device request the coordinator applies at the next tick.
type Action struct {
	Kind       ActionKind
	Area       string
	MarketKind market.Kind
	Slot       time.Time // zero means the current spot slot
	OrderID    string    // id to post under, or to delete
	Energy     float64
	Price      float64
	Trader     market.Trader
}

// Intake queues actions in three buckets. A tick applies deletes first,
// then offers, then bids and acceptances; FIFO within a bucket.
type Intake struct {
	mu      sync.Mutex
	deletes []Action
	offers  []Action
	bids    []Action
}

func NewIntake() *Intake {
	return &Intake{}
}

func (q *Intake) Push(a Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch a.Kind {
	case ActionDeleteOffer, ActionDeleteBid:
		q.deletes = append(q.deletes, a)
	case ActionOffer:
		q.offers = append(q.offers, a)
	default:
		q.bids = append(q.bids, a)
	}
}

// Drain removes and returns every queued action in application order.
func (q *Intake) Drain() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Action, 0, len(q.deletes)+len(q.offers)+len(q.bids))
	out = append(out, q.deletes...)
	out = append(out, q.offers...)
	out = append(out, q.bids...)
	q.deletes, q.offers, q.bids = nil, nil, nil
	return out
}

// Len returns total pending actions.
func (q *Intake) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deletes) + len(q.offers) + len(q.bids)
}
