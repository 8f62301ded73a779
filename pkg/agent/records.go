package agent

import (
	"sort"
	"time"
)

// State of an order as seen by one engine.
type State int8

const (
	Unseen State = iota
	Forwarded
	Traded
	Deleted
	ResidualReplaced
	Purged
)

func (s State) String() string {
	switch s {
	case Unseen:
		return "unseen"
	case Forwarded:
		return "forwarded"
	case Traded:
		return "traded"
	case Deleted:
		return "deleted"
	case ResidualReplaced:
		return "residual_replaced"
	case Purged:
		return "purged"
	default:
		return "unknown"
	}
}

// record links a source order to its clone in the target market.
type record struct {
	sourceID     string
	targetID     string
	sourceMarket string
	targetMarket string
	slot         time.Time
}

type slotRecords struct {
	slot     time.Time
	bySource map[string]*record
	byTarget map[string]*record
	// source ids that reached a terminal state; they are never forwarded
	// again while the slot lives
	done map[string]State
}

// recordSet holds one engine's records, bucketed by time slot so a closed
// slot is dropped in one step.
type recordSet struct {
	slots map[int64]*slotRecords
}

func newRecordSet() *recordSet {
	return &recordSet{slots: make(map[int64]*slotRecords)}
}

func (rs *recordSet) bucket(slot time.Time, create bool) *slotRecords {
	k := slot.UnixNano()
	b, ok := rs.slots[k]
	if !ok && create {
		b = &slotRecords{
			slot:     slot,
			bySource: make(map[string]*record),
			byTarget: make(map[string]*record),
			done:     make(map[string]State),
		}
		rs.slots[k] = b
	}
	return b
}

func (rs *recordSet) add(rec *record) {
	b := rs.bucket(rec.slot, true)
	b.bySource[rec.sourceID] = rec
	b.byTarget[rec.targetID] = rec
}

func (rs *recordSet) bySource(slot time.Time, id string) (*record, bool) {
	b := rs.bucket(slot, false)
	if b == nil {
		return nil, false
	}
	rec, ok := b.bySource[id]
	return rec, ok
}

func (rs *recordSet) byTarget(slot time.Time, id string) (*record, bool) {
	b := rs.bucket(slot, false)
	if b == nil {
		return nil, false
	}
	rec, ok := b.byTarget[id]
	return rec, ok
}

// finish releases rec and remembers its source id in a terminal state.
func (rs *recordSet) finish(rec *record, st State) {
	b := rs.bucket(rec.slot, true)
	delete(b.bySource, rec.sourceID)
	delete(b.byTarget, rec.targetID)
	b.done[rec.sourceID] = st
}

// seen reports whether the source id was ever forwarded in this slot.
func (rs *recordSet) seen(slot time.Time, id string) bool {
	b := rs.bucket(slot, false)
	if b == nil {
		return false
	}
	if _, ok := b.bySource[id]; ok {
		return true
	}
	_, ok := b.done[id]
	return ok
}

func (rs *recordSet) state(slot time.Time, id string) (State, bool) {
	b := rs.bucket(slot, false)
	if b == nil {
		return Unseen, false
	}
	if _, ok := b.bySource[id]; ok {
		return Forwarded, true
	}
	if st, ok := b.done[id]; ok {
		return st, true
	}
	return Unseen, true
}

func (rs *recordSet) count(slot time.Time) int {
	b := rs.bucket(slot, false)
	if b == nil {
		return 0
	}
	return len(b.bySource) + len(b.done)
}

// purge drops every slot for which open returns false and returns the
// dropped slots in time order.
func (rs *recordSet) purge(open func(time.Time) bool) []time.Time {
	var dropped []time.Time
	for k, b := range rs.slots {
		if !open(b.slot) {
			dropped = append(dropped, b.slot)
			delete(rs.slots, k)
		}
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].Before(dropped[j]) })
	return dropped
}

func (rs *recordSet) slotsInOrder() []time.Time {
	out := make([]time.Time, 0, len(rs.slots))
	for _, b := range rs.slots {
		out = append(out, b.slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
