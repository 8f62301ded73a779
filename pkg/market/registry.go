package market

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type slotKey struct {
	area string
	kind Kind
	slot int64
}

func keyOf(area string, kind Kind, slot time.Time) slotKey {
	return slotKey{area: area, kind: kind, slot: slot.UnixNano()}
}

// Registry owns every market of a simulation, indexed by id and by
// (area, kind, time slot). Agents keep only area names and ids and resolve
// markets here.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Market
	byKey map[slotKey]*Market
}

func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[string]*Market),
		byKey: make(map[slotKey]*Market),
	}
}

// Register adds a market. A second market for the same area, kind and slot
// is rejected.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[m.id]; exists {
		return fmt.Errorf("market %s already registered", m.id)
	}
	k := keyOf(m.area, m.kind, m.timeSlot)
	if other, exists := r.byKey[k]; exists {
		return fmt.Errorf("market %s already covers %s", other.id, m)
	}
	r.byID[m.id] = m
	r.byKey[k] = m
	return nil
}

func (r *Registry) Get(id string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.byID[id]
	if !exists {
		return nil, fmt.Errorf("market %s not found", id)
	}
	return m, nil
}

func (r *Registry) Lookup(area string, kind Kind, slot time.Time) (*Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byKey[keyOf(area, kind, slot)]
	return m, ok
}

// IsOpen reports whether a market exists for the slot and still accepts
// orders.
func (r *Registry) IsOpen(area string, kind Kind, slot time.Time) bool {
	m, ok := r.Lookup(area, kind, slot)
	return ok && !m.ReadOnly()
}

// OpenSlots lists the slots of an area's markets of one kind that are not
// read-only, earliest first.
func (r *Registry) OpenSlots(area string, kind Kind) []time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var slots []time.Time
	for k, m := range r.byKey {
		if k.area == area && k.kind == kind && !m.ReadOnly() {
			slots = append(slots, m.timeSlot)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots
}

// Close turns a market read-only.
func (r *Registry) Close(area string, kind Kind, slot time.Time) error {
	m, ok := r.Lookup(area, kind, slot)
	if !ok {
		return fmt.Errorf("no %s market for %s at %s", kind, area, slot.Format(time.RFC3339))
	}
	m.Close()
	return nil
}

// Purge drops read-only markets whose slot is before the cutoff and
// returns how many were removed.
func (r *Registry) Purge(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, m := range r.byKey {
		if m.timeSlot.Before(before) && m.ReadOnly() {
			delete(r.byKey, k)
			delete(r.byID, m.id)
			n++
		}
	}
	return n
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Markets lists every registered market ordered by area, kind and slot.
func (r *Registry) Markets() []*Market {
	r.mu.RLock()
	out := make([]*Market, 0, len(r.byID))
	for _, m := range r.byID {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.area != b.area {
			return a.area < b.area
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.timeSlot.Before(b.timeSlot)
	})
	return out
}
