package agent

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// engine is the direction-independent part of a forwarding engine: where
// it reads from, where it writes to, and what it has forwarded.
type engine struct {
	name       string
	owner      string // trader name of the agent, stamped on every clone
	sourceArea string
	targetArea string
	kind       market.Kind
	minAge     int
	registry   *market.Registry
	log        *zap.SugaredLogger

	records *recordSet
	tick    int
	// set while this engine mutates a market, so it ignores its own echoes
	busy bool
	// the engine of the same agent working in the other direction
	opposite *engine
}

func newEngine(owner, source, target string, kind market.Kind, minAge int, reg *market.Registry, log *zap.SugaredLogger, what string) *engine {
	return &engine{
		name:       fmt.Sprintf("%s %s %s->%s", owner, what, source, target),
		owner:      owner,
		sourceArea: source,
		targetArea: target,
		kind:       kind,
		minAge:     minAge,
		registry:   reg,
		log:        log,
		records:    newRecordSet(),
	}
}

// markets resolves the source and target market of a slot. ok is false
// when either is missing or closed.
func (e *engine) markets(slot time.Time) (src, tgt *market.Market, ok bool) {
	src, okS := e.registry.Lookup(e.sourceArea, e.kind, slot)
	tgt, okT := e.registry.Lookup(e.targetArea, e.kind, slot)
	if !okS || !okT || src.ReadOnly() || tgt.ReadOnly() {
		return nil, nil, false
	}
	return src, tgt, true
}

// relevant filters market events down to the two areas this engine bridges.
func (e *engine) relevant(ev market.Event) bool {
	if e.busy || ev.Kind != e.kind {
		return false
	}
	return ev.Area == e.sourceArea || ev.Area == e.targetArea
}

// usable reports whether an order placed in the source market may be
// forwarded now. Clones the opposite engine placed into our source are
// never sent back.
func (e *engine) usable(slot time.Time, id string, orderTick int) bool {
	if e.records.seen(slot, id) {
		return false
	}
	if e.opposite != nil {
		if _, placed := e.opposite.records.byTarget(slot, id); placed {
			return false
		}
	}
	return e.tick-orderTick >= e.minAge
}

// mutate runs fn with the busy flag set.
func (e *engine) mutate(fn func() error) error {
	e.busy = true
	defer func() { e.busy = false }()
	return fn()
}

// drop deletes an order this engine placed in the target market. Losing a
// race with a trade or a market close is expected and only logged at debug.
func (e *engine) drop(event, targetID string, del func() error) {
	err := e.mutate(del)
	switch {
	case err == nil:
	case counterpartGone(err):
		e.log.Debugw(event+"_skipped", "engine", e.name, "target", targetID, "err", err)
	default:
		e.log.Warnw(event+"_failed", "engine", e.name, "target", targetID, "err", err)
	}
}

// State returns what the engine knows about a source order. Slots whose
// source market has closed and been purged report Purged.
func (e *engine) State(slot time.Time, sourceID string) State {
	st, known := e.records.state(slot, sourceID)
	if !known && !e.registry.IsOpen(e.sourceArea, e.kind, slot) {
		return Purged
	}
	return st
}

// Target returns the id of the clone currently standing for sourceID.
func (e *engine) Target(slot time.Time, sourceID string) (string, bool) {
	rec, ok := e.records.bySource(slot, sourceID)
	if !ok {
		return "", false
	}
	return rec.targetID, true
}

// RecordCount counts live and terminal records of a slot.
func (e *engine) RecordCount(slot time.Time) int { return e.records.count(slot) }

// Slots lists the slots the engine currently holds records for.
func (e *engine) Slots() []time.Time { return e.records.slotsInOrder() }

func (e *engine) Name() string { return e.name }

// purge drops the records of every slot whose source market is no longer
// open. Slot rollover is the only timeout records have.
func (e *engine) purge() {
	dropped := e.records.purge(func(slot time.Time) bool {
		return e.registry.IsOpen(e.sourceArea, e.kind, slot)
	})
	for _, slot := range dropped {
		e.log.Debugw("records_purged", "engine", e.name, "slot", slot)
	}
}

// counterpartGone reports errors that mean the other side of a record
// already disappeared. They are logged and skipped.
func counterpartGone(err error) bool {
	return market.IsRecoverable(err) ||
		errors.Is(err, market.ErrMarketReadOnly) ||
		errors.Is(err, market.ErrInvalidTrade)
}
