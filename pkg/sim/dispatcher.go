package sim

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
	"github.com/gridsingularity/gsy-e-sub006/pkg/util"
)

// Handler is what the dispatcher drives; agents implement it.
type Handler interface {
	HandleEvent(market.Event) error
	Areas() []string
	Kind() market.Kind
	Name() string
}

// Dispatcher is subscribed to every market. It hands each event to the
// observers, then synchronously to the handlers bridging the event's area.
// The first handler error is kept and surfaced by the coordinator.
type Dispatcher struct {
	log *zap.SugaredLogger

	byArea    map[string][]Handler
	observers []market.Listener

	mu  sync.Mutex
	err error
}

func NewDispatcher(log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		log:    util.OrNop(log),
		byArea: make(map[string][]Handler),
	}
}

// Register routes the events of h's areas to h, in registration order.
func (d *Dispatcher) Register(h Handler) {
	for _, area := range h.Areas() {
		d.byArea[area] = append(d.byArea[area], h)
	}
}

// Observe adds a listener that sees every event before the handlers do.
func (d *Dispatcher) Observe(l market.Listener) {
	d.observers = append(d.observers, l)
}

func (d *Dispatcher) OnMarketEvent(ev market.Event) {
	for _, o := range d.observers {
		o.OnMarketEvent(ev)
	}
	for _, h := range d.byArea[ev.Area] {
		if h.Kind() != ev.Kind {
			continue
		}
		if err := h.HandleEvent(ev); err != nil {
			d.fail(h, ev, err)
		}
	}
}

func (d *Dispatcher) fail(h Handler, ev market.Event, err error) {
	d.log.Errorw("handler_failed", "handler", h.Name(), "event", ev.Type.String(), "market", ev.MarketID, "err", err)
	d.mu.Lock()
	d.err = errors.Join(d.err, err)
	d.mu.Unlock()
}

// Err returns and clears the collected handler errors.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.err
	d.err = nil
	return err
}
