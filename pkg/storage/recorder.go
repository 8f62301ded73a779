package storage

import (
	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
	"github.com/gridsingularity/gsy-e-sub006/pkg/util"
)

// Recorder listens to markets, journals their order and trade events and
// saves their trades. Storage errors are logged, never returned.
type Recorder struct {
	store   TradeStore
	journal Journal
	log     *zap.SugaredLogger
}

func NewRecorder(store TradeStore, journal Journal, log *zap.SugaredLogger) *Recorder {
	if journal == nil {
		journal = NewNopJournal()
	}
	return &Recorder{store: store, journal: journal, log: util.OrNop(log)}
}

func (r *Recorder) OnMarketEvent(ev market.Event) {
	if e, ok := EntryFromEvent(ev); ok {
		if err := r.journal.Append(e); err != nil {
			r.log.Warnw("journal_append_failed", "event", e.Event, "id", e.ID, "err", err)
		}
	}
	if ev.Trade == nil || r.store == nil {
		return
	}
	if ev.Type != market.EventOfferTraded && ev.Type != market.EventBidTraded {
		return
	}
	if err := r.store.SaveTrade(RowFromTrade(ev.Area, ev.Kind, ev.Trade)); err != nil {
		r.log.Warnw("trade_save_failed", "trade", ev.Trade.ID, "area", ev.Area, "err", err)
	}
}
