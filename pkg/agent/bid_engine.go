package agent

import (
	"fmt"
	"time"

	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// BidEngine is the bid counterpart of OfferEngine. A bid pays the fee of
// the market it leaves, so clones are priced with the source market's
// outgoing fee.
type BidEngine struct {
	*engine
}

func (e *BidEngine) onTick(tick int) error {
	e.tick = tick
	for _, slot := range e.registry.OpenSlots(e.sourceArea, e.kind) {
		src, tgt, ok := e.markets(slot)
		if !ok || !tgt.Type().HasBids() {
			continue
		}
		for _, bid := range src.SortedBids() {
			if !e.usable(slot, bid.ID, bid.Tick) {
				continue
			}
			if err := e.forward(slot, src, tgt, bid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *BidEngine) forward(slot time.Time, src, tgt *market.Market, bid *market.Bid) error {
	rate := src.Fee().ApplyOutgoingFee(bid.Rate())
	if rate < 0 {
		e.log.Debugw("bid_not_forwarded", "engine", e.name, "bid", bid.ID, "rate", rate)
		return nil
	}
	var clone *market.Bid
	err := e.mutate(func() error {
		var err error
		clone, err = tgt.PostBid(bid.Energy, rate*bid.Energy,
			market.Trader{Name: e.owner, Origin: bid.Buyer.Identity()},
			market.WithOriginalPrice(bid.OriginalPrice),
			market.WithTick(e.tick))
		return err
	})
	if err != nil {
		e.log.Warnw("bid_forward_failed", "engine", e.name, "bid", bid.ID, "err", err)
		return nil
	}
	if err := fees.CheckChain(bid.Rate(), src.Fee().RemoveOutgoingFee(clone.Rate())); err != nil {
		return fmt.Errorf("%s: bid %s: %w", e.name, bid.ID, err)
	}
	e.records.add(&record{
		sourceID:     bid.ID,
		targetID:     clone.ID,
		sourceMarket: src.ID(),
		targetMarket: tgt.ID(),
		slot:         slot,
	})
	e.log.Debugw("bid_forwarded", "engine", e.name, "source", bid.ID, "target", clone.ID, "rate", clone.Rate())
	return nil
}

func (e *BidEngine) onBidTraded(ev market.Event) error {
	trade := ev.Trade
	if trade == nil || trade.Bid == nil {
		return nil
	}
	if ev.Area == e.targetArea {
		if rec, ok := e.records.byTarget(ev.TimeSlot, trade.Bid.ID); ok {
			return e.mirror(rec, trade)
		}
		return nil
	}
	if rec, ok := e.records.bySource(ev.TimeSlot, trade.Bid.ID); ok {
		e.deleteClone(rec)
		e.records.finish(rec, Traded)
	}
	return nil
}

func (e *BidEngine) mirror(rec *record, trade *market.Trade) error {
	src, err := e.registry.Get(rec.sourceMarket)
	if err != nil {
		e.log.Warnw("bid_mirror_skipped", "engine", e.name, "err", err)
		e.records.finish(rec, Traded)
		return nil
	}
	tgt, err := e.registry.Get(rec.targetMarket)
	if err != nil {
		e.log.Warnw("bid_mirror_skipped", "engine", e.name, "err", err)
		e.records.finish(rec, Traded)
		return nil
	}
	source, ok := src.Bid(rec.sourceID)
	if !ok {
		e.log.Warnw("bid_mirror_skipped", "engine", e.name, "source", rec.sourceID, "err", market.ErrBidNotFound)
		e.records.finish(rec, Traded)
		return nil
	}
	if err := fees.CheckChain(source.Rate(), src.Fee().RemoveOutgoingFee(trade.Bid.Rate())); err != nil {
		return fmt.Errorf("%s: mirror trade %s: %w", e.name, trade.ID, err)
	}

	info := fees.PropagateBidInfo(trade.Info, src.Fee())
	var mirrored *market.Trade
	err = e.mutate(func() error {
		var err error
		mirrored, err = src.AcceptBid(rec.sourceID,
			market.Trader{Name: e.owner, Origin: trade.Seller.Identity()},
			market.AcceptParams{Energy: trade.Energy, TradeRate: market.TradeAt(info.TradeRate), Info: info})
		return err
	})
	if err != nil {
		if counterpartGone(err) {
			e.log.Warnw("bid_mirror_skipped", "engine", e.name, "source", rec.sourceID, "err", err)
			e.records.finish(rec, Traded)
			return nil
		}
		return fmt.Errorf("%s: mirror trade %s: %w", e.name, trade.ID, err)
	}

	switch targetRes, sourceRes := trade.BidResidual, mirrored.BidResidual; {
	case targetRes != nil && sourceRes != nil:
		e.records.finish(rec, ResidualReplaced)
		e.records.add(&record{
			sourceID:     sourceRes.ID,
			targetID:     targetRes.ID,
			sourceMarket: rec.sourceMarket,
			targetMarket: rec.targetMarket,
			slot:         rec.slot,
		})
	case targetRes != nil:
		e.drop("bid_residual_delete", targetRes.ID, func() error { return tgt.DeleteBid(targetRes.ID) })
		e.records.finish(rec, Traded)
	default:
		e.records.finish(rec, Traded)
	}
	e.log.Infow("bid_trade_mirrored", "engine", e.name, "source", rec.sourceID, "energy", mirrored.Energy, "rate", mirrored.Rate())
	return nil
}

func (e *BidEngine) onBidSplit(ev market.Event) error {
	if ev.Area != e.sourceArea || ev.Bid == nil || ev.ResidualBid == nil {
		return nil
	}
	rec, ok := e.records.bySource(ev.TimeSlot, ev.Bid.ID)
	if !ok {
		return nil
	}
	e.deleteClone(rec)
	e.records.finish(rec, ResidualReplaced)

	src, tgt, open := e.markets(ev.TimeSlot)
	if !open {
		return nil
	}
	return e.forward(ev.TimeSlot, src, tgt, ev.ResidualBid)
}

func (e *BidEngine) onBidDeleted(ev market.Event) error {
	if ev.Bid == nil {
		return nil
	}
	if ev.Area == e.sourceArea {
		if rec, ok := e.records.bySource(ev.TimeSlot, ev.Bid.ID); ok {
			e.deleteClone(rec)
			e.records.finish(rec, Deleted)
		}
		return nil
	}
	if rec, ok := e.records.byTarget(ev.TimeSlot, ev.Bid.ID); ok {
		e.records.finish(rec, Deleted)
	}
	return nil
}

func (e *BidEngine) deleteClone(rec *record) {
	tgt, err := e.registry.Get(rec.targetMarket)
	if err != nil {
		return
	}
	e.drop("bid_clone_delete", rec.targetID, func() error { return tgt.DeleteBid(rec.targetID) })
}
