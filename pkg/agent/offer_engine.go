package agent

import (
	"fmt"
	"time"

	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// OfferEngine forwards offers from its source market into its target
// market and keeps both sides consistent afterwards.
type OfferEngine struct {
	*engine
}

func (e *OfferEngine) onTick(tick int) error {
	e.tick = tick
	for _, slot := range e.registry.OpenSlots(e.sourceArea, e.kind) {
		src, tgt, ok := e.markets(slot)
		if !ok {
			continue
		}
		for _, offer := range src.SortedOffers() {
			if !e.usable(slot, offer.ID, offer.Tick) {
				continue
			}
			if err := e.forward(slot, src, tgt, offer); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *OfferEngine) forward(slot time.Time, src, tgt *market.Market, offer *market.Offer) error {
	var clone *market.Offer
	err := e.mutate(func() error {
		var err error
		clone, err = tgt.PostOffer(offer.Energy, offer.Price,
			market.Trader{Name: e.owner, Origin: offer.Seller.Identity()},
			market.WithOriginalPrice(offer.OriginalPrice),
			market.WithTick(e.tick))
		return err
	})
	if err != nil {
		e.log.Warnw("offer_forward_failed", "engine", e.name, "offer", offer.ID, "err", err)
		return nil
	}
	if err := fees.CheckChain(offer.Rate(), tgt.Fee().RemoveIncomingFee(clone.Rate())); err != nil {
		return fmt.Errorf("%s: offer %s: %w", e.name, offer.ID, err)
	}
	e.records.add(&record{
		sourceID:     offer.ID,
		targetID:     clone.ID,
		sourceMarket: src.ID(),
		targetMarket: tgt.ID(),
		slot:         slot,
	})
	e.log.Debugw("offer_forwarded", "engine", e.name, "source", offer.ID, "target", clone.ID, "rate", clone.Rate())
	return nil
}

func (e *OfferEngine) onOfferTraded(ev market.Event) error {
	trade := ev.Trade
	if trade == nil || trade.Offer == nil {
		return nil
	}
	if ev.Area == e.targetArea {
		if rec, ok := e.records.byTarget(ev.TimeSlot, trade.Offer.ID); ok {
			return e.mirror(rec, trade)
		}
		return nil
	}
	// source offer bought by someone else: the clone has nothing left to sell
	if rec, ok := e.records.bySource(ev.TimeSlot, trade.Offer.ID); ok {
		e.deleteClone(rec)
		e.records.finish(rec, Traded)
	}
	return nil
}

// mirror replays a trade of our clone onto the source offer.
func (e *OfferEngine) mirror(rec *record, trade *market.Trade) error {
	src, err := e.registry.Get(rec.sourceMarket)
	if err != nil {
		e.log.Warnw("offer_mirror_skipped", "engine", e.name, "err", err)
		e.records.finish(rec, Traded)
		return nil
	}
	tgt, err := e.registry.Get(rec.targetMarket)
	if err != nil {
		e.log.Warnw("offer_mirror_skipped", "engine", e.name, "err", err)
		e.records.finish(rec, Traded)
		return nil
	}
	source, ok := src.Offer(rec.sourceID)
	if !ok {
		e.log.Warnw("offer_mirror_skipped", "engine", e.name, "source", rec.sourceID, "err", market.ErrOfferNotFound)
		e.records.finish(rec, Traded)
		return nil
	}
	if err := fees.CheckChain(source.Rate(), tgt.Fee().RemoveIncomingFee(trade.Offer.Rate())); err != nil {
		return fmt.Errorf("%s: mirror trade %s: %w", e.name, trade.ID, err)
	}

	info := fees.PropagateOfferInfo(trade.Info, tgt.Fee())
	var mirrored *market.Trade
	err = e.mutate(func() error {
		var err error
		mirrored, err = src.AcceptOffer(rec.sourceID,
			market.Trader{Name: e.owner, Origin: trade.Buyer.Identity()},
			market.AcceptParams{Energy: trade.Energy, TradeRate: market.TradeAt(info.TradeRate), Info: info})
		return err
	})
	if err != nil {
		if counterpartGone(err) {
			e.log.Warnw("offer_mirror_skipped", "engine", e.name, "source", rec.sourceID, "err", err)
			e.records.finish(rec, Traded)
			return nil
		}
		return fmt.Errorf("%s: mirror trade %s: %w", e.name, trade.ID, err)
	}

	e.relink(rec, tgt, trade.OfferResidual, mirrored.OfferResidual)
	e.log.Infow("offer_trade_mirrored", "engine", e.name, "source", rec.sourceID, "energy", mirrored.Energy, "rate", mirrored.Rate())
	return nil
}

// relink keeps forwarding a partially traded offer under its residual ids.
func (e *OfferEngine) relink(rec *record, tgt *market.Market, targetRes, sourceRes *market.Offer) {
	switch {
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
		e.drop("offer_residual_delete", targetRes.ID, func() error { return tgt.DeleteOffer(targetRes.ID) })
		e.records.finish(rec, Traded)
	default:
		e.records.finish(rec, Traded)
	}
}

func (e *OfferEngine) onOfferSplit(ev market.Event) error {
	if ev.Area != e.sourceArea || ev.Offer == nil || ev.ResidualOffer == nil {
		return nil
	}
	rec, ok := e.records.bySource(ev.TimeSlot, ev.Offer.ID)
	if !ok {
		return nil
	}
	e.deleteClone(rec)
	e.records.finish(rec, ResidualReplaced)

	src, tgt, open := e.markets(ev.TimeSlot)
	if !open {
		return nil
	}
	return e.forward(ev.TimeSlot, src, tgt, ev.ResidualOffer)
}

func (e *OfferEngine) onOfferDeleted(ev market.Event) error {
	if ev.Offer == nil {
		return nil
	}
	if ev.Area == e.sourceArea {
		if rec, ok := e.records.bySource(ev.TimeSlot, ev.Offer.ID); ok {
			e.deleteClone(rec)
			e.records.finish(rec, Deleted)
		}
		return nil
	}
	// clone removed by someone else; the source stays unforwarded
	if rec, ok := e.records.byTarget(ev.TimeSlot, ev.Offer.ID); ok {
		e.records.finish(rec, Deleted)
	}
	return nil
}

func (e *OfferEngine) deleteClone(rec *record) {
	tgt, err := e.registry.Get(rec.targetMarket)
	if err != nil {
		return
	}
	e.drop("offer_clone_delete", rec.targetID, func() error { return tgt.DeleteOffer(rec.targetID) })
}
