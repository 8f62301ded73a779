// Package matching turns an order book into bid/offer match
// recommendations and executes them against the market.
package matching

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/pkg/fees"
	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// Tolerance is the minimum margin between a bid and an offer rate for a
// pay-as-bid match.
const Tolerance = 1e-5

// Recommendation is one proposed match.
type Recommendation struct {
	BidID   string
	OfferID string
	Energy  float64
	Rate    float64
	Info    fees.TradeInfo
}

// Algorithm is a pure function over a snapshot of the book. bids are
// expected highest rate first and offers cheapest first, as the market's
// sorted accessors return them.
type Algorithm interface {
	Name() string
	Match(bids []*market.Bid, offers []*market.Offer) []Recommendation
}

// New returns the clearing algorithm for a market type.
func New(t market.Type) (Algorithm, error) {
	switch t {
	case market.TwoSided:
		return PayAsBid{}, nil
	case market.PayAsClear:
		return PayAsClear{}, nil
	default:
		return nil, fmt.Errorf("no matching for %s markets: %w", t, market.ErrWrongMarketType)
	}
}

// Clear runs algo on the live book of m and executes every
// recommendation. Recommendations invalidated by an earlier one in the same
// batch are skipped.
func Clear(m *market.Market, algo Algorithm, log *zap.SugaredLogger) ([]*market.Trade, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if !m.Type().HasBids() {
		return nil, fmt.Errorf("clear %s: %w", m, market.ErrWrongMarketType)
	}
	if m.ReadOnly() {
		return nil, nil
	}

	recs := algo.Match(m.SortedBids(), m.SortedOffers())
	var trades []*market.Trade
	// an order matched more than once continues under its residual id
	residuals := make(map[string]string)
	resolve := func(id string) string {
		for {
			next, ok := residuals[id]
			if !ok {
				return id
			}
			id = next
		}
	}
	for _, rec := range recs {
		trade, err := m.AcceptBidOfferPair(resolve(rec.BidID), resolve(rec.OfferID), rec.Rate, rec.Info, rec.Energy)
		if err != nil {
			if market.IsRecoverable(err) {
				log.Debugw("recommendation_skipped", "market", m.ID(), "bid", rec.BidID, "offer", rec.OfferID, "err", err)
				continue
			}
			if errors.Is(err, market.ErrMarketReadOnly) {
				return trades, nil
			}
			return trades, fmt.Errorf("clear %s: %w", m, err)
		}
		if trade.BidResidual != nil {
			residuals[trade.Bid.ID] = trade.BidResidual.ID
		}
		if trade.OfferResidual != nil {
			residuals[trade.Offer.ID] = trade.OfferResidual.ID
		}
		trades = append(trades, trade)
	}
	if len(trades) > 0 {
		log.Infow("market_cleared", "market", m.ID(), "algorithm", algo.Name(), "trades", len(trades))
	}
	return trades, nil
}
