package matching

import (
	"math"
	"sort"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// PayAsBid matches every offer, most expensive first, with the first
// remaining bid that beats it by more than Tolerance. The buyer pays its own
// bid rate.
type PayAsBid struct{}

func (PayAsBid) Name() string { return "pay_as_bid" }

func (PayAsBid) Match(bids []*market.Bid, offers []*market.Offer) []Recommendation {
	byRate := make([]*market.Offer, len(offers))
	copy(byRate, offers)
	sort.SliceStable(byRate, func(i, j int) bool { return byRate[i].Rate() > byRate[j].Rate() })

	usedBids := make(map[string]bool, len(bids))
	var recs []Recommendation

	for _, offer := range byRate {
		for _, bid := range bids {
			if usedBids[bid.ID] {
				continue
			}
			if bid.Rate()-offer.Rate() <= Tolerance {
				// bids are sorted, nothing further down can match
				break
			}
			if bid.Buyer.Identity() == offer.Seller.Identity() {
				continue
			}
			usedBids[bid.ID] = true
			recs = append(recs, Recommendation{
				BidID:   bid.ID,
				OfferID: offer.ID,
				Energy:  math.Min(bid.Energy, offer.Energy),
				Rate:    bid.Rate(),
			})
			break
		}
	}
	return recs
}
