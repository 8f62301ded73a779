package matching

import (
	"math"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// PayAsClear finds where the demand curve (bids, highest rate first) meets
// the supply curve (offers, cheapest first) and trades every matched pair
// at one clearing rate: the midpoint of the marginal bid and offer rates.
type PayAsClear struct{}

func (PayAsClear) Name() string { return "pay_as_clear" }

// ClearingPoint returns the clearing rate and the volume that crosses. ok
// is false when no bid reaches any offer.
func (PayAsClear) ClearingPoint(bids []*market.Bid, offers []*market.Offer) (rate, volume float64, ok bool) {
	i, j := 0, 0
	var bidLeft, offerLeft float64
	if len(bids) > 0 {
		bidLeft = bids[0].Energy
	}
	if len(offers) > 0 {
		offerLeft = offers[0].Energy
	}
	var marginalBid, marginalOffer float64
	for i < len(bids) && j < len(offers) && bids[i].Rate() >= offers[j].Rate() {
		marginalBid, marginalOffer = bids[i].Rate(), offers[j].Rate()
		q := math.Min(bidLeft, offerLeft)
		volume += q
		bidLeft -= q
		offerLeft -= q
		ok = true
		if bidLeft <= 0 {
			i++
			if i < len(bids) {
				bidLeft = bids[i].Energy
			}
		}
		if offerLeft <= 0 {
			j++
			if j < len(offers) {
				offerLeft = offers[j].Energy
			}
		}
	}
	if !ok {
		return 0, 0, false
	}
	return (marginalBid + marginalOffer) / 2, volume, true
}

func (p PayAsClear) Match(bids []*market.Bid, offers []*market.Offer) []Recommendation {
	rate, volume, ok := p.ClearingPoint(bids, offers)
	if !ok {
		return nil
	}

	offerLeft := make([]float64, len(offers))
	for k, o := range offers {
		offerLeft[k] = o.Energy
	}

	var recs []Recommendation
	for _, bid := range bids {
		if bid.Rate() < rate || volume <= 0 {
			break
		}
		left := bid.Energy
		for k, offer := range offers {
			if left <= 0 || volume <= 0 {
				break
			}
			if offer.Rate() > rate {
				break
			}
			if offerLeft[k] <= 0 || offer.Seller.Identity() == bid.Buyer.Identity() {
				continue
			}
			q := math.Min(math.Min(left, offerLeft[k]), volume)
			recs = append(recs, Recommendation{
				BidID:   bid.ID,
				OfferID: offer.ID,
				Energy:  q,
				Rate:    rate,
			})
			left -= q
			offerLeft[k] -= q
			volume -= q
		}
	}
	return recs
}
