package fees

// TradeInfo carries the original (pre-fee) rates of both sides of a match
// through every mirrored trade, so settlement at the origin markets can
// split revenue.
type TradeInfo struct {
	OriginalBidRate     float64 `json:"original_bid_rate"`
	PropagatedBidRate   float64 `json:"propagated_bid_rate"`
	OriginalOfferRate   float64 `json:"original_offer_rate"`
	PropagatedOfferRate float64 `json:"propagated_offer_rate"`
	TradeRate           float64 `json:"trade_rate"`
}

// PropagateOfferInfo converts info from the market an offer clone traded in
// (target) to the market the offer came from. The target market's incoming
// fee stays with the target.
func PropagateOfferInfo(info TradeInfo, target Calculator) TradeInfo {
	out := info
	out.TradeRate = target.RemoveIncomingFee(info.TradeRate)
	if info.PropagatedOfferRate != 0 {
		out.PropagatedOfferRate = target.RemoveIncomingFee(info.PropagatedOfferRate)
	}
	return out
}

// PropagateBidInfo converts info from the market a bid clone traded in to
// the market the bid was forwarded out of (source), adding back the
// source's outgoing fee.
func PropagateBidInfo(info TradeInfo, source Calculator) TradeInfo {
	out := info
	out.TradeRate = source.RemoveOutgoingFee(info.TradeRate)
	if info.PropagatedBidRate != 0 {
		out.PropagatedBidRate = source.RemoveOutgoingFee(info.PropagatedBidRate)
	}
	return out
}
