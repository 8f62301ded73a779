package market

import "errors"

var (
	ErrMarketReadOnly      = errors.New("market is read-only")
	ErrOfferNotFound       = errors.New("offer not found")
	ErrBidNotFound         = errors.New("bid not found")
	ErrInvalidOffer        = errors.New("invalid offer")
	ErrInvalidBid          = errors.New("invalid bid")
	ErrInvalidTrade        = errors.New("invalid trade")
	ErrWrongMarketType     = errors.New("wrong market type")
	ErrInvalidBidOfferPair = errors.New("invalid bid/offer pair")
)

// IsRecoverable reports whether err only means "this candidate is gone,
// try the next one".
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrOfferNotFound) ||
		errors.Is(err, ErrBidNotFound) ||
		errors.Is(err, ErrInvalidBidOfferPair)
}
