// Package fees implements the grid-fee transforms applied to an order each
// time it crosses a market boundary.
//
// Offers pay the fee of every market they are posted into (ApplyIncomingFee).
// Bids pay the fee of every market they are forwarded out of
// (ApplyOutgoingFee). Every trade recorded in a market attributes exactly that
// market's share to the trade, so the revenues collected along a forwarding
// path add up to what the final buyer paid minus what the final seller
// received.
package fees

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Tolerance used when comparing rates re-derived through a fee chain.
const Tolerance = 1e-6

// ErrFeeChainBroken means a forwarded order's rate could not be reconciled
// with its source order. It indicates a protocol bug, never a race.
var ErrFeeChainBroken = errors.New("fee chain broken")

// Type selects how a market's fee rate is interpreted.
type Type int8

const (
	ConstantType   Type = iota // currency per kWh
	PercentageType             // fraction of the rate
)

func (t Type) String() string {
	switch t {
	case ConstantType:
		return "constant"
	case PercentageType:
		return "percentage"
	default:
		return "unknown"
	}
}

// ParseType accepts "constant" or "percentage" (case-insensitive).
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "constant", "1":
		return ConstantType, nil
	case "percentage", "2":
		return PercentageType, nil
	default:
		return 0, fmt.Errorf("unknown grid fee type %q", s)
	}
}

// Calculator converts rates across one market boundary. Implementations are
// pure and stateless apart from the configured rate.
type Calculator interface {
	Type() Type
	Rate() float64

	// ApplyIncomingFee is the rate visible in this market for an offer
	// posted at rate.
	ApplyIncomingFee(rate float64) float64
	// RemoveIncomingFee inverts ApplyIncomingFee.
	RemoveIncomingFee(rate float64) float64
	// ApplyOutgoingFee is the rate of a bid forwarded out of this market.
	ApplyOutgoingFee(rate float64) float64
	// RemoveOutgoingFee inverts ApplyOutgoingFee.
	RemoveOutgoingFee(rate float64) float64

	// TradePriceAndFees returns the total trade price and this market's fee
	// revenue for a trade of energy at info.TradeRate.
	TradePriceAndFees(info TradeInfo, energy float64) (price, fee float64)
}

// New returns the calculator for the given fee type.
func New(t Type, rate float64) (Calculator, error) {
	if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("invalid grid fee rate %v", rate)
	}
	switch t {
	case ConstantType:
		return Constant{FeeRate: rate}, nil
	case PercentageType:
		return Percentage{FeeRate: rate}, nil
	default:
		return nil, fmt.Errorf("unknown grid fee type %d", t)
	}
}

// None is a calculator that charges nothing.
func None() Calculator { return Constant{} }

// CheckChain compares the visible rate of a source order with the rate
// derived back from its forwarded clone.
func CheckChain(expected, derived float64) error {
	if math.Abs(expected-derived) > Tolerance*math.Max(1, math.Abs(expected)) {
		return fmt.Errorf("%w: expected source rate %.9f, derived %.9f", ErrFeeChainBroken, expected, derived)
	}
	return nil
}

// Constant charges a fixed amount per kWh.
type Constant struct {
	FeeRate float64
}

func (c Constant) Type() Type    { return ConstantType }
func (c Constant) Rate() float64 { return c.FeeRate }

func (c Constant) ApplyIncomingFee(rate float64) float64  { return rate + c.FeeRate }
func (c Constant) RemoveIncomingFee(rate float64) float64 { return rate - c.FeeRate }
func (c Constant) ApplyOutgoingFee(rate float64) float64  { return rate - c.FeeRate }
func (c Constant) RemoveOutgoingFee(rate float64) float64 { return rate + c.FeeRate }

func (c Constant) TradePriceAndFees(info TradeInfo, energy float64) (float64, float64) {
	price := info.TradeRate * energy
	fee := c.FeeRate * energy
	if fee > price {
		fee = price
	}
	return price, fee
}

// Percentage charges a fraction of the rate; fees compound multiplicatively
// along a path.
type Percentage struct {
	FeeRate float64
}

func (p Percentage) Type() Type    { return PercentageType }
func (p Percentage) Rate() float64 { return p.FeeRate }

func (p Percentage) ApplyIncomingFee(rate float64) float64  { return rate * (1 + p.FeeRate) }
func (p Percentage) RemoveIncomingFee(rate float64) float64 { return rate / (1 + p.FeeRate) }
func (p Percentage) ApplyOutgoingFee(rate float64) float64  { return rate / (1 + p.FeeRate) }
func (p Percentage) RemoveOutgoingFee(rate float64) float64 { return rate * (1 + p.FeeRate) }

func (p Percentage) TradePriceAndFees(info TradeInfo, energy float64) (float64, float64) {
	price := info.TradeRate * energy
	return price, price - price/(1+p.FeeRate)
}
