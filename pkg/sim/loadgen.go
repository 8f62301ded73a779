package sim

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
)

// LoadGenerator stands in for device strategies in the demo node: every
// house has a PV that sells and a load that buys. It draws everything,
// order ids included, from one seeded source.
type LoadGenerator struct {
	houses       []string
	twoSided     bool
	ticksPerSlot int
	rng          *rand.Rand

	// offers posted this slot, withdrawn late in the slot if unsold
	posted []Action
}

type LoadGeneratorConfig struct {
	Seed         int64
	Houses       []string
	TwoSided     bool
	TicksPerSlot int
}

func NewLoadGenerator(cfg LoadGeneratorConfig) *LoadGenerator {
	return &LoadGenerator{
		houses:       cfg.Houses,
		twoSided:     cfg.TwoSided,
		ticksPerSlot: cfg.TicksPerSlot,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (g *LoadGenerator) newID() string {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// between draws uniformly from [lo, hi).
func (g *LoadGenerator) between(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// Generate returns the device actions for one tick of a slot.
func (g *LoadGenerator) Generate(tickInSlot int) []Action {
	var out []Action
	switch {
	case tickInSlot == 0:
		g.posted = g.posted[:0]
		for _, h := range g.houses {
			energy := g.between(0.5, 3)
			offer := Action{
				Kind:    ActionOffer,
				Area:    h,
				OrderID: g.newID(),
				Energy:  energy,
				Price:   energy * g.between(10, 20),
				Trader:  market.Trader{Name: fmt.Sprintf("pv_%s", h)},
			}
			out = append(out, offer)
			g.posted = append(g.posted, offer)

			if g.twoSided {
				energy := g.between(0.5, 3)
				out = append(out, Action{
					Kind:   ActionBid,
					Area:   h,
					Energy: energy,
					Price:  energy * g.between(12, 30),
					Trader: market.Trader{Name: fmt.Sprintf("load_%s", h)},
				})
			}
		}
	case !g.twoSided && tickInSlot == g.ticksPerSlot/2:
		for _, h := range g.houses {
			energy := g.between(0.5, 3)
			out = append(out, Action{
				Kind:   ActionAccept,
				Area:   h,
				Energy: energy,
				Price:  energy * g.between(12, 30),
				Trader: market.Trader{Name: fmt.Sprintf("load_%s", h)},
			})
		}
	case tickInSlot == g.ticksPerSlot-1:
		// some sellers give up on what is left
		for _, p := range g.posted {
			if g.rng.Intn(4) == 0 {
				out = append(out, Action{Kind: ActionDeleteOffer, Area: p.Area, OrderID: p.OrderID, Trader: p.Trader})
			}
		}
	}
	return out
}
