package util

import (
	"sync"
	"time"
)

// SlotClock is simulated time: it starts at a slot boundary and moves one
// tick at a time.
type SlotClock struct {
	mu         sync.RWMutex
	start      time.Time
	slotLength time.Duration
	perSlot    int
	tick       int
}

func NewSlotClock(start time.Time, slotLength time.Duration, ticksPerSlot int) *SlotClock {
	return &SlotClock{start: start, slotLength: slotLength, perSlot: ticksPerSlot}
}

func (c *SlotClock) tickLength() time.Duration {
	return c.slotLength / time.Duration(c.perSlot)
}

func (c *SlotClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start.Add(time.Duration(c.tick) * c.tickLength())
}

// Advance moves one tick forward and reports whether a new slot started.
func (c *SlotClock) Advance() (tick int, newSlot bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	return c.tick, c.tick%c.perSlot == 0
}

func (c *SlotClock) Tick() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tick
}

// CurrentSlot is the start of the slot the clock is in.
func (c *SlotClock) CurrentSlot() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start.Add(time.Duration(c.tick/c.perSlot) * c.slotLength)
}

// TickInSlot is the tick's position within its slot, from 0.
func (c *SlotClock) TickInSlot() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tick % c.perSlot
}

func (c *SlotClock) SlotLength() time.Duration { return c.slotLength }
