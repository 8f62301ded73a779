// Package transport carries market records between nodes over a
// publish/subscribe channel.
package transport

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var ErrClosed = errors.New("channel closed")

// Channel is a topic based publish/subscribe medium. Handlers must not
// block; remote implementations call them from their own goroutine.
type Channel interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, fn func(payload []byte)) error
	Close() error
}

// LocalChannel delivers in process, synchronously, in subscription order.
type LocalChannel struct {
	mu     sync.RWMutex
	subs   map[string][]func([]byte)
	closed bool
}

func NewLocalChannel() *LocalChannel {
	return &LocalChannel{subs: make(map[string][]func([]byte))}
}

func (c *LocalChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	// handlers may subscribe while being called
	subs := slices.Clone(c.subs[topic])
	c.mu.RUnlock()

	for _, fn := range subs {
		fn(append([]byte(nil), payload...))
	}
	return nil
}

func (c *LocalChannel) Subscribe(topic string, fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.subs[topic] = append(c.subs[topic], fn)
	return nil
}

func (c *LocalChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.subs = nil
	c.mu.Unlock()
	return nil
}
