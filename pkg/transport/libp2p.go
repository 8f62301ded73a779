package transport

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/pkg/util"
)

// Libp2pChannel publishes over GossipSub. A node does not receive its own
// messages back.
type Libp2pChannel struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   []*pubsub.Subscription
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewLibp2pChannel(ctx context.Context, cfg Libp2pConfig) (*Libp2pChannel, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, err
	}

	c := &Libp2pChannel{
		h:      h,
		ps:     ps,
		log:    util.OrNop(cfg.Logger),
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
	}
	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			c.log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}
	c.log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return c, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// topic joins lazily; pubsub refuses to join the same topic twice.
func (c *Libp2pChannel) topic(name string) (*pubsub.Topic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics == nil {
		return nil, ErrClosed
	}
	if t, ok := c.topics[name]; ok {
		return t, nil
	}
	t, err := c.ps.Join(name)
	if err != nil {
		return nil, err
	}
	c.topics[name] = t
	return t, nil
}

func (c *Libp2pChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	t, err := c.topic(topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, payload)
}

func (c *Libp2pChannel) Subscribe(topic string, fn func([]byte)) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	t, err := c.topic(topic)
	if err != nil {
		return err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	go c.deliver(sub, fn)
	return nil
}

func (c *Libp2pChannel) deliver(sub *pubsub.Subscription, fn func([]byte)) {
	self := c.h.ID()
	for {
		msg, err := sub.Next(c.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		fn(msg.Data)
	}
}

func (c *Libp2pChannel) Close() error {
	c.cancel()
	c.mu.Lock()
	for _, s := range c.subs {
		s.Cancel()
	}
	for _, t := range c.topics {
		_ = t.Close()
	}
	c.subs, c.topics = nil, nil
	c.mu.Unlock()
	return c.h.Close()
}
