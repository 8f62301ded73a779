package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/gridsingularity/gsy-e-sub006/pkg/market"
	"github.com/gridsingularity/gsy-e-sub006/pkg/util"
)

const DefaultTopic = "gsy-market-records"

// Publisher is a market listener that puts every publishable event on a
// channel. Failures are logged and dropped; the markets never see them.
type Publisher struct {
	ctx   context.Context
	ch    Channel
	topic string
	log   *zap.SugaredLogger
}

func NewPublisher(ctx context.Context, ch Channel, topic string, log *zap.SugaredLogger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{ctx: ctx, ch: ch, topic: topic, log: util.OrNop(log)}
}

func (p *Publisher) OnMarketEvent(ev market.Event) {
	rec, ok := FromEvent(ev)
	if !ok {
		return
	}
	data, err := rec.Encode()
	if err != nil {
		p.log.Warnw("record_encode_failed", "kind", rec.Kind, "id", rec.ID, "err", err)
		return
	}
	if err := p.ch.Publish(p.ctx, p.topic, data); err != nil {
		p.log.Warnw("record_publish_failed", "kind", rec.Kind, "id", rec.ID, "topic", p.topic, "err", err)
	}
}

// Listen decodes records arriving on topic and hands them to fn.
// Undecodable payloads are logged and skipped.
func Listen(ch Channel, topic string, log *zap.SugaredLogger, fn func(Record)) error {
	if topic == "" {
		topic = DefaultTopic
	}
	log = util.OrNop(log)
	return ch.Subscribe(topic, func(data []byte) {
		rec, err := DecodeRecord(data)
		if err != nil {
			log.Debugw("record_dropped", "topic", topic, "err", err)
			return
		}
		fn(rec)
	})
}
