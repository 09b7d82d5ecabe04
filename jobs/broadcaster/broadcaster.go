// Package broadcaster drains the trade outbox to Kafka. Records move
// NEW -> SENT -> ACKED; anything not acked is retried on the next tick, so
// delivery is at-least-once and consumers must dedupe on trade id.
package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"clob/infra/outbox"
)

type Broadcaster struct {
	box      *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *logrus.Logger
}

func New(box *outbox.Outbox, brokers []string, topic string, interval time.Duration, log *logrus.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newWithProducer(box, producer, topic, interval, log), nil
}

func newWithProducer(box *outbox.Outbox, producer sarama.SyncProducer, topic string, interval time.Duration, log *logrus.Logger) *Broadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Broadcaster{
		box:      box,
		producer: producer,
		topic:    topic,
		interval: interval,
		log:      log,
	}
}

func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("trade broadcaster started")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainOnce()
		}
	}
}

func (b *Broadcaster) drainOnce() {
	err := b.box.ScanPending(func(rec *outbox.Record) error {
		if err := b.box.MarkSent(rec.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.WithError(err).WithField("seq", rec.Seq).Warn("trade publish failed, will retry")
			return nil
		}

		return b.box.MarkAcked(rec.Seq)
	})
	if err != nil {
		b.log.WithError(err).Error("outbox drain failed")
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
