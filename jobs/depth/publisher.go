// Package depth periodically publishes top-of-book snapshots per pair.
package depth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"clob/domain/orderbook"
	"clob/domain/registry"
	"clob/infra/kafka"
)

const levels = 10

type Snapshot struct {
	Pair string                  `json:"pair"`
	Bids []orderbook.PriceVolume `json:"bids"`
	Asks []orderbook.PriceVolume `json:"asks"`
	Ts   int64                   `json:"ts"`
}

type Publisher struct {
	registry *registry.Registry
	producer *kafka.Producer
	interval time.Duration
	log      *logrus.Logger
}

func New(reg *registry.Registry, producer *kafka.Producer, interval time.Duration, log *logrus.Logger) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Publisher{registry: reg, producer: producer, interval: interval, log: log}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce(ctx)
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) {
	for _, book := range p.registry.Pairs() {
		bids, asks := book.Depth(levels)
		snap := Snapshot{
			Pair: book.Pair(),
			Bids: bids,
			Asks: asks,
			Ts:   time.Now().UnixNano(),
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := p.producer.Send(ctx, []byte(book.Pair()), payload); err != nil {
			p.log.WithError(err).WithField("pair", book.Pair()).Warn("depth publish failed")
		}
	}
}
