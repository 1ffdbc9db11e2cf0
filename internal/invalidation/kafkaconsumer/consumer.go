// Package kafkaconsumer consumes layer-catalog change events and purges
// the affected cache entries.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/opendmis/map-session/internal/invalidation"
	obs "github.com/opendmis/map-session/internal/observability"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

func DefaultConfig(brokers []string, topic, groupID string) Config {
	return Config{
		Brokers:             brokers,
		Topic:               topic,
		GroupID:             groupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
	}
}

type Consumer struct {
	cfg    Config
	log    *zerolog.Logger
	purger *invalidation.Purger
}

func New(cfg Config, log *zerolog.Logger, purger *invalidation.Purger) *Consumer {
	return &Consumer{cfg: cfg, log: log, purger: purger}
}

// Start joins the consumer group and processes events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.purger == nil {
		return errors.New("kafkaconsumer: missing purger")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.log.Info().
		Strs("brokers", c.cfg.Brokers).
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Msg("catalog invalidation consumer starting")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("catalog invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.log.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne decodes and applies a single catalog event message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.ObserveInvalidation("decode", err)
		c.log.Error().Err(err).
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("decode catalog event")
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		obs.ObserveInvalidation(ev.Op, err)
		c.log.Error().Err(err).
			Str("layer", ev.LayerName).
			Str("op", ev.Op).
			Msg("invalid catalog event")
		return fmt.Errorf("validate: %w", err)
	}

	purged, err := c.purger.Purge(ctx, ev)
	obs.ObserveInvalidation(ev.Op, err)
	obs.ObserveUpstreamLatency("kafka_purge", time.Since(start).Seconds())
	if err != nil {
		c.log.Error().Err(err).
			Str("layer", ev.LayerName).
			Str("op", ev.Op).
			Msg("purge failed")
		return fmt.Errorf("purge: %w", err)
	}

	c.log.Info().
		Str("event", "invalidation").
		Str("op", ev.Op).
		Str("layer", ev.LayerName).
		Int("keys", purged).
		Msg("purged cached layer state")
	return nil
}
