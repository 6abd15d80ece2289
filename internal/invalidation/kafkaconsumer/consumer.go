package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/postgis-collections/internal/core/observability"
	"github.com/mohammed-shakir/postgis-collections/internal/invalidation"
	mylog "github.com/mohammed-shakir/postgis-collections/internal/logger"
)

// Evictor drops cached features.
type Evictor interface {
	Invalidate(ctx context.Context, collection string, ids []string) error
}

// Resolver expands an event's collection name into every collection id
// serving the same rows.
type Resolver interface {
	Resolve(name string) []string
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	cache    Evictor
	resolver Resolver
	seen     *offsetDedupe
	zlog     *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, c Evictor, r Resolver) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	zl := zerolog.Nop()
	return &Consumer{
		cfg:      cfg,
		logger:   logger,
		cache:    c,
		resolver: r,
		seen:     newOffsetDedupe(cfg.DedupeSize),
		zlog:     &zl,
	}
}

// Start consumes invalidation events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache")
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

	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	zl := mylog.Build(mylog.Config{
		Level:     c.cfg.LogLevel,
		Service:   "collectiond",
		Component: "kafka_consumer",
	}, nil)
	c.zlog = mylog.FromContext(base, &zl)

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single invalidation message. A nil error means the
// offset may be committed.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	partKey := msg.Topic + "/" + strconv.Itoa(int(msg.Partition))
	if c.seen.applied(partKey, msg.Offset) {
		obs.IncInvalidationEvent("duplicate")
		return nil
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidationEvent("decode_error")
		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		// a poison message is skipped, not retried
		c.seen.record(partKey, msg.Offset)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidationEvent("invalid")
		c.logger.Warn("dropping invalid invalidation event", "err", err, "offset", msg.Offset)
		c.seen.record(partKey, msg.Offset)
		return nil
	}

	targets := c.targets(ev.Collection)
	ids := ev.IDs()
	for _, coll := range targets {
		if err := c.cache.Invalidate(ctx, coll, ids); err != nil {
			obs.IncInvalidationEvent("evict_error")
			mylog.FromContext(ctx, c.zlog).Error().
				Str("kind", "evict").
				Str("collection", coll).
				Int32("partition", msg.Partition).
				Int("ids", len(ids)).
				Msg("kafka error")
			return fmt.Errorf("evict %s: %w", coll, err)
		}
	}

	c.seen.record(partKey, msg.Offset)
	obs.IncInvalidationEvent("applied")
	c.logger.Debug("invalidated features",
		"collection", ev.Collection, "op", ev.Op, "targets", len(targets), "ids", len(ids),
		"duration", time.Since(start))
	return nil
}

func (c *Consumer) targets(name string) []string {
	if c.resolver != nil {
		if out := c.resolver.Resolve(name); len(out) > 0 {
			return out
		}
	}
	return []string{name}
}
