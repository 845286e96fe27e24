package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"basenames-agent-go/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	readBatch    = 16
	retryBackoff = 300 * time.Millisecond
)

// Handler consumes one inbound chat event. It must not block on long work.
type Handler interface {
	Handle(ctx context.Context, msg models.InboundMessage)
}

// Bridge exchanges chat events with the messaging transport through Redis Streams.
// The transport process appends inbound events and delivers what the agent appends outbound.
type Bridge struct {
	client   *redis.Client
	inbound  string
	outbound string
	group    string
	consumer string
	block    time.Duration
}

// NewRedisClient connects and pings the Redis server at url
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	zap.L().Info("Redis connected", zap.String("addr", opts.Addr))
	return client, nil
}

func NewBridge(client *redis.Client, cfg models.MessagingConfig) *Bridge {
	block := cfg.BlockTimeout
	if block <= 0 {
		block = 2 * time.Second
	}
	return &Bridge{
		client:   client,
		inbound:  cfg.InboundStream,
		outbound: cfg.OutboundStream,
		group:    cfg.ConsumerGroup,
		consumer: cfg.ConsumerName,
		block:    block,
	}
}

// Send queues text for delivery to a conversation
func (b *Bridge) Send(ctx context.Context, conversationId, text string) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.outbound,
		Values: map[string]any{
			"conversation_id": conversationId,
			"content":         text,
			"sent_at":         time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to queue outbound message: %w", err)
	}
	return nil
}

// Run feeds inbound events to handler one at a time in stream order until ctx is done.
// Entries left unacknowledged by a previous run are replayed first.
func (b *Bridge) Run(ctx context.Context, handler Handler) error {
	if err := b.ensureGroup(ctx); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	zap.L().Info("Consuming inbound messages",
		zap.String("stream", b.inbound),
		zap.String("group", b.group),
		zap.String("consumer", b.consumer))

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := b.readGroup(ctx, "0", -1)
		if err == nil && len(msgs) == 0 {
			msgs, err = b.readGroup(ctx, ">", b.block)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			zap.L().Warn("Failed to read inbound stream", zap.Error(err))
			sleep(ctx, retryBackoff)
			continue
		}

		for _, xm := range msgs {
			if ctx.Err() != nil {
				return nil
			}
			b.processOne(ctx, xm, handler)
		}
	}
}

func (b *Bridge) processOne(ctx context.Context, xm redis.XMessage, handler Handler) {
	msg, err := parseInbound(xm.ID, xm.Values)
	if err != nil {
		zap.L().Warn("Dropping malformed inbound entry",
			zap.String("entry_id", xm.ID),
			zap.Error(err))
	} else {
		handler.Handle(ctx, msg)
	}

	if err := b.ack(context.WithoutCancel(ctx), xm.ID); err != nil {
		zap.L().Error("Failed to ack inbound entry",
			zap.String("entry_id", xm.ID),
			zap.Error(err))
	}
}

func (b *Bridge) ensureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.inbound, b.group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (b *Bridge) readGroup(ctx context.Context, streamId string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.consumer,
		Streams:  []string{b.inbound, streamId},
		Count:    readBatch,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (b *Bridge) ack(ctx context.Context, id string) error {
	pipe := b.client.TxPipeline()
	pipe.XAck(ctx, b.inbound, b.group, id)
	pipe.XDel(ctx, b.inbound, id)
	_, err := pipe.Exec(ctx)
	return err
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
