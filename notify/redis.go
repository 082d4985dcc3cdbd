package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream notifications are appended to.
const DefaultStream = "clipqueue:notifications"

// RedisOption configures a Redis notifier.
type RedisOption func(*Redis)

// WithStream overrides the stream key.
func WithStream(stream string) RedisOption {
	return func(r *Redis) { r.stream = stream }
}

// WithMaxLen caps the stream length (approximate trimming).
func WithMaxLen(n int64) RedisOption {
	return func(r *Redis) { r.maxLen = n }
}

// WithCodec sets the frame codec.
func WithCodec(c Codec) RedisOption {
	return func(r *Redis) { r.codec = c }
}

// WithConsumer sets the consumer group and consumer name used by Receive.
func WithConsumer(group, consumer string) RedisOption {
	return func(r *Redis) {
		r.group = group
		r.consumer = consumer
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// Redis publishes notifications to a Redis stream and, when configured with
// a consumer group, reads them back for an in-process worker pool. Each
// entry carries the encoded frame, the codec name, and the job id.
type Redis struct {
	client   goredis.Cmdable
	stream   string
	maxLen   int64
	codec    Codec
	group    string
	consumer string
	block    time.Duration
	logger   *slog.Logger
}

var (
	_ Notifier = (*Redis)(nil)
	_ Source   = (*Redis)(nil)
)

// NewRedis creates a Redis stream notifier. The caller owns the client.
func NewRedis(client goredis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client:   client,
		stream:   DefaultStream,
		maxLen:   100_000,
		codec:    MsgpackCodec{},
		group:    "executors",
		consumer: "clipqueue",
		block:    time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify appends n to the stream.
func (r *Redis) Notify(ctx context.Context, n Notification) error {
	frame, err := r.codec.Encode(n)
	if err != nil {
		return fmt.Errorf("notify/redis: encode: %w", err)
	}
	err = r.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"job_id": n.JobID,
			"event":  n.Event,
			"codec":  r.codec.Name(),
			"frame":  frame,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("notify/redis: xadd: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group if it does not exist.
func (r *Redis) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("notify/redis: create group: %w", err)
	}
	return nil
}

// Receive reads the next entry for this consumer and acknowledges it.
// Acknowledging before execution is safe because the job row, not the
// stream entry, is the source of truth; a lost entry is re-sent by
// reconciliation.
func (r *Redis) Receive(ctx context.Context) (Notification, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Notification{}, err
		}
		streams, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.stream, ">"},
			Count:    1,
			Block:    r.block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return Notification{}, fmt.Errorf("notify/redis: xreadgroup: %w", err)
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				n, decErr := r.decode(msg)
				if ackErr := r.client.XAck(ctx, r.stream, r.group, msg.ID).Err(); ackErr != nil {
					r.logger.Warn("notify/redis: ack failed",
						slog.String("entry", msg.ID),
						slog.String("error", ackErr.Error()),
					)
				}
				if decErr != nil {
					r.logger.Warn("notify/redis: dropping undecodable entry",
						slog.String("entry", msg.ID),
						slog.String("error", decErr.Error()),
					)
					continue
				}
				return n, nil
			}
		}
	}
}

func (r *Redis) decode(msg goredis.XMessage) (Notification, error) {
	raw, ok := msg.Values["frame"].(string)
	if !ok {
		return Notification{}, errors.New("missing frame")
	}
	name, _ := msg.Values["codec"].(string)
	codec, err := CodecByName(name)
	if err != nil {
		return Notification{}, err
	}
	return codec.Decode([]byte(raw))
}
