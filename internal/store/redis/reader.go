package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"smc-engine/internal/model"
	"smc-engine/internal/ringbuf"
	"smc-engine/internal/smc"

	goredis "github.com/go-redis/redis/v8"
)

const (
	snapshotTTL    = 24 * time.Hour
	replayPageSize = 1000
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "smcengine"
	ConsumerName  string // unique consumer name, e.g. hostname
}

// Reader reads closed bars from Redis Streams via consumer groups and
// manages engine snapshots.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string

	// OnReclaim is called by StartPELReclaimer after messages were claimed.
	OnReclaim func(stream string, n int)
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "smcengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// EnsureConsumerGroup creates the consumer group on each stream if missing.
// Fresh groups start at "$" (new messages only).
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// EnsureConsumerGroupFrom creates the group at startID, or moves an existing
// group there. Used after a snapshot restore.
func (r *Reader) EnsureConsumerGroupFrom(ctx context.Context, stream, startID string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, startID).Err()
	if err == nil {
		return nil
	}
	if isBusyGroup(err) {
		return r.client.XGroupSetID(ctx, stream, r.consumerGroup, startID).Err()
	}
	return fmt.Errorf("xgroup create from %s at %s: %w", stream, startID, err)
}

// decodeBar parses the "data" field of a bar stream message.
func decodeBar(msg goredis.XMessage) (model.Bar, bool) {
	var bar model.Bar
	data, ok := msg.Values["data"].(string)
	if !ok {
		return bar, false
	}
	if err := json.Unmarshal([]byte(data), &bar); err != nil {
		log.Printf("[redis-reader] bad bar message %s: %v", msg.ID, err)
		return bar, false
	}
	return bar, true
}

// deliver decodes msg, sends it to out and ACKs it. Undecodable messages are
// ACKed so they do not come back.
func (r *Reader) deliver(ctx context.Context, stream string, msg goredis.XMessage, out chan<- model.Bar) error {
	bar, ok := decodeBar(msg)
	if ok {
		select {
		case out <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
	return nil
}

// ConsumeBars reads closed bars with XREADGROUP and sends them to out,
// ACKing each after hand-off. Blocks until ctx is cancelled.
func (r *Reader) ConsumeBars(ctx context.Context, streams []string, out chan<- model.Bar) error {
	// [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				if err := r.deliver(ctx, stream.Stream, msg, out); err != nil {
					return err
				}
			}
		}
	}
}

// RecoverPending claims and re-delivers messages left unACKed by a previous
// run of this consumer.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.Bar) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim error on %s: %v", stream, err)
				break
			}

			for _, msg := range claimed {
				if err := r.deliver(ctx, stream, msg, out); err != nil {
					return err
				}
			}

			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// ReclaimStale claims entries idle longer than minIdle from other consumers
// of the group and re-delivers them. Returns the number delivered.
func (r *Reader) ReclaimStale(ctx context.Context, stream string, minIdle time.Duration, out chan<- model.Bar) (int, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  50,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0, err
	}

	var stale []string
	for _, p := range pending {
		if p.Consumer != r.consumerName {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		MinIdle:  minIdle,
		Messages: stale,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	for _, msg := range claimed {
		if err := r.deliver(ctx, stream, msg, out); err != nil {
			return 0, err
		}
	}
	if len(claimed) > 0 {
		log.Printf("[redis-reader] reclaimed %d stale entries from %s", len(claimed), stream)
	}
	return len(claimed), nil
}

// StartPELReclaimer periodically runs ReclaimStale over streams until ctx is
// cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, out chan<- model.Bar) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range streams {
				n, err := r.ReclaimStale(ctx, stream, minIdle, out)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("[redis-reader] PEL reclaim error on %s: %v", stream, err)
				}
				if n > 0 && r.OnReclaim != nil {
					r.OnReclaim(stream, n)
				}
			}
		}
	}
}

// ReplayFromID sends every bar after startID on stream to out, oldest first.
// Returns the last ID read.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.Bar) (string, error) {
	lastID := startID
	for {
		results, err := r.client.XRangeN(ctx, stream, "("+lastID, "+", replayPageSize).Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}

		for _, msg := range results {
			lastID = msg.ID
			bar, ok := decodeBar(msg)
			if !ok {
				continue
			}
			select {
			case out <- bar:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < replayPageSize {
			return lastID, nil
		}
	}
}

// DiscoverBarStreams returns the existing bar streams for every TF and
// "exchange:token" key.
func (r *Reader) DiscoverBarStreams(ctx context.Context, tfs []int, keys []string) []string {
	var streams []string
	for _, tf := range tfs {
		for _, key := range keys {
			stream := model.BarStreamKey(tf, key)
			exists, err := r.client.Exists(ctx, stream).Result()
			if err == nil && exists > 0 {
				streams = append(streams, stream)
			}
		}
	}
	return streams
}

// ReadSnapshot loads an engine snapshot. Returns nil, nil when none exists.
func (r *Reader) ReadSnapshot(ctx context.Context, key string) (*smc.EngineSnapshot, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", key, err)
	}
	return smc.UnmarshalEngineSnapshot(data)
}

// WriteSnapshot stores an engine snapshot for 24h. SQLite keeps the durable copy.
func (r *Reader) WriteSnapshot(ctx context.Context, key string, snap *smc.EngineSnapshot) error {
	data, err := smc.MarshalEngineSnapshot(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.client.Set(ctx, key, data, snapshotTTL).Err()
}

// ReadLatestUpdate returns the last confirmed update for a detector, or
// nil, nil when there is none.
func (r *Reader) ReadLatestUpdate(ctx context.Context, tf int, key string) (*model.BlockUpdate, error) {
	exchange, token := model.SplitKey(key)
	probe := model.BlockUpdate{Exchange: exchange, Token: token, TF: tf}
	data, err := r.client.Get(ctx, probe.LatestKey()).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", probe.LatestKey(), err)
	}
	var upd model.BlockUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", probe.LatestKey(), err)
	}
	return &upd, nil
}

// SubscribeFormingBars pattern-subscribes to "pub:bar:*" and pushes forming
// bars into ring. Closed bars are ignored; they arrive via the streams.
// A full ring drops the bar. Blocks until ctx is cancelled.
func (r *Reader) SubscribeFormingBars(ctx context.Context, ring *ringbuf.Ring[model.Bar]) error {
	pubsub := r.client.PSubscribe(ctx, "pub:bar:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var bar model.Bar
			if err := json.Unmarshal([]byte(msg.Payload), &bar); err != nil {
				continue
			}
			if !bar.Forming {
				continue
			}
			ring.Push(bar)
		}
	}
}

// SubscribeChannel subscribes to a Pub/Sub channel and waits for the
// confirmation. Returns nil if the subscription failed.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish publishes a message to a Pub/Sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
