package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"smc-engine/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// Stream trimming: ~3h of updates per TF, never below minStreamLen
	streamWindowSec = 10800
	minStreamLen    = 200
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes order block updates and bars to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
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

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return minStreamLen
	}
	n := int64(streamWindowSec/tf) + 100
	if n < minStreamLen {
		n = minStreamLen
	}
	return n
}

// WriteUpdateBatch writes block updates in a single Redis pipeline.
// Confirmed updates get XADD + SET latest + PUBLISH; live previews are
// published only. Updates from detectors that are not ready are skipped.
func (w *Writer) WriteUpdateBatch(ctx context.Context, updates []model.BlockUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	queued := 0
	for i := range updates {
		upd := &updates[i]
		if !upd.Ready {
			continue
		}

		jsonBytes := upd.JSON()
		// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

		if upd.Live {
			pipe.Publish(ctx, upd.PubSubChannel(), jsonData)
			queued++
			continue
		}

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: upd.StreamKey(),
			MaxLen: streamMaxLen(upd.TF),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, upd.LatestKey(), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, upd.PubSubChannel(), jsonData)
		queued++
	}
	if queued == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis update pipeline (%d updates): %w", len(updates), err)
	}
	return nil
}

// WriteBar appends a bar to its TF stream, or publishes it when forming.
// Used by feed tools and tests to drive the engine through Redis.
func (w *Writer) WriteBar(ctx context.Context, bar model.Bar) error {
	jsonData := string(bar.JSON())
	if bar.Forming {
		return w.client.Publish(ctx, bar.PubSubChannel(), jsonData).Err()
	}
	return w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: bar.StreamKey(),
		MaxLen: streamMaxLen(bar.TF),
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	}).Err()
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
