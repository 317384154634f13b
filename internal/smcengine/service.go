// Package smcengine runs the order block detector as a service: it consumes
// closed bars from Redis streams, previews forming bars from Pub/Sub, and
// publishes block updates to Redis and WebSocket clients.
package smcengine

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"smc-engine/config"
	"smc-engine/internal/gateway"
	"smc-engine/internal/metrics"
	"smc-engine/internal/model"
	"smc-engine/internal/ringbuf"
	"smc-engine/internal/smc"
	redisstore "smc-engine/internal/store/redis"
	sqlitestore "smc-engine/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	barChanSize    = 5000
	sqlBarChanSize = 1000
	peekInterval   = 250 * time.Millisecond
	replayMargin   = time.Minute
	livenessEvery  = 10 * time.Second
	shutdownWait   = 3 * time.Second
)

var errStopped = errors.New("smcengine: process loop stopped")

// updateWriter persists block updates. *redisstore.BufferedWriter implements it.
type updateWriter interface {
	Write(ctx context.Context, updates []model.BlockUpdate) error
}

// Service is the top-level orchestrator for the detector engine.
// The engine is owned by processLoop; other goroutines reach it through do.
type Service struct {
	cfg *config.Config

	engine      *smc.Engine
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	breaker     *redisstore.Breaker
	updates     updateWriter
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer

	reg     *prometheus.Registry
	prom    *metrics.Metrics
	health  *metrics.HealthStatus
	hub     *gateway.Hub
	httpSrv *metrics.Server

	streams  []string
	barCh    chan model.Bar
	sqlBarCh chan model.Bar
	peekRing *ringbuf.Ring[model.Bar]
	cmdCh    chan func(*smc.Engine)
	loopDone chan struct{}

	lastOverflow uint64
	now          func() time.Time
}

// newService builds the in-process parts of a Service. Stores are attached
// by New.
func newService(cfg *config.Config) *Service {
	reg := prometheus.NewRegistry()
	svc := &Service{
		cfg:      cfg,
		reg:      reg,
		prom:     metrics.NewMetrics(reg),
		health:   metrics.NewHealthStatus(),
		hub:      gateway.NewHub(),
		barCh:    make(chan model.Bar, barChanSize),
		peekRing: ringbuf.NewRing[model.Bar](cfg.PeekRingSize),
		cmdCh:    make(chan func(*smc.Engine)),
		loopDone: make(chan struct{}),
		now:      time.Now,
	}
	svc.hub.OnClientCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	svc.health.SetEnabledTFs(cfg.EnabledTFs)
	return svc
}

// New creates a Service from cfg. It connects to Redis and opens SQLite;
// SQLite failures are logged and the service runs without it.
func New(cfg *config.Config) (*Service, error) {
	svc := newService(cfg)

	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}
	svc.redisReader.OnReclaim = func(stream string, n int) {
		svc.prom.PELMessagesReclaimed.Add(float64(n))
		log.Printf("[smcengine] reclaimed %d stale PEL messages on %s", n, stream)
	}

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}
	svc.health.SetRedisConnected(true)

	svc.breaker = redisstore.NewBreaker(cfg.BreakerFailures, cfg.BreakerCoolDown())
	svc.breaker.OnStateChange = func(from, to redisstore.BreakerState) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.BreakerOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[smcengine] redis circuit breaker %s -> %s", from, to)
	}
	buffered := redisstore.NewBufferedWriter(svc.redisWriter, svc.breaker)
	buffered.OnBuffer = func(pending int) { svc.prom.RedisBufferedUpdates.Set(float64(pending)) }
	buffered.OnFlush = func(count int) {
		svc.prom.RedisBufferedUpdates.Set(0)
		log.Printf("[smcengine] flushed %d buffered updates", count)
	}
	svc.updates = buffered

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[smcengine] WARNING: sqlite writer init failed: %v", err)
		svc.sqlWriter = nil
	} else {
		svc.sqlBarCh = make(chan model.Bar, sqlBarChanSize)
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[smcengine] WARNING: sqlite reader init failed: %v (continuing without SQLite backfill)", err)
		svc.sqlReader = nil
	}
	svc.health.SetSQLiteOK(svc.sqlWriter != nil)

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[smcengine] starting order block engine...")

	snap, err := svc.restoreEngine(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		svc.backfillFromSQLite(ctx)
	}

	svc.streams = svc.buildStreams(ctx)
	log.Printf("[smcengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	startID := "0"
	if snap != nil && snap.StreamID != "" {
		startID = replayStartID(snap.StreamID, replayMargin)
	}
	lastIDs := svc.catchUp(ctx, startID)
	svc.ensureGroups(ctx, lastIDs)

	if svc.sqlWriter != nil {
		go svc.sqlWriter.RunBars(ctx, svc.sqlBarCh)
	}
	go svc.processLoop(ctx)

	if len(svc.streams) > 0 {
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.barCh); err != nil {
			log.Printf("[smcengine] pending recovery error: %v", err)
		}
	}

	svc.startPELReclaimer(ctx)
	svc.startConsumer(ctx)
	svc.startPeekSubscriber(ctx)
	go svc.snapshotLoop(ctx)
	svc.startHTTP()
	svc.startConfigSubscriber(ctx)
	svc.health.StartLivenessChecker(ctx, svc.redisReader.Client(), svc.sqlDB(), livenessEvery)

	log.Printf("[smcengine] all systems running (tfs=%v, period=%d, blocks=%d, snapshot every %ds)",
		cfg.EnabledTFs, cfg.SwingPeriod, cfg.OrderBlockCount, cfg.SnapshotIntervalSec)

	<-ctx.Done()
	<-svc.loopDone
	svc.shutdown()
	return nil
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// shutdown saves a final snapshot and closes connections. The process loop
// has exited, so the engine is read directly.
func (svc *Service) shutdown() {
	log.Println("[smcengine] shutdown signal received, saving final snapshot...")

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()

	if svc.httpSrv != nil {
		svc.httpSrv.Stop(shutCtx)
	}

	finalSnap, err := smc.SnapshotEngine(svc.engine, streamIDAt(svc.now()))
	if err != nil {
		log.Printf("[smcengine] final snapshot error: %v", err)
	} else {
		svc.saveSnapshot(shutCtx, finalSnap)
		log.Println("[smcengine] final snapshot saved")
	}

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[smcengine] shutdown complete.")
}

// restoreEngine builds the engine from the Redis snapshot, else the latest
// SQLite snapshot, else cold. Returns the snapshot used, if any.
func (svc *Service) restoreEngine(ctx context.Context) (*smc.EngineSnapshot, error) {
	restorer := smc.NewRestorer(svc.cfg.DetectorConfigs(),
		smc.WithObserverFor(svc.prom.ForTF),
		smc.WithDetectorOptions(smc.WithLogger(slog.Default().With("component", "detector"))),
	)

	snap, err := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[smcengine] redis snapshot read error: %v", err)
	}
	if snap == nil && svc.sqlReader != nil {
		snap, err = svc.sqlReader.ReadLatestSnapshot()
		if err != nil {
			log.Printf("[smcengine] sqlite snapshot read error: %v", err)
		}
	}

	svc.engine, err = restorer.RestoreFromSnap(snap)
	if err != nil {
		return nil, err
	}
	svc.prom.Detectors.Set(float64(svc.engine.DetectorCount()))
	svc.health.SetDetectors(svc.engine.DetectorCount())
	return snap, nil
}

// backfillFromSQLite warms a cold engine with the most recent stored bars
// and publishes the resulting state of each detector once.
func (svc *Service) backfillFromSQLite(ctx context.Context) {
	if svc.sqlReader == nil {
		return
	}
	var set updateSet
	restorer := smc.NewRestorer(svc.cfg.DetectorConfigs())
	n := restorer.BackfillFromSQLite(svc.engine, svc.sqlReader, 0, svc.cfg.BackfillBars, func(upd *model.BlockUpdate) {
		set.add(*upd)
	})
	if n == 0 {
		return
	}
	svc.emit(ctx, set.list)
	svc.prom.Detectors.Set(float64(svc.engine.DetectorCount()))
	log.Printf("[smcengine] warmed %d detectors with %d stored bars", len(set.list), n)
}

// buildStreams constructs the bar streams to consume. Without configured
// tokens, streams are discovered for the keys the engine already knows.
func (svc *Service) buildStreams(ctx context.Context) []string {
	keys := svc.cfg.TokenKeys()
	if len(keys) > 0 {
		var streams []string
		for _, tf := range svc.cfg.EnabledTFs {
			for _, key := range keys {
				streams = append(streams, model.BarStreamKey(tf, key))
			}
		}
		return streams
	}

	seen := make(map[string]bool)
	for _, tf := range svc.cfg.EnabledTFs {
		for _, key := range svc.engine.Keys(tf) {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return svc.redisReader.DiscoverBarStreams(ctx, svc.cfg.EnabledTFs, keys)
}

// readStreams collects the closed bars after startID on every stream.
// Returns the bars and the last ID read per stream.
func (svc *Service) readStreams(ctx context.Context, startID string) ([]model.Bar, map[string]string) {
	ch := make(chan model.Bar, barChanSize)
	lastIDs := make(map[string]string, len(svc.streams))
	go func() {
		defer close(ch)
		for _, stream := range svc.streams {
			lastID, err := svc.redisReader.ReplayFromID(ctx, stream, startID, ch)
			if err != nil {
				log.Printf("[smcengine] replay error on %s: %v", stream, err)
				continue
			}
			lastIDs[stream] = lastID
		}
	}()

	var bars []model.Bar
	for bar := range ch {
		if !bar.Forming {
			bars = append(bars, bar)
		}
	}
	return bars, lastIDs
}

// catchUp replays stream history after startID through the engine before
// live consumption starts.
func (svc *Service) catchUp(ctx context.Context, startID string) map[string]string {
	if len(svc.streams) == 0 {
		return nil
	}
	log.Printf("[smcengine] replaying streams from ID %s", startID)
	bars, lastIDs := svc.readStreams(ctx, startID)
	applied := svc.applyAll(ctx, bars, true)
	log.Printf("[smcengine] replayed %d bars (%d new)", len(bars), applied)
	return lastIDs
}

// ensureGroups points each stream's consumer group just past the replayed
// history. Streams that could not be replayed get a group at "$".
func (svc *Service) ensureGroups(ctx context.Context, lastIDs map[string]string) {
	var fresh []string
	for _, stream := range svc.streams {
		id, ok := lastIDs[stream]
		if !ok {
			fresh = append(fresh, stream)
			continue
		}
		if err := svc.redisReader.EnsureConsumerGroupFrom(ctx, stream, id); err != nil {
			log.Printf("[smcengine] WARNING: consumer group setup on %s: %v", stream, err)
		}
	}
	if len(fresh) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, fresh); err != nil {
			log.Printf("[smcengine] WARNING: consumer group setup: %v", err)
		}
	}
}
