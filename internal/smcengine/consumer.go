package smcengine

import (
	"context"
	"log"
	"log/slog"
	"time"

	"smc-engine/internal/logger"
	"smc-engine/internal/model"
	"smc-engine/internal/smc"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeBars(ctx, svc.streams, svc.barCh); err != nil {
			log.Printf("[smcengine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		svc.cfg.PELInterval(), svc.cfg.PELMinIdle(), svc.barCh)
	log.Printf("[smcengine] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalSec, svc.cfg.PELMinIdleMs)
}

// processLoop is the only goroutine that touches the engine once the
// service is running. It applies stream bars, drains forming-bar previews
// and runs queued commands.
func (svc *Service) processLoop(ctx context.Context) {
	defer close(svc.loopDone)

	ticker := time.NewTicker(peekInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-svc.barCh:
			if !ok {
				return
			}
			svc.handleBar(ctx, bar)
		case fn := <-svc.cmdCh:
			fn(svc.engine)
		case <-ticker.C:
			svc.drainPeeks(ctx)
		}
	}
}

// do runs fn on the process loop and waits for it to finish.
func (svc *Service) do(ctx context.Context, fn func(e *smc.Engine)) error {
	done := make(chan struct{})
	cmd := func(e *smc.Engine) {
		defer close(done)
		fn(e)
	}

	select {
	case svc.cmdCh <- cmd:
	case <-svc.loopDone:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleBar routes one bar from the stream consumer.
func (svc *Service) handleBar(ctx context.Context, bar model.Bar) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(bar.Key(), bar.TS))
	if bar.Forming {
		if upd := svc.peek(bar); upd != nil {
			svc.emit(ctx, []model.BlockUpdate{*upd})
		}
		return
	}
	upd, ok := svc.apply(bar)
	if !ok {
		return
	}
	svc.persist(bar)
	svc.emit(ctx, []model.BlockUpdate{*upd})
	slog.Debug("bar applied", append(logger.LogWithTrace(ctx),
		"tf", bar.TF, "close", bar.Close, "ready", upd.Ready, "blocks", len(upd.Blocks))...)
}

// stale reports whether the bar's detector has already seen a closed bar at
// or after its timestamp. Redelivered and replayed bars are dropped this way.
func (svc *Service) stale(bar model.Bar) bool {
	det, ok := svc.engine.Detector(bar.TF, bar.Key())
	if !ok {
		return false
	}
	last, ok := det.LastBar()
	return ok && !bar.TS.After(last.TS)
}

// apply feeds one closed bar to the engine.
func (svc *Service) apply(bar model.Bar) (*model.BlockUpdate, bool) {
	if svc.stale(bar) {
		return nil, false
	}

	before := svc.engine.DetectorCount()
	start := time.Now()
	upd := svc.engine.Process(bar)
	svc.prom.ObserveBar(bar.TF, time.Since(start))
	if upd == nil {
		return nil, false
	}

	svc.health.SetLastBarTime(svc.now())
	if n := svc.engine.DetectorCount(); n != before {
		svc.prom.Detectors.Set(float64(n))
		svc.health.SetDetectors(n)
	}
	return upd, true
}

// applyAll applies closed bars in order and emits the last update of each
// detector. When persist is set, applied bars are also queued for SQLite.
func (svc *Service) applyAll(ctx context.Context, bars []model.Bar, persist bool) int {
	var set updateSet
	applied := 0
	for _, bar := range bars {
		upd, ok := svc.apply(bar)
		if !ok {
			continue
		}
		applied++
		if persist {
			svc.persist(bar)
		}
		set.add(*upd)
	}
	svc.emit(ctx, set.list)
	return applied
}

// persist queues a closed bar for the SQLite writer. A full queue drops it.
func (svc *Service) persist(bar model.Bar) {
	if svc.sqlBarCh == nil {
		return
	}
	select {
	case svc.sqlBarCh <- bar:
	default:
		log.Printf("[smcengine] WARNING: sqlite queue full, dropped bar %s tf=%d ts=%s",
			bar.Key(), bar.TF, bar.TS.Format(time.RFC3339))
	}
}

// emit writes updates to Redis and broadcasts them to WebSocket clients.
func (svc *Service) emit(ctx context.Context, updates []model.BlockUpdate) {
	if len(updates) == 0 {
		return
	}
	if svc.updates != nil {
		if err := svc.updates.Write(ctx, updates); err != nil {
			slog.Warn("redis write failed", append(logger.LogWithTrace(ctx),
				"updates", len(updates), "err", err)...)
		}
	}
	for _, upd := range updates {
		svc.hub.Publish(upd)
	}
}

// updateSet keeps the newest update per detector in first-seen order.
type updateSet struct {
	index map[string]int
	list  []model.BlockUpdate
}

func (s *updateSet) add(upd model.BlockUpdate) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	k := model.Itoa(upd.TF) + "|" + upd.Key()
	if i, ok := s.index[k]; ok {
		s.list[i] = upd
		return
	}
	s.index[k] = len(s.list)
	s.list = append(s.list, upd)
}
