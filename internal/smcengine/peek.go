package smcengine

import (
	"context"
	"log"

	"smc-engine/internal/model"
)

// startPeekSubscriber feeds forming bars from Pub/Sub into the peek ring.
// The subscriber is the ring's only producer; processLoop is its consumer.
func (svc *Service) startPeekSubscriber(ctx context.Context) {
	go func() {
		if err := svc.redisReader.SubscribeFormingBars(ctx, svc.peekRing); err != nil {
			log.Printf("[smcengine] forming bar subscription error: %v", err)
		}
	}()
}

// drainPeeks empties the peek ring, keeps only the newest forming bar per
// detector, and previews each against its ledger.
func (svc *Service) drainPeeks(ctx context.Context) {
	latest := make(map[string]model.Bar)
	var order []string
	for {
		bar, ok := svc.peekRing.Pop()
		if !ok {
			break
		}
		k := model.Itoa(bar.TF) + "|" + bar.Key()
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = bar
	}
	svc.recordOverflow()
	if len(order) == 0 {
		return
	}

	updates := make([]model.BlockUpdate, 0, len(order))
	for _, k := range order {
		if upd := svc.peek(latest[k]); upd != nil {
			updates = append(updates, *upd)
		}
	}
	svc.emit(ctx, updates)
}

// peek previews a forming bar. Bars for a period that already closed are
// ignored.
func (svc *Service) peek(bar model.Bar) *model.BlockUpdate {
	if svc.stale(bar) {
		return nil
	}
	upd := svc.engine.ProcessPeek(bar)
	if upd != nil {
		svc.prom.PeeksTotal.Inc()
	}
	return upd
}

// recordOverflow exports bars dropped by a full peek ring since the last call.
func (svc *Service) recordOverflow() {
	n := svc.peekRing.Overflow()
	if n > svc.lastOverflow {
		svc.prom.RingBufOverflow.Add(float64(n - svc.lastOverflow))
		svc.lastOverflow = n
	}
}
