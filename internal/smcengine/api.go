package smcengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"smc-engine/internal/metrics"
	"smc-engine/internal/model"
	"smc-engine/internal/smc"
)

// startHTTP launches the HTTP server: /metrics and /healthz plus /reload,
// /blocks, /ws and /missed.
func (svc *Service) startHTTP() {
	svc.httpSrv = metrics.NewServer(svc.cfg.HTTPAddr, svc.health, svc.reg)
	svc.mount(svc.httpSrv)
	svc.httpSrv.Start()
	log.Printf("[smcengine] HTTP server on %s (/reload, /blocks, /ws, /missed, /metrics, /healthz)", svc.cfg.HTTPAddr)
}

func (svc *Service) mount(srv *metrics.Server) {
	srv.Handle("/reload", http.HandlerFunc(svc.handleReload))
	srv.Handle("/blocks", http.HandlerFunc(svc.handleBlocks))
	srv.Handle("/ws", svc.hub)
	srv.Handle("/missed", http.HandlerFunc(svc.hub.HandleMissed))
}

// handleReload handles POST /reload for live config updates via HTTP.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	configs, err := svc.parseReload(body)
	if err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	preserved, created, err := svc.reload(r.Context(), configs, "http")
	if err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// parseReload accepts either a list of per-timeframe configs or a single
// detector config applied to every enabled timeframe. Fields missing from a
// single config keep their environment values.
func (svc *Service) parseReload(data []byte) ([]smc.TFConfig, error) {
	var list []smc.TFConfig
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return nil, errors.New("empty config list")
		}
		return list, nil
	}

	cfg := svc.cfg.DetectorConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("want a config object or a list of tf configs: %w", err)
	}
	out := make([]smc.TFConfig, len(svc.cfg.EnabledTFs))
	for i, tf := range svc.cfg.EnabledTFs {
		out[i] = smc.TFConfig{TF: tf, Config: cfg}
	}
	return out, nil
}

// reload validates configs and applies them on the process loop. New
// detectors are rebuilt from stream history.
func (svc *Service) reload(ctx context.Context, configs []smc.TFConfig, source string) (preserved, created int, err error) {
	if err := smc.ValidateConfigs(configs); err != nil {
		return 0, 0, err
	}

	var rerr error
	if err := svc.do(ctx, func(e *smc.Engine) {
		preserved, created, rerr = e.ReloadConfigs(configs)
		svc.prom.Detectors.Set(float64(e.DetectorCount()))
	}); err != nil {
		return 0, 0, err
	}
	if rerr != nil {
		return 0, 0, rerr
	}
	svc.prom.ConfigReloads.WithLabelValues(source).Inc()
	log.Printf("[smcengine] reloaded from %s: preserved=%d, created=%d", source, preserved, created)

	if created > 0 {
		svc.rewarm(ctx)
	}
	return preserved, created, nil
}

// rewarm replays stream history on the process loop. Detectors that kept
// their state skip every bar they have already seen.
func (svc *Service) rewarm(ctx context.Context) {
	if len(svc.streams) == 0 || svc.redisReader == nil {
		return
	}
	bars, _ := svc.readStreams(ctx, "0")
	var applied int
	if err := svc.do(ctx, func(*smc.Engine) {
		applied = svc.applyAll(ctx, bars, false)
	}); err != nil {
		log.Printf("[smcengine] reload backfill aborted: %v", err)
		return
	}
	log.Printf("[smcengine] reload backfill: applied %d of %d bars", applied, len(bars))
}

// detectorView is the /blocks response for one detector.
type detectorView struct {
	TF         int                `json:"tf"`
	Key        string             `json:"key"`
	State      string             `json:"state"`
	Bars       int                `json:"bars"`
	Volatility float64            `json:"volatility"`
	SwingHigh  smc.Pivot          `json:"swing_high"`
	SwingLow   smc.Pivot          `json:"swing_low"`
	Blocks     []model.OrderBlock `json:"blocks"`
}

func viewOf(tf int, key string, det *smc.Detector) detectorView {
	blocks := det.VisibleBlocks()
	if blocks == nil {
		blocks = []model.OrderBlock{}
	}
	return detectorView{
		TF:         tf,
		Key:        key,
		State:      det.State().String(),
		Bars:       det.BarCount(),
		Volatility: det.Volatility(),
		SwingHigh:  det.SwingHigh(),
		SwingLow:   det.SwingLow(),
		Blocks:     blocks,
	}
}

// handleBlocks handles GET /blocks?tf=60[&key=NSE:26000]. Without key, every
// detector of the timeframe is returned.
func (svc *Service) handleBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	tf, err := strconv.Atoi(r.URL.Query().Get("tf"))
	if err != nil || tf <= 0 {
		http.Error(w, "tf must be a positive integer", http.StatusBadRequest)
		return
	}
	key := r.URL.Query().Get("key")

	var views []detectorView
	if err := svc.do(r.Context(), func(e *smc.Engine) {
		keys := []string{key}
		if key == "" {
			keys = e.Keys(tf)
		}
		for _, k := range keys {
			if det, ok := e.Detector(tf, k); ok {
				views = append(views, viewOf(tf, k, det))
			}
		}
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	if key != "" && len(views) == 0 {
		http.Error(w, "no detector for "+key, http.StatusNotFound)
		return
	}
	if views == nil {
		views = []detectorView{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// startConfigSubscriber listens on Redis Pub/Sub for dynamic config updates.
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go func() {
		channel := svc.cfg.ConfigChannel
		pubsub := svc.redisReader.SubscribeChannel(ctx, channel)
		if pubsub == nil {
			log.Printf("[smcengine] WARNING: could not subscribe to %s", channel)
			return
		}
		defer pubsub.Close()
		log.Printf("[smcengine] subscribed to %s for dynamic reload", channel)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				log.Printf("[smcengine] received config update: %s", msg.Payload)
				configs, err := svc.parseReload([]byte(msg.Payload))
				if err != nil {
					log.Printf("[smcengine] invalid config payload: %v", err)
					continue
				}
				if _, _, err := svc.reload(ctx, configs, "pubsub"); err != nil {
					log.Printf("[smcengine] invalid config: %v", err)
				}
			}
		}
	}()
}
