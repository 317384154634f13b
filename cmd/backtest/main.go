// cmd/backtest replays historical bars from SQLite or a CSV file through the
// order block engine and optionally exports the bars and the final blocks as
// CSV.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/bars.db --tf=60,300
//	go run ./cmd/backtest --csv=bars.csv --token=26000 --tf=60 --ob-out=ob.csv
//	go run ./cmd/backtest --csv=bars_1m.csv --base-tf=60 --tf=300,900
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"smc-engine/internal/csvio"
	"smc-engine/internal/indicator"
	"smc-engine/internal/logger"
	"smc-engine/internal/marketdata/replay"
	"smc-engine/internal/marketdata/tfbuilder"
	"smc-engine/internal/model"
	"smc-engine/internal/smc"
	sqlitestore "smc-engine/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	tfStr := flag.String("tf", "60", "Comma-separated TFs to run detectors on")
	baseTF := flag.Int("base-tf", 0, "Resample bars of this TF into --tf (0=read each TF directly)")
	fromTS := flag.Int64("from", 0, "Unix nanos to start replay from (0=all)")
	dbPath := flag.String("db", "data/bars.db", "Path to SQLite database")
	csvPath := flag.String("csv", "", "Read bars from this CSV file instead of SQLite")
	exchange := flag.String("exchange", "NSE", "Exchange for CSV bars")
	token := flag.String("token", "CSV", "Token for CSV bars")
	period := flag.Int("period", 5, "Swing window length")
	blocks := flag.Int("blocks", 5, "Visible order blocks per detector")
	gaugeType := flag.String("gauge", indicator.TypeSimple, "Volatility gauge: SIMPLE, WILDER or EXP")
	gaugePeriod := flag.Int("gauge-period", indicator.DefaultPeriod, "Volatility gauge period")
	historyCap := flag.Int("history-cap", 0, "Bars kept per detector (0=all)")
	barsOut := flag.String("bars-out", "", "Write replayed bars to this CSV file")
	obOut := flag.String("ob-out", "", "Write final visible order blocks to this CSV file")
	logLevel := flag.String("log-level", "info", "Log level (debug shows every bar)")
	flag.Parse()

	logger.Init("backtest", logger.ParseLevel(*logLevel))

	tfs := parseTFs(*tfStr)
	if len(tfs) == 0 {
		log.Fatal("[backtest] no valid TFs specified")
	}

	cfg := smc.Config{
		Period:     *period,
		BlockCount: *blocks,
		Gauge:      indicator.GaugeConfig{Type: strings.ToUpper(*gaugeType), Period: *gaugePeriod},
		HistoryCap: *historyCap,
	}
	configs := make([]smc.TFConfig, len(tfs))
	for i, tf := range tfs {
		configs[i] = smc.TFConfig{TF: tf, Config: cfg}
	}
	engine, err := smc.NewRestorer(configs).RestoreFromSnap(nil) // cold start
	if err != nil {
		log.Fatalf("[backtest] engine init failed: %v", err)
	}

	// TFs read from the source
	readTFs := tfs
	if *baseTF > 0 {
		readTFs = []int{*baseTF}
	}

	var source replay.BarSource
	if *csvPath != "" {
		if *baseTF == 0 {
			tfs = tfs[:1]
			readTFs = tfs
		}
		bars, err := csvio.ReadBarsFile(*csvPath, *exchange, *token, readTFs[0])
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		source = replay.StaticSource(bars)
	} else {
		reader, err := sqlitestore.NewReader(*dbPath)
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		defer reader.Close()
		source = reader
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	replayer := replay.New(source)
	barCh := make(chan model.Bar, 10000)
	go func() {
		if _, err := replayer.Run(ctx, readTFs, *fromTS, *speed, barCh); err != nil {
			log.Printf("[backtest] replay error: %v", err)
		}
		close(barCh)
	}()

	var replayed []model.Bar
	counts := make(map[string]int)
	processed, previews := 0, 0
	handle := func(bar model.Bar) {
		if bar.Forming {
			if engine.ProcessPeek(bar) != nil {
				previews++
			}
			return
		}
		upd := engine.Process(bar)
		processed++
		if upd == nil || !upd.Ready {
			return
		}
		k := model.Itoa(upd.TF) + "|" + upd.Key()
		if n := len(upd.Blocks); n != counts[k] {
			counts[k] = n
			fmt.Printf("  [%s] TF=%ds %s close=%.2f visible blocks=%d\n",
				bar.TS.Format("2006-01-02 15:04:05"), upd.TF, upd.Key(), upd.Close, n)
		}
	}

	var builder *tfbuilder.Builder
	if *baseTF > 0 {
		builder = tfbuilder.New(tfs)
		builder.EmitForming = true
		builder.OnStale = func(bar model.Bar, tf int) {
			log.Printf("[backtest] out-of-order bar %s ts=%v skipped for TF=%d", bar.Key(), bar.TS, tf)
		}
	}
	for bar := range barCh {
		if *barsOut != "" {
			replayed = append(replayed, bar)
		}
		if builder != nil {
			builder.Process(bar, handle)
		} else {
			handle(bar)
		}
	}
	if builder != nil {
		builder.Flush(handle)
	}

	final := finalBlocks(engine, tfs)

	if *barsOut != "" {
		if err := csvio.WriteFile(*barsOut, func(w io.Writer) error { return csvio.WriteBars(w, replayed) }); err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		log.Printf("[backtest] wrote %d bars to %s", len(replayed), *barsOut)
	}
	if *obOut != "" {
		if err := csvio.WriteFile(*obOut, func(w io.Writer) error { return csvio.WriteBlocks(w, final) }); err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		log.Printf("[backtest] wrote %d order blocks to %s", len(final), *obOut)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Bars processed:    %-16d ║\n", processed)
	fmt.Printf("║  Live previews:     %-16d ║\n", previews)
	fmt.Printf("║  Detectors:         %-16d ║\n", engine.DetectorCount())
	fmt.Printf("║  Visible blocks:    %-16d ║\n", len(final))
	fmt.Printf("║  TFs:               %-16v ║\n", tfs)
	fmt.Println("╚══════════════════════════════════════╝")
}

// finalBlocks collects every detector's visible blocks, by TF then key.
func finalBlocks(engine *smc.Engine, tfs []int) []model.OrderBlock {
	var out []model.OrderBlock
	for _, tf := range tfs {
		keys := engine.Keys(tf)
		sort.Strings(keys)
		for _, key := range keys {
			if det, ok := engine.Detector(tf, key); ok {
				out = append(out, det.VisibleBlocks()...)
			}
		}
	}
	return out
}

func parseTFs(s string) []int {
	var tfs []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			tfs = append(tfs, n)
		}
	}
	return tfs
}
