// Package collector polls the hub's broadcast API, classifies each new
// tick, and drives the order-flow engine, pattern detectors, and CSV logs.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/orderflow"
	"orderflow/internal/state"
)

// Client reads the hub's polling endpoints over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hub health: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) Tick(ctx context.Context) (state.TickView, error) {
	var view state.TickView
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tick", nil)
	if err != nil {
		return view, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return view, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return view, fmt.Errorf("hub tick: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return view, fmt.Errorf("hub tick: decode: %w", err)
	}
	return view, nil
}

// TickSink receives every classified tick.
type TickSink interface {
	WriteTick(ts string, symbol string, v state.TickView, dir orderflow.Direction)
}

// CandleSink receives finalized candles and footprint snapshots.
type CandleSink interface {
	WriteCandle(day time.Time, c orderflow.Candle)
	WriteFootprint(ts time.Time, levels []orderflow.FootprintLevel)
}

// AlertSink receives every fired alert.
type AlertSink interface {
	WriteAlert(a orderflow.Alert)
}

// Options configures a Runner. Zero fields take the documented defaults.
type Options struct {
	PollInterval    time.Duration // default 100ms
	Symbol          string
	FootprintLevels int // levels kept per footprint snapshot, default 20
	RecentAlerts    int // size of the in-memory alert ring, default 50
	Thresholds      orderflow.Thresholds

	Ticks   TickSink
	Candles CandleSink
	Alerts  []AlertSink
}

// Runner is the polling loop. It keeps the tiny bit of cross-tick state
// the classifier needs (previous trade price and direction) and fans
// results out to the sinks.
type Runner struct {
	client   *Client
	opts     Options
	engine   *orderflow.Engine
	analyzer *orderflow.Analyzer
	log      *slog.Logger

	prevLTP decimal.Decimal
	prevLTQ int64
	lastDir orderflow.Direction

	mu     sync.Mutex
	recent []orderflow.Alert

	now func() time.Time
}

func NewRunner(client *Client, opts Options, logger *slog.Logger) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.FootprintLevels <= 0 {
		opts.FootprintLevels = 20
	}
	if opts.RecentAlerts <= 0 {
		opts.RecentAlerts = 50
	}
	r := &Runner{
		client:   client,
		opts:     opts,
		analyzer: orderflow.NewAnalyzer(opts.Thresholds),
		log:      logger,
		lastDir:  orderflow.Buy,
		now:      time.Now,
	}
	r.engine = orderflow.NewEngine(r.onCandleClose)
	return r
}

// Run polls until ctx is cancelled. A failed or stale poll means no data
// this cycle; the loop never stops on its own.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	r.log.Info("collector started",
		slog.String("hub", r.client.baseURL),
		slog.Duration("poll_interval", r.opts.PollInterval))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("collector stopped")
			return
		case <-ticker.C:
			view, err := r.client.Tick(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				r.log.Debug("poll failed", slog.String("err", err.Error()))
				continue
			}
			r.Step(view)
		}
	}
}

// Step processes one polled view. Exposed so tests can drive the loop
// without a ticker.
func (r *Runner) Step(view state.TickView) {
	if !view.LTP.IsPositive() {
		return
	}
	// Same (price, qty) pair as last cycle means the hub has nothing new.
	if view.LTP.Equal(r.prevLTP) && view.LTQ == r.prevLTQ {
		return
	}

	bestBid, bestAsk := decimal.Zero, decimal.Zero
	if len(view.BestBids) > 0 {
		bestBid = view.BestBids[0]
	}
	if len(view.BestAsks) > 0 {
		bestAsk = view.BestAsks[0]
	}

	dir := orderflow.Classify(view.LTP, bestBid, bestAsk, r.prevLTP, r.lastDir)
	ts := r.now()

	es := r.engine.Process(dir, view.LTQ, view.LTP, ts)
	footprint := r.engine.Footprint(r.opts.FootprintLevels)

	alerts := r.analyzer.Analyze(orderflow.TickInput{
		LTP:       view.LTP,
		LTQ:       view.LTQ,
		Direction: dir,
		BestBids:  view.BestBids,
		BestAsks:  view.BestAsks,
		BidQty:    view.BidQty,
		AskQty:    view.AskQty,
	}, es, footprint)

	if r.opts.Ticks != nil {
		r.opts.Ticks.WriteTick(ts.Format("2006-01-02 15:04:05.000"), r.opts.Symbol, view, dir)
	}
	for _, a := range alerts {
		r.remember(a)
		r.log.Info("alert",
			slog.String("type", a.Type),
			slog.String("direction", a.Direction),
			slog.String("price", a.Price.String()),
			slog.String("severity", string(a.Severity)),
			slog.String("details", a.Details))
		for _, sink := range r.opts.Alerts {
			sink.WriteAlert(a)
		}
	}

	r.prevLTP = view.LTP
	r.prevLTQ = view.LTQ
	r.lastDir = dir
}

func (r *Runner) onCandleClose(c orderflow.Candle) {
	r.log.Info("candle closed",
		slog.String("minute", c.Minute),
		slog.Int64("delta", c.Delta),
		slog.Int64("cvd", c.CVD),
		slog.Int64("ticks", c.TickCount))
	if r.opts.Candles == nil {
		return
	}
	ts := r.now()
	r.opts.Candles.WriteCandle(ts, c)
	r.opts.Candles.WriteFootprint(ts, r.engine.Footprint(r.opts.FootprintLevels))
}

func (r *Runner) remember(a orderflow.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, a)
	if len(r.recent) > r.opts.RecentAlerts {
		r.recent = r.recent[len(r.recent)-r.opts.RecentAlerts:]
	}
}

// RecentAlerts returns the newest alerts, oldest first.
func (r *Runner) RecentAlerts() []orderflow.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]orderflow.Alert, len(r.recent))
	copy(out, r.recent)
	return out
}

// Engine exposes the live aggregation state for status reporting.
func (r *Runner) Engine() *orderflow.Engine { return r.engine }
