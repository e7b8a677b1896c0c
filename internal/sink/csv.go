package sink

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"orderflow/internal/orderflow"
	"orderflow/internal/state"
)

// appender is one append-only CSV file. The header row is written once,
// when the file is empty; every row is flushed immediately. Write errors
// are logged and swallowed: losing a row must never stall the pipeline.
type appender struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
	log  *slog.Logger
	path string
}

func newAppender(path string, header []string, logger *slog.Logger) (*appender, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	a := &appender{file: f, w: csv.NewWriter(f), log: logger, path: path}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() == 0 {
		a.append(header)
	}
	return a, nil
}

func (a *appender) append(row []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.w.Write(row); err != nil {
		a.log.Warn("csv write failed", slog.String("file", a.path), slog.String("err", err.Error()))
		return
	}
	a.w.Flush()
	if err := a.w.Error(); err != nil {
		a.log.Warn("csv flush failed", slog.String("file", a.path), slog.String("err", err.Error()))
	}
}

func (a *appender) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.w.Flush()
	_ = a.file.Close()
}

// Logs bundles the four order-flow CSV logs for one session day under
// <baseDir>/<YYYY-MM-DD>/.
type Logs struct {
	candles   *appender
	footprint *appender
	alerts    *appender
	ticks     *appender
	lotSize   int64
}

func OpenLogs(baseDir string, day time.Time, lotSize int64, logger *slog.Logger) (*Logs, error) {
	dir := filepath.Join(baseDir, day.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if lotSize <= 0 {
		lotSize = 1
	}

	candles, err := newAppender(filepath.Join(dir, "delta_candles.csv"), []string{
		"timestamp", "open", "high", "low", "close",
		"buy_vol", "sell_vol", "delta", "imbalance_ratio", "cvd", "tick_count",
	}, logger)
	if err != nil {
		return nil, err
	}
	footprint, err := newAppender(filepath.Join(dir, "footprint_data.csv"), []string{
		"timestamp", "price_level", "buy_vol", "sell_vol", "delta",
	}, logger)
	if err != nil {
		candles.close()
		return nil, err
	}
	alerts, err := newAppender(filepath.Join(dir, "alerts.csv"), []string{
		"timestamp", "alert_type", "direction", "price", "details", "severity",
	}, logger)
	if err != nil {
		candles.close()
		footprint.close()
		return nil, err
	}
	ticks, err := newAppender(filepath.Join(dir, "order_flow_ticks.csv"), []string{
		"timestamp", "symbol", "ltp", "ltq", "direction",
		"best_bid", "best_ask", "bid_qty", "ask_qty",
		"total_buy_qty", "total_sell_qty", "volume", "oi",
	}, logger)
	if err != nil {
		candles.close()
		footprint.close()
		alerts.close()
		return nil, err
	}

	return &Logs{
		candles:   candles,
		footprint: footprint,
		alerts:    alerts,
		ticks:     ticks,
		lotSize:   lotSize,
	}, nil
}

// WriteCandle records one finalized minute candle.
func (l *Logs) WriteCandle(day time.Time, c orderflow.Candle) {
	imbalance := 0.0
	if c.SellVolume > 0 {
		imbalance = float64(c.BuyVolume) / float64(c.SellVolume)
	}
	l.candles.append([]string{
		fmt.Sprintf("%s %s:00", day.Format("2006-01-02"), c.Minute),
		c.Open.StringFixed(2),
		c.High.StringFixed(2),
		c.Low.StringFixed(2),
		c.Close.StringFixed(2),
		fmt.Sprint(c.BuyVolume),
		fmt.Sprint(c.SellVolume),
		fmt.Sprint(c.Delta),
		fmt.Sprintf("%.2f", imbalance),
		fmt.Sprint(c.CVD),
		fmt.Sprint(c.TickCount),
	})
}

// WriteFootprint records a snapshot of the current footprint ladder.
func (l *Logs) WriteFootprint(ts time.Time, levels []orderflow.FootprintLevel) {
	stamp := ts.Format("2006-01-02 15:04:05")
	for _, lvl := range levels {
		l.footprint.append([]string{
			stamp,
			fmt.Sprint(lvl.Price),
			fmt.Sprint(lvl.BuyVolume),
			fmt.Sprint(lvl.SellVolume),
			fmt.Sprint(lvl.Delta),
		})
	}
}

func (l *Logs) WriteAlert(a orderflow.Alert) {
	l.alerts.append([]string{
		a.Timestamp,
		a.Type,
		a.Direction,
		a.Price.StringFixed(2),
		a.Details,
		string(a.Severity),
	})
}

// WriteTick records one classified order-flow tick. Open interest is
// written in lot equivalents.
func (l *Logs) WriteTick(ts string, symbol string, v state.TickView, dir orderflow.Direction) {
	bestBid, bestAsk := "0.00", "0.00"
	var bidQty, askQty int64
	if len(v.BestBids) > 0 {
		bestBid = v.BestBids[0].StringFixed(2)
	}
	if len(v.BestAsks) > 0 {
		bestAsk = v.BestAsks[0].StringFixed(2)
	}
	if len(v.BidQty) > 0 {
		bidQty = v.BidQty[0]
	}
	if len(v.AskQty) > 0 {
		askQty = v.AskQty[0]
	}
	l.ticks.append([]string{
		ts,
		symbol,
		v.LTP.StringFixed(2),
		fmt.Sprint(v.LTQ),
		string(dir),
		bestBid,
		bestAsk,
		fmt.Sprint(bidQty),
		fmt.Sprint(askQty),
		fmt.Sprint(v.TotalBuyQty),
		fmt.Sprint(v.TotalSellQty),
		fmt.Sprint(v.Volume),
		fmt.Sprint(v.OI / l.lotSize),
	})
}

func (l *Logs) Close() {
	l.candles.close()
	l.footprint.close()
	l.alerts.close()
	l.ticks.close()
}
