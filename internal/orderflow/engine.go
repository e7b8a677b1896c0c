package orderflow

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Candle aggregates one instrument over one minute.
type Candle struct {
	Minute     string // "HH:MM" bucket key
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	BuyVolume  int64
	SellVolume int64
	Delta      int64 // buy - sell within the candle
	CVD        int64 // running CVD at last update
	TickCount  int64
}

// FootprintLevel is the session-long volume split at one rounded price.
type FootprintLevel struct {
	Price      int64
	BuyVolume  int64
	SellVolume int64
	Delta      int64
	Imbalance  float64 // buy/sell; +Inf when nothing traded on the sell side
}

func (l FootprintLevel) Total() int64 { return l.BuyVolume + l.SellVolume }

// EngineState is the point-in-time summary returned after each tick.
type EngineState struct {
	CVD             int64
	TotalBuyVolume  int64
	TotalSellVolume int64
	NetDelta        int64
	Candle          Candle  // in-progress candle; Minute is "" before the first tick
	ImbalanceRatio  float64 // buy/sell, 0 when sell volume is zero
}

type footprintCell struct {
	buy  int64
	sell int64
}

// Engine is the volume-delta state machine for one instrument stream. It is
// not safe for concurrent use; confine it to one poll loop.
type Engine struct {
	cvd       int64
	totalBuy  int64
	totalSell int64

	footprint map[int64]*footprintCell

	candles       map[string]*Candle
	currentMinute string

	onClose func(Candle)
}

// NewEngine returns an empty engine. onClose, if non-nil, receives a copy of
// every candle the moment its minute bucket is superseded; the copy is final.
func NewEngine(onClose func(Candle)) *Engine {
	return &Engine{
		footprint: map[int64]*footprintCell{},
		candles:   map[string]*Candle{},
		onClose:   onClose,
	}
}

// Process folds one classified trade into CVD, footprint and the current
// candle. Ticks must arrive in non-decreasing timestamp order; a quantity or
// price that isn't positive leaves the state untouched.
func (e *Engine) Process(dir Direction, qty int64, price decimal.Decimal, ts time.Time) EngineState {
	if qty <= 0 || !price.IsPositive() {
		return e.State()
	}

	if dir == Buy {
		e.totalBuy += qty
		e.cvd += qty
	} else {
		e.totalSell += qty
		e.cvd -= qty
	}

	level := price.RoundBank(0).IntPart()
	cell := e.footprint[level]
	if cell == nil {
		cell = &footprintCell{}
		e.footprint[level] = cell
	}
	if dir == Buy {
		cell.buy += qty
	} else {
		cell.sell += qty
	}

	minute := ts.Format("15:04")
	if minute != e.currentMinute {
		if prev, ok := e.candles[e.currentMinute]; ok && e.onClose != nil {
			e.onClose(*prev)
		}
		e.currentMinute = minute
		e.candles[minute] = &Candle{
			Minute: minute,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			CVD:    e.cvd,
		}
	}

	c := e.candles[minute]
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	c.TickCount++
	if dir == Buy {
		c.BuyVolume += qty
	} else {
		c.SellVolume += qty
	}
	c.Delta = c.BuyVolume - c.SellVolume
	c.CVD = e.cvd

	return e.State()
}

// State returns the running counters and a copy of the open candle.
func (e *Engine) State() EngineState {
	st := EngineState{
		CVD:             e.cvd,
		TotalBuyVolume:  e.totalBuy,
		TotalSellVolume: e.totalSell,
		NetDelta:        e.totalBuy - e.totalSell,
	}
	if e.totalSell > 0 {
		st.ImbalanceRatio = float64(e.totalBuy) / float64(e.totalSell)
	}
	if c, ok := e.candles[e.currentMinute]; ok {
		st.Candle = *c
	}
	return st
}

// Candle returns a copy of the candle for a minute key, if one exists.
func (e *Engine) Candle(minute string) (Candle, bool) {
	c, ok := e.candles[minute]
	if !ok {
		return Candle{}, false
	}
	return *c, true
}

// Footprint returns the price levels ranked by total traded volume,
// highest first. n <= 0 returns every level.
func (e *Engine) Footprint(n int) []FootprintLevel {
	out := make([]FootprintLevel, 0, len(e.footprint))
	for price, cell := range e.footprint {
		lvl := FootprintLevel{
			Price:      price,
			BuyVolume:  cell.buy,
			SellVolume: cell.sell,
			Delta:      cell.buy - cell.sell,
			Imbalance:  math.Inf(1),
		}
		if cell.sell > 0 {
			lvl.Imbalance = float64(cell.buy) / float64(cell.sell)
		}
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total() != out[j].Total() {
			return out[i].Total() > out[j].Total()
		}
		return out[i].Price > out[j].Price
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Reset clears all counters, candles and footprint levels for a new
// session or instrument context.
func (e *Engine) Reset() {
	e.cvd = 0
	e.totalBuy = 0
	e.totalSell = 0
	e.footprint = map[int64]*footprintCell{}
	e.candles = map[string]*Candle{}
	e.currentMinute = ""
}
