package orderflow

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert types.
const (
	AlertBigBlock      = "BIG_BLOCK"
	AlertImbalance     = "IMBALANCE"
	AlertCVDDivergence = "CVD_DIVERGENCE"
	AlertStackedOrders = "STACKED_ORDERS"
	AlertAbsorption    = "ABSORPTION"
	AlertRapidMove     = "RAPID_MOVE"
)

// Alert is an immutable pattern-detection record.
type Alert struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"alert_type"`
	Direction string          `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Details   string          `json:"details"`
	Severity  Severity        `json:"severity"`
}

// TickInput is the slice of a tick the detectors consume.
type TickInput struct {
	LTP       decimal.Decimal
	LTQ       int64
	Direction Direction
	BestBids  []decimal.Decimal
	BestAsks  []decimal.Decimal
	BidQty    []int64
	AskQty    []int64
}

// Thresholds tune the five detectors. Zero values are replaced by the
// defaults of DefaultThresholds.
type Thresholds struct {
	LotSize          int64   // contract lot size for lot-equivalent math
	BigBlockLots     int64   // lots at which a block alert fires
	CriticalLots     int64   // lots at which a block alert turns CRITICAL
	ImbalanceRatio   float64 // one-sided volume ratio that flags imbalance
	AbsorptionRange  int64   // price units around LTP scanned for absorption
	AbsorptionVolume int64   // minimum combined volume in that range
	AbsorptionRatio  float64 // one side over the other within the range
	StackedLevels    int     // best-5 levels at/above StackedQty to fire
	StackedQty       int64   // quantity that makes a level "stacked"
	DivergenceWindow int     // (price, CVD) points kept for divergence
	PriceTrend       float64 // price half-to-half mean move to qualify
	CVDTrend         float64 // CVD half-to-half mean move to qualify
	RapidMovePoints  float64 // move across the last 5 prices to flag
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LotSize:          75,
		BigBlockLots:     50,
		CriticalLots:     100,
		ImbalanceRatio:   2.5,
		AbsorptionRange:  5,
		AbsorptionVolume: 10000,
		AbsorptionRatio:  1.5,
		StackedLevels:    3,
		StackedQty:       5000,
		DivergenceWindow: 20,
		PriceTrend:       10,
		CVDTrend:         1000,
		RapidMovePoints:  20,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.LotSize <= 0 {
		t.LotSize = d.LotSize
	}
	if t.BigBlockLots <= 0 {
		t.BigBlockLots = d.BigBlockLots
	}
	if t.CriticalLots <= 0 {
		t.CriticalLots = d.CriticalLots
	}
	if t.ImbalanceRatio <= 0 {
		t.ImbalanceRatio = d.ImbalanceRatio
	}
	if t.AbsorptionRange <= 0 {
		t.AbsorptionRange = d.AbsorptionRange
	}
	if t.AbsorptionVolume <= 0 {
		t.AbsorptionVolume = d.AbsorptionVolume
	}
	if t.AbsorptionRatio <= 0 {
		t.AbsorptionRatio = d.AbsorptionRatio
	}
	if t.StackedLevels <= 0 {
		t.StackedLevels = d.StackedLevels
	}
	if t.StackedQty <= 0 {
		t.StackedQty = d.StackedQty
	}
	if t.DivergenceWindow <= 0 {
		t.DivergenceWindow = d.DivergenceWindow
	}
	if t.PriceTrend <= 0 {
		t.PriceTrend = d.PriceTrend
	}
	if t.CVDTrend <= 0 {
		t.CVDTrend = d.CVDTrend
	}
	if t.RapidMovePoints <= 0 {
		t.RapidMovePoints = d.RapidMovePoints
	}
	return t
}

// Analyzer runs the pattern detectors over classified ticks and engine
// state. Like the Engine it is confined to a single poll loop.
type Analyzer struct {
	th    Thresholds
	dedup *dedupSet

	priceHist []float64
	cvdHist   []float64

	now func() time.Time
}

func NewAnalyzer(th Thresholds) *Analyzer {
	return &Analyzer{
		th:    th.withDefaults(),
		dedup: newDedupSet(dedupCapacity),
		now:   time.Now,
	}
}

// Analyze runs every detector once and returns the alerts that fired.
// footprint is the engine's current top-level view; nil skips absorption.
func (a *Analyzer) Analyze(in TickInput, es EngineState, footprint []FootprintLevel) []Alert {
	var alerts []Alert

	if al := a.detectBigBlock(in.LTQ, in.Direction, in.LTP); al != nil {
		alerts = append(alerts, *al)
	}
	if al := a.detectImbalance(es.TotalBuyVolume, es.TotalSellVolume, in.LTP); al != nil {
		alerts = append(alerts, *al)
	}
	if al := a.detectDivergence(in.LTP, es.CVD); al != nil {
		alerts = append(alerts, *al)
	}
	if al := a.detectStacked(in.BestBids, in.BidQty, in.BestAsks, in.AskQty); al != nil {
		alerts = append(alerts, *al)
	}
	if len(footprint) > 0 {
		if al := a.detectAbsorption(footprint, in.LTP); al != nil {
			alerts = append(alerts, *al)
		}
	}
	if al := a.detectRapidMove(); al != nil {
		alerts = append(alerts, *al)
	}
	return alerts
}

// Reset clears detector history and the dedup window.
func (a *Analyzer) Reset() {
	a.dedup = newDedupSet(dedupCapacity)
	a.priceHist = nil
	a.cvdHist = nil
}

func (a *Analyzer) alert(typ, direction string, price decimal.Decimal, details string, sev Severity) *Alert {
	return &Alert{
		Timestamp: a.now().Format("15:04:05.000"),
		Type:      typ,
		Direction: direction,
		Price:     price,
		Details:   details,
		Severity:  sev,
	}
}

// detectBigBlock flags single trades at or above the lot threshold,
// deduplicated by direction and whole-unit price.
func (a *Analyzer) detectBigBlock(qty int64, dir Direction, price decimal.Decimal) *Alert {
	if qty < a.th.BigBlockLots*a.th.LotSize {
		return nil
	}
	lots := qty / a.th.LotSize
	sev := SeverityWarning
	if lots >= a.th.CriticalLots {
		sev = SeverityCritical
	}
	key := fmt.Sprintf("%s_%s_%d", AlertBigBlock, dir, price.RoundBank(0).IntPart())
	if !a.dedup.insert(key) {
		return nil
	}
	return a.alert(AlertBigBlock, string(dir), price,
		fmt.Sprintf("%s %d lots (%d qty)", dir, lots, qty), sev)
}

// detectImbalance compares cumulative buy and sell volume. It is not
// deduplicated: it fires on every qualifying call.
func (a *Analyzer) detectImbalance(buyVol, sellVol int64, price decimal.Decimal) *Alert {
	if buyVol == 0 && sellVol == 0 {
		return nil
	}

	var ratio float64
	var dir Direction
	switch {
	case sellVol == 0:
		ratio, dir = math.Inf(1), Buy
	case buyVol == 0:
		ratio, dir = math.Inf(1), Sell
	default:
		buyRatio := float64(buyVol) / float64(sellVol)
		sellRatio := float64(sellVol) / float64(buyVol)
		switch {
		case buyRatio >= a.th.ImbalanceRatio:
			ratio, dir = buyRatio, Buy
		case sellRatio >= a.th.ImbalanceRatio:
			ratio, dir = sellRatio, Sell
		default:
			return nil
		}
	}

	return a.alert(AlertImbalance, string(dir), price,
		fmt.Sprintf("%s imbalance %.1fx (Buy:%d vs Sell:%d)", dir, ratio, buyVol, sellVol),
		SeverityInfo)
}

// detectDivergence keeps a rolling (price, CVD) window and compares mean
// trends between its halves. Each divergence side dedups on a static key,
// so it cannot fire again until the dedup window evicts it.
func (a *Analyzer) detectDivergence(price decimal.Decimal, cvd int64) *Alert {
	p, _ := price.Float64()
	a.priceHist = pushWindow(a.priceHist, p, a.th.DivergenceWindow)
	a.cvdHist = pushWindow(a.cvdHist, float64(cvd), a.th.DivergenceWindow)

	if len(a.priceHist) < a.th.DivergenceWindow/2 {
		return nil
	}

	half := len(a.priceHist) / 2
	priceTrend := mean(a.priceHist[half:]) - mean(a.priceHist[:half])
	cvdTrend := mean(a.cvdHist[half:]) - mean(a.cvdHist[:half])

	switch {
	case priceTrend > a.th.PriceTrend && cvdTrend < -a.th.CVDTrend:
		if !a.dedup.insert("DIVERGENCE_BEARISH") {
			return nil
		}
		return a.alert(AlertCVDDivergence, "BEARISH", price,
			"Price rising but CVD falling. Potential weakness.", SeverityWarning)
	case priceTrend < -a.th.PriceTrend && cvdTrend > a.th.CVDTrend:
		if !a.dedup.insert("DIVERGENCE_BULLISH") {
			return nil
		}
		return a.alert(AlertCVDDivergence, "BULLISH", price,
			"Price falling but CVD rising. Potential strength.", SeverityWarning)
	}
	return nil
}

// detectStacked counts best-5 levels holding StackedQty or more. The bid
// side is checked first; a stacked book on both sides reports bids.
func (a *Analyzer) detectStacked(bids []decimal.Decimal, bidQty []int64, asks []decimal.Decimal, askQty []int64) *Alert {
	if al := a.stackedSide("BID", bids, bidQty); al != nil {
		return al
	}
	return a.stackedSide("ASK", asks, askQty)
}

func (a *Analyzer) stackedSide(side string, prices []decimal.Decimal, qtys []int64) *Alert {
	stacked := 0
	total := int64(0)
	for _, q := range qtys {
		total += q
		if q >= a.th.StackedQty {
			stacked++
		}
	}
	if stacked < a.th.StackedLevels {
		return nil
	}
	best := decimal.Zero
	if len(prices) > 0 {
		best = prices[0]
	}
	noun := "bids"
	if side == "ASK" {
		noun = "asks"
	}
	return a.alert(AlertStackedOrders, side, best,
		fmt.Sprintf("Stacked %s: %d levels with %d total qty", noun, stacked, total),
		SeverityInfo)
}

// detectAbsorption sums footprint volume within AbsorptionRange of the
// current price and flags the side getting soaked up while price holds.
func (a *Analyzer) detectAbsorption(footprint []FootprintLevel, price decimal.Decimal) *Alert {
	p, _ := price.Float64()
	low := p - float64(a.th.AbsorptionRange)
	high := p + float64(a.th.AbsorptionRange)

	var buyVol, sellVol int64
	for _, lvl := range footprint {
		fp := float64(lvl.Price)
		if fp >= low && fp <= high {
			buyVol += lvl.BuyVolume
			sellVol += lvl.SellVolume
		}
	}
	if buyVol+sellVol < a.th.AbsorptionVolume {
		return nil
	}

	switch {
	case float64(sellVol) > float64(buyVol)*a.th.AbsorptionRatio:
		return a.alert(AlertAbsorption, "BUY_ABSORBING", price,
			fmt.Sprintf("Buyers absorbing sell pressure. Sell:%d vs Buy:%d", sellVol, buyVol),
			SeverityWarning)
	case float64(buyVol) > float64(sellVol)*a.th.AbsorptionRatio:
		return a.alert(AlertAbsorption, "SELL_ABSORBING", price,
			fmt.Sprintf("Sellers absorbing buy pressure. Buy:%d vs Sell:%d", buyVol, sellVol),
			SeverityWarning)
	}
	return nil
}

// detectRapidMove flags a move of RapidMovePoints or more across the last
// five prices seen by the divergence window.
func (a *Analyzer) detectRapidMove() *Alert {
	if len(a.priceHist) < 5 {
		return nil
	}
	recent := a.priceHist[len(a.priceHist)-5:]
	move := recent[4] - recent[0]
	if math.Abs(move) < a.th.RapidMovePoints {
		return nil
	}
	dir := "UP"
	if move < 0 {
		dir = "DOWN"
	}
	return a.alert(AlertRapidMove, dir, decimal.NewFromFloat(recent[4]),
		fmt.Sprintf("Rapid %s move: %+.2f points in 5 ticks", dir, move),
		SeverityInfo)
}

func pushWindow(w []float64, v float64, max int) []float64 {
	w = append(w, v)
	if len(w) > max {
		w = w[len(w)-max:]
	}
	return w
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
