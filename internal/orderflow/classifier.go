package orderflow

import "github.com/shopspring/decimal"

// Direction is the inferred aggressor side of a trade.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Classify labels one trade, in priority order: lifted the offer, hit the
// bid, tick rule against the previous price, otherwise carry the previous
// direction forward. A zero bid/ask/previous price means "unknown". The
// caller owns the carried-forward direction across calls.
func Classify(ltp, bestBid, bestAsk, prevLTP decimal.Decimal, prev Direction) Direction {
	switch {
	case bestAsk.IsPositive() && ltp.Cmp(bestAsk) >= 0:
		return Buy
	case bestBid.IsPositive() && ltp.Cmp(bestBid) <= 0:
		return Sell
	case prevLTP.IsPositive() && ltp.Cmp(prevLTP) > 0:
		return Buy
	case prevLTP.IsPositive() && ltp.Cmp(prevLTP) < 0:
		return Sell
	}
	return prev
}
