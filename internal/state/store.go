package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/packet"
)

// InstrumentSnapshot is the latest known tick state for one token.
type InstrumentSnapshot struct {
	Token        string          `json:"token"`
	Symbol       string          `json:"symbol,omitempty"`
	LTP          decimal.Decimal `json:"ltp"`
	LTQ          int64           `json:"ltq"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	OI           int64           `json:"oi"`
	Volume       int64           `json:"volume"`
	TotalBuyQty  int64           `json:"total_buy_qty"`
	TotalSellQty int64           `json:"total_sell_qty"`
	LastUpdate   string          `json:"last_update"`
}

// Depth is the most recent best-5 ladder; index 0 is the best level.
type Depth struct {
	BestBids []decimal.Decimal `json:"best_bids"`
	BestAsks []decimal.Decimal `json:"best_asks"`
	BidQty   []int64           `json:"bid_qty"`
	AskQty   []int64           `json:"ask_qty"`
}

// Status is the connection health view served by the broadcast API.
type Status struct {
	Connected        bool   `json:"connected"`
	TickCount        int64  `json:"tick_count"`
	LastTick         string `json:"last_tick"`
	SubscribedTokens int    `json:"subscribed_tokens"`
}

// TickView is the futures snapshot merged with the current depth ladder,
// the single most-recent view order-flow consumers poll.
type TickView struct {
	InstrumentSnapshot
	Depth
}

// Snapshot is the combined whole-state copy.
type Snapshot struct {
	Spot    InstrumentSnapshot            `json:"spot"`
	Futures InstrumentSnapshot            `json:"futures"`
	Options map[string]InstrumentSnapshot `json:"options"`
	Depth   Depth                         `json:"depth"`
	Status  Status                        `json:"status"`
	Expiry  string                        `json:"expiry"`
}

// Store holds the live instrument state. The upstream feed client is its
// only writer; every read method returns a copy so handlers never hold a
// reference the writer could mutate.
type Store struct {
	mu      sync.RWMutex
	spot    InstrumentSnapshot
	futures InstrumentSnapshot
	options map[string]InstrumentSnapshot
	depth   Depth
	status  Status
	expiry  string

	notify chan struct{}
}

func NewStore(spotToken, futuresToken, futuresSymbol string) *Store {
	return &Store{
		spot:    InstrumentSnapshot{Token: spotToken},
		futures: InstrumentSnapshot{Token: futuresToken, Symbol: futuresSymbol},
		options: map[string]InstrumentSnapshot{},
		notify:  make(chan struct{}, 1),
	}
}

// Apply folds one decoded tick into the store. OHLC, OI and volume fields
// only move forward on positive values; a zero field in a frame means the
// venue did not populate it, not that it went to zero.
func (s *Store) Apply(t packet.Tick, now time.Time) {
	ts := now.Format("15:04:05.000")

	s.mu.Lock()
	s.status.TickCount++
	s.status.LastTick = ts

	switch t.Token {
	case s.spot.Token:
		s.spot.LTP = t.LTP
		mergeBar(&s.spot, t)
		s.spot.LastUpdate = ts

	case s.futures.Token:
		s.futures.LTP = t.LTP
		s.futures.LTQ = t.LTQ
		s.futures.TotalBuyQty = t.TotalBuyQty
		s.futures.TotalSellQty = t.TotalSellQty
		mergeBar(&s.futures, t)
		if t.OI > 0 {
			s.futures.OI = t.OI
		}
		if t.Volume > 0 {
			s.futures.Volume = t.Volume
		}
		s.futures.LastUpdate = ts

		if t.HasDepth() {
			s.depth = Depth{
				BestBids: append([]decimal.Decimal(nil), t.BestBids...),
				BestAsks: append([]decimal.Decimal(nil), t.BestAsks...),
				BidQty:   append([]int64(nil), t.BidQty...),
				AskQty:   append([]int64(nil), t.AskQty...),
			}
		}

	default:
		snap := s.options[t.Token]
		snap.Token = t.Token
		snap.LTP = t.LTP
		snap.LTQ = t.LTQ
		mergeBar(&snap, t)
		if t.OI > 0 {
			snap.OI = t.OI
		}
		if t.Volume > 0 {
			snap.Volume = t.Volume
		}
		snap.LastUpdate = ts
		s.options[t.Token] = snap
	}
	s.mu.Unlock()

	// Coalesced update signal for push consumers; pollers don't need it.
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func mergeBar(snap *InstrumentSnapshot, t packet.Tick) {
	if t.Open.IsPositive() {
		snap.Open = t.Open
	}
	if t.High.IsPositive() {
		snap.High = t.High
	}
	if t.Low.IsPositive() {
		snap.Low = t.Low
	}
	if t.Close.IsPositive() {
		snap.Close = t.Close
	}
}

func (s *Store) SetConnected(v bool) {
	s.mu.Lock()
	s.status.Connected = v
	s.mu.Unlock()
}

func (s *Store) SetSubscribed(n int) {
	s.mu.Lock()
	s.status.SubscribedTokens = n
	s.mu.Unlock()
}

func (s *Store) SetExpiry(expiry string) {
	s.mu.Lock()
	s.expiry = expiry
	s.mu.Unlock()
}

// Updates returns the coalesced change-notification channel. At most one
// signal is pending at a time; readers re-snapshot on receipt.
func (s *Store) Updates() <-chan struct{} { return s.notify }

func (s *Store) Spot() InstrumentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spot
}

func (s *Store) Futures() InstrumentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.futures
}

func (s *Store) Option(token string) (InstrumentSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.options[token]
	return snap, ok
}

func (s *Store) Options() map[string]InstrumentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyOptions(s.options)
}

func (s *Store) Depth() Depth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyDepth(s.depth)
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) TickView() TickView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return TickView{
		InstrumentSnapshot: s.futures,
		Depth:              copyDepth(s.depth),
	}
}

func (s *Store) All() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Spot:    s.spot,
		Futures: s.futures,
		Options: copyOptions(s.options),
		Depth:   copyDepth(s.depth),
		Status:  s.status,
		Expiry:  s.expiry,
	}
}

func copyOptions(src map[string]InstrumentSnapshot) map[string]InstrumentSnapshot {
	out := make(map[string]InstrumentSnapshot, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func copyDepth(d Depth) Depth {
	return Depth{
		BestBids: append([]decimal.Decimal(nil), d.BestBids...),
		BestAsks: append([]decimal.Decimal(nil), d.BestAsks...),
		BidQty:   append([]int64(nil), d.BidQty...),
		AskQty:   append([]int64(nil), d.AskQty...),
	}
}
