package state

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/packet"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func futTick() packet.Tick {
	return packet.Tick{
		Token:        "43125",
		Mode:         packet.ModeSnapQuote,
		LTP:          dec("26100.50"),
		LTQ:          150,
		Volume:       5000,
		TotalBuyQty:  900,
		TotalSellQty: 700,
		Open:         dec("26000"),
		High:         dec("26150"),
		Low:          dec("25950"),
		Close:        dec("26050"),
		OI:           1200,
		BestBids:     []decimal.Decimal{dec("26100"), dec("26099")},
		BestAsks:     []decimal.Decimal{dec("26101"), dec("26102")},
		BidQty:       []int64{500, 400},
		AskQty:       []int64{300, 200},
	}
}

func TestApplyRoutesByToken(t *testing.T) {
	st := NewStore("99926000", "43125", "NIFTYFUT")
	now := time.Now()

	st.Apply(packet.Tick{Token: "99926000", Mode: packet.ModeLTP, LTP: dec("26095.25")}, now)
	st.Apply(futTick(), now)
	st.Apply(packet.Tick{Token: "55501", LTP: dec("120.5"), LTQ: 75, OI: 10}, now)

	if got := st.Spot().LTP; !got.Equal(dec("26095.25")) {
		t.Fatalf("spot ltp got %s", got)
	}
	fut := st.Futures()
	if !fut.LTP.Equal(dec("26100.50")) || fut.LTQ != 150 || fut.OI != 1200 {
		t.Fatalf("futures snapshot wrong: %+v", fut)
	}
	if fut.Symbol != "NIFTYFUT" {
		t.Fatalf("futures symbol got %q", fut.Symbol)
	}
	opt, ok := st.Option("55501")
	if !ok || !opt.LTP.Equal(dec("120.5")) || opt.OI != 10 {
		t.Fatalf("option snapshot wrong: %+v ok=%v", opt, ok)
	}
	if st.Status().TickCount != 3 {
		t.Fatalf("tick count got %d", st.Status().TickCount)
	}
}

func TestZeroFieldsDoNotRegress(t *testing.T) {
	st := NewStore("SPOT", "43125", "")
	now := time.Now()
	st.Apply(futTick(), now)

	// A later frame with unpopulated bar fields must not wipe them.
	st.Apply(packet.Tick{Token: "43125", LTP: dec("26102"), LTQ: 10}, now)

	fut := st.Futures()
	if !fut.LTP.Equal(dec("26102")) {
		t.Fatalf("ltp not updated: %s", fut.LTP)
	}
	if !fut.Open.Equal(dec("26000")) || fut.OI != 1200 || fut.Volume != 5000 {
		t.Fatalf("bar fields regressed: %+v", fut)
	}
}

func TestDepthFollowsFutures(t *testing.T) {
	st := NewStore("SPOT", "43125", "")
	st.Apply(futTick(), time.Now())

	d := st.Depth()
	if len(d.BestBids) != 2 || !d.BestBids[0].Equal(dec("26100")) {
		t.Fatalf("depth bids wrong: %+v", d)
	}

	// Mutating the returned copy must not touch the store.
	d.BidQty[0] = 9999
	if st.Depth().BidQty[0] != 500 {
		t.Fatal("reader mutated store-internal depth")
	}
}

func TestTickViewMergesFuturesAndDepth(t *testing.T) {
	st := NewStore("SPOT", "43125", "NIFTYFUT")
	st.Apply(futTick(), time.Now())

	v := st.TickView()
	if !v.LTP.Equal(dec("26100.50")) || v.LTQ != 150 {
		t.Fatalf("tick view trade fields wrong: %+v", v.InstrumentSnapshot)
	}
	if len(v.BestAsks) != 2 || !v.BestAsks[0].Equal(dec("26101")) {
		t.Fatalf("tick view depth wrong: %+v", v.Depth)
	}
}

func TestUpdatesCoalesce(t *testing.T) {
	st := NewStore("SPOT", "FUT", "")
	for i := 0; i < 5; i++ {
		st.Apply(packet.Tick{Token: "FUT", LTP: dec("1")}, time.Now())
	}
	select {
	case <-st.Updates():
	default:
		t.Fatal("expected a pending update signal")
	}
	select {
	case <-st.Updates():
		t.Fatal("signals must coalesce to one")
	default:
	}
}

func TestStatusFlags(t *testing.T) {
	st := NewStore("SPOT", "FUT", "")
	st.SetConnected(true)
	st.SetSubscribed(31)
	got := st.Status()
	if !got.Connected || got.SubscribedTokens != 31 {
		t.Fatalf("status got %+v", got)
	}
	st.SetConnected(false)
	if st.Status().Connected {
		t.Fatal("disconnect not visible")
	}
}
