package packet

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func putToken(b []byte, token string) {
	copy(b[2:27], token)
}

func putInt64(b []byte, off int, v int64) {
	binary.LittleEndian.PutUint64(b[off:off+8], uint64(v))
}

func ltpFrame(token string, rawPrice int64) []byte {
	b := make([]byte, 51)
	putToken(b, token)
	putInt64(b, 43, rawPrice)
	return b
}

func snapQuoteFrame(token string, withDepth bool) []byte {
	size := 155
	if withDepth {
		size = 347
	}
	b := make([]byte, size)
	putToken(b, token)
	putInt64(b, 43, 2610050) // ltp 26100.50
	putInt64(b, 51, 150)     // ltq
	putInt64(b, 59, 2609900) // atp
	putInt64(b, 67, 123456)  // volume
	putInt64(b, 75, 9000)    // total buy qty
	putInt64(b, 83, 7000)    // total sell qty
	putInt64(b, 91, 2600000) // open
	putInt64(b, 99, 2615000) // high
	putInt64(b, 107, 2595000)
	putInt64(b, 115, 2605000)
	putInt64(b, 131, 54321) // oi

	if withDepth {
		// 5 bids then 5 asks, best level first.
		for i := 0; i < 5; i++ {
			off := 147 + i*20
			binary.LittleEndian.PutUint16(b[off:off+2], 0)
			putInt64(b, off+2, int64(1000+i))
			putInt64(b, off+10, int64(2610000-int64(i)*100))
		}
		for i := 0; i < 5; i++ {
			off := 147 + (5+i)*20
			binary.LittleEndian.PutUint16(b[off:off+2], 1)
			putInt64(b, off+2, int64(2000+i))
			putInt64(b, off+10, int64(2610100+int64(i)*100))
		}
	}
	return b
}

func TestDecodeLTPPriceExact(t *testing.T) {
	tick, err := DecodeLTP(ltpFrame("26000", 2612345))
	if err != nil {
		t.Fatal(err)
	}
	if tick.Token != "26000" {
		t.Fatalf("token got %q", tick.Token)
	}
	if !tick.LTP.Equal(decimal.RequireFromString("26123.45")) {
		t.Fatalf("ltp got %s want 26123.45", tick.LTP)
	}
	if tick.Mode != ModeLTP {
		t.Fatalf("mode got %v", tick.Mode)
	}
}

func TestDecodeLTPShortFrame(t *testing.T) {
	_, err := DecodeLTP(make([]byte, 40))
	if !errors.Is(err, ErrShortFrame) {
		t.Fatalf("want ErrShortFrame, got %v", err)
	}
}

func TestDecodeLTPNegativePrice(t *testing.T) {
	tick, err := DecodeLTP(ltpFrame("X", -150))
	if err != nil {
		t.Fatal(err)
	}
	if !tick.LTP.Equal(decimal.RequireFromString("-1.5")) {
		t.Fatalf("ltp got %s want -1.5", tick.LTP)
	}
}

func TestDecodeLTPBadTokenBytes(t *testing.T) {
	b := ltpFrame("26000", 100)
	b[5] = 0xff
	b[6] = 0xfe
	if _, err := DecodeLTP(b); !errors.Is(err, ErrBadToken) {
		t.Fatalf("want ErrBadToken, got %v", err)
	}
}

func TestDecodeSnapQuoteFields(t *testing.T) {
	tick, err := DecodeSnapQuote(snapQuoteFrame("43125", false))
	if err != nil {
		t.Fatal(err)
	}
	if tick.Token != "43125" {
		t.Fatalf("token got %q", tick.Token)
	}
	if !tick.LTP.Equal(decimal.RequireFromString("26100.5")) {
		t.Fatalf("ltp got %s", tick.LTP)
	}
	if tick.LTQ != 150 || tick.Volume != 123456 {
		t.Fatalf("ltq/volume got %d/%d", tick.LTQ, tick.Volume)
	}
	if tick.TotalBuyQty != 9000 || tick.TotalSellQty != 7000 {
		t.Fatalf("totals got %d/%d", tick.TotalBuyQty, tick.TotalSellQty)
	}
	if !tick.Open.Equal(decimal.RequireFromString("26000")) ||
		!tick.High.Equal(decimal.RequireFromString("26150")) ||
		!tick.Low.Equal(decimal.RequireFromString("25950")) ||
		!tick.Close.Equal(decimal.RequireFromString("26050")) {
		t.Fatalf("ohlc got %s %s %s %s", tick.Open, tick.High, tick.Low, tick.Close)
	}
	if tick.OI != 54321 {
		t.Fatalf("oi got %d", tick.OI)
	}
	if tick.HasDepth() {
		t.Fatal("155-byte frame must not carry depth")
	}
}

func TestDecodeSnapQuoteDepth(t *testing.T) {
	tick, err := DecodeSnapQuote(snapQuoteFrame("43125", true))
	if err != nil {
		t.Fatal(err)
	}
	if len(tick.BestBids) != 5 || len(tick.BestAsks) != 5 {
		t.Fatalf("depth sizes got %d/%d", len(tick.BestBids), len(tick.BestAsks))
	}
	if !tick.BestBids[0].Equal(decimal.RequireFromString("26100")) {
		t.Fatalf("best bid got %s", tick.BestBids[0])
	}
	if !tick.BestAsks[0].Equal(decimal.RequireFromString("26101")) {
		t.Fatalf("best ask got %s", tick.BestAsks[0])
	}
	if tick.BidQty[0] != 1000 || tick.AskQty[0] != 2000 {
		t.Fatalf("best qty got %d/%d", tick.BidQty[0], tick.AskQty[0])
	}
	// Arrival order preserved.
	for i := 1; i < 5; i++ {
		if tick.BestBids[i].GreaterThan(tick.BestBids[i-1]) {
			t.Fatal("bid order not preserved")
		}
		if tick.BestAsks[i].LessThan(tick.BestAsks[i-1]) {
			t.Fatal("ask order not preserved")
		}
	}
}

func TestDecodeSnapQuoteSideCap(t *testing.T) {
	b := snapQuoteFrame("43125", true)
	// Flip every entry to the bid side; the decoder must still cap at 5.
	for i := 0; i < 10; i++ {
		off := 147 + i*20
		binary.LittleEndian.PutUint16(b[off:off+2], 0)
	}
	tick, err := DecodeSnapQuote(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(tick.BestBids) != 5 || len(tick.BestAsks) != 0 {
		t.Fatalf("cap violated: %d bids, %d asks", len(tick.BestBids), len(tick.BestAsks))
	}
}

func TestDecodePrefersSnapQuote(t *testing.T) {
	tick, err := Decode(snapQuoteFrame("43125", false))
	if err != nil {
		t.Fatal(err)
	}
	if tick.Mode != ModeSnapQuote {
		t.Fatalf("mode got %v want SnapQuote", tick.Mode)
	}

	tick, err = Decode(ltpFrame("26000", 100))
	if err != nil {
		t.Fatal(err)
	}
	if tick.Mode != ModeLTP {
		t.Fatalf("mode got %v want LTP", tick.Mode)
	}
}

func TestDecodeGarbageNeverPanics(t *testing.T) {
	for _, n := range []int{0, 1, 50, 51, 154, 155, 346, 400} {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i * 7)
		}
		_, _ = Decode(b) // must not panic regardless of content
	}
}
