package packet

import (
	"encoding/binary"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Mode is the venue quote mode a frame was produced under.
type Mode int

const (
	ModeLTP       Mode = 1
	ModeSnapQuote Mode = 3
)

const (
	ltpFrameLen       = 51
	snapQuoteFrameLen = 155
	depthFrameLen     = 347
	depthOffset       = 147
	depthEntryLen     = 20
	depthEntries      = 10
	maxDepthLevels    = 5
)

var (
	ErrShortFrame = errors.New("packet: frame too short")
	ErrBadToken   = errors.New("packet: token bytes are not valid UTF-8")
)

// Tick is one decoded market update. All prices are exact fixed-point values
// built from the wire's int64 representation with two decimal places.
type Tick struct {
	Token string
	Mode  Mode

	LTP          decimal.Decimal
	LTQ          int64
	ATP          decimal.Decimal
	Volume       int64
	TotalBuyQty  int64
	TotalSellQty int64
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	OI           int64

	// Best-5 depth, in frame arrival order; index 0 is the best level.
	BestBids []decimal.Decimal
	BestAsks []decimal.Decimal
	BidQty   []int64
	AskQty   []int64
}

// HasDepth reports whether the frame carried a best-5 depth block.
func (t Tick) HasDepth() bool {
	return len(t.BestBids) > 0 || len(t.BestAsks) > 0
}

// Decode tries SnapQuote first, then LTP, and returns the first success.
func Decode(b []byte) (Tick, error) {
	if t, err := DecodeSnapQuote(b); err == nil {
		return t, nil
	}
	return DecodeLTP(b)
}

// DecodeLTP decodes a mode-1 frame: token plus last traded price only.
func DecodeLTP(b []byte) (Tick, error) {
	if len(b) < ltpFrameLen {
		return Tick{}, ErrShortFrame
	}
	tok, err := token(b)
	if err != nil {
		return Tick{}, err
	}
	return Tick{
		Token: tok,
		Mode:  ModeLTP,
		LTP:   priceAt(b, 43),
	}, nil
}

// DecodeSnapQuote decodes a mode-3 frame carrying full trade fields and,
// when the frame is long enough, the best-5 depth block.
func DecodeSnapQuote(b []byte) (Tick, error) {
	if len(b) < snapQuoteFrameLen {
		return Tick{}, ErrShortFrame
	}
	tok, err := token(b)
	if err != nil {
		return Tick{}, err
	}
	t := Tick{
		Token:        tok,
		Mode:         ModeSnapQuote,
		LTP:          priceAt(b, 43),
		LTQ:          int64At(b, 51),
		ATP:          priceAt(b, 59),
		Volume:       int64At(b, 67),
		TotalBuyQty:  int64At(b, 75),
		TotalSellQty: int64At(b, 83),
		Open:         priceAt(b, 91),
		High:         priceAt(b, 99),
		Low:          priceAt(b, 107),
		Close:        priceAt(b, 115),
		OI:           int64At(b, 131),
	}
	if len(b) >= depthFrameLen {
		decodeDepth(b[depthOffset:depthFrameLen], &t)
	}
	return t, nil
}

// decodeDepth parses ten fixed 20-byte entries: uint16 side flag (0 = bid),
// int64 quantity, int64 price scaled 1/100, and a trailing 2-byte order
// count that the feed never promises, so it is parsed and dropped.
func decodeDepth(b []byte, t *Tick) {
	for i := 0; i < depthEntries; i++ {
		e := b[i*depthEntryLen : (i+1)*depthEntryLen]
		flag := binary.LittleEndian.Uint16(e[0:2])
		qty := int64At(e, 2)
		price := priceAt(e, 10)
		_ = binary.LittleEndian.Uint16(e[18:20]) // order count

		if flag == 0 {
			if len(t.BestBids) < maxDepthLevels {
				t.BestBids = append(t.BestBids, price)
				t.BidQty = append(t.BidQty, qty)
			}
		} else {
			if len(t.BestAsks) < maxDepthLevels {
				t.BestAsks = append(t.BestAsks, price)
				t.AskQty = append(t.AskQty, qty)
			}
		}
	}
}

func token(b []byte) (string, error) {
	raw := b[2:27]
	if !utf8.Valid(raw) {
		return "", ErrBadToken
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}

func int64At(b []byte, off int) int64 {
	return int64(binary.LittleEndian.Uint64(b[off : off+8]))
}

func priceAt(b []byte, off int) decimal.Decimal {
	return decimal.New(int64At(b, off), -2)
}
