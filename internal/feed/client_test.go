package feed

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"orderflow/internal/packet"
	"orderflow/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func ltpFrame(token string, rawPrice int64) []byte {
	b := make([]byte, 51)
	copy(b[2:27], token)
	binary.LittleEndian.PutUint64(b[43:51], uint64(rawPrice))
	return b
}

func TestBuildSubscriptionsGrouping(t *testing.T) {
	reqs := buildSubscriptions(Subscriptions{
		SpotToken: "99926000",
		NFOTokens: []string{"43125", "55501", "55502"},
	})
	if len(reqs) != 2 {
		t.Fatalf("want 2 requests, got %d", len(reqs))
	}

	nfo := reqs[0]
	if nfo.Params.Mode != int(packet.ModeSnapQuote) {
		t.Fatalf("nfo mode got %d", nfo.Params.Mode)
	}
	if nfo.Params.TokenList[0].ExchangeType != exchangeNFO || len(nfo.Params.TokenList[0].Tokens) != 3 {
		t.Fatalf("nfo group wrong: %+v", nfo.Params.TokenList)
	}

	spot := reqs[1]
	if spot.Params.Mode != int(packet.ModeLTP) {
		t.Fatalf("spot mode got %d", spot.Params.Mode)
	}
	if spot.Params.TokenList[0].ExchangeType != exchangeNSE || spot.Params.TokenList[0].Tokens[0] != "99926000" {
		t.Fatalf("spot group wrong: %+v", spot.Params.TokenList)
	}
}

func TestHandleFrameAppliesFirstSuccessfulDecode(t *testing.T) {
	st := state.NewStore("99926000", "43125", "")
	c := NewWSClient("ws://unused", Credentials{}, Subscriptions{}, st, time.Second, discardLogger())

	c.handleFrame(ltpFrame("99926000", 2610050), time.Now())
	if got := st.Spot().LTP.String(); got != "26100.5" {
		t.Fatalf("spot ltp got %s", got)
	}
	if st.Status().TickCount != 1 {
		t.Fatalf("tick count got %d", st.Status().TickCount)
	}
}

func TestHandleFrameDropsMalformed(t *testing.T) {
	st := state.NewStore("SPOT", "FUT", "")
	c := NewWSClient("ws://unused", Credentials{}, Subscriptions{}, st, time.Second, discardLogger())

	c.handleFrame(make([]byte, 40), time.Now())
	if st.Status().TickCount != 0 {
		t.Fatal("malformed frame must not reach the store")
	}
}

func TestRunSubscribesAndApplies(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Expect two subscription requests, then serve one frame.
		for i := 0; i < 2; i++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			subscribed <- string(msg)
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, ltpFrame("99926000", 100))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	st := state.NewStore("99926000", "43125", "")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewWSClient(wsURL, Credentials{ClientCode: "c", APIKey: "k", FeedToken: "t"},
		Subscriptions{SpotToken: "99926000", NFOTokens: []string{"43125"}}, st, time.Second, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statusCh := make(chan bool, 8)
	go client.Run(ctx, func(c bool) { statusCh <- c })

	select {
	case c := <-statusCh:
		if !c {
			t.Fatal("first status should be connected")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no status callback")
	}

	for i := 0; i < 2; i++ {
		select {
		case msg := <-subscribed:
			if !strings.Contains(msg, `"action":1`) {
				t.Fatalf("unexpected subscribe payload: %s", msg)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("subscription not received")
		}
	}

	deadline := time.After(3 * time.Second)
	for st.Status().TickCount == 0 {
		select {
		case <-deadline:
			t.Fatal("tick never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if st.Status().SubscribedTokens != 2 {
		t.Fatalf("subscribed count got %d", st.Status().SubscribedTokens)
	}

	client.Close()
}

func TestMockClientStatus(t *testing.T) {
	st := state.NewStore("SPOT", "FUT", "")
	mock := NewMockClient(st)

	statusCh := make(chan bool, 2)
	ctx, cancel := context.WithCancel(context.Background())
	go mock.Run(ctx, func(c bool) { statusCh <- c })

	select {
	case c := <-statusCh:
		if !c {
			t.Fatal("expected connected")
		}
	case <-time.After(time.Second):
		t.Fatal("no status")
	}

	mock.Push(packet.Tick{Token: "FUT"})
	if st.Status().TickCount != 1 {
		t.Fatal("push not applied")
	}
	cancel()
}
