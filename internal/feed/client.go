package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"orderflow/internal/packet"
	"orderflow/internal/state"
)

// Credentials is the opaque feed credential produced by the (external)
// venue login flow. It is read from the environment, never from config files.
type Credentials struct {
	ClientCode string
	APIKey     string
	FeedToken  string
}

func CredentialsFromEnv() (Credentials, error) {
	c := Credentials{
		ClientCode: os.Getenv("FEED_CLIENT_CODE"),
		APIKey:     os.Getenv("FEED_API_KEY"),
		FeedToken:  os.Getenv("FEED_TOKEN"),
	}
	if c.ClientCode == "" || c.APIKey == "" || c.FeedToken == "" {
		return c, errors.New("feed: FEED_CLIENT_CODE, FEED_API_KEY and FEED_TOKEN must be set")
	}
	return c, nil
}

// Client owns the single physical connection to the venue feed.
type Client interface {
	Run(ctx context.Context, onStatus func(connected bool))
	Close()
}

// Subscriptions describes the instruments the client subscribes on connect,
// grouped by exchange segment and quote mode: the spot index in LTP mode,
// futures and option legs in full SnapQuote mode.
type Subscriptions struct {
	SpotToken string
	NFOTokens []string // futures + option legs
}

func (s Subscriptions) count() int {
	n := len(s.NFOTokens)
	if s.SpotToken != "" {
		n++
	}
	return n
}

const (
	exchangeNSE = 1
	exchangeNFO = 2

	actionSubscribe = 1
)

type subscribeRequest struct {
	CorrelationID string          `json:"correlationID"`
	Action        int             `json:"action"`
	Params        subscribeParams `json:"params"`
}

type subscribeParams struct {
	Mode      int          `json:"mode"`
	TokenList []tokenGroup `json:"tokenList"`
}

type tokenGroup struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// WSClient implements Client over a gorilla WebSocket connection with
// unconditional fixed-delay reconnect. There is no retry cap: the analytics
// pipeline has nothing to do without the feed.
type WSClient struct {
	endpoint       string
	creds          Credentials
	subs           Subscriptions
	store          *state.Store
	log            *slog.Logger
	reconnectDelay time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func NewWSClient(endpoint string, creds Credentials, subs Subscriptions, store *state.Store, reconnectDelay time.Duration, logger *slog.Logger) *WSClient {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &WSClient{
		endpoint:       endpoint,
		creds:          creds,
		subs:           subs,
		store:          store,
		log:            logger,
		reconnectDelay: reconnectDelay,
	}
}

func (c *WSClient) Run(ctx context.Context, onStatus func(connected bool)) {
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			onStatus(false)
			c.log.Warn("feed connect failed", slog.String("err", err.Error()))
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		c.setConn(conn)

		if err := c.subscribe(conn); err != nil {
			onStatus(false)
			c.log.Warn("feed subscribe failed", slog.String("err", err.Error()))
			_ = conn.Close()
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		c.store.SetSubscribed(c.subs.count())
		onStatus(true)
		c.log.Info("feed connected", slog.Int("tokens", c.subs.count()))

		if err := c.readLoop(ctx, conn); err != nil {
			c.log.Warn("feed read loop ended", slog.String("err", err.Error()))
		}
		onStatus(false)
		if !c.sleep(ctx) {
			return
		}
	}
}

func (c *WSClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *WSClient) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *WSClient) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("clientCode", c.creds.ClientCode)
	q.Set("feedToken", c.creds.FeedToken)
	q.Set("apiKey", c.creds.APIKey)
	u.RawQuery = q.Encode()

	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// subscribe issues one request per exchange segment: NFO instruments in
// SnapQuote mode for trade + depth fields, the spot index in LTP mode.
func (c *WSClient) subscribe(conn *websocket.Conn) error {
	for _, req := range buildSubscriptions(c.subs) {
		b, err := json.Marshal(req)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return fmt.Errorf("send subscribe: %w", err)
		}
	}
	return nil
}

func buildSubscriptions(s Subscriptions) []subscribeRequest {
	var reqs []subscribeRequest
	if len(s.NFOTokens) > 0 {
		reqs = append(reqs, subscribeRequest{
			CorrelationID: "orderflow_hub_nfo",
			Action:        actionSubscribe,
			Params: subscribeParams{
				Mode: int(packet.ModeSnapQuote),
				TokenList: []tokenGroup{
					{ExchangeType: exchangeNFO, Tokens: s.NFOTokens},
				},
			},
		})
	}
	if s.SpotToken != "" {
		reqs = append(reqs, subscribeRequest{
			CorrelationID: "orderflow_hub_spot",
			Action:        actionSubscribe,
			Params: subscribeParams{
				Mode: int(packet.ModeLTP),
				TokenList: []tokenGroup{
					{ExchangeType: exchangeNSE, Tokens: []string{s.SpotToken}},
				},
			},
		})
	}
	return reqs
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingCtx, stopPings := context.WithCancel(ctx)
	defer stopPings()
	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if msgType != websocket.BinaryMessage {
			continue // heartbeats and acks arrive as text
		}
		c.handleFrame(data, time.Now())
	}
}

// handleFrame decodes one inbound frame, SnapQuote first, then LTP, and
// applies the first success to the store. Frames that decode under neither
// mode are dropped without comment.
func (c *WSClient) handleFrame(data []byte, now time.Time) {
	t, err := packet.Decode(data)
	if err != nil {
		return
	}
	c.store.Apply(t, now)
}

// MockClient feeds ticks straight into a store, for consumers and tests
// that need a live-looking hub without a venue connection.
type MockClient struct {
	store  *state.Store
	cancel context.CancelFunc
}

func NewMockClient(store *state.Store) *MockClient {
	return &MockClient{store: store}
}

func (m *MockClient) Run(ctx context.Context, onStatus func(connected bool)) {
	ctx, m.cancel = context.WithCancel(ctx)
	onStatus(true)
	<-ctx.Done()
	onStatus(false)
}

func (m *MockClient) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Push applies a tick as if it had arrived on the wire.
func (m *MockClient) Push(t packet.Tick) {
	m.store.Apply(t, time.Now())
}
