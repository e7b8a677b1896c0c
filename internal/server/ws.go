package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"orderflow/internal/state"
)

// tickMessage is the one message shape /ws carries: every store update
// pushes the merged futures+depth view, the same payload /tick serves.
type tickMessage struct {
	Type string         `json:"type"`
	Data state.TickView `json:"data"`
}

// hub fans tick views out to /ws subscribers. Subscribers are read-only;
// a subscriber that cannot keep up with the tick rate is dropped rather
// than allowed to stall the others.
type hub struct {
	subscribers map[*subscriber]struct{}
	subscribe   chan *subscriber
	unsubscribe chan *subscriber
	ticks       chan state.TickView
	view        func() state.TickView // current view, sent on subscribe
	logger      *slog.Logger
}

type subscriber struct {
	hub  *hub
	conn *websocket.Conn
	out  chan []byte
}

func newHub(view func() state.TickView, logger *slog.Logger) *hub {
	return &hub{
		subscribers: map[*subscriber]struct{}{},
		subscribe:   make(chan *subscriber),
		unsubscribe: make(chan *subscriber),
		ticks:       make(chan state.TickView, 64),
		view:        view,
		logger:      logger,
	}
}

// push hands a tick view to the hub; a full queue drops the view, the
// next store update supersedes it anyway.
func (h *hub) push(v state.TickView) {
	select {
	case h.ticks <- v:
	default:
	}
}

func (h *hub) run() {
	for {
		select {
		case sub := <-h.subscribe:
			h.subscribers[sub] = struct{}{}
			// New subscribers get the current view up front, so they
			// never wait for the next trade to see state.
			if msg, err := json.Marshal(tickMessage{Type: "tick", Data: h.view()}); err == nil {
				select {
				case sub.out <- msg:
				default:
				}
			}
		case sub := <-h.unsubscribe:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.out)
			}
		case v := <-h.ticks:
			if len(h.subscribers) == 0 {
				continue
			}
			msg, err := json.Marshal(tickMessage{Type: "tick", Data: v})
			if err != nil {
				h.logger.Warn("tick marshal", slog.String("err", err.Error()))
				continue
			}
			for sub := range h.subscribers {
				select {
				case sub.out <- msg:
				default:
					delete(h.subscribers, sub)
					close(sub.out)
				}
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true }, // local consumers only
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade", slog.String("err", err.Error()))
		return
	}
	sub := &subscriber{
		hub:  h,
		conn: conn,
		out:  make(chan []byte, 64),
	}
	h.subscribe <- sub
	go sub.writeLoop()
	go sub.discardLoop()
}

// discardLoop drains the connection so control frames are processed and a
// closed consumer is noticed. Subscribers have nothing to say.
func (s *subscriber) discardLoop() {
	defer func() {
		s.hub.unsubscribe <- s
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}
