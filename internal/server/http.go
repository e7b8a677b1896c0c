package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"orderflow/internal/state"
)

// HTTPServer is the local read-only broadcast API over the shared state
// store. Any number of consumer processes may poll it; updates are also
// pushed over /ws for consumers that prefer not to poll.
type HTTPServer struct {
	store *state.Store
	hub   *hub
	log   *slog.Logger
	mux   *http.ServeMux
}

func NewHTTPServer(store *state.Store, logger *slog.Logger) *HTTPServer {
	s := &HTTPServer{
		store: store,
		hub:   newHub(store.TickView, logger),
		log:   logger,
		mux:   http.NewServeMux(),
	}
	s.routes()
	go s.hub.run()
	go s.pushUpdates()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("/health", s.apiHealth)
	s.mux.HandleFunc("/status", s.apiStatus)
	s.mux.HandleFunc("/spot", s.apiSpot)
	s.mux.HandleFunc("/futures", s.apiFutures)
	s.mux.HandleFunc("/options", s.apiOptions)
	s.mux.HandleFunc("/option/", s.apiOption)
	s.mux.HandleFunc("/depth", s.apiDepth)
	s.mux.HandleFunc("/tick", s.apiTick)
	s.mux.HandleFunc("/all", s.apiAll)
	s.mux.HandleFunc("/ws", s.hub.serveWS)
}

// pushUpdates forwards coalesced store changes to WebSocket subscribers.
// The polling endpoints remain the primary contract; this is a shortcut
// for local consumers that want updates without a poll loop.
func (s *HTTPServer) pushUpdates() {
	for range s.store.Updates() {
		s.hub.push(s.store.TickView())
	}
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	st := s.store.Status()
	writeJSON(w, map[string]any{
		"status":     "ok",
		"connected":  st.Connected,
		"tick_count": st.TickCount,
		"last_tick":  st.LastTick,
	})
}

func (s *HTTPServer) apiStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Status())
}

func (s *HTTPServer) apiSpot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Spot())
}

func (s *HTTPServer) apiFutures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Futures())
}

func (s *HTTPServer) apiOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Options())
}

func (s *HTTPServer) apiOption(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/option/")
	if token == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}
	snap, ok := s.store.Option(token)
	if !ok {
		// Unknown token is an empty snapshot, not an error: the consumer
		// may simply be ahead of the first tick for that leg.
		writeJSON(w, state.InstrumentSnapshot{Token: token})
		return
	}
	writeJSON(w, snap)
}

func (s *HTTPServer) apiDepth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Depth())
}

func (s *HTTPServer) apiTick(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.TickView())
}

func (s *HTTPServer) apiAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.All())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
