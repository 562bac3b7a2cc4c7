// Package debugapi exposes a go-chi control-plane surface over a running
// orchestrator: health, Prometheus metrics, and a feed of its StreamEvent
// output for operators and tests.
package debugapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"adaptive-player/internal/events"
	"adaptive-player/internal/platform/logger"
	"adaptive-player/internal/platform/metrics"
)

// ringSize bounds the in-memory event feed so a slow or absent debug
// client never grows unbounded memory.
const ringSize = 256

// Server serves /healthz, /metrics, and a snapshot + live feed of the
// orchestrator's StreamEvent stream.
type Server struct {
	log *slog.Logger
	met *metrics.Metrics

	mu     sync.Mutex
	ring   []events.StreamEvent
	cursor int
	state  string

	streamMu sync.Mutex
	streams  map[chan events.StreamEvent]struct{}
}

// New returns a Server. met may be nil to disable the /metrics route body
// (the route still exists, returning 503).
func New(log *slog.Logger, met *metrics.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:     log,
		met:     met,
		state:   "idle",
		streams: make(map[chan events.StreamEvent]struct{}),
	}
}

// Attach consumes out until it closes, recording events into the ring
// buffer and fanning them out to any live /events/stream listeners.
func (s *Server) Attach(out <-chan events.StreamEvent) {
	go func() {
		s.setState("running")
		for ev := range out {
			s.record(ev)
		}
		s.setState("ended")
	}()
}

func (s *Server) record(ev events.StreamEvent) {
	s.mu.Lock()
	if len(s.ring) < ringSize {
		s.ring = append(s.ring, ev)
	} else {
		s.ring[s.cursor%ringSize] = ev
		s.cursor++
	}
	s.mu.Unlock()

	s.streamMu.Lock()
	for ch := range s.streams {
		select {
		case ch <- ev:
		default:
		}
	}
	s.streamMu.Unlock()
}

func (s *Server) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Server) snapshot() (string, []events.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.StreamEvent, len(s.ring))
	copy(out, s.ring)
	return s.state, out
}

// Router returns the chi.Router mounting every debug endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(s.log))
	if s.met != nil {
		r.Use(metrics.RequestMiddleware(s.met))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/state", s.handleState)
	r.Get("/events", s.handleEventsSnapshot)
	r.Get("/events/stream", s.handleEventsStream)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.met == nil {
		http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		return
	}
	s.met.Handler(nil).ServeHTTP(w, r)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state, _ := s.snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"state": state})
}

func (s *Server) handleEventsSnapshot(w http.ResponseWriter, _ *http.Request) {
	_, evs := s.snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(evs)
}

// handleEventsStream serves a newline-delimited-JSON live feed of
// StreamEvents (a minimal Server-Sent-Events-style stream) until the
// client disconnects.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan events.StreamEvent, 16)
	s.streamMu.Lock()
	s.streams[ch] = struct{}{}
	s.streamMu.Unlock()
	defer func() {
		s.streamMu.Lock()
		delete(s.streams, ch)
		s.streamMu.Unlock()
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
