package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/FrameFilter/internal/logger"
	"github.com/bryanchriswhite/FrameFilter/internal/overlay"
	"github.com/bryanchriswhite/FrameFilter/internal/relay"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// DefaultStreamInterval is how often /api/stats/stream pushes a snapshot
const DefaultStreamInterval = time.Second

// Source is what the API reports on. *relay.Controller implements it.
type Source interface {
	Stats() relay.Snapshot
	Chains() []relay.ChainInfo
}

// Server represents the HTTP status server
type Server struct {
	router   *mux.Router
	source   Source
	overlay  *overlay.Manager
	upgrader websocket.Upgrader
	interval time.Duration

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a new status server. The overlay routes answer 503
// when overlayMgr is nil.
func NewServer(source Source, overlayMgr *overlay.Manager) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		source:   source,
		overlay:  overlayMgr,
		interval: DefaultStreamInterval,
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // status is read-only
			},
		},
	}

	s.setupRoutes()
	return s
}

// SetStreamInterval changes the websocket push interval
func (s *Server) SetStreamInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// setupRoutes registers full paths on the root router; a method mismatch
// on a subrouter is reported as 404 instead of 405.
func (s *Server) setupRoutes() {
	r := s.router

	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/api/stats/stream", s.handleStatsStream)
	r.HandleFunc("/api/chains", s.handleChains).Methods("GET")

	// Overlay management
	r.HandleFunc("/api/overlay", s.handleGetOverlay).Methods("GET")
	r.HandleFunc("/api/overlay", s.handleSetOverlay).Methods("PUT")
	r.HandleFunc("/api/overlay/types", s.handleWidgetTypes).Methods("GET")
	r.HandleFunc("/api/overlay/widgets", s.handleGetWidgets).Methods("GET")
	r.HandleFunc("/api/overlay/widgets", s.handleAddWidget).Methods("POST")
	r.HandleFunc("/api/overlay/widgets", s.handleClearWidgets).Methods("DELETE")
	r.HandleFunc("/api/overlay/widgets/{id}", s.handleUpdateWidget).Methods("PUT")
	r.HandleFunc("/api/overlay/widgets/{id}", s.handleRemoveWidget).Methods("DELETE")
}

// Handler returns the root handler, CORS included
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start listens on addr and serves in the background. It returns the
// address actually bound, which differs from addr when the port is 0.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.listener = ln
	s.mu.Unlock()

	log := logger.WithComponent("api")
	log.Info().Str("addr", ln.Addr().String()).Msg("Status server listening")

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Status server failed")
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the server and closes open stat streams
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": Version,
		"state":   s.source.Stats().State,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.source.Stats())
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	chains := s.source.Chains()
	if chains == nil {
		chains = []relay.ChainInfo{}
	}
	writeJSON(w, chains)
}

func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// a read error means the client went away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.source.Stats()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.done:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-r.Context().Done():
			return
		}
	}
}

// withOverlay runs fn when an overlay manager is attached
func (s *Server) withOverlay(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.overlay == nil {
			http.Error(w, "overlay not available", http.StatusServiceUnavailable)
			return
		}
		fn(w, r)
	}
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	s.withOverlay(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"enabled": s.overlay.IsEnabled(),
			"widgets": s.overlay.ExportConfig(),
		})
	})(w, r)
}

func (s *Server) handleSetOverlay(w http.ResponseWriter, r *http.Request) {
	s.withOverlay(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Enabled == nil {
			http.Error(w, "missing `enabled`", http.StatusBadRequest)
			return
		}
		s.overlay.SetEnabled(*req.Enabled)
		writeJSON(w, map[string]string{"status": "success"})
	})(w, r)
}

func (s *Server) handleWidgetTypes(w http.ResponseWriter, r *http.Request) {
	s.withOverlay(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.overlay.GetAvailableWidgetTypes())
	})(w, r)
}

func (s *Server) handleGetWidgets(w http.ResponseWriter, r *http.Request) {
	s.withOverlay(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.overlay.ExportConfig())
	})(w, r)
}

func (s *Server) handleAddWidget(w http.ResponseWriter, r *http.Request) {
	s.withOverlay(func(w http.ResponseWriter, r *http.Request) {
		var config map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		widgetType, _ := config["type"].(string)
		id, _ := config["id"].(string)
		if widgetType == "" || id == "" {
			http.Error(w, "widget needs `type` and `id`", http.StatusBadRequest)
			return
		}

		widget, err := s.overlay.CreateWidget(widgetType, id, config)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.overlay.AddWidget(widget); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, widget.GetConfig())
	})(w, r)
}

func (s *Server) handleUpdateWidget(w http.ResponseWriter, r *http.Request) {
	s.withOverlay(func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var config map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, ok := s.overlay.GetWidget(id); !ok {
			http.Error(w, "widget not found: "+id, http.StatusNotFound)
			return
		}
		if err := s.overlay.UpdateWidget(id, config); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		widget, _ := s.overlay.GetWidget(id)
		writeJSON(w, widget.GetConfig())
	})(w, r)
}

func (s *Server) handleRemoveWidget(w http.ResponseWriter, r *http.Request) {
	s.withOverlay(func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := s.overlay.RemoveWidget(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"status": "success"})
	})(w, r)
}

func (s *Server) handleClearWidgets(w http.ResponseWriter, r *http.Request) {
	s.withOverlay(func(w http.ResponseWriter, r *http.Request) {
		s.overlay.Clear()
		writeJSON(w, map[string]string{"status": "success"})
	})(w, r)
}
