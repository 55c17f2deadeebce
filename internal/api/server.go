package api

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/surfacecast/surfacecast/internal/logger"
	"github.com/surfacecast/surfacecast/internal/streamer"
	"github.com/surfacecast/surfacecast/internal/surface"
)

// maxUploadBytes bounds surface uploads; a 4096x4096 float32 RGBA buffer.
const maxUploadBytes = 4096 * 4096 * 4 * 4

// Server exposes the control surface (start/stop), the status surface and the
// editor-facing surface upload path over HTTP.
type Server struct {
	router   *mux.Router
	registry *surface.Registry
	streamer *streamer.Streamer
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(registry *surface.Registry, str *streamer.Streamer) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		registry: registry,
		streamer: str,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Stream control and status
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/status/ws", s.handleStatusStream)
	api.HandleFunc("/stream/start", s.handleStreamStart).Methods("POST")
	api.HandleFunc("/stream/stop", s.handleStreamStop).Methods("POST")

	// Surface access (the editor's commit path)
	api.HandleFunc("/surfaces", s.handleListSurfaces).Methods("GET")
	api.HandleFunc("/surfaces/{name}", s.handleGetSurface).Methods("GET")
	api.HandleFunc("/surfaces/{name}/pixels", s.handlePutPixels).Methods("PUT")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting server")
	return http.ListenAndServe(addr, s.enableCORS(s.router))
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
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

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.streamer.Status())
}

// handleStatusStream pushes a status snapshot over a websocket once per second.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(s.streamer.Status()); err != nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.streamer.Status()); err != nil {
			return
		}
	}
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if err := s.streamer.Start(); err != nil {
		// The error is also recorded in the pipeline state; surface both.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.streamer.Status())
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	s.streamer.Stop()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.streamer.Status())
}

func (s *Server) handleListSurfaces(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"surfaces": s.registry.Names()})
}

func (s *Server) handleGetSurface(w http.ResponseWriter, r *http.Request) {
	surf := s.registry.Get(mux.Vars(r)["name"])
	if surf == nil {
		http.Error(w, "surface not found", http.StatusNotFound)
		return
	}

	width, height := surf.Size()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"name":   surf.Name(),
		"width":  width,
		"height": height,
		"dirty":  surf.Dirty(),
	})
}

// handlePutPixels replaces the surface content. Accepts a PNG or JPEG body
// (scaled to the surface size) or raw little-endian float32 RGBA samples.
// This is the editor's commit path: the upload marks the surface dirty and the
// next scheduler tick picks it up.
func (s *Server) handlePutPixels(w http.ResponseWriter, r *http.Request) {
	surf := s.registry.Get(mux.Vars(r)["name"])
	if surf == nil {
		http.Error(w, "surface not found", http.StatusNotFound)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	contentType := r.Header.Get("Content-Type")

	var err error
	switch {
	case strings.HasPrefix(contentType, "image/"):
		err = surf.LoadImage(body)
	default:
		err = putRawPixels(surf, body)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// putRawPixels reads W*H*4 little-endian float32 samples into the surface.
func putRawPixels(surf *surface.Surface, body io.Reader) error {
	width, height := surf.Size()
	want := width * height * 4

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) != want*4 {
		return fmt.Errorf("body length %d, want %d bytes (%d float32 samples)", len(data), want*4, want)
	}

	pixels := make([]float32, want)
	for i := range pixels {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		pixels[i] = math.Float32frombits(bits)
	}

	return surf.SetPixels(pixels)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
