package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/awalling/gifcam/internal/config"
	"github.com/awalling/gifcam/internal/encoder"
	"github.com/awalling/gifcam/internal/frames"
	"github.com/awalling/gifcam/internal/logger"
	"github.com/awalling/gifcam/internal/output"
	"github.com/awalling/gifcam/internal/session"
	"github.com/awalling/gifcam/internal/share"
)

// maxFrameUpload bounds direct frame submissions.
const maxFrameUpload = 8 << 20

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	sessions  *session.Manager
	store     *frames.Store
	cfgMgr    *config.Manager
	relay     *output.MJPEGRelay
	diskSaver share.Saver
	upgrader  websocket.Upgrader
}

// NewServer creates a new API server. diskSaver may be nil when no writable
// output directory was detected; the attachment download path still works.
func NewServer(sessions *session.Manager, store *frames.Store, cfgMgr *config.Manager, relay *output.MJPEGRelay, diskSaver share.Saver) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		sessions:  sessions,
		store:     store,
		cfgMgr:    cfgMgr,
		relay:     relay,
		diskSaver: diskSaver,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Capture session
	api.HandleFunc("/capture/start", s.handleStartCapture).Methods("POST")
	api.HandleFunc("/capture/stop", s.handleStopCapture).Methods("POST")

	// Frame curation
	api.HandleFunc("/frames", s.handleAddFrame).Methods("POST")
	api.HandleFunc("/frames", s.handleClearFrames).Methods("DELETE")
	api.HandleFunc("/frames/{index}/toggle", s.handleToggleSelection).Methods("POST")
	api.HandleFunc("/frames/{index}/preview", s.handleFramePreview).Methods("GET")
	api.HandleFunc("/previews/{id}", s.handlePreview).Methods("GET")

	// GIF assembly and delivery
	api.HandleFunc("/gif", s.handleCreateGIF).Methods("POST")
	api.HandleFunc("/gif", s.handleDownloadGIF).Methods("GET")
	api.HandleFunc("/gif/save", s.handleSaveGIF).Methods("POST")

	// State
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/state/stream", s.handleStateStream)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config/view", s.handleUpdateView).Methods("PUT")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Live camera view
	s.router.HandleFunc("/stream", s.relay.GetHTTPHandler()).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting server")
	return http.ListenAndServe(addr, s.enableCORS(s.router))
}

// Handler exposes the configured router, mainly for tests.
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

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	s.sessions.StartCapture()
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	s.sessions.StopCapture()
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

// handleAddFrame accepts a raw image body and feeds it through the session,
// subject to the same capture gate as polled frames.
func (s *Server) handleAddFrame(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty frame body"))
		return
	}

	frame, buffered := s.sessions.AddFrame(data)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"buffered": buffered,
		"frame":    frame,
	})
}

func (s *Server) handleClearFrames(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearFrames()
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleToggleSelection(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sessions.ToggleSelection(index); err != nil {
		if errors.Is(err, frames.ErrIndexOutOfRange) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

// handleFramePreview lazily creates the frame's preview handle and redirects
// to it. The handle stays valid until the frame is cleared.
func (s *Server) handleFramePreview(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.store.Preview(index)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	http.Redirect(w, r, "/api/previews/"+id, http.StatusFound)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, ok := s.store.PreviewData(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("preview handle revoked or unknown"))
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

func (s *Server) handleCreateGIF(w http.ResponseWriter, r *http.Request) {
	result, err := s.sessions.CreateGIF(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, result)
	case errors.Is(err, session.ErrEncodeInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, session.ErrInsufficientFrames):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, encoder.ErrEngineInit):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleDownloadGIF(w http.ResponseWriter, r *http.Request) {
	_, err := s.sessions.DownloadResult(&share.AttachmentSaver{W: w})
	if err != nil {
		if errors.Is(err, session.ErrNoResult) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		logger.WithComponent("api").Error().Err(err).Msg("GIF download failed")
	}
}

// handleSaveGIF writes the result to the server-side output directory, when
// one is available.
func (s *Server) handleSaveGIF(w http.ResponseWriter, r *http.Request) {
	if s.diskSaver == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no writable output directory configured"))
		return
	}

	filename, err := s.sessions.DownloadResult(s.diskSaver)
	if err != nil {
		if errors.Is(err, session.ErrNoResult) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": filename})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

// handleStateStream pushes session snapshots over a websocket.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.sessions.Subscribe()
	defer s.sessions.Unsubscribe(updates)

	// Send initial state
	if err := conn.WriteJSON(s.sessions.Snapshot()); err != nil {
		return
	}

	for snap := range updates {
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfgMgr.Get())
}

func (s *Server) handleUpdateView(w http.ResponseWriter, r *http.Request) {
	var view config.ViewConfig
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.cfgMgr.UpdateView(view); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.GetStats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
