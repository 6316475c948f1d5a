// Package output serves the live camera view. The poller hands every
// successfully fetched still to the relay, which fans it out to connected
// browsers as a Motion JPEG stream.
package output

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/awalling/gifcam/internal/logger"
)

// MJPEGRelay streams polled camera frames as Motion JPEG over HTTP.
type MJPEGRelay struct {
	mu      sync.RWMutex
	running bool

	// Latest frame, served immediately to newly connected clients
	frameMu    sync.RWMutex
	lastFrame  []byte
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount uint64
	startTime  time.Time
}

// NewMJPEGRelay creates a stopped relay.
func NewMJPEGRelay() *MJPEGRelay {
	return &MJPEGRelay{
		clients: make(map[chan []byte]struct{}),
	}
}

// Start makes the relay accept frames.
func (m *MJPEGRelay) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG relay already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("output").Info().Msg("[MJPEG] Relay started")
	return nil
}

// Stop disconnects all clients and stops accepting frames.
func (m *MJPEGRelay) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("output").Info().Msgf("[MJPEG] Relay stopped after %v frames", m.frameCount)
	return nil
}

// IsRunning returns true if the relay is active.
func (m *MJPEGRelay) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// WriteJPEG broadcasts one already-encoded JPEG frame to all clients.
func (m *MJPEGRelay) WriteJPEG(data []byte) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG relay not running")
	}

	m.frameMu.Lock()
	m.lastFrame = data
	m.lastUpdate = time.Now()
	m.frameCount++
	m.frameMu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
			// Sent successfully
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// GetHTTPHandler returns the multipart MJPEG stream handler.
func (m *MJPEGRelay) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2) // Buffer 2 frames

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		logger.WithComponent("output").Info().Msgf("[MJPEG] New client connected (total: %d)", clientCount)

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			logger.WithComponent("output").Info().Msgf("[MJPEG] Client disconnected (remaining: %d)", clientCount)
		}()

		// Serve the most recent frame first so the view isn't blank until
		// the next poll cycle
		m.frameMu.RLock()
		last := m.lastFrame
		m.frameMu.RUnlock()
		if last != nil {
			if err := writePart(w, last); err != nil {
				return
			}
		}

		for jpegData := range frameChan {
			if err := writePart(w, jpegData); err != nil {
				return
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Stats describes relay activity for the stats endpoint.
type Stats struct {
	Running    bool      `json:"running"`
	FrameCount uint64    `json:"frame_count"`
	Clients    int       `json:"clients"`
	LastUpdate time.Time `json:"last_update"`
	StartedAt  time.Time `json:"started_at"`
}

// GetStats returns a snapshot of relay activity.
func (m *MJPEGRelay) GetStats() Stats {
	m.mu.RLock()
	running := m.running
	startTime := m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	frameCount := m.frameCount
	lastUpdate := m.lastUpdate
	m.frameMu.RUnlock()

	m.clientsMu.RLock()
	clients := len(m.clients)
	m.clientsMu.RUnlock()

	return Stats{
		Running:    running,
		FrameCount: frameCount,
		Clients:    clients,
		LastUpdate: lastUpdate,
		StartedAt:  startTime,
	}
}
