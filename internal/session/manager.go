// Package session coordinates one GIF-making session: capture start/stop,
// frame curation, GIF assembly and result delivery. The manager owns the
// capture session state and the encoded result; the frame store owns the
// frames; the encoder adapter owns the engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awalling/gifcam/internal/config"
	"github.com/awalling/gifcam/internal/encoder"
	"github.com/awalling/gifcam/internal/frames"
	"github.com/awalling/gifcam/internal/logger"
	"github.com/awalling/gifcam/internal/share"
)

// MinGIFFrames is the hard precondition for assembly: a GIF needs at least
// two distinct images to be meaningful.
const MinGIFFrames = 2

var (
	// ErrInsufficientFrames indicates fewer than MinGIFFrames selected
	// frames at creation time. User-facing and recoverable; captured
	// data is untouched.
	ErrInsufficientFrames = errors.New("need at least 2 selected frames to create a GIF")

	// ErrEncodeInProgress indicates a creation request while another
	// encode is already running.
	ErrEncodeInProgress = errors.New("gif creation already in progress")

	// ErrNoResult indicates a download request with no encoded result.
	ErrNoResult = errors.New("no gif has been created yet")
)

// Result is one encoded GIF.
type Result struct {
	ID        string    `json:"id"`
	Bytes     []byte    `json:"-"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the externally visible session state, pushed to subscribers
// on every change.
type Snapshot struct {
	Capturing     bool           `json:"capturing"`
	Creating      bool           `json:"creating"`
	Progress      int            `json:"progress"`
	FrameCount    int            `json:"frame_count"`
	SelectedCount int            `json:"selected_count"`
	MaxFrames     int            `json:"max_frames"`
	Frames        []frames.Frame `json:"frames"`
	Result        *Result        `json:"result,omitempty"`
	FeedError     string         `json:"feed_error,omitempty"`
}

// Manager is the session orchestrator.
type Manager struct {
	store   *frames.Store
	adapter *encoder.Adapter
	cfgMgr  *config.Manager

	mu        sync.Mutex
	creating  bool
	result    *Result
	feedError string

	listenersMu sync.Mutex
	listeners   []chan Snapshot
}

// NewManager wires a session manager over the store and an encoding engine.
func NewManager(store *frames.Store, engine encoder.Engine, cfgMgr *config.Manager) *Manager {
	m := &Manager{
		store:  store,
		cfgMgr: cfgMgr,
	}
	m.adapter = encoder.NewAdapter(engine, func(int) { m.notify() })
	return m
}

// StartCapture resets the frame store, begins a new capture session and
// discards any previously encoded result.
func (m *Manager) StartCapture() {
	m.mu.Lock()
	m.result = nil
	m.mu.Unlock()

	m.store.StartCapture()
	logger.WithComponent("session").Info().Msg("Capture session started")
	m.notify()
}

// StopCapture ends the capture session, keeping buffered frames.
func (m *Manager) StopCapture() {
	m.store.StopCapture()
	logger.WithComponent("session").Info().
		Int("frames", m.store.Len()).
		Msg("Capture session stopped")
	m.notify()
}

// Capturing reports whether frames are currently accepted.
func (m *Manager) Capturing() bool {
	return m.store.IsCapturing()
}

// AddFrame delegates to the store with the current time as capture stamp.
func (m *Manager) AddFrame(data []byte) (frames.Frame, bool) {
	return m.AddFrameAt(data, time.Now())
}

// AddFrameAt delegates to the store. A frame arriving while not capturing is
// constructed but not buffered, per the store's frame-factory contract.
func (m *Manager) AddFrameAt(data []byte, at time.Time) (frames.Frame, bool) {
	f, buffered := m.store.AddFrameAt(data, at)
	if buffered {
		m.notify()
	}
	return f, buffered
}

// ToggleSelection flips inclusion of the frame at index in the next build.
func (m *Manager) ToggleSelection(index int) error {
	if err := m.store.ToggleSelection(index); err != nil {
		return err
	}
	m.notify()
	return nil
}

// ClearFrames empties the store and discards any encoded result.
func (m *Manager) ClearFrames() {
	m.mu.Lock()
	m.result = nil
	m.mu.Unlock()

	m.store.ClearFrames()
	m.notify()
}

// CreateGIF assembles the selected frames, in capture order, into a GIF at
// the configured frame rate. The creating flag is cleared on every exit
// path, and captured frames are never touched, so a failed attempt can be
// retried with the same selection.
func (m *Manager) CreateGIF(ctx context.Context) (Result, error) {
	selected := m.store.SelectedData()
	if len(selected) < MinGIFFrames {
		return Result{}, fmt.Errorf("%w (have %d)", ErrInsufficientFrames, len(selected))
	}

	m.mu.Lock()
	if m.creating {
		m.mu.Unlock()
		return Result{}, ErrEncodeInProgress
	}
	m.creating = true
	m.result = nil
	m.mu.Unlock()
	m.notify()

	defer func() {
		m.mu.Lock()
		m.creating = false
		m.mu.Unlock()
		m.notify()
	}()

	cfg := m.cfgMgr.Get()
	data, err := m.adapter.Encode(ctx, selected, cfg.GIF.FrameRate, cfg.GIF.MaxWidth)
	if err != nil {
		logger.WithComponent("session").Error().Err(err).Msg("GIF creation failed")
		return Result{}, err
	}

	result := Result{
		ID:        uuid.NewString(),
		Bytes:     data,
		SizeBytes: len(data),
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.result = &result
	m.mu.Unlock()

	logger.WithComponent("session").Info().
		Str("id", result.ID).
		Int("frames", len(selected)).
		Int("size_bytes", result.SizeBytes).
		Msg("GIF ready")
	m.notify()

	return result, nil
}

// Creating reports whether an encode is in flight.
func (m *Manager) Creating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creating
}

// Progress returns the current encode progress, 0-100.
func (m *Manager) Progress() int {
	return m.adapter.Progress()
}

// Result returns the current encoded result, if any.
func (m *Manager) Result() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return Result{}, false
	}
	return *m.result, true
}

// DownloadResult hands the current result to the given save strategy under
// a timestamped filename, and returns that filename.
func (m *Manager) DownloadResult(saver share.Saver) (string, error) {
	r, ok := m.Result()
	if !ok {
		return "", ErrNoResult
	}

	filename := fmt.Sprintf("gifcam_%s.gif", r.CreatedAt.Format("20060102_150405"))
	if err := saver.Save(filename, r.Bytes); err != nil {
		return "", fmt.Errorf("failed to deliver gif: %w", err)
	}
	return filename, nil
}

// SetFeedError records a live-feed failure for display. It does not stop an
// in-progress capture session.
func (m *Manager) SetFeedError(err error) {
	m.mu.Lock()
	m.feedError = err.Error()
	m.mu.Unlock()
	m.notify()
}

// ClearFeedError clears the live-feed failure indicator.
func (m *Manager) ClearFeedError() {
	m.mu.Lock()
	changed := m.feedError != ""
	m.feedError = ""
	m.mu.Unlock()
	if changed {
		m.notify()
	}
}

// Snapshot captures the externally visible state.
func (m *Manager) Snapshot() Snapshot {
	fs := m.store.Frames()
	selected := 0
	for _, f := range fs {
		if f.Selected {
			selected++
		}
	}

	m.mu.Lock()
	var result *Result
	if m.result != nil {
		r := *m.result
		result = &r
	}
	creating := m.creating
	feedErr := m.feedError
	m.mu.Unlock()

	return Snapshot{
		Capturing:     m.store.IsCapturing(),
		Creating:      creating,
		Progress:      m.adapter.Progress(),
		FrameCount:    len(fs),
		SelectedCount: selected,
		MaxFrames:     m.cfgMgr.Get().Capture.MaxFrames,
		Frames:        fs,
		Result:        result,
		FeedError:     feedErr,
	}
}

// Subscribe adds a listener for state changes.
func (m *Manager) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 10)
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenersMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *Manager) Unsubscribe(ch chan Snapshot) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// notify pushes the current snapshot to all listeners.
func (m *Manager) notify() {
	snap := m.Snapshot()

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	for _, listener := range m.listeners {
		select {
		case listener <- snap:
		default:
			// Skip if channel is full
		}
	}
}

// Close releases the encoder working space and all preview handles.
func (m *Manager) Close() error {
	m.store.ClearFrames()
	return m.adapter.Close()
}
