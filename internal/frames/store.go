// Package frames holds the bounded, ordered buffer of captured camera stills.
//
// The store knows nothing about networking or encoding. It owns the frame
// byte buffers and their preview handles, keeps frames in capture order,
// and enforces the configured cap. Cap policy is auto-stop: the append that
// fills the buffer flips capturing off in the same call, so no frame beyond
// the cap is ever buffered.
package frames

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awalling/gifcam/internal/logger"
)

// ErrIndexOutOfRange is returned by selection operations with a bad index.
var ErrIndexOutOfRange = errors.New("frame index out of range")

// Frame is one sampled still image. Data is owned by the store entry and
// never mutated after capture. CapturedAt is the capture-order key.
type Frame struct {
	Data       []byte    `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
	Selected   bool      `json:"selected"`
	SizeBytes  int       `json:"size_bytes"`

	// PreviewID is the revocable display handle, empty until first requested
	PreviewID string `json:"preview_id,omitempty"`
}

// Store is an ordered sequence of frames bounded by maxFrames.
type Store struct {
	mu        sync.Mutex
	frames    []*Frame
	capturing bool
	maxFrames int
	previews  map[string][]byte
}

// NewStore creates a frame store with the given cap.
func NewStore(maxFrames int) *Store {
	return &Store{
		maxFrames: maxFrames,
		previews:  make(map[string][]byte),
	}
}

// StartCapture clears any previous frames (revoking their preview handles)
// and begins accepting new ones. Calling it while already capturing restarts
// the session rather than erroring.
func (s *Store) StartCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeAllLocked()
	s.frames = s.frames[:0]
	s.capturing = true

	logger.WithComponent("frames").Debug().Int("max_frames", s.maxFrames).Msg("Capture started")
}

// StopCapture stops accepting frames. Buffered frames are untouched.
func (s *Store) StopCapture() {
	s.mu.Lock()
	s.capturing = false
	s.mu.Unlock()
}

// IsCapturing reports whether the store currently accepts frames.
func (s *Store) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// AddFrame constructs a frame stamped with the current time and, if a capture
// session is active, buffers it. When not capturing the frame is still
// constructed and returned (the store doubles as a frame factory) but not
// retained; the second return value reports whether it was buffered.
func (s *Store) AddFrame(data []byte) (Frame, bool) {
	return s.AddFrameAt(data, time.Now())
}

// AddFrameAt is AddFrame with an explicit capture timestamp, used by the
// capture pipeline so frame order follows fetch completion time even if
// completions ever arrive out of order.
func (s *Store) AddFrameAt(data []byte, at time.Time) (Frame, bool) {
	f := &Frame{
		Data:       data,
		CapturedAt: at,
		Selected:   true,
		SizeBytes:  len(data),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capturing || len(s.frames) >= s.maxFrames {
		return *f, false
	}

	s.insertLocked(f)

	if len(s.frames) >= s.maxFrames {
		// Cap reached: stop synchronously so no further frame is buffered
		s.capturing = false
		logger.WithComponent("frames").Info().
			Int("frames", len(s.frames)).
			Msg("Frame cap reached, capture auto-stopped")
	}

	return *f, true
}

// insertLocked keeps the sequence ordered by CapturedAt. The common case is
// an append; a timestamp earlier than the tail is placed by binary search.
// Equal timestamps keep insertion order and must not fail.
func (s *Store) insertLocked(f *Frame) {
	n := len(s.frames)
	if n == 0 || !f.CapturedAt.Before(s.frames[n-1].CapturedAt) {
		s.frames = append(s.frames, f)
		return
	}
	i := sort.Search(n, func(i int) bool {
		return s.frames[i].CapturedAt.After(f.CapturedAt)
	})
	s.frames = append(s.frames, nil)
	copy(s.frames[i+1:], s.frames[i:])
	s.frames[i] = f
}

// ClearFrames revokes every preview handle, empties the sequence and stops
// any active capture.
func (s *Store) ClearFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeAllLocked()
	s.frames = s.frames[:0]
	s.capturing = false
}

func (s *Store) revokeAllLocked() {
	for _, f := range s.frames {
		if f.PreviewID != "" {
			delete(s.previews, f.PreviewID)
			f.PreviewID = ""
		}
	}
}

// ToggleSelection flips the selected flag on the frame at index.
func (s *Store) ToggleSelection(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.frames) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(s.frames))
	}
	s.frames[index].Selected = !s.frames[index].Selected
	return nil
}

// Len returns the number of buffered frames.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Frames returns a snapshot of frame metadata in capture order.
func (s *Store) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Frame, len(s.frames))
	for i, f := range s.frames {
		out[i] = *f
	}
	return out
}

// SelectedData returns the image buffers of all selected frames in capture
// order, ready to hand to the encoder.
func (s *Store) SelectedData() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, 0, len(s.frames))
	for _, f := range s.frames {
		if f.Selected {
			out = append(out, f.Data)
		}
	}
	return out
}

// SelectedCount returns the number of frames currently selected.
func (s *Store) SelectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, f := range s.frames {
		if f.Selected {
			n++
		}
	}
	return n
}

// Preview lazily creates the revocable preview handle for the frame at index
// and returns it. The handle resolves through PreviewData until the frame is
// cleared or the session ends.
func (s *Store) Preview(index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.frames) {
		return "", fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(s.frames))
	}

	f := s.frames[index]
	if f.PreviewID == "" {
		f.PreviewID = uuid.NewString()
		s.previews[f.PreviewID] = f.Data
	}
	return f.PreviewID, nil
}

// PreviewData resolves a preview handle to image bytes.
func (s *Store) PreviewData(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.previews[id]
	return data, ok
}
