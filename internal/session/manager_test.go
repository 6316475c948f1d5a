package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/awalling/gifcam/internal/config"
	"github.com/awalling/gifcam/internal/encoder"
	"github.com/awalling/gifcam/internal/frames"
)

// recordingEngine captures the exact buffers handed to the encoder so tests
// can assert curation order. Encode can be made to block or fail.
type recordingEngine struct {
	mu        sync.Mutex
	files     map[string][]byte
	written   [][]byte
	encodeErr error
	gate      chan struct{}
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{files: make(map[string][]byte)}
}

func (e *recordingEngine) Name() string                   { return "recording" }
func (e *recordingEngine) Init(ctx context.Context) error { return nil }
func (e *recordingEngine) Close() error                   { return nil }

func (e *recordingEngine) WriteInput(name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[name] = data
	e.written = append(e.written, data)
	return nil
}

func (e *recordingEngine) Encode(ctx context.Context, job encoder.Job) error {
	if e.gate != nil {
		<-e.gate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encodeErr != nil {
		return e.encodeErr
	}
	e.files[job.OutputName] = []byte("GIF89a-fake")
	return nil
}

func (e *recordingEngine) ReadOutput(name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[name]
	if !ok {
		return nil, fmt.Errorf("missing %q", name)
	}
	return data, nil
}

func (e *recordingEngine) Remove(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.files, name)
	return nil
}

func (e *recordingEngine) writtenInputs() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.written))
	copy(out, e.written)
	return out
}

func testConfig(t *testing.T) *config.Manager {
	t.Helper()
	m, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("config setup failed: %v", err)
	}
	return m
}

func newTestManager(t *testing.T, maxFrames int, eng *recordingEngine) *Manager {
	t.Helper()
	m := NewManager(frames.NewStore(maxFrames), eng, testConfig(t))
	t.Cleanup(func() { m.Close() })
	return m
}

func frameData(i int) []byte {
	return []byte(fmt.Sprintf("frame-%d", i))
}

func TestManager_CaptureToGIFHappyPath(t *testing.T) {
	eng := newRecordingEngine()
	m := newTestManager(t, 5, eng)

	m.StartCapture()
	for i := 0; i < 5; i++ {
		m.AddFrame(frameData(i))
	}

	// Cap reached: capture auto-stops, all frames kept and selected
	if m.Capturing() {
		t.Fatal("capture should auto-stop at cap")
	}
	snap := m.Snapshot()
	if snap.FrameCount != 5 || snap.SelectedCount != 5 {
		t.Fatalf("unexpected snapshot counts: %+v", snap)
	}

	result, err := m.CreateGIF(context.Background())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if result.ID == "" || result.SizeBytes != len(result.Bytes) || len(result.Bytes) == 0 {
		t.Fatalf("malformed result: %+v", result)
	}
	if m.Creating() {
		t.Fatal("creating flag stuck after success")
	}

	got, ok := m.Result()
	if !ok || got.ID != result.ID {
		t.Fatal("result not retained")
	}

	// All five frames reached the engine in capture order
	inputs := eng.writtenInputs()
	if len(inputs) != 5 {
		t.Fatalf("engine received %d frames", len(inputs))
	}
	for i, data := range inputs {
		if string(data) != string(frameData(i)) {
			t.Fatalf("engine input %d is %q", i, data)
		}
	}
}

func TestManager_CurationSkipsDeselectedFramesInOrder(t *testing.T) {
	eng := newRecordingEngine()
	m := newTestManager(t, 10, eng)

	m.StartCapture()
	for i := 0; i < 4; i++ {
		m.AddFrame(frameData(i))
	}
	m.StopCapture()

	if err := m.ToggleSelection(2); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	if _, err := m.CreateGIF(context.Background()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	inputs := eng.writtenInputs()
	wantOrder := []int{0, 1, 3}
	if len(inputs) != len(wantOrder) {
		t.Fatalf("engine received %d frames, want %d", len(inputs), len(wantOrder))
	}
	for i, idx := range wantOrder {
		if string(inputs[i]) != string(frameData(idx)) {
			t.Fatalf("engine input %d is %q, want %q", i, inputs[i], frameData(idx))
		}
	}
}

func TestManager_InsufficientFramesLeavesStateUntouched(t *testing.T) {
	eng := newRecordingEngine()
	m := newTestManager(t, 10, eng)

	m.StartCapture()
	m.AddFrame(frameData(0))
	m.AddFrame(frameData(1))
	m.StopCapture()
	m.ToggleSelection(1)

	_, err := m.CreateGIF(context.Background())
	if !errors.Is(err, ErrInsufficientFrames) {
		t.Fatalf("expected ErrInsufficientFrames, got %v", err)
	}

	// Captured frames and selection survive the failed attempt
	snap := m.Snapshot()
	if snap.FrameCount != 2 || snap.SelectedCount != 1 {
		t.Fatalf("state disturbed by failed precondition: %+v", snap)
	}
	if len(eng.writtenInputs()) != 0 {
		t.Fatal("engine was invoked despite failed precondition")
	}
}

func TestManager_ConcurrentCreateRejected(t *testing.T) {
	eng := newRecordingEngine()
	eng.gate = make(chan struct{})
	m := newTestManager(t, 10, eng)

	m.StartCapture()
	m.AddFrame(frameData(0))
	m.AddFrame(frameData(1))
	m.StopCapture()

	done := make(chan error, 1)
	go func() {
		_, err := m.CreateGIF(context.Background())
		done <- err
	}()

	// Wait until the first create holds the flag
	deadline := time.Now().Add(2 * time.Second)
	for !m.Creating() {
		if time.Now().After(deadline) {
			t.Fatal("first create never started")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := m.CreateGIF(context.Background()); !errors.Is(err, ErrEncodeInProgress) {
		t.Fatalf("expected ErrEncodeInProgress, got %v", err)
	}

	close(eng.gate)
	if err := <-done; err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if m.Creating() {
		t.Fatal("creating flag stuck")
	}
}

func TestManager_FailedEncodeIsRetryable(t *testing.T) {
	eng := newRecordingEngine()
	eng.encodeErr = errors.New("engine broke")
	m := newTestManager(t, 10, eng)

	m.StartCapture()
	m.AddFrame(frameData(0))
	m.AddFrame(frameData(1))
	m.StopCapture()

	if _, err := m.CreateGIF(context.Background()); err == nil {
		t.Fatal("expected encode failure")
	}
	if m.Creating() {
		t.Fatal("creating flag stuck after failure")
	}
	if _, ok := m.Result(); ok {
		t.Fatal("failed create left a result")
	}

	// Same selection, engine recovered: retry succeeds
	eng.mu.Lock()
	eng.encodeErr = nil
	eng.mu.Unlock()

	if _, err := m.CreateGIF(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

type memSaver struct {
	filename string
	data     []byte
	err      error
}

func (s *memSaver) Name() string { return "mem" }

func (s *memSaver) Save(filename string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.filename = filename
	s.data = data
	return nil
}

func TestManager_DownloadResult(t *testing.T) {
	eng := newRecordingEngine()
	m := newTestManager(t, 10, eng)

	saver := &memSaver{}
	if _, err := m.DownloadResult(saver); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}

	m.StartCapture()
	m.AddFrame(frameData(0))
	m.AddFrame(frameData(1))
	m.StopCapture()

	result, err := m.CreateGIF(context.Background())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	filename, err := m.DownloadResult(saver)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !strings.HasPrefix(filename, "gifcam_") || !strings.HasSuffix(filename, ".gif") {
		t.Fatalf("unexpected filename %q", filename)
	}
	if string(saver.data) != string(result.Bytes) {
		t.Fatal("saver received wrong bytes")
	}

	// The result survives delivery and can be downloaded again
	if _, err := m.DownloadResult(saver); err != nil {
		t.Fatalf("second download failed: %v", err)
	}
}

func TestManager_StartCaptureDiscardsResult(t *testing.T) {
	eng := newRecordingEngine()
	m := newTestManager(t, 10, eng)

	m.StartCapture()
	m.AddFrame(frameData(0))
	m.AddFrame(frameData(1))
	m.StopCapture()

	if _, err := m.CreateGIF(context.Background()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	m.StartCapture()
	if _, ok := m.Result(); ok {
		t.Fatal("new capture session kept stale result")
	}
	if m.Snapshot().FrameCount != 0 {
		t.Fatal("new capture session kept stale frames")
	}
}

func TestManager_FeedErrorLifecycle(t *testing.T) {
	m := newTestManager(t, 10, newRecordingEngine())

	m.SetFeedError(errors.New("camera offline"))
	if got := m.Snapshot().FeedError; got != "camera offline" {
		t.Fatalf("feed error not surfaced: %q", got)
	}

	m.ClearFeedError()
	if got := m.Snapshot().FeedError; got != "" {
		t.Fatalf("feed error not cleared: %q", got)
	}
}

func TestManager_SubscribersObserveChanges(t *testing.T) {
	m := newTestManager(t, 10, newRecordingEngine())

	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	m.StartCapture()

	select {
	case snap := <-ch:
		if !snap.Capturing {
			t.Fatalf("first notification should show capturing: %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
	}
}
