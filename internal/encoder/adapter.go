package encoder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/awalling/gifcam/internal/logger"
)

const outputName = "output.gif"

// Adapter owns the encoding engine lifecycle. Initialization is lazy,
// idempotent and safe under concurrency: a caller arriving while another
// initialization is in flight waits for it instead of starting a second.
// Each Encode call scopes its working files strictly to itself and removes
// them on every exit path.
//
// At most one Encode should be in flight per adapter; the session manager
// enforces this with its creating flag, and the adapter serializes
// defensively as well.
type Adapter struct {
	engine Engine

	initMu sync.Mutex
	ready  bool

	encodeMu sync.Mutex

	progress   atomic.Int32
	onProgress func(int)
}

// NewAdapter wraps an engine. onProgress, if non-nil, receives every
// progress change including the resets to 0 at call start and end.
func NewAdapter(engine Engine, onProgress func(int)) *Adapter {
	return &Adapter{engine: engine, onProgress: onProgress}
}

// EngineName returns the name of the underlying backend.
func (a *Adapter) EngineName() string {
	return a.engine.Name()
}

// Initialize prepares the underlying engine. Safe to call repeatedly and
// concurrently; after a failure the next call re-attempts.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()

	if a.ready {
		return nil
	}
	if err := a.engine.Init(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineInit, err)
	}
	a.ready = true
	return nil
}

// Progress returns the current encode progress, 0-100. It reads 0 outside
// of an in-flight Encode call.
func (a *Adapter) Progress() int {
	return int(a.progress.Load())
}

// setProgress keeps progress monotone within one call; only the explicit
// resets move it backwards.
func (a *Adapter) setProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	for {
		cur := a.progress.Load()
		if int32(pct) <= cur {
			return
		}
		if a.progress.CompareAndSwap(cur, int32(pct)) {
			break
		}
	}
	if a.onProgress != nil {
		a.onProgress(pct)
	}
}

func (a *Adapter) resetProgress() {
	a.progress.Store(0)
	if a.onProgress != nil {
		a.onProgress(0)
	}
}

// Encode turns ordered image buffers into a single GIF at the given frame
// rate. Frames are written into the engine working space under zero-padded
// sequential names so the engine's ordering matches input order exactly.
func (a *Adapter) Encode(ctx context.Context, buffers [][]byte, frameRate float64, maxWidth int) ([]byte, error) {
	if len(buffers) == 0 {
		return nil, ErrNoFrames
	}

	if err := a.Initialize(ctx); err != nil {
		return nil, err
	}

	a.encodeMu.Lock()
	defer a.encodeMu.Unlock()

	log := logger.WithComponent("encoder")

	a.resetProgress()
	defer a.resetProgress()

	names := make([]string, len(buffers))
	for i := range buffers {
		names[i] = fmt.Sprintf("frame_%04d.jpg", i)
	}

	var written []string
	cleanup := func() {
		for _, name := range written {
			if err := a.engine.Remove(name); err != nil {
				log.Warn().Err(err).Str("file", name).Msg("Failed to remove working file")
			}
		}
	}

	for i, data := range buffers {
		if err := a.engine.WriteInput(names[i], data); err != nil {
			cleanup()
			return nil, fmt.Errorf("%w: writing frame %d: %v", ErrEncodeExecution, i, err)
		}
		written = append(written, names[i])
	}

	job := Job{
		InputNames:   names,
		InputPattern: "frame_%04d.jpg",
		OutputName:   outputName,
		FrameRate:    frameRate,
		MaxWidth:     maxWidth,
		Progress:     a.setProgress,
	}

	log.Info().
		Int("frames", len(buffers)).
		Float64("fps", frameRate).
		Str("engine", a.engine.Name()).
		Msg("Encoding GIF")

	if err := a.engine.Encode(ctx, job); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: %v", ErrEncodeExecution, err)
	}
	written = append(written, outputName)

	result, err := a.engine.ReadOutput(outputName)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: reading output: %v", ErrEncodeExecution, err)
	}

	a.setProgress(100)
	cleanup()

	log.Info().Int("size_bytes", len(result)).Msg("GIF encoded")
	return result, nil
}

// Close tears down the engine working space.
func (a *Adapter) Close() error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	a.ready = false
	return a.engine.Close()
}
