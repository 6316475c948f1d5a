// Package encoder turns an ordered set of still-image buffers into one
// animated GIF. The stateful encoding engine sits behind the Engine
// interface; the Adapter owns its lifecycle and guarantees working-space
// cleanup on every exit path.
package encoder

import (
	"context"
	"errors"
	"os/exec"

	"github.com/awalling/gifcam/internal/logger"
)

var (
	// ErrEngineInit indicates the encoding engine could not be prepared.
	// Fatal for the current call, recoverable by retrying.
	ErrEngineInit = errors.New("encoding engine initialization failed")

	// ErrNoFrames indicates Encode was called with zero input buffers.
	// This is a caller contract violation, not a user-facing condition.
	ErrNoFrames = errors.New("no frames to encode")

	// ErrEncodeExecution indicates the engine failed mid-encode.
	ErrEncodeExecution = errors.New("gif encoding failed")
)

// Job describes one encode operation over files already written into the
// engine's working space.
type Job struct {
	// InputNames are the working-space file names in exact frame order
	InputNames []string
	// InputPattern is the printf-style pattern matching InputNames,
	// for engines that consume a sequence pattern rather than a list
	InputPattern string
	// OutputName is the working-space name the result is written under
	OutputName string
	// FrameRate is the GIF playback rate in frames per second
	FrameRate float64
	// MaxWidth bounds the output width; frames are scaled down
	// proportionally, never up
	MaxWidth int
	// Progress receives 0-100 updates during the operation; may be nil
	Progress func(percent int)
}

// Engine is a stateful encoding backend with a private working space.
type Engine interface {
	// Name returns a human-readable backend name
	Name() string

	// Init prepares the engine and its working space
	Init(ctx context.Context) error

	// WriteInput places one frame into the working space
	WriteInput(name string, data []byte) error

	// Encode runs the GIF assembly over previously written inputs
	Encode(ctx context.Context, job Job) error

	// ReadOutput reads the encoded result back from the working space
	ReadOutput(name string) ([]byte, error)

	// Remove deletes one working-space file
	Remove(name string) error

	// Close tears down the working space
	Close() error
}

// NewEngine selects an encoding backend. "ffmpeg" and "native" force a
// backend; "auto" prefers ffmpeg when the binary is on PATH and falls back
// to the pure-Go encoder otherwise.
func NewEngine(preference string) (Engine, error) {
	log := logger.WithComponent("encoder")

	switch preference {
	case "ffmpeg":
		return NewFFmpegEngine(), nil
	case "native", "":
		return NewNativeEngine(), nil
	case "auto":
		if _, err := exec.LookPath(ffmpegBinary); err == nil {
			log.Info().Msg("Using ffmpeg encoding engine")
			return NewFFmpegEngine(), nil
		}
		log.Info().Msg("ffmpeg not found, using native encoding engine")
		return NewNativeEngine(), nil
	default:
		return nil, errors.New("unknown engine preference: " + preference)
	}
}
