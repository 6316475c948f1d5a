package encoder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/awalling/gifcam/internal/logger"
)

const ffmpegBinary = "ffmpeg"

// FFmpegEngine shells out to ffmpeg with a temporary directory as working
// space. Frames are written as sequentially named files and assembled with a
// two-pass palette pipeline for decent GIF quality.
type FFmpegEngine struct {
	mu      sync.Mutex
	workdir string
}

// NewFFmpegEngine creates an uninitialized ffmpeg engine.
func NewFFmpegEngine() *FFmpegEngine {
	return &FFmpegEngine{}
}

// Name returns the backend name.
func (e *FFmpegEngine) Name() string { return "ffmpeg" }

// Init verifies the ffmpeg binary exists and creates the working directory.
func (e *FFmpegEngine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.workdir != "" {
		return nil
	}

	if _, err := exec.LookPath(ffmpegBinary); err != nil {
		return fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	dir, err := os.MkdirTemp("", "gifcam-encode-*")
	if err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	e.workdir = dir

	logger.WithComponent("encoder").Debug().Str("workdir", dir).Msg("ffmpeg engine initialized")
	return nil
}

func (e *FFmpegEngine) path(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workdir == "" {
		return "", fmt.Errorf("ffmpeg engine not initialized")
	}
	return filepath.Join(e.workdir, filepath.Base(name)), nil
}

// WriteInput writes one frame file into the working directory.
func (e *FFmpegEngine) WriteInput(name string, data []byte) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0600)
}

// Encode runs ffmpeg over the written frame sequence. Output width is capped
// at job.MaxWidth with lanczos resampling, height follows proportionally,
// playback loops forever and an existing output file is overwritten.
func (e *FFmpegEngine) Encode(ctx context.Context, job Job) error {
	inPattern, err := e.path(job.InputPattern)
	if err != nil {
		return err
	}
	outPath, err := e.path(job.OutputName)
	if err != nil {
		return err
	}

	filter := fmt.Sprintf(
		"scale='min(iw,%d)':-2:flags=lanczos,split[a][b];[b]palettegen[p];[a][p]paletteuse",
		job.MaxWidth,
	)

	args := []string{
		"-y",
		"-framerate", strconv.FormatFloat(job.FrameRate, 'f', -1, 64),
		"-start_number", "0",
		"-i", inPattern,
		"-filter_complex", filter,
		"-loop", "0",
		"-progress", "pipe:1",
		outPath,
	}

	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg progress pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// -progress emits key=value lines; frame count against the input total
	// gives a coarse but monotone percentage
	total := len(job.InputNames)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "frame=") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "frame=")))
		if err != nil || total == 0 {
			continue
		}
		pct := n * 100 / total
		if pct > 99 {
			pct = 99
		}
		if job.Progress != nil {
			job.Progress(pct)
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, lastLines(stderr.String(), 3))
	}
	return nil
}

// lastLines keeps error output manageable when ffmpeg fails noisily.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// ReadOutput reads the encoded GIF back from the working directory.
func (e *FFmpegEngine) ReadOutput(name string) ([]byte, error) {
	p, err := e.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Remove deletes one working file.
func (e *FFmpegEngine) Remove(name string) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Close removes the working directory and everything in it.
func (e *FFmpegEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.workdir == "" {
		return nil
	}
	dir := e.workdir
	e.workdir = ""
	return os.RemoveAll(dir)
}
