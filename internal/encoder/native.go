package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"math"
	"sync"

	stddraw "image/draw"

	xdraw "golang.org/x/image/draw"

	_ "image/jpeg"
	_ "image/png"
)

// NativeEngine assembles GIFs in pure Go with an in-memory working space.
// It is always available and serves as the fallback when ffmpeg is not
// installed. Quality is lower than the ffmpeg palette pipeline (fixed
// Plan9 palette with Floyd-Steinberg dithering) but needs no external tools.
type NativeEngine struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewNativeEngine creates an uninitialized native engine.
func NewNativeEngine() *NativeEngine {
	return &NativeEngine{}
}

// Name returns the backend name.
func (e *NativeEngine) Name() string { return "native" }

// Init allocates the in-memory working space.
func (e *NativeEngine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.files == nil {
		e.files = make(map[string][]byte)
	}
	return nil
}

// WriteInput stores one frame in the working space.
func (e *NativeEngine) WriteInput(name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.files == nil {
		return fmt.Errorf("native engine not initialized")
	}
	e.files[name] = data
	return nil
}

// Encode decodes each input in order, scales it down to job.MaxWidth with
// Catmull-Rom resampling, quantizes it and appends it to the GIF, which
// loops forever. An existing output entry is overwritten.
func (e *NativeEngine) Encode(ctx context.Context, job Job) error {
	inputs := make([][]byte, len(job.InputNames))
	e.mu.Lock()
	for i, name := range job.InputNames {
		data, ok := e.files[name]
		if !ok {
			e.mu.Unlock()
			return fmt.Errorf("missing working file %q", name)
		}
		inputs[i] = data
	}
	e.mu.Unlock()

	delay := int(math.Round(100 / job.FrameRate)) // GIF delays are centiseconds
	if delay < 2 {
		delay = 2
	}

	out := &gif.GIF{LoopCount: 0}
	for i, data := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to decode frame %d: %w", i, err)
		}

		img = scaleToWidth(img, job.MaxWidth)

		pal := image.NewPaletted(img.Bounds(), palette.Plan9)
		stddraw.FloydSteinberg.Draw(pal, img.Bounds(), img, image.Point{})

		out.Image = append(out.Image, pal)
		out.Delay = append(out.Delay, delay)

		if job.Progress != nil {
			pct := (i + 1) * 95 / len(inputs)
			job.Progress(pct)
		}
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		return fmt.Errorf("gif encode failed: %w", err)
	}
	if job.Progress != nil {
		job.Progress(99)
	}

	e.mu.Lock()
	e.files[job.OutputName] = buf.Bytes()
	e.mu.Unlock()
	return nil
}

// scaleToWidth shrinks img proportionally so its width is at most maxWidth.
// Images already within bounds are returned unchanged; nothing is upscaled.
func scaleToWidth(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxWidth <= 0 || w <= maxWidth {
		return img
	}

	newW := maxWidth
	newH := int(math.Round(float64(h) * float64(newW) / float64(w)))
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// ReadOutput reads the encoded GIF back from the working space.
func (e *NativeEngine) ReadOutput(name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[name]
	if !ok {
		return nil, fmt.Errorf("missing working file %q", name)
	}
	return data, nil
}

// Remove deletes one working-space entry.
func (e *NativeEngine) Remove(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.files[name]; !ok {
		return fmt.Errorf("missing working file %q", name)
	}
	delete(e.files, name)
	return nil
}

// Close drops the working space.
func (e *NativeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = nil
	return nil
}
