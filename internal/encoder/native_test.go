package encoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"testing"
)

func testJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestNativeEngine_ProducesAnimatedGIF(t *testing.T) {
	a := NewAdapter(NewNativeEngine(), nil)

	inputs := [][]byte{
		testJPEG(t, 64, 48, color.RGBA{R: 255, A: 255}),
		testJPEG(t, 64, 48, color.RGBA{B: 255, A: 255}),
	}

	result, err := a.Encode(context.Background(), inputs, 2, 480)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !bytes.HasPrefix(result, []byte("GIF8")) {
		t.Fatalf("result is not a GIF, starts with %q", result[:4])
	}

	decoded, err := gif.DecodeAll(bytes.NewReader(result))
	if err != nil {
		t.Fatalf("decoding result failed: %v", err)
	}
	if len(decoded.Image) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(decoded.Image))
	}
	if decoded.LoopCount != 0 {
		t.Fatalf("expected infinite loop, got LoopCount=%d", decoded.LoopCount)
	}
	// 2 fps -> 50 centisecond delay per frame
	for i, d := range decoded.Delay {
		if d != 50 {
			t.Fatalf("frame %d delay=%d, want 50", i, d)
		}
	}
}

func TestNativeEngine_ScalesDownToMaxWidth(t *testing.T) {
	a := NewAdapter(NewNativeEngine(), nil)

	inputs := [][]byte{
		testJPEG(t, 200, 100, color.RGBA{G: 255, A: 255}),
		testJPEG(t, 200, 100, color.RGBA{R: 255, A: 255}),
	}

	result, err := a.Encode(context.Background(), inputs, 4, 100)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := gif.DecodeAll(bytes.NewReader(result))
	if err != nil {
		t.Fatalf("decoding result failed: %v", err)
	}
	for i, img := range decoded.Image {
		if got := img.Bounds().Dx(); got != 100 {
			t.Fatalf("frame %d width=%d, want 100", i, got)
		}
		if got := img.Bounds().Dy(); got != 50 {
			t.Fatalf("frame %d height=%d, want 50", i, got)
		}
	}
}

func TestNativeEngine_NeverUpscales(t *testing.T) {
	small := testJPEG(t, 40, 30, color.RGBA{R: 128, G: 128, B: 128, A: 255})

	a := NewAdapter(NewNativeEngine(), nil)
	result, err := a.Encode(context.Background(), [][]byte{small, small}, 2, 480)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := gif.DecodeAll(bytes.NewReader(result))
	if err != nil {
		t.Fatalf("decoding result failed: %v", err)
	}
	if got := decoded.Image[0].Bounds().Dx(); got != 40 {
		t.Fatalf("small frame was resized to width %d", got)
	}
}

func TestNativeEngine_RejectsGarbageInput(t *testing.T) {
	a := NewAdapter(NewNativeEngine(), nil)

	_, err := a.Encode(context.Background(), [][]byte{[]byte("not an image")}, 2, 480)
	if err == nil {
		t.Fatal("expected decode failure for garbage input")
	}
}

func TestNewEngine_Selection(t *testing.T) {
	eng, err := NewEngine("native")
	if err != nil {
		t.Fatalf("native selection failed: %v", err)
	}
	if eng.Name() != "native" {
		t.Fatalf("wrong engine %q", eng.Name())
	}

	eng, err = NewEngine("ffmpeg")
	if err != nil {
		t.Fatalf("ffmpeg selection failed: %v", err)
	}
	if eng.Name() != "ffmpeg" {
		t.Fatalf("wrong engine %q", eng.Name())
	}

	// auto always resolves to something usable
	if _, err := NewEngine("auto"); err != nil {
		t.Fatalf("auto selection failed: %v", err)
	}

	if _, err := NewEngine("quantum"); err == nil {
		t.Fatal("expected error for unknown preference")
	}
}
