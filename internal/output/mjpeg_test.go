package output

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMJPEGRelay_Lifecycle(t *testing.T) {
	relay := NewMJPEGRelay()

	if err := relay.WriteJPEG([]byte("jpeg")); err == nil {
		t.Fatal("stopped relay accepted a frame")
	}

	if err := relay.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := relay.Start(); err == nil {
		t.Fatal("double start did not error")
	}

	if err := relay.WriteJPEG([]byte("jpeg")); err != nil {
		t.Fatalf("running relay rejected frame: %v", err)
	}

	stats := relay.GetStats()
	if !stats.Running || stats.FrameCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := relay.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if relay.IsRunning() {
		t.Fatal("relay still running after stop")
	}
	if err := relay.Stop(); err != nil {
		t.Fatalf("second stop errored: %v", err)
	}
}

func TestMJPEGRelay_StreamsMultipartFrames(t *testing.T) {
	relay := NewMJPEGRelay()
	if err := relay.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer relay.Stop()

	// A frame written before any client connects is served immediately on
	// connect so the view is never blank
	if err := relay.WriteJPEG([]byte("first-frame")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	srv := httptest.NewServer(relay.GetHTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	part := readPart(t, reader)
	if !bytes.Contains(part, []byte("first-frame")) {
		t.Fatalf("initial part missing cached frame: %q", part)
	}

	// Subsequent writes reach the connected client
	go func() {
		time.Sleep(20 * time.Millisecond)
		relay.WriteJPEG([]byte("second-frame"))
	}()
	part = readPart(t, reader)
	if !bytes.Contains(part, []byte("second-frame")) {
		t.Fatalf("second part wrong: %q", part)
	}
}

// readPart consumes one multipart section up to and including its payload.
func readPart(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	result := make(chan []byte, 1)
	go func() {
		var buf bytes.Buffer
		// boundary, headers, blank line
		for i := 0; i < 4; i++ {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			buf.WriteString(line)
			if line == "\r\n" {
				break
			}
		}
		// payload plus trailing CRLF; read whatever is buffered next
		chunk := make([]byte, 4096)
		n, err := r.Read(chunk)
		if err != nil && err != io.EOF {
			return
		}
		buf.Write(chunk[:n])
		result <- buf.Bytes()
	}()

	select {
	case part := <-result:
		return part
	case <-deadline:
		t.Fatal("timeout reading multipart section")
		return nil
	}
}

func TestMJPEGRelay_StopDisconnectsClients(t *testing.T) {
	relay := NewMJPEGRelay()
	if err := relay.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	srv := httptest.NewServer(relay.GetHTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	// Wait until the relay sees the client
	deadline := time.Now().Add(2 * time.Second)
	for relay.GetStats().Clients == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := relay.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	// The stream ends once the relay closes its channel
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, resp.Body)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after relay stop")
	}
}
