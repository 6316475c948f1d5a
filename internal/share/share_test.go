package share

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiskSaver_WritesFile(t *testing.T) {
	dir := t.TempDir()
	s := &DiskSaver{Dir: dir}

	if err := s.Save("out.gif", []byte("GIF89a")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.gif"))
	if err != nil {
		t.Fatalf("saved file unreadable: %v", err)
	}
	if string(data) != "GIF89a" {
		t.Fatalf("wrong content %q", data)
	}
}

func TestDiskSaver_StripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	s := &DiskSaver{Dir: dir}

	// A filename with directory components must not escape the output dir
	if err := s.Save("../../etc/evil.gif", []byte("x")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "evil.gif")); err != nil {
		t.Fatalf("file not confined to output dir: %v", err)
	}
}

func TestAttachmentSaver_SetsDownloadHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	s := &AttachmentSaver{W: rec}

	if err := s.Save("gifcam_20260831_120000.gif", []byte("GIF89a")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Fatalf("content type %q", ct)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "attachment") || !strings.Contains(cd, "gifcam_20260831_120000.gif") {
		t.Fatalf("content disposition %q", cd)
	}
	if rec.Body.String() != "GIF89a" {
		t.Fatalf("wrong body %q", rec.Body.String())
	}
}

func TestForCapabilities(t *testing.T) {
	dir := t.TempDir()

	caps := DetectCapabilities(dir)
	if !caps.Writable {
		t.Fatal("temp dir should be writable")
	}
	saver, err := ForCapabilities(caps, dir)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if saver.Name() != "disk" {
		t.Fatalf("wrong strategy %q", saver.Name())
	}

	missing := filepath.Join(dir, "does-not-exist")
	caps = DetectCapabilities(missing)
	if caps.Writable {
		t.Fatal("missing dir reported writable")
	}
	if _, err := ForCapabilities(caps, missing); err == nil {
		t.Fatal("expected explicit failure without writable dir")
	}
}
