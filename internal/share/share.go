// Package share hands a finished GIF to the user. The delivery mechanism is
// a strategy chosen by the caller from detected capabilities, not a runtime
// check buried in the core: the disk saver writes into an output directory,
// the attachment saver streams a download over HTTP.
package share

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/awalling/gifcam/internal/logger"
)

// Saver delivers one named GIF to the user.
type Saver interface {
	Name() string
	Save(filename string, data []byte) error
}

// Capabilities describes what delivery mechanisms the environment offers.
type Capabilities struct {
	// Writable is true when the output directory accepts files
	Writable bool
}

// DetectCapabilities probes the output directory.
func DetectCapabilities(outputDir string) Capabilities {
	info, err := os.Stat(outputDir)
	return Capabilities{Writable: err == nil && info.IsDir()}
}

// ForCapabilities selects a save strategy. Without a writable output
// directory there is no local fallback and saving fails explicitly.
func ForCapabilities(caps Capabilities, outputDir string) (Saver, error) {
	if caps.Writable {
		return &DiskSaver{Dir: outputDir}, nil
	}
	return nil, fmt.Errorf("output directory %q is not writable", outputDir)
}

// DiskSaver writes the GIF into a directory.
type DiskSaver struct {
	Dir string
}

// Name returns the strategy name.
func (d *DiskSaver) Name() string { return "disk" }

// Save writes the file.
func (d *DiskSaver) Save(filename string, data []byte) error {
	path := filepath.Join(d.Dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save gif: %w", err)
	}
	logger.WithComponent("share").Info().Str("path", path).Int("size", len(data)).Msg("GIF saved")
	return nil
}

// AttachmentSaver streams the GIF as an HTTP file download.
type AttachmentSaver struct {
	W http.ResponseWriter
}

// Name returns the strategy name.
func (a *AttachmentSaver) Name() string { return "attachment" }

// Save writes download headers and the GIF body.
func (a *AttachmentSaver) Save(filename string, data []byte) error {
	a.W.Header().Set("Content-Type", "image/gif")
	a.W.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(filename)))
	a.W.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	if _, err := a.W.Write(data); err != nil {
		return fmt.Errorf("failed to stream gif: %w", err)
	}
	return nil
}
