// Package capture connects the camera poller to the frame store. The poller
// fetches fresh stills on a fixed cadence regardless of capture state; the
// controller is the single entry point those fetches flow through, gating
// them on the active capture session.
package capture

import (
	"sync"
	"time"

	"github.com/awalling/gifcam/internal/frames"
	"github.com/awalling/gifcam/internal/logger"
)

// Event is one successfully fetched camera still.
type Event struct {
	Data      []byte
	FetchedAt time.Time
}

// FrameSink receives gated frames. Implemented by the session manager.
type FrameSink interface {
	Capturing() bool
	AddFrameAt(data []byte, at time.Time) (frames.Frame, bool)
}

// Controller gates poller events into the frame sink.
//
// State machine: Idle -> (start) -> Capturing -> (stop | cap reached) -> Idle.
// The states live in the store's capturing flag; the controller reads it at
// append time, so a fetch that completes after capture stops is discarded
// rather than buffered.
type Controller struct {
	sink FrameSink

	mu        sync.Mutex
	lastFetch time.Time
}

// NewController creates a controller delivering into sink.
func NewController(sink FrameSink) *Controller {
	return &Controller{sink: sink}
}

// HandleFrame consumes one poller event. Each distinct fetch is delivered at
// most once: events carrying an already-seen fetch timestamp are dropped so a
// cached or replayed response cannot double-count a frame. Events arriving
// while idle are dropped at the gate. Returns true if the frame was buffered.
func (c *Controller) HandleFrame(ev Event) bool {
	c.mu.Lock()
	if !ev.FetchedAt.After(c.lastFetch) {
		c.mu.Unlock()
		logger.WithComponent("capture").Debug().
			Time("fetched_at", ev.FetchedAt).
			Msg("Duplicate fetch, dropping")
		return false
	}
	c.lastFetch = ev.FetchedAt
	c.mu.Unlock()

	if !c.sink.Capturing() {
		return false
	}

	_, buffered := c.sink.AddFrameAt(ev.Data, ev.FetchedAt)
	if buffered {
		logger.WithComponent("capture").Debug().
			Time("fetched_at", ev.FetchedAt).
			Int("size", len(ev.Data)).
			Msg("Frame buffered")
	}
	return buffered
}
