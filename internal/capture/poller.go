package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/awalling/gifcam/internal/logger"
)

// ErrFeedUnavailable wraps any failure to obtain a usable still from the
// camera endpoint, transport or content alike.
var ErrFeedUnavailable = errors.New("camera feed unavailable")

// errNotImage marks a response whose payload is not an image. Unlike
// transport errors it is not retried within a cycle: a wrong content type
// indicates a persistent endpoint problem, not a transient failure.
var errNotImage = errors.New("response is not an image")

const fetchRetries = 2

// retryBackoff is the fixed delay between transport-error retries.
var retryBackoff = 2 * time.Second

// PollerConfig configures a camera poller.
type PollerConfig struct {
	// StillURL is the camera still-image endpoint
	StillURL string
	// ProxyBase, when set, is prepended to StillURL
	ProxyBase string
	// Interval between fetches
	Interval time.Duration
	// Client defaults to a client with a timeout shorter than Interval
	Client *http.Client
}

// Poller repeatedly fetches a fresh still image from a camera endpoint on a
// fixed cadence. It runs independently of capture state and keeps polling
// whether or not frames are currently being buffered. Stop tears it down
// cleanly, cancelling any outstanding request.
type Poller struct {
	cfg     PollerConfig
	client  *http.Client
	onFrame func(Event)
	onError func(error)

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	seq      uint64
}

// NewPoller creates a poller delivering successful fetches to onFrame and
// failed cycles to onError. Either callback may be nil.
func NewPoller(cfg PollerConfig, onFrame func(Event), onError func(error)) *Poller {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Interval
		if timeout <= 0 || timeout > 10*time.Second {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		onFrame: onFrame,
		onError: onError,
	}
}

// Start begins polling in the background.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.cfg.StillURL == "" {
		return fmt.Errorf("poller: no camera still URL configured")
	}
	if p.cfg.Interval <= 0 {
		return fmt.Errorf("poller: invalid interval %v", p.cfg.Interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx)

	logger.WithComponent("poller").Info().
		Str("url", p.cfg.StillURL).
		Dur("interval", p.cfg.Interval).
		Msg("Poller started")
	return nil
}

// Stop halts polling and waits for the loop to exit. Any in-flight request
// is cancelled so no work leaks past teardown.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	logger.WithComponent("poller").Info().Msg("Poller stopped")
}

// IsRunning reports whether the poll loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Fetch immediately so the live view fills before the first tick
	p.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle performs one fetch with bounded retries on transport errors.
// Content errors abort the cycle immediately.
func (p *Poller) cycle(ctx context.Context) {
	var lastErr error
	for attempt := 0; attempt <= fetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
		}

		data, err := p.fetch(ctx)
		if err == nil {
			if p.onFrame != nil {
				p.onFrame(Event{Data: data, FetchedAt: time.Now()})
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		lastErr = err
		if errors.Is(err, errNotImage) {
			break
		}
		logger.WithComponent("poller").Warn().Err(err).
			Int("attempt", attempt+1).
			Msg("Fetch failed, will retry")
	}

	logger.WithComponent("poller").Error().Err(lastErr).Msg("Fetch cycle failed")
	if p.onError != nil {
		p.onError(fmt.Errorf("%w: %v", ErrFeedUnavailable, lastErr))
	}
}

// fetch issues one cache-busted GET and validates the payload is an image.
func (p *Poller) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.fetchURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		// Some endpoints omit or mislabel the header; trust the bytes
		if !strings.HasPrefix(http.DetectContentType(data), "image/") {
			return nil, fmt.Errorf("%w: content-type %q", errNotImage, contentType)
		}
	}

	return data, nil
}

// fetchURL builds the per-fetch URL: proxy prefix plus a cache-busting query
// parameter so no conditional or cached response is ever reused.
func (p *Poller) fetchURL() string {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	target := p.cfg.StillURL
	if p.cfg.ProxyBase != "" {
		target = strings.TrimSuffix(p.cfg.ProxyBase, "/") + "/" + url.QueryEscape(p.cfg.StillURL)
	}

	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "cachebust=" + strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + strconv.FormatUint(seq, 10)
}
