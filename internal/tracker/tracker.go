package tracker

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Tracker keeps per-stream frame rate counters
// ARCHITECTURAL DISCOVERY: Purely observational; nothing on the delivery path
// depends on its result, so every method is safe to call on a nil Tracker
type Tracker struct {
	mu       sync.Mutex
	clock    clock.Clock
	window   time.Duration
	streams  map[string]*streamWindow
	observer func(streamID string, fps int)
}

// streamWindow tracks frames for a single stream
// FUNCTIONAL DISCOVERY: Counter resets every time a rate is computed
type streamWindow struct {
	frames      int
	windowStart time.Time
	fps         int
	lastFrameAt time.Time
}

// StreamRate is one entry of a tracker snapshot
type StreamRate struct {
	StreamID    string    `json:"stream_id"`
	FPS         int       `json:"fps"`
	LastFrameAt time.Time `json:"last_frame_at"`
}

// Option customizes a Tracker
type Option func(*Tracker)

// WithClock replaces the wall clock, used by tests
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithObserver registers a callback for every newly computed rate
func WithObserver(fn func(streamID string, fps int)) Option {
	return func(t *Tracker) { t.observer = fn }
}

// NewTracker creates a tracker with a one second computation window
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		clock:   clock.New(),
		window:  time.Second,
		streams: make(map[string]*streamWindow),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFrame counts one frame for a stream, creating its entry lazily
func (t *Tracker) RecordFrame(streamID string) {
	if t == nil {
		return
	}

	t.mu.Lock()
	now := t.clock.Now()
	w, exists := t.streams[streamID]
	if !exists {
		w = &streamWindow{windowStart: now}
		t.streams[streamID] = w
	}
	w.frames++
	w.lastFrameAt = now

	// TECHNICAL DISCOVERY: Rate is only recomputed once a full window has elapsed
	elapsed := now.Sub(w.windowStart)
	computed := false
	if elapsed >= t.window {
		w.fps = int(math.Round(float64(w.frames) / elapsed.Seconds()))
		w.frames = 0
		w.windowStart = now
		computed = true
	}
	fps := w.fps
	observer := t.observer
	t.mu.Unlock()

	if computed && observer != nil {
		observer(streamID, fps)
	}
}

// GetFPS returns the last computed rate or zero
func (t *Tracker) GetFPS(streamID string) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, exists := t.streams[streamID]; exists {
		return w.fps
	}
	return 0
}

// Remove discards all state for a stream
func (t *Tracker) Remove(streamID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.streams, streamID)
	t.mu.Unlock()
}

// Snapshot returns the current rate of every tracked stream sorted by id
func (t *Tracker) Snapshot() []StreamRate {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]StreamRate, 0, len(t.streams))
	for id, w := range t.streams {
		out = append(out, StreamRate{StreamID: id, FPS: w.fps, LastFrameAt: w.lastFrameAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}
