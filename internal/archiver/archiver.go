package archiver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// Archiver moves alert and stream-activity writes off the dispatch path
// ARCHITECTURAL DISCOVERY: Callers enqueue without blocking; one goroutine
// drains the queues into the store so a slow disk never delays live delivery
type Archiver struct {
	store   interfaces.StreamStore
	logger  *zap.Logger
	timeout time.Duration
	onDrop  func()

	// FUNCTIONAL DISCOVERY: Buffered channels absorb alert bursts
	alertChannel chan *types.Alert
	touchChannel chan touch
	shutdown     chan struct{}
	wg           sync.WaitGroup

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

type touch struct {
	streamID string
	at       time.Time
}

// Option customizes an Archiver
type Option func(*Archiver)

// WithQueueSize sets the alert queue capacity
func WithQueueSize(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.alertChannel = make(chan *types.Alert, n)
		}
	}
}

// WithWriteTimeout bounds each store call
func WithWriteTimeout(d time.Duration) Option {
	return func(a *Archiver) { a.timeout = d }
}

// WithDropHook is called every time an alert is rejected because the queue is full
func WithDropHook(fn func()) Option {
	return func(a *Archiver) { a.onDrop = fn }
}

// WithLogger sets the archiver logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *Archiver) { a.logger = logger.Named("archiver") }
}

// New creates a stopped archiver
func New(store interfaces.StreamStore, opts ...Option) *Archiver {
	a := &Archiver{
		store:        store,
		logger:       zap.NewNop(),
		timeout:      5 * time.Second,
		alertChannel: make(chan *types.Alert, 1000),
		touchChannel: make(chan touch, 100),
		shutdown:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins draining the queues
// FUNCTIONAL DISCOVERY: Only Stop ends the worker; cancelling ctx does not, so
// writes accepted while the process shuts down are still stored
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrAlreadyRunning
	}
	a.running = true

	a.wg.Add(1)
	go a.run()
	a.logger.Info("archiver started", zap.Int("queue_size", cap(a.alertChannel)))
	return nil
}

// Stop flushes queued writes and waits for the worker to exit
func (a *Archiver) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return ErrNotRunning
	}
	a.running = false
	close(a.shutdown)
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("archiver stopped")
	return nil
}

// PersistAlert implements interfaces.AlertPersister
func (a *Archiver) PersistAlert(alert *types.Alert) error {
	if alert == nil {
		return ErrNilAlert
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.running {
		return ErrNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents dispatcher lockup
	select {
	case a.alertChannel <- alert:
		return nil
	default:
		if a.onDrop != nil {
			a.onDrop()
		}
		a.logger.Warn("alert archive queue full, dropping alert",
			zap.String("alert_id", alert.ID), zap.String("stream_id", alert.StreamID))
		return ErrQueueFull
	}
}

// TouchStream implements interfaces.StreamToucher
func (a *Archiver) TouchStream(streamID string, at time.Time) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.running {
		return ErrNotRunning
	}
	select {
	case a.touchChannel <- touch{streamID: streamID, at: at}:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLength reports pending alert writes
func (a *Archiver) QueueLength() int {
	return len(a.alertChannel)
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for {
		select {
		case alert := <-a.alertChannel:
			a.storeAlert(alert)
		case t := <-a.touchChannel:
			a.touchStream(t)
		case <-a.shutdown:
			a.drain()
			return
		}
	}
}

// drain writes whatever is still queued; nothing can be enqueued once running is false
func (a *Archiver) drain() {
	for {
		select {
		case alert := <-a.alertChannel:
			a.storeAlert(alert)
		case t := <-a.touchChannel:
			a.touchStream(t)
		default:
			return
		}
	}
}

func (a *Archiver) storeAlert(alert *types.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.store.StoreAlert(ctx, alert); err != nil {
		a.logger.Error("failed to persist alert",
			zap.String("alert_id", alert.ID), zap.String("stream_id", alert.StreamID), zap.Error(err))
	}
}

func (a *Archiver) touchStream(t touch) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.store.TouchStream(ctx, t.streamID, t.at); err != nil {
		a.logger.Warn("failed to update stream activity", zap.String("stream_id", t.streamID), zap.Error(err))
	}
}

var (
	_ interfaces.AlertPersister = (*Archiver)(nil)
	_ interfaces.StreamToucher  = (*Archiver)(nil)
)
