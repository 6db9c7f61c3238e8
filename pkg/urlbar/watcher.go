package urlbar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/urlbar/pkg/bus"
)

// TopicURLChanged is the bus topic change events are published on.
const TopicURLChanged = "url:changed"

// DefaultInterval is the time between two hash polls.
const DefaultInterval = 200 * time.Millisecond

const defaultTracerName = "urlbar"

var (
	// ErrNilSource is returned by NewWatcher when no source is given.
	ErrNilSource = errors.New("urlbar: nil source")

	// ErrAlreadyStarted is returned by Start on a running watcher.
	ErrAlreadyStarted = errors.New("urlbar: watcher already started")
)

// Source reports the current location hash, including its leading '#'.
type Source interface {
	Hash() string
}

// SourceFunc adapts a function to Source.
type SourceFunc func() string

// Hash implements Source.
func (f SourceFunc) Hash() string { return f() }

// Notifier is implemented by sources that can announce a hash change as it
// happens. A receive on the channel makes the watcher poll immediately.
// Closing the channel falls back to interval polling.
type Notifier interface {
	Notify() <-chan struct{}
}

// Event is published when the hash changes.
type Event struct {
	// Was is the previous raw hash.
	Was string

	// Now is the new hash, parsed.
	Now *URL

	// Raw is the new raw hash.
	Raw string

	// At is when the change was observed.
	At time.Time
}

// Handler receives change events.
type Handler func(Event)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Interval is the time between polls (default: 200ms).
	Interval time.Duration

	// Logger receives lifecycle and subscriber failure logs.
	// Default: slog.Default() with component=watcher.
	Logger *slog.Logger

	// Bus, if set, receives every Event on TopicURLChanged. Each bus
	// handler is recovered on its own, like OnChange handlers.
	Bus *bus.Bus

	// Metrics, if set, records polls and changes.
	Metrics *Metrics

	// TracerName is the OpenTelemetry tracer name (default: "urlbar").
	TracerName string
}

// Option configures a Watcher.
type Option func(*WatcherConfig)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(c *WatcherConfig) {
		c.Interval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *WatcherConfig) {
		c.Logger = logger
	}
}

// WithBus publishes every Event on b under TopicURLChanged.
func WithBus(b *bus.Bus) Option {
	return func(c *WatcherConfig) {
		c.Bus = b
	}
}

// WithMetrics records watcher activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *WatcherConfig) {
		c.Metrics = m
	}
}

// WithTracerName sets the tracer name.
func WithTracerName(name string) Option {
	return func(c *WatcherConfig) {
		c.TracerName = name
	}
}

func defaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Interval:   DefaultInterval,
		TracerName: defaultTracerName,
	}
}

// Watcher polls a Source and publishes an Event whenever its hash differs
// from the last one seen.
type Watcher struct {
	source Source
	config WatcherConfig
	logger *slog.Logger
	tracer trace.Tracer

	// pollMu serializes polls so events are published in observation order.
	pollMu sync.Mutex

	mu       sync.Mutex
	last     string
	handlers []subscriber
	nextID   uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

type subscriber struct {
	id uint64
	fn Handler
}

// NewWatcher creates a watcher for source. The source's current hash becomes
// the last-seen value, so only later changes produce events.
func NewWatcher(source Source, opts ...Option) (*Watcher, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	config := defaultWatcherConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.TracerName == "" {
		config.TracerName = defaultTracerName
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		source: source,
		config: config,
		logger: logger.With("component", "watcher"),
		tracer: otel.Tracer(config.TracerName),
		last:   source.Hash(),
	}, nil
}

// Interval returns the poll interval.
func (w *Watcher) Interval() time.Duration {
	return w.config.Interval
}

// Last returns the last hash the watcher has seen.
func (w *Watcher) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// OnChange registers fn to receive change events and returns a function that
// removes it. Handlers run on the polling goroutine, in registration order.
func (w *Watcher) OnChange(fn Handler) func() {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.handlers = append(w.handlers, subscriber{id: id, fn: fn})
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, s := range w.handlers {
			if s.id == id {
				w.handlers = append(w.handlers[:i:i], w.handlers[i+1:]...)
				return
			}
		}
	}
}

// Start launches the polling loop. It returns ErrAlreadyStarted if the loop
// is running. The loop ends when ctx is done or Stop is called; a stopped
// watcher can be started again.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		select {
		case <-w.done:
		default:
			return ErrAlreadyStarted
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	w.config.Metrics.watcherStarted()
	w.logger.Debug("watcher started", "interval", w.config.Interval, "hash", w.last)

	go w.run(ctx, done)
	return nil
}

// Stop halts the polling loop and waits for it to exit. Stopping a watcher
// that is not running does nothing.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the polling loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the current polling loop exits, or nil
// if the watcher was never started.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer w.config.Metrics.watcherStopped()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	var notify <-chan struct{}
	if n, ok := w.source.(Notifier); ok {
		notify = n.Notify()
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("watcher stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			w.poll(ctx)
		case _, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			w.poll(ctx)
		}
	}
}

// Poll compares the source's hash with the last one seen and publishes an
// Event if they differ. It reports whether an event was published.
//
// Handlers must not call Poll or Stop.
func (w *Watcher) Poll() bool {
	return w.poll(context.Background())
}

func (w *Watcher) poll(ctx context.Context) bool {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	w.config.Metrics.recordPoll()

	hash := w.source.Hash()
	w.mu.Lock()
	was := w.last
	w.mu.Unlock()
	if hash == was {
		return false
	}

	ev := Event{
		Was: was,
		Now: Parse(hash),
		Raw: hash,
		At:  time.Now(),
	}
	w.publish(ctx, ev)

	w.mu.Lock()
	w.last = hash
	w.mu.Unlock()
	return true
}

func (w *Watcher) publish(ctx context.Context, ev Event) {
	_, span := w.tracer.Start(ctx, "urlbar.change",
		trace.WithAttributes(
			attribute.String("urlbar.was", ev.Was),
			attribute.String("urlbar.now", ev.Raw),
			attribute.Int("urlbar.pairs", ev.Now.Len()),
		),
	)
	defer span.End()

	w.config.Metrics.recordChange()
	w.logger.Debug("hash changed", "was", ev.Was, "now", ev.Raw)

	w.mu.Lock()
	handlers := append([]subscriber(nil), w.handlers...)
	w.mu.Unlock()

	for _, s := range handlers {
		w.dispatch(s.fn, ev)
	}
	if w.config.Bus != nil {
		for _, fn := range w.config.Bus.Handlers(TopicURLChanged) {
			w.dispatch(func(ev Event) { fn(ev) }, ev)
		}
	}
}

func (w *Watcher) dispatch(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			w.config.Metrics.recordPanic()
			w.logger.Error("change handler panicked", "panic", fmt.Sprint(r), "now", ev.Raw)
		}
	}()
	fn(ev)
}
