package urlbar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/goleak"

	"github.com/vango-dev/urlbar/pkg/bus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSource is a hash that tests can change between polls.
type fakeSource struct {
	mu   sync.Mutex
	hash string
}

func (s *fakeSource) Hash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash
}

func (s *fakeSource) set(hash string) {
	s.mu.Lock()
	s.hash = hash
	s.mu.Unlock()
}

// notifySource announces every change on its channel.
type notifySource struct {
	fakeSource
	ch chan struct{}
}

func (s *notifySource) Notify() <-chan struct{} { return s.ch }

func newTestWatcher(t *testing.T, src Source, opts ...Option) *Watcher {
	t.Helper()
	w, err := NewWatcher(src, opts...)
	if err != nil {
		t.Fatalf("NewWatcher error: %v", err)
	}
	return w
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return Event{}
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestNewWatcher(t *testing.T) {
	if _, err := NewWatcher(nil); !errors.Is(err, ErrNilSource) {
		t.Errorf("NewWatcher(nil) error = %v, want ErrNilSource", err)
	}

	src := &fakeSource{hash: "#x=1"}
	w := newTestWatcher(t, src)
	if w.Last() != "#x=1" {
		t.Errorf("Last = %q, want the source hash at creation", w.Last())
	}
	if w.Interval() != DefaultInterval {
		t.Errorf("Interval = %v, want %v", w.Interval(), DefaultInterval)
	}

	w = newTestWatcher(t, src, WithInterval(-time.Second))
	if w.Interval() != DefaultInterval {
		t.Errorf("non-positive interval should fall back to default, got %v", w.Interval())
	}
}

func TestPollUnchangedPublishesNothing(t *testing.T) {
	src := &fakeSource{hash: "#x=1"}
	w := newTestWatcher(t, src)

	calls := 0
	w.OnChange(func(Event) { calls++ })

	if w.Poll() {
		t.Error("first Poll reported a change")
	}
	if w.Poll() {
		t.Error("second Poll reported a change")
	}
	if calls != 0 {
		t.Errorf("handler called %d times, want 0", calls)
	}
}

func TestPollPublishesChange(t *testing.T) {
	src := &fakeSource{hash: "#x=1"}
	w := newTestWatcher(t, src)

	var events []Event
	w.OnChange(func(ev Event) { events = append(events, ev) })

	src.set("#x=2")
	if !w.Poll() {
		t.Fatal("Poll did not report the change")
	}
	if w.Poll() {
		t.Error("Poll after the change was seen reported another change")
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Was != "#x=1" {
		t.Errorf("Was = %q, want %q", ev.Was, "#x=1")
	}
	if ev.Now.Get("x") != "2" {
		t.Errorf("Now.Get(x) = %q, want 2", ev.Now.Get("x"))
	}
	if ev.Raw != "#x=2" {
		t.Errorf("Raw = %q, want #x=2", ev.Raw)
	}
	if ev.At.IsZero() {
		t.Error("At not set")
	}
	if w.Last() != "#x=2" {
		t.Errorf("Last = %q, want #x=2", w.Last())
	}
}

func TestPollChangeToEmpty(t *testing.T) {
	src := &fakeSource{hash: "#a=1"}
	w := newTestWatcher(t, src)

	var got Event
	w.OnChange(func(ev Event) { got = ev })

	src.set("")
	if !w.Poll() {
		t.Fatal("clearing the hash should be a change")
	}
	if got.Was != "#a=1" || got.Now.Len() != 0 {
		t.Errorf("event = %+v", got)
	}
}

func TestHandlersRunInOrderAndUnsubscribe(t *testing.T) {
	src := &fakeSource{hash: ""}
	w := newTestWatcher(t, src)

	var order []string
	w.OnChange(func(Event) { order = append(order, "a") })
	remove := w.OnChange(func(Event) { order = append(order, "b") })
	w.OnChange(func(Event) { order = append(order, "c") })

	src.set("#1")
	w.Poll()
	remove()
	remove()
	src.set("#2")
	w.Poll()

	if got, want := strings.Join(order, ""), "abcac"; got != want {
		t.Errorf("handler order = %q, want %q", got, want)
	}
}

func TestPublishesOnBus(t *testing.T) {
	b := bus.New()
	src := &fakeSource{hash: "#x=1"}
	w := newTestWatcher(t, src, WithBus(b))

	var got []Event
	b.Subscribe(TopicURLChanged, func(payload any) {
		got = append(got, payload.(Event))
	})

	src.set("#x=2")
	w.Poll()

	if len(got) != 1 {
		t.Fatalf("bus received %d events, want 1", len(got))
	}
	if got[0].Was != "#x=1" || got[0].Now.Get("x") != "2" {
		t.Errorf("bus event = %+v", got[0])
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	src := &fakeSource{hash: ""}
	w := newTestWatcher(t, src, WithMetrics(m), WithLogger(logger))

	after := false
	w.OnChange(func(Event) { panic("boom") })
	w.OnChange(func(Event) { after = true })

	src.set("#p=1")
	if !w.Poll() {
		t.Fatal("Poll did not report the change")
	}
	if !after {
		t.Error("handler after the panicking one was not called")
	}
	if got := counterValue(t, m.subscriberPanics); got != 1 {
		t.Errorf("subscriber_panics_total = %v, want 1", got)
	}
	if !strings.Contains(logs.String(), "change handler panicked") {
		t.Errorf("panic not logged: %s", logs.String())
	}
	if w.Last() != "#p=1" {
		t.Errorf("Last = %q, want #p=1", w.Last())
	}
}

func TestBusSubscriberPanicIsIsolated(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))
	b := bus.New()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := &fakeSource{hash: "#x=1"}
	w := newTestWatcher(t, src, WithBus(b), WithMetrics(m), WithLogger(logger))

	var got []string
	b.Subscribe(TopicURLChanged, func(any) { panic("boom") })
	b.Subscribe(TopicURLChanged, func(payload any) {
		got = append(got, payload.(Event).Raw)
	})
	handlerRan := false
	w.OnChange(func(Event) { handlerRan = true })

	src.set("#x=2")
	if !w.Poll() {
		t.Fatal("Poll did not report the change")
	}
	if len(got) != 1 || got[0] != "#x=2" {
		t.Errorf("second bus subscriber received %v, want [#x=2]", got)
	}
	if !handlerRan {
		t.Error("OnChange handler did not run")
	}
	if v := counterValue(t, m.subscriberPanics); v != 1 {
		t.Errorf("subscriber_panics_total = %v, want 1", v)
	}
	if w.Last() != "#x=2" {
		t.Errorf("Last = %q, want #x=2", w.Last())
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithNamespace("test"))

	src := &fakeSource{hash: "#a"}
	w := newTestWatcher(t, src, WithMetrics(m))

	w.Poll()
	src.set("#b")
	w.Poll()
	w.Poll()

	if got := counterValue(t, m.polls); got != 3 {
		t.Errorf("polls_total = %v, want 3", got)
	}
	if got := counterValue(t, m.changes); got != 1 {
		t.Errorf("changes_total = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "test_changes_total" {
			found = true
		}
	}
	if !found {
		t.Error("test_changes_total not registered under the configured namespace")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.recordPoll()
	m.recordChange()
	m.recordPanic()
	m.watcherStarted()
	m.watcherStopped()
}

func TestStartStop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))

	src := &fakeSource{hash: "#x=1"}
	w := newTestWatcher(t, src, WithInterval(5*time.Millisecond), WithMetrics(m))

	events := make(chan Event, 4)
	w.OnChange(func(ev Event) { events <- ev })

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
	if !w.Running() {
		t.Error("Running = false after Start")
	}
	if got := gaugeValue(t, m.activeWatchers); got != 1 {
		t.Errorf("active_watchers = %v, want 1", got)
	}

	src.set("#x=2")
	ev := waitEvent(t, events)
	if ev.Was != "#x=1" || ev.Now.Get("x") != "2" {
		t.Errorf("event = %+v", ev)
	}

	w.Stop()
	if w.Running() {
		t.Error("Running = true after Stop")
	}
	if got := gaugeValue(t, m.activeWatchers); got != 0 {
		t.Errorf("active_watchers = %v after Stop, want 0", got)
	}
	w.Stop()

	// A stopped watcher can be started again and keeps its last-seen hash.
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	defer w.Stop()

	src.set("#x=3")
	ev = waitEvent(t, events)
	if ev.Was != "#x=2" {
		t.Errorf("Was after restart = %q, want #x=2", ev.Was)
	}
}

func TestStopWithoutStart(t *testing.T) {
	w := newTestWatcher(t, &fakeSource{})
	w.Stop()
	if w.Running() {
		t.Error("Running = true for a watcher never started")
	}
	if w.Done() != nil {
		t.Error("Done should be nil before Start")
	}
}

func TestContextCancelStopsWatcher(t *testing.T) {
	w := newTestWatcher(t, &fakeSource{}, WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after context cancel")
	}
	if w.Running() {
		t.Error("Running = true after context cancel")
	}
	if err := w.Start(context.Background()); err != nil {
		t.Errorf("Start after cancel error: %v", err)
	}
	w.Stop()
}

func TestNotifierWakesWatcher(t *testing.T) {
	src := &notifySource{fakeSource: fakeSource{hash: "#x=1"}, ch: make(chan struct{}, 1)}
	w := newTestWatcher(t, src, WithInterval(time.Hour))

	events := make(chan Event, 1)
	w.OnChange(func(ev Event) { events <- ev })

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	src.set("#x=2")
	src.ch <- struct{}{}

	ev := waitEvent(t, events)
	if ev.Now.Get("x") != "2" {
		t.Errorf("Now.Get(x) = %q, want 2", ev.Now.Get("x"))
	}
}

func TestClosedNotifierFallsBackToPolling(t *testing.T) {
	src := &notifySource{fakeSource: fakeSource{hash: "#a"}, ch: make(chan struct{})}
	close(src.ch)
	w := newTestWatcher(t, src, WithInterval(5*time.Millisecond))

	events := make(chan Event, 1)
	w.OnChange(func(ev Event) { events <- ev })

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	src.set("#b")
	if ev := waitEvent(t, events); ev.Raw != "#b" {
		t.Errorf("Raw = %q, want #b", ev.Raw)
	}
}

func TestSourceFunc(t *testing.T) {
	hash := "#a=1"
	w := newTestWatcher(t, SourceFunc(func() string { return hash }))

	var got Event
	w.OnChange(func(ev Event) { got = ev })

	hash = "#a=2"
	w.Poll()
	if got.Now.Get("a") != "2" {
		t.Errorf("Now.Get(a) = %q, want 2", got.Now.Get("a"))
	}
}

func TestConcurrentPollPublishesOnce(t *testing.T) {
	src := &fakeSource{hash: "#a"}
	w := newTestWatcher(t, src)

	var mu sync.Mutex
	count := 0
	w.OnChange(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	src.set("#b")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Poll()
		}()
	}
	wg.Wait()

	if count != 1 {
		t.Errorf("handlers called %d times, want 1", count)
	}
}
