package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tubedrift/tubedrift/pkg/types"
)

// Notification announces that a poll cycle changed a session's results.
// Records is the session's full history after the cycle.
type Notification struct {
	SessionID string               `json:"session_id"`
	Changed   []string             `json:"changed"`
	Records   []types.SearchRecord `json:"records"`
	At        time.Time            `json:"at"`
}

// Sink delivers notifications to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// backgroundSlots bounds the deliveries in flight per background sink.
const backgroundSlots = 8

// Fanout delivers each notification to every registered sink. Sinks added
// with Add run on the caller's goroutine in order; sinks added with
// AddBackground run on their own goroutines so a slow or failing destination
// never holds up the caller.
type Fanout struct {
	mu         sync.RWMutex
	sinks      []Sink
	background []*backgroundSink
	wg         sync.WaitGroup
}

type backgroundSink struct {
	Sink
	slots chan struct{}
}

// NewFanout creates a Fanout over sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Add registers another sink delivered on the caller's goroutine.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// AddBackground registers a sink delivered off the caller's goroutine. When
// the sink already has backgroundSlots deliveries in flight, further
// notifications for it are dropped and logged.
func (f *Fanout) AddBackground(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.background = append(f.background, &backgroundSink{Sink: s, slots: make(chan struct{}, backgroundSlots)})
}

// Sinks returns the names of the registered sinks.
func (f *Fanout) Sinks() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.sinks)+len(f.background))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	for _, s := range f.background {
		names = append(names, s.Name())
	}
	return names
}

// Notify sends n to every sink. Background deliveries are started and not
// waited for; they stop when ctx is cancelled. Failures of the direct sinks
// are logged and joined into the returned error; a failing sink does not stop
// the rest.
func (f *Fanout) Notify(ctx context.Context, n Notification) error {
	f.mu.RLock()
	sinks := append([]Sink(nil), f.sinks...)
	background := append([]*backgroundSink(nil), f.background...)
	f.mu.RUnlock()

	for _, b := range background {
		select {
		case b.slots <- struct{}{}:
		default:
			slog.Warn("notify: background sink busy, dropping notification",
				"sink", b.Name(),
				"session", n.SessionID,
			)
			continue
		}
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer func() { <-b.slots }()
			_ = deliver(ctx, b.Sink, n)
		}()
	}

	var errs []error
	for _, s := range sinks {
		if err := deliver(ctx, s, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every background delivery started so far has finished.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func deliver(ctx context.Context, s Sink, n Notification) error {
	if err := s.Send(ctx, n); err != nil {
		slog.Error("notify: delivery failed",
			"sink", s.Name(),
			"session", n.SessionID,
			"err", err,
		)
		return err
	}
	slog.Debug("notify: delivered", "sink", s.Name(), "session", n.SessionID)
	return nil
}

// SinkFunc adapts a function to a Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, n Notification) error
}

func (s SinkFunc) Name() string { return s.SinkName }

func (s SinkFunc) Send(ctx context.Context, n Notification) error { return s.Fn(ctx, n) }
