package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/cache"
	"github.com/tubedrift/tubedrift/server/internal/history"
	"github.com/tubedrift/tubedrift/server/internal/notify"
	"github.com/tubedrift/tubedrift/server/internal/upstream"
	"github.com/tubedrift/tubedrift/server/internal/workpool"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultInterval     = 20 * time.Second
	DefaultFetchTimeout = 30 * time.Second
)

// Options tune a Manager.
type Options struct {
	// Interval is the time between two cycles of one session.
	Interval time.Duration
	// FetchTimeout bounds each upstream fetch of a cycle.
	FetchTimeout time.Duration
}

// ErrAllFetchesFailed is returned by a cycle in which every tracked query
// failed to fetch. Nothing is updated or sent for such a cycle.
var ErrAllFetchesFailed = errors.New("poller: all fetches failed")

// State is where a session's loop currently is.
type State int32

const (
	// StateStopped means no loop runs for the session.
	StateStopped State = iota
	// StateIdle means the loop is waiting for its next tick.
	StateIdle
	// StatePolling means a cycle's fetches are in flight.
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	default:
		return "stopped"
	}
}

// Notifier receives the outcome of every cycle that changed something.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// Stats is a point-in-time copy of the poller counters.
type Stats struct {
	Cycles  int64
	Changes int64
	Failed  int64
	Active  int
}

type session struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	reset  chan struct{}
	state  atomic.Int32
}

// Manager runs one polling loop per active session.
type Manager struct {
	cache    *cache.Cache
	history  *history.Store
	provider upstream.Provider
	pool     *workpool.Pool
	notifier Notifier

	interval     atomic.Int64
	fetchTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	cycleMu  map[string]*sync.Mutex

	cycles  atomic.Int64
	changes atomic.Int64
	failed  atomic.Int64
}

// New creates a Manager. A nil notifier discards notifications.
func New(c *cache.Cache, h *history.Store, provider upstream.Provider, pool *workpool.Pool, notifier Notifier, opts Options) *Manager {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	m := &Manager{
		cache:        c,
		history:      h,
		provider:     provider,
		pool:         pool,
		notifier:     notifier,
		fetchTimeout: opts.FetchTimeout,
		now:          time.Now,
		sessions:     make(map[string]*session),
		cycleMu:      make(map[string]*sync.Mutex),
	}
	m.SetInterval(opts.Interval)
	return m
}

// Interval returns the current poll period.
func (m *Manager) Interval() time.Duration { return time.Duration(m.interval.Load()) }

// SetInterval changes the poll period. Running loops pick it up at once.
func (m *Manager) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	if time.Duration(m.interval.Swap(int64(d))) == d {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		select {
		case s.reset <- struct{}{}:
		default:
		}
	}
}

// Start begins polling sessionID until Stop is called or ctx ends. It
// reports false if the session is already being polled.
func (m *Manager) Start(ctx context.Context, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; ok {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:     sessionID,
		cancel: cancel,
		done:   make(chan struct{}),
		reset:  make(chan struct{}, 1),
	}
	s.state.Store(int32(StateIdle))
	m.sessions[sessionID] = s

	go m.loop(loopCtx, s)
	slog.Info("poller: started", "session", sessionID, "interval", m.Interval())
	return true
}

// Stop cancels the session's loop, abandoning any fetches in flight, and
// waits for it to exit. Stopping an unknown session is a no-op.
func (m *Manager) Stop(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		delete(m.cycleMu, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.cancel()
	<-s.done
	slog.Info("poller: stopped", "session", sessionID)
}

// StopAll stops every running loop.
func (m *Manager) StopAll() {
	for _, id := range m.Active() {
		m.Stop(id)
	}
}

// State returns the state of the session's loop.
func (m *Manager) State(sessionID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return StateStopped
	}
	return State(s.state.Load())
}

// Active returns the ids of polled sessions in sorted order.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.sessions)
	m.mu.Unlock()
	return Stats{
		Cycles:  m.cycles.Load(),
		Changes: m.changes.Load(),
		Failed:  m.failed.Load(),
		Active:  active,
	}
}

// PollNow runs one cycle for sessionID right away, whether or not the
// session is being polled. It reports whether anything changed.
func (m *Manager) PollNow(ctx context.Context, sessionID string) (bool, error) {
	return m.cycle(ctx, sessionID)
}

func (m *Manager) loop(ctx context.Context, s *session) {
	defer close(s.done)

	t := time.NewTimer(m.Interval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reset:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(m.Interval())
		case <-t.C:
			s.state.Store(int32(StatePolling))
			if _, err := m.cycle(ctx, s.id); err != nil && ctx.Err() == nil {
				slog.Warn("poller: cycle failed", "session", s.id, "err", err)
			}
			s.state.Store(int32(StateIdle))
			t.Reset(m.Interval())
		}
	}
}

// lockCycle serialises cycles of one session between its loop and PollNow.
func (m *Manager) lockCycle(sessionID string) func() {
	m.mu.Lock()
	mu, ok := m.cycleMu[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		m.cycleMu[sessionID] = mu
	}
	m.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}

type fetched struct {
	results []types.ResultItem
	err     error
}

// cycle re-fetches every record of the session and applies what changed.
func (m *Manager) cycle(ctx context.Context, sessionID string) (bool, error) {
	unlock := m.lockCycle(sessionID)
	defer unlock()

	records := m.history.Get(sessionID)
	if len(records) == 0 {
		return false, nil
	}
	m.cycles.Add(1)

	fresh := m.fetchAll(ctx, records)

	// Results that arrive after teardown are dropped unseen.
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var (
		errs    []error
		changed = make(map[types.Ref][]types.ResultItem)
		queries []string
	)
	for i, rec := range records {
		f := fresh[i]
		if f.err != nil {
			slog.Debug("poller: fetch failed, skipping query",
				"session", sessionID, "query", rec.Query, "kind", rec.QueryKind(), "err", f.err)
			errs = append(errs, f.err)
			continue
		}
		if !Changed(rec.Results, f.results) {
			continue
		}
		ref := types.Ref{Kind: rec.QueryKind(), ID: rec.Query}
		if _, dup := changed[ref]; !dup {
			queries = append(queries, rec.Query)
		}
		changed[ref] = f.results
	}

	if len(errs) == len(records) {
		m.failed.Add(1)
		return false, fmt.Errorf("%w: session %s: %w", ErrAllFetchesFailed, sessionID, errors.Join(errs...))
	}
	if len(changed) == 0 {
		return false, nil
	}

	at := m.now()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for ref, results := range changed {
		m.cache.Put(ref.Key(), results)
	}
	updated := m.history.Update(sessionID, func(current []types.SearchRecord) []types.SearchRecord {
		for i := range current {
			ref := types.Ref{Kind: current[i].QueryKind(), ID: current[i].Query}
			if results, ok := changed[ref]; ok {
				current[i].Results = append([]types.ResultItem{}, results...)
				current[i].UpdatedAt = at
			}
		}
		return current
	})
	m.changes.Add(1)

	slog.Info("poller: results changed", "session", sessionID, "queries", queries)
	if err := ctx.Err(); err != nil {
		return true, err
	}
	if m.notifier != nil {
		n := notify.Notification{SessionID: sessionID, Changed: queries, Records: updated, At: at}
		if err := m.notifier.Notify(ctx, n); err != nil {
			slog.Warn("poller: notify failed", "session", sessionID, "err", err)
		}
	}
	return true, nil
}

// fetchAll fetches every record concurrently on the work pool.
func (m *Manager) fetchAll(ctx context.Context, records []types.SearchRecord) []fetched {
	out := make([]fetched, len(records))
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
			defer cancel()
			results, err := workpool.Run(fctx, m.pool, func(ctx context.Context) ([]types.ResultItem, error) {
				return m.refetch(ctx, rec)
			})
			out[i] = fetched{results: results, err: err}
		}()
	}
	wg.Wait()
	return out
}

// refetch asks upstream for a record's current results, bypassing the cache.
func (m *Manager) refetch(ctx context.Context, rec types.SearchRecord) ([]types.ResultItem, error) {
	switch rec.QueryKind() {
	case types.KindVideo:
		return m.provider.FetchVideosByQuery(ctx, rec.Query)
	case types.KindChannel:
		return m.provider.FetchVideosByChannel(ctx, rec.Query)
	case types.KindTag:
		return m.provider.FetchVideosByQuery(ctx, "#"+rec.Query)
	}
	return nil, fmt.Errorf("poller: record kind %q is not pollable: %w", rec.QueryKind(), types.ErrInternal)
}
