package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/cache"
	"github.com/tubedrift/tubedrift/server/internal/history"
	"github.com/tubedrift/tubedrift/server/internal/notify"
	"github.com/tubedrift/tubedrift/server/internal/upstream"
	"github.com/tubedrift/tubedrift/server/internal/workpool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func items(ids ...string) []types.ResultItem {
	out := make([]types.ResultItem, len(ids))
	for i, id := range ids {
		out[i] = types.ResultItem{ID: id, Title: "title " + id}
	}
	return out
}

// recorder is a Notifier that keeps everything it is sent.
type recorder struct {
	mu   sync.Mutex
	got  []notify.Notification
	sent chan struct{}
}

func newRecorder() *recorder { return &recorder{sent: make(chan struct{}, 16)} }

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return nil
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.got...)
}

// sequence answers FetchVideosByQuery with the next scripted result per query.
type sequence struct {
	mu      sync.Mutex
	scripts map[string][][]types.ResultItem
	calls   map[string]int
}

func (s *sequence) fetch(_ context.Context, q string) ([]types.ResultItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	script, ok := s.scripts[q]
	if !ok {
		return nil, types.ErrNotFound
	}
	n := s.calls[q]
	s.calls[q]++
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n], nil
}

type fixture struct {
	m       *Manager
	cache   *cache.Cache
	history *history.Store
	rec     *recorder
}

func newFixture(t *testing.T, provider upstream.Provider, interval time.Duration) fixture {
	t.Helper()
	c := cache.New(time.Minute, time.Second)
	h := history.New()
	pool := workpool.New("poller-test", 4, 16)
	rec := newRecorder()
	m := New(c, h, provider, pool, rec, Options{Interval: interval, FetchTimeout: 5 * time.Second})

	t.Cleanup(func() {
		m.StopAll()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, pool.Close(ctx))
	})
	return fixture{m: m, cache: c, history: h, rec: rec}
}

func track(h *history.Store, sessionID string, recs ...types.SearchRecord) {
	h.Put(sessionID, recs)
}

func TestChanged(t *testing.T) {
	require.False(t, Changed(items("a", "b", "c"), items("a", "b", "c")))
	require.True(t, Changed(items("a", "b", "c"), items("c", "b", "a")), "reorder is a change")
	require.True(t, Changed(items("a", "b", "c"), items("a", "b")), "length change is a change")

	edited := items("a", "b", "c")
	edited[1].Title = "retitled"
	require.False(t, Changed(items("a", "b", "c"), edited), "content edits are ignored")
}

func TestPollNow_OneNotificationPerChangedCycle(t *testing.T) {
	seq := &sequence{scripts: map[string][][]types.ResultItem{
		"x": {items("a", "b"), items("a", "b"), items("c", "a", "b")},
		"y": {items("z"), items("z", "w"), items("z", "w", "v")},
	}}
	f := newFixture(t, upstream.Funcs{VideosByQuery: seq.fetch}, time.Hour)
	ctx := context.Background()

	track(f.history, "s1",
		types.SearchRecord{Query: "x", Kind: types.KindVideo, Results: items("a", "b")},
		types.SearchRecord{Query: "y", Kind: types.KindVideo, Results: items("z")},
	)

	// Cycle 1: nothing moved.
	changed, err := f.m.PollNow(ctx, "s1")
	require.NoError(t, err)
	require.False(t, changed)
	require.Empty(t, f.rec.all())

	// Cycle 2: only y moved.
	changed, err = f.m.PollNow(ctx, "s1")
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, f.rec.all(), 1)

	// Cycle 3: both moved, still one notification.
	changed, err = f.m.PollNow(ctx, "s1")
	require.NoError(t, err)
	require.True(t, changed)

	got := f.rec.all()
	require.Len(t, got, 2)
	last := got[1]
	require.Equal(t, "s1", last.SessionID)
	require.ElementsMatch(t, []string{"x", "y"}, last.Changed)
	require.Len(t, last.Records, 2)
	require.Equal(t, []string{"c", "a", "b"}, types.IdentityKeys(last.Records[0].Results))

	cached, ok := f.cache.Get("video:::x")
	require.True(t, ok)
	require.Equal(t, []string{"c", "a", "b"}, types.IdentityKeys(cached.([]types.ResultItem)))

	stored := f.history.Get("s1")
	require.Equal(t, []string{"z", "w", "v"}, types.IdentityKeys(stored[1].Results))
	require.False(t, stored[1].UpdatedAt.IsZero())
}

func TestPollNow_FailedQueryIsSkipped(t *testing.T) {
	seq := &sequence{scripts: map[string][][]types.ResultItem{
		"ok": {items("b")},
	}}
	f := newFixture(t, upstream.Funcs{VideosByQuery: seq.fetch}, time.Hour)

	track(f.history, "s1",
		types.SearchRecord{Query: "missing", Results: items("q")},
		types.SearchRecord{Query: "ok", Results: items("a")},
	)

	changed, err := f.m.PollNow(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, changed)

	stored := f.history.Get("s1")
	require.Equal(t, []string{"q"}, types.IdentityKeys(stored[0].Results), "failed query keeps its old results")
	require.Equal(t, []string{"b"}, types.IdentityKeys(stored[1].Results))
}

func TestPollNow_AllFailed(t *testing.T) {
	f := newFixture(t, upstream.Funcs{}, time.Hour)
	track(f.history, "s1",
		types.SearchRecord{Query: "a", Results: items("1")},
		types.SearchRecord{Query: "b", Kind: types.KindChannel, Results: items("2")},
	)

	changed, err := f.m.PollNow(context.Background(), "s1")
	require.ErrorIs(t, err, ErrAllFetchesFailed)
	require.False(t, changed)
	require.Empty(t, f.rec.all())
	require.Equal(t, int64(1), f.m.Stats().Failed)
}

func TestPollNow_EmptyHistoryIsQuiet(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, upstream.Funcs{VideosByQuery: func(context.Context, string) ([]types.ResultItem, error) {
		calls.Add(1)
		return nil, nil
	}}, time.Hour)

	changed, err := f.m.PollNow(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, changed)
	require.Zero(t, calls.Load())
}

func TestPollNow_KindsUseTheirOwnFetch(t *testing.T) {
	var mu sync.Mutex
	var queries, channels []string
	f := newFixture(t, upstream.Funcs{
		VideosByQuery: func(_ context.Context, q string) ([]types.ResultItem, error) {
			mu.Lock()
			queries = append(queries, q)
			mu.Unlock()
			return items("new"), nil
		},
		VideosByChannel: func(_ context.Context, id string) ([]types.ResultItem, error) {
			mu.Lock()
			channels = append(channels, id)
			mu.Unlock()
			return items("new"), nil
		},
	}, time.Hour)

	track(f.history, "s1",
		types.SearchRecord{Query: "golang", Kind: types.KindTag},
		types.SearchRecord{Query: "UC1", Kind: types.KindChannel},
	)

	_, err := f.m.PollNow(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, []string{"#golang"}, queries)
	require.Equal(t, []string{"UC1"}, channels)
	require.True(t, f.cache.HasValidEntry("tag:::golang"))
	require.True(t, f.cache.HasValidEntry("channel:::UC1"))
}

func TestLoop_PollsOnTimerAndNotifies(t *testing.T) {
	seq := &sequence{scripts: map[string][][]types.ResultItem{
		"x": {items("b", "a")},
	}}
	f := newFixture(t, upstream.Funcs{VideosByQuery: seq.fetch}, 10*time.Millisecond)
	track(f.history, "s1", types.SearchRecord{Query: "x", Results: items("a", "b")})

	require.True(t, f.m.Start(context.Background(), "s1"))
	require.False(t, f.m.Start(context.Background(), "s1"), "second Start is a no-op")
	require.Equal(t, []string{"s1"}, f.m.Active())

	select {
	case <-f.rec.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification from timer-driven cycle")
	}

	// Later cycles see the same sequence and stay quiet.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, f.rec.all(), 1)

	f.m.Stop("s1")
	require.Equal(t, StateStopped, f.m.State("s1"))
	require.Empty(t, f.m.Active())
}

func TestStop_AbandonsInFlightFetch(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	f := newFixture(t, upstream.Funcs{
		VideosByQuery: func(ctx context.Context, q string) ([]types.ResultItem, error) {
			once.Do(func() { close(entered) })
			<-ctx.Done()
			return items("late"), nil
		},
	}, 10*time.Millisecond)
	track(f.history, "s1", types.SearchRecord{Query: "x", Results: items("a")})

	f.m.Start(context.Background(), "s1")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never started")
	}
	require.Equal(t, StatePolling, f.m.State("s1"))

	f.m.Stop("s1")

	require.Empty(t, f.rec.all())
	require.Equal(t, []string{"a"}, types.IdentityKeys(f.history.Get("s1")[0].Results))
	require.False(t, f.cache.HasValidEntry("video:::x"))
}

func TestPollNow_CancelAfterFetchAppliesNothing(t *testing.T) {
	seq := &sequence{scripts: map[string][][]types.ResultItem{"x": {items("b")}}}
	f := newFixture(t, upstream.Funcs{VideosByQuery: seq.fetch}, time.Hour)
	track(f.history, "s1", types.SearchRecord{Query: "x", Results: items("a")})

	// The session is torn down once the fetches are back but before the
	// cycle applies them.
	ctx, cancel := context.WithCancel(context.Background())
	f.m.now = func() time.Time {
		cancel()
		return time.Now()
	}

	changed, err := f.m.PollNow(ctx, "s1")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, changed)
	require.Empty(t, f.rec.all())
	require.Equal(t, []string{"a"}, types.IdentityKeys(f.history.Get("s1")[0].Results))
	require.False(t, f.cache.HasValidEntry("video:::x"))
}

func TestStart_ParentCancelStopsLoop(t *testing.T) {
	f := newFixture(t, upstream.Funcs{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	f.m.Start(ctx, "s1")
	cancel()

	// Stop still waits for the loop to notice and exit.
	done := make(chan struct{})
	go func() {
		f.m.Stop("s1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after parent cancel")
	}
}

func TestSetInterval_AppliesToRunningLoop(t *testing.T) {
	seq := &sequence{scripts: map[string][][]types.ResultItem{
		"x": {items("b")},
	}}
	f := newFixture(t, upstream.Funcs{VideosByQuery: seq.fetch}, time.Hour)
	track(f.history, "s1", types.SearchRecord{Query: "x", Results: items("a")})

	f.m.Start(context.Background(), "s1")
	f.m.SetInterval(10 * time.Millisecond)
	require.Equal(t, 10*time.Millisecond, f.m.Interval())

	select {
	case <-f.rec.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("new interval was not picked up")
	}
}

func TestNotifierErrorDoesNotFailCycle(t *testing.T) {
	c := cache.New(time.Minute, time.Second)
	h := history.New()
	pool := workpool.New("poller-test", 1, 1)
	defer pool.Close(context.Background()) //nolint:errcheck

	failing := notify.NewFanout(notify.SinkFunc{SinkName: "down", Fn: func(context.Context, notify.Notification) error {
		return errors.New("unreachable")
	}})
	m := New(c, h, upstream.Funcs{VideosByQuery: func(context.Context, string) ([]types.ResultItem, error) {
		return items("new"), nil
	}}, pool, failing, Options{Interval: time.Hour})

	h.Put("s1", []types.SearchRecord{{Query: "x", Results: items("old")}})
	changed, err := m.PollNow(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, changed)
}
