package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/config"
)

func sample() Notification {
	return Notification{
		SessionID: "s1",
		Changed:   []string{"golang"},
		Records: []types.SearchRecord{{
			Query:   "golang",
			Kind:    types.KindVideo,
			Results: []types.ResultItem{{ID: "a"}},
		}},
		At: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newWebhook(t *testing.T, kind string, h http.HandlerFunc) *Webhook {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_WEBHOOK_URL", srv.URL)

	w, err := NewWebhook(config.WebhookConfig{Type: kind, URLEnv: "TEST_WEBHOOK_URL"})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	w.backoff = time.Millisecond
	return w
}

func TestWebhook_SlackPayload(t *testing.T) {
	var got map[string]string
	w := newWebhook(t, "slack", func(rw http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type: got %q, want application/json", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	})

	if err := w.Send(context.Background(), sample()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := "*tubedrift* session `s1`: new results for \"golang\""
	if got["text"] != want {
		t.Errorf("text: got %q, want %q", got["text"], want)
	}
}

func TestWebhook_HTTPPayloadCarriesRecords(t *testing.T) {
	var body []byte
	w := newWebhook(t, "http", func(_ http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	})

	if err := w.Send(context.Background(), sample()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var got struct {
		Notification Notification `json:"notification"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got.Notification.Records) != 1 || got.Notification.Records[0].Query != "golang" {
		t.Errorf("records: got %+v", got.Notification.Records)
	}
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	w := newWebhook(t, "teams", func(rw http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			rw.WriteHeader(http.StatusBadGateway)
		}
	})

	if err := w.Send(context.Background(), sample()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("attempts: got %d, want 3", got)
	}
}

func TestWebhook_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	w := newWebhook(t, "slack", func(rw http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusForbidden)
	})

	if err := w.Send(context.Background(), sample()); err == nil {
		t.Fatal("Send: expected error, got nil")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("attempts: got %d, want 1", got)
	}
}

func TestRetryDelay_DoublesWithinJitterAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt, want := range map[int]time.Duration{
		1:  100 * time.Millisecond,
		2:  200 * time.Millisecond,
		3:  400 * time.Millisecond,
		20: backoffMax,
	} {
		for range 50 {
			d := retryDelay(base, attempt)
			lo, hi := want*3/4, want*5/4
			if d < lo || d >= hi {
				t.Fatalf("attempt %d: got %v, want in [%v, %v)", attempt, d, lo, hi)
			}
		}
	}
	if d := retryDelay(0, 1); d < backoffInitial*3/4 {
		t.Errorf("zero base: got %v, want around %v", d, backoffInitial)
	}
}

func TestNewWebhook_MissingURL(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_URL_EMPTY", "")
	if _, err := NewWebhook(config.WebhookConfig{Type: "http", URLEnv: "TEST_WEBHOOK_URL_EMPTY"}); err == nil {
		t.Fatal("expected error for empty URL, got nil")
	}
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink_KeysBySession(t *testing.T) {
	fw := &fakeWriter{}
	k := &KafkaSink{topic: "changes", writer: fw}

	if err := k.Send(context.Background(), sample()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "s1" {
		t.Errorf("key: got %q, want s1", msg.Key)
	}
	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if n.SessionID != "s1" || len(n.Records) != 1 {
		t.Errorf("value: got %+v", n)
	}
	if k.Name() != "kafka:changes" {
		t.Errorf("Name: got %q", k.Name())
	}
}

func TestFanout_FailingSinkDoesNotStopOthers(t *testing.T) {
	var delivered []string
	boom := errors.New("boom")
	f := NewFanout(
		SinkFunc{SinkName: "broken", Fn: func(context.Context, Notification) error { return boom }},
		SinkFunc{SinkName: "ok", Fn: func(_ context.Context, n Notification) error {
			delivered = append(delivered, n.SessionID)
			return nil
		}},
	)
	f.Add(&KafkaSink{topic: "t", writer: &fakeWriter{}})

	err := f.Notify(context.Background(), sample())
	if !errors.Is(err, boom) {
		t.Errorf("error: got %v, want wrapped boom", err)
	}
	if len(delivered) != 1 || delivered[0] != "s1" {
		t.Errorf("delivered: got %v, want [s1]", delivered)
	}
	if got := f.Sinks(); len(got) != 3 || got[2] != "kafka:t" {
		t.Errorf("Sinks: got %v", got)
	}
}

func TestFanout_BackgroundSinkDoesNotDelaySessionPush(t *testing.T) {
	release := make(chan struct{})
	var attempts atomic.Int32
	wh := newWebhook(t, "http", func(rw http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		<-release
		rw.WriteHeader(http.StatusServiceUnavailable)
	})

	pushed := make(chan string, 1)
	f := NewFanout(SinkFunc{SinkName: "session", Fn: func(_ context.Context, n Notification) error {
		pushed <- n.SessionID
		return nil
	}})
	f.AddBackground(wh)

	done := make(chan error, 1)
	go func() { done <- f.Notify(context.Background(), sample()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("Notify waited on the background webhook")
	}
	if got := <-pushed; got != "s1" {
		t.Errorf("session push: got %q, want s1", got)
	}

	close(release)
	f.Wait()
	if got := attempts.Load(); got != webhookAttempts {
		t.Errorf("webhook attempts: got %d, want %d", got, webhookAttempts)
	}
}

func TestFanout_BusyBackgroundSinkDrops(t *testing.T) {
	release := make(chan struct{})
	var sent atomic.Int32
	f := NewFanout()
	f.AddBackground(SinkFunc{SinkName: "slow", Fn: func(context.Context, Notification) error {
		<-release
		sent.Add(1)
		return nil
	}})

	for range backgroundSlots + 2 {
		if err := f.Notify(context.Background(), sample()); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	close(release)
	f.Wait()

	if got := sent.Load(); got != backgroundSlots {
		t.Errorf("deliveries: got %d, want %d", got, backgroundSlots)
	}
	if got := f.Sinks(); len(got) != 1 || got[0] != "slow" {
		t.Errorf("Sinks: got %v", got)
	}
}
