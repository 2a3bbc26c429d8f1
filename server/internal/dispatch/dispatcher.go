package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/cache"
	"github.com/tubedrift/tubedrift/server/internal/upstream"
	"github.com/tubedrift/tubedrift/server/internal/workpool"
)

// Defaults applied by New for non-positive arguments.
const (
	DefaultInboxSize = 256
	DefaultTimeout   = 45 * time.Second
)

var (
	// ErrInboxFull is reported when a request arrives while the inbox is at
	// capacity.
	ErrInboxFull = errors.New("dispatch: inbox full")
	// ErrClosed is reported for requests submitted after Run has returned.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

// Stats is a point-in-time copy of the dispatcher counters.
type Stats struct {
	Dispatched int64
	Rejected   int64
	Failed     int64
	Queued     int
}

// Pending is the future for one dispatched request.
type Pending struct {
	req  Request
	ctx  context.Context
	done chan struct{}
	once sync.Once
	resp Response
}

func newPending(ctx context.Context, req Request) *Pending {
	return &Pending{req: req, ctx: ctx, done: make(chan struct{})}
}

// Request returns the request this handle answers, with its assigned ID.
func (p *Pending) Request() Request { return p.req }

// Done is closed once the response is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the response is available or ctx ends. A caller that
// gives up does not cancel the request.
func (p *Pending) Wait(ctx context.Context) (Response, error) {
	select {
	case <-p.done:
		return p.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// resolve stores resp unless a response was already stored. It reports
// whether resp was the one kept.
func (p *Pending) resolve(resp Response) bool {
	kept := false
	p.once.Do(func() {
		p.resp = resp
		close(p.done)
		kept = true
	})
	return kept
}

// Dispatcher serves Requests through the cache, running upstream fetches on
// a work pool.
type Dispatcher struct {
	cache    *cache.Cache
	pool     *workpool.Pool
	provider upstream.Provider
	timeout  time.Duration

	inbox chan *Pending

	mu     sync.RWMutex
	closed bool

	wg sync.WaitGroup

	dispatched atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
}

// New builds a Dispatcher. Call Run to start serving.
func New(c *cache.Cache, pool *workpool.Pool, provider upstream.Provider, inboxSize int, timeout time.Duration) *Dispatcher {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		cache:    c,
		pool:     pool,
		provider: provider,
		timeout:  timeout,
		inbox:    make(chan *Pending, inboxSize),
	}
}

// Dispatch submits req and returns its handle without blocking. An empty
// req.ID is replaced with a fresh UUID. ctx bounds the request itself; when
// the inbox is full or the dispatcher has stopped, the handle is resolved
// with an error response straight away.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Pending {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	p := newPending(ctx, req)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.reject(p, ErrClosed)
		return p
	}
	select {
	case d.inbox <- p:
		d.dispatched.Add(1)
	default:
		d.reject(p, ErrInboxFull)
	}
	return p
}

// Do dispatches req and waits for its response.
func (d *Dispatcher) Do(ctx context.Context, req Request) (Response, error) {
	return d.Dispatch(ctx, req).Wait(ctx)
}

// Run drains the inbox until ctx is cancelled, then waits for requests in
// progress and fails anything still queued with ErrClosed.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatch: started", "inbox", cap(d.inbox), "timeout", d.timeout)
	defer slog.Info("dispatch: stopped")

	for {
		// Cancellation wins over queued work.
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case p := <-d.inbox:
			d.wg.Add(1)
			go d.serve(ctx, p)
		}
	}
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	for {
		select {
		case p := <-d.inbox:
			d.reject(p, ErrClosed)
		default:
			d.wg.Wait()
			return
		}
	}
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Rejected:   d.rejected.Load(),
		Failed:     d.failed.Load(),
		Queued:     len(d.inbox),
	}
}

func (d *Dispatcher) reject(p *Pending, err error) {
	d.rejected.Add(1)
	slog.Warn("dispatch: request rejected", "id", p.req.ID, "kind", p.req.Kind, "err", err)
	p.resolve(errorResponse(p.req, fmt.Errorf("%w: %w", err, types.ErrInternal)))
}

// serve answers one request. Run's ctx ending cancels it as well.
func (d *Dispatcher) serve(runCtx context.Context, p *Pending) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(p.ctx, d.timeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	resp, err := d.handle(ctx, p.req)
	if err != nil {
		d.failed.Add(1)
		slog.Warn("dispatch: request failed",
			"id", p.req.ID, "kind", p.req.Kind, "payload", p.req.Payload, "err", err)
		resp = errorResponse(p.req, err)
	}
	p.resolve(resp)
}

func (d *Dispatcher) handle(ctx context.Context, req Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: request %s: panic recovered: %v: %w", req.ID, r, types.ErrInternal)
		}
	}()

	payload := strings.TrimSpace(req.Payload)
	if payload == "" {
		return Response{}, fmt.Errorf("dispatch: empty %s payload: %w", req.Kind, types.ErrInvalidRequest)
	}
	resp = Response{ID: req.ID, Kind: req.Kind, Query: payload}

	switch req.Kind {
	case KindQuery, "":
		resp.Kind = KindQuery
		resp.all, err = d.videosByQuery(ctx, types.KindVideo.Key(payload), payload)
	case KindTag:
		tag := strings.TrimPrefix(payload, "#")
		resp.Query = tag
		resp.all, err = d.videosByQuery(ctx, types.KindTag.Key(tag), "#"+tag)
	case KindChannel:
		var info types.ChannelInfo
		info, resp.all, err = d.channel(ctx, payload)
		resp.Channel = &info
	default:
		return Response{}, fmt.Errorf("dispatch: unknown request kind %q: %w", req.Kind, types.ErrInvalidRequest)
	}
	if err != nil {
		return Response{}, err
	}
	resp.Items = limitItems(resp.all, req.Params.Limit)
	return resp, nil
}

func (d *Dispatcher) videosByQuery(ctx context.Context, key, query string) ([]types.ResultItem, error) {
	return fetchVia(ctx, d, key, func(ctx context.Context) ([]types.ResultItem, error) {
		return d.provider.FetchVideosByQuery(ctx, query)
	})
}

// channel loads a channel's metadata and its videos concurrently.
func (d *Dispatcher) channel(ctx context.Context, channelID string) (types.ChannelInfo, []types.ResultItem, error) {
	var (
		info   types.ChannelInfo
		videos []types.ResultItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = fetchVia(gctx, d, types.KindChannelInfo.Key(channelID), func(ctx context.Context) (types.ChannelInfo, error) {
			return d.provider.FetchChannelMetadata(ctx, channelID)
		})
		return err
	})
	g.Go(func() error {
		var err error
		videos, err = fetchVia(gctx, d, types.KindChannel.Key(channelID), func(ctx context.Context) ([]types.ResultItem, error) {
			return d.provider.FetchVideosByChannel(ctx, channelID)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return types.ChannelInfo{}, nil, err
	}
	return info, videos, nil
}

// Describe returns the description of a video, from cache when possible.
func (d *Dispatcher) Describe(ctx context.Context, videoID string) (string, error) {
	if strings.TrimSpace(videoID) == "" {
		return "", fmt.Errorf("dispatch: empty video id: %w", types.ErrInvalidRequest)
	}
	return fetchVia(ctx, d, types.DescriptionRef(videoID).Key(), func(ctx context.Context) (string, error) {
		return d.provider.FetchDescription(ctx, videoID)
	})
}

// VideoDetail returns the full metadata of a video, from cache when possible.
func (d *Dispatcher) VideoDetail(ctx context.Context, videoID string) (types.VideoDetail, error) {
	if strings.TrimSpace(videoID) == "" {
		return types.VideoDetail{}, fmt.Errorf("dispatch: empty video id: %w", types.ErrInvalidRequest)
	}
	return fetchVia(ctx, d, types.KindVideoDetail.Key(videoID), func(ctx context.Context) (types.VideoDetail, error) {
		return d.provider.FetchVideoMetadata(ctx, videoID)
	})
}

// fetchVia reads key through the cache; a miss runs fn on the work pool.
func fetchVia[T any](ctx context.Context, d *Dispatcher, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	return cache.Fetch(ctx, d.cache, key, func(ctx context.Context) (T, error) {
		return workpool.Run(ctx, d.pool, fn)
	})
}
