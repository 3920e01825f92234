package repository

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"cinecache/models"
)

// defaultWatchGrace is how long a live query survives after its last
// subscriber detaches, so quick re-subscriptions reuse the running query.
const defaultWatchGrace = 5 * time.Second

// subscriberBuffer bounds each subscriber channel. A subscriber that stops
// draining loses intermediate snapshots, never the query itself.
const subscriberBuffer = 16

// WatchCategory returns a live view of a category: the current rows are
// replayed on attach, then the channel re-emits every time the underlying
// data changes. Concurrent watchers of the same category share one query.
// The returned stop function releases the subscription; the channel is also
// released when ctx is cancelled.
func (r *MovieRepository) WatchCategory(ctx context.Context, category models.Category) (<-chan []models.MovieRecord, func()) {
	key := "category:" + string(category)
	return r.hub.subscribe(ctx, key, func(ctx context.Context) ([]models.MovieRecord, error) {
		return r.GetByCategory(ctx, category)
	})
}

// WatchSearch returns a live view of a local title search, with the same
// sharing and teardown behavior as WatchCategory.
func (r *MovieRepository) WatchSearch(ctx context.Context, queryText string) (<-chan []models.MovieRecord, func()) {
	key := "search:" + strings.ToLower(queryText)
	return r.hub.subscribe(ctx, key, func(ctx context.Context) ([]models.MovieRecord, error) {
		return r.Search(ctx, queryText)
	})
}

// watchHub multiplexes live queries: one running query per distinct key, any
// number of subscribers per query, torn down after a grace period once the
// last subscriber detaches.
type watchHub struct {
	mu      sync.Mutex
	queries map[string]*liveQuery
	grace   time.Duration
	wg      sync.WaitGroup
	closed  bool
}

type liveQuery struct {
	key    string
	run    func(context.Context) ([]models.MovieRecord, error)
	cancel context.CancelFunc

	// guarded by the hub mutex
	subs     map[int]chan []models.MovieRecord
	nextSub  int
	last     []models.MovieRecord
	hasLast  bool
	teardown *time.Timer

	notify chan struct{}
}

func newWatchHub(grace time.Duration) *watchHub {
	return &watchHub{
		queries: make(map[string]*liveQuery),
		grace:   grace,
	}
}

func (h *watchHub) subscribe(ctx context.Context, key string, run func(context.Context) ([]models.MovieRecord, error)) (<-chan []models.MovieRecord, func()) {
	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()
		ch := make(chan []models.MovieRecord)
		close(ch)
		return ch, func() {}
	}

	q := h.queries[key]
	if q == nil {
		qctx, cancel := context.WithCancel(context.Background())
		q = &liveQuery{
			key:    key,
			run:    run,
			cancel: cancel,
			subs:   make(map[int]chan []models.MovieRecord),
			notify: make(chan struct{}, 1),
		}
		h.queries[key] = q
		h.wg.Add(1)
		go h.serve(qctx, q)
	}

	if q.teardown != nil {
		q.teardown.Stop()
		q.teardown = nil
	}

	id := q.nextSub
	q.nextSub++
	ch := make(chan []models.MovieRecord, subscriberBuffer)
	q.subs[id] = ch

	// Replay the latest snapshot so a late subscriber starts current.
	if q.hasLast {
		ch <- q.last
	}
	h.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() { h.unsubscribe(q, id) })
	}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			stop()
		}()
	}
	return ch, stop
}

func (h *watchHub) unsubscribe(q *liveQuery, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := q.subs[id]
	if !ok {
		return
	}
	delete(q.subs, id)
	close(ch)

	if len(q.subs) == 0 && !h.closed && q.teardown == nil {
		q.teardown = time.AfterFunc(h.grace, func() { h.reap(q) })
	}
}

// reap shuts a live query down if it is still subscriber-free after the
// grace period.
func (h *watchHub) reap(q *liveQuery) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.queries[q.key] != q || len(q.subs) > 0 {
		return
	}
	delete(h.queries, q.key)
	q.cancel()
}

// broadcast wakes every live query to re-run and re-emit. Called by the
// repository after each committed mutation.
func (h *watchHub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, q := range h.queries {
		select {
		case q.notify <- struct{}{}:
		default: // a refresh is already pending
		}
	}
}

func (h *watchHub) serve(ctx context.Context, q *liveQuery) {
	defer h.wg.Done()

	h.emit(ctx, q)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
			h.emit(ctx, q)
		}
	}
}

func (h *watchHub) emit(ctx context.Context, q *liveQuery) {
	records, err := q.run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("Live query %s failed: %v", q.key, err)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	q.last = records
	q.hasLast = true
	for _, ch := range q.subs {
		select {
		case ch <- records:
		default: // slow subscriber, drop the intermediate snapshot
		}
	}
}

func (h *watchHub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for key, q := range h.queries {
		if q.teardown != nil {
			q.teardown.Stop()
		}
		q.cancel()
		for id, ch := range q.subs {
			delete(q.subs, id)
			close(ch)
		}
		delete(h.queries, key)
	}
	h.mu.Unlock()

	h.wg.Wait()
}
