// Package swr implements stale-while-revalidate reads over a swrcache
// Engine: cached values are returned immediately, and values past their
// staleness window are refreshed in the background while the old value
// keeps being served.
package swr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/request"
)

// Fetcher performs one fetch attempt for a key. Retries, backoff and
// timeouts are applied by the Reader's orchestrator.
type Fetcher func(ctx context.Context) ([]byte, error)

var ErrClosed = errors.New("swr: reader closed")

const (
	DefaultStaleAfter      = 30 * time.Second
	DefaultRetentionFactor = 3
)

type Options struct {
	// StaleAfter is the staleness window when ReadOptions.TTL is 0; 0 => 30s.
	StaleAfter time.Duration
	// Cached entries live for max(ttl*RetentionFactor, Retention) so a stale
	// value is still there to serve while it is refreshed. 0 => 3.
	RetentionFactor int
	// Retention is the minimum hard TTL; 0 => the engine's DefaultTTL.
	Retention time.Duration
	Logger    swrcache.Logger // nil => the engine's logger
}

type ReadOptions struct {
	TTL          time.Duration // staleness window; 0 => Options.StaleAfter
	ForceRefresh bool          // refresh even if fresh; the cached value is still returned
	OnUpdate     func(Update)  // called once when the refresh this read started or joined settles
}

// Result is what a Read returns immediately.
type Result struct {
	Value      []byte
	Found      bool // Value is set
	State      State
	Refreshing bool // a background refresh for the key is running
	CachedAt   time.Time
}

// Update reports the outcome of a refresh.
type Update struct {
	Key       string
	Value     []byte // new value on success
	State     State  // the key's state after the refresh
	Err       error  // refresh failure; the previously cached value is kept
	Discarded bool   // the key was invalidated while fetching; nothing was cached
}

// Reader serves SWR reads for one Engine. Safe for concurrent use.
type Reader struct {
	e    *swrcache.Engine
	orch *request.Orchestrator
	log  swrcache.Logger

	staleAfter time.Duration
	factor     int
	retention  time.Duration

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wmu    sync.RWMutex // held shared around cache writes; Close takes it to fence them

	mu         sync.Mutex
	closed     bool
	states     map[string]State
	refreshing map[string][]func(Update) // running refreshes and their OnUpdate callbacks
	subs       map[string]map[uint64]chan Update
	nextSub    uint64
}

// NewReader returns a Reader; orch nil uses request.DefaultPolicy.
func NewReader(e *swrcache.Engine, orch *request.Orchestrator, opts Options) (*Reader, error) {
	if e == nil {
		return nil, swrcache.ErrNilEngine
	}
	if orch == nil {
		orch = request.New(request.DefaultPolicy())
	}
	r := &Reader{
		e:          e,
		orch:       orch,
		log:        opts.Logger,
		staleAfter: opts.StaleAfter,
		factor:     opts.RetentionFactor,
		retention:  opts.Retention,
		states:     make(map[string]State),
		refreshing: make(map[string][]func(Update)),
		subs:       make(map[string]map[uint64]chan Update),
	}
	if r.log == nil {
		r.log = e.Logger()
	}
	if r.staleAfter <= 0 {
		r.staleAfter = DefaultStaleAfter
	}
	if r.factor <= 0 {
		r.factor = DefaultRetentionFactor
	}
	if r.retention <= 0 {
		r.retention = e.DefaultTTL()
	}
	r.bg, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// hardTTL is the engine TTL for a value with staleness window ttl.
func (r *Reader) hardTTL(ttl time.Duration) time.Duration {
	hard := ttl * time.Duration(r.factor)
	if hard < r.retention {
		hard = r.retention
	}
	return hard
}

// Read returns the cached value for key when there is one, starting a
// background refresh if it is stale (or ForceRefresh is set). Without a
// cached value it fetches synchronously; a failed fetch is returned as an
// error with State RefreshFailed.
func (r *Reader) Read(ctx context.Context, key string, fetch Fetcher, ro ReadOptions) (Result, error) {
	if fetch == nil {
		return Result{}, swrcache.ErrNilProducer
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return Result{}, ErrClosed
	}

	ttl := ro.TTL
	if ttl <= 0 {
		ttl = r.staleAfter
	}

	lookup := r.e.Lookup
	if ro.ForceRefresh {
		lookup = r.e.Peek
	}
	if ent, ok := lookup(ctx, key); ok {
		now := r.e.Clock().Now()
		state := FreshFromCache
		if !now.Before(ent.CreatedAt.Add(ttl)) {
			state = StaleAwaitingRefresh
		}
		res := Result{Value: ent.Value, Found: true, State: state, CachedAt: ent.CreatedAt}
		switch {
		case ro.ForceRefresh:
			res.State = Refreshing
			res.Refreshing = r.startRefresh(key, fetch, ttl, state, ro.OnUpdate)
		case state == StaleAwaitingRefresh:
			res.Refreshing = r.startRefresh(key, fetch, ttl, state, ro.OnUpdate)
		default:
			r.setState(key, FreshFromCache)
			res.Refreshing = r.isRefreshing(key)
		}
		return res, nil
	}

	return r.readThrough(ctx, key, fetch, ttl)
}

// readThrough is the blocking path for keys with nothing cached.
func (r *Reader) readThrough(ctx context.Context, key string, fetch Fetcher, ttl time.Duration) (Result, error) {
	r.setState(key, Refreshing)
	out, err := r.load(ctx, key, fetch, ttl)
	if err != nil {
		r.setState(key, RefreshFailed)
		r.publish(Update{Key: key, State: RefreshFailed, Err: err})
		return Result{State: RefreshFailed}, err
	}
	if !out.stored {
		r.setState(key, Absent)
		r.publish(Update{Key: key, Value: out.value, State: Absent, Discarded: true})
		return Result{Value: out.value, Found: true, State: Absent}, nil
	}
	r.setState(key, FreshFromCache)
	r.publish(Update{Key: key, Value: out.value, State: FreshFromCache})
	return Result{Value: out.value, Found: true, State: FreshFromCache, CachedAt: out.at}, nil
}

type outcome struct {
	value  []byte
	stored bool
	at     time.Time
}

// load runs one de-duplicated fetch (with retries) and writes the result
// under the generation observed before fetching. The shared fetch outlives
// the callers waiting on it but is cancelled when the Reader closes, and
// nothing is written after Close.
func (r *Reader) load(ctx context.Context, key string, fetch Fetcher, ttl time.Duration) (outcome, error) {
	out, _, err := request.Dedupe(ctx, r.orch.Group(), key, func(ctx context.Context) (outcome, error) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(r.bg, cancel)
		defer stop()

		gen := r.e.BeginFlight(key)
		defer r.e.EndFlight(key)

		v, err := request.WithRetry(ctx, r.orch.Policy(), fetch)
		if err != nil {
			return outcome{}, err
		}
		r.wmu.RLock()
		if r.bg.Err() != nil {
			r.wmu.RUnlock()
			return outcome{}, ErrClosed
		}
		stored, err := r.e.SetWithGen(ctx, key, v, gen, r.hardTTL(ttl))
		r.wmu.RUnlock()
		if err != nil {
			r.log.Warn("refresh result not cached", swrcache.Fields{"key": key, "err": err})
		}
		return outcome{value: v, stored: stored, at: r.e.Clock().Now()}, nil
	})
	return out, err
}

// startRefresh launches a background refresh unless one is already running
// for key, in which case onUpdate joins it. prior is the state restored if
// the refresh fails. Reports whether a refresh is running.
func (r *Reader) startRefresh(key string, fetch Fetcher, ttl time.Duration, prior State, onUpdate func(Update)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	waiting, busy := r.refreshing[key]
	if onUpdate != nil {
		waiting = append(waiting, onUpdate)
	}
	r.refreshing[key] = waiting
	if busy {
		r.mu.Unlock()
		return true
	}
	r.states[key] = Refreshing
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		out, err := r.load(r.bg, key, fetch, ttl)

		var u Update
		switch {
		case r.bg.Err() != nil:
			// shutting down
			r.settle(key, prior)
			return
		case err != nil:
			r.log.Warn("background refresh failed; serving cached value", swrcache.Fields{"key": key, "err": err})
			u = Update{Key: key, State: prior, Err: err}
		case !out.stored:
			u = Update{Key: key, Value: out.value, State: Absent, Discarded: true}
		default:
			u = Update{Key: key, Value: out.value, State: FreshFromCache}
		}
		waiting := r.settle(key, u.State)
		r.e.Hooks().Refresh(key, err)
		r.publish(u, waiting...)
	}()
	return true
}

// settle ends key's refresh and returns the callbacks waiting on it.
func (r *Reader) settle(key string, s State) []func(Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiting := r.refreshing[key]
	delete(r.refreshing, key)
	r.setStateLocked(key, s)
	return waiting
}

func (r *Reader) isRefreshing(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.refreshing[key]
	return ok
}

func (r *Reader) setState(key string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.refreshing[key]; busy && s != Refreshing {
		// a background refresh owns the state until it settles
		return
	}
	r.setStateLocked(key, s)
}

func (r *Reader) setStateLocked(key string, s State) {
	if s == Absent {
		delete(r.states, key)
		return
	}
	r.states[key] = s
}

// State reports key's current state.
func (r *Reader) State(key string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[key]
}

// Subscribe delivers every Update for key to the returned channel. Delivery
// never blocks: updates are dropped when the buffer is full. cancel closes
// the channel.
func (r *Reader) Subscribe(key string, buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	if r.subs[key] == nil {
		r.subs[key] = make(map[uint64]chan Update)
	}
	r.subs[key][id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if m, ok := r.subs[key]; ok {
				if c, ok := m[id]; ok {
					delete(m, id)
					close(c)
				}
				if len(m) == 0 {
					delete(r.subs, key)
				}
			}
		})
	}
}

func (r *Reader) publish(u Update, callbacks ...func(Update)) {
	for _, fn := range callbacks {
		fn(u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs[u.Key] {
		select {
		case ch <- u:
		default:
		}
	}
}

// Wait blocks until every background refresh started so far has settled.
func (r *Reader) Wait() { r.wg.Wait() }

// Close cancels background refreshes, waits for them and closes all
// subscriptions. Safe to call multiple times.
func (r *Reader) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	// wait out cache writes that passed the closed check
	r.wmu.Lock()
	r.wmu.Unlock()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, m := range r.subs {
		for _, ch := range m {
			close(ch)
		}
		delete(r.subs, key)
	}
}
