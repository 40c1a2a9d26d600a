package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/observability"
	"github.com/recrutai/engage-server-go/internal/protocol"
)

// liveSession is the process-local handle of a session's protocol connection.
type liveSession struct {
	id       string
	tenantID string
	limiter  *rate.Limiter

	mu      sync.Mutex
	client  protocol.Client
	state   model.SessionState
	qr      string
	waiters []chan struct{}
}

func (ls *liveSession) snapshot() (protocol.Client, model.SessionState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.client, ls.state
}

// notifyConnected wakes everyone waiting for the session to connect.
// Callers hold ls.mu.
func (ls *liveSession) notifyConnected() {
	for _, w := range ls.waiters {
		close(w)
	}
	ls.waiters = nil
}

// Registry tracks live sessions of this process and keeps their ownership
// leases alive. Start begins lease renewal; Close stops it and returns the
// sessions that were still registered.
type Registry struct {
	lease Lease
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*liveSession

	onLost func(*liveSession)

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

func NewRegistry(lease Lease, ttl time.Duration) *Registry {
	return &Registry{
		lease:   lease,
		ttl:     ttl,
		entries: make(map[string]*liveSession),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnLost sets the callback run when a lease renewal reports lost ownership.
func (r *Registry) OnLost(fn func(*liveSession)) {
	r.onLost = fn
}

func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.renewLoop()
	log.Info().Dur("leaseTtl", r.ttl).Msg("session registry started")
}

func (r *Registry) renewLoop() {
	defer close(r.done)

	interval := r.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.renewAll()
		}
	}
}

func (r *Registry) renewAll() {
	for _, ls := range r.List() {
		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3+time.Second)
		ok, err := r.lease.Renew(ctx, ls.id)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("sessionId", ls.id).Msg("lease renewal failed")
			continue
		}
		if !ok {
			log.Warn().Str("sessionId", ls.id).Msg("session lease lost to another instance")
			if r.Remove(ls) && r.onLost != nil {
				r.onLost(ls)
			}
		}
	}
}

// Claim acquires the ownership lease for id.
func (r *Registry) Claim(ctx context.Context, id string) (bool, error) {
	return r.lease.Acquire(ctx, id)
}

func (r *Registry) Release(ctx context.Context, id string) {
	if err := r.lease.Release(ctx, id); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("failed to release session lease")
	}
}

// Put registers ls unless a handle for the same id exists. It reports
// whether ls was stored.
func (r *Registry) Put(ls *liveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[ls.id]; ok {
		return false
	}
	r.entries[ls.id] = ls
	observability.LiveSessions.Set(float64(len(r.entries)))
	return true
}

func (r *Registry) Get(id string) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// Remove drops ls if it is still the registered handle for its id.
func (r *Registry) Remove(ls *liveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[ls.id] != ls {
		return false
	}
	delete(r.entries, ls.id)
	observability.LiveSessions.Set(float64(len(r.entries)))
	return true
}

func (r *Registry) List() []*liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*liveSession, 0, len(r.entries))
	for _, ls := range r.entries {
		list = append(list, ls)
	}
	return list
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops renewal and empties the registry.
func (r *Registry) Close() []*liveSession {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	started := r.started
	list := make([]*liveSession, 0, len(r.entries))
	for _, ls := range r.entries {
		list = append(list, ls)
	}
	r.entries = make(map[string]*liveSession)
	r.mu.Unlock()

	if started {
		<-r.done
	}
	observability.LiveSessions.Set(0)
	return list
}
