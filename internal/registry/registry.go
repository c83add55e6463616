package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/routrgw/gwreg/internal/gatewaystore"
	"github.com/routrgw/gwreg/internal/sipprovider"
)

// Registry is the top-level wiring for the registration subsystem: the
// cache, the dispatcher, and the control loop that drives them, plus the
// operator-visible per-gateway status supplement described alongside the
// bare cache.
type Registry struct {
	cache      *Cache
	resolver   *Resolver
	dispatcher *Dispatcher
	provider   sipprovider.Provider
	store      gatewaystore.Store
	cseq       cseqCounter

	userAgent           string
	checkExpiresMinutes time.Duration

	mu            sync.Mutex
	statuses      map[string]*Status // keyed by gateway URI
	configuredCnt int
	natHints      map[string]natHint // keyed by gateway URI, learned from prior responses

	stopCh chan struct{}
	doneCh chan struct{}

	log *slog.Logger
}

// Config groups the construction-time dependencies and options for a
// Registry, replacing the ad-hoc global lookups the source relied on with
// explicit injection.
type Config struct {
	Provider            sipprovider.Provider
	Store               gatewaystore.Store
	UserAgent           string
	ExternAddr          string
	CheckExpiresMinutes time.Duration
	// DispatchRate bounds outbound REGISTERs/sec across a tick's
	// multi-registrar fan-out. Zero disables rate limiting.
	DispatchRate  rate.Limit
	DispatchBurst int
	Log           *slog.Logger
}

// New constructs a Registry. It does not start the control loop; call
// Start for that.
func New(cfg Config) *Registry {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "registry")

	cache := NewCache(cfg.CheckExpiresMinutes)
	resolver := NewResolver(cfg.Provider, cfg.ExternAddr)

	var limiter *rate.Limiter
	if cfg.DispatchRate > 0 {
		burst := cfg.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.DispatchRate, burst)
	}
	dispatcher := NewDispatcher(cfg.Provider, cache, limiter, log)

	return &Registry{
		cache:               cache,
		resolver:            resolver,
		dispatcher:          dispatcher,
		provider:            cfg.Provider,
		store:               cfg.Store,
		userAgent:           cfg.UserAgent,
		checkExpiresMinutes: cfg.CheckExpiresMinutes,
		statuses:            make(map[string]*Status),
		stopCh:              make(chan struct{}),
		doneCh:              make(chan struct{}),
		log:                 log,
	}
}

// Snapshot implements the introspection contract (§6): the current list of
// registration records for operator visibility / API exposure.
func (r *Registry) Snapshot() []Record {
	return r.cache.Snapshot()
}

// CacheSize reports the number of live cache entries, for metrics.
func (r *Registry) CacheSize() int {
	return r.cache.Size()
}

// ConfiguredGatewayCount reports how many gateways the data store returned
// on the most recent successful tick, for metrics.
func (r *Registry) ConfiguredGatewayCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configuredCnt
}

// AllStatuses returns the operator-visible per-gateway status list,
// supplementing the bare cache snapshot with *why* a URI is or isn't
// present, per the state machine in §4.6.
func (r *Registry) AllStatuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.statuses))
	for _, s := range r.statuses {
		st := *s
		st.Record = r.cache.GetIfPresent(st.URI)
		out = append(out, st)
	}
	return out
}

// GetStatus returns the status for a single gateway URI.
func (r *Registry) GetStatus(uri string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[uri]
	if !ok {
		return Status{}, false
	}
	st := *s
	st.Record = r.cache.GetIfPresent(uri)
	return st, true
}

func (r *Registry) setStatus(uri, gatewayRef string, state State, lastErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[uri]
	if !ok {
		s = &Status{URI: uri, GatewayRef: gatewayRef}
		r.statuses[uri] = s
	}
	s.State = state
	switch {
	case lastErr != nil:
		s.LastError = lastErr.Error()
		s.RetryAttempt++
	case state == StatePending:
		// A new attempt keeps the running consecutive-failure count.
	default:
		s.RetryAttempt = 0
		s.LastError = ""
	}
}
