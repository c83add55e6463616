package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/emiago/sipgo/sip"
	"golang.org/x/time/rate"

	"github.com/routrgw/gwreg/internal/sipprovider"
)

// ErrDispatchFailed is recorded on the operator-visible status when Send
// returns a nil transaction, so FAILED carries a cause even though the
// underlying error was already logged and swallowed inside Send itself.
var ErrDispatchFailed = errors.New("register dispatch failed")

// Dispatcher hands a constructed REGISTER request to the SIP provider as a
// new client transaction, containing every failure to the calling gateway
// rather than letting it escape the tick.
type Dispatcher struct {
	provider sipprovider.Provider
	cache    *Cache
	limiter  *rate.Limiter
	log      *slog.Logger
}

// NewDispatcher creates a Dispatcher backed by provider and cache. limiter
// may be nil to disable rate limiting; otherwise it bounds the burst of
// simultaneous outbound REGISTERs a single tick's multi-registrar fan-out
// (S3) can produce, so a gateway with many registries entries cannot
// saturate the transport layer.
func NewDispatcher(provider sipprovider.Provider, cache *Cache, limiter *rate.Limiter, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{provider: provider, cache: cache, limiter: limiter, log: log.With("component", "dispatcher")}
}

// Send implements the Dispatcher contract (§4.4): allocate a new client
// transaction for req and emit it. uri is the cache key to invalidate on
// failure; gwHost is named in log output. On failure the error is
// swallowed after logging — the next tick retries.
func (d *Dispatcher) Send(ctx context.Context, uri string, req *sip.Request, gwHost string) sipprovider.ClientTransaction {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.invalidateOnFailure(uri, gwHost, err)
			return nil
		}
	}

	d.log.Debug("dispatching register", "uri", uri, "host", gwHost, "request", req.StartLine())

	tx, err := d.provider.SendRegister(ctx, req)
	if err != nil {
		d.invalidateOnFailure(uri, gwHost, err)
		return nil
	}
	return tx
}

func (d *Dispatcher) invalidateOnFailure(uri, gwHost string, err error) {
	d.cache.Invalidate(uri)

	if errors.Is(err, sipprovider.ErrTransportUnavailable) || errors.Is(err, ErrTransportUnavailable) {
		d.log.Warn("gateway unreachable, check network/firewall", "uri", uri, "host", gwHost, "error", err)
		return
	}
	d.log.Warn("register dispatch failed", "uri", uri, "host", gwHost, "error", err)
}
