package registry

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/routrgw/gwreg/internal/gatewaystore"
)

const initialTickDelay = 10 * time.Second

// natHint remembers the received/rport a prior exchange observed for a
// gateway URI, so subsequent REGISTERs can advertise the NAT-rewritten
// Contact without needing a fresh discovery round (§8 scenario S2).
type natHint struct {
	received string
	rport    int
}

// Start implements the Control Loop contract (§4.6): start() schedules a
// periodic task with an initial delay of 10 seconds and a period of
// checkExpiresMinutes. It returns immediately; the loop runs in the
// background until Stop is called or ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.doneCh)

	timer := time.NewTimer(initialTickDelay)
	defer timer.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-timer.C:
			r.tick(ctx, &wg)
			timer.Reset(r.checkExpiresMinutes)
		}
	}
}

// Stop cancels future ticks and waits, up to a bounded grace period, for
// in-flight dispatches to finish so their responses can still update the
// cache. This resolves the source's no-op stop() deliberately rather than
// preserving it.
func (r *Registry) Stop() {
	close(r.stopCh)
	select {
	case <-r.doneCh:
	case <-time.After(5 * time.Second):
		r.log.Warn("stop: in-flight registrations did not finish within grace period")
	}
}

// tick implements the per-tick algorithm (§4.6 step 2). Every failure is
// contained to its own gateway; nothing here aborts the tick or the loop.
func (r *Registry) tick(ctx context.Context, wg *sync.WaitGroup) {
	res, err := r.store.GetGateways(ctx)
	if err != nil || res.Status != gatewaystore.StatusOK {
		r.log.Error("data store unavailable, skipping tick", "error", err, "status", res.Status)
		return
	}

	r.mu.Lock()
	r.configuredCnt = len(res.Result)
	r.mu.Unlock()

	now := nowMillis()

	for _, gw := range res.Result {
		if !gw.HasCredentials() {
			continue
		}
		gw := gw
		expires := gw.EffectiveExpires()
		primaryURI := gatewayURI(gw.Username, gw.Host)

		if r.cache.IsExpired(primaryURI, now) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.registerOnce(ctx, gw, gw.Host, primaryURI, expires)
			}()
		}

		// Each additional registry is tracked under its own URI and
		// checked against its own expiry, not the primary's. The source
		// checked all additional registrars against the primary URI,
		// which made them re-fire in lockstep regardless of their own
		// state; fixed here per the documented decision on this open
		// question rather than preserved.
		for _, h := range gw.Registries {
			h := h
			uri := gatewayURI(gw.Username, h)
			if r.cache.IsExpired(uri, now) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r.registerOnce(ctx, gw, h, uri, expires)
				}()
			}
		}
	}
}

// registerOnce builds, dispatches, and handles the response for a single
// REGISTER to host under gw's credentials, updating the cache and the
// operator-visible status for uri.
func (r *Registry) registerOnce(ctx context.Context, gw gatewaystore.Gateway, host, uri string, expires int) {
	r.setStatus(uri, gw.Ref, StatePending, nil)

	addr, err := r.resolver.Resolve(gw.Transport, r.natReceived(uri), r.natRport(uri))
	if err != nil {
		r.log.Error("no listening point for transport, skipping gateway this tick", "uri", uri, "transport", gw.Transport, "error", err)
		r.setStatus(uri, gw.Ref, StateFailed, err)
		return
	}

	req := buildRegister(buildOptions{
		Username:    gw.Username,
		GatewayRef:  gw.Ref,
		GatewayHost: host,
		Transport:   gw.Transport,
		ContactHost: addr.Host,
		ContactPort: addr.Port,
		Branch:      r.provider.NewBranch(),
		CallID:      r.provider.NewCallID(),
		CSeq:        r.cseq.next(),
		Expires:     expires,
		UserAgent:   r.userAgent,
	})

	tx := r.dispatcher.Send(ctx, uri, req, host)
	if tx == nil {
		r.setStatus(uri, gw.Ref, StateFailed, ErrDispatchFailed)
		return
	}
	defer tx.Terminate()

	res, err := awaitResponse(ctx, tx)
	if err != nil {
		r.cache.Invalidate(uri)
		r.setStatus(uri, gw.Ref, StateFailed, err)
		return
	}

	r.recordNATHint(uri, res)

	if isAuthChallenge(res.StatusCode) {
		res, err = r.retryWithAuth(ctx, req, res, gw, uri, host)
		if err != nil {
			r.cache.Invalidate(uri)
			r.setStatus(uri, gw.Ref, StateFailed, err)
			return
		}
	}

	r.handleRegisterResponse(res, gw, uri, host, expires)
}

// retryWithAuth re-issues req with digest credentials computed from the
// 401/407 challenge in res, per §4.5.
func (r *Registry) retryWithAuth(ctx context.Context, req *sip.Request, res *sip.Response, gw gatewaystore.Gateway, uri, host string) (*sip.Response, error) {
	authHeader, err := challengeResponse(res, string(sip.REGISTER), req.Recipient.String(), gw.Username, gw.Password)
	if err != nil {
		return nil, err
	}

	retry := req.Clone()
	retry.RemoveHeader("CSeq")
	cseq := sip.CSeqHeader{SeqNo: uint32(r.cseq.next()), MethodName: sip.REGISTER}
	retry.AppendHeader(&cseq)
	retry.RemoveHeader("Via")
	via := sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       gw.Transport,
		Host:            req.Via().Host,
		Port:            req.Via().Port,
		Params:          sip.NewParams(),
	}
	via.Params.Add("branch", r.provider.NewBranch())
	via.Params.Add("rport", "")
	retry.AppendHeader(&via)
	name, value, _ := strings.Cut(authHeader, ": ")
	retry.AppendHeader(sip.NewHeader(name, value))

	tx := r.dispatcher.Send(ctx, uri, retry, host)
	if tx == nil {
		return nil, ErrDispatchFailed
	}
	defer tx.Terminate()

	return awaitResponse(ctx, tx)
}

// handleRegisterResponse is the registry's explicit response-path
// operation (§9 re-architecture item "response-path coupling"): on 200 OK
// it populates the cache; on any other final response it invalidates the
// entry and relies on the next tick to retry.
func (r *Registry) handleRegisterResponse(res *sip.Response, gw gatewaystore.Gateway, uri, host string, requestedExpires int) {
	if res.StatusCode != sip.StatusOK {
		r.cache.Invalidate(uri)
		r.setStatus(uri, gw.Ref, StateExpired, errStatus(res))
		return
	}

	serverExpires := parseExpiresHeader(res, requestedExpires)
	effective := EffectiveExpires(serverExpires, r.checkExpiresMinutes)

	rec := Record{
		Username:       gw.Username,
		Host:           host,
		IP:             contactIP(res),
		Expires:        effective,
		RegisteredOn:   nowMillis(),
		RegOnFormatted: "just now",
	}
	r.cache.Put(uri, rec)
	r.setStatus(uri, gw.Ref, StateRegistered, nil)
}

func errStatus(res *sip.Response) error {
	return &registerRejected{status: res.StatusCode, reason: res.Reason}
}

type registerRejected struct {
	status int
	reason string
}

func (e *registerRejected) Error() string {
	return strconv.Itoa(e.status) + " " + e.reason
}

// contactIP extracts the resolved IP the response's top Via carries.
// Falls back to empty when absent; it is diagnostic-only (§3).
func contactIP(res *sip.Response) string {
	if via := res.Via(); via != nil {
		if received, _ := via.Params.Get("received"); received != "" {
			return received
		}
		return via.Host
	}
	return ""
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (r *Registry) natReceived(uri string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.natHints[uri]; ok {
		return h.received
	}
	return ""
}

func (r *Registry) natRport(uri string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.natHints[uri]; ok {
		return h.rport
	}
	return 0
}

func (r *Registry) recordNATHint(uri string, res *sip.Response) {
	via := res.Via()
	if via == nil {
		return
	}
	received, _ := via.Params.Get("received")
	rportStr, _ := via.Params.Get("rport")
	if received == "" && rportStr == "" {
		return
	}
	rport, _ := strconv.Atoi(rportStr)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.natHints == nil {
		r.natHints = make(map[string]natHint)
	}
	r.natHints[uri] = natHint{received: received, rport: rport}
}
