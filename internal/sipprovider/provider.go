// Package sipprovider is the concrete SIP transport collaborator the
// registration subsystem dispatches REGISTER requests through. It wraps
// sipgo's UserAgent/Client so the rest of the subsystem only depends on
// the narrow Provider interface, not on sipgo directly.
package sipprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/routrgw/gwreg/internal/config"
)

// ErrTransportUnavailable is returned by ListeningPoint when this process
// does not bind the requested transport.
var ErrTransportUnavailable = errors.New("transport unavailable")

// ListeningPoint is a bound (transport, host, port) triple.
type ListeningPoint struct {
	Transport string
	Host      string
	Port      int
}

// ClientTransaction is the narrow view of a sipgo client transaction the
// Dispatcher and response handling code need: the response stream and
// completion signal.
type ClientTransaction interface {
	Responses() <-chan *sip.Response
	Done() <-chan struct{}
	Terminate()
}

// Provider is the SIP stack collaborator consumed by the registration
// subsystem. It mints Call-IDs, resolves listening points, and hands
// requests to the transport as new client transactions.
type Provider interface {
	// ListeningPoint resolves the bound (host, port) for transport, or
	// an error if this process does not listen on it.
	ListeningPoint(transport string) (ListeningPoint, error)
	// NewCallID mints a fresh Call-ID value.
	NewCallID() string
	// NewBranch mints a fresh Via branch value (RFC 3261 magic cookie prefix).
	NewBranch() string
	// SendRegister allocates a new client transaction and emits req on it.
	SendRegister(ctx context.Context, req *sip.Request) (ClientTransaction, error)
}

// SipgoProvider is the sipgo-backed implementation of Provider.
type SipgoProvider struct {
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	points map[string]ListeningPoint
}

// New constructs a SipgoProvider bound to every transport in cfg.Transports.
// cfg.UserAgent is used as the sipgo UserAgent's name.
func New(ctx context.Context, cfg *config.Config, onResponse sipgo.RequestHandler) (*SipgoProvider, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}

	client, err := sipgo.NewClient(ua, sipgo.WithClientNAT())
	if err != nil {
		return nil, fmt.Errorf("creating sip client: %w", err)
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("creating sip server: %w", err)
	}
	// Register responses arrive asynchronously on the server's request
	// multiplexer only for requests we did not originate (e.g. unsolicited
	// NOTIFY); REGISTER responses are consumed directly off the client
	// transaction by the registry's response handling. onResponse is wired for completeness
	// with the wider SIP stack contract (§6) but is not required by the
	// registration path itself.
	if onResponse != nil {
		server.OnRequest(onResponse)
	}

	points := make(map[string]ListeningPoint, len(cfg.Transports))
	for _, tr := range cfg.Transports {
		host := tr.Host
		if cfg.ExternAddr != "" {
			host = cfg.ExternAddr
		}
		points[strings.ToUpper(tr.Name)] = ListeningPoint{
			Transport: strings.ToUpper(tr.Name),
			Host:      host,
			Port:      tr.Port,
		}
	}

	p := &SipgoProvider{ua: ua, client: client, server: server, points: points}
	return p, nil
}

// ListenAndServe binds every configured transport and blocks serving
// incoming SIP traffic until ctx is cancelled.
func (p *SipgoProvider) ListenAndServe(ctx context.Context, cfg *config.Config) error {
	for _, tr := range cfg.Transports {
		network := strings.ToLower(tr.Name)
		addr := fmt.Sprintf("%s:%d", tr.Host, tr.Port)
		go func(network, addr string) {
			if err := p.server.ListenAndServe(ctx, network, addr); err != nil {
				// The control loop continues to operate against whatever
				// transports did bind.
				slog.Error("sip listener stopped", "network", network, "addr", addr, "error", err)
			}
		}(network, addr)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close releases the underlying client and user agent.
func (p *SipgoProvider) Close() error {
	p.client.Close()
	return p.ua.Close()
}

// ListeningPoint implements Provider.
func (p *SipgoProvider) ListeningPoint(transport string) (ListeningPoint, error) {
	lp, ok := p.points[strings.ToUpper(transport)]
	if !ok {
		return ListeningPoint{}, fmt.Errorf("%w: no listening point for transport %q", ErrTransportUnavailable, transport)
	}
	return lp, nil
}

// NewCallID implements Provider.
func (p *SipgoProvider) NewCallID() string {
	return uuid.NewString()
}

// NewBranch implements Provider.
func (p *SipgoProvider) NewBranch() string {
	return sip.RFC3261BranchMagicCookie + uuid.NewString()
}

// SendRegister implements Provider.
func (p *SipgoProvider) SendRegister(ctx context.Context, req *sip.Request) (ClientTransaction, error) {
	tx, err := p.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
