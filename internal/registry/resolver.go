package registry

import (
	"errors"
	"fmt"

	"github.com/routrgw/gwreg/internal/sipprovider"
)

// ErrTransportUnavailable is returned by Resolve when no listening point
// exists for the requested transport.
var ErrTransportUnavailable = errors.New("transport unavailable")

// ResolvedAddress is the (host, port) pair a REGISTER's Via/Contact should
// advertise.
type ResolvedAddress struct {
	Host string
	Port int
}

// Resolver resolves the local listening point for a transport into a
// (host, port) pair, honoring NAT-discovered received/rport overrides and
// the configured external-address override.
type Resolver struct {
	provider   sipprovider.Provider
	externAddr string
}

// NewResolver creates a Resolver backed by provider. externAddr overrides
// the listening point's bound host when non-empty (NAT traversal for a
// server sitting behind a private IP).
func NewResolver(provider sipprovider.Provider, externAddr string) *Resolver {
	return &Resolver{provider: provider, externAddr: externAddr}
}

// Resolve implements the Address Resolver contract: resolve(transport,
// received?, rport?) -> (host, port) | error.
//
//   - host: received if provided, else the externAddr override if
//     configured, else the listening point's bound IP.
//   - port: rport if provided, else the listening point's bound port.
func (r *Resolver) Resolve(transport, received string, rport int) (ResolvedAddress, error) {
	lp, err := r.provider.ListeningPoint(transport)
	if err != nil {
		return ResolvedAddress{}, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	host := lp.Host
	if received != "" {
		host = received
	} else if r.externAddr != "" {
		host = r.externAddr
	}

	port := lp.Port
	if rport != 0 {
		port = rport
	}

	return ResolvedAddress{Host: host, Port: port}, nil
}
