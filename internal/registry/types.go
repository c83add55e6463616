// Package registry implements the upstream gateway registration subsystem:
// the registration cache, the GIN REGISTER request builder, the dispatcher
// that hands requests to the SIP provider, the response handler that
// updates the cache from REGISTER responses, and the periodic control loop
// that drives the whole thing.
package registry

import "fmt"

// State is a gateway URI's position in the per-gateway status machine.
type State string

const (
	StateUnknown    State = "UNKNOWN"
	StatePending    State = "PENDING"
	StateRegistered State = "REGISTERED"
	StateExpired    State = "EXPIRED"
	StateFailed     State = "FAILED"
)

// Record is a registration cache value: what we believe is currently
// registered for a given gateway URI.
type Record struct {
	Username       string
	Host           string
	IP             string
	Expires        int   // effective lifetime in seconds, per the §4.2 formula
	RegisteredOn   int64 // monotonic millisecond timestamp at insertion
	RegOnFormatted string
}

// Status is the operator-visible per-gateway state, supplementing the bare
// cache with visibility into *why* a gateway is absent from a snapshot.
type Status struct {
	GatewayRef   string
	URI          string
	State        State
	RetryAttempt int
	LastError    string
	Record       *Record
}

// gatewayURI returns the canonical cache key for a (username, host) pair:
// sip:<username>@<host>.
func gatewayURI(username, host string) string {
	return fmt.Sprintf("sip:%s@%s", username, host)
}
