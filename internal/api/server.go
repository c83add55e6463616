// Package api exposes the read-only operator HTTP surface: the
// registration cache snapshot, single-URI lookup, health, and Prometheus
// metrics. Creating, updating, or deleting gateways is out of scope.
package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routrgw/gwreg/internal/api/middleware"
	"github.com/routrgw/gwreg/internal/registry"
)

// RegistrySnapshotter is the narrow view of *registry.Registry the
// operator API consumes.
type RegistrySnapshotter interface {
	Snapshot() []registry.Record
	AllStatuses() []registry.Status
	GetStatus(uri string) (registry.Status, bool)
}

// registrationView is the wire shape for a single tracked gateway URI,
// joining its operator-visible status with its cache record when present.
type registrationView struct {
	GatewayRef   string           `json:"gateway_ref"`
	URI          string           `json:"uri"`
	State        registry.State   `json:"state"`
	RetryAttempt int              `json:"retry_attempt,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	Record       *registry.Record `json:"record,omitempty"`
}

// NewServer builds the operator API router. adminTokenSecret is the HS256
// key guarding every route except /healthz and /metrics.
func NewServer(reg RegistrySnapshotter, adminTokenSecret []byte, startTime time.Time) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(startTime).String(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminAuth(adminTokenSecret))

		r.Get("/v1/registrations", func(w http.ResponseWriter, req *http.Request) {
			statuses := reg.AllStatuses()
			out := make([]registrationView, 0, len(statuses))
			for _, s := range statuses {
				out = append(out, toView(s))
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/v1/registrations/{uri}", func(w http.ResponseWriter, req *http.Request) {
			raw := chi.URLParam(req, "uri")
			uri, err := url.PathUnescape(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "malformed uri path segment")
				return
			}
			status, ok := reg.GetStatus(uri)
			if !ok {
				writeError(w, http.StatusNotFound, "no tracked registration for "+uri)
				return
			}
			writeJSON(w, http.StatusOK, toView(status))
		})
	})

	return r
}

func toView(s registry.Status) registrationView {
	return registrationView{
		GatewayRef:   s.GatewayRef,
		URI:          s.URI,
		State:        s.State,
		RetryAttempt: s.RetryAttempt,
		LastError:    s.LastError,
		Record:       s.Record,
	}
}
