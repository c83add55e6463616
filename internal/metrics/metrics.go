// Package metrics exposes Prometheus gauges describing the state of the
// gateway registration subsystem at scrape time.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RegistrationStatusEntry describes one tracked gateway URI for metrics purposes.
type RegistrationStatusEntry struct {
	GatewayRef string
	URI        string
	State      string // UNKNOWN, PENDING, REGISTERED, EXPIRED, FAILED
}

// RegistryProvider exposes the registry's current state for metrics collection.
// Satisfied in cmd/gwregd by an adapter over *registry.Registry.
type RegistryProvider interface {
	AllStatuses() []RegistrationStatusEntry
	CacheSize() int
	ConfiguredGatewayCount() int
}

// Collector is a prometheus.Collector that gathers gateway registration
// metrics at scrape time.
type Collector struct {
	registry  RegistryProvider
	startTime time.Time

	statusDesc     *prometheus.Desc
	registeredDesc *prometheus.Desc
	expiredDesc    *prometheus.Desc
	configuredDesc *prometheus.Desc
	cacheSizeDesc  *prometheus.Desc
	uptimeDesc     *prometheus.Desc
}

// NewCollector creates a new metrics collector. registry may be nil if
// unavailable, in which case registry-derived metrics are omitted.
func NewCollector(registry RegistryProvider, startTime time.Time) *Collector {
	return &Collector{
		registry:  registry,
		startTime: startTime,

		statusDesc: prometheus.NewDesc(
			"gwreg_gateway_status",
			"Per-gateway-URI registration state, labelled with the current state (1=REGISTERED, 0=any other state)",
			[]string{"gateway_ref", "uri", "state"}, nil,
		),
		registeredDesc: prometheus.NewDesc(
			"gwreg_registered_gateways",
			"Number of gateway URIs currently in the REGISTERED state",
			nil, nil,
		),
		expiredDesc: prometheus.NewDesc(
			"gwreg_expired_gateways",
			"Number of gateway URIs currently in the EXPIRED or FAILED state",
			nil, nil,
		),
		configuredDesc: prometheus.NewDesc(
			"gwreg_configured_gateways",
			"Total number of gateways returned by the data store on the last tick",
			nil, nil,
		),
		cacheSizeDesc: prometheus.NewDesc(
			"gwreg_cache_entries",
			"Number of live entries in the registration cache",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"gwreg_uptime_seconds",
			"Seconds since the gwregd process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.statusDesc
	ch <- c.registeredDesc
	ch <- c.expiredDesc
	ch <- c.configuredDesc
	ch <- c.cacheSizeDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the registry at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.registry != nil {
		statuses := c.registry.AllStatuses()

		var registered, expired float64
		for _, s := range statuses {
			val := 0.0
			if s.State == "REGISTERED" {
				val = 1.0
				registered++
			}
			if s.State == "EXPIRED" || s.State == "FAILED" {
				expired++
			}
			ch <- prometheus.MustNewConstMetric(
				c.statusDesc, prometheus.GaugeValue, val,
				s.GatewayRef, s.URI, s.State,
			)
		}

		ch <- prometheus.MustNewConstMetric(c.registeredDesc, prometheus.GaugeValue, registered)
		ch <- prometheus.MustNewConstMetric(c.expiredDesc, prometheus.GaugeValue, expired)
		ch <- prometheus.MustNewConstMetric(c.configuredDesc, prometheus.GaugeValue, float64(c.registry.ConfiguredGatewayCount()))
		ch <- prometheus.MustNewConstMetric(c.cacheSizeDesc, prometheus.GaugeValue, float64(c.registry.CacheSize()))
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
