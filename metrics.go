// This file defines the driver's Prometheus metrics and their endpoint.

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanl/halo-exchange/comm"
)

// cycleSeconds records the wall time of exchange cycles.
var cycleSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "halo",
		Subsystem: "exchange",
		Name:      "cycle_seconds",
		Help:      "Wall time of one halo-exchange cycle",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
	},
	[]string{"backend", "policy"},
)

// newRegistry returns a registry holding the runtime, message and driver
// collectors.
func newRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), cycleSeconds)
	if err := comm.RegisterMetrics(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// serveMetrics starts an HTTP server exposing reg at /metrics.
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			notify.Error(err)
		}
	}()
	return srv
}
