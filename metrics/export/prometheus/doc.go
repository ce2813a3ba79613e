// Package prometheus exports the service counters through
// github.com/prometheus/client_golang.
//
//	reg := prometheus.NewRegistry(svc)
//	mux.Handle("GET /metrics", prometheus.Handler(reg))
package prometheus
