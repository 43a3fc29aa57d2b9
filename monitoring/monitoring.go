package monitoring

import (
	"errors"
	"net/http"
	"sync"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

var started sync.Once

// GetPromInterceptors returns the set of interceptors for Prometheus
// monitoring.
func GetPromInterceptors() ([]grpc.UnaryServerInterceptor,
	[]grpc.StreamServerInterceptor) {

	unaryInterceptors := []grpc.UnaryServerInterceptor{
		grpc_prometheus.UnaryServerInterceptor,
	}
	streamInterceptors := []grpc.StreamServerInterceptor{
		grpc_prometheus.StreamServerInterceptor,
	}

	return unaryInterceptors, streamInterceptors
}

// ExportPrometheusMetrics registers gRPC metrics for the server and launches
// the Prometheus exporter on the configured address. Only the first call has
// any effect.
func ExportPrometheusMetrics(grpcServer *grpc.Server, cfg Config) error {
	if !cfg.Enabled() {
		return errors.New("prometheus exporter is not enabled")
	}

	started.Do(func() {
		log.Infof("Prometheus exporter started on %v/metrics",
			cfg.Listen)

		grpc_prometheus.Register(grpcServer)

		// Enable the histograms which can allow plotting latency
		// distributions of inbound calls. However we guard this behind
		// another flag as this can generate a lot of additional data,
		// as its a high cardinality metric typically.
		if cfg.PerfHistograms {
			grpc_prometheus.EnableHandlingTimeHistogram()
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			err := http.ListenAndServe(cfg.Listen, mux)
			if err != nil {
				log.Errorf("Prometheus exporter stopped: %v",
					err)
			}
		}()
	})

	return nil
}
