// Package server exposes watch-mode health over gRPC and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
)

// ServiceName is the health-checked service besides the overall "" entry.
const ServiceName = "invoice_ledger.Pipeline"

// Server runs the gRPC health service and the metrics endpoint. An empty
// address disables the corresponding listener.
type Server struct {
	cfg      common.ServerConfig
	logger   *slog.Logger
	gatherer prometheus.Gatherer

	grpc   *grpc.Server
	health *health.Server
	http   *http.Server

	mu       sync.Mutex
	grpcAddr net.Addr
	httpAddr net.Addr
	wg       sync.WaitGroup
}

func New(cfg common.ServerConfig, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, logger: logger, gatherer: gatherer}

	s.grpc = grpc.NewServer()
	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.SetServing(false)
	return s
}

// SetServing flips the health status of both entries.
func (s *Server) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Start opens the listeners and serves in the background.
func (s *Server) Start() error {
	if addr := normalizeAddr(s.cfg.GRPCAddr); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("%w: grpc listen %s: %w", common.ErrConfig, addr, err)
		}
		s.mu.Lock()
		s.grpcAddr = lis.Addr()
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.logger.Error("server.grpc.error", "error", err)
			}
		}()
		s.logger.Info("server.grpc.listening", "addr", lis.Addr().String())
	}

	if addr := normalizeAddr(s.cfg.MetricsAddr); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			s.grpc.Stop()
			return fmt.Errorf("%w: metrics listen %s: %w", common.ErrConfig, addr, err)
		}
		s.mu.Lock()
		s.httpAddr = lis.Addr()
		s.http = &http.Server{Handler: MetricsHandler(s.gatherer), ReadHeaderTimeout: 5 * time.Second}
		srv := s.http
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("server.metrics.error", "error", err)
			}
		}()
		s.logger.Info("server.metrics.listening", "addr", lis.Addr().String())
	}

	s.SetServing(true)
	return nil
}

// GRPCAddr is the bound gRPC address, nil before Start.
func (s *Server) GRPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// MetricsAddr is the bound metrics address, nil before Start.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// Shutdown marks the service not serving and stops both listeners.
func (s *Server) Shutdown(ctx context.Context) {
	s.SetServing(false)
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("server.metrics.shutdown", "error", err)
		}
	}
	s.wg.Wait()
	s.logger.Info("server.stopped")
}

// MetricsHandler serves /metrics from g and a plain /healthz.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// normalizeAddr turns a bare port into ":port".
func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}
