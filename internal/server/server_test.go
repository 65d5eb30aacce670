package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
)

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "invoice_ledger_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	srv := httptest.NewServer(MetricsHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "invoice_ledger_test_total 3")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_HealthLifecycle(t *testing.T) {
	s := New(common.ServerConfig{GRPCAddr: "127.0.0.1:0", MetricsAddr: "127.0.0.1:0"}, prometheus.NewRegistry(), nil)
	require.NoError(t, s.Start())
	require.NotNil(t, s.GRPCAddr())
	require.NotNil(t, s.MetricsAddr())

	conn, err := grpc.NewClient(s.GRPCAddr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	client := grpc_health_v1.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	s.SetServing(false)
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	httpResp, err := http.Get("http://" + s.MetricsAddr().String() + "/healthz")
	require.NoError(t, err)
	_ = httpResp.Body.Close()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)

	s.Shutdown(ctx)
	_, err = http.Get("http://" + s.MetricsAddr().String() + "/healthz")
	assert.Error(t, err)
}

func TestServer_DisabledListeners(t *testing.T) {
	s := New(common.ServerConfig{}, nil, nil)
	require.NoError(t, s.Start())
	assert.Nil(t, s.GRPCAddr())
	assert.Nil(t, s.MetricsAddr())
	s.Shutdown(context.Background())
}

func TestNormalizeAddr(t *testing.T) {
	assert.Equal(t, ":9090", normalizeAddr("9090"))
	assert.Equal(t, "127.0.0.1:9090", normalizeAddr("127.0.0.1:9090"))
	assert.Equal(t, "", normalizeAddr("  "))
}
