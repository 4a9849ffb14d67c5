package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vdental/chairbook/libs/httpx"
)

func startServer(t *testing.T) (*Server, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = srv.Server.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet", DialOptions{},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, conn
}

func TestHealthReadyCheck(t *testing.T) {
	srv, conn := startServer(t)
	check := HealthReadyCheck(conn, "")
	require.NoError(t, check(context.Background()))

	srv.Health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.ErrorContains(t, check(context.Background()), "NOT_SERVING")
}

func TestRequestIDPropagates(t *testing.T) {
	_, conn := startServer(t)

	ctx := httpx.ContextWithRequestID(context.Background(), "req-42")
	var header metadata.MD
	_, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, []string{"req-42"}, header.Get(RequestIDMetadataKey))
}
