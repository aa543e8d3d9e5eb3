package health

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/danielpatrickdp/segment-replay/internal/playback"
)

// #region helpers
func startServer(t *testing.T) (*Server, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	s := New()
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, conn
}

func check(t *testing.T, conn *grpc.ClientConn, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := CheckConn(ctx, conn, service)
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return status
}
// #endregion helpers

// #region tests
func TestProcessAlwaysServing(t *testing.T) {
	_, conn := startServer(t)
	if got := check(t, conn, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("process status = %v, want SERVING", got)
	}
}

func TestPlaybackHealthFollowsState(t *testing.T) {
	s, conn := startServer(t)

	if got := check(t, conn, Service); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %v, want NOT_SERVING", got)
	}

	tests := []struct {
		state playback.State
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{playback.Playing, healthpb.HealthCheckResponse_SERVING},
		{playback.Paused, healthpb.HealthCheckResponse_NOT_SERVING},
		{playback.Playing, healthpb.HealthCheckResponse_SERVING},
		{playback.Stopped, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		s.Observe(playback.Status{State: tt.state})
		if got := check(t, conn, Service); got != tt.want {
			t.Errorf("after %v: status = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestUnknownServiceFails(t *testing.T) {
	_, conn := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := CheckConn(ctx, conn, "nope"); err == nil {
		t.Fatal("expected NotFound error for unregistered service")
	}
}

func TestCheckUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	status, err := Check(ctx, "127.0.0.1:1", Service)
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
	if status != healthpb.HealthCheckResponse_UNKNOWN {
		t.Errorf("status = %v, want UNKNOWN", status)
	}
}
// #endregion tests
