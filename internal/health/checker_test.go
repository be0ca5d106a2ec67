package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) Ping(context.Context) error {
	return m.pingErr
}

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func served(t *testing.T, srv *health.Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return resp.GetStatus()
}

func TestCheck(t *testing.T) {
	testCases := []struct {
		name   string
		pinger Pinger
		policy PolicyChecker
		want   healthpb.HealthCheckResponse_ServingStatus
	}{
		{"no probes", nil, nil, healthpb.HealthCheckResponse_SERVING},
		{"ping ok", &mockPinger{}, nil, healthpb.HealthCheckResponse_SERVING},
		{"ping fails", &mockPinger{pingErr: errors.New("connection refused")}, nil, healthpb.HealthCheckResponse_NOT_SERVING},
		{"policy ok", &mockPinger{}, &mockPolicyChecker{}, healthpb.HealthCheckResponse_SERVING},
		{"policy fails", &mockPinger{}, &mockPolicyChecker{healthErr: errors.New("opa down")}, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := health.NewServer()
			c := NewChecker(srv, tc.pinger, tc.policy, time.Minute)
			if got := c.Check(context.Background()); got != tc.want {
				t.Errorf("Check = %v, want %v", got, tc.want)
			}
			if got := served(t, srv); got != tc.want {
				t.Errorf("served status = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRun_RecoversAfterFailure(t *testing.T) {
	srv := health.NewServer()
	p := &mockPinger{pingErr: errors.New("down")}
	c := NewChecker(srv, p, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Check(ctx)
	if got := served(t, srv); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, want NOT_SERVING", got)
	}
	p.pingErr = nil
	go c.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if served(t, srv) == healthpb.HealthCheckResponse_SERVING {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("status did not recover to SERVING")
}

func TestNewChecker_DefaultInterval(t *testing.T) {
	c := NewChecker(health.NewServer(), nil, nil, 0)
	if c.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", c.interval, DefaultInterval)
	}
}
