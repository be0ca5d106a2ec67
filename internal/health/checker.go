// Package health drives the grpc.health.v1 serving status from periodic readiness probes.
package health

import (
	"context"
	"log"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultInterval is how often probes run when the checker is built with zero.
const DefaultInterval = 15 * time.Second

const probeTimeout = 3 * time.Second

// Pinger checks the database is reachable. *db.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks the policy engine answers. *engine.OPAEvaluator satisfies it.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker probes dependencies and publishes the overall status on a health server.
type Checker struct {
	server   *health.Server
	pinger   Pinger
	policy   PolicyChecker
	interval time.Duration
}

// NewChecker returns a Checker publishing to server. pinger and policy may be nil.
func NewChecker(server *health.Server, pinger Pinger, policy PolicyChecker, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Checker{server: server, pinger: pinger, policy: policy, interval: interval}
}

// Check runs every probe once and returns the resulting status. The status is also set
// for the overall service ("").
func (c *Checker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if c.pinger != nil {
		if err := c.pinger.Ping(ctx); err != nil {
			log.Printf("health: db ping failed: %v", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			log.Printf("health: policy check failed: %v", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	c.server.SetServingStatus("", status)
	return status
}

// Run probes immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.Check(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}
