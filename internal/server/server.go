// Package server assembles the HTTP API and the gRPC health endpoint.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	identityhandler "identity-service/backend/internal/identity/handler"
	"identity-service/backend/internal/media"
	"identity-service/backend/internal/server/middleware"
	"identity-service/backend/internal/server/respond"
)

// Deps holds what the HTTP routes need.
type Deps struct {
	// Auth serves the /user routes.
	Auth identityhandler.Service
	// Tokens validates session tokens for protected routes.
	Tokens middleware.SessionValidator
	// Uploads stores avatar files. If nil, uploaded files are ignored.
	Uploads media.Store
}

// NewRouter returns the HTTP routes.
//
//   - GET  /hello
//   - POST /user/login
//   - POST /user/signup
//   - POST /user/login-social
//   - PUT  /user/edit (Bearer session)
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(respond.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(respond.MethodNotAllowed)
	identityhandler.NewHandler(deps.Auth, deps.Uploads).Register(r, middleware.Authenticate(deps.Tokens))
	return r
}

// NewHTTPServer wraps h with the listen address and timeouts.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// NewGRPCServer returns a gRPC server exposing grpc.health.v1 backed by hs.
func NewGRPCServer(hs *health.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, hs)
	return s
}
