package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health"

	"identity-service/backend/internal/config"
	"identity-service/backend/internal/db"
	healthcheck "identity-service/backend/internal/health"
	"identity-service/backend/internal/identity/service"
	"identity-service/backend/internal/media"
	policyengine "identity-service/backend/internal/policy/engine"
	"identity-service/backend/internal/security"
	"identity-service/backend/internal/server"
	"identity-service/backend/internal/social"
	"identity-service/backend/internal/social/facebook"
	"identity-service/backend/internal/social/google"
	"identity-service/backend/internal/telemetry"
	telemetryotel "identity-service/backend/internal/telemetry/otel"
	"identity-service/backend/internal/telemetry/producer"
	"identity-service/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTelEndpoint, cfg.OTelServiceName, cfg.OTelInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()
	store := db.NewStore(conn)

	tokens, err := security.LoadTokenProvider(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	policy, err := policyengine.NewOPAEvaluator(ctx, loadPolicy(cfg.EditPolicyFile))
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	uploads, err := newUploadStore(ctx, cfg)
	if err != nil {
		log.Fatalf("uploads: %v", err)
	}

	emitters := telemetry.Multi{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if metricsEmitter, err := telemetryotel.NewMetricsEmitter(providers.MeterProvider); err != nil {
		log.Printf("telemetry: metrics disabled: %v", err)
	} else {
		emitters = append(emitters, metricsEmitter)
	}
	var broker producer.Producer
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 {
		if kp := producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic); kp != nil {
			broker = kp
			emitters = append(emitters, kp)
			log.Printf("telemetry: auth events to kafka topic %s", cfg.TelemetryKafkaTopic)
		}
	}

	authSvc := service.NewAuthService(
		store,
		func(h db.Queryer) repository.Repository { return repository.NewPostgresRepository(h) },
		security.NewHasher(cfg.PBKDF2Iterations),
		tokens,
		newSocialRegistry(ctx, cfg),
		policy,
		emitters,
	)

	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, server.NewRouter(server.Deps{
		Auth:    authSvc,
		Tokens:  tokens,
		Uploads: uploads,
	}))

	hs := health.NewServer()
	grpcSrv := server.NewGRPCServer(hs)
	go healthcheck.NewChecker(hs, store, policy, 0).Run(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	go func() {
		log.Printf("gRPC health server listening on %s", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcSrv.GracefulStop()

	// Let in-flight async emits finish before closing their sinks.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if broker != nil {
		if err := broker.Close(); err != nil {
			log.Printf("kafka close: %v", err)
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("servers stopped")
}

// newSocialRegistry registers every provider whose endpoint is configured. A provider that
// fails discovery is logged and left out.
func newSocialRegistry(ctx context.Context, cfg *config.Config) *social.Registry {
	timeout := cfg.SocialLookupTimeout()
	var providers []social.Provider
	if cfg.GoogleIssuerURL != "" {
		discoverCtx, cancel := context.WithTimeout(ctx, timeout)
		g, err := google.New(discoverCtx, cfg.GoogleIssuerURL)
		cancel()
		if err != nil {
			log.Printf("social: google disabled: %v", err)
		} else {
			providers = append(providers, g)
		}
	}
	if cfg.FacebookGraphURL != "" {
		providers = append(providers, facebook.NewClient(cfg.FacebookGraphURL, timeout))
	}
	reg := social.NewRegistry(timeout, providers...)
	log.Printf("social: providers enabled: %v", reg.Methods())
	return reg
}

func newUploadStore(ctx context.Context, cfg *config.Config) (media.Store, error) {
	if cfg.S3Bucket != "" {
		return media.NewS3Store(ctx, media.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			MaxBytes:  cfg.UploadMaxBytes,
		})
	}
	return media.NewDiskStore(cfg.UploadDir, cfg.UploadMaxBytes)
}

func loadPolicy(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("policy: read %s: %v", path, err)
	}
	return string(b)
}
