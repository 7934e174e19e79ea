package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tokengate.org/internal/auth"
	"tokengate.org/internal/config"
	"tokengate.org/internal/grpcapi"
	"tokengate.org/internal/httpapi"
	"tokengate.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.Init(reg)
	obs.InitBuildInfo(reg, version, commit)

	// Token store: Postgres when a DSN is configured, otherwise in-memory.
	var (
		db    *sql.DB
		store auth.TokenAdmin
	)
	if cfg.DatabaseDSN != "" {
		db, err = auth.OpenPG(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal(err)
		}
		store = auth.NewPGStore(db)
	} else {
		mem := auth.NewMemoryStore()
		seeded, err := cfg.SeedDevTokens(context.Background(), mem, time.Now())
		if err != nil {
			log.Fatal(err)
		}
		obs.Log(context.Background(), obs.LevelWarn, "memory_token_store", map[string]any{
			"detail":     "TOKENGATE_PG_DSN not set; tokens live only in this process",
			"dev_tokens": seeded,
		})
		if seeded == 0 && cfg.RevocationMode == auth.RevocationAuthoritative {
			obs.Log(context.Background(), obs.LevelWarn, "memory_token_store_empty", map[string]any{
				"detail": "no TOKENGATE_DEV_TOKENS loaded; every protected request will be denied",
			})
		}
		store = mem
	}

	verifier, err := auth.NewJWTVerifier(cfg.VerifierOptions()...)
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}
	guardOpts := append(cfg.GuardOptions(), auth.WithRecorder(obs.NewGuardMetrics(reg)))
	guard, err := auth.NewGuard(store, verifier, guardOpts...)
	if err != nil {
		log.Fatalf("guard: %v", err)
	}

	probe := httpapi.ReadyProbe{Store: store}

	api := httpapi.New(guard, probe, httpapi.Options{
		Version:        version,
		Gatherer:       reg,
		RateBurst:      cfg.RateBurst,
		RatePerSecond:  cfg.RatePerSecond,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		TrustedProxies: cfg.TrustedProxies,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpcapi.NewServer(guard, probe, grpcapi.HealthMethods)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	obs.Log(context.Background(), obs.LevelInfo, "starting", map[string]any{
		"version":              version,
		"http_addr":            srv.Addr,
		"grpc_addr":            cfg.GRPCAddr,
		"revocation_mode":      cfg.RevocationMode.String(),
		"store_failure_policy": cfg.StoreFailurePolicy.String(),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	healthCtx, stopHealth := context.WithCancel(context.Background())
	go refreshHealth(healthCtx, grpcSrv)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Log(context.Background(), obs.LevelInfo, "shutting_down", nil)
	stopHealth()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	obs.Log(context.Background(), obs.LevelInfo, "stopped", nil)
}

func refreshHealth(ctx context.Context, srv *grpcapi.Server) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			srv.RefreshHealth(checkCtx)
			cancel()
		}
	}
}
