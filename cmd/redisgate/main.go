/*
Copyright 2025 RedisGate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// redisgate is the multi-tenant HTTP gateway for managed Redis instances.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redisgate/redisgate/internal/auth"
	"github.com/redisgate/redisgate/internal/config"
	"github.com/redisgate/redisgate/internal/gateway"
	"github.com/redisgate/redisgate/internal/kube"
	"github.com/redisgate/redisgate/internal/log"
	"github.com/redisgate/redisgate/internal/metrics"
	"github.com/redisgate/redisgate/internal/orchestrator"
	"github.com/redisgate/redisgate/internal/quota"
	"github.com/redisgate/redisgate/internal/ratelimit"
	"github.com/redisgate/redisgate/internal/redispool"
	"github.com/redisgate/redisgate/internal/store"
)

// shutdownTimeout bounds graceful drain on SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger needs config, so this one error goes to stderr raw.
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	verbosity := 0
	if cfg.Logging.Level == "debug" {
		verbosity = 1
	}
	logger := log.NewLogger(log.Options{
		Development: os.Getenv("ENVIRONMENT") != "production",
		Level:       verbosity,
		ServiceName: "redisgate",
	})
	defer log.Sync(logger)

	logger.Info("starting redisgate", "version", metrics.Version, "addr", cfg.BindAddress())

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database, logger.WithName("store"))
	if err != nil {
		logger.Error(err, "database connection failed")
		os.Exit(1)
	}
	if err := st.Migrate(ctx); err != nil {
		logger.Error(err, "database migration failed")
		st.Close()
		os.Exit(1)
	}

	orch, err := kube.NewFromEnv(logger.WithName("kube"))
	if err != nil {
		logger.Info("kubernetes unavailable, running in development mode", "reason", err.Error())
		orch = nil
	}

	pool := redispool.New(logger.WithName("redispool"))
	m := metrics.New()
	st.Instrument(m)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.DefaultRequestsPerSecond)
	}

	tokens := auth.NewTokenManager(cfg.Security.JWTSecret,
		time.Duration(cfg.Security.TokenExpiryHours)*time.Hour)
	quotaSvc := quota.NewService(st, logger.WithName("quota"))
	instanceSvc := orchestrator.NewService(st, orch, pool, logger.WithName("orchestrator"))

	server := gateway.New(cfg, logger.WithName("gateway"), st, tokens, pool, limiter, m, quotaSvc, instanceSvc)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error(err, "http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "graceful shutdown failed")
	}
	// The store closes last so draining handlers keep a working database.
	if err := st.Close(); err != nil {
		logger.Error(err, "closing database failed")
	}
	logger.Info("redisgate stopped")
}
