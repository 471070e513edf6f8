/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/adapters/jira"
    "github.com/HamedShams/sprint-pulse/internal/cache"
    "github.com/HamedShams/sprint-pulse/internal/config"
    httpapi "github.com/HamedShams/sprint-pulse/internal/http"
    "github.com/HamedShams/sprint-pulse/internal/jobs"
    "github.com/HamedShams/sprint-pulse/internal/logger"
    "github.com/HamedShams/sprint-pulse/internal/metrics"
    "github.com/HamedShams/sprint-pulse/internal/reconcile"
    "github.com/HamedShams/sprint-pulse/internal/services"
    "github.com/HamedShams/sprint-pulse/internal/store"
    syncpkg "github.com/HamedShams/sprint-pulse/internal/sync"
)

func main() {
    cfg := config.Load()
    log := logger.New(cfg)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // Store: in-memory always, Postgres mirror when a DSN is configured.
    mem := store.NewMemory()
    var mirror *store.Mirror
    if cfg.DBDSN != "" {
        db := store.MustOpen(ctx, cfg, log)
        defer db.Close()
        mirror = store.NewMirror(db, log)
        if err := mirror.EnsureSchema(ctx); err != nil { log.Fatal().Err(err).Msg("schema init failed") }
        issues, recs, err := mirror.LoadAll(ctx)
        if err != nil { log.Fatal().Err(err).Msg("mirror load failed") }
        mem.Load(issues, recs)
    } else {
        log.Warn().Msg("no DB_DSN configured, running without durable mirror")
    }

    // Adapters and engine
    jc := jira.NewClient(cfg, log)
    rec := reconcile.New(log)
    memo := cache.New(cfg.CacheTTL, log)
    var mirrorIface syncpkg.Mirror
    if mirror != nil { mirrorIface = mirror }
    coord := syncpkg.NewCoordinator(jc, mem, mirrorIface, rec, cfg.SyncWorkers, log, memo)
    agg := metrics.NewAggregator(mem, log)
    svc := services.New(log, mem, coord, agg, memo)

    // HTTP server (Gin)
    router := httpapi.NewRouter(cfg, log, svc)

    // Cron
    var lock interface {
        TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
        AdvisoryUnlock(ctx context.Context, key int64) error
    }
    if mirror != nil { lock = mirror }
    cron := jobs.NewCron(cfg, log, svc, lock)
    cron.Start()
    defer cron.Stop()

    // graceful shutdown
    errCh := make(chan error, 1)
    go func() { errCh <- router.Run(cfg.HTTPAddr) }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

    select {
    case <-sigCh:
        log.Info().Msg("shutting down...")
    case err := <-errCh:
        if err != nil { log.Error().Err(err).Msg("http server error") }
    }

    time.Sleep(500 * time.Millisecond)
}
