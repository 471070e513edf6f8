package jobs

import (
    "context"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/config"
    "github.com/HamedShams/sprint-pulse/internal/domain"
    syncpkg "github.com/HamedShams/sprint-pulse/internal/sync"
    "github.com/robfig/cron/v3"
    "github.com/rs/zerolog"
)

type service interface {
    DeltaUpdate(ctx context.Context, creds domain.Credentials) (syncpkg.Result, error)
}

type locker interface {
    TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
    AdvisoryUnlock(ctx context.Context, key int64) error
}

// Cron runs the scheduled delta update with credentials from the environment.
// The advisory lock keeps overlapping replicas from double-syncing; without a
// database the job runs unguarded.
type Cron struct {
    cfg  config.Config
    log  zerolog.Logger
    svc  service
    lock locker
    c    *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, svc service, lock locker) *Cron {
    loc, _ := time.LoadLocation(cfg.TZ)
    c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
    cr := &Cron{cfg: cfg, log: log, svc: svc, lock: lock, c: c}
    if cfg.SyncCron != "" { _, _ = c.AddFunc(cfg.SyncCron, cr.deltaUpdate) }
    return cr
}

func (cr *Cron) Start(){ cr.c.Start() }
func (cr *Cron) Stop(){ cr.c.Stop() }

func (cr *Cron) deltaUpdate(){
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute); defer cancel()
    const lockKey int64 = 727272
    if cr.lock != nil {
        ok, err := cr.lock.TryAdvisoryLock(ctx, lockKey)
        if err != nil { cr.log.Error().Err(err).Msg("cron: lock error"); return }
        if !ok { cr.log.Info().Msg("cron: already running elsewhere"); return }
        defer func(){ _ = cr.lock.AdvisoryUnlock(context.Background(), lockKey) }()
    }
    creds := domain.Credentials{
        XSRFToken:          cr.cfg.JiraXSRFToken,
        AccountXSRFToken:   cr.cfg.JiraAccountXSRFToken,
        TenantSessionToken: cr.cfg.JiraTenantSessionToken,
    }
    if err := creds.Validate(); err != nil {
        cr.log.Warn().Msg("cron: no tracker credentials configured, skipping delta update")
        return
    }
    cr.log.Info().Msg("cron: delta update")
    res, err := cr.svc.DeltaUpdate(ctx, creds)
    if err != nil { cr.log.Error().Err(err).Msg("cron: delta update failed"); return }
    cr.log.Info().Str("run", res.RunID).Int("succeeded", len(res.Succeeded)).Int("failed", len(res.Failed)).Msg("cron: delta update done")
}
