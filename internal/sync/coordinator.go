// Package sync coordinates tracker fetches against the local store. All
// public entry points funnel into one per-sprint pipeline: fetch, reconcile,
// commit, mirror. Concurrent requests for the same sprint collapse into a
// single flight; disjoint sprints run concurrently under a bounded pool.
package sync

import (
    "context"
    "sort"
    stdsync "sync"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/HamedShams/sprint-pulse/internal/reconcile"
    "github.com/HamedShams/sprint-pulse/internal/store"
    "github.com/google/uuid"
    "github.com/rs/zerolog"
    "golang.org/x/sync/errgroup"
    "golang.org/x/sync/singleflight"
)

const (
    OpFullImport  = "full-import"
    OpFetchNew    = "fetch-new"
    OpDeltaUpdate = "delta-update"
)

// Fetcher is the tracker adapter surface the coordinator needs.
type Fetcher interface {
    FetchSprintIssues(ctx context.Context, creds domain.Credentials, sprintID string) ([]domain.Issue, error)
    FetchActiveSprintIDs(ctx context.Context, creds domain.Credentials, known []string) ([]string, error)
    DiscoverSprintIDs(ctx context.Context, creds domain.Credentials, known []string) ([]string, error)
}

// Store is the writable store surface.
type Store interface {
    store.Reader
    CommitSprint(sprintID string, issues []domain.Issue, rec domain.FetchRecord)
}

// Mirror persists committed sprints durably. Optional; nil disables it.
type Mirror interface {
    SaveSprint(ctx context.Context, sprintID string, issues []domain.Issue, rec domain.FetchRecord) error
}

// Invalidator is notified after a run that committed at least one sprint.
type Invalidator interface {
    InvalidateAll()
}

// SprintFailure is one sprint's classified failure inside a partially
// successful run.
type SprintFailure struct {
    SprintID string `json:"sprintId"`
    Kind     string `json:"kind"`
    Message  string `json:"message"`
}

// Result is the outcome of one sync run. A run only fails as a whole on bad
// credentials or when sprint discovery itself fails; otherwise per-sprint
// failures land in Failed and the rest of the run proceeds.
type Result struct {
    RunID      string             `json:"runId"`
    Operation  string             `json:"operation"`
    StartedAt  time.Time          `json:"startedAt"`
    FinishedAt time.Time          `json:"finishedAt"`
    Succeeded  []reconcile.Report `json:"succeeded"`
    Failed     []SprintFailure    `json:"failed"`
}

type Coordinator struct {
    fetcher    Fetcher
    store      Store
    mirror     Mirror
    reconciler *reconcile.Reconciler
    caches     []Invalidator
    workers    int
    flight     singleflight.Group
    log        zerolog.Logger
}

func NewCoordinator(f Fetcher, s Store, m Mirror, r *reconcile.Reconciler, workers int, log zerolog.Logger, caches ...Invalidator) *Coordinator {
    if workers <= 0 {
        workers = 4
    }
    return &Coordinator{fetcher: f, store: s, mirror: m, reconciler: r, caches: caches, workers: workers, log: log}
}

// FullImport bulk-loads a pre-supplied issue batch, grouped by sprint,
// straight through the reconciler. The tracker adapter is not involved, so
// no credentials are required.
func (c *Coordinator) FullImport(ctx context.Context, issues []domain.Issue) (Result, error) {
    groups := map[string][]domain.Issue{}
    for _, iss := range issues {
        groups[iss.SprintID] = append(groups[iss.SprintID], iss)
    }
    ids := make([]string, 0, len(groups))
    for id := range groups {
        ids = append(ids, id)
    }
    sort.Strings(ids)
    res := c.run(ctx, OpFullImport, ids, func(ctx context.Context, sprintID string) ([]domain.Issue, error) {
        if sprintID == "" {
            return nil, &domain.SyncError{Kind: domain.KindConflict, Err: domain.ErrConflict, Message: "batch issues without sprint id"}
        }
        return groups[sprintID], nil
    })
    return res, nil
}

// FetchNew synchronizes only sprints the store has never fetched.
func (c *Coordinator) FetchNew(ctx context.Context, creds domain.Credentials) (Result, error) {
    if err := creds.Validate(); err != nil {
        return Result{}, err
    }
    ids, err := c.fetcher.DiscoverSprintIDs(ctx, creds, c.store.KnownSprintIDs())
    if err != nil {
        return Result{}, err
    }
    return c.run(ctx, OpFetchNew, ids, c.trackerFetch(creds)), nil
}

// DeltaUpdate re-fetches known sprints that the tracker still reports as
// active, merging changes into the stored records.
func (c *Coordinator) DeltaUpdate(ctx context.Context, creds domain.Credentials) (Result, error) {
    if err := creds.Validate(); err != nil {
        return Result{}, err
    }
    active, err := c.fetcher.FetchActiveSprintIDs(ctx, creds, c.store.KnownSprintIDs())
    if err != nil {
        return Result{}, err
    }
    return c.run(ctx, OpDeltaUpdate, active, c.trackerFetch(creds)), nil
}

// SyncSprint synchronizes one explicitly named sprint.
func (c *Coordinator) SyncSprint(ctx context.Context, creds domain.Credentials, sprintID string) (Result, error) {
    if err := creds.Validate(); err != nil {
        return Result{}, err
    }
    return c.run(ctx, OpDeltaUpdate, []string{sprintID}, c.trackerFetch(creds)), nil
}

func (c *Coordinator) trackerFetch(creds domain.Credentials) func(context.Context, string) ([]domain.Issue, error) {
    return func(ctx context.Context, sprintID string) ([]domain.Issue, error) {
        return c.fetcher.FetchSprintIssues(ctx, creds, sprintID)
    }
}

func (c *Coordinator) run(ctx context.Context, operation string, sprintIDs []string, fetch func(context.Context, string) ([]domain.Issue, error)) Result {
    res := Result{RunID: uuid.NewString(), Operation: operation, StartedAt: time.Now().UTC()}
    log := c.log.With().Str("run", res.RunID).Str("op", operation).Logger()
    log.Info().Int("sprints", len(sprintIDs)).Msg("sync: run started")

    var mu stdsync.Mutex
    g, gctx := errgroup.WithContext(ctx)
    g.SetLimit(c.workers)
    for _, id := range sprintIDs {
        sprintID := id
        g.Go(func() error {
            rep, err := c.syncOne(gctx, sprintID, fetch)
            mu.Lock()
            defer mu.Unlock()
            if err != nil {
                res.Failed = append(res.Failed, SprintFailure{
                    SprintID: sprintID,
                    Kind:     domain.Classify(err),
                    Message:  err.Error(),
                })
                log.Warn().Err(err).Str("sprint", sprintID).Msg("sync: sprint failed")
                return nil
            }
            res.Succeeded = append(res.Succeeded, rep)
            return nil
        })
    }
    g.Wait()

    if len(res.Succeeded) > 0 {
        for _, inv := range c.caches {
            inv.InvalidateAll()
        }
    }
    res.FinishedAt = time.Now().UTC()
    log.Info().Int("succeeded", len(res.Succeeded)).Int("failed", len(res.Failed)).
        Dur("took", res.FinishedAt.Sub(res.StartedAt)).Msg("sync: run finished")
    return res
}

// syncOne runs the fetch-reconcile-commit pipeline for one sprint. The
// singleflight group guarantees at most one in-flight pipeline per sprint;
// callers that arrive while one runs share its result.
func (c *Coordinator) syncOne(ctx context.Context, sprintID string, fetch func(context.Context, string) ([]domain.Issue, error)) (reconcile.Report, error) {
    v, err, shared := c.flight.Do(sprintID, func() (any, error) {
        fetched, err := fetch(ctx, sprintID)
        if err != nil {
            return reconcile.Report{}, err
        }
        stored := c.store.SprintIssues(sprintID)
        merged, rep, err := c.reconciler.MergeSprint(sprintID, stored, fetched)
        if err != nil {
            return reconcile.Report{}, err
        }
        rec := domain.FetchRecord{SprintID: sprintID, IssueCount: rep.NewIssueCount, FetchedAt: time.Now().UTC()}
        c.store.CommitSprint(sprintID, merged, rec)
        if c.mirror != nil {
            if err := c.mirror.SaveSprint(ctx, sprintID, merged, rec); err != nil {
                // The in-memory commit already happened; a mirror failure
                // degrades durability, not correctness.
                c.log.Error().Err(err).Str("sprint", sprintID).Msg("sync: mirror save failed")
            }
        }
        return rep, nil
    })
    if shared {
        c.log.Debug().Str("sprint", sprintID).Msg("sync: joined in-flight sprint sync")
    }
    if err != nil {
        return reconcile.Report{}, err
    }
    return v.(reconcile.Report), nil
}
