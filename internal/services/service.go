/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "context"
    "fmt"

    "github.com/HamedShams/sprint-pulse/internal/cache"
    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/HamedShams/sprint-pulse/internal/metrics"
    "github.com/HamedShams/sprint-pulse/internal/store"
    syncpkg "github.com/HamedShams/sprint-pulse/internal/sync"
    "github.com/HamedShams/sprint-pulse/internal/transitions"
    "github.com/rs/zerolog"
)

// Coordinator is the sync surface the service exposes to HTTP and cron.
type Coordinator interface {
    FullImport(ctx context.Context, issues []domain.Issue) (syncpkg.Result, error)
    FetchNew(ctx context.Context, creds domain.Credentials) (syncpkg.Result, error)
    DeltaUpdate(ctx context.Context, creds domain.Credentials) (syncpkg.Result, error)
    SyncSprint(ctx context.Context, creds domain.Credentials, sprintID string) (syncpkg.Result, error)
}

// Service ties the sync coordinator to the read-side aggregators behind one
// facade, with a memo cache over the read paths.
type Service struct {
    log   zerolog.Logger
    store *store.Memory
    coord Coordinator
    agg   *metrics.Aggregator
    cache *cache.Cache
}

func New(log zerolog.Logger, st *store.Memory, coord Coordinator, agg *metrics.Aggregator, c *cache.Cache) *Service {
    return &Service{log: log, store: st, coord: coord, agg: agg, cache: c}
}

// ---- sync operations ----

func (s *Service) FullImport(ctx context.Context, issues []domain.Issue) (syncpkg.Result, error) {
    return s.coord.FullImport(ctx, issues)
}

func (s *Service) FetchNew(ctx context.Context, creds domain.Credentials) (syncpkg.Result, error) {
    return s.coord.FetchNew(ctx, creds)
}

func (s *Service) DeltaUpdate(ctx context.Context, creds domain.Credentials) (syncpkg.Result, error) {
    return s.coord.DeltaUpdate(ctx, creds)
}

func (s *Service) SyncSprint(ctx context.Context, creds domain.Credentials, sprintID string) (syncpkg.Result, error) {
    return s.coord.SyncSprint(ctx, creds, sprintID)
}

// ---- read side (cached) ----

func (s *Service) SprintSummaries() ([]domain.SprintSummary, error) {
    return cache.Do(s.cache, "sprints", func() ([]domain.SprintSummary, error) {
        return s.agg.SprintSummaries(), nil
    })
}

func (s *Service) SprintSummary(idOrName string) (domain.SprintSummary, error) {
    return cache.Do(s.cache, "sprint:"+idOrName, func() (domain.SprintSummary, error) {
        return s.agg.SprintSummary(idOrName)
    })
}

func (s *Service) SprintIssues(idOrName string) ([]domain.IssueDetail, error) {
    return cache.Do(s.cache, "sprint-issues:"+idOrName, func() ([]domain.IssueDetail, error) {
        return s.agg.SprintIssues(idOrName)
    })
}

func (s *Service) FixVersionSummaries() ([]domain.FixVersionSummary, error) {
    return cache.Do(s.cache, "versions", func() ([]domain.FixVersionSummary, error) {
        return s.agg.FixVersionSummaries(), nil
    })
}

func (s *Service) FixVersionSummary(name string) (domain.FixVersionSummary, error) {
    return cache.Do(s.cache, "version:"+name, func() (domain.FixVersionSummary, error) {
        return s.agg.FixVersionSummary(name)
    })
}

func (s *Service) FixVersionIssues(name string) ([]domain.IssueDetail, error) {
    return cache.Do(s.cache, "version-issues:"+name, func() ([]domain.IssueDetail, error) {
        return s.agg.FixVersionIssues(name)
    })
}

func (s *Service) DeveloperSummaries() ([]metrics.DeveloperSummary, error) {
    return cache.Do(s.cache, "developers", func() ([]metrics.DeveloperSummary, error) {
        return s.agg.DeveloperSummaries(), nil
    })
}

func (s *Service) QaSummary() (metrics.QaSummary, error) {
    return cache.Do(s.cache, "qa-summary", func() (metrics.QaSummary, error) {
        return s.agg.QaSummaryReport(), nil
    })
}

func (s *Service) TopQaFailures(n int) ([]metrics.QaSprintRow, error) {
    return cache.Do(s.cache, fmt.Sprintf("qa-top:%d", n), func() ([]metrics.QaSprintRow, error) {
        return s.agg.TopQaFailures(n), nil
    })
}

// TransitionHistogram is scoped to one sprint when idOrName is non-empty,
// otherwise it spans the whole store.
func (s *Service) TransitionHistogram(idOrName string) ([]transitions.TransitionCount, error) {
    return cache.Do(s.cache, "transitions:"+idOrName, func() ([]transitions.TransitionCount, error) {
        issues, err := s.scopedIssues(idOrName)
        if err != nil { return nil, err }
        return transitions.Histogram(issues), nil
    })
}

func (s *Service) QaFailureDigest(idOrName string) ([]transitions.QaFailureEntry, error) {
    return cache.Do(s.cache, "qa-digest:"+idOrName, func() ([]transitions.QaFailureEntry, error) {
        issues, err := s.scopedIssues(idOrName)
        if err != nil { return nil, err }
        return transitions.QaFailureDigest(issues), nil
    })
}

func (s *Service) StoreStatus() store.Status { return s.store.Status() }

// RefreshCache drops every memoized read result.
func (s *Service) RefreshCache() { s.cache.InvalidateAll() }

func (s *Service) scopedIssues(idOrName string) ([]domain.Issue, error) {
    if idOrName == "" {
        all := s.store.AllIssues()
        live := all[:0]
        for _, iss := range all {
            if !iss.Stale { live = append(live, iss) }
        }
        return live, nil
    }
    if issues := s.store.SprintIssues(idOrName); len(issues) > 0 {
        live := issues[:0]
        for _, iss := range issues {
            if !iss.Stale { live = append(live, iss) }
        }
        return live, nil
    }
    // Fall back to name resolution through the aggregator's sprint lookup.
    sum, err := s.agg.SprintSummary(idOrName)
    if err != nil { return nil, err }
    issues := s.store.SprintIssues(sum.SprintID)
    live := issues[:0]
    for _, iss := range issues {
        if !iss.Stale { live = append(live, iss) }
    }
    return live, nil
}
