// Package store holds the issue-record store: the engine's canonical local
// snapshot of tracker state. The in-memory store is authoritative at runtime;
// the Postgres mirror makes it durable across restarts.
package store

import (
    "time"

    "github.com/HamedShams/sprint-pulse/internal/domain"
)

// Reader is the read-side contract consumed by the aggregators. Every method
// returns copies; callers may mutate results freely.
type Reader interface {
    AllIssues() []domain.Issue
    SprintIssues(sprintID string) []domain.Issue
    KnownSprintIDs() []string
    FetchRecord(sprintID string) (domain.FetchRecord, bool)
    FetchRecords() []domain.FetchRecord
}

// Status describes the store for the read-side status endpoint.
type Status struct {
    TotalIssues  int                  `json:"totalIssues"`
    TotalSprints int                  `json:"totalSprints"`
    LastFetchAt  *time.Time           `json:"lastFetchAt,omitempty"`
    Sprints      []domain.FetchRecord `json:"sprints"`
}
