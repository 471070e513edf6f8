// Package metrics derives sprint and release reports from the issue store.
// Nothing in here is persisted; every number is recomputed from the member
// issue set on each call.
package metrics

import (
    "strings"

    "github.com/HamedShams/sprint-pulse/internal/domain"
)

// Bucket is the three-way progress partition. Every issue falls into exactly
// one bucket; unknown statuses count as pending, never dropped.
type Bucket int

const (
    BucketPending Bucket = iota
    BucketInProgress
    BucketCompleted
)

var completedStatuses = statusSet("Done", "Completed", "Ready for merge")

var inProgressStatuses = statusSet("In Progress", "QA", "Ready for Test", "Monitoring", "Code Review")

// Delivery gates. Dev delivery means the issue reached QA or beyond at least
// once; QA delivery means it reached a done-like status at least once.
var qaOrBeyondStatuses = statusSet("QA", "Ready for Test", "Ready for merge", "Monitoring", "Completed", "Done", "Closed")

var doneLikeStatuses = statusSet("Completed", "Ready for merge", "Monitoring", "Done", "Closed")

func statusSet(names ...string) map[string]struct{} {
    set := make(map[string]struct{}, len(names))
    for _, n := range names {
        set[strings.ToLower(n)] = struct{}{}
    }
    return set
}

func in(set map[string]struct{}, status string) bool {
    _, ok := set[strings.ToLower(strings.TrimSpace(status))]
    return ok
}

// Classify buckets an issue by its derived current status.
func Classify(i *domain.Issue) Bucket {
    status := domain.CurrentStatus(i)
    switch {
    case in(completedStatuses, status):
        return BucketCompleted
    case in(inProgressStatuses, status):
        return BucketInProgress
    default:
        return BucketPending
    }
}

// everReached reports whether the issue's current status or any transition
// target is in the given set. Synthesized events count like real ones.
func everReached(i *domain.Issue, set map[string]struct{}) bool {
    if in(set, domain.CurrentStatus(i)) {
        return true
    }
    for _, e := range i.Changelog {
        if in(set, e.ToStatus) {
            return true
        }
    }
    return false
}

func DevDelivered(i *domain.Issue) bool { return everReached(i, qaOrBeyondStatuses) }

func QaDelivered(i *domain.Issue) bool { return everReached(i, doneLikeStatuses) }

// WasQaTested reports whether the issue ever transitioned into a QA-ish
// status. Matching is by substring since boards name these columns freely.
func WasQaTested(i *domain.Issue) bool {
    for _, e := range i.Changelog {
        to := strings.ToLower(e.ToStatus)
        if strings.Contains(to, "qa") || strings.Contains(to, "testing") {
            return true
        }
    }
    return false
}

// QaFailed is the counter predicate: the issue was QA-tested at least once
// yet never reached a done-like status. This separates "tested and failed"
// from "never tested".
func QaFailed(i *domain.Issue) bool {
    return WasQaTested(i) && !QaDelivered(i)
}

// HasQaFailure reports whether the issue ever entered a QA-rejection status,
// used by the failure digest.
func HasQaFailure(i *domain.Issue) bool {
    for _, e := range i.Changelog {
        to := strings.ToLower(e.ToStatus)
        if strings.Contains(to, "qa failed") || strings.Contains(to, "failed qa") || strings.Contains(to, "rejected") {
            return true
        }
    }
    return false
}
