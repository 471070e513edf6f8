package domain

import (
    "strings"
    "time"
)

type IssueType string

const (
    TypeStory   IssueType = "Story"
    TypeBug     IssueType = "Bug"
    TypeTask    IssueType = "Task"
    TypeSubTask IssueType = "Sub-task"
    TypeOther   IssueType = "Other"
)

// ParseIssueType maps a raw tracker type name onto the bounded vocabulary.
// Anything unrecognized becomes TypeOther rather than an error.
func ParseIssueType(name string) IssueType {
    switch {
    case strings.EqualFold(name, "Story"):
        return TypeStory
    case strings.EqualFold(name, "Bug"):
        return TypeBug
    case strings.EqualFold(name, "Task"):
        return TypeTask
    case strings.EqualFold(name, "Sub-task"), strings.EqualFold(name, "Subtask"):
        return TypeSubTask
    default:
        return TypeOther
    }
}

// Issue is one unit of tracked work as last observed from the tracker.
// Key is immutable; everything else may change between fetches.
type Issue struct {
    Key           string              `json:"key"`
    IssueType     IssueType           `json:"issueType"`
    Summary       string              `json:"summary"`
    Status        string              `json:"status"`
    Assignee      string              `json:"assignee,omitempty"`
    Priority      string              `json:"priority,omitempty"`
    SprintID      string              `json:"sprintId,omitempty"`
    SprintName    string              `json:"sprintName,omitempty"`
    SprintStart   *time.Time          `json:"sprintStart,omitempty"`
    SprintEnd     *time.Time          `json:"sprintEnd,omitempty"`
    FixVersions   []string            `json:"fixVersions,omitempty"`
    CreatedAt     *time.Time          `json:"createdAt,omitempty"`
    UpdatedAt     *time.Time          `json:"updatedAt,omitempty"`
    InitialStatus string              `json:"initialStatus,omitempty"`
    Changelog     []StatusChangeEvent `json:"changelog,omitempty"`
    // Stale marks an issue that was present in an earlier fetch of its
    // sprint but absent from the latest one. Records are never deleted.
    Stale bool `json:"stale,omitempty"`
}

// CurrentStatus derives the issue's status from its event history: the
// toStatus of the last event, or InitialStatus when no events exist. This is
// the single derivation point; nothing else re-implements it.
func CurrentStatus(i *Issue) string {
    if n := len(i.Changelog); n > 0 {
        return i.Changelog[n-1].ToStatus
    }
    if i.InitialStatus != "" {
        return i.InitialStatus
    }
    return i.Status
}

// StatusChangeEvent is one status transition for an issue. The per-issue list
// is append-only and ordered by (Timestamp, Seq); Seq breaks ties between
// events the tracker recorded in the same instant.
type StatusChangeEvent struct {
    IssueKey   string    `json:"issueKey"`
    FromStatus string    `json:"fromStatus"`
    ToStatus   string    `json:"toStatus"`
    Timestamp  time.Time `json:"timestamp"`
    Seq        int       `json:"seq"`
    // Synthesized is set when the reconciler injected this event to bridge
    // a current-status snapshot the fetched history did not explain.
    Synthesized bool `json:"synthesized,omitempty"`
}

// Before reports the fixed event order (Timestamp, Seq).
func (e StatusChangeEvent) Before(o StatusChangeEvent) bool {
    if !e.Timestamp.Equal(o.Timestamp) {
        return e.Timestamp.Before(o.Timestamp)
    }
    return e.Seq < o.Seq
}

// SameTransition reports whether two events describe the same from→to edge.
func (e StatusChangeEvent) SameTransition(o StatusChangeEvent) bool {
    return strings.EqualFold(e.FromStatus, o.FromStatus) && strings.EqualFold(e.ToStatus, o.ToStatus)
}

// FetchRecord is the per-sprint bookkeeping entry used by delta updates.
type FetchRecord struct {
    SprintID   string    `json:"sprintId"`
    IssueCount int       `json:"issueCount"`
    FetchedAt  time.Time `json:"fetchedAt"`
}

// SprintSummary carries a sprint and its derived counters. Counters are
// always recomputed from the member issue set, never stored.
type SprintSummary struct {
    SprintName           string     `json:"sprintName"`
    SprintID             string     `json:"sprintId"`
    StartDate            *time.Time `json:"startDate,omitempty"`
    EndDate              *time.Time `json:"endDate,omitempty"`
    SprintLengthDays     int        `json:"sprintLengthDays"`
    TotalIssues          int        `json:"totalIssues"`
    TotalBugs            int        `json:"totalBugs"`
    TotalStories         int        `json:"totalStories"`
    TotalTasks           int        `json:"totalTasks"`
    TotalSubTasks        int        `json:"totalSubTasks"`
    TotalOther           int        `json:"totalOther"`
    CompletedIssues      int        `json:"completedIssues"`
    CompletionPercentage float64    `json:"completionPercentage"`
    InProgressIssues     int        `json:"inProgressIssues"`
    PendingIssues        int        `json:"pendingIssues"`
    TotalQaTested        int        `json:"totalQaTested"`
    QaFailed             int        `json:"qaFailed"`
    QaFailureRatio       float64    `json:"qaFailureRatio"`
    DevDeliveredStories  int        `json:"devDeliveredStories"`
    DevDeliveryPct       float64    `json:"devDeliveryPercentage"`
    QaDeliveredStories   int        `json:"qaDeliveredStories"`
    QaDeliveryPct        float64    `json:"qaDeliveryPercentage"`
}

// FixVersionSummary mirrors SprintSummary but groups by release version.
// An issue carrying several fix versions counts toward each of them.
type FixVersionSummary struct {
    VersionName          string  `json:"versionName"`
    TotalIssues          int     `json:"totalIssues"`
    TotalBugs            int     `json:"totalBugs"`
    TotalStories         int     `json:"totalStories"`
    TotalTasks           int     `json:"totalTasks"`
    TotalSubTasks        int     `json:"totalSubTasks"`
    TotalOther           int     `json:"totalOther"`
    CompletedIssues      int     `json:"completedIssues"`
    CompletionPercentage float64 `json:"completionPercentage"`
    InProgressIssues     int     `json:"inProgressIssues"`
    PendingIssues        int     `json:"pendingIssues"`
    TotalQaTested        int     `json:"totalQaTested"`
    QaFailed             int     `json:"qaFailed"`
    QaFailureRatio       float64 `json:"qaFailureRatio"`
    DevDeliveredStories  int     `json:"devDeliveredStories"`
    DevDeliveryPct       float64 `json:"devDeliveryPercentage"`
    QaDeliveredStories   int     `json:"qaDeliveredStories"`
    QaDeliveryPct        float64 `json:"qaDeliveryPercentage"`
}

// IssueDetail is the read-side row for sprint/version issue listings.
type IssueDetail struct {
    Key          string `json:"key"`
    Summary      string `json:"summary"`
    IssueType    string `json:"issueType"`
    Status       string `json:"status"`
    Priority     string `json:"priority"`
    Assignee     string `json:"assignee"`
    DevDelivered bool   `json:"devDelivered"`
    QaDelivered  bool   `json:"qaDelivered"`
}
