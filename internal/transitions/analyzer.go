// Package transitions turns issue changelogs into workflow-level views: the
// (from,to) transition histogram and the QA failure digest.
package transitions

import (
    "fmt"
    "sort"
    "strings"

    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/HamedShams/sprint-pulse/internal/metrics"
)

// statusRank fixes the workflow order used to sort histogram rows. Statuses
// outside the table sort after all known ones, lexicographically.
var statusRank = map[string]int{
    "backlog":         0,
    "to do":           1,
    "blocked":         2,
    "in progress":     3,
    "in review":       4,
    "ready for merge": 5,
    "monitoring":      6,
    "ready for test":  7,
    "qa":              8,
    "qa failed":       9,
    "completed":       10,
}

// TransitionCount is one histogram row: how many times issues moved from one
// status to another.
type TransitionCount struct {
    FromStatus string `json:"fromStatus"`
    ToStatus   string `json:"toStatus"`
    Count      int    `json:"count"`
}

// QaFailureEntry is one issue's appearance in the QA failure digest.
type QaFailureEntry struct {
    Key           string   `json:"key"`
    Summary       string   `json:"summary"`
    Assignee      string   `json:"assignee,omitempty"`
    FailureCount  int      `json:"failureCount"`
    Recovered     bool     `json:"recovered"`
    StatusChanges []string `json:"statusChanges"`
}

// Histogram counts every observed (from,to) status transition across the
// given issues. Rows are ordered by the fixed workflow rank of the from
// status, then of the to status, so equal inputs always render identically.
// Casing is normalized through displayStatus so "DONE" and "Done" land on
// the same row regardless of which was seen first.
func Histogram(issues []domain.Issue) []TransitionCount {
    type edge struct{ from, to string }
    counts := map[edge]int{}
    for i := range issues {
        for _, e := range issues[i].Changelog {
            k := edge{from: strings.ToLower(strings.TrimSpace(e.FromStatus)), to: strings.ToLower(strings.TrimSpace(e.ToStatus))}
            counts[k]++
        }
    }
    out := make([]TransitionCount, 0, len(counts))
    for k, c := range counts {
        out = append(out, TransitionCount{FromStatus: displayStatus(k.from), ToStatus: displayStatus(k.to), Count: c})
    }
    sort.Slice(out, func(i, j int) bool {
        if r := compareStatus(out[i].FromStatus, out[j].FromStatus); r != 0 {
            return r < 0
        }
        return compareStatus(out[i].ToStatus, out[j].ToStatus) < 0
    })
    return out
}

// QaFailureDigest lists every issue that entered a QA-rejection status, with
// its full transition trail and whether it recovered to a completed state.
func QaFailureDigest(issues []domain.Issue) []QaFailureEntry {
    var out []QaFailureEntry
    for i := range issues {
        iss := issues[i]
        if !metrics.HasQaFailure(&iss) {
            continue
        }
        entry := QaFailureEntry{
            Key:       iss.Key,
            Summary:   iss.Summary,
            Assignee:  iss.Assignee,
            Recovered: metrics.Classify(&iss) == metrics.BucketCompleted,
        }
        for _, e := range iss.Changelog {
            to := strings.ToLower(e.ToStatus)
            if strings.Contains(to, "qa failed") || strings.Contains(to, "failed qa") || strings.Contains(to, "rejected") {
                entry.FailureCount++
            }
            change := fmt.Sprintf("%s -> %s at %s", e.FromStatus, e.ToStatus, e.Timestamp.Format("2006-01-02 15:04"))
            if e.Synthesized {
                change += " (inferred)"
            }
            entry.StatusChanges = append(entry.StatusChanges, change)
        }
        out = append(out, entry)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
    return out
}

// statusDisplay holds the canonical rendering of each ranked status; other
// statuses fall back to word capitalization of the lowercased form.
var statusDisplay = map[string]string{
    "backlog":         "Backlog",
    "to do":           "To Do",
    "blocked":         "Blocked",
    "in progress":     "In Progress",
    "in review":       "In Review",
    "ready for merge": "Ready for merge",
    "monitoring":      "Monitoring",
    "ready for test":  "Ready for Test",
    "qa":              "QA",
    "qa failed":       "QA Failed",
    "completed":       "Completed",
}

func displayStatus(lower string) string {
    if d, ok := statusDisplay[lower]; ok {
        return d
    }
    words := strings.Fields(lower)
    for i, w := range words {
        words[i] = strings.ToUpper(w[:1]) + w[1:]
    }
    return strings.Join(words, " ")
}

// compareStatus orders two statuses by workflow rank, unknown ones last in
// lexicographic order.
func compareStatus(a, b string) int {
    ra, oka := statusRank[strings.ToLower(strings.TrimSpace(a))]
    rb, okb := statusRank[strings.ToLower(strings.TrimSpace(b))]
    switch {
    case oka && okb:
        return ra - rb
    case oka:
        return -1
    case okb:
        return 1
    default:
        return strings.Compare(strings.ToLower(a), strings.ToLower(b))
    }
}
