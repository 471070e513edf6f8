// Package reconcile merges a freshly fetched sprint issue set into the stored
// one. Merges are pure functions over (stored, fetched) and idempotent:
// applying the same fetched batch twice changes nothing the second time.
package reconcile

import (
    "fmt"
    "sort"
    "strings"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/rs/zerolog"
)

// Report is the per-sprint outcome of one merge. Delta is NewIssueCount minus
// OldIssueCount and may be negative when issues left the sprint.
type Report struct {
    SprintID          string `json:"sprintId"`
    OldIssueCount     int    `json:"oldIssueCount"`
    NewIssueCount     int    `json:"newIssueCount"`
    Delta             int    `json:"delta"`
    NewIssues         int    `json:"newIssues"`
    UpdatedIssues     int    `json:"updatedIssues"`
    UnchangedIssues   int    `json:"unchangedIssues"`
    StaleIssues       int    `json:"staleIssues"`
    SynthesizedEvents int    `json:"synthesizedEvents"`
}

type Reconciler struct {
    log zerolog.Logger
    // now is swappable for tests; synthesized events are stamped with it
    // when the fetched issue carries no update timestamp.
    now func() time.Time
}

func New(log zerolog.Logger) *Reconciler {
    return &Reconciler{log: log, now: time.Now}
}

// MergeSprint reconciles the fetched issue set of one sprint against the
// stored one and returns the merged set plus the merge report. The stored
// slice is not mutated. A fetched batch with duplicate keys and divergent
// content aborts the sprint with a conflict error.
func (r *Reconciler) MergeSprint(sprintID string, stored, fetched []domain.Issue) ([]domain.Issue, Report, error) {
    rep := Report{SprintID: sprintID}

    fetchedByKey, err := dedupeFetched(sprintID, fetched)
    if err != nil {
        return nil, rep, err
    }

    storedByKey := make(map[string]domain.Issue, len(stored))
    for _, s := range stored {
        storedByKey[s.Key] = s
        if !s.Stale {
            rep.OldIssueCount++
        }
    }

    keys := make([]string, 0, len(fetchedByKey))
    for k := range fetchedByKey {
        keys = append(keys, k)
    }
    sort.Strings(keys)

    merged := make([]domain.Issue, 0, len(keys))
    for _, key := range keys {
        f := fetchedByKey[key]
        s, existed := storedByKey[key]
        if !existed {
            f.Changelog = sortEvents(f.Changelog)
            merged = append(merged, f)
            rep.NewIssues++
            continue
        }
        out, synthesized := mergeIssue(s, f, r.now)
        if synthesized {
            rep.SynthesizedEvents++
        }
        if issueChanged(s, out) {
            rep.UpdatedIssues++
        } else {
            rep.UnchangedIssues++
        }
        merged = append(merged, out)
    }

    // Members of the sprint missing from the fetch stay on record as stale.
    for _, s := range stored {
        if _, ok := fetchedByKey[s.Key]; ok {
            continue
        }
        s.Stale = true
        merged = append(merged, s)
        rep.StaleIssues++
    }

    rep.NewIssueCount = len(fetchedByKey)
    rep.Delta = rep.NewIssueCount - rep.OldIssueCount
    r.log.Debug().Str("sprint", sprintID).
        Int("old", rep.OldIssueCount).Int("new", rep.NewIssueCount).Int("delta", rep.Delta).
        Int("added", rep.NewIssues).Int("updated", rep.UpdatedIssues).Int("stale", rep.StaleIssues).
        Msg("reconcile: sprint merged")
    return merged, rep, nil
}

func dedupeFetched(sprintID string, fetched []domain.Issue) (map[string]domain.Issue, error) {
    out := make(map[string]domain.Issue, len(fetched))
    for _, f := range fetched {
        prev, dup := out[f.Key]
        if !dup {
            out[f.Key] = f
            continue
        }
        if !sameContent(prev, f) {
            return nil, &domain.SyncError{
                SprintID: sprintID,
                Kind:     domain.KindConflict,
                Err:      domain.ErrConflict,
                Message:  fmt.Sprintf("duplicate key %s with divergent content in fetched batch", f.Key),
            }
        }
    }
    return out, nil
}

// mergeIssue folds a fetched record over the stored one. Descriptive fields
// take the fetched value; the event history is the union of both, with a
// synthesized bridge event appended when the fetched history still does not
// explain the issue's current snapshot status.
func mergeIssue(stored, fetched domain.Issue, now func() time.Time) (domain.Issue, bool) {
    out := fetched
    out.Changelog = unionEvents(stored.Changelog, fetched.Changelog)
    if out.InitialStatus == "" {
        out.InitialStatus = stored.InitialStatus
    }
    if len(out.Changelog) > 0 && !out.Changelog[0].Synthesized {
        out.InitialStatus = out.Changelog[0].FromStatus
    }
    out.Stale = false

    synthesized := false
    current := domain.CurrentStatus(&out)
    if fetched.Status != "" && !strings.EqualFold(current, fetched.Status) {
        at := now().UTC()
        if fetched.UpdatedAt != nil {
            at = *fetched.UpdatedAt
        }
        seq := 0
        if n := len(out.Changelog); n > 0 {
            last := out.Changelog[n-1]
            if !at.After(last.Timestamp) {
                at = last.Timestamp
                seq = last.Seq + 1
            }
        }
        out.Changelog = append(out.Changelog, domain.StatusChangeEvent{
            IssueKey:    out.Key,
            FromStatus:  current,
            ToStatus:    fetched.Status,
            Timestamp:   at,
            Seq:         seq,
            Synthesized: true,
        })
        synthesized = true
    }
    return out, synthesized
}

// unionEvents merges two event lists, preferring real events over synthesized
// ones and never dropping a stored event the fetch no longer reports.
func unionEvents(stored, fetched []domain.StatusChangeEvent) []domain.StatusChangeEvent {
    type slot struct {
        ev   domain.StatusChangeEvent
        real bool
    }
    keyOf := func(e domain.StatusChangeEvent) string {
        return fmt.Sprintf("%d/%d/%s>%s", e.Timestamp.UnixNano(), e.Seq,
            strings.ToLower(e.FromStatus), strings.ToLower(e.ToStatus))
    }
    slots := map[string]slot{}
    for _, e := range stored {
        slots[keyOf(e)] = slot{ev: e, real: !e.Synthesized}
    }
    for _, e := range fetched {
        k := keyOf(e)
        if prev, ok := slots[k]; ok && prev.real {
            continue
        }
        slots[k] = slot{ev: e, real: !e.Synthesized}
    }

    // A previously synthesized bridge is dropped once a real event describes
    // the same transition.
    out := make([]domain.StatusChangeEvent, 0, len(slots))
    for _, s := range slots {
        if s.real {
            out = append(out, s.ev)
        }
    }
    for _, s := range slots {
        if s.real {
            continue
        }
        explained := false
        for _, r := range out {
            if !r.Synthesized && r.SameTransition(s.ev) {
                explained = true
                break
            }
        }
        if !explained {
            out = append(out, s.ev)
        }
    }
    return sortEvents(out)
}

func sortEvents(events []domain.StatusChangeEvent) []domain.StatusChangeEvent {
    sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })
    return events
}

func issueChanged(before, after domain.Issue) bool {
    if before.Stale != after.Stale {
        return true
    }
    if before.Status != after.Status || before.Summary != after.Summary ||
        before.Assignee != after.Assignee || before.Priority != after.Priority ||
        before.IssueType != after.IssueType || before.SprintID != after.SprintID {
        return true
    }
    if len(before.Changelog) != len(after.Changelog) || len(before.FixVersions) != len(after.FixVersions) {
        return true
    }
    for i := range before.Changelog {
        if before.Changelog[i] != after.Changelog[i] {
            return true
        }
    }
    for i := range before.FixVersions {
        if before.FixVersions[i] != after.FixVersions[i] {
            return true
        }
    }
    return false
}

func sameContent(a, b domain.Issue) bool { return !issueChanged(a, b) }
