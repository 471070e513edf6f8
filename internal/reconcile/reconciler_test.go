package reconcile

import (
    "testing"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/rs/zerolog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func testReconciler() *Reconciler {
    r := New(zerolog.Nop())
    r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
    return r
}

func at(day, hour int) time.Time {
    return time.Date(2026, 2, day, hour, 0, 0, 0, time.UTC)
}

func issue(key, status string, events ...domain.StatusChangeEvent) domain.Issue {
    initial := status
    if len(events) > 0 {
        initial = events[0].FromStatus
    }
    return domain.Issue{
        Key:           key,
        IssueType:     domain.TypeStory,
        Status:        status,
        InitialStatus: initial,
        Changelog:     events,
    }
}

func ev(key, from, to string, t time.Time) domain.StatusChangeEvent {
    return domain.StatusChangeEvent{IssueKey: key, FromStatus: from, ToStatus: to, Timestamp: t}
}

func TestMergeSprint_NewIssuesAndCounts(t *testing.T) {
    r := testReconciler()
    fetched := []domain.Issue{issue("S-1", "To Do"), issue("S-2", "In Progress")}

    merged, rep, err := r.MergeSprint("10", nil, fetched)
    require.NoError(t, err)
    require.Len(t, merged, 2)
    assert.Equal(t, 0, rep.OldIssueCount)
    assert.Equal(t, 2, rep.NewIssueCount)
    assert.Equal(t, 2, rep.Delta)
    assert.Equal(t, 2, rep.NewIssues)
}

func TestMergeSprint_Idempotent(t *testing.T) {
    r := testReconciler()
    fetched := []domain.Issue{
        issue("S-1", "QA", ev("S-1", "To Do", "In Progress", at(1, 9)), ev("S-1", "In Progress", "QA", at(2, 9))),
    }

    once, rep1, err := r.MergeSprint("10", nil, fetched)
    require.NoError(t, err)
    twice, rep2, err := r.MergeSprint("10", once, fetched)
    require.NoError(t, err)

    assert.Equal(t, once, twice)
    assert.Equal(t, rep1.NewIssueCount, rep2.NewIssueCount)
    assert.Equal(t, 0, rep2.Delta)
    assert.Equal(t, 0, rep2.UpdatedIssues)
    assert.Equal(t, 1, rep2.UnchangedIssues)
}

func TestMergeSprint_PreservesStoredHistory(t *testing.T) {
    r := testReconciler()
    stored := []domain.Issue{
        issue("S-1", "In Progress", ev("S-1", "To Do", "In Progress", at(1, 9))),
    }
    // Tracker truncated the changelog; the old event must survive the merge.
    fetched := []domain.Issue{
        issue("S-1", "QA", ev("S-1", "In Progress", "QA", at(2, 9))),
    }

    merged, _, err := r.MergeSprint("10", stored, fetched)
    require.NoError(t, err)
    require.Len(t, merged, 1)
    require.Len(t, merged[0].Changelog, 2)
    assert.Equal(t, "To Do", merged[0].Changelog[0].FromStatus)
    assert.Equal(t, "QA", merged[0].Changelog[1].ToStatus)
    assert.Equal(t, "QA", domain.CurrentStatus(&merged[0]))
}

func TestMergeSprint_SynthesizesMissingTransition(t *testing.T) {
    r := testReconciler()
    stored := []domain.Issue{
        issue("S-1", "In Progress", ev("S-1", "To Do", "In Progress", at(1, 9))),
    }
    // Status snapshot moved to Done but the fetched history does not say how.
    f := issue("S-1", "Done", ev("S-1", "To Do", "In Progress", at(1, 9)))
    updated := at(3, 10)
    f.UpdatedAt = &updated

    merged, rep, err := r.MergeSprint("10", stored, []domain.Issue{f})
    require.NoError(t, err)
    require.Len(t, merged, 1)
    assert.Equal(t, 1, rep.SynthesizedEvents)

    events := merged[0].Changelog
    require.Len(t, events, 2)
    last := events[len(events)-1]
    assert.True(t, last.Synthesized)
    assert.Equal(t, "In Progress", last.FromStatus)
    assert.Equal(t, "Done", last.ToStatus)
    assert.Equal(t, updated, last.Timestamp)
    assert.Equal(t, "Done", domain.CurrentStatus(&merged[0]))

    // Re-merging the same batch must not synthesize again.
    again, rep2, err := r.MergeSprint("10", merged, []domain.Issue{f})
    require.NoError(t, err)
    assert.Equal(t, 0, rep2.SynthesizedEvents)
    assert.Equal(t, merged, again)
}

func TestMergeSprint_RealEventReplacesSynthesized(t *testing.T) {
    r := testReconciler()
    stored := []domain.Issue{
        issue("S-1", "Done",
            ev("S-1", "To Do", "In Progress", at(1, 9)),
            domain.StatusChangeEvent{IssueKey: "S-1", FromStatus: "In Progress", ToStatus: "Done", Timestamp: at(3, 10), Synthesized: true},
        ),
    }
    // Later fetch delivers the real transition with its true timestamp.
    fetched := []domain.Issue{
        issue("S-1", "Done", ev("S-1", "To Do", "In Progress", at(1, 9)), ev("S-1", "In Progress", "Done", at(3, 8))),
    }

    merged, _, err := r.MergeSprint("10", stored, fetched)
    require.NoError(t, err)
    require.Len(t, merged, 1)
    require.Len(t, merged[0].Changelog, 2)
    for _, e := range merged[0].Changelog {
        assert.False(t, e.Synthesized)
    }
}

func TestMergeSprint_MissingIssuesGoStale(t *testing.T) {
    r := testReconciler()
    stored := []domain.Issue{issue("S-1", "Done"), issue("S-2", "To Do")}
    stored[0].SprintID = "10"
    stored[1].SprintID = "10"
    fetched := []domain.Issue{issue("S-1", "Done")}

    merged, rep, err := r.MergeSprint("10", stored, fetched)
    require.NoError(t, err)
    require.Len(t, merged, 2)
    assert.Equal(t, 1, rep.StaleIssues)
    assert.Equal(t, 2, rep.OldIssueCount)
    assert.Equal(t, 1, rep.NewIssueCount)
    assert.Equal(t, -1, rep.Delta)

    byKey := map[string]domain.Issue{}
    for _, m := range merged {
        byKey[m.Key] = m
    }
    assert.False(t, byKey["S-1"].Stale)
    assert.True(t, byKey["S-2"].Stale)
}

func TestMergeSprint_DuplicateKeyConflict(t *testing.T) {
    r := testReconciler()
    a := issue("S-1", "To Do")
    b := issue("S-1", "Done", ev("S-1", "To Do", "Done", at(2, 9)))

    _, _, err := r.MergeSprint("10", nil, []domain.Issue{a, b})
    require.Error(t, err)
    assert.ErrorIs(t, err, domain.ErrConflict)
    var se *domain.SyncError
    require.ErrorAs(t, err, &se)
    assert.Equal(t, domain.KindConflict, se.Kind)
    assert.Equal(t, "10", se.SprintID)
}

func TestMergeSprint_DuplicateIdenticalTolerated(t *testing.T) {
    r := testReconciler()
    a := issue("S-1", "To Do")

    merged, rep, err := r.MergeSprint("10", nil, []domain.Issue{a, a})
    require.NoError(t, err)
    assert.Len(t, merged, 1)
    assert.Equal(t, 1, rep.NewIssueCount)
}

func TestMergeSprint_SameInstantEventsKeepSeqOrder(t *testing.T) {
    r := testReconciler()
    ts := at(2, 9)
    fetched := []domain.Issue{
        issue("S-1", "QA",
            domain.StatusChangeEvent{IssueKey: "S-1", FromStatus: "To Do", ToStatus: "In Progress", Timestamp: ts, Seq: 0},
            domain.StatusChangeEvent{IssueKey: "S-1", FromStatus: "In Progress", ToStatus: "QA", Timestamp: ts, Seq: 1},
        ),
    }
    merged, _, err := r.MergeSprint("10", nil, fetched)
    require.NoError(t, err)
    require.Len(t, merged[0].Changelog, 2)
    assert.Equal(t, "QA", merged[0].Changelog[1].ToStatus)
    assert.Equal(t, "QA", domain.CurrentStatus(&merged[0]))
}
