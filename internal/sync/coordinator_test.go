package sync

import (
    "context"
    stdsync "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/HamedShams/sprint-pulse/internal/reconcile"
    "github.com/HamedShams/sprint-pulse/internal/store"
    "github.com/rs/zerolog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

var testCreds = domain.Credentials{XSRFToken: "x", AccountXSRFToken: "a", TenantSessionToken: "t"}

type fakeFetcher struct {
    mu      stdsync.Mutex
    sprints map[string][]domain.Issue
    active  []string
    errs    map[string]error
    calls   map[string]int
    block   chan struct{} // when set, FetchSprintIssues waits on it
}

func newFakeFetcher() *fakeFetcher {
    return &fakeFetcher{sprints: map[string][]domain.Issue{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) FetchSprintIssues(ctx context.Context, creds domain.Credentials, sprintID string) ([]domain.Issue, error) {
    f.mu.Lock()
    f.calls[sprintID]++
    block := f.block
    err := f.errs[sprintID]
    issues := append([]domain.Issue(nil), f.sprints[sprintID]...)
    f.mu.Unlock()
    if block != nil {
        <-block
    }
    if err != nil {
        return nil, err
    }
    return issues, nil
}

func (f *fakeFetcher) FetchActiveSprintIDs(ctx context.Context, creds domain.Credentials, known []string) ([]string, error) {
    return append([]string(nil), f.active...), nil
}

func (f *fakeFetcher) DiscoverSprintIDs(ctx context.Context, creds domain.Credentials, known []string) ([]string, error) {
    skip := map[string]struct{}{}
    for _, id := range known {
        skip[id] = struct{}{}
    }
    var ids []string
    for id := range f.sprints {
        if _, ok := skip[id]; !ok {
            ids = append(ids, id)
        }
    }
    for id := range f.errs {
        _, hasSprint := f.sprints[id]
        _, skipped := skip[id]
        if !hasSprint && !skipped {
            ids = append(ids, id)
        }
    }
    return ids, nil
}

func (f *fakeFetcher) fetchCount(sprintID string) int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.calls[sprintID]
}

type countingCache struct{ invalidations atomic.Int32 }

func (c *countingCache) InvalidateAll() { c.invalidations.Add(1) }

func sprintIssues(sprintID string, keys ...string) []domain.Issue {
    out := make([]domain.Issue, 0, len(keys))
    for _, k := range keys {
        out = append(out, domain.Issue{Key: k, SprintID: sprintID, Status: "To Do", InitialStatus: "To Do"})
    }
    return out
}

func newTestCoordinator(f *fakeFetcher, mem *store.Memory, caches ...Invalidator) *Coordinator {
    return NewCoordinator(f, mem, nil, reconcile.New(zerolog.Nop()), 4, zerolog.Nop(), caches...)
}

func TestFullImport_LoadsBatchWithoutTracker(t *testing.T) {
    f := newFakeFetcher()
    mem := store.NewMemory()
    c := newTestCoordinator(f, mem)

    batch := append(sprintIssues("10", "S-1", "S-2"), sprintIssues("11", "T-1")...)
    res, err := c.FullImport(context.Background(), batch)
    require.NoError(t, err)
    assert.Equal(t, OpFullImport, res.Operation)
    assert.NotEmpty(t, res.RunID)
    assert.Len(t, res.Succeeded, 2)
    assert.Empty(t, res.Failed)
    assert.Len(t, mem.SprintIssues("10"), 2)
    assert.Len(t, mem.SprintIssues("11"), 1)
    assert.Equal(t, 0, f.fetchCount("10"), "full-import must not touch the tracker")
}

func TestFullImport_RejectsIssuesWithoutSprint(t *testing.T) {
    c := newTestCoordinator(newFakeFetcher(), store.NewMemory())
    res, err := c.FullImport(context.Background(), []domain.Issue{{Key: "S-1"}})
    require.NoError(t, err)
    require.Len(t, res.Failed, 1)
    assert.Equal(t, domain.KindConflict, res.Failed[0].Kind)
}

func TestFetchNew_SkipsAlreadyKnownSprints(t *testing.T) {
    f := newFakeFetcher()
    f.sprints["10"] = sprintIssues("10", "S-1")
    f.sprints["11"] = sprintIssues("11", "T-1")
    mem := store.NewMemory()
    c := newTestCoordinator(f, mem)

    res, err := c.FetchNew(context.Background(), testCreds)
    require.NoError(t, err)
    require.Len(t, res.Succeeded, 2)
    require.Equal(t, 1, f.fetchCount("10"))

    // Second run with nothing new upstream: empty result, store untouched.
    before := mem.AllIssues()
    res, err = c.FetchNew(context.Background(), testCreds)
    require.NoError(t, err)
    assert.Empty(t, res.Succeeded)
    assert.Equal(t, 1, f.fetchCount("10"), "fetch-new must not refetch a stored sprint")
    assert.Equal(t, before, mem.AllIssues())

    // A sprint that appears later is picked up.
    f.mu.Lock()
    f.sprints["12"] = sprintIssues("12", "U-1")
    f.mu.Unlock()
    res, err = c.FetchNew(context.Background(), testCreds)
    require.NoError(t, err)
    require.Len(t, res.Succeeded, 1)
    assert.Equal(t, "12", res.Succeeded[0].SprintID)
}

func TestFullImportThenFetchNew_DoesNotReaddImportedSprint(t *testing.T) {
    f := newFakeFetcher()
    f.sprints["10"] = sprintIssues("10", "S-1")
    mem := store.NewMemory()
    c := newTestCoordinator(f, mem)

    _, err := c.FullImport(context.Background(), sprintIssues("10", "S-1"))
    require.NoError(t, err)

    res, err := c.FetchNew(context.Background(), testCreds)
    require.NoError(t, err)
    assert.Empty(t, res.Succeeded, "imported sprint must not come back as newly added")
    assert.Equal(t, 0, f.fetchCount("10"))
}

func TestDeltaUpdate_ReportsOldNewDelta(t *testing.T) {
    f := newFakeFetcher()
    f.sprints["10"] = sprintIssues("10", "S-1", "S-2", "S-3", "S-4", "S-5", "S-6", "S-7", "S-8", "S-9", "S-10")
    f.active = []string{"10"}
    mem := store.NewMemory()
    c := newTestCoordinator(f, mem)

    _, err := c.FetchNew(context.Background(), testCreds)
    require.NoError(t, err)

    f.mu.Lock()
    f.sprints["10"] = append(f.sprints["10"], sprintIssues("10", "S-11", "S-12")...)
    f.mu.Unlock()

    res, err := c.DeltaUpdate(context.Background(), testCreds)
    require.NoError(t, err)
    require.Len(t, res.Succeeded, 1)
    rep := res.Succeeded[0]
    assert.Equal(t, 10, rep.OldIssueCount)
    assert.Equal(t, 12, rep.NewIssueCount)
    assert.Equal(t, 2, rep.Delta)
    assert.Len(t, mem.SprintIssues("10"), 12)
}

func TestRun_PartialFailure(t *testing.T) {
    f := newFakeFetcher()
    f.sprints["10"] = sprintIssues("10", "S-1")
    f.errs["11"] = &domain.SyncError{SprintID: "11", Kind: domain.KindTransient, Err: domain.ErrTransient, Message: "boom"}
    mem := store.NewMemory()
    c := newTestCoordinator(f, mem)

    res, err := c.FetchNew(context.Background(), testCreds)
    require.NoError(t, err)
    require.Len(t, res.Succeeded, 1)
    require.Len(t, res.Failed, 1)
    assert.Equal(t, "11", res.Failed[0].SprintID)
    assert.Equal(t, domain.KindTransient, res.Failed[0].Kind)
    // The failed sprint must not leave partial state behind.
    assert.Empty(t, mem.SprintIssues("11"))
    assert.Len(t, mem.SprintIssues("10"), 1)
}

func TestRun_InvalidatesCachesOnlyWhenSomethingCommitted(t *testing.T) {
    f := newFakeFetcher()
    f.sprints["10"] = sprintIssues("10", "S-1")
    cacheA := &countingCache{}
    c := newTestCoordinator(f, store.NewMemory(), cacheA)

    _, err := c.FetchNew(context.Background(), testCreds)
    require.NoError(t, err)
    assert.Equal(t, int32(1), cacheA.invalidations.Load())

    // All-failing run leaves caches alone.
    f2 := newFakeFetcher()
    f2.errs["10"] = domain.ErrTransient
    cacheB := &countingCache{}
    c2 := newTestCoordinator(f2, store.NewMemory(), cacheB)
    _, err = c2.FetchNew(context.Background(), testCreds)
    require.NoError(t, err)
    assert.Equal(t, int32(0), cacheB.invalidations.Load())
}

func TestSyncSprint_BadCredentialsRejectedUpfront(t *testing.T) {
    f := newFakeFetcher()
    c := newTestCoordinator(f, store.NewMemory())

    _, err := c.SyncSprint(context.Background(), domain.Credentials{}, "10")
    require.Error(t, err)
    assert.ErrorIs(t, err, domain.ErrAuthRejected)
    assert.Equal(t, 0, f.fetchCount("10"))
}

func TestSyncSprint_ConcurrentCallsCollapse(t *testing.T) {
    f := newFakeFetcher()
    f.sprints["10"] = sprintIssues("10", "S-1")
    f.block = make(chan struct{})
    c := newTestCoordinator(f, store.NewMemory())

    const callers = 5
    var wg stdsync.WaitGroup
    results := make([]Result, callers)
    for i := 0; i < callers; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            res, err := c.SyncSprint(context.Background(), testCreds, "10")
            assert.NoError(t, err)
            results[i] = res
        }(i)
    }

    // Give every caller time to join the in-flight sync, then release it.
    require.Eventually(t, func() bool { return f.fetchCount("10") >= 1 }, time.Second, 5*time.Millisecond)
    time.Sleep(50 * time.Millisecond)
    close(f.block)
    wg.Wait()

    assert.Equal(t, 1, f.fetchCount("10"), "concurrent syncs of one sprint must share a single fetch")
    for _, res := range results {
        require.Len(t, res.Succeeded, 1)
        assert.Equal(t, 1, res.Succeeded[0].NewIssueCount)
    }
}
