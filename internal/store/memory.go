package store

import (
    "sort"
    "sync"

    "github.com/HamedShams/sprint-pulse/internal/domain"
)

// Memory is the canonical in-process store. Issues are keyed by tracker key;
// each key belongs to exactly one sprint at a time, and a commit moves the
// whole sprint in one critical section so readers always observe a sprint
// either entirely before or entirely after a merge.
type Memory struct {
    mu       sync.RWMutex
    issues   map[string]domain.Issue            // key -> record
    sprints  map[string]map[string]struct{}     // sprintID -> member keys
    fetches  map[string]domain.FetchRecord      // sprintID -> bookkeeping
}

func NewMemory() *Memory {
    return &Memory{
        issues:  map[string]domain.Issue{},
        sprints: map[string]map[string]struct{}{},
        fetches: map[string]domain.FetchRecord{},
    }
}

// Load replaces the whole store content, used to warm up from the durable
// mirror at startup.
func (m *Memory) Load(issues []domain.Issue, records []domain.FetchRecord) {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.issues = make(map[string]domain.Issue, len(issues))
    m.sprints = map[string]map[string]struct{}{}
    m.fetches = make(map[string]domain.FetchRecord, len(records))
    for _, iss := range issues {
        m.issues[iss.Key] = copyIssue(iss)
        m.index(iss.SprintID, iss.Key)
    }
    for _, r := range records {
        m.fetches[r.SprintID] = r
    }
}

// CommitSprint atomically replaces the membership of one sprint with the
// merged issue set. Issues previously in the sprint but absent from the new
// set are kept and flagged stale; an incoming issue that belonged to another
// sprint is reassigned (last fetch wins).
func (m *Memory) CommitSprint(sprintID string, issues []domain.Issue, rec domain.FetchRecord) {
    m.mu.Lock()
    defer m.mu.Unlock()

    incoming := make(map[string]struct{}, len(issues))
    for _, iss := range issues {
        incoming[iss.Key] = struct{}{}
    }
    for key := range m.sprints[sprintID] {
        if _, ok := incoming[key]; ok {
            continue
        }
        old := m.issues[key]
        old.Stale = true
        m.issues[key] = old
    }
    for _, iss := range issues {
        if prev, ok := m.issues[iss.Key]; ok && prev.SprintID != sprintID {
            delete(m.sprints[prev.SprintID], iss.Key)
        }
        iss.SprintID = sprintID
        iss.Stale = false
        m.issues[iss.Key] = copyIssue(iss)
        m.index(sprintID, iss.Key)
    }
    m.fetches[sprintID] = rec
}

func (m *Memory) AllIssues() []domain.Issue {
    m.mu.RLock()
    defer m.mu.RUnlock()
    out := make([]domain.Issue, 0, len(m.issues))
    for _, iss := range m.issues {
        out = append(out, copyIssue(iss))
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
    return out
}

func (m *Memory) SprintIssues(sprintID string) []domain.Issue {
    m.mu.RLock()
    defer m.mu.RUnlock()
    keys := m.sprints[sprintID]
    out := make([]domain.Issue, 0, len(keys))
    for key := range keys {
        out = append(out, copyIssue(m.issues[key]))
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
    return out
}

func (m *Memory) KnownSprintIDs() []string {
    m.mu.RLock()
    defer m.mu.RUnlock()
    ids := make([]string, 0, len(m.fetches))
    for id := range m.fetches {
        ids = append(ids, id)
    }
    sort.Strings(ids)
    return ids
}

func (m *Memory) FetchRecord(sprintID string) (domain.FetchRecord, bool) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    rec, ok := m.fetches[sprintID]
    return rec, ok
}

func (m *Memory) FetchRecords() []domain.FetchRecord {
    m.mu.RLock()
    defer m.mu.RUnlock()
    out := make([]domain.FetchRecord, 0, len(m.fetches))
    for _, r := range m.fetches {
        out = append(out, r)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].SprintID < out[j].SprintID })
    return out
}

func (m *Memory) Status() Status {
    m.mu.RLock()
    defer m.mu.RUnlock()
    st := Status{TotalIssues: len(m.issues), TotalSprints: len(m.fetches)}
    for _, r := range m.fetches {
        st.Sprints = append(st.Sprints, r)
        if st.LastFetchAt == nil || r.FetchedAt.After(*st.LastFetchAt) {
            at := r.FetchedAt
            st.LastFetchAt = &at
        }
    }
    sort.Slice(st.Sprints, func(i, j int) bool { return st.Sprints[i].SprintID < st.Sprints[j].SprintID })
    return st
}

func (m *Memory) index(sprintID, key string) {
    set := m.sprints[sprintID]
    if set == nil {
        set = map[string]struct{}{}
        m.sprints[sprintID] = set
    }
    set[key] = struct{}{}
}

// copyIssue deep-copies the slices so a stored record can never alias a
// caller's buffers.
func copyIssue(iss domain.Issue) domain.Issue {
    out := iss
    if iss.FixVersions != nil {
        out.FixVersions = append([]string(nil), iss.FixVersions...)
    }
    if iss.Changelog != nil {
        out.Changelog = append([]domain.StatusChangeEvent(nil), iss.Changelog...)
    }
    return out
}
