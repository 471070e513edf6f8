package metrics

import (
    "math"
    "sort"
    "strings"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/HamedShams/sprint-pulse/internal/store"
    "github.com/rs/zerolog"
)

// trend thresholds, in percentage points of QA failure ratio between the two
// most recent sprints.
const trendBand = 5.0

const (
    TrendUp     = "UP"
    TrendDown   = "DOWN"
    TrendStable = "STABLE"
)

type QaSprintRow struct {
    SprintName   string  `json:"sprintName"`
    SprintID     string  `json:"sprintId"`
    QaTested     int     `json:"qaTested"`
    QaFailed     int     `json:"qaFailed"`
    FailureRatio float64 `json:"failureRatio"`
}

type QaSummary struct {
    TotalQaTested       int           `json:"totalQaTested"`
    TotalQaFailed       int           `json:"totalQaFailed"`
    OverallFailureRatio float64       `json:"overallFailureRatio"`
    Trend               string        `json:"trend"`
    Sprints             []QaSprintRow `json:"sprints"`
}

// DeveloperSummary breaks delivery and QA outcomes down for one assignee.
// P1 through P4 count bugs at the tracker's Highest through Low priorities.
type DeveloperSummary struct {
    Developer           string  `json:"developer"`
    TotalIssues         int     `json:"totalIssues"`
    TotalBugs           int     `json:"totalBugs"`
    TotalStories        int     `json:"totalStories"`
    CompletedIssues     int     `json:"completedIssues"`
    TotalQaTested       int     `json:"totalQaTested"`
    QaFailed            int     `json:"qaFailed"`
    QaFailureRatio      float64 `json:"qaFailureRatio"`
    DevDeliveredStories int     `json:"devDeliveredStories"`
    QaDeliveredStories  int     `json:"qaDeliveredStories"`
    P1Bugs              int     `json:"p1Bugs"`
    P2Bugs              int     `json:"p2Bugs"`
    P3Bugs              int     `json:"p3Bugs"`
    P4Bugs              int     `json:"p4Bugs"`
}

// Aggregator computes sprint, fix-version, developer and QA reports from the
// store.
type Aggregator struct {
    store store.Reader
    log   zerolog.Logger
}

func NewAggregator(s store.Reader, log zerolog.Logger) *Aggregator {
    return &Aggregator{store: s, log: log}
}

// SprintSummaries returns one summary per known sprint, most recent first
// (end date descending, then name descending). Stale issues are excluded
// from all counters; a known sprint whose members all went stale still
// appears, with zero counters.
func (a *Aggregator) SprintSummaries() []domain.SprintSummary {
    groups := a.groupBySprint()
    out := make([]domain.SprintSummary, 0, len(groups))
    for _, g := range groups {
        out = append(out, summarizeSprint(g))
    }
    sort.Slice(out, func(i, j int) bool {
        ei, ej := out[i].EndDate, out[j].EndDate
        switch {
        case ei == nil && ej != nil:
            return false
        case ei != nil && ej == nil:
            return true
        case ei != nil && ej != nil && !ei.Equal(*ej):
            return ei.After(*ej)
        }
        return out[i].SprintName > out[j].SprintName
    })
    return out
}

// SprintSummary resolves a sprint by ID or, failing that, by name.
func (a *Aggregator) SprintSummary(idOrName string) (domain.SprintSummary, error) {
    g, err := a.findSprint(idOrName)
    if err != nil {
        return domain.SprintSummary{}, err
    }
    return summarizeSprint(g), nil
}

// SprintIssues lists a sprint's members deduplicated by key, ordered by
// issue type then key.
func (a *Aggregator) SprintIssues(idOrName string) ([]domain.IssueDetail, error) {
    g, err := a.findSprint(idOrName)
    if err != nil {
        return nil, err
    }
    return issueDetails(g.Members), nil
}

// FixVersionSummaries returns one summary per release version seen across
// the whole store. An issue tagged with several versions counts toward each.
func (a *Aggregator) FixVersionSummaries() []domain.FixVersionSummary {
    groups := map[string][]domain.Issue{}
    for _, iss := range a.liveIssues() {
        for _, v := range iss.FixVersions {
            groups[v] = append(groups[v], iss)
        }
    }
    names := make([]string, 0, len(groups))
    for name := range groups {
        names = append(names, name)
    }
    sort.Strings(names)
    out := make([]domain.FixVersionSummary, 0, len(names))
    for _, name := range names {
        out = append(out, summarizeVersion(name, groups[name]))
    }
    return out
}

func (a *Aggregator) FixVersionSummary(name string) (domain.FixVersionSummary, error) {
    canonical, members, err := a.versionMembers(name)
    if err != nil {
        return domain.FixVersionSummary{}, err
    }
    return summarizeVersion(canonical, members), nil
}

func (a *Aggregator) FixVersionIssues(name string) ([]domain.IssueDetail, error) {
    _, members, err := a.versionMembers(name)
    if err != nil {
        return nil, err
    }
    return issueDetails(members), nil
}

func (a *Aggregator) versionMembers(name string) (string, []domain.Issue, error) {
    canonical := name
    var members []domain.Issue
    for _, iss := range a.liveIssues() {
        for _, v := range iss.FixVersions {
            if strings.EqualFold(v, name) {
                canonical = v
                members = append(members, iss)
                break
            }
        }
    }
    if len(members) == 0 {
        return "", nil, &domain.SyncError{Kind: domain.KindNotFound, Err: domain.ErrNotFound, Message: "fix version " + name}
    }
    return canonical, members, nil
}

// DeveloperSummaries groups live issues by assignee, ordered by developer
// name. Unassigned issues are left out.
func (a *Aggregator) DeveloperSummaries() []DeveloperSummary {
    groups := map[string][]domain.Issue{}
    for _, iss := range a.liveIssues() {
        if iss.Assignee == "" {
            continue
        }
        groups[iss.Assignee] = append(groups[iss.Assignee], iss)
    }
    names := make([]string, 0, len(groups))
    for name := range groups {
        names = append(names, name)
    }
    sort.Strings(names)
    out := make([]DeveloperSummary, 0, len(names))
    for _, name := range names {
        members := groups[name]
        c := count(members)
        d := DeveloperSummary{
            Developer:           name,
            TotalIssues:         c.total,
            TotalBugs:           c.bugs,
            TotalStories:        c.stories,
            CompletedIssues:     c.completed,
            TotalQaTested:       c.qaTested,
            QaFailed:            c.qaFailed,
            QaFailureRatio:      pct(c.qaFailed, c.qaTested),
            DevDeliveredStories: c.devDelivered,
            QaDeliveredStories:  c.qaDelivered,
        }
        for i := range members {
            if members[i].IssueType != domain.TypeBug {
                continue
            }
            switch strings.ToLower(members[i].Priority) {
            case "highest":
                d.P1Bugs++
            case "high":
                d.P2Bugs++
            case "medium":
                d.P3Bugs++
            case "low":
                d.P4Bugs++
            }
        }
        out = append(out, d)
    }
    return out
}

// QaSummaryReport aggregates QA outcomes across all sprints, with a trend
// comparing the two most recent sprints' failure ratios.
func (a *Aggregator) QaSummaryReport() QaSummary {
    summaries := a.SprintSummaries()
    out := QaSummary{Trend: TrendStable}
    for _, s := range summaries {
        out.TotalQaTested += s.TotalQaTested
        out.TotalQaFailed += s.QaFailed
        out.Sprints = append(out.Sprints, QaSprintRow{
            SprintName:   s.SprintName,
            SprintID:     s.SprintID,
            QaTested:     s.TotalQaTested,
            QaFailed:     s.QaFailed,
            FailureRatio: s.QaFailureRatio,
        })
    }
    out.OverallFailureRatio = pct(out.TotalQaFailed, out.TotalQaTested)
    if len(summaries) >= 2 {
        diff := summaries[0].QaFailureRatio - summaries[1].QaFailureRatio
        switch {
        case diff > trendBand:
            out.Trend = TrendUp
        case diff < -trendBand:
            out.Trend = TrendDown
        }
    }
    return out
}

// TopQaFailures returns the n sprints with the highest QA failure ratio,
// ties broken by name for a stable order.
func (a *Aggregator) TopQaFailures(n int) []QaSprintRow {
    if n <= 0 {
        n = 5
    }
    rows := a.QaSummaryReport().Sprints
    sort.SliceStable(rows, func(i, j int) bool {
        if rows[i].FailureRatio != rows[j].FailureRatio {
            return rows[i].FailureRatio > rows[j].FailureRatio
        }
        return rows[i].SprintName < rows[j].SprintName
    })
    if len(rows) > n {
        rows = rows[:n]
    }
    return rows
}

// ---- internals ----

// sprintGroup is one sprint's identity plus its live members. A sprint whose
// latest fetch left no live members keeps its identity from the stale records.
type sprintGroup struct {
    ID      string
    Name    string
    Start   *time.Time
    End     *time.Time
    Members []domain.Issue
}

func (a *Aggregator) liveIssues() []domain.Issue {
    all := a.store.AllIssues()
    out := all[:0]
    for _, iss := range all {
        if !iss.Stale {
            out = append(out, iss)
        }
    }
    return out
}

// groupBySprint resolves sprint identity from the store's fetch bookkeeping,
// not just from live members, so a fetched-but-now-empty sprint stays
// reportable with zero counters.
func (a *Aggregator) groupBySprint() []sprintGroup {
    live := map[string][]domain.Issue{}
    for _, iss := range a.liveIssues() {
        if iss.SprintID == "" {
            continue
        }
        live[iss.SprintID] = append(live[iss.SprintID], iss)
    }
    ids := map[string]struct{}{}
    for id := range live {
        ids[id] = struct{}{}
    }
    for _, id := range a.store.KnownSprintIDs() {
        ids[id] = struct{}{}
    }
    ordered := make([]string, 0, len(ids))
    for id := range ids {
        ordered = append(ordered, id)
    }
    sort.Strings(ordered)
    out := make([]sprintGroup, 0, len(ordered))
    for _, id := range ordered {
        g := sprintGroup{ID: id, Members: live[id]}
        identity := g.Members
        if len(identity) == 0 {
            // Stale members still carry the sprint name and dates.
            identity = a.store.SprintIssues(id)
        }
        for _, iss := range identity {
            if g.Name == "" {
                g.Name = iss.SprintName
            }
            if g.Start == nil {
                g.Start = iss.SprintStart
            }
            if g.End == nil {
                g.End = iss.SprintEnd
            }
        }
        out = append(out, g)
    }
    return out
}

func (a *Aggregator) findSprint(idOrName string) (sprintGroup, error) {
    var byName *sprintGroup
    for _, g := range a.groupBySprint() {
        if g.ID == idOrName {
            return g, nil
        }
        if g.Name != "" && strings.EqualFold(g.Name, idOrName) {
            gg := g
            byName = &gg
        }
    }
    if byName != nil {
        return *byName, nil
    }
    return sprintGroup{}, &domain.SyncError{SprintID: idOrName, Kind: domain.KindNotFound, Err: domain.ErrNotFound, Message: "unknown sprint"}
}

func summarizeSprint(g sprintGroup) domain.SprintSummary {
    s := domain.SprintSummary{SprintID: g.ID, SprintName: g.Name, StartDate: g.Start, EndDate: g.End}
    if s.StartDate != nil && s.EndDate != nil && s.EndDate.After(*s.StartDate) {
        s.SprintLengthDays = int(s.EndDate.Sub(*s.StartDate).Hours() / 24)
    }
    c := count(g.Members)
    s.TotalIssues = c.total
    s.TotalBugs = c.bugs
    s.TotalStories = c.stories
    s.TotalTasks = c.tasks
    s.TotalSubTasks = c.subTasks
    s.TotalOther = c.other
    s.CompletedIssues = c.completed
    s.InProgressIssues = c.inProgress
    s.PendingIssues = c.pending
    s.CompletionPercentage = pct(c.completed, c.total)
    s.TotalQaTested = c.qaTested
    s.QaFailed = c.qaFailed
    s.QaFailureRatio = pct(c.qaFailed, c.qaTested)
    s.DevDeliveredStories = c.devDelivered
    s.DevDeliveryPct = pct(c.devDelivered, c.stories)
    s.QaDeliveredStories = c.qaDelivered
    s.QaDeliveryPct = pct(c.qaDelivered, c.stories)
    return s
}

func summarizeVersion(name string, issues []domain.Issue) domain.FixVersionSummary {
    c := count(issues)
    return domain.FixVersionSummary{
        VersionName:          name,
        TotalIssues:          c.total,
        TotalBugs:            c.bugs,
        TotalStories:         c.stories,
        TotalTasks:           c.tasks,
        TotalSubTasks:        c.subTasks,
        TotalOther:           c.other,
        CompletedIssues:      c.completed,
        CompletionPercentage: pct(c.completed, c.total),
        InProgressIssues:     c.inProgress,
        PendingIssues:        c.pending,
        TotalQaTested:        c.qaTested,
        QaFailed:             c.qaFailed,
        QaFailureRatio:       pct(c.qaFailed, c.qaTested),
        DevDeliveredStories:  c.devDelivered,
        DevDeliveryPct:       pct(c.devDelivered, c.stories),
        QaDeliveredStories:   c.qaDelivered,
        QaDeliveryPct:        pct(c.qaDelivered, c.stories),
    }
}

type counters struct {
    total, bugs, stories, tasks, subTasks, other int
    completed, inProgress, pending               int
    qaTested, qaFailed                           int
    devDelivered, qaDelivered                    int
}

func count(issues []domain.Issue) counters {
    var c counters
    for i := range issues {
        iss := issues[i]
        c.total++
        switch iss.IssueType {
        case domain.TypeBug:
            c.bugs++
        case domain.TypeStory:
            c.stories++
        case domain.TypeTask:
            c.tasks++
        case domain.TypeSubTask:
            c.subTasks++
        default:
            c.other++
        }
        switch Classify(&iss) {
        case BucketCompleted:
            c.completed++
        case BucketInProgress:
            c.inProgress++
        default:
            c.pending++
        }
        if WasQaTested(&iss) {
            c.qaTested++
        }
        if QaFailed(&iss) {
            c.qaFailed++
        }
        if iss.IssueType == domain.TypeStory {
            if DevDelivered(&iss) {
                c.devDelivered++
            }
            if QaDelivered(&iss) {
                c.qaDelivered++
            }
        }
    }
    return c
}

func issueDetails(issues []domain.Issue) []domain.IssueDetail {
    seen := map[string]struct{}{}
    out := make([]domain.IssueDetail, 0, len(issues))
    for i := range issues {
        iss := issues[i]
        if _, dup := seen[iss.Key]; dup {
            continue
        }
        seen[iss.Key] = struct{}{}
        out = append(out, domain.IssueDetail{
            Key:          iss.Key,
            Summary:      iss.Summary,
            IssueType:    string(iss.IssueType),
            Status:       domain.CurrentStatus(&iss),
            Priority:     iss.Priority,
            Assignee:     iss.Assignee,
            DevDelivered: DevDelivered(&iss),
            QaDelivered:  QaDelivered(&iss),
        })
    }
    sort.Slice(out, func(i, j int) bool {
        if out[i].IssueType != out[j].IssueType {
            return out[i].IssueType < out[j].IssueType
        }
        return out[i].Key < out[j].Key
    })
    return out
}

// pct is the shared zero-division guard: 0/0 is 0, never NaN.
func pct(num, den int) float64 {
    if den == 0 {
        return 0
    }
    return math.Round(float64(num)/float64(den)*100*100) / 100
}
