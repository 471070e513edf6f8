/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "sort"
    "strings"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/config"
    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/rs/zerolog"
    "golang.org/x/time/rate"
)

const (
    searchPath = "/rest/api/3/search/jql"
    sprintPath = "/rest/agile/1.0/sprint/"

    maxAttempts    = 3
    initialBackoff = time.Second
)

// Client talks to the tracker's REST API. Pagination is hidden from callers:
// every fetch pages until exhaustion and returns one logical sequence.
type Client struct {
    baseURL     string
    project     string
    teamID      string
    sprintField string
    pageSize    int
    http        *http.Client
    limiter     *rate.Limiter
    log         zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    size := cfg.FetchPageSize
    if size <= 0 { size = 100 }
    return &Client{
        baseURL:     strings.TrimRight(cfg.JiraBaseURL, "/"),
        project:     cfg.JiraProject,
        teamID:      cfg.JiraTeamID,
        sprintField: cfg.SprintField,
        pageSize:    size,
        http:        &http.Client{Timeout: cfg.HTTPTimeout},
        limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
        log:         log,
    }
}

// ---- wire shapes (tracker REST API v3) ----

type searchResponse struct {
    Issues        []wireIssue `json:"issues"`
    IsLast        bool        `json:"isLast"`
    NextPageToken string      `json:"nextPageToken"`
}

type wireIssue struct {
    Key       string         `json:"key"`
    Fields    wireFields     `json:"fields"`
    Changelog *wireChangelog `json:"changelog"`
}

type wireFields struct {
    Summary   string     `json:"summary"`
    IssueType *wireNamed `json:"issuetype"`
    Status    *wireNamed `json:"status"`
    Priority  *wireNamed `json:"priority"`
    Assignee  *struct {
        DisplayName string `json:"displayName"`
    } `json:"assignee"`
    Created     string       `json:"created"`
    Updated     string       `json:"updated"`
    FixVersions []wireNamed  `json:"fixVersions"`
    Sprints     []wireSprint `json:"customfield_10020"`
}

type wireNamed struct {
    Name string `json:"name"`
}

type wireSprint struct {
    ID        json.Number `json:"id"`
    Name      string      `json:"name"`
    State     string      `json:"state"`
    StartDate string      `json:"startDate"`
    EndDate   string      `json:"endDate"`
}

type wireChangelog struct {
    Histories []struct {
        Created string `json:"created"`
        Items   []struct {
            Field      string `json:"field"`
            FromString string `json:"fromString"`
            ToString   string `json:"toString"`
        } `json:"items"`
    } `json:"histories"`
}

type sprintStateResponse struct {
    State string `json:"state"`
}

// FetchSprintIssues returns every issue of a sprint with its full status
// changelog. A failed page fails the whole sprint fetch; no partial sequence
// is returned.
func (c *Client) FetchSprintIssues(ctx context.Context, creds domain.Credentials, sprintID string) ([]domain.Issue, error) {
    if sprintID == "" { return nil, &domain.SyncError{Kind: domain.KindNotFound, Err: domain.ErrNotFound, Message: "empty sprint id"} }
    jql := "Sprint = " + sprintID
    var out []domain.Issue
    token := ""
    for {
        q := url.Values{}
        q.Set("jql", jql)
        q.Set("expand", "changelog")
        q.Set("fields", "*all")
        q.Set("maxResults", fmt.Sprint(c.pageSize))
        if token != "" { q.Set("nextPageToken", token) }
        var page searchResponse
        if err := c.getJSON(ctx, creds, searchPath, q, &page); err != nil {
            return nil, wrapSprint(sprintID, err)
        }
        for _, wi := range page.Issues {
            out = append(out, c.toDomain(wi, sprintID))
        }
        c.log.Debug().Str("sprint", sprintID).Int("fetched", len(out)).Msg("jira: sprint page")
        if page.IsLast || page.NextPageToken == "" { break }
        token = page.NextPageToken
    }
    c.log.Info().Str("sprint", sprintID).Int("issues", len(out)).Msg("jira: sprint fetched")
    return out, nil
}

// FetchActiveSprintIDs probes the state of each known sprint and returns the
// active ones. A failed probe is logged and skipped; it never fails the batch.
func (c *Client) FetchActiveSprintIDs(ctx context.Context, creds domain.Credentials, known []string) ([]string, error) {
    var active []string
    for _, id := range known {
        var st sprintStateResponse
        err := c.getJSON(ctx, creds, sprintPath+url.PathEscape(id), nil, &st)
        if err != nil {
            if errors.Is(err, domain.ErrAuthRejected) { return nil, err }
            if ctx.Err() != nil { return nil, ctx.Err() }
            c.log.Warn().Err(err).Str("sprint", id).Msg("jira: sprint state probe failed")
            continue
        }
        c.log.Debug().Str("sprint", id).Str("state", st.State).Msg("jira: sprint state")
        if strings.EqualFold(st.State, "active") {
            active = append(active, id)
        }
    }
    sort.Strings(active)
    return active, nil
}

// DiscoverSprintIDs scans the team's issues for sprint field values and
// returns every sprint ID not already in known, sorted for reproducibility.
func (c *Client) DiscoverSprintIDs(ctx context.Context, creds domain.Credentials, known []string) ([]string, error) {
    jql := fmt.Sprintf("project = %q", c.project)
    if c.teamID != "" {
        jql += fmt.Sprintf(" AND \"Team[Team]\" = %s", c.teamID)
    }
    skip := make(map[string]struct{}, len(known))
    for _, id := range known { skip[id] = struct{}{} }
    seen := map[string]struct{}{}
    token := ""
    for {
        q := url.Values{}
        q.Set("jql", jql)
        q.Set("fields", c.sprintField)
        q.Set("maxResults", fmt.Sprint(c.pageSize))
        if token != "" { q.Set("nextPageToken", token) }
        var page searchResponse
        if err := c.getJSON(ctx, creds, searchPath, q, &page); err != nil {
            return nil, err
        }
        for _, wi := range page.Issues {
            for _, sp := range wi.Fields.Sprints {
                id := sp.ID.String()
                if id == "" { continue }
                if _, ok := skip[id]; ok { continue }
                seen[id] = struct{}{}
            }
        }
        c.log.Debug().Int("sprints", len(seen)).Msg("jira: discovery page")
        if page.IsLast || page.NextPageToken == "" { break }
        token = page.NextPageToken
    }
    ids := make([]string, 0, len(seen))
    for id := range seen { ids = append(ids, id) }
    sort.Strings(ids)
    return ids, nil
}

// getJSON issues one GET with bounded retries. Only transient failures
// (429, 5xx, network) are retried, with exponential backoff; auth rejections
// and not-found surface immediately.
func (c *Client) getJSON(ctx context.Context, creds domain.Credentials, path string, q url.Values, out any) error {
    u := c.baseURL + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    var lastErr error
    for attempt := 0; attempt < maxAttempts; attempt++ {
        if attempt > 0 {
            backoff := initialBackoff << (attempt - 1)
            select {
            case <-ctx.Done():
                return ctx.Err()
            case <-time.After(backoff):
            }
        }
        if err := c.limiter.Wait(ctx); err != nil { return err }
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
        if err != nil { return err }
        req.Header.Set("Cookie", creds.CookieHeader())
        req.Header.Set("Accept", "application/json")
        resp, err := c.http.Do(req)
        if err != nil {
            if ctx.Err() != nil { return ctx.Err() }
            lastErr = &domain.SyncError{Kind: domain.KindTransient, Err: domain.ErrTransient, Message: err.Error()}
            continue
        }
        body, readErr := io.ReadAll(resp.Body)
        resp.Body.Close()
        switch {
        case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
            return &domain.SyncError{Kind: domain.KindAuthRejected, Err: domain.ErrAuthRejected,
                Message: fmt.Sprintf("status=%d body=%s", resp.StatusCode, trim(body))}
        case resp.StatusCode == http.StatusNotFound:
            return &domain.SyncError{Kind: domain.KindNotFound, Err: domain.ErrNotFound,
                Message: fmt.Sprintf("status=%d", resp.StatusCode)}
        case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
            lastErr = &domain.SyncError{Kind: domain.KindTransient, Err: domain.ErrTransient,
                Message: fmt.Sprintf("status=%d body=%s", resp.StatusCode, trim(body))}
            continue
        case resp.StatusCode >= 300:
            return &domain.SyncError{Kind: domain.KindTransient, Err: domain.ErrTransient,
                Message: fmt.Sprintf("status=%d body=%s", resp.StatusCode, trim(body))}
        }
        if readErr != nil {
            lastErr = &domain.SyncError{Kind: domain.KindTransient, Err: domain.ErrTransient, Message: readErr.Error()}
            continue
        }
        if err := json.Unmarshal(body, out); err != nil {
            return &domain.SyncError{Kind: domain.KindTransient, Err: domain.ErrTransient, Message: "decode: " + err.Error()}
        }
        return nil
    }
    return lastErr
}

func (c *Client) toDomain(wi wireIssue, sprintID string) domain.Issue {
    f := wi.Fields
    iss := domain.Issue{
        Key:       wi.Key,
        Summary:   f.Summary,
        SprintID:  sprintID,
        CreatedAt: parseTime(f.Created),
        UpdatedAt: parseTime(f.Updated),
    }
    if f.IssueType != nil { iss.IssueType = domain.ParseIssueType(f.IssueType.Name) } else { iss.IssueType = domain.TypeOther }
    if f.Status != nil { iss.Status = f.Status.Name }
    if f.Priority != nil { iss.Priority = f.Priority.Name }
    if f.Assignee != nil { iss.Assignee = f.Assignee.DisplayName }
    for _, v := range f.FixVersions {
        if v.Name != "" { iss.FixVersions = append(iss.FixVersions, v.Name) }
    }
    // An issue that moved between sprints carries all of them; membership is
    // the most recent entry, falling back to the one actually fetched.
    sprint := pickSprint(f.Sprints, sprintID)
    if sprint != nil {
        iss.SprintName = sprint.Name
        iss.SprintStart = parseTime(sprint.StartDate)
        iss.SprintEnd = parseTime(sprint.EndDate)
    }
    iss.Changelog = extractStatusEvents(wi)
    if len(iss.Changelog) > 0 {
        iss.InitialStatus = iss.Changelog[0].FromStatus
    } else {
        iss.InitialStatus = iss.Status
    }
    return iss
}

func pickSprint(sprints []wireSprint, sprintID string) *wireSprint {
    for i := range sprints {
        if sprints[i].ID.String() == sprintID { return &sprints[i] }
    }
    if n := len(sprints); n > 0 { return &sprints[n-1] }
    return nil
}

// extractStatusEvents flattens changelog histories into the ordered event
// list: sorted by timestamp, sequence numbers assigned within equal instants.
func extractStatusEvents(wi wireIssue) []domain.StatusChangeEvent {
    if wi.Changelog == nil { return nil }
    var events []domain.StatusChangeEvent
    for _, h := range wi.Changelog.Histories {
        at := parseTime(h.Created)
        if at == nil { continue }
        for _, item := range h.Items {
            if !strings.EqualFold(item.Field, "status") { continue }
            events = append(events, domain.StatusChangeEvent{
                IssueKey:   wi.Key,
                FromStatus: item.FromString,
                ToStatus:   item.ToString,
                Timestamp:  *at,
            })
        }
    }
    sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
    for i := range events {
        if i > 0 && events[i].Timestamp.Equal(events[i-1].Timestamp) {
            events[i].Seq = events[i-1].Seq + 1
        }
    }
    return events
}

func parseTime(s string) *time.Time {
    if s == "" { return nil }
    layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"}
    for _, l := range layouts {
        if t, err := time.Parse(l, s); err == nil {
            tt := t.UTC()
            return &tt
        }
    }
    return nil
}

func trim(b []byte) string {
    s := strings.TrimSpace(string(b))
    if len(s) > 256 { s = s[:256] }
    return s
}

func wrapSprint(sprintID string, err error) error {
    var se *domain.SyncError
    if errors.As(err, &se) && se.SprintID == "" {
        return &domain.SyncError{SprintID: sprintID, Kind: se.Kind, Message: se.Message, Err: se.Err}
    }
    return err
}
