package jira

import (
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/config"
    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/rs/zerolog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

var testCreds = domain.Credentials{XSRFToken: "x1", AccountXSRFToken: "a1", TenantSessionToken: "t1"}

func testClient(baseURL string) *Client {
    cfg := config.Config{
        JiraBaseURL:    baseURL,
        JiraProject:    "CMS",
        SprintField:    "customfield_10020",
        HTTPTimeout:    5 * time.Second,
        FetchPageSize:  2,
        RateLimitRPS:   1000,
        RateLimitBurst: 1000,
    }
    return NewClient(cfg, zerolog.Nop())
}

func page(issues []map[string]any, isLast bool, next string) map[string]any {
    return map[string]any{"issues": issues, "isLast": isLast, "nextPageToken": next}
}

func wireIssueJSON(key, status string, sprintID string, histories []map[string]any) map[string]any {
    return map[string]any{
        "key": key,
        "fields": map[string]any{
            "summary":   "summary of " + key,
            "issuetype": map[string]any{"name": "Story"},
            "status":    map[string]any{"name": status},
            "priority":  map[string]any{"name": "High"},
            "assignee":  map[string]any{"displayName": "Dana"},
            "created":   "2026-02-01T09:00:00.000+0000",
            "updated":   "2026-02-10T09:00:00.000+0000",
            "fixVersions": []map[string]any{{"name": "v1.0"}},
            "customfield_10020": []map[string]any{{
                "id": 12, "name": "Sprint 12", "state": "active",
                "startDate": "2026-02-01T00:00:00.000+0000",
                "endDate":   "2026-02-14T00:00:00.000+0000",
            }},
        },
        "changelog": map[string]any{"histories": histories},
    }
}

func TestFetchSprintIssues_PaginatesAndParses(t *testing.T) {
    var tokens []string
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        require.Equal(t, "/rest/api/3/search/jql", r.URL.Path)
        require.Equal(t, "changelog", r.URL.Query().Get("expand"))
        assert.Contains(t, r.Header.Get("Cookie"), "atlassian.xsrf.token=x1")
        assert.Contains(t, r.Header.Get("Cookie"), "tenant.session.token=t1")
        tokens = append(tokens, r.URL.Query().Get("nextPageToken"))

        var body map[string]any
        if r.URL.Query().Get("nextPageToken") == "" {
            histories := []map[string]any{
                {"created": "2026-02-03T10:00:00.000+0000", "items": []map[string]any{
                    {"field": "status", "fromString": "In Progress", "toString": "QA"},
                }},
                {"created": "2026-02-02T10:00:00.000+0000", "items": []map[string]any{
                    {"field": "status", "fromString": "To Do", "toString": "In Progress"},
                    {"field": "assignee", "fromString": "", "toString": "Dana"},
                }},
            }
            body = page([]map[string]any{
                wireIssueJSON("S-1", "QA", "12", histories),
                wireIssueJSON("S-2", "To Do", "12", nil),
            }, false, "tok-2")
        } else {
            body = page([]map[string]any{wireIssueJSON("S-3", "Done", "12", nil)}, true, "")
        }
        json.NewEncoder(w).Encode(body)
    }))
    defer srv.Close()

    issues, err := testClient(srv.URL).FetchSprintIssues(context.Background(), testCreds, "12")
    require.NoError(t, err)
    require.Len(t, issues, 3)
    assert.Equal(t, []string{"", "tok-2"}, tokens)

    first := issues[0]
    assert.Equal(t, "S-1", first.Key)
    assert.Equal(t, domain.TypeStory, first.IssueType)
    assert.Equal(t, "Dana", first.Assignee)
    assert.Equal(t, "12", first.SprintID)
    assert.Equal(t, "Sprint 12", first.SprintName)
    assert.Equal(t, []string{"v1.0"}, first.FixVersions)

    // Non-status changelog items are dropped; events come back in time order.
    require.Len(t, first.Changelog, 2)
    assert.Equal(t, "In Progress", first.Changelog[0].ToStatus)
    assert.Equal(t, "QA", first.Changelog[1].ToStatus)
    assert.Equal(t, "To Do", first.InitialStatus)
    assert.Equal(t, "QA", domain.CurrentStatus(&first))
}

func TestGetJSON_RetriesTransientThenSucceeds(t *testing.T) {
    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if calls.Add(1) == 1 {
            w.WriteHeader(http.StatusInternalServerError)
            return
        }
        json.NewEncoder(w).Encode(page(nil, true, ""))
    }))
    defer srv.Close()

    _, err := testClient(srv.URL).FetchSprintIssues(context.Background(), testCreds, "12")
    require.NoError(t, err)
    assert.Equal(t, int32(2), calls.Load())
}

func TestGetJSON_TransientExhaustsRetries(t *testing.T) {
    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls.Add(1)
        w.WriteHeader(http.StatusTooManyRequests)
    }))
    defer srv.Close()

    _, err := testClient(srv.URL).FetchSprintIssues(context.Background(), testCreds, "12")
    require.Error(t, err)
    assert.ErrorIs(t, err, domain.ErrTransient)
    assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestGetJSON_AuthRejectedNotRetried(t *testing.T) {
    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls.Add(1)
        w.WriteHeader(http.StatusUnauthorized)
    }))
    defer srv.Close()

    _, err := testClient(srv.URL).FetchSprintIssues(context.Background(), testCreds, "12")
    require.Error(t, err)
    assert.ErrorIs(t, err, domain.ErrAuthRejected)
    assert.Equal(t, int32(1), calls.Load())

    var se *domain.SyncError
    require.ErrorAs(t, err, &se)
    assert.Equal(t, "12", se.SprintID)
}

func TestGetJSON_NotFound(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusNotFound)
    }))
    defer srv.Close()

    _, err := testClient(srv.URL).FetchSprintIssues(context.Background(), testCreds, "12")
    require.Error(t, err)
    assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchActiveSprintIDs_FiltersByState(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        switch r.URL.Path {
        case "/rest/agile/1.0/sprint/10":
            json.NewEncoder(w).Encode(map[string]any{"state": "closed"})
        case "/rest/agile/1.0/sprint/11":
            json.NewEncoder(w).Encode(map[string]any{"state": "active"})
        default:
            w.WriteHeader(http.StatusNotFound)
        }
    }))
    defer srv.Close()

    // Sprint 12 probes 404; it is skipped, not fatal.
    active, err := testClient(srv.URL).FetchActiveSprintIDs(context.Background(), testCreds, []string{"10", "11", "12"})
    require.NoError(t, err)
    assert.Equal(t, []string{"11"}, active)
}

func TestDiscoverSprintIDs(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        issues := []map[string]any{
            wireIssueJSON("S-1", "Done", "12", nil),
            {"key": "S-2", "fields": map[string]any{
                "customfield_10020": []map[string]any{{"id": 7, "name": "Sprint 7"}, {"id": 12, "name": "Sprint 12"}},
            }},
        }
        json.NewEncoder(w).Encode(page(issues, true, ""))
    }))
    defer srv.Close()

    ids, err := testClient(srv.URL).DiscoverSprintIDs(context.Background(), testCreds, nil)
    require.NoError(t, err)
    assert.Equal(t, []string{"12", "7"}, ids)

    // Known sprints are excluded from discovery.
    ids, err = testClient(srv.URL).DiscoverSprintIDs(context.Background(), testCreds, []string{"12"})
    require.NoError(t, err)
    assert.Equal(t, []string{"7"}, ids)
}
