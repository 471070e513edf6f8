/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
    "log"
    "os"
    "strconv"
    "strings"
    "time"
)

type Config struct {
    AppEnv   string
    TZ       string
    HTTPAddr string
    LogLevel string

    DBDSN string

    JiraBaseURL    string
    JiraProject    string
    JiraTeamID     string
    SprintField    string
    HTTPTimeout    time.Duration
    FetchPageSize  int
    RateLimitRPS   float64
    RateLimitBurst int

    // Session tokens for the scheduled job only; interactive requests carry
    // their own credentials in the request body.
    JiraXSRFToken          string
    JiraAccountXSRFToken   string
    JiraTenantSessionToken string

    SyncCron    string
    SyncWorkers int

    CacheTTL time.Duration
}

func getenv(key, def string) string {
    v := os.Getenv(key)
    if v == "" { return def }
    return v
}

func atoi(key string, def int) int {
    v := os.Getenv(key)
    if v == "" { return def }
    i, err := strconv.Atoi(v)
    if err != nil { return def }
    return i
}

func atof(key string, def float64) float64 {
    v := os.Getenv(key)
    if v == "" { return def }
    f, err := strconv.ParseFloat(v, 64)
    if err != nil { return def }
    return f
}

func dur(key string, def time.Duration) time.Duration {
    v := os.Getenv(key)
    if v == "" { return def }
    d, err := time.ParseDuration(v)
    if err != nil { return def }
    return d
}

func Load() Config {
    cfg := Config{
        AppEnv:   getenv("APP_ENV", "dev"),
        TZ:       getenv("APP_TZ", "UTC"),
        HTTPAddr: getenv("HTTP_ADDR", ":8080"),
        LogLevel: getenv("LOG_LEVEL", ""),

        DBDSN: getenv("DB_DSN", ""),

        JiraBaseURL:    strings.TrimRight(getenv("JIRA_BASE_URL", "https://gspcloud.atlassian.net"), "/"),
        JiraProject:    getenv("JIRA_PROJECT", "GPE Discovery Engineering CMS"),
        JiraTeamID:     getenv("JIRA_TEAM_ID", ""),
        SprintField:    getenv("JIRA_SPRINT_FIELD", "customfield_10020"),
        HTTPTimeout:    dur("HTTP_TIMEOUT", 60*time.Second),
        FetchPageSize:  atoi("JIRA_PAGE_SIZE", 100),
        RateLimitRPS:   atof("JIRA_RATE_LIMIT_RPS", 5),
        RateLimitBurst: atoi("JIRA_RATE_LIMIT_BURST", 10),

        JiraXSRFToken:          getenv("JIRA_XSRF_TOKEN", ""),
        JiraAccountXSRFToken:   getenv("JIRA_ACCOUNT_XSRF_TOKEN", ""),
        JiraTenantSessionToken: getenv("JIRA_TENANT_SESSION_TOKEN", ""),

        SyncCron:    getenv("SYNC_CRON", ""),
        SyncWorkers: atoi("SYNC_WORKERS", 4),

        CacheTTL: dur("CACHE_TTL", 0),
    }

    if loc, err := time.LoadLocation(cfg.TZ); err == nil {
        time.Local = loc
    } else {
        log.Printf("warning: cannot load TZ %s: %v", cfg.TZ, err)
    }
    return cfg
}
