package store

import (
    "context"
    "errors"
    "sort"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/config"
    "github.com/HamedShams/sprint-pulse/internal/domain"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"
)

type DB struct {
    Pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
    pool, err := pgxpool.New(ctx, cfg.DBDSN)
    if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
    return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

// Mirror persists the in-memory store to Postgres. It is write-behind: the
// coordinator saves each sprint after a successful merge and loads everything
// back at startup.
type Mirror struct {
    db  *DB
    log zerolog.Logger
}

func NewMirror(d *DB, log zerolog.Logger) *Mirror { return &Mirror{db: d, log: log} }

func (m *Mirror) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
    var ok bool
    err := m.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
    return ok, err
}

func (m *Mirror) AdvisoryUnlock(ctx context.Context, key int64) error {
    var ok bool
    err := m.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
    if !ok && err == nil { return errors.New("advisory unlock returned false") }
    return err
}

func (m *Mirror) EnsureSchema(ctx context.Context) error {
    const ddl = `
        CREATE TABLE IF NOT EXISTS issues(
            key TEXT PRIMARY KEY,
            sprint_id TEXT NOT NULL,
            sprint_name TEXT,
            sprint_start TIMESTAMPTZ,
            sprint_end TIMESTAMPTZ,
            issue_type TEXT NOT NULL,
            summary TEXT,
            status TEXT,
            assignee TEXT,
            priority TEXT,
            fix_versions TEXT[],
            created_at_tracker TIMESTAMPTZ,
            updated_at_tracker TIMESTAMPTZ,
            initial_status TEXT,
            stale BOOLEAN NOT NULL DEFAULT false
        );
        CREATE INDEX IF NOT EXISTS issues_sprint_idx ON issues(sprint_id);
        CREATE TABLE IF NOT EXISTS status_events(
            issue_key TEXT NOT NULL REFERENCES issues(key) ON DELETE CASCADE,
            from_status TEXT,
            to_status TEXT,
            at TIMESTAMPTZ NOT NULL,
            seq INT NOT NULL DEFAULT 0,
            synthesized BOOLEAN NOT NULL DEFAULT false,
            PRIMARY KEY (issue_key, at, seq)
        );
        CREATE TABLE IF NOT EXISTS fetch_records(
            sprint_id TEXT PRIMARY KEY,
            issue_count INT NOT NULL,
            fetched_at TIMESTAMPTZ NOT NULL
        );`
    _, err := m.db.Pool.Exec(ctx, ddl)
    return err
}

// SaveSprint writes one sprint's merged issue set in a single transaction so
// the mirror never holds a half-committed sprint.
func (m *Mirror) SaveSprint(ctx context.Context, sprintID string, issues []domain.Issue, rec domain.FetchRecord) error {
    tx, err := m.db.Pool.Begin(ctx)
    if err != nil { return err }
    defer tx.Rollback(ctx)

    batch := sprintBatch(sprintID, issues, rec)
    br := tx.SendBatch(ctx, batch)
    for i := 0; i < batch.Len(); i++ {
        if _, err := br.Exec(); err != nil { br.Close(); return err }
    }
    if err := br.Close(); err != nil { return err }
    if err := tx.Commit(ctx); err != nil { return err }
    m.log.Debug().Str("sprint", sprintID).Int("issues", len(issues)).Msg("mirror: sprint saved")
    return nil
}

// sprintBatch queues one sprint's writes: issue upserts, then a full rewrite
// of each issue's changelog. The merge can drop events it wrote earlier (a
// synthesized bridge superseded by the real transition), so the mirror
// replaces every saved issue's events instead of appending.
func sprintBatch(sprintID string, issues []domain.Issue, rec domain.FetchRecord) *pgx.Batch {
    const upsert = `
        INSERT INTO issues(key, sprint_id, sprint_name, sprint_start, sprint_end, issue_type,
            summary, status, assignee, priority, fix_versions,
            created_at_tracker, updated_at_tracker, initial_status, stale)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT(key) DO UPDATE SET
            sprint_id=EXCLUDED.sprint_id,
            sprint_name=EXCLUDED.sprint_name,
            sprint_start=EXCLUDED.sprint_start,
            sprint_end=EXCLUDED.sprint_end,
            issue_type=EXCLUDED.issue_type,
            summary=EXCLUDED.summary,
            status=EXCLUDED.status,
            assignee=EXCLUDED.assignee,
            priority=EXCLUDED.priority,
            fix_versions=EXCLUDED.fix_versions,
            created_at_tracker=EXCLUDED.created_at_tracker,
            updated_at_tracker=EXCLUDED.updated_at_tracker,
            initial_status=EXCLUDED.initial_status,
            stale=EXCLUDED.stale`
    batch := &pgx.Batch{}
    for _, i := range issues {
        batch.Queue(upsert, i.Key, sprintID, i.SprintName, i.SprintStart, i.SprintEnd, string(i.IssueType),
            i.Summary, i.Status, i.Assignee, i.Priority, i.FixVersions,
            i.CreatedAt, i.UpdatedAt, i.InitialStatus, i.Stale)
    }
    if len(issues) > 0 {
        keys := make([]string, 0, len(issues))
        for _, i := range issues { keys = append(keys, i.Key) }
        batch.Queue(`DELETE FROM status_events WHERE issue_key = ANY($1)`, keys)
    }
    const insEvent = `INSERT INTO status_events(issue_key, from_status, to_status, at, seq, synthesized)
        VALUES($1,$2,$3,$4,$5,$6)`
    for _, i := range issues {
        for _, e := range i.Changelog {
            batch.Queue(insEvent, i.Key, e.FromStatus, e.ToStatus, e.Timestamp, e.Seq, e.Synthesized)
        }
    }
    batch.Queue(`INSERT INTO fetch_records(sprint_id, issue_count, fetched_at) VALUES($1,$2,$3)
        ON CONFLICT (sprint_id) DO UPDATE SET issue_count=EXCLUDED.issue_count, fetched_at=EXCLUDED.fetched_at`,
        rec.SprintID, rec.IssueCount, rec.FetchedAt)
    return batch
}

// LoadAll reads back every issue with its reassembled changelog, used to warm
// up the in-memory store at startup.
func (m *Mirror) LoadAll(ctx context.Context) ([]domain.Issue, []domain.FetchRecord, error) {
    rows, err := m.db.Pool.Query(ctx, `SELECT key, sprint_id, COALESCE(sprint_name,''), sprint_start, sprint_end,
        issue_type, COALESCE(summary,''), COALESCE(status,''), COALESCE(assignee,''), COALESCE(priority,''),
        COALESCE(fix_versions,'{}'), created_at_tracker, updated_at_tracker, COALESCE(initial_status,''), stale
        FROM issues`)
    if err != nil { return nil, nil, err }
    defer rows.Close()
    byKey := map[string]*domain.Issue{}
    var keys []string
    for rows.Next() {
        var i domain.Issue
        var typ string
        if err := rows.Scan(&i.Key, &i.SprintID, &i.SprintName, &i.SprintStart, &i.SprintEnd,
            &typ, &i.Summary, &i.Status, &i.Assignee, &i.Priority,
            &i.FixVersions, &i.CreatedAt, &i.UpdatedAt, &i.InitialStatus, &i.Stale); err != nil { return nil, nil, err }
        i.IssueType = domain.IssueType(typ)
        iss := i
        byKey[i.Key] = &iss
        keys = append(keys, i.Key)
    }
    if err := rows.Err(); err != nil { return nil, nil, err }

    evRows, err := m.db.Pool.Query(ctx, `SELECT issue_key, COALESCE(from_status,''), COALESCE(to_status,''), at, seq, synthesized
        FROM status_events ORDER BY issue_key, at, seq`)
    if err != nil { return nil, nil, err }
    defer evRows.Close()
    for evRows.Next() {
        var e domain.StatusChangeEvent
        if err := evRows.Scan(&e.IssueKey, &e.FromStatus, &e.ToStatus, &e.Timestamp, &e.Seq, &e.Synthesized); err != nil { return nil, nil, err }
        if iss, ok := byKey[e.IssueKey]; ok { iss.Changelog = append(iss.Changelog, e) }
    }
    if err := evRows.Err(); err != nil { return nil, nil, err }

    recRows, err := m.db.Pool.Query(ctx, `SELECT sprint_id, issue_count, fetched_at FROM fetch_records`)
    if err != nil { return nil, nil, err }
    defer recRows.Close()
    var recs []domain.FetchRecord
    for recRows.Next() {
        var r domain.FetchRecord
        if err := recRows.Scan(&r.SprintID, &r.IssueCount, &r.FetchedAt); err != nil { return nil, nil, err }
        recs = append(recs, r)
    }
    if err := recRows.Err(); err != nil { return nil, nil, err }

    sort.Strings(keys)
    issues := make([]domain.Issue, 0, len(keys))
    for _, k := range keys { issues = append(issues, *byKey[k]) }
    m.log.Info().Int("issues", len(issues)).Int("sprints", len(recs)).Msg("mirror: loaded")
    return issues, recs, nil
}
