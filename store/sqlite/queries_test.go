package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func openQueue(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(jobsSchema); err != nil {
		t.Fatal(err)
	}
	return db
}

func insertJob(t *testing.T, db *sql.DB, jobID, state string, nextRunAt time.Time, claimedAt *time.Time) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO hookrelay_jobs (id, event_id, subscription_id, attempt, next_run_at, state, claimed_at)
		VALUES (?, 'evt', 'sub', 1, ?, ?, ?)`,
		jobID, nextRunAt, state, claimedAt)
	if err != nil {
		t.Fatal(err)
	}
}

// run executes a RETURNING statement and collects the returned ids.
func run(t *testing.T, db *sql.DB, query string, args ...any) []string {
	t.Helper()
	rows, err := db.QueryContext(context.Background(), query, args...)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			t.Fatal(err)
		}
		for i, c := range cols {
			if c == "id" {
				ids = append(ids, asString(vals[i]))
			}
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	return ids
}

func asString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	s, _ := v.(string)
	return s
}

func jobState(t *testing.T, db *sql.DB, jobID string) (state string, claimed bool, attempt int) {
	t.Helper()
	var claimedAt sql.NullString
	err := db.QueryRow(`SELECT state, claimed_at, attempt FROM hookrelay_jobs WHERE id = ?`, jobID).
		Scan(&state, &claimedAt, &attempt)
	if err != nil {
		t.Fatal(err)
	}
	return state, claimedAt.Valid, attempt
}

func TestClaimDueJobsQuery(t *testing.T) {
	db := openQueue(t)
	held := base.Add(-time.Minute)
	insertJob(t, db, "job_held", "claimed", base.Add(-3*time.Minute), &held)
	insertJob(t, db, "job_second", "pending", base.Add(-time.Minute), nil)
	insertJob(t, db, "job_first", "pending", base.Add(-2*time.Minute), nil)
	insertJob(t, db, "job_future", "pending", base.Add(time.Minute), nil)

	got := run(t, db, claimDueJobsQuery, base, base, base, 1)
	if len(got) != 1 || got[0] != "job_first" {
		t.Fatalf("first claim = %v, want [job_first]", got)
	}
	if state, claimed, _ := jobState(t, db, "job_first"); state != "claimed" || !claimed {
		t.Fatalf("job_first state = %q claimed=%v", state, claimed)
	}

	got = run(t, db, claimDueJobsQuery, base, base, base, 10)
	if len(got) != 1 || got[0] != "job_second" {
		t.Fatalf("second claim = %v, want [job_second]", got)
	}

	if got := run(t, db, claimDueJobsQuery, base, base, base, 10); len(got) != 0 {
		t.Fatalf("expected nothing left to claim, got %v", got)
	}
	if state, _, _ := jobState(t, db, "job_future"); state != "pending" {
		t.Fatalf("job_future state = %q, want pending", state)
	}
}

func TestRescheduleJobQuery(t *testing.T) {
	db := openQueue(t)
	insertJob(t, db, "job_a", "claimed", base.Add(-time.Minute), &base)

	got := run(t, db, rescheduleJobQuery, 2, base.Add(time.Minute), base, "job_a")
	if len(got) != 1 {
		t.Fatalf("rescheduled %v, want one row", got)
	}
	state, claimed, attempt := jobState(t, db, "job_a")
	if state != "pending" || claimed || attempt != 2 {
		t.Fatalf("job_a = (%q, claimed=%v, attempt=%d)", state, claimed, attempt)
	}

	// Not yet due again.
	if got := run(t, db, claimDueJobsQuery, base, base, base, 10); len(got) != 0 {
		t.Fatalf("claimed rescheduled job early: %v", got)
	}

	if got := run(t, db, rescheduleJobQuery, 2, base, base, "job_missing"); len(got) != 0 {
		t.Fatalf("rescheduled missing job: %v", got)
	}
}

func TestReleaseStaleJobsQuery(t *testing.T) {
	db := openQueue(t)
	stale := base.Add(-10 * time.Minute)
	insertJob(t, db, "job_stale", "claimed", stale, &stale)
	insertJob(t, db, "job_fresh", "claimed", base, &base)
	insertJob(t, db, "job_idle", "pending", base, nil)

	got := run(t, db, releaseStaleJobsQuery, base, base.Add(-5*time.Minute))
	if len(got) != 1 || got[0] != "job_stale" {
		t.Fatalf("released %v, want [job_stale]", got)
	}
	if state, claimed, _ := jobState(t, db, "job_stale"); state != "pending" || claimed {
		t.Fatalf("job_stale = (%q, claimed=%v)", state, claimed)
	}
	if state, _, _ := jobState(t, db, "job_fresh"); state != "claimed" {
		t.Fatalf("job_fresh state = %q, want claimed", state)
	}

	// A released job is claimable again.
	got = run(t, db, claimDueJobsQuery, base, base, base, 10)
	if len(got) != 2 {
		t.Fatalf("claim after release = %v, want job_stale and job_idle", got)
	}
}
