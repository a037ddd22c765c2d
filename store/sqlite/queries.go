package sqlite

// Queue statements. SQLite serializes writers, so none of them need row
// locks, and RETURNING reports exactly the rows each one touched.

// claimDueJobsQuery args: claimed_at, updated_at, now, limit.
const claimDueJobsQuery = `
UPDATE hookrelay_jobs
SET state = 'claimed', claimed_at = ?, updated_at = ?
WHERE id IN (
	SELECT id FROM hookrelay_jobs
	WHERE state = 'pending' AND next_run_at <= ?
	ORDER BY next_run_at ASC
	LIMIT ?
)
RETURNING *`

// rescheduleJobQuery args: attempt, next_run_at, updated_at, id.
const rescheduleJobQuery = `
UPDATE hookrelay_jobs
SET attempt = ?, next_run_at = ?, state = 'pending', claimed_at = NULL, updated_at = ?
WHERE id = ?
RETURNING *`

// releaseStaleJobsQuery args: updated_at, claimed_before.
const releaseStaleJobsQuery = `
UPDATE hookrelay_jobs
SET state = 'pending', claimed_at = NULL, updated_at = ?
WHERE state = 'claimed' AND claimed_at < ?
RETURNING *`
