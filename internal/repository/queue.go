package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RuKapSan/OpenAITGBot/internal/domain"
)

const queueColumns = `id, session_id, user_id, status, priority, created_at, started_at, completed_at, error_message`

func scanQueueEntry(row interface{ Scan(...interface{}) error }) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	var startedAt, completedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Status, &e.Priority, &e.CreatedAt, &startedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)
	e.ErrorMessage = errMsg.String
	return &e, nil
}

// Enqueue inserts a pending entry for the session and returns its id.
// A second entry for the same session yields domain.ErrAlreadyQueued.
func (s *SQLiteStore) Enqueue(ctx context.Context, sessionID string, userID int64, priority int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_queue (session_id, user_id, status, priority, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, userID, domain.QueueStatusPending, priority, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrAlreadyQueued
		}
		return 0, err
	}
	return res.LastInsertId()
}

// GetQueueEntry retrieves a queue entry by ID.
func (s *SQLiteStore) GetQueueEntry(ctx context.Context, queueID int64) (*domain.QueueEntry, error) {
	e, err := scanQueueEntry(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM generation_queue WHERE id = ?`, queueID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// GetQueueEntryBySession retrieves the queue entry of a session.
func (s *SQLiteStore) GetQueueEntryBySession(ctx context.Context, sessionID string) (*domain.QueueEntry, error) {
	e, err := scanQueueEntry(s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM generation_queue WHERE session_id = ?`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ClaimNext atomically moves the best pending entry to processing and returns it.
// It returns nil when nothing is pending or another claimer won the row.
// Selection and update are one statement, so the write lock is taken up front
// and concurrent claimers wait on the busy timeout instead of deadlocking.
func (s *SQLiteStore) ClaimNext(ctx context.Context) (*domain.QueueEntry, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE generation_queue SET status = ?, started_at = ?
		 WHERE id = (
			SELECT id FROM generation_queue
			WHERE status = ?
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
		 ) AND status = ?
		 RETURNING id`,
		domain.QueueStatusProcessing, time.Now().UTC(),
		domain.QueueStatusPending, domain.QueueStatusPending).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetQueueEntry(ctx, id)
}

// UpdateQueueStatus moves an entry forward in its lifecycle.
// The update only applies from a legal source state; false means the entry
// was missing or already past that point.
func (s *SQLiteStore) UpdateQueueStatus(ctx context.Context, queueID int64, status domain.QueueStatus, errMsg string) (bool, error) {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	switch status {
	case domain.QueueStatusProcessing:
		res, err = s.db.ExecContext(ctx,
			`UPDATE generation_queue SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			status, now, queueID, domain.QueueStatusPending)
	case domain.QueueStatusCompleted:
		res, err = s.db.ExecContext(ctx,
			`UPDATE generation_queue SET status = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)`,
			status, now, queueID, domain.QueueStatusPending, domain.QueueStatusProcessing)
	case domain.QueueStatusFailed:
		res, err = s.db.ExecContext(ctx,
			`UPDATE generation_queue SET status = ?, completed_at = ?, error_message = ? WHERE id = ? AND status IN (?, ?)`,
			status, now, nullString(errMsg), queueID, domain.QueueStatusPending, domain.QueueStatusProcessing)
	default:
		return false, fmt.Errorf("update queue status: illegal target %q", status)
	}
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// QueuePosition returns the 1-based rank of the session among pending entries.
// The second result is false when the session has no pending entry.
func (s *SQLiteStore) QueuePosition(ctx context.Context, sessionID string) (int, bool, error) {
	var position int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generation_queue q,
			(SELECT id, priority, created_at FROM generation_queue WHERE session_id = ? AND status = ?) t
		 WHERE q.status = ?
		   AND (q.priority > t.priority
			OR (q.priority = t.priority AND q.created_at < t.created_at)
			OR (q.priority = t.priority AND q.created_at = t.created_at AND q.id <= t.id))`,
		sessionID, domain.QueueStatusPending, domain.QueueStatusPending).Scan(&position)
	if err != nil {
		return 0, false, err
	}
	if position == 0 {
		return 0, false, nil
	}
	return position, true, nil
}

// CountQueue returns the number of entries per status.
func (s *SQLiteStore) CountQueue(ctx context.Context) (map[domain.QueueStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM generation_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[domain.QueueStatus]int{
		domain.QueueStatusPending:    0,
		domain.QueueStatusProcessing: 0,
		domain.QueueStatusCompleted:  0,
		domain.QueueStatusFailed:     0,
	}
	for rows.Next() {
		var status domain.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListUserQueueEntries returns the user's pending and processing entries in dispatch order.
func (s *SQLiteStore) ListUserQueueEntries(ctx context.Context, userID int64) ([]domain.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM generation_queue
		 WHERE user_id = ? AND status IN (?, ?)
		 ORDER BY priority DESC, created_at ASC, id ASC`,
		userID, domain.QueueStatusPending, domain.QueueStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ReclaimStale fails processing entries started before the cutoff and returns
// exactly the entries this call transitioned.
func (s *SQLiteStore) ReclaimStale(ctx context.Context, startedBefore time.Time, reason string) ([]domain.QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM generation_queue
		 WHERE status = ? AND started_at < ?
		 ORDER BY started_at ASC, id ASC`,
		domain.QueueStatusProcessing, startedBefore.UTC())
	if err != nil {
		return nil, err
	}
	var candidates []domain.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, *e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now().UTC()
	var reclaimed []domain.QueueEntry
	for _, e := range candidates {
		res, err := tx.ExecContext(ctx,
			`UPDATE generation_queue SET status = ?, completed_at = ?, error_message = ? WHERE id = ? AND status = ?`,
			domain.QueueStatusFailed, now, reason, e.ID, domain.QueueStatusProcessing)
		if err != nil {
			return nil, err
		}
		ok, err := rowsAffected(res)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		e.Status = domain.QueueStatusFailed
		e.CompletedAt = &now
		e.ErrorMessage = reason
		reclaimed = append(reclaimed, e)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return reclaimed, nil
}

// PurgeFinished deletes terminal entries completed before the cutoff.
func (s *SQLiteStore) PurgeFinished(ctx context.Context, completedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_queue WHERE status IN (?, ?) AND completed_at < ?`,
		domain.QueueStatusCompleted, domain.QueueStatusFailed, completedBefore.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
