package sqlite

import (
	"context"
	"database/sql"

	"github.com/julianstephens/lessonsync/internal/models"
)

func (s *Store) QueryCompletions(ctx context.Context, subjectID, startDay, endDay string) ([]models.CompletionLogEntry, error) {
	query := `
		SELECT id, subject_id, day, is_completed, completed_at, note, created_at, updated_at
		FROM completion_log WHERE subject_id = ?`
	args := []any{subjectID}
	if startDay != "" {
		query += ` AND day >= ?`
		args = append(args, startDay)
	}
	if endDay != "" {
		query += ` AND day <= ?`
		args = append(args, endDay)
	}
	query += ` ORDER BY day`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.CompletionLogEntry
	for rows.Next() {
		var e models.CompletionLogEntry
		var completed int
		var completedAt sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Day, &completed, &completedAt, &e.Note, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.IsCompleted = completed != 0
		if e.CompletedAt, err = parseNullTime("completed_at", completedAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		if e.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertCompletion keeps the original id and created_at when (subject, day) already exists
func (s *Store) UpsertCompletion(ctx context.Context, entry models.CompletionLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completion_log (id, subject_id, day, is_completed, completed_at, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, day) DO UPDATE SET
			is_completed = excluded.is_completed,
			completed_at = excluded.completed_at,
			note = excluded.note,
			updated_at = excluded.updated_at`,
		entry.ID, entry.SubjectID, entry.Day, boolToInt(entry.IsCompleted), nullTime(entry.CompletedAt),
		entry.Note, formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt))
	return err
}
