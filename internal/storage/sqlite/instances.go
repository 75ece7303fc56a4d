package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/storage"
)

const instanceColumns = `id, subject_id, start_ms, duration_min, origin, lifecycle, note, created_at, updated_at`

func scanInstance(row rowScanner) (models.LessonInstance, error) {
	var inst models.LessonInstance
	var startMs int64
	var origin, lifecycle, createdAt, updatedAt string

	if err := row.Scan(&inst.ID, &inst.SubjectID, &startMs, &inst.DurationMin,
		&origin, &lifecycle, &inst.Note, &createdAt, &updatedAt); err != nil {
		return models.LessonInstance{}, err
	}

	inst.Start = time.UnixMilli(startMs).UTC()
	inst.Origin = constants.Origin(origin)
	inst.Lifecycle = constants.Lifecycle(lifecycle)

	var err error
	if inst.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return models.LessonInstance{}, err
	}
	if inst.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return models.LessonInstance{}, err
	}
	return inst, nil
}

func (s *Store) QueryInstances(ctx context.Context, subjectID string, r *storage.TimeRange) ([]models.LessonInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM lesson_instances WHERE subject_id = ?`
	args := []any{subjectID}
	if r != nil {
		query += ` AND start_ms >= ? AND start_ms <= ?`
		args = append(args, models.InstantKey(r.Start), models.InstantKey(r.End))
	}
	query += ` ORDER BY start_ms`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []models.LessonInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (s *Store) InsertInstances(ctx context.Context, instances []models.LessonInstance) error {
	return s.ApplyInstanceChanges(ctx, storage.ChangeSet{Insert: instances})
}

func (s *Store) DeleteInstances(ctx context.Context, ids []string) error {
	return s.ApplyInstanceChanges(ctx, storage.ChangeSet{Delete: ids})
}

// ApplyInstanceChanges runs the deletes and then the inserts in one transaction.
func (s *Store) ApplyInstanceChanges(ctx context.Context, changes storage.ChangeSet) error {
	if changes.IsEmpty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(changes.Delete) > 0 {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM lesson_instances WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range changes.Delete {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("failed to delete instance %s: %w", id, err)
			}
		}
	}

	if len(changes.Insert) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO lesson_instances (`+instanceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, inst := range changes.Insert {
			_, err := stmt.ExecContext(ctx, inst.ID, inst.SubjectID, models.InstantKey(inst.Start),
				inst.DurationMin, string(inst.Origin), string(inst.Lifecycle), inst.Note,
				formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt))
			if isUniqueViolation(err) {
				return fmt.Errorf("subject %s at %s: %w", inst.SubjectID, inst.Start.Format(time.RFC3339), storage.ErrDuplicateInstance)
			}
			if err != nil {
				return fmt.Errorf("failed to insert instance %s: %w", inst.ID, err)
			}
		}
	}

	return tx.Commit()
}

func (s *Store) GetInstance(ctx context.Context, id string) (models.LessonInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM lesson_instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LessonInstance{}, fmt.Errorf("instance %s: %w", id, storage.ErrNotFound)
	}
	return inst, err
}

func (s *Store) UpdateInstanceLifecycle(ctx context.Context, id string, lifecycle constants.Lifecycle, note string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lesson_instances
		SET lifecycle = ?, note = CASE WHEN ? = '' THEN note ELSE ? END, updated_at = ?
		WHERE id = ?`, string(lifecycle), note, note, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("instance %s: %w", id, storage.ErrNotFound)
	}
	return nil
}
