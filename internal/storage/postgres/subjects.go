package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/storage"
)

const subjectColumns = `id, name, kind, template_json, active, created_at, archived_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (models.Subject, error) {
	var subj models.Subject
	var kind, templateJSON, createdAt string
	var archivedAt sql.NullString

	if err := row.Scan(&subj.ID, &subj.Name, &kind, &templateJSON, &subj.Active, &createdAt, &archivedAt); err != nil {
		return models.Subject{}, err
	}

	subj.Kind = constants.SubjectKind(kind)
	if err := json.Unmarshal([]byte(templateJSON), &subj.Template); err != nil {
		return models.Subject{}, fmt.Errorf("failed to decode template for subject %s: %w", subj.ID, err)
	}

	var err error
	if subj.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return models.Subject{}, err
	}
	if subj.ArchivedAt, err = parseNullTime("archived_at", archivedAt); err != nil {
		return models.Subject{}, err
	}
	return subj, nil
}

func (s *Store) getSubject(ctx context.Context, column string, arg string) (models.Subject, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE `+column+` = $1`, arg)
	subj, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subject{}, fmt.Errorf("subject %s: %w", arg, storage.ErrNotFound)
	}
	return subj, err
}

func (s *Store) GetSubject(ctx context.Context, id string) (models.Subject, error) {
	return s.getSubject(ctx, "id", id)
}

func (s *Store) GetSubjectByName(ctx context.Context, name string) (models.Subject, error) {
	return s.getSubject(ctx, "name", name)
}

func (s *Store) ListSubjects(ctx context.Context, includeArchived bool) ([]models.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []models.Subject
	for rows.Next() {
		subj, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, subj)
	}
	return subjects, rows.Err()
}

func (s *Store) AddSubject(ctx context.Context, subject models.Subject) error {
	templateJSON, err := json.Marshal(subject.Template)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, name, kind, template_json, active, created_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		subject.ID, subject.Name, string(subject.Kind), string(templateJSON),
		subject.Active, formatTime(subject.CreatedAt), nullTime(subject.ArchivedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("subject %q: %w", subject.Name, storage.ErrDuplicateName)
	}
	return err
}

func (s *Store) UpdateSubject(ctx context.Context, subject models.Subject) error {
	templateJSON, err := json.Marshal(subject.Template)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE subjects SET name = $1, kind = $2, template_json = $3, active = $4, archived_at = $5
		WHERE id = $6`,
		subject.Name, string(subject.Kind), string(templateJSON),
		subject.Active, nullTime(subject.ArchivedAt), subject.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("subject %q: %w", subject.Name, storage.ErrDuplicateName)
	}
	if err != nil {
		return err
	}
	return requireRow(res, "subject", subject.ID)
}

func (s *Store) ArchiveSubject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subjects SET archived_at = $1, active = FALSE
		WHERE id = $2 AND archived_at IS NULL`, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res, "subject", id)
}

func (s *Store) UnarchiveSubject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subjects SET archived_at = NULL, active = TRUE
		WHERE id = $1 AND archived_at IS NOT NULL`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "subject", id)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found or already in requested state: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}
