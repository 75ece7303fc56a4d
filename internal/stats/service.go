package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/logger"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/storage"
)

// Service loads a subject's template and log and runs Compute over them.
type Service struct {
	subjects storage.SubjectRepository
	log      storage.CompletionLogStore
	loc      *time.Location
}

func NewService(subjects storage.SubjectRepository, log storage.CompletionLogStore, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{subjects: subjects, log: log, loc: loc}
}

// ForSubject computes stats over the subject's full completion history
func (s *Service) ForSubject(ctx context.Context, subjectID string, now time.Time) (models.Stats, error) {
	subject, err := s.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to load subject %s: %w", subjectID, err)
	}

	entries, err := s.log.QueryCompletions(ctx, subjectID, "", "")
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to load completion log for %s: %w", subject.Name, err)
	}

	st := Compute(subject.Template, entries, now, s.loc)
	logger.Debug("Computed stats", "subject", subject.Name, "entries", len(entries), "streak", st.Streak, "best", st.BestStreak)
	return st, nil
}

// Mark records whether the subject was done on day (YYYY-MM-DD). An existing
// entry for the same day is replaced, so marking twice is safe.
func (s *Service) Mark(ctx context.Context, subjectID, day string, completed bool, note string, now time.Time) (models.CompletionLogEntry, error) {
	if _, err := time.Parse(constants.DateFormat, day); err != nil {
		return models.CompletionLogEntry{}, fmt.Errorf("invalid date format: %s (expected YYYY-MM-DD)", day)
	}
	if _, err := s.subjects.GetSubject(ctx, subjectID); err != nil {
		return models.CompletionLogEntry{}, fmt.Errorf("failed to load subject %s: %w", subjectID, err)
	}

	entry := models.CompletionLogEntry{
		ID:          uuid.New().String(),
		SubjectID:   subjectID,
		Day:         day,
		IsCompleted: completed,
		Note:        note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if completed {
		at := now
		entry.CompletedAt = &at
	}

	if err := s.log.UpsertCompletion(ctx, entry); err != nil {
		return models.CompletionLogEntry{}, fmt.Errorf("failed to record completion: %w", err)
	}
	return entry, nil
}
