package models

import (
	"time"

	"github.com/julianstephens/lessonsync/internal/constants"
)

// LessonInstance is a concrete dated lesson for a subject
type LessonInstance struct {
	ID          string              `json:"id"`
	SubjectID   string              `json:"subject_id"`
	Start       time.Time           `json:"start"`
	DurationMin int                 `json:"duration_min"`
	Origin      constants.Origin    `json:"origin"`
	Lifecycle   constants.Lifecycle `json:"lifecycle"`
	Note        string              `json:"note,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// End returns the instant the lesson finishes
func (l LessonInstance) End() time.Time {
	return l.Start.Add(time.Duration(l.DurationMin) * time.Minute)
}

// IsTerminal reports whether a user has already completed or cancelled the lesson
func (l LessonInstance) IsTerminal() bool {
	return l.Lifecycle == constants.LifecycleCompleted || l.Lifecycle == constants.LifecycleCancelled
}

// IsReconcilable reports whether reconciliation may delete this instance.
// The check is on content rather than on the origin flag alone: only future,
// still-scheduled instances that are not makeups qualify.
func (l LessonInstance) IsReconcilable(now time.Time) bool {
	return l.Start.After(now) && !l.IsTerminal() && l.Origin != constants.OriginMakeup
}

// InstantKey is the deduplication key for an instance start: the millisecond instant.
func InstantKey(t time.Time) int64 {
	return t.UnixMilli()
}
