package storage

import (
	"context"
	"errors"
	"time"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateInstance is returned when an insert would give a subject two
	// instances with the same start instant
	ErrDuplicateInstance = errors.New("duplicate lesson instance")
	// ErrDuplicateName is returned when a subject name is already taken
	ErrDuplicateName = errors.New("subject name already exists")
)

// TimeRange is an inclusive range of instants used to filter instance queries
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// ChangeSet is a group of instance writes that should land together
type ChangeSet struct {
	Insert []models.LessonInstance
	Delete []string
}

// IsEmpty reports whether the change set has nothing to apply
func (c ChangeSet) IsEmpty() bool {
	return len(c.Insert) == 0 && len(c.Delete) == 0
}

// InstanceStore is the durable table of lesson instances.
// Each call is atomic on its own; nothing is implied across calls.
type InstanceStore interface {
	// QueryInstances returns a subject's instances ordered by start time.
	// A nil range returns every instance.
	QueryInstances(ctx context.Context, subjectID string, r *TimeRange) ([]models.LessonInstance, error)
	InsertInstances(ctx context.Context, instances []models.LessonInstance) error
	DeleteInstances(ctx context.Context, ids []string) error

	GetInstance(ctx context.Context, id string) (models.LessonInstance, error)
	UpdateInstanceLifecycle(ctx context.Context, id string, lifecycle constants.Lifecycle, note string) error
}

// Transactor is implemented by instance stores that can apply a change set atomically
type Transactor interface {
	ApplyInstanceChanges(ctx context.Context, changes ChangeSet) error
}

// CompletionLogStore holds one completion entry per subject and day
type CompletionLogStore interface {
	// QueryCompletions returns entries with startDay <= day <= endDay, ascending.
	// Empty bounds are open.
	QueryCompletions(ctx context.Context, subjectID, startDay, endDay string) ([]models.CompletionLogEntry, error)
	// UpsertCompletion inserts or replaces the entry for (subject, day)
	UpsertCompletion(ctx context.Context, entry models.CompletionLogEntry) error
}

// SubjectRepository supplies subjects and their templates; the engine treats it as read-only
type SubjectRepository interface {
	GetSubject(ctx context.Context, id string) (models.Subject, error)
	GetSubjectByName(ctx context.Context, name string) (models.Subject, error)
	ListSubjects(ctx context.Context, includeArchived bool) ([]models.Subject, error)
}

// SubjectWriter is used by the CLI to manage subjects
type SubjectWriter interface {
	AddSubject(ctx context.Context, subject models.Subject) error
	UpdateSubject(ctx context.Context, subject models.Subject) error
	ArchiveSubject(ctx context.Context, id string) error
	UnarchiveSubject(ctx context.Context, id string) error
}

type Provider interface {
	// Lifecycle
	Init() error
	Load() error
	Close() error

	SubjectRepository
	SubjectWriter
	InstanceStore
	Transactor
	CompletionLogStore

	// Utils
	GetConfigPath() string
}

// Migrator is implemented by SQL-backed providers that carry a versioned schema
type Migrator interface {
	Migrate(ctx context.Context, logFn func(string)) (int, error)
	SchemaVersion(ctx context.Context) (current, latest int, err error)
}
