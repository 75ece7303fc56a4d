// Package memory provides an in-process Provider. It backs tests and
// ephemeral runs (":memory:") and mirrors the SQL stores' constraints.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/models"
	"github.com/julianstephens/lessonsync/internal/storage"
)

type instanceKey struct {
	subjectID string
	startMs   int64
}

type completionKey struct {
	subjectID string
	day       string
}

type Store struct {
	mu          sync.RWMutex
	subjects    map[string]models.Subject
	instances   map[string]models.LessonInstance
	byStart     map[instanceKey]string
	completions map[completionKey]models.CompletionLogEntry
}

func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.subjects = make(map[string]models.Subject)
	s.instances = make(map[string]models.LessonInstance)
	s.byStart = make(map[instanceKey]string)
	s.completions = make(map[completionKey]models.CompletionLogEntry)
}

func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *Store) Load() error  { return nil }
func (s *Store) Close() error { return nil }

func (s *Store) GetConfigPath() string { return ":memory:" }

// Subjects

func (s *Store) GetSubject(ctx context.Context, id string) (models.Subject, error) {
	if err := ctx.Err(); err != nil {
		return models.Subject{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	subj, ok := s.subjects[id]
	if !ok {
		return models.Subject{}, fmt.Errorf("subject %s: %w", id, storage.ErrNotFound)
	}
	return subj, nil
}

func (s *Store) GetSubjectByName(ctx context.Context, name string) (models.Subject, error) {
	if err := ctx.Err(); err != nil {
		return models.Subject{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, subj := range s.subjects {
		if subj.Name == name {
			return subj, nil
		}
	}
	return models.Subject{}, fmt.Errorf("subject %q: %w", name, storage.ErrNotFound)
}

func (s *Store) ListSubjects(ctx context.Context, includeArchived bool) ([]models.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Subject
	for _, subj := range s.subjects {
		if subj.ArchivedAt != nil && !includeArchived {
			continue
		}
		out = append(out, subj)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) AddSubject(ctx context.Context, subject models.Subject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subjects {
		if existing.Name == subject.Name && existing.ID != subject.ID {
			return fmt.Errorf("subject %q: %w", subject.Name, storage.ErrDuplicateName)
		}
	}
	s.subjects[subject.ID] = subject
	return nil
}

func (s *Store) UpdateSubject(ctx context.Context, subject models.Subject) error {
	s.mu.RLock()
	_, ok := s.subjects[subject.ID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("subject %s: %w", subject.ID, storage.ErrNotFound)
	}
	return s.AddSubject(ctx, subject)
}

func (s *Store) ArchiveSubject(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, true)
}

func (s *Store) UnarchiveSubject(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, false)
}

func (s *Store) setArchived(ctx context.Context, id string, archived bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subj, ok := s.subjects[id]
	if !ok || (subj.ArchivedAt != nil) == archived {
		return fmt.Errorf("subject %s not found or already in requested state: %w", id, storage.ErrNotFound)
	}
	if archived {
		now := time.Now()
		subj.ArchivedAt = &now
		subj.Active = false
	} else {
		subj.ArchivedAt = nil
		subj.Active = true
	}
	s.subjects[id] = subj
	return nil
}

// Instances

func (s *Store) QueryInstances(ctx context.Context, subjectID string, r *storage.TimeRange) ([]models.LessonInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LessonInstance
	for _, inst := range s.instances {
		if inst.SubjectID != subjectID {
			continue
		}
		if r != nil && (inst.Start.Before(r.Start) || inst.Start.After(r.End)) {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (s *Store) InsertInstances(ctx context.Context, instances []models.LessonInstance) error {
	return s.ApplyInstanceChanges(ctx, storage.ChangeSet{Insert: instances})
}

func (s *Store) DeleteInstances(ctx context.Context, ids []string) error {
	return s.ApplyInstanceChanges(ctx, storage.ChangeSet{Delete: ids})
}

// ApplyInstanceChanges deletes then inserts under one lock; either everything applies or nothing does.
func (s *Store) ApplyInstanceChanges(ctx context.Context, changes storage.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	deleting := make(map[string]bool, len(changes.Delete))
	freed := make(map[instanceKey]bool, len(changes.Delete))
	for _, id := range changes.Delete {
		if inst, ok := s.instances[id]; ok {
			deleting[id] = true
			freed[instanceKey{inst.SubjectID, models.InstantKey(inst.Start)}] = true
		}
	}

	pending := make(map[instanceKey]bool, len(changes.Insert))
	for _, inst := range changes.Insert {
		key := instanceKey{inst.SubjectID, models.InstantKey(inst.Start)}
		if _, taken := s.byStart[key]; (taken && !freed[key]) || pending[key] {
			return fmt.Errorf("subject %s at %s: %w", inst.SubjectID, inst.Start.Format(time.RFC3339), storage.ErrDuplicateInstance)
		}
		if _, exists := s.instances[inst.ID]; exists && !deleting[inst.ID] {
			return fmt.Errorf("instance id %s: %w", inst.ID, storage.ErrDuplicateInstance)
		}
		pending[key] = true
	}

	for id := range deleting {
		inst := s.instances[id]
		delete(s.byStart, instanceKey{inst.SubjectID, models.InstantKey(inst.Start)})
		delete(s.instances, id)
	}
	for _, inst := range changes.Insert {
		s.instances[inst.ID] = inst
		s.byStart[instanceKey{inst.SubjectID, models.InstantKey(inst.Start)}] = inst.ID
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (models.LessonInstance, error) {
	if err := ctx.Err(); err != nil {
		return models.LessonInstance{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return models.LessonInstance{}, fmt.Errorf("instance %s: %w", id, storage.ErrNotFound)
	}
	return inst, nil
}

func (s *Store) UpdateInstanceLifecycle(ctx context.Context, id string, lifecycle constants.Lifecycle, note string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %s: %w", id, storage.ErrNotFound)
	}
	inst.Lifecycle = lifecycle
	if note != "" {
		inst.Note = note
	}
	inst.UpdatedAt = time.Now()
	s.instances[id] = inst
	return nil
}

// Completion log

func (s *Store) QueryCompletions(ctx context.Context, subjectID, startDay, endDay string) ([]models.CompletionLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CompletionLogEntry
	for key, entry := range s.completions {
		if key.subjectID != subjectID {
			continue
		}
		if (startDay != "" && key.day < startDay) || (endDay != "" && key.day > endDay) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Day < out[j].Day
	})
	return out, nil
}

func (s *Store) UpsertCompletion(ctx context.Context, entry models.CompletionLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := completionKey{entry.SubjectID, entry.Day}
	if existing, ok := s.completions[key]; ok {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	}
	s.completions[key] = entry
	return nil
}
