package models

import "time"

// CompletionLogEntry records whether a subject's activity was done on a given day
type CompletionLogEntry struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	Day         string     `json:"day"` // YYYY-MM-DD format
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Note        string     `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Stats summarizes a subject's completion history
type Stats struct {
	Streak            int     `json:"streak"`
	BestStreak        int     `json:"best_streak"`
	WeekCount         int     `json:"week_count"`
	WeekTotal         int     `json:"week_total"`
	MonthCount        int     `json:"month_count"`
	MonthTotal        int     `json:"month_total"`
	TotalRate         float64 `json:"total_rate"`
	AvgCompletionTime *string `json:"avg_completion_time,omitempty"` // HH:MM format
}
