// Package scheduler implements the persistent, crash-recoverable scheduled
// task subsystem described in SPEC_FULL.md §4.2, grounded on
// original_source/src/core/scheduled_tasks.py's JSON store and APScheduler
// wiring, ported to github.com/robfig/cron/v3 and time.AfterFunc.
package scheduler

import "time"

// Kind is a scheduled task's repeat behavior.
type Kind string

const (
	KindOnce          Kind = "once"
	KindRepeat        Kind = "repeat"
	KindComplexRepeat Kind = "complex_repeat"
)

// Task is one persisted scheduled task.
type Task struct {
	TaskID         string     `json:"task_id"`
	Kind           Kind       `json:"kind"`
	Name           string     `json:"name"`
	Content        string     `json:"content"`
	Trigger        string     `json:"trigger"` // "cron:<expr>" or bare ISO-8601
	Source         string     `json:"source"`
	RunCount       int        `json:"run_count"`
	LastRun        *time.Time `json:"last_run"`
	MaxRuns        int        `json:"max_runs,omitempty"`
	EndDate        string     `json:"end_date,omitempty"` // YYYY-MM-DD
	OriginalPrompt string     `json:"original_prompt,omitempty"`
}

// IsCron reports whether t's trigger is a cron expression rather than a
// bare ISO-8601 once-datetime.
func (t Task) IsCron() bool {
	return len(t.Trigger) > 5 && t.Trigger[:5] == "cron:"
}

// CronExpr returns the trigger with its "cron:" prefix stripped.
func (t Task) CronExpr() string {
	return t.Trigger[5:]
}
