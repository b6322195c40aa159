package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/countlessbugs/relaybot/internal/convo"
	"github.com/countlessbugs/relaybot/internal/dispatch"
)

// Poster delivers one fired-task reply segment to its originating source.
type Poster func(ctx context.Context, sourceKey, text string) error

// Scheduler owns the persisted task store and the live cron/timer
// registrations that fire them, grounded on
// original_source/src/core/scheduled_tasks.py's register/_on_trigger.
type Scheduler struct {
	mu      sync.Mutex
	store   *store
	cron    *cron.Cron
	entries map[string]cron.EntryID
	timers  map[string]*time.Timer

	dispatcher *dispatch.Dispatcher
	graph      *convo.Graph
	poster     Poster
	logger     *slog.Logger
	now        func() time.Time
}

// New builds a Scheduler backed by the JSON file at tasksPath.
func New(tasksPath string, dispatcher *dispatch.Dispatcher, graph *convo.Graph, poster Poster, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      newStore(tasksPath),
		cron:       cron.New(),
		entries:    make(map[string]cron.EntryID),
		timers:     make(map[string]*time.Timer),
		dispatcher: dispatcher,
		graph:      graph,
		poster:     poster,
		logger:     logger.With("component", "scheduler"),
		now:        time.Now,
	}
}

// ListTasks returns every persisted task, for the /tasks developer command.
func (s *Scheduler) ListTasks() ([]Task, error) {
	return s.store.load()
}

// parseCronExpr parses a 5- or 6-field cron expression, treating "?" as a
// "*" wildcard the way Quartz-style expressions do.
func parseCronExpr(expr string) (cron.Schedule, error) {
	expr = strings.ReplaceAll(expr, "?", "*")
	fields := strings.Fields(expr)

	var parser cron.Parser
	switch len(fields) {
	case 5:
		parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	case 6:
		parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	default:
		return nil, fmt.Errorf("cron expression must have 5 or 6 fields, got %d: %q", len(fields), expr)
	}
	return parser.Parse(expr)
}

// Start loads the task store, recovers anything missed while the process
// was down, persists the surviving set, and registers each one with cron or
// a one-shot timer before starting the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.store.load()
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}

	tasks, err = s.recoverMissed(ctx, tasks)
	if err != nil {
		return fmt.Errorf("recovering missed tasks: %w", err)
	}
	if err := s.store.save(tasks); err != nil {
		return fmt.Errorf("saving tasks after recovery: %w", err)
	}

	s.mu.Lock()
	for _, t := range tasks {
		if err := s.registerLocked(t); err != nil {
			s.logger.Error("registering task failed", "task", t.Name, "error", err)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	return nil
}

// Stop halts the cron runner and every pending one-shot timer.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	for _, timer := range s.timers {
		timer.Stop()
	}
	s.mu.Unlock()
}

// registerLocked registers (or re-registers) a single task's live trigger.
// Caller must hold s.mu.
func (s *Scheduler) registerLocked(t Task) error {
	s.removeEntryLocked(t.TaskID)

	taskID := t.TaskID
	if t.IsCron() {
		sched, err := parseCronExpr(t.CronExpr())
		if err != nil {
			return err
		}
		id := s.cron.Schedule(sched, cron.FuncJob(func() { s.onTrigger(taskID) }))
		s.entries[taskID] = id
		return nil
	}

	when, err := time.ParseInLocation("2006-01-02T15:04:05", t.Trigger, time.Local)
	if err != nil {
		return fmt.Errorf("parsing once trigger %q: %w", t.Trigger, err)
	}
	delay := time.Until(when)
	if delay < 0 {
		delay = 0
	}
	s.timers[taskID] = time.AfterFunc(delay, func() { s.onTrigger(taskID) })
	return nil
}

// removeEntryLocked removes any live registration for taskID. Caller must
// hold s.mu.
func (s *Scheduler) removeEntryLocked(taskID string) {
	if id, ok := s.entries[taskID]; ok {
		s.cron.Remove(id)
		delete(s.entries, taskID)
	}
	if timer, ok := s.timers[taskID]; ok {
		timer.Stop()
		delete(s.timers, taskID)
	}
}

// onTrigger is the fire path (spec §4.2 steps 1-7): load, bump run_count,
// decide expiry, persist, enqueue the reply at SCHEDULED priority, and kick
// the complex-reschedule workflow for a surviving COMPLEX_REPEAT task.
func (s *Scheduler) onTrigger(taskID string) {
	ctx := context.Background()

	tasks, err := s.store.load()
	if err != nil {
		s.logger.Error("loading tasks for trigger", "error", err)
		return
	}

	idx := -1
	for i, t := range tasks {
		if t.TaskID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	task := tasks[idx]

	now := s.now()
	task.RunCount++
	task.LastRun = &now

	expired := task.Kind == KindOnce ||
		(task.MaxRuns > 0 && task.RunCount >= task.MaxRuns) ||
		(task.EndDate != "" && now.Format("2006-01-02") > task.EndDate)

	if expired {
		tasks = removeTask(tasks, taskID)
		s.mu.Lock()
		s.removeEntryLocked(taskID)
		s.mu.Unlock()
	} else {
		tasks[idx] = task
	}
	if err := s.store.save(tasks); err != nil {
		s.logger.Error("saving tasks after trigger", "task", task.Name, "error", err)
	}

	var header string
	if task.Kind == KindRepeat {
		header = fmt.Sprintf("<scheduled_task>%s-第%d次</scheduled_task>", task.Name, task.RunCount)
	} else {
		header = fmt.Sprintf("<scheduled_task>%s</scheduled_task>", task.Name)
	}
	text := header + "\n" + task.Content

	source := task.Source
	replyFn := func(ctx context.Context, segment string) error {
		if s.poster == nil {
			return nil
		}
		return s.poster(ctx, source, segment)
	}
	s.dispatcher.Enqueue(dispatch.PriorityScheduled, task.Source, text, replyFn, nil)

	if task.Kind == KindComplexRepeat && !expired {
		current, err := s.store.load()
		if err != nil {
			s.logger.Error("reloading tasks before reschedule", "error", err)
			return
		}
		if taskStillExists(current, taskID) {
			s.reschedule(ctx, task)
		}
	}
}

func removeTask(tasks []Task, taskID string) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.TaskID != taskID {
			out = append(out, t)
		}
	}
	return out
}

func taskStillExists(tasks []Task, taskID string) bool {
	for _, t := range tasks {
		if t.TaskID == taskID {
			return true
		}
	}
	return false
}
