package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/countlessbugs/relaybot/internal/convo"
	"github.com/countlessbugs/relaybot/internal/dispatch"
)

var rescheduleSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["reschedule", "cancel"]},
    "trigger": {"type": ["string", "null"]},
    "name": {"type": ["string", "null"]},
    "content": {"type": ["string", "null"]},
    "original_prompt": {"type": ["string", "null"]}
  },
  "required": ["action"]
}`)

type rescheduleOutput struct {
	Action         string  `json:"action"`
	Trigger        *string `json:"trigger"`
	Name           *string `json:"name"`
	Content        *string `json:"content"`
	OriginalPrompt *string `json:"original_prompt"`
}

// reschedule runs the COMPLEX_REPEAT reschedule workflow (spec §4.3's
// `utility` node): ask the model whether to reschedule or cancel, then
// apply its decision to the store and live registration.
func (s *Scheduler) reschedule(ctx context.Context, task Task) {
	today := s.now().Format("2006-01-02")
	timerPrompt := fmt.Sprintf(
		"你是一个定时任务调度器。今天是%s。根据任务信息决定下次触发时间或取消任务。"+
			"reschedule时提供trigger（ISO datetime或cron:表达式），其余字段如需更新则填写否则为null；"+
			"cancel时其余字段为null。",
		today,
	)
	taskContext := fmt.Sprintf(
		"任务名称：%s\n已执行次数：%d\n原始提示：%s\n当前内容：%s\n当前触发器：%s",
		task.Name, task.RunCount, task.OriginalPrompt, task.Content, task.Trigger,
	)

	var resp struct {
		Content string
	}
	var err error
	s.graph.WithLock(func() {
		r, invokeErr := s.graph.InvokeUtility(ctx, []convo.Message{
			{Role: convo.RoleSystem, Content: timerPrompt},
			{Role: convo.RoleUser, Content: taskContext},
		}, rescheduleSchema)
		resp.Content = r.Content
		err = invokeErr
	})
	if err != nil {
		s.logger.Error("reschedule utility call failed", "task", task.Name, "error", err)
		return
	}

	var result rescheduleOutput
	if err := json.Unmarshal([]byte(resp.Content), &result); err != nil {
		s.logger.Error("parsing reschedule output", "task", task.Name, "content", resp.Content, "error", err)
		return
	}

	tasks, err := s.store.load()
	if err != nil {
		s.logger.Error("loading tasks for reschedule", "error", err)
		return
	}

	switch result.Action {
	case "cancel":
		tasks = removeTask(tasks, task.TaskID)
		if err := s.store.save(tasks); err != nil {
			s.logger.Error("saving tasks after cancel-reschedule", "error", err)
			return
		}
		s.mu.Lock()
		s.removeEntryLocked(task.TaskID)
		s.mu.Unlock()

	case "reschedule":
		for i, t := range tasks {
			if t.TaskID != task.TaskID {
				continue
			}
			if result.Trigger != nil {
				t.Trigger = *result.Trigger
			}
			if result.Name != nil {
				t.Name = *result.Name
			}
			if result.Content != nil {
				t.Content = *result.Content
			}
			if result.OriginalPrompt != nil {
				t.OriginalPrompt = *result.OriginalPrompt
			}
			tasks[i] = t
			if err := s.store.save(tasks); err != nil {
				s.logger.Error("saving rescheduled task", "error", err)
				return
			}
			s.mu.Lock()
			regErr := s.registerLocked(t)
			s.mu.Unlock()
			if regErr != nil {
				s.logger.Error("registering rescheduled task", "error", regErr)
			}
			return
		}

	default:
		s.logger.Warn("unrecognized reschedule action", "task", task.Name, "action", result.Action)
	}
}

// recoverMissed implements the startup-recovery rule (spec §4.2): any ONCE
// task whose trigger is in the past and never ran, or any REPEAT/
// COMPLEX_REPEAT task whose next fire relative to last_run is in the past,
// is reported to the agent in a single batched prompt; missed ONCE tasks
// are then dropped.
func (s *Scheduler) recoverMissed(ctx context.Context, tasks []Task) ([]Task, error) {
	now := s.now()
	var missed []Task

	for _, t := range tasks {
		if t.IsCron() {
			sched, err := parseCronExpr(t.CronExpr())
			if err != nil {
				s.logger.Error("bad cron expression during recovery", "task", t.Name, "error", err)
				continue
			}
			ref := now.AddDate(-25, 0, 0)
			if t.LastRun != nil {
				ref = *t.LastRun
			}
			next := sched.Next(ref)
			if !next.IsZero() && next.Before(now) {
				missed = append(missed, t)
			}
			continue
		}

		when, err := time.ParseInLocation("2006-01-02T15:04:05", t.Trigger, time.Local)
		if err != nil {
			s.logger.Error("bad once trigger during recovery", "task", t.Name, "error", err)
			continue
		}
		if when.Before(now) && t.LastRun == nil {
			missed = append(missed, t)
		}
	}

	if len(missed) > 0 {
		lines := make([]string, 0, len(missed))
		for _, t := range missed {
			lines = append(lines, fmt.Sprintf("- %s (原定时间：%s): %s", t.Name, t.Trigger, t.Content))
		}
		report := "以下定时任务在离线期间已到期：\n" + strings.Join(lines, "\n")
		if err := s.graph.Invoke(ctx, dispatch.ReasonScheduledTask, report, nil, func(string) {}); err != nil {
			s.logger.Error("reporting missed tasks to agent failed", "error", err)
		}
	}

	onceMissed := make(map[string]bool)
	for _, t := range missed {
		if t.Kind == KindOnce {
			onceMissed[t.TaskID] = true
		}
	}
	surviving := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if !onceMissed[t.TaskID] {
			surviving = append(surviving, t)
		}
	}
	return surviving, nil
}
