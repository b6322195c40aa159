package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/countlessbugs/relaybot/internal/convo"
	"github.com/countlessbugs/relaybot/internal/dispatch"
	"github.com/countlessbugs/relaybot/internal/llm"
)

var createTaskSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "kind": {"type": "string", "enum": ["once", "repeat", "complex_repeat"]},
    "name": {"type": "string"},
    "content": {"type": "string", "description": "task prompt, in system voice"},
    "trigger": {"type": "string", "description": "ISO-8601 datetime for once, or cron:EXPR for repeat/complex_repeat"},
    "source": {"type": "string", "description": "defaults to the current conversation's source_key if omitted"},
    "max_runs": {"type": "integer"},
    "end_date": {"type": "string", "description": "YYYY-MM-DD"},
    "original_prompt": {"type": "string", "description": "only for complex_repeat, in system voice"}
  },
  "required": ["kind", "name", "content", "trigger"]
}`)

var cancelTaskSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "task_id": {"type": "string"},
    "name": {"type": "string"}
  }
}`)

// RegisterTools binds create_task/cancel_task into tools, the same registry
// the conversation graph advertises to the model.
func (s *Scheduler) RegisterTools(tools *convo.ToolRegistry) {
	tools.Register(llm.ToolDef{
		Name:        "create_task",
		Description: "Create a scheduled task that will post its content back into this conversation when it fires.",
		Parameters:  createTaskSchema,
	}, s.createTask)

	tools.Register(llm.ToolDef{
		Name:        "cancel_task",
		Description: "Cancel a scheduled task by task_id (preferred) or name.",
		Parameters:  cancelTaskSchema,
	}, s.cancelTask)
}

type createTaskArgs struct {
	Kind           string `json:"kind"`
	Name           string `json:"name"`
	Content        string `json:"content"`
	Trigger        string `json:"trigger"`
	Source         string `json:"source,omitempty"`
	MaxRuns        int    `json:"max_runs,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	OriginalPrompt string `json:"original_prompt,omitempty"`
}

func (s *Scheduler) createTask(ctx context.Context, argsJSON string) (string, error) {
	var args createTaskArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("parsing create_task arguments: %w", err)
	}

	source := args.Source
	if source == "" {
		source = dispatch.SourceFromContext(ctx)
	}

	tasks, err := s.store.load()
	if err != nil {
		return "", err
	}
	name := uniqueName(args.Name, tasks)
	task := Task{
		TaskID:         uuid.NewString(),
		Kind:           Kind(args.Kind),
		Name:           name,
		Content:        args.Content,
		Trigger:        args.Trigger,
		Source:         source,
		MaxRuns:        args.MaxRuns,
		EndDate:        args.EndDate,
		OriginalPrompt: args.OriginalPrompt,
	}
	tasks = append(tasks, task)
	if err := s.store.save(tasks); err != nil {
		return "", err
	}

	s.mu.Lock()
	regErr := s.registerLocked(task)
	s.mu.Unlock()
	if regErr != nil {
		return "", regErr
	}

	out, _ := json.Marshal(map[string]string{"task_id": task.TaskID, "name": name})
	return string(out), nil
}

type cancelTaskArgs struct {
	TaskID string `json:"task_id"`
	Name   string `json:"name"`
}

func (s *Scheduler) cancelTask(ctx context.Context, argsJSON string) (string, error) {
	var args cancelTaskArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("parsing cancel_task arguments: %w", err)
	}

	tasks, err := s.store.load()
	if err != nil {
		return "", err
	}

	var target *Task
	if args.TaskID != "" {
		for i := range tasks {
			if tasks[i].TaskID == args.TaskID {
				target = &tasks[i]
				break
			}
		}
	}
	if target == nil && args.Name != "" {
		for i := range tasks {
			if tasks[i].Name == args.Name {
				target = &tasks[i]
				break
			}
		}
	}
	if target == nil {
		out, _ := json.Marshal(map[string]string{"error": "Task not found"})
		return string(out), nil
	}

	taskID, name := target.TaskID, target.Name
	tasks = removeTask(tasks, taskID)
	if err := s.store.save(tasks); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.removeEntryLocked(taskID)
	s.mu.Unlock()

	out, _ := json.Marshal(map[string]string{"cancelled": name})
	return string(out), nil
}
