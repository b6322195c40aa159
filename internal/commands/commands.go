// Package commands implements the role-gated "/"-prefixed command surface,
// grounded on original_source/src/core/commands.py's exact command set and
// register/dispatch shape, restructured around a Go registry instead of a
// Python decorator.
package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/countlessbugs/relaybot/internal/contacts"
	"github.com/countlessbugs/relaybot/internal/convo"
	"github.com/countlessbugs/relaybot/internal/dispatch"
	"github.com/countlessbugs/relaybot/internal/scheduler"
)

// CommandResult is what a command produced. A non-empty FilePath means the
// caller should deliver the file at FilePath (named FileName) instead of, or
// in addition to, Response.
type CommandResult struct {
	Response string
	FilePath string
	FileName string
	Handled  bool
}

// IsCommand reports whether content looks like a "/"-prefixed command.
func IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "/")
}

type handlerFunc func(ctx context.Context, userID, args string) CommandResult

type registration struct {
	minRole     Role
	handler     handlerFunc
	description string
	usage       string
}

// Dispatcher holds every command's dependencies and the role-gated
// registry. It is built once at process start.
type Dispatcher struct {
	graph           *convo.Graph
	scheduler       *scheduler.Scheduler
	dispatcher      *dispatch.Dispatcher
	contacts        *contacts.Directory
	permissionsPath string
	promptPath      string
	logDir          string
	reloadConfig    func() error

	registry map[string]registration
	order    []string
}

// New builds a Dispatcher. reloadConfig is invoked by /reload config — it is
// a callback into cmd/relaybot's wiring (re-reading settings.yaml into the
// shared Config) rather than logic commands owns. The conversation graph and
// its LLM client are not rebuilt by it.
func New(
	graph *convo.Graph,
	sched *scheduler.Scheduler,
	disp *dispatch.Dispatcher,
	dir *contacts.Directory,
	permissionsPath, promptPath, logDir string,
	reloadConfig func() error,
) *Dispatcher {
	d := &Dispatcher{
		graph:           graph,
		scheduler:       sched,
		dispatcher:      disp,
		contacts:        dir,
		permissionsPath: permissionsPath,
		promptPath:      promptPath,
		logDir:          logDir,
		reloadConfig:    reloadConfig,
		registry:        make(map[string]registration),
	}
	d.registerAll()
	return d
}

func (d *Dispatcher) register(name string, minRole Role, description, usage string, fn handlerFunc) {
	d.registry[name] = registration{minRole: minRole, handler: fn, description: description, usage: usage}
	d.order = append(d.order, name)
}

// HandleCommand processes text as a command from userID, gating by role.
// Returns Handled=false if text is not a "/"-command at all (the caller
// should fall through to normal message handling in that case).
func (d *Dispatcher) HandleCommand(ctx context.Context, userID, text string) CommandResult {
	text = strings.TrimSpace(text)
	if !IsCommand(text) {
		return CommandResult{Handled: false}
	}

	role := GetRole(d.permissionsPath, userID)
	if role == RoleUser {
		return CommandResult{Handled: false}
	}

	parts := strings.SplitN(strings.TrimPrefix(text, "/"), " ", 2)
	name := parts[0]
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	reg, ok := d.registry[name]
	if !ok {
		return CommandResult{Response: "未知指令: /" + name, Handled: true}
	}
	if role < reg.minRole {
		return CommandResult{Response: "权限不足", Handled: true}
	}

	result := reg.handler(ctx, userID, args)
	result.Handled = true
	return result
}

func (d *Dispatcher) registerAll() {
	// --- developer commands ---
	d.register("help", RoleDeveloper, "列出可用指令或查看指令详情", "/help [指令名]", d.cmdHelp)
	d.register("token", RoleDeveloper, "显示当前上下文token数", "", d.cmdToken)
	d.register("raw", RoleDeveloper, "显示最后一轮对话", "", d.cmdRaw)
	d.register("status", RoleDeveloper, "显示Bot状态", "", d.cmdStatus)
	d.register("tasks", RoleDeveloper, "列出活跃的定时任务", "", d.cmdTasks)
	d.register("context", RoleDeveloper, "导出当前上下文历史", "", d.cmdContext)
	d.register("prompt", RoleDeveloper, "导出当前系统提示词", "", d.cmdPrompt)
	d.register("log", RoleDeveloper, "导出日志文件", "/log [YYYY-MM-DD]", d.cmdLog)

	// --- admin commands ---
	d.register("reload", RoleAdmin, "重载配置", "/reload <config|contact>", d.cmdReload)
	d.register("summarize", RoleAdmin, "立即总结上下文", "", d.cmdSummarize)
	d.register("clear_context", RoleAdmin, "清空上下文历史", "", d.cmdClearContext)
}

func (d *Dispatcher) cmdHelp(ctx context.Context, userID, args string) CommandResult {
	role := GetRole(d.permissionsPath, userID)
	if args != "" {
		name := strings.TrimPrefix(strings.TrimSpace(args), "/")
		reg, ok := d.registry[name]
		if !ok {
			return CommandResult{Response: "未知指令: /" + args}
		}
		usage := reg.usage
		if usage == "" {
			usage = "无参数"
		}
		return CommandResult{Response: fmt.Sprintf("/%s - %s\n用法: %s", name, reg.description, usage)}
	}

	names := make([]string, len(d.order))
	copy(names, d.order)
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		reg := d.registry[name]
		if role >= reg.minRole {
			lines = append(lines, fmt.Sprintf("/%s - %s", name, reg.description))
		}
	}
	return CommandResult{Response: strings.Join(lines, "\n")}
}

func (d *Dispatcher) cmdToken(ctx context.Context, userID, args string) CommandResult {
	return CommandResult{Response: fmt.Sprintf("当前上下文token估算: %d", d.graph.CurrentTokenUsage())}
}

func (d *Dispatcher) cmdRaw(ctx context.Context, userID, args string) CommandResult {
	user, assistant, ok := d.graph.LastTurn()
	if !ok {
		return CommandResult{Response: "该轮对话在上下文历史中已被清除"}
	}
	var parts []string
	if user != "" {
		parts = append(parts, "[Human] "+user)
	}
	if assistant != "" {
		parts = append(parts, "[AI] "+assistant)
	}
	if len(parts) == 0 {
		return CommandResult{Response: "无内容"}
	}
	return CommandResult{Response: strings.Join(parts, "\n")}
}

func (d *Dispatcher) cmdStatus(ctx context.Context, userID, args string) CommandResult {
	tasks, err := d.scheduler.ListTasks()
	taskCount := 0
	if err == nil {
		taskCount = len(tasks)
	}
	lines := []string{
		fmt.Sprintf("会话活跃: %s", yesNo(d.graph.HasHistory())),
		fmt.Sprintf("上下文消息数: %d", d.graph.History().Len()),
		fmt.Sprintf("活跃任务数: %d", taskCount),
		fmt.Sprintf("队列深度: %d", d.dispatcher.QueueDepth()),
	}
	return CommandResult{Response: strings.Join(lines, "\n")}
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "否"
}

func (d *Dispatcher) cmdTasks(ctx context.Context, userID, args string) CommandResult {
	tasks, err := d.scheduler.ListTasks()
	if err != nil {
		return CommandResult{Response: fmt.Sprintf("读取任务失败: %v", err)}
	}
	if len(tasks) == 0 {
		return CommandResult{Response: "无活跃任务"}
	}
	var lines []string
	for _, t := range tasks {
		lines = append(lines, fmt.Sprintf("%s [%s] trigger=%s runs=%d", t.Name, t.Kind, t.Trigger, t.RunCount))
	}
	return CommandResult{Response: strings.Join(lines, "\n")}
}

func (d *Dispatcher) cmdContext(ctx context.Context, userID, args string) CommandResult {
	text := d.graph.RawTranscript()
	path, err := writeTempFile("context-*.txt", text)
	if err != nil {
		return CommandResult{Response: fmt.Sprintf("导出失败: %v", err)}
	}
	return CommandResult{FilePath: path, FileName: "context.txt"}
}

func (d *Dispatcher) cmdPrompt(ctx context.Context, userID, args string) CommandResult {
	if _, err := os.Stat(d.promptPath); err != nil {
		return CommandResult{Response: fmt.Sprintf("读取提示词失败: %v", err)}
	}
	return CommandResult{FilePath: d.promptPath, FileName: "prompt.txt"}
}

func (d *Dispatcher) cmdLog(ctx context.Context, userID, args string) CommandResult {
	name := "bot.log"
	if strings.TrimSpace(args) != "" {
		name = "bot.log." + strings.ReplaceAll(strings.TrimSpace(args), "-", "_")
	}
	path := filepath.Join(d.logDir, name)
	if _, err := os.Stat(path); err != nil {
		return CommandResult{Response: fmt.Sprintf("未找到日志: %s", path)}
	}
	return CommandResult{FilePath: path, FileName: filepath.Base(path)}
}

func (d *Dispatcher) cmdReload(ctx context.Context, userID, args string) CommandResult {
	switch strings.TrimSpace(args) {
	case "config":
		if d.reloadConfig == nil {
			return CommandResult{Response: "配置重载未启用"}
		}
		if err := d.reloadConfig(); err != nil {
			return CommandResult{Response: fmt.Sprintf("重载失败: %v", err)}
		}
		return CommandResult{Response: "配置已重载"}
	case "contact":
		if err := d.contacts.RefreshAll(ctx); err != nil {
			return CommandResult{Response: fmt.Sprintf("刷新失败: %v", err)}
		}
		return CommandResult{Response: "联系人缓存已刷新"}
	default:
		return CommandResult{Response: "用法: /reload <config|contact>"}
	}
}

func (d *Dispatcher) cmdSummarize(ctx context.Context, userID, args string) CommandResult {
	if err := d.graph.Invoke(ctx, dispatch.ReasonSessionTimeout, "", nil, func(string) {}); err != nil {
		return CommandResult{Response: fmt.Sprintf("总结失败: %v", err)}
	}
	return CommandResult{Response: "上下文已总结"}
}

func (d *Dispatcher) cmdClearContext(ctx context.Context, userID, args string) CommandResult {
	d.graph.ClearHistory()
	return CommandResult{Response: "上下文已清空"}
}

func writeTempFile(pattern, content string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", err
	}
	return f.Name(), nil
}
