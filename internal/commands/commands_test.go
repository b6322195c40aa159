package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/countlessbugs/relaybot/internal/contacts"
	"github.com/countlessbugs/relaybot/internal/convo"
	"github.com/countlessbugs/relaybot/internal/dispatch"
	"github.com/countlessbugs/relaybot/internal/llm"
	"github.com/countlessbugs/relaybot/internal/scheduler"
)

type fakeContactSource struct{ refreshed int }

func (f *fakeContactSource) FetchFriends(ctx context.Context) ([]contacts.Friend, error) {
	f.refreshed++
	return nil, nil
}
func (f *fakeContactSource) FetchGroups(ctx context.Context) ([]contacts.Group, error) {
	return nil, nil
}

func writePermissions(t *testing.T, dir string, admins, devs []string) string {
	t.Helper()
	path := filepath.Join(dir, "permissions.yaml")
	var b strings.Builder
	b.WriteString("admin:\n")
	for _, id := range admins {
		b.WriteString("  - \"" + id + "\"\n")
	}
	b.WriteString("developer:\n")
	for _, id := range devs {
		b.WriteString("  - \"" + id + "\"\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("writing permissions.yaml: %v", err)
	}
	return path
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *convo.Graph, string) {
	t.Helper()
	dir := t.TempDir()
	permPath := writePermissions(t, dir, []string{"admin-1"}, []string{"dev-1"})

	fake := &llm.Null{}
	graph := convo.NewGraph(fake, nil, "sys prompt", 0, nil, nil)

	sched := scheduler.New(filepath.Join(dir, "tasks.json"), dispatch.New(nil, nil, nil, 0, nil), graph, nil, nil)

	src := &fakeContactSource{}
	cd := contacts.New(src)

	disp := dispatch.New(graph, nil, nil, 0, nil)

	promptPath := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(promptPath, []byte("sys prompt"), 0o644); err != nil {
		t.Fatalf("writing prompt.txt: %v", err)
	}

	d := New(graph, sched, disp, cd, permPath, promptPath, dir, func() error { return nil })
	return d, graph, dir
}

func TestHandleCommandNotACommandPassesThrough(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "dev-1", "hello there")
	if r.Handled {
		t.Fatalf("expected Handled=false for non-command text")
	}
}

func TestHandleCommandUnknownRole(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "rando", "/status")
	if r.Handled {
		t.Fatalf("expected plain users typing /status to pass through unhandled")
	}
}

func TestHandleCommandUnknownName(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "dev-1", "/nope")
	if !r.Handled || r.Response != "未知指令: /nope" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestHandleCommandInsufficientRole(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "dev-1", "/reload config")
	if !r.Handled || r.Response != "权限不足" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestHelpListsCommandsByRole(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "dev-1", "/help")
	if !r.Handled {
		t.Fatalf("expected handled")
	}
	if strings.Contains(r.Response, "/reload") {
		t.Fatalf("developer help listing should not include admin commands: %q", r.Response)
	}
	if !strings.Contains(r.Response, "/status") {
		t.Fatalf("expected /status in developer help: %q", r.Response)
	}

	rAdmin := d.HandleCommand(context.Background(), "admin-1", "/help")
	if !strings.Contains(rAdmin.Response, "/reload") {
		t.Fatalf("expected /reload in admin help: %q", rAdmin.Response)
	}
}

func TestHelpWithArgShowsUsage(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "dev-1", "/help log")
	if !strings.Contains(r.Response, "/log - 导出日志文件") || !strings.Contains(r.Response, "用法: /log [YYYY-MM-DD]") {
		t.Fatalf("unexpected help text: %q", r.Response)
	}
}

func TestRawWithEmptyHistory(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "dev-1", "/raw")
	if r.Response != "该轮对话在上下文历史中已被清除" {
		t.Fatalf("unexpected response: %q", r.Response)
	}
}

func TestRawWithHistory(t *testing.T) {
	d, graph, _ := newTestDispatcher(t)
	graph.WithLock(func() {
		graph.History().Append(convo.Message{Role: convo.RoleUser, Content: "hi"})
		graph.History().Append(convo.Message{Role: convo.RoleAssistant, Content: "hello"})
	})
	r := d.HandleCommand(context.Background(), "dev-1", "/raw")
	if !strings.Contains(r.Response, "[Human] hi") || !strings.Contains(r.Response, "[AI] hello") {
		t.Fatalf("unexpected response: %q", r.Response)
	}
}

func TestClearContextWipesHistory(t *testing.T) {
	d, graph, _ := newTestDispatcher(t)
	graph.WithLock(func() {
		graph.History().Append(convo.Message{Role: convo.RoleUser, Content: "hi"})
	})
	r := d.HandleCommand(context.Background(), "admin-1", "/clear_context")
	if r.Response != "上下文已清空" {
		t.Fatalf("unexpected response: %q", r.Response)
	}
	if graph.HasHistory() {
		t.Fatalf("expected history cleared")
	}
}

func TestReloadContactRefreshes(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "admin-1", "/reload contact")
	if r.Response != "联系人缓存已刷新" {
		t.Fatalf("unexpected response: %q", r.Response)
	}
}

func TestReloadUnknownTargetShowsUsage(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "admin-1", "/reload bogus")
	if r.Response != "用法: /reload <config|contact>" {
		t.Fatalf("unexpected response: %q", r.Response)
	}
}

func TestContextExportsFile(t *testing.T) {
	d, graph, _ := newTestDispatcher(t)
	graph.WithLock(func() {
		graph.History().Append(convo.Message{Role: convo.RoleUser, Content: "hi"})
	})
	r := d.HandleCommand(context.Background(), "dev-1", "/context")
	if r.FilePath == "" || r.FileName != "context.txt" {
		t.Fatalf("expected a file response, got %+v", r)
	}
	data, err := os.ReadFile(r.FilePath)
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}
	if !strings.Contains(string(data), "hi") {
		t.Fatalf("unexpected export content: %q", data)
	}
	os.Remove(r.FilePath)
}

func TestLogMissingFileReportsError(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "dev-1", "/log 2026-01-01")
	if !strings.HasPrefix(r.Response, "未找到日志:") {
		t.Fatalf("unexpected response: %q", r.Response)
	}
}

func TestTasksEmpty(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	r := d.HandleCommand(context.Background(), "dev-1", "/tasks")
	if r.Response != "无活跃任务" {
		t.Fatalf("unexpected response: %q", r.Response)
	}
}
