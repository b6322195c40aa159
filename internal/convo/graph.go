package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/countlessbugs/relaybot/internal/dispatch"
	"github.com/countlessbugs/relaybot/internal/llm"
)

const summarizePrompt = "请总结以下对话，保留关键信息："

// node identifies a position in the conversation graph. The graph is finite
// and acyclic except for the tools -> generate edge.
type node int

const (
	nodeRouter node = iota
	nodeGenerate
	nodeTools
	nodeSummarize
	nodeSummarizeAll
	nodeUtility
	nodeFinalize
)

// Graph is the conversation-state manager: it owns the process-wide history,
// the token-usage counter, and the router/generate/tools/summarize/utility
// state machine over it. It implements dispatch.Agent.
type Graph struct {
	// lock is the "agent lock": held for the full router-to-terminal-node
	// invocation, so concurrent dispatcher/scheduler/command callers
	// serialize rather than interleave state mutations.
	lock sync.Mutex

	history            *History
	client             llm.Client
	tools              *ToolRegistry
	systemPrompt       string
	contextLimitTokens int
	currentTokenUsage  int
	logger             *slog.Logger
	now                func() time.Time
}

// NewGraph builds a Graph. now defaults to time.Now if nil (tests supply a
// fixed clock for deterministic `当前时间：` / summary-timestamp assertions).
func NewGraph(client llm.Client, tools *ToolRegistry, systemPrompt string, contextLimitTokens int, logger *slog.Logger, now func() time.Time) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Graph{
		history:            NewHistory(),
		client:             client,
		tools:              tools,
		systemPrompt:       systemPrompt,
		contextLimitTokens: contextLimitTokens,
		logger:             logger.With("component", "convo"),
		now:                now,
	}
}

// History exposes the underlying history for commands that need to inspect
// or mutate it directly (/context, /clear_context) while holding the agent
// lock themselves via WithLock.
func (g *Graph) History() *History { return g.history }

// CurrentTokenUsage returns the latest known input+output token count.
func (g *Graph) CurrentTokenUsage() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.currentTokenUsage
}

// WithLock runs fn while holding the agent lock, for callers (commands,
// recovery) that need exclusive access to history/token-usage outside of a
// normal Invoke.
func (g *Graph) WithLock(fn func()) {
	g.lock.Lock()
	defer g.lock.Unlock()
	fn()
}

// ClearHistory empties the conversation history and resets the token-usage
// counter, for the /clear_context admin command and the session_clear timer.
func (g *Graph) ClearHistory() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.history.Replace(nil)
	g.currentTokenUsage = 0
}

// HasHistory reports whether the conversation history is non-empty.
func (g *Graph) HasHistory() bool {
	return !g.history.IsEmpty()
}

// Invoke is the dispatch.Agent entry point: router dispatches on reason to
// generate (USER_MESSAGE, SCHEDULED_TASK) or summarize_all (SESSION_TIMEOUT).
// COMPLEX_RESCHEDULE does not flow through here — see InvokeUtility.
func (g *Graph) Invoke(ctx context.Context, reason dispatch.Reason, text string, blocks []dispatch.ContentBlock, onSegment func(string)) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	switch reason {
	case dispatch.ReasonUserMessage, dispatch.ReasonScheduledTask:
		if text != "" || len(blocks) > 0 {
			g.history.Append(Message{Role: RoleUser, Content: text, Blocks: convertBlocks(blocks)})
		}
		return g.runGenerateLoop(ctx, onSegment)
	case dispatch.ReasonSessionTimeout:
		return g.summarizeAll(ctx)
	default:
		return fmt.Errorf("convo: reason %v must be invoked via InvokeUtility", reason)
	}
}

// InvokeUtility runs the utility node directly: a schema-constrained
// completion over a caller-supplied message list that never touches
// history. internal/scheduler's COMPLEX_REPEAT reschedule workflow calls
// this while holding the agent lock (via WithLock) so it serializes with
// ordinary Invoke calls.
func (g *Graph) InvokeUtility(ctx context.Context, messages []Message, schema []byte) (llm.Response, error) {
	req := llm.Request{Messages: toLLMMessages(messages), ResponseSchema: schema}
	return g.client.Complete(ctx, req)
}

func (g *Graph) runGenerateLoop(ctx context.Context, onSegment func(string)) error {
	for {
		req := llm.Request{
			Messages: toLLMMessages(g.buildGenerateMessages()),
			Tools:    g.tools.Defs(),
		}

		seg := newSegmenter(func(s string) {
			if onSegment != nil {
				onSegment(s)
			}
		})

		resp, err := g.client.CompleteStream(ctx, req, seg.Feed)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		seg.Flush()

		g.history.Append(Message{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) > 0 {
			g.runTools(ctx, resp.ToolCalls)
			continue
		}

		g.currentTokenUsage = resp.Usage.TotalTokens

		if g.contextLimitTokens > 0 && resp.Usage.InputTokens > g.contextLimitTokens {
			if err := g.summarize(ctx); err != nil {
				g.logger.Error("summarize failed", "error", err)
			}
		}
		return nil
	}
}

func (g *Graph) runTools(ctx context.Context, calls []llm.ToolCall) {
	for _, call := range calls {
		result, err := g.tools.Execute(ctx, call)
		if err != nil {
			g.logger.Warn("tool call failed", "tool", call.Name, "error", err)
			result = fmt.Sprintf("error: %v", err)
		}
		g.history.Append(Message{Role: RoleTool, Content: result, ToolCallID: call.ID})
	}
}

// buildGenerateMessages prepends the system prompt and, unless the tail is
// a tool result (meaning generate is being re-entered from tools), appends
// a synthetic `当前时间：` system note.
func (g *Graph) buildGenerateMessages() []Message {
	msgs := g.history.Snapshot()
	out := make([]Message, 0, len(msgs)+2)
	out = append(out, Message{Role: RoleSystem, Content: g.systemPrompt})
	out = append(out, msgs...)
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != RoleTool {
		out = append(out, Message{Role: RoleSystem, Content: "当前时间：" + g.now().Format("2006-01-02 15:04:05")})
	}
	return out
}

// findAnchor returns the index of the last Human(User)/System message, or
// -1 if none exists.
func findAnchor(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser || msgs[i].Role == RoleSystem {
			return i
		}
	}
	return -1
}

// safeHead strips any trailing assistant message that still has unresolved
// tool calls, so a split never leaves an orphaned tool-call without its
// matching tool-result messages.
func safeHead(msgs []Message) []Message {
	for len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.Role == RoleAssistant && len(last.ToolCalls) > 0 {
			msgs = msgs[:len(msgs)-1]
			continue
		}
		break
	}
	return msgs
}

func (g *Graph) wrapSummary(content string) Message {
	return Message{
		Role:    RoleSystem,
		Content: fmt.Sprintf("<context-summary summary_time=%s>%s</context-summary>", g.now().Format(time.RFC3339), content),
	}
}

// summarize implements the `summarize` node: split at the last Human/System
// anchor, summarize everything before it, keep the tail verbatim.
func (g *Graph) summarize(ctx context.Context) error {
	msgs := g.history.Snapshot()
	anchor := findAnchor(msgs)
	if anchor < 0 {
		return nil
	}
	tail := msgs[anchor:]
	head := safeHead(msgs[:anchor])
	if len(head) == 0 {
		return nil
	}

	prompt := append([]Message{{Role: RoleUser, Content: summarizePrompt}}, head...)
	resp, err := g.client.Complete(ctx, llm.Request{Messages: toLLMMessages(prompt)})
	if err != nil {
		return err
	}

	newHistory := append([]Message{g.wrapSummary(resp.Content)}, tail...)
	g.history.Replace(newHistory)
	g.currentTokenUsage = g.currentTokenUsage - resp.Usage.InputTokens + resp.Usage.OutputTokens
	return nil
}

// summarizeAll implements the `summarize_all` node, reached only from
// SESSION_TIMEOUT: like summarize but keeps no tail.
func (g *Graph) summarizeAll(ctx context.Context) error {
	msgs := g.history.Snapshot()
	if len(msgs) == 0 {
		return nil
	}

	prompt := append([]Message{{Role: RoleUser, Content: summarizePrompt}}, msgs...)
	resp, err := g.client.Complete(ctx, llm.Request{Messages: toLLMMessages(prompt)})
	if err != nil {
		return err
	}

	g.history.Replace([]Message{g.wrapSummary(resp.Content)})
	g.currentTokenUsage = g.currentTokenUsage - resp.Usage.InputTokens + resp.Usage.OutputTokens
	return nil
}

// LastTurn returns the most recent User and Assistant message contents, for
// the /raw developer command. ok is false if history holds neither.
func (g *Graph) LastTurn() (user, assistant string, ok bool) {
	msgs := g.history.Snapshot()
	var gotUser, gotAssistant bool
	for i := len(msgs) - 1; i >= 0; i-- {
		switch {
		case !gotAssistant && msgs[i].Role == RoleAssistant:
			assistant = msgs[i].Content
			gotAssistant = true
		case !gotUser && msgs[i].Role == RoleUser:
			user = msgs[i].Content
			gotUser = true
		}
		if gotUser && gotAssistant {
			break
		}
	}
	return user, assistant, gotUser || gotAssistant
}

// RawTranscript renders the history as plain text for the /context
// developer command.
func (g *Graph) RawTranscript() string {
	msgs := g.history.Snapshot()
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

var _ dispatch.Agent = (*Graph)(nil)
