// Package dispatch implements the prioritized, per-source-batched,
// single-flight work queue described in SPEC_FULL.md §4.1. It is the direct
// Go translation of original_source/src/core/scheduler.py's _batch /
// _process_loop / enqueue algorithm, restructured around a mutex-guarded
// struct and a container/heap priority queue instead of a module-level
// asyncio.PriorityQueue.
package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Reason is the externally-supplied trigger reason the conversation graph's
// router node dispatches on.
type Reason int

const (
	ReasonUserMessage Reason = iota
	ReasonScheduledTask
	ReasonComplexReschedule
	ReasonSessionTimeout
)

// Agent is the conversation-state/LLM-graph collaborator the dispatcher
// drives. Defined here (rather than imported from internal/convo) so that
// dispatch has no dependency on convo; convo implements this interface and
// depends on dispatch instead, avoiding an import cycle.
type Agent interface {
	// Invoke runs one full graph traversal for a single batched group.
	// onSegment is called once per output-segmenter-emitted chunk of the
	// assistant's reply, in order.
	Invoke(ctx context.Context, reason Reason, text string, blocks []ContentBlock, onSegment func(string)) error
	// HasHistory reports whether the conversation history is non-empty,
	// gating whether an inactivity timer gets (re)armed after a drain.
	HasHistory() bool
}

// InactivityTimers is the timer collaborator the dispatcher notifies after
// every fully-processed drain (spec §4.1 step 4).
type InactivityTimers interface {
	ScheduleSummarize(after time.Duration)
	CancelClear()
}

// MediaResolver resolves a parsed message's pending media tasks independent
// of the main queue (spec §4.4); the dispatcher re-enqueues the result.
type MediaResolver interface {
	Resolve(ctx context.Context, tasks []MediaTask) (resolved map[string]string, blocks []ContentBlock)
}

// Dispatcher is the priority-queue + single-worker engine.
type Dispatcher struct {
	mu            sync.Mutex
	pq            priorityQueue
	workerRunning bool
	currentSource string
	seq           uint64

	agent          Agent
	resolver       MediaResolver
	timers         InactivityTimers
	summarizeAfter time.Duration
	logger         *slog.Logger

	ctx context.Context
}

// New builds a Dispatcher. summarizeAfter is the inactivity duration before
// an idle conversation is summarized (settings.yaml's
// timeout_summarize_seconds).
func New(agent Agent, resolver MediaResolver, timers InactivityTimers, summarizeAfter time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		agent:          agent,
		resolver:       resolver,
		timers:         timers,
		summarizeAfter: summarizeAfter,
		logger:         logger.With("component", "dispatcher"),
		ctx:            context.Background(),
	}
}

// Start binds the dispatcher's background context. Sidecar goroutines
// (the worker loop, media resolution) run under this context rather than
// any individual caller's request context, so they survive past the
// lifetime of the Enqueue call that spawned them.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()
}

// QueueDepth returns the number of items currently waiting in the queue,
// for the /status developer command.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pq.Len()
}

// CurrentSource returns the source_key the worker is presently processing,
// or "" if idle. The inactivity-timer logic does not consult it (it checks
// only whether history is non-empty); tool execution reads the
// per-invocation value threaded via ContextWithSource instead, not this field.
func (d *Dispatcher) CurrentSource() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentSource
}

// Enqueue adds one item to the queue, spawning the worker if it is not
// already running, and — if the item carries pending media tasks — an
// independent sidecar that resolves them and re-enqueues a follow-up item.
func (d *Dispatcher) Enqueue(priority Priority, sourceKey, displayText string, replyFn ReplyFunc, payload *ParsedPayload) {
	d.mu.Lock()
	d.seq++
	it := &item{
		priority:    priority,
		seq:         d.seq,
		sourceKey:   sourceKey,
		displayText: displayText,
		replyFn:     replyFn,
		payload:     payload,
	}
	pushItem(&d.pq, it)
	spawn := !d.workerRunning
	if spawn {
		d.workerRunning = true
	}
	ctx := d.ctx
	d.mu.Unlock()

	if spawn {
		go d.workerLoop()
	}

	if payload != nil && len(payload.MediaTasks) > 0 && d.resolver != nil {
		go d.resolveMedia(ctx, priority, sourceKey, displayText, replyFn, payload)
	}
}

func (d *Dispatcher) resolveMedia(ctx context.Context, priority Priority, sourceKey, displayText string, replyFn ReplyFunc, payload *ParsedPayload) {
	resolved, blocks := d.resolver.Resolve(ctx, payload.MediaTasks)

	text := displayText
	for _, mt := range payload.MediaTasks {
		if r, ok := resolved[mt.PlaceholderID]; ok {
			text = strings.ReplaceAll(text, mt.PlaceholderTag, r)
		}
	}

	// Re-enqueue as a fresh follow-up turn, same priority, no more media
	// tasks attached — this is the "re-render at enqueue time" design note.
	d.Enqueue(priority, sourceKey, text, replyFn, &ParsedPayload{ContentBlocks: blocks})
}

// workerLoop drains the queue to empty, one batch per pass, looping back
// for any items that arrived mid-processing in a new drain rather than
// folding them into the in-flight batch (spec §4.1 step 5).
func (d *Dispatcher) workerLoop() {
	for {
		d.mu.Lock()
		batch := drainAll(&d.pq)
		if len(batch) == 0 {
			d.workerRunning = false
			d.currentSource = ""
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		groups := groupBySource(batch)
		for _, g := range groups {
			d.mu.Lock()
			d.currentSource = g.sourceKey
			d.mu.Unlock()
			d.processGroup(g)
		}

		if d.agent.HasHistory() && d.timers != nil {
			d.timers.ScheduleSummarize(d.summarizeAfter)
			d.timers.CancelClear()
		}
	}
}

// processGroup invokes the agent once for a batched group and streams the
// reply's segments to the group's last reply_fn. Any panic or error is
// logged and swallowed: the worker must never crash the process (spec §7),
// and — following the original implementation's documented policy — the
// in-flight batch is dropped rather than retried.
func (d *Dispatcher) processGroup(g group) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher worker panic, dropping batch", "source", g.sourceKey, "panic", r)
		}
	}()

	var texts []string
	var blocks []ContentBlock
	allScheduled := true
	for _, it := range g.items {
		texts = append(texts, it.displayText)
		if it.payload != nil {
			blocks = append(blocks, it.payload.ContentBlocks...)
		}
		if it.priority != PriorityScheduled {
			allScheduled = false
		}
	}
	text := strings.Join(texts, "\n")

	reason := ReasonUserMessage
	if allScheduled {
		reason = ReasonScheduledTask
	}

	ctx := ContextWithSource(d.ctx, g.sourceKey)
	lastReply := g.items[len(g.items)-1].replyFn

	err := d.agent.Invoke(ctx, reason, text, blocks, func(segment string) {
		if err := lastReply(ctx, segment); err != nil {
			d.logger.Error("reply send failed", "source", g.sourceKey, "error", err)
		}
	})
	if err != nil {
		d.logger.Error("agent invoke failed, dropping batch", "source", g.sourceKey, "error", err)
	}
}

// group is one source_key's worth of items from a single drain.
type group struct {
	sourceKey string
	items     []*item
}

// groupBySource groups batch by source_key, preserving first-seen order
// across groups and arrival order (by sequence) within each group.
func groupBySource(batch []*item) []group {
	indexOf := make(map[string]int)
	var groups []group

	for _, it := range batch {
		idx, ok := indexOf[it.sourceKey]
		if !ok {
			idx = len(groups)
			indexOf[it.sourceKey] = idx
			groups = append(groups, group{sourceKey: it.sourceKey})
		}
		groups[idx].items = append(groups[idx].items, it)
	}

	for i := range groups {
		sort.Slice(groups[i].items, func(a, b int) bool {
			return groups[i].items[a].seq < groups[i].items[b].seq
		})
	}
	return groups
}
