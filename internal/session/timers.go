// Package session implements the two inactivity timers the dispatcher
// arms after every drained batch (SPEC_FULL.md §4.1 step 4), grounded on
// original_source/src/core/scheduler.py's _on_session_summarize/
// _on_session_clear: session_summarize fires first and triggers a
// summarize_all invocation, then arms session_clear, which wipes history
// entirely and refreshes the contact cache.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/countlessbugs/relaybot/internal/contacts"
	"github.com/countlessbugs/relaybot/internal/convo"
	"github.com/countlessbugs/relaybot/internal/dispatch"
)

// Timers implements dispatch.InactivityTimers. Unlike task triggers, a
// fired inactivity timer invokes the graph directly rather than going
// through the dispatcher's queue, mirroring how internal/scheduler's
// startup recovery report also calls graph.Invoke directly.
type Timers struct {
	mu            sync.Mutex
	summarize     *time.Timer
	clear         *time.Timer
	clearAfter    time.Duration
	graph         *convo.Graph
	contacts      *contacts.Directory
	logger        *slog.Logger
	backgroundCtx context.Context
}

// New builds a Timers. clearAfter is timeout_clear_seconds: how long after
// a summarize fires before history is wiped entirely.
func New(ctx context.Context, graph *convo.Graph, dir *contacts.Directory, clearAfter time.Duration, logger *slog.Logger) *Timers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timers{
		clearAfter:    clearAfter,
		graph:         graph,
		contacts:      dir,
		logger:        logger.With("component", "session"),
		backgroundCtx: ctx,
	}
}

// ScheduleSummarize (re)arms the session_summarize timer, replacing any
// prior one.
func (t *Timers) ScheduleSummarize(after time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.summarize != nil {
		t.summarize.Stop()
	}
	t.summarize = time.AfterFunc(after, t.onSummarize)
}

// CancelClear stops any pending session_clear timer.
func (t *Timers) CancelClear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.clear != nil {
		t.clear.Stop()
		t.clear = nil
	}
}

func (t *Timers) onSummarize() {
	ctx := t.backgroundCtx
	if err := t.graph.Invoke(ctx, dispatch.ReasonSessionTimeout, "", nil, func(string) {}); err != nil {
		t.logger.Error("session_timeout summarize failed", "error", err)
	}

	t.mu.Lock()
	t.clear = time.AfterFunc(t.clearAfter, t.onClear)
	t.mu.Unlock()
}

func (t *Timers) onClear() {
	t.graph.ClearHistory()
	if t.contacts != nil {
		if err := t.contacts.RefreshAll(t.backgroundCtx); err != nil {
			t.logger.Warn("contact cache refresh on session clear failed", "error", err)
		}
	}
}

// Stop halts both timers, for process shutdown.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.summarize != nil {
		t.summarize.Stop()
	}
	if t.clear != nil {
		t.clear.Stop()
	}
}

var _ dispatch.InactivityTimers = (*Timers)(nil)
