package session

import (
	"context"
	"testing"
	"time"

	"github.com/countlessbugs/relaybot/internal/contacts"
	"github.com/countlessbugs/relaybot/internal/convo"
	"github.com/countlessbugs/relaybot/internal/llm"
)

type fakeContactSource struct {
	refreshed int
}

func (f *fakeContactSource) FetchFriends(ctx context.Context) ([]contacts.Friend, error) {
	f.refreshed++
	return nil, nil
}
func (f *fakeContactSource) FetchGroups(ctx context.Context) ([]contacts.Group, error) {
	return nil, nil
}

func TestSummarizeThenClearFires(t *testing.T) {
	fake := &llm.Null{}
	fake.Enqueue(llm.Response{Content: "summary"})
	graph := convo.NewGraph(fake, nil, "", 0, nil, nil)
	graph.WithLock(func() {
		graph.History().Append(convo.Message{Role: convo.RoleUser, Content: "hi"})
	})

	src := &fakeContactSource{}
	dir := contacts.New(src)

	tm := New(context.Background(), graph, dir, 30*time.Millisecond, nil)
	tm.ScheduleSummarize(10 * time.Millisecond)

	// Poll for the summarize call to register.
	for i := 0; i < 200 && len(fake.Calls) == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if len(fake.Calls) == 0 {
		t.Fatalf("expected summarize to have invoked the LLM")
	}

	// Poll for the clear timer to fire and wipe history + refresh contacts.
	for i := 0; i < 200 && graph.HasHistory(); i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if graph.HasHistory() {
		t.Fatalf("expected history cleared after session_clear fired")
	}
	if src.refreshed == 0 {
		t.Fatalf("expected contact cache refresh after session_clear fired")
	}

	tm.Stop()
}

func TestCancelClearStopsPendingTimer(t *testing.T) {
	fake := &llm.Null{}
	graph := convo.NewGraph(fake, nil, "", 0, nil, nil)
	tm := New(context.Background(), graph, nil, 20*time.Millisecond, nil)

	tm.clear = time.AfterFunc(5*time.Millisecond, tm.onClear)
	tm.CancelClear()

	time.Sleep(20 * time.Millisecond)
	// onClear must not have run: History() stays untouched (empty either
	// way here, so just assert the timer field was cleared).
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.clear != nil {
		t.Fatalf("expected clear timer to be nil after CancelClear")
	}
}
