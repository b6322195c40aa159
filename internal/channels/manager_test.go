package channels

import (
	"context"
	"testing"
	"time"
)

type fakeChannel struct {
	name       string
	connected  bool
	incoming   chan *IncomingMessage
	sent       []string
	connectErr error
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, incoming: make(chan *IncomingMessage, 4)}
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}
func (f *fakeChannel) Disconnect() error {
	f.connected = false
	close(f.incoming)
	return nil
}
func (f *fakeChannel) Send(ctx context.Context, to string, message *OutgoingMessage) error {
	f.sent = append(f.sent, to+":"+message.Content)
	return nil
}
func (f *fakeChannel) Receive() <-chan *IncomingMessage { return f.incoming }
func (f *fakeChannel) IsConnected() bool                { return f.connected }
func (f *fakeChannel) Health() HealthStatus             { return HealthStatus{Connected: f.connected} }

func TestManagerFansInMessages(t *testing.T) {
	m := NewManager(nil)
	ch := newFakeChannel("fake")
	if err := m.Register(ch); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ch.incoming <- &IncomingMessage{ID: "1", Content: "hi"}

	select {
	case msg := <-m.Messages():
		if msg.Content != "hi" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fanned-in message")
	}

	m.Stop()
}

func TestManagerSendRoutesToNamedChannel(t *testing.T) {
	m := NewManager(nil)
	ch := newFakeChannel("fake")
	m.Register(ch)
	m.Start(context.Background())
	defer m.Stop()

	if err := m.Send(context.Background(), "fake", "user1", &OutgoingMessage{Content: "reply"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ch.sent) != 1 || ch.sent[0] != "user1:reply" {
		t.Fatalf("unexpected sent log: %v", ch.sent)
	}
}

func TestManagerSendUnknownChannel(t *testing.T) {
	m := NewManager(nil)
	err := m.Send(context.Background(), "missing", "user1", &OutgoingMessage{Content: "x"})
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestManagerRegisterDuplicateFails(t *testing.T) {
	m := NewManager(nil)
	m.Register(newFakeChannel("fake"))
	if err := m.Register(newFakeChannel("fake")); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestManagerHasChannels(t *testing.T) {
	m := NewManager(nil)
	if m.HasChannels() {
		t.Fatal("expected no channels registered yet")
	}
	m.Register(newFakeChannel("fake"))
	if !m.HasChannels() {
		t.Fatal("expected HasChannels true after Register")
	}
}
