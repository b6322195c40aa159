package parser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/countlessbugs/relaybot/internal/config"
	"github.com/countlessbugs/relaybot/internal/contacts"
	"github.com/countlessbugs/relaybot/internal/dispatch"
)

type fakeContactSource struct {
	friends []contacts.Friend
	groups  []contacts.Group
}

func (f *fakeContactSource) FetchFriends(ctx context.Context) ([]contacts.Friend, error) {
	return f.friends, nil
}
func (f *fakeContactSource) FetchGroups(ctx context.Context) ([]contacts.Group, error) {
	return f.groups, nil
}

func newDirectory(t *testing.T) *contacts.Directory {
	t.Helper()
	src := &fakeContactSource{
		friends: []contacts.Friend{{UserID: "100", Remark: "Alice"}},
		groups:  []contacts.Group{{GroupID: "g1", GroupName: "Official", GroupRemark: "My Group"}},
	}
	d := contacts.New(src)
	if err := d.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	return d
}

type fakeFetcher struct {
	text string
	err  error
}

func (f *fakeFetcher) GetMsg(ctx context.Context, messageID string) (string, error) {
	return f.text, f.err
}

type fakeResolver struct {
	tag   string
	block *dispatch.ContentBlock
}

func (f *fakeResolver) ResolveSync(ctx context.Context, t dispatch.MediaTask) (string, *dispatch.ContentBlock) {
	return f.tag, f.block
}

func TestParseTextAndAtSegments(t *testing.T) {
	d := newDirectory(t)
	p := New(d, &fakeFetcher{}, &fakeResolver{}, nil)

	ev := Event{
		SenderUserID:   "100",
		SenderNickname: "fallback-nick",
		Segments: []Segment{
			{Type: SegText, Text: "hello "},
			{Type: SegAt, UserID: "100"},
			{Type: SegText, Text: " and "},
			{Type: SegAt, UserID: "999"},
			{Type: SegText, Text: " "},
			{Type: SegAt, AtAll: true},
		},
	}

	text, payload, err := p.Parse(context.Background(), ev, Settings{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(payload.MediaTasks) != 0 {
		t.Fatalf("expected no media tasks, got %d", len(payload.MediaTasks))
	}
	want := "<sender>Alice</sender>hello @Alice and @999 @全体成员"
	if text != want {
		t.Fatalf("Parse text = %q, want %q", text, want)
	}
}

func TestParseFaceKnownAndUnknown(t *testing.T) {
	d := newDirectory(t)
	p := New(d, &fakeFetcher{}, &fakeResolver{}, map[int]string{1: "smile"})

	ev := Event{SenderUserID: "100", Segments: []Segment{
		{Type: SegFace, FaceID: 1},
		{Type: SegFace, FaceID: 99},
	}}
	text, _, err := p.Parse(context.Background(), ev, Settings{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(text, `<face name="smile" />`) || !strings.Contains(text, "<face />") {
		t.Fatalf("unexpected face rendering: %q", text)
	}
}

func TestParseReplySuccessAndFailure(t *testing.T) {
	d := newDirectory(t)

	p := New(d, &fakeFetcher{text: "this is the quoted original message body"}, &fakeResolver{}, nil)
	ev := Event{SenderUserID: "100", Segments: []Segment{{Type: SegReply, ReplyToMessageID: "m1"}}}
	text, _, err := p.Parse(context.Background(), ev, Settings{ReplyMaxLength: 10})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(text, "<reply_to>this is th...</reply_to>") {
		t.Fatalf("unexpected truncated reply: %q", text)
	}

	pFail := New(d, &fakeFetcher{err: errors.New("boom")}, &fakeResolver{}, nil)
	text2, _, err := pFail.Parse(context.Background(), ev, Settings{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(text2, "<reply_to>无法获取原消息</reply_to>") {
		t.Fatalf("unexpected failure reply: %q", text2)
	}
}

func TestParseMediaBelowThresholdResolvesSync(t *testing.T) {
	d := newDirectory(t)
	resolver := &fakeResolver{tag: `<image filename="pic.jpg">a cat</image>`}
	p := New(d, &fakeFetcher{}, resolver, nil)

	ev := Event{SenderUserID: "100", Segments: []Segment{
		{Type: SegImage, Filename: "pic.jpg", SizeBytes: 1024},
	}}
	settings := Settings{Media: config.MediaConfig{SyncThresholdMB: 1}}

	text, payload, err := p.Parse(context.Background(), ev, settings)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(payload.MediaTasks) != 0 {
		t.Fatalf("expected sync resolution, got %d pending tasks", len(payload.MediaTasks))
	}
	if !strings.Contains(text, "a cat") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestParseMediaAboveThresholdQueuesPlaceholder(t *testing.T) {
	d := newDirectory(t)
	p := New(d, &fakeFetcher{}, &fakeResolver{}, nil)

	ev := Event{SenderUserID: "100", Segments: []Segment{
		{Type: SegAudio, Filename: "clip.mp3", SizeBytes: 50 * 1024 * 1024},
	}}
	settings := Settings{Media: config.MediaConfig{SyncThresholdMB: 1}}

	text, payload, err := p.Parse(context.Background(), ev, settings)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(payload.MediaTasks) != 1 {
		t.Fatalf("expected one pending media task, got %d", len(payload.MediaTasks))
	}
	task := payload.MediaTasks[0]
	if task.MediaType != "audio" || task.Filename != "clip.mp3" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if !strings.Contains(text, `<voice status="loading" filename="clip.mp3" />`) {
		t.Fatalf("unexpected placeholder text: %q", text)
	}
	if task.PlaceholderTag != `<voice status="loading" filename="clip.mp3" />` {
		t.Fatalf("unexpected placeholder tag: %q", task.PlaceholderTag)
	}
}

func TestParseUnsupportedSegment(t *testing.T) {
	d := newDirectory(t)
	p := New(d, &fakeFetcher{}, &fakeResolver{}, nil)

	ev := Event{SenderUserID: "100", Segments: []Segment{
		{Type: SegOther, OtherType: "poke"},
		{Type: SegOther, OtherType: "dice", Summary: "[dice: 4]"},
	}}
	text, _, err := p.Parse(context.Background(), ev, Settings{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(text, `<unsupported type="poke" />`) || !strings.Contains(text, "[dice: 4]") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestFormatMessagePrivateVsGroup(t *testing.T) {
	d := newDirectory(t)
	p := New(d, &fakeFetcher{}, &fakeResolver{}, nil)

	private := Event{SenderUserID: "100", Segments: []Segment{{Type: SegText, Text: "hi"}}}
	text, _, _ := p.Parse(context.Background(), private, Settings{})
	if text != "<sender>Alice</sender>hi" {
		t.Fatalf("unexpected private format: %q", text)
	}

	group := Event{SenderUserID: "200", SenderNickname: "Nick", GroupID: "g1", Segments: []Segment{{Type: SegText, Text: "hi"}}}
	text2, _, _ := p.Parse(context.Background(), group, Settings{})
	if text2 != "<sender>Nick [群聊-My Group]</sender>hi" {
		t.Fatalf("unexpected group format: %q", text2)
	}
}
