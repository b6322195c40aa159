package main

import (
	"testing"

	"github.com/countlessbugs/relaybot/internal/channels"
	"github.com/countlessbugs/relaybot/internal/parser"
)

func TestSourceKeyForGroupAndPrivate(t *testing.T) {
	group := &channels.IncomingMessage{ChatID: "123", IsGroup: true}
	if got := sourceKeyFor(group); got != "group:123" {
		t.Fatalf("sourceKeyFor(group) = %q, want %q", got, "group:123")
	}

	private := &channels.IncomingMessage{ChatID: "456", IsGroup: false}
	if got := sourceKeyFor(private); got != "private:456" {
		t.Fatalf("sourceKeyFor(private) = %q, want %q", got, "private:456")
	}
}

func TestChatIDFromSourceKeyRoundTrips(t *testing.T) {
	cases := map[string]string{
		"group:123":   "123",
		"private:456": "456",
	}
	for key, want := range cases {
		got, err := chatIDFromSourceKey(key)
		if err != nil {
			t.Fatalf("chatIDFromSourceKey(%q) returned error: %v", key, err)
		}
		if got != want {
			t.Fatalf("chatIDFromSourceKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestChatIDFromSourceKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "noColon", "group:"} {
		if _, err := chatIDFromSourceKey(key); err == nil {
			t.Fatalf("chatIDFromSourceKey(%q) expected an error", key)
		}
	}
}

func TestSegmentsFromIncomingSplicesMentionsIntoText(t *testing.T) {
	msg := &channels.IncomingMessage{
		Content: "hey @bob check this out",
		Mentions: []channels.Mention{
			{UserID: "bob-id", Offset: 4, Length: 4},
		},
	}
	segs := segmentsFromIncoming(msg)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Type != parser.SegText || segs[0].Text != "hey " {
		t.Fatalf("unexpected first segment: %+v", segs[0])
	}
	if segs[1].Type != parser.SegAt || segs[1].UserID != "bob-id" {
		t.Fatalf("unexpected mention segment: %+v", segs[1])
	}
	if segs[2].Type != parser.SegText || segs[2].Text != " check this out" {
		t.Fatalf("unexpected trailing segment: %+v", segs[2])
	}
}

func TestSegmentsFromIncomingAppendsReplyAndAttachments(t *testing.T) {
	msg := &channels.IncomingMessage{
		Content: "look at this",
		ChatID:  "chan-1",
		ReplyTo: "msg-9",
		Attachments: []channels.Attachment{
			{Type: channels.MessageImage, Filename: "cat.png", URL: "https://example.com/cat.png", SizeBytes: 10},
		},
	}
	segs := segmentsFromIncoming(msg)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments (text, reply, image), got %d: %+v", len(segs), segs)
	}
	if segs[1].Type != parser.SegReply || segs[1].ReplyToMessageID != "chan-1:msg-9" {
		t.Fatalf("unexpected reply segment: %+v", segs[1])
	}
	if segs[2].Type != parser.SegImage || segs[2].URL != "https://example.com/cat.png" {
		t.Fatalf("unexpected image segment: %+v", segs[2])
	}
}

func TestSegmentsFromIncomingAtAllMention(t *testing.T) {
	msg := &channels.IncomingMessage{
		Content:  "@everyone heads up",
		Mentions: []channels.Mention{{AtAll: true, Offset: 0, Length: 9}},
	}
	segs := segmentsFromIncoming(msg)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segs), segs)
	}
	if !segs[0].AtAll {
		t.Fatalf("expected first segment to be an @all mention: %+v", segs[0])
	}
}

func TestEventFromIncomingSetsGroupID(t *testing.T) {
	group := &channels.IncomingMessage{ChatID: "g1", IsGroup: true, From: "u1", FromName: "nick"}
	ev := eventFromIncoming(group)
	if ev.GroupID != "g1" {
		t.Fatalf("expected GroupID g1, got %q", ev.GroupID)
	}

	private := &channels.IncomingMessage{ChatID: "p1", From: "u1"}
	ev = eventFromIncoming(private)
	if ev.GroupID != "" {
		t.Fatalf("expected empty GroupID for a private message, got %q", ev.GroupID)
	}
}
