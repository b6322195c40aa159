package discord

import (
	"strings"
	"testing"

	"github.com/countlessbugs/relaybot/internal/channels"
)

func TestInferMediaType(t *testing.T) {
	cases := map[string]channels.MessageType{
		"image/png":       channels.MessageImage,
		"image/jpeg":      channels.MessageImage,
		"audio/mpeg":      channels.MessageAudio,
		"video/mp4":       channels.MessageVideo,
		"application/pdf": channels.MessageDocument,
		"":                channels.MessageDocument,
	}
	for ct, want := range cases {
		if got := inferMediaType(ct); got != want {
			t.Errorf("inferMediaType(%q) = %q, want %q", ct, got, want)
		}
	}
}

func TestSplitDiscordMessageUnderLimitUnchanged(t *testing.T) {
	chunks := splitDiscordMessage("short message", 2000)
	if len(chunks) != 1 || chunks[0] != "short message" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestSplitDiscordMessageSplitsAtNewlineNearLimit(t *testing.T) {
	first := strings.Repeat("a", 1500) + "\n"
	text := first + strings.Repeat("b", 100)
	chunks := splitDiscordMessage(text, 2000)
	if len(chunks) != 1 {
		t.Fatalf("expected text under limit to stay in one chunk, got %d", len(chunks))
	}

	long := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1000)
	chunks = splitDiscordMessage(long, 2000)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 1500)+"\n" {
		t.Fatalf("expected first chunk to end at newline, got len %d", len(chunks[0]))
	}
	if chunks[1] != strings.Repeat("b", 1000) {
		t.Fatalf("unexpected second chunk: %q", chunks[1][:20])
	}
}

func TestSplitDiscordMessageHardCutWithNoNearbyNewline(t *testing.T) {
	text := strings.Repeat("a", 5000)
	chunks := splitDiscordMessage(text, 2000)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 2000 || len(chunks[1]) != 2000 || len(chunks[2]) != 1000 {
		t.Fatalf("unexpected chunk lengths: %d %d %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestContainsHelper(t *testing.T) {
	if !contains([]string{"a", "b"}, "b") {
		t.Fatal("expected contains to find b")
	}
	if contains([]string{"a", "b"}, "c") {
		t.Fatal("expected contains to not find c")
	}
	if contains(nil, "a") {
		t.Fatal("expected contains on nil slice to be false")
	}
}

func TestHealthBeforeConnect(t *testing.T) {
	d := New(Config{Token: "x"}, nil)
	h := d.Health()
	if h.Connected {
		t.Fatal("expected Connected=false before Connect")
	}
	if !h.LastMessageAt.IsZero() {
		t.Fatal("expected zero LastMessageAt before any message")
	}
}

func TestConnectRequiresToken(t *testing.T) {
	d := New(Config{}, nil)
	if err := d.Connect(nil); err == nil {
		t.Fatal("expected error connecting without a token")
	}
}
