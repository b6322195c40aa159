// Package channels defines the transport-agnostic Channel interface and the
// message types every concrete adapter (Discord, ...) translates to and
// from, grounded on pkg/devclaw/channels/channel.go's Channel/IncomingMessage/
// OutgoingMessage/MediaMessage shape.
package channels

import (
	"context"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
)

// Channel is what every concrete transport adapter implements.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, to string, message *OutgoingMessage) error
	Receive() <-chan *IncomingMessage
	IsConnected() bool
	Health() HealthStatus
}

// MediaChannel extends Channel with outbound media support.
type MediaChannel interface {
	Channel
	SendMedia(ctx context.Context, to string, media *MediaMessage) error
}

// PresenceChannel extends Channel with typing/read-receipt indicators.
type PresenceChannel interface {
	Channel
	SendTyping(ctx context.Context, to string) error
	MarkRead(ctx context.Context, chatID string, messageIDs []string) error
}

// Attachment describes one inbound media attachment, carrying just enough
// for the parser's sync/async size-threshold decision (SPEC_FULL.md §4.7)
// and the media sidecar's download step (§4.4) — the adapter resolves the
// URL/size eagerly, but never downloads the bytes itself.
type Attachment struct {
	Type      MessageType
	Filename  string
	URL       string
	SizeBytes int64
}

// Mention is one @-mention inside an inbound message, positioned by byte
// offset in Content so the caller can translate it into a parser.Segment
// in order relative to surrounding text.
type Mention struct {
	UserID string
	AtAll  bool
	Offset int
	Length int
}

// IncomingMessage is one inbound message, channel-agnostic.
type IncomingMessage struct {
	ID       string
	Channel  string
	From     string
	FromName string
	ChatID   string
	IsGroup  bool

	Content     string
	Mentions    []Mention
	Attachments []Attachment
	ReplyTo     string // ID of the quoted message, if any

	Timestamp time.Time
}

// OutgoingMessage is one reply segment to send back.
type OutgoingMessage struct {
	Content string
	ReplyTo string
}

// MediaMessage is one media file to send.
type MediaMessage struct {
	Type     MessageType
	Data     []byte
	URL      string
	Filename string
	Caption  string
}

// HealthStatus reports one channel's connection health.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int64
}
