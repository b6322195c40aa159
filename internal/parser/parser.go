// Package parser implements message_parser.py's segment walk: turning one
// inbound event's ordered segments into a display-text string plus a
// dispatch.ParsedPayload of pending media tasks and resolved content blocks.
package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/countlessbugs/relaybot/internal/config"
	"github.com/countlessbugs/relaybot/internal/contacts"
	"github.com/countlessbugs/relaybot/internal/dispatch"
)

// SegmentType enumerates the kinds of inbound message segment the parser
// understands. The transport adapter translates its own wire format into
// these before calling Parse.
type SegmentType string

const (
	SegText     SegmentType = "text"
	SegAt       SegmentType = "at"
	SegFace     SegmentType = "face"
	SegReply    SegmentType = "reply"
	SegImage    SegmentType = "image"
	SegAudio    SegmentType = "audio"
	SegVideo    SegmentType = "video"
	SegDocument SegmentType = "document"
	SegOther    SegmentType = "other"
)

// Segment is one transport-agnostic piece of an inbound message.
type Segment struct {
	Type SegmentType

	Text string // SegText

	UserID string // SegAt
	AtAll  bool   // SegAt

	FaceID int // SegFace

	ReplyToMessageID string // SegReply

	// SegImage/SegAudio/SegVideo/SegDocument
	Filename  string
	SizeBytes int64
	URL       string // fetchable source URL, supplied by the channel adapter

	// SegOther
	OtherType string
	Summary   string
}

// Event is one inbound message, already stripped of transport-specific
// framing by the channel adapter.
type Event struct {
	Segments []Segment

	SenderUserID   string
	SenderCard     string // group-specific nickname override, if any
	SenderNickname string

	GroupID string // "" for a private message
}

// MessageFetcher resolves a quoted message's text for SegReply, per the
// transport adapter's GetMsg. An external collaborator (SPEC_FULL.md §1).
type MessageFetcher interface {
	GetMsg(ctx context.Context, messageID string) (string, error)
}

// SyncResolver is the subset of media.Sidecar the parser drives directly
// for attachments under the sync-process size threshold; kept as an
// interface so parser never imports media's concrete type.
type SyncResolver interface {
	ResolveSync(ctx context.Context, t dispatch.MediaTask) (string, *dispatch.ContentBlock)
}

// Settings is the subset of config.Config the parser consults.
type Settings struct {
	ReplyMaxLength int
	Media          config.MediaConfig
}

// Parser walks parsed segments into display text plus pending media work.
type Parser struct {
	contacts *contacts.Directory
	fetcher  MessageFetcher
	resolver SyncResolver
	faceMap  map[int]string
}

// New builds a Parser. faceMap is the per-face/emoji display table; the
// parser accepts it as an injected map rather than embedding one, since the
// concrete face set is an external collaborator.
func New(dir *contacts.Directory, fetcher MessageFetcher, resolver SyncResolver, faceMap map[int]string) *Parser {
	return &Parser{contacts: dir, fetcher: fetcher, resolver: resolver, faceMap: faceMap}
}

var mediaTagNames = map[SegmentType]string{
	SegImage:    "image",
	SegAudio:    "voice",
	SegVideo:    "video",
	SegDocument: "file",
}

func mediaTypeName(t SegmentType) string {
	switch t {
	case SegImage:
		return "image"
	case SegAudio:
		return "audio"
	case SegVideo:
		return "video"
	case SegDocument:
		return "document"
	default:
		return string(t)
	}
}

// Parse builds the display text and ParsedPayload for ev. It never blocks
// on attachment downloads beyond the sync-process size threshold: larger
// attachments become pending dispatch.MediaTasks, resolved later by the
// media sidecar and substituted into the display text of a follow-up
// queue item.
func (p *Parser) Parse(ctx context.Context, ev Event, settings Settings) (string, dispatch.ParsedPayload, error) {
	var body strings.Builder
	var payload dispatch.ParsedPayload

	for _, seg := range ev.Segments {
		switch seg.Type {
		case SegText:
			body.WriteString(seg.Text)

		case SegAt:
			if seg.AtAll {
				body.WriteString("@全体成员")
				continue
			}
			name := p.contacts.GetRemark(seg.UserID)
			if name == "" {
				name = seg.UserID
			}
			body.WriteString("@" + name)

		case SegFace:
			if name, ok := p.faceMap[seg.FaceID]; ok {
				fmt.Fprintf(&body, `<face name=%q />`, name)
			} else {
				body.WriteString("<face />")
			}

		case SegReply:
			body.WriteString(p.parseReply(ctx, seg, settings))

		case SegImage, SegAudio, SegVideo, SegDocument:
			body.WriteString(p.parseMedia(ctx, seg, settings, &payload))

		default:
			if seg.Summary != "" {
				body.WriteString(seg.Summary)
			} else {
				fmt.Fprintf(&body, "<unsupported type=%q />", seg.OtherType)
			}
		}
	}

	return p.formatMessage(ev, body.String()), payload, nil
}

func (p *Parser) parseReply(ctx context.Context, seg Segment, settings Settings) string {
	text, err := p.fetcher.GetMsg(ctx, seg.ReplyToMessageID)
	if err != nil {
		return "<reply_to>无法获取原消息</reply_to>"
	}
	if settings.ReplyMaxLength > 0 {
		text = truncate(text, settings.ReplyMaxLength)
	}
	return "<reply_to>" + text + "</reply_to>"
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// parseMedia decides, per SPEC_FULL.md §4.4/§4.7, whether seg is small
// enough to resolve inline (sync) or must be queued as a pending
// dispatch.MediaTask resolved asynchronously by the media sidecar.
func (p *Parser) parseMedia(ctx context.Context, seg Segment, settings Settings, payload *dispatch.ParsedPayload) string {
	mediaType := mediaTypeName(seg.Type)
	thresholdBytes := int64(settings.Media.SyncThresholdMB) * 1024 * 1024

	task := dispatch.MediaTask{
		PlaceholderID: uuid.NewString(),
		MediaType:     mediaType,
		Filename:      seg.Filename,
		URL:           seg.URL,
	}

	if thresholdBytes > 0 && seg.SizeBytes > 0 && seg.SizeBytes <= thresholdBytes {
		tag, block := p.resolver.ResolveSync(ctx, task)
		if block != nil {
			payload.ContentBlocks = append(payload.ContentBlocks, *block)
		}
		return tag
	}

	tagName := mediaTagNames[seg.Type]
	fnAttr := ""
	if seg.Filename != "" {
		fnAttr = fmt.Sprintf(" filename=%q", seg.Filename)
	}
	placeholder := fmt.Sprintf(`<%s status="loading"%s />`, tagName, fnAttr)
	task.PlaceholderTag = placeholder
	payload.MediaTasks = append(payload.MediaTasks, task)
	return placeholder
}

// formatMessage prepends the <sender> line ahead of body, matching
// format_message's group-vs-private wrapping.
func (p *Parser) formatMessage(ev Event, body string) string {
	name := ev.SenderCard
	if name == "" {
		if remark := p.contacts.GetRemark(ev.SenderUserID); remark != "" {
			name = remark
		} else {
			name = ev.SenderNickname
		}
	}

	var sender string
	if ev.GroupID != "" {
		groupName := p.contacts.GetGroupDisplayName(ev.GroupID)
		if groupName == "" {
			groupName = ev.GroupID
		}
		sender = fmt.Sprintf("<sender>%s [群聊-%s]</sender>", name, groupName)
	} else {
		sender = fmt.Sprintf("<sender>%s</sender>", name)
	}

	return sender + body
}
