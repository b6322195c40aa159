// Package discord implements internal/channels.Channel for Discord, using
// discordgo for the gateway connection, grounded on
// pkg/goclaw/channels/discord/discord.go's Connect/Send/onMessageCreate shape.
package discord

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/countlessbugs/relaybot/internal/channels"
)

// Config holds Discord-specific connection settings.
type Config struct {
	Token           string   `yaml:"token"`
	AllowedGuilds   []string `yaml:"allowed_guilds"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

// Discord implements channels.Channel, channels.MediaChannel, and
// channels.PresenceChannel over discordgo's gateway.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	httpClient *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New builds a Discord channel adapter.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.IncomingMessage, 256),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Session returns the underlying discordgo session, or nil before Connect
// succeeds. Exported so wiring code can fetch a quoted message's content
// by ID for reply-segment resolution, which channels.Channel has no
// generic method for.
func (d *Discord) Session() *discordgo.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// Connect opens the gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord connected", "bot", user.Username+"#"+user.Discriminator, "id", user.ID)
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session != nil {
		session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord disconnected")
	return nil
}

// Send posts a text reply, splitting across Discord's 2000-char message
// limit the way the output segmenter's emitted segments already do for
// most replies, with an extra safety split here for anything longer.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord: not connected")
	}

	for i, chunk := range splitDiscordMessage(message.Content, 2000) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
		}
		if _, err := session.ChannelMessageSendComplex(to, send); err != nil {
			d.errorCount.Add(1)
			return err
		}
	}
	return nil
}

// Receive returns the incoming message stream.
func (d *Discord) Receive() <-chan *channels.IncomingMessage { return d.messages }

// IsConnected reports the current gateway connection state.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health reports connection state, last-message time, and error count.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    d.errorCount.Load(),
	}
}

// SendMedia posts a file attachment, downloading from media.URL first if
// media.Data is empty.
func (d *Discord) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord: not connected")
	}

	filename := media.Filename
	if filename == "" {
		filename = "file"
	}

	var reader io.Reader
	switch {
	case len(media.Data) > 0:
		reader = bytes.NewReader(media.Data)
	case media.URL != "":
		resp, err := d.httpClient.Get(media.URL)
		if err != nil {
			return fmt.Errorf("discord: downloading media: %w", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("discord: reading media: %w", err)
		}
		reader = bytes.NewReader(data)
	default:
		return fmt.Errorf("discord: media has neither Data nor URL")
	}

	send := &discordgo.MessageSend{Files: []*discordgo.File{{Name: filename, Reader: reader}}}
	if media.Caption != "" {
		send.Content = media.Caption
	}
	_, err := session.ChannelMessageSendComplex(to, send)
	return err
}

// SendTyping sends a "typing..." indicator.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session == nil {
		return nil
	}
	return session.ChannelTyping(to)
}

// MarkRead is a no-op for Discord; bots don't mark messages read.
func (d *Discord) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	return nil
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if m.Author.Bot {
		return
	}

	if len(d.cfg.AllowedGuilds) > 0 && m.GuildID != "" && !contains(d.cfg.AllowedGuilds, m.GuildID) {
		return
	}
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, m.ChannelID) {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	if m.ReferencedMessage != nil {
		incoming.ReplyTo = m.ReferencedMessage.ID
	}

	for _, u := range m.Mentions {
		token := "<@" + u.ID + ">"
		offset := strings.Index(incoming.Content, token)
		if offset < 0 {
			token = "<@!" + u.ID + ">"
			offset = strings.Index(incoming.Content, token)
		}
		if offset >= 0 {
			incoming.Mentions = append(incoming.Mentions, channels.Mention{UserID: u.ID, Offset: offset, Length: len(token)})
		}
	}
	if m.MentionEveryone {
		incoming.Mentions = append(incoming.Mentions, channels.Mention{AtAll: true})
	}

	for _, att := range m.Attachments {
		incoming.Attachments = append(incoming.Attachments, channels.Attachment{
			Type:      inferMediaType(att.ContentType),
			Filename:  att.Filename,
			URL:       att.URL,
			SizeBytes: int64(att.Size),
		})
	}

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func inferMediaType(contentType string) channels.MessageType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return channels.MessageImage
	case strings.HasPrefix(ct, "audio/"):
		return channels.MessageAudio
	case strings.HasPrefix(ct, "video/"):
		return channels.MessageVideo
	default:
		return channels.MessageDocument
	}
}

// splitDiscordMessage splits text into chunks respecting Discord's 2000
// character message limit, preferring to cut at a newline.
func splitDiscordMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.MediaChannel    = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
)
