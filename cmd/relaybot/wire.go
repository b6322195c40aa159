// Package main wires every internal package into the relaybot daemon,
// grounded on pkg/copilot/assistant.go's Start ordering: config and
// prompt first, then the LLM client, conversation graph, media sidecar,
// dispatcher, scheduler, command surface, and finally the channel
// adapters, each step logged and falling back to safe defaults rather
// than aborting the whole process where the spec allows it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/countlessbugs/relaybot/internal/channels"
	"github.com/countlessbugs/relaybot/internal/channels/discord"
	"github.com/countlessbugs/relaybot/internal/commands"
	"github.com/countlessbugs/relaybot/internal/config"
	"github.com/countlessbugs/relaybot/internal/contacts"
	"github.com/countlessbugs/relaybot/internal/convo"
	"github.com/countlessbugs/relaybot/internal/dispatch"
	"github.com/countlessbugs/relaybot/internal/llm"
	"github.com/countlessbugs/relaybot/internal/media"
	"github.com/countlessbugs/relaybot/internal/parser"
	"github.com/countlessbugs/relaybot/internal/scheduler"
	"github.com/countlessbugs/relaybot/internal/session"
)

// Paths collects every on-disk file relaybot reads or writes, relative to
// the working directory it's launched from.
type Paths struct {
	SettingsPath    string
	PromptPath      string
	PromptExample   string
	PermissionsPath string
	LogDir          string
}

// DefaultPaths returns the spec's literal config/ and agent/ layout.
func DefaultPaths() Paths {
	return Paths{
		SettingsPath:    "agent/settings.yaml",
		PromptPath:      "agent/prompt.txt",
		PromptExample:   "agent/prompt.txt.example",
		PermissionsPath: "config/permissions.yaml",
		LogDir:          "logs",
	}
}

// app holds every long-lived component, assembled once by wire and driven
// by the serve command.
type app struct {
	logger     *slog.Logger
	cfg        *config.Config
	paths      Paths
	graph      *convo.Graph
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	timers     *session.Timers
	commands   *commands.Dispatcher
	contacts   *contacts.Directory
	manager    *channels.Manager
	parser     *parser.Parser
}

// discordChannelName is the fixed sourceKey/channel-name relaybot wires,
// since it connects exactly one transport; see DESIGN.md's Open Question
// decision on the sourceKey encoding for a single-channel deployment.
const discordChannelName = "discord"

// discordContactSource is a no-op contacts.Source: Discord has no
// QQ-style friends/groups list, so relaybot's contact directory never
// has anything to refresh, but stays wired for the parser's @-mention
// and sender-name lookups against whatever the directory does hold.
type discordContactSource struct{}

func (discordContactSource) FetchFriends(ctx context.Context) ([]contacts.Friend, error) {
	return nil, nil
}

func (discordContactSource) FetchGroups(ctx context.Context) ([]contacts.Group, error) {
	return nil, nil
}

// discordMessageFetcher backs parser.MessageFetcher with discordgo's
// ChannelMessage lookup, used to resolve a reply segment's quoted text.
// It holds the adapter rather than a raw session, since Connect (and so
// the session) happens after wiring completes.
type discordMessageFetcher struct {
	adapter *discord.Discord
}

func (f *discordMessageFetcher) GetMsg(ctx context.Context, messageID string) (string, error) {
	if f.adapter == nil {
		return "", fmt.Errorf("discord channel not configured")
	}
	session := f.adapter.Session()
	if session == nil {
		return "", fmt.Errorf("discord session not connected")
	}
	// messageID is "channelID:messageID", encoded by segmentsFromIncoming,
	// since discordgo's lookup needs both.
	parts := strings.SplitN(messageID, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed reply message id %q", messageID)
	}
	msg, err := session.ChannelMessage(parts[0], parts[1])
	if err != nil {
		return "", fmt.Errorf("fetching quoted message: %w", err)
	}
	return msg.Content, nil
}

// envOrFatal reads a required environment variable, exiting the process
// with a clear message if it's unset, matching SPEC_FULL.md §6's
// fatal-on-missing-required-env-var contract.
func envOrFatal(logger *slog.Logger, name string) string {
	v := os.Getenv(name)
	if v == "" {
		logger.Error("missing required environment variable", "var", name)
		os.Exit(1)
	}
	return v
}

// splitEnvList parses a comma-separated env var into a trimmed, non-empty
// slice of tokens, or nil if unset.
func splitEnvList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(v, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// buildLLMClient constructs the HTTP-based LLM client from the
// provider/model/key environment variables.
func buildLLMClient(logger *slog.Logger) llm.Client {
	provider := envOrFatal(logger, "LLM_PROVIDER")
	model := envOrFatal(logger, "LLM_MODEL")
	apiKey := os.Getenv("LLM_API_KEY")
	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL(provider)
	}
	logger.Info("llm client configured", "provider", provider, "model", model, "base_url", baseURL)
	return llm.NewHTTPClient(baseURL, apiKey, model, logger)
}

func defaultBaseURL(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return "https://api.openai.com/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

// buildTranscriptionClient builds a second LLM client for the media
// sidecar's transcription calls, falling back to the main client's
// provider/key when TRANSCRIPTION_* vars are unset (SPEC_FULL.md §6).
func buildTranscriptionClient(logger *slog.Logger, main llm.Client) llm.Client {
	model := os.Getenv("TRANSCRIPTION_MODEL")
	if model == "" {
		return main
	}
	apiKey := os.Getenv("TRANSCRIPTION_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("LLM_API_KEY")
	}
	baseURL := os.Getenv("TRANSCRIPTION_BASE_URL")
	provider := os.Getenv("TRANSCRIPTION_PROVIDER")
	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL(provider)
	}
	logger.Info("transcription client configured", "provider", provider, "model", model)
	return llm.NewHTTPClient(baseURL, apiKey, model, logger)
}

// wire assembles every component in dependency order and returns the
// running app, or an error if something unrecoverable fails. It does not
// start the channel manager or scheduler; callers do that once wiring
// succeeds so the caller controls shutdown ordering.
func wire(ctx context.Context, logger *slog.Logger, paths Paths) (*app, error) {
	cfg, err := config.Load(paths.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	prompt, err := config.LoadPrompt(paths.PromptPath, paths.PromptExample)
	if err != nil {
		return nil, fmt.Errorf("loading prompt: %w", err)
	}

	llmClient := buildLLMClient(logger)
	tools := convo.NewToolRegistry()
	graph := convo.NewGraph(llmClient, tools, prompt, cfg.ContextLimitTokens, logger, time.Now)

	contactsDir := contacts.New(discordContactSource{})
	if err := contactsDir.RefreshAll(ctx); err != nil {
		logger.Warn("initial contact directory refresh failed", "error", err)
	}

	urlDownloader := media.NewURLDownloader(func(t dispatch.MediaTask) (string, error) {
		if t.URL == "" {
			return "", fmt.Errorf("media task %s has no source URL", t.PlaceholderID)
		}
		return t.URL, nil
	})
	trimmer := media.NewExecTrimmer(logger)
	transcriptionClient := buildTranscriptionClient(logger, llmClient)
	sidecar := media.New(urlDownloader, trimmer, transcriptionClient, cfg.Media, logger)

	timers := session.New(ctx, graph, contactsDir, time.Duration(cfg.TimeoutClearSecs)*time.Second, logger)
	dispatcher := dispatch.New(graph, sidecar, timers, time.Duration(cfg.TimeoutSummarizeSecs)*time.Second, logger)

	manager := channels.NewManager(logger)

	poster := func(ctx context.Context, sourceKey, text string) error {
		to, err := chatIDFromSourceKey(sourceKey)
		if err != nil {
			return err
		}
		return manager.Send(ctx, discordChannelName, to, &channels.OutgoingMessage{Content: text})
	}

	sched := scheduler.New(cfg.Scheduler.TasksPath, dispatcher, graph, poster, logger)
	sched.RegisterTools(tools)

	reloadConfig := func() error {
		fresh, err := config.Load(paths.SettingsPath)
		if err != nil {
			return err
		}
		*cfg = *fresh
		logger.Info("config reloaded", "path", paths.SettingsPath)
		return nil
	}

	cmdDispatcher := commands.New(graph, sched, dispatcher, contactsDir, paths.PermissionsPath, paths.PromptPath, paths.LogDir, reloadConfig)

	a := &app{
		logger:     logger,
		cfg:        cfg,
		paths:      paths,
		graph:      graph,
		dispatcher: dispatcher,
		scheduler:  sched,
		timers:     timers,
		commands:   cmdDispatcher,
		contacts:   contactsDir,
		manager:    manager,
	}

	token := os.Getenv("DISCORD_BOT_TOKEN")
	fetcher := &discordMessageFetcher{}
	if token != "" {
		dc := discord.New(discord.Config{
			Token:           token,
			AllowedGuilds:   splitEnvList(os.Getenv("DISCORD_ALLOWED_GUILDS")),
			AllowedChannels: splitEnvList(os.Getenv("DISCORD_ALLOWED_CHANNELS")),
		}, logger)
		if err := manager.Register(dc); err != nil {
			return nil, fmt.Errorf("registering discord channel: %w", err)
		}
		fetcher.adapter = dc
	} else {
		logger.Warn("DISCORD_BOT_TOKEN not set, starting with no channels registered")
	}
	a.parser = parser.New(contactsDir, fetcher, sidecar, discordFaceMap())

	return a, nil
}

// chatIDFromSourceKey recovers the chat ID relaybot's single Discord
// channel needs from a "group:<id>"/"private:<id>" sourceKey.
func chatIDFromSourceKey(sourceKey string) (string, error) {
	parts := strings.SplitN(sourceKey, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("malformed source key %q", sourceKey)
	}
	return parts[1], nil
}

// sourceKeyFor builds the "group:<id>"/"private:<id>" key the dispatcher
// groups and orders work by, from an inbound message.
func sourceKeyFor(msg *channels.IncomingMessage) string {
	if msg.IsGroup {
		return "group:" + msg.ChatID
	}
	return "private:" + msg.ChatID
}

// discordFaceMap is relaybot's <face> display table; Discord has no
// built-in numeric face/sticker IDs analogous to the original QQ
// transport, so this stays empty and segmentsFromIncoming never emits a
// parser.SegFace segment for a Discord message.
func discordFaceMap() map[int]string {
	return map[int]string{}
}

// segmentsFromIncoming translates one channels.IncomingMessage into the
// ordered parser.Segment slice Parse expects, splicing mentions into
// Content by byte offset and appending reply/attachment segments last,
// since Discord carries reply and attachment metadata out of band from
// Content rather than inline within it.
func segmentsFromIncoming(msg *channels.IncomingMessage) []parser.Segment {
	segments := make([]parser.Segment, 0, len(msg.Mentions)+len(msg.Attachments)+2)

	cursor := 0
	content := msg.Content
	for _, m := range msg.Mentions {
		if m.Offset < cursor || m.Offset > len(content) {
			continue
		}
		if m.Offset > cursor {
			segments = append(segments, parser.Segment{Type: parser.SegText, Text: content[cursor:m.Offset]})
		}
		if m.AtAll {
			segments = append(segments, parser.Segment{Type: parser.SegAt, AtAll: true})
		} else {
			segments = append(segments, parser.Segment{Type: parser.SegAt, UserID: m.UserID})
		}
		cursor = m.Offset + m.Length
	}
	if cursor < len(content) {
		segments = append(segments, parser.Segment{Type: parser.SegText, Text: content[cursor:]})
	}

	if msg.ReplyTo != "" {
		segments = append(segments, parser.Segment{
			Type:             parser.SegReply,
			ReplyToMessageID: msg.ChatID + ":" + msg.ReplyTo,
		})
	}

	for _, att := range msg.Attachments {
		seg := parser.Segment{Filename: att.Filename, SizeBytes: att.SizeBytes, URL: att.URL}
		switch att.Type {
		case channels.MessageImage:
			seg.Type = parser.SegImage
		case channels.MessageAudio:
			seg.Type = parser.SegAudio
		case channels.MessageVideo:
			seg.Type = parser.SegVideo
		default:
			seg.Type = parser.SegDocument
		}
		segments = append(segments, seg)
	}

	return segments
}

// eventFromIncoming builds the parser.Event for msg; contactsDir is
// consulted by the parser itself, not here.
func eventFromIncoming(msg *channels.IncomingMessage) parser.Event {
	ev := parser.Event{
		Segments:       segmentsFromIncoming(msg),
		SenderUserID:   msg.From,
		SenderNickname: msg.FromName,
	}
	if msg.IsGroup {
		ev.GroupID = msg.ChatID
	}
	return ev
}

// handleIncoming is the per-message glue: commands short-circuit before
// ever reaching the parser/dispatcher, matching
// original_source/src/core/commands.py's own position ahead of the LLM
// pipeline.
func (a *app) handleIncoming(ctx context.Context, msg *channels.IncomingMessage) {
	if commands.IsCommand(msg.Content) {
		result := a.commands.HandleCommand(ctx, msg.From, msg.Content)
		if result.Handled {
			a.replyCommandResult(ctx, msg, result)
			return
		}
	}

	settings := parser.Settings{ReplyMaxLength: a.cfg.ReplyMaxLength, Media: a.cfg.Media}
	text, payload, err := a.parser.Parse(ctx, eventFromIncoming(msg), settings)
	if err != nil {
		a.logger.Error("parsing incoming message failed", "error", err)
		return
	}

	sourceKey := sourceKeyFor(msg)
	replyFn := func(ctx context.Context, out string) error {
		return a.manager.Send(ctx, discordChannelName, msg.ChatID, &channels.OutgoingMessage{Content: out, ReplyTo: msg.ID})
	}

	priority := dispatch.PriorityUser
	a.dispatcher.Enqueue(priority, sourceKey, text, replyFn, &payload)
	a.timers.ScheduleSummarize(time.Duration(a.cfg.TimeoutSummarizeSecs) * time.Second)
	a.timers.CancelClear()
}

func (a *app) replyCommandResult(ctx context.Context, msg *channels.IncomingMessage, result commands.CommandResult) {
	if result.Response != "" {
		if err := a.manager.Send(ctx, discordChannelName, msg.ChatID, &channels.OutgoingMessage{Content: result.Response, ReplyTo: msg.ID}); err != nil {
			a.logger.Error("sending command reply failed", "error", err)
		}
	}
	if result.FilePath != "" {
		data, err := os.ReadFile(result.FilePath)
		if err != nil {
			a.logger.Error("reading command result file failed", "error", err, "path", result.FilePath)
			return
		}
		if err := a.manager.SendMedia(ctx, discordChannelName, msg.ChatID, &channels.MediaMessage{
			Type:     channels.MessageDocument,
			Data:     data,
			Filename: result.FileName,
		}); err != nil {
			a.logger.Error("sending command result file failed", "error", err)
		}
	}
}

// run starts the scheduler, dispatcher, and channel manager, then blocks
// draining the manager's aggregated inbound stream until ctx is canceled.
func (a *app) run(ctx context.Context) error {
	a.dispatcher.Start(ctx)

	if err := a.scheduler.Start(ctx); err != nil {
		a.logger.Error("scheduler failed to start", "error", err)
	}

	if err := a.manager.Start(ctx); err != nil {
		a.logger.Warn("channel manager start reported an error", "error", err)
	}

	for {
		select {
		case msg, ok := <-a.manager.Messages():
			if !ok {
				return nil
			}
			a.handleIncoming(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

// shutdown stops every component in reverse-start order.
func (a *app) shutdown() {
	a.manager.Stop()
	a.scheduler.Stop()
	a.timers.Stop()
}
