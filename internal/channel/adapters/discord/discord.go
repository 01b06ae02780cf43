// Package discord implements the Discord channel adapter: gateway receive,
// text send, mentions-list sourcing, sender verification, thread context,
// and outbound sanitization.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/courierhq/courier/internal/channel"
)

// Type is the Discord channel type.
const Type = channel.ChannelType("discord")

const maxMessageLength = 2000

// Adapter implements channel.Adapter plus Sender, Receiver, MentionSource,
// SenderVerifier, OutboundSanitizer, and ThreadSupport.
type Adapter struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*discordgo.Session // keyed by bot token
}

// NewAdapter creates a Discord adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:   log.With(slog.String("adapter", "discord")),
		sessions: map[string]*discordgo.Session{},
	}
}

// Type returns the Discord channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Discord channel metadata. Discord supports
// @everyone/@here broadcasts, so outbound text gets the mass-mention guard.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Discord",
		Capabilities: channel.Capabilities{
			Text:         true,
			Reply:        true,
			Threads:      true,
			MassMentions: true,
		},
	}
}

type config struct {
	BotToken string
}

func parseConfig(credentials map[string]any) (config, error) {
	token, _ := credentials["botToken"].(string)
	token = strings.TrimSpace(token)
	if token == "" {
		return config{}, fmt.Errorf("discord botToken is required")
	}
	return config{BotToken: token}, nil
}

func (a *Adapter) getOrCreateSession(token string) (*discordgo.Session, error) {
	a.mu.RLock()
	session, ok := a.sessions[token]
	a.mu.RUnlock()
	if ok {
		return session, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if session, ok := a.sessions[token]; ok {
		return session, nil
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	a.sessions[token] = session
	return session, nil
}

// Connect opens a gateway session and forwards each message-create event to
// the handler.
func (a *Adapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	dcCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("Bot " + dcCfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	connCtx, cancel := context.WithCancel(ctx)
	removeHandler := session.AddHandler(func(s *discordgo.Session, event *discordgo.MessageCreate) {
		if event.Author != nil && s.State != nil && s.State.User != nil && event.Author.ID == s.State.User.ID {
			return
		}
		msg, ok := a.transform(cfg, event)
		if !ok {
			return
		}
		go func() {
			if err := handler(connCtx, cfg, msg); err != nil {
				a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
			}
		}()
	})

	if err := session.Open(); err != nil {
		removeHandler()
		cancel()
		return nil, fmt.Errorf("open discord gateway: %w", err)
	}

	stop := func(_ context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		removeHandler()
		cancel()
		return session.Close()
	}
	return channel.NewConnection(cfg, stop), nil
}

func (a *Adapter) transform(cfg channel.ChannelConfig, event *discordgo.MessageCreate) (channel.InboundMessage, bool) {
	if event == nil || event.Message == nil {
		return channel.InboundMessage{}, false
	}
	m := event.Message
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return channel.InboundMessage{}, false
	}
	senderID := ""
	displayName := ""
	if m.Author != nil {
		senderID = m.Author.ID
		displayName = m.Author.Username
	}
	conversationType := "guild"
	if m.GuildID == "" {
		conversationType = "private"
	}
	var reply *channel.ReplyRef
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		reply = &channel.ReplyRef{
			MessageID: m.MessageReference.MessageID,
			Target:    m.ChannelID,
		}
	}
	receivedAt := m.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	return channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			ID:    m.ID,
			Text:  text,
			Reply: reply,
		},
		BotID:       cfg.BotID,
		ReplyTarget: m.ChannelID,
		Sender: channel.Identity{
			SubjectID:   senderID,
			DisplayName: displayName,
			Attributes:  map[string]string{"guild_id": m.GuildID},
		},
		Conversation: channel.Conversation{
			ID:   m.ChannelID,
			Type: conversationType,
		},
		ReceivedAt: receivedAt,
		Raw:        m,
	}, true
}

// Send delivers a text message to a channel id target.
func (a *Adapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	dcCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return fmt.Errorf("discord target is required")
	}
	if msg.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	session, err := a.getOrCreateSession(dcCfg.BotToken)
	if err != nil {
		return err
	}
	send := &discordgo.MessageSend{
		Content: truncateText(msg.Message.Text),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}
	if msg.Message.Reply != nil && msg.Message.Reply.MessageID != "" {
		send.Reference = &discordgo.MessageReference{
			MessageID: msg.Message.Reply.MessageID,
			ChannelID: target,
		}
	}
	_, err = session.ChannelMessageSendComplex(target, send, discordgo.WithContext(ctx))
	return err
}

// VerifySender cross-checks the event author against the resolved sender.
// Webhook-relayed messages carry no verifiable author and are untrusted.
func (a *Adapter) VerifySender(ctx context.Context, msg channel.InboundMessage, raw any) (map[string]any, error) {
	m := rawMessage(raw)
	if m == nil {
		return nil, nil
	}
	if m.WebhookID != "" {
		return nil, fmt.Errorf("%w: webhook-relayed message", channel.ErrUntrustedSender)
	}
	if m.Author == nil {
		return nil, fmt.Errorf("%w: message carries no author", channel.ErrUntrustedSender)
	}
	resolved := strings.TrimSpace(msg.Sender.SubjectID)
	if resolved != "" && m.Author.ID != resolved {
		return nil, fmt.Errorf("%w: author %s does not match resolved %s", channel.ErrForbiddenSender, m.Author.ID, resolved)
	}
	if m.Author.Bot {
		return map[string]any{"sender_is_bot": true}, nil
	}
	return nil, nil
}

// SanitizeOutbound truncates to Discord's message limit on a rune boundary.
// The broadcast-token neutralization runs in the policy baseline before this
// hook.
func (a *Adapter) SanitizeOutbound(text string, opts map[string]any) (string, error) {
	return truncateText(text), nil
}

// SupportsThreads reports Discord's thread capability.
func (a *Adapter) SupportsThreads() bool {
	return true
}

// ComputeThreadRoot resolves the root message a threaded payload hangs off:
// the referenced message for replies, the thread channel otherwise.
func (a *Adapter) ComputeThreadRoot(raw any) (string, bool) {
	m := rawMessage(raw)
	if m == nil {
		return "", false
	}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		return m.MessageReference.MessageID, true
	}
	if m.Thread != nil && m.Thread.ID != "" {
		return m.Thread.ID, true
	}
	return "", false
}

// ExtractThreadContext returns the thread-related payload fields.
func (a *Adapter) ExtractThreadContext(raw any) map[string]any {
	m := rawMessage(raw)
	if m == nil {
		return map[string]any{}
	}
	out := map[string]any{"channel_id": m.ChannelID}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		out["referenced_message_id"] = m.MessageReference.MessageID
	}
	if m.Thread != nil && m.Thread.ID != "" {
		out["thread_id"] = m.Thread.ID
	}
	return out
}

func rawMessage(raw any) *discordgo.Message {
	switch v := raw.(type) {
	case *discordgo.Message:
		return v
	case *discordgo.MessageCreate:
		return v.Message
	default:
		return nil
	}
}

func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	limit := maxMessageLength
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}
