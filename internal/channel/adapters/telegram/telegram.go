// Package telegram implements the Telegram channel adapter: long-poll
// receive, text send, entity-based mentions, sender verification, and
// outbound text sanitization.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/courierhq/courier/internal/channel"
)

// Type is the Telegram channel type.
const Type = channel.ChannelType("telegram")

const maxMessageLength = 4096

// Adapter implements channel.Adapter plus the Sender, Receiver,
// MentionSource, SenderVerifier, and OutboundSanitizer capabilities.
type Adapter struct {
	logger *slog.Logger
	mu     sync.RWMutex
	bots   map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bots:   map[string]*tgbotapi.BotAPI{},
	}
}

// Type returns the Telegram channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Telegram channel metadata. Telegram has no
// broadcast mention token, so MassMentions stays off.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		Capabilities: channel.Capabilities{
			Text:  true,
			Reply: true,
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
		return config{}, fmt.Errorf("telegram botToken is required")
	}
	return config{BotToken: token}, nil
}

func (a *Adapter) getOrCreateBot(token string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	a.bots[token] = bot
	return bot, nil
}

// Connect starts long-polling for updates and forwards each text message to
// the handler.
func (a *Adapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start", slog.String("config_id", cfg.ID))
	tgCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(tgCfg.BotToken)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return nil, err
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed", slog.String("config_id", cfg.ID))
					return
				}
				if update.Message == nil {
					continue
				}
				msg, ok := a.transform(cfg, update.Message)
				if !ok {
					continue
				}
				go func() {
					if err := handler(connCtx, cfg, msg); err != nil {
						a.logger.Error("handle inbound failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
					}
				}()
			}
		}
	}()

	stop := func(_ context.Context) error {
		a.logger.Info("stop", slog.String("config_id", cfg.ID))
		bot.StopReceivingUpdates()
		cancel()
		// Drain remaining updates so the library's polling goroutine can
		// finish and the getUpdates session ends cleanly.
		for range updates {
		}
		return nil
	}
	return channel.NewConnection(cfg, stop), nil
}

func (a *Adapter) transform(cfg channel.ChannelConfig, m *tgbotapi.Message) (channel.InboundMessage, bool) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return channel.InboundMessage{}, false
	}
	subjectID, displayName, attrs := resolveSender(m)
	chatID := ""
	chatType := ""
	chatName := ""
	if m.Chat != nil {
		chatID = strconv.FormatInt(m.Chat.ID, 10)
		chatType = strings.TrimSpace(m.Chat.Type)
		chatName = strings.TrimSpace(m.Chat.Title)
	}
	return channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			ID:    strconv.Itoa(m.MessageID),
			Text:  text,
			Reply: buildReplyRef(m, chatID),
		},
		BotID:       cfg.BotID,
		ReplyTarget: chatID,
		Sender: channel.Identity{
			SubjectID:   subjectID,
			DisplayName: displayName,
			Attributes:  attrs,
		},
		Conversation: channel.Conversation{
			ID:   chatID,
			Type: chatType,
			Name: chatName,
		},
		ReceivedAt: time.Unix(int64(m.Date), 0).UTC(),
		Raw:        m,
	}, true
}

// Send delivers a text message to a chat id or @channel target.
func (a *Adapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	tgCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return fmt.Errorf("telegram target is required")
	}
	if msg.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	bot, err := a.getOrCreateBot(tgCfg.BotToken)
	if err != nil {
		return err
	}
	text := truncateText(strings.TrimSpace(msg.Message.Text))
	replyTo := parseReplyToMessageID(msg.Message.Reply)

	if strings.HasPrefix(target, "@") {
		message := tgbotapi.NewMessageToChannel(target, text)
		if replyTo > 0 {
			message.ReplyToMessageID = replyTo
		}
		_, err = bot.Send(message)
		return err
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target must be @username or chat_id")
	}
	message := tgbotapi.NewMessage(chatID, text)
	if replyTo > 0 {
		message.ReplyToMessageID = replyTo
	}
	_, err = bot.Send(message)
	return err
}

// VerifySender cross-checks the update's From user against the resolved
// sender identity. A payload whose From differs from the identity the
// transform produced is forged or mangled.
func (a *Adapter) VerifySender(ctx context.Context, msg channel.InboundMessage, raw any) (map[string]any, error) {
	m, ok := raw.(*tgbotapi.Message)
	if !ok || m == nil {
		return nil, nil
	}
	if m.From == nil {
		return nil, fmt.Errorf("%w: update carries no sender", channel.ErrUntrustedSender)
	}
	fromID := strconv.FormatInt(m.From.ID, 10)
	resolved := strings.TrimSpace(msg.Sender.SubjectID)
	if resolved != "" && fromID != resolved {
		return nil, fmt.Errorf("%w: from %s does not match resolved %s", channel.ErrForbiddenSender, fromID, resolved)
	}
	if m.From.IsBot {
		return map[string]any{"sender_is_bot": true}, nil
	}
	return nil, nil
}

// SanitizeOutbound strips invalid UTF-8 byte sequences, which the Telegram
// API rejects. Idempotent: a valid string passes through untouched.
func (a *Adapter) SanitizeOutbound(text string, opts map[string]any) (string, error) {
	if utf8.ValidString(text) {
		return text, nil
	}
	return strings.ToValidUTF8(text, ""), nil
}

func resolveSender(m *tgbotapi.Message) (string, string, map[string]string) {
	attrs := map[string]string{}
	if m == nil {
		return "", "", attrs
	}
	if m.Chat != nil {
		attrs["chat_id"] = strconv.FormatInt(m.Chat.ID, 10)
	}
	if m.From == nil {
		return "", "", attrs
	}
	userID := strconv.FormatInt(m.From.ID, 10)
	username := strings.TrimSpace(m.From.UserName)
	attrs["user_id"] = userID
	if username != "" {
		attrs["username"] = username
	}
	displayName := username
	if displayName == "" {
		displayName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}
	return userID, displayName, attrs
}

func buildReplyRef(m *tgbotapi.Message, chatID string) *channel.ReplyRef {
	if m == nil || m.ReplyToMessage == nil {
		return nil
	}
	return &channel.ReplyRef{
		MessageID: strconv.Itoa(m.ReplyToMessage.MessageID),
		Target:    strings.TrimSpace(chatID),
	}
}

func parseReplyToMessageID(reply *channel.ReplyRef) int {
	if reply == nil {
		return 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(reply.MessageID))
	if err != nil {
		return 0
	}
	return value
}

// truncateText truncates to maxMessageLength on a rune boundary, appending
// "..." when truncation occurs.
func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
