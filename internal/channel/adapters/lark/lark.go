// Package lark implements the Lark (Feishu) channel adapter: text send,
// mention-event sourcing, sender verification, and outbound sanitization.
// Webhook transport stays outside this adapter; callers hand it the decoded
// P2MessageReceiveV1 event as the raw payload.
package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/courierhq/courier/internal/channel"
)

// Type is the Lark channel type.
const Type = channel.ChannelType("lark")

// Adapter implements channel.Adapter plus Sender, MentionSource,
// SenderVerifier, and OutboundSanitizer.
type Adapter struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[string]*lark.Client // keyed by app id
}

// NewAdapter creates a Lark adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "lark")),
		clients: map[string]*lark.Client{},
	}
}

// Type returns the Lark channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Lark channel metadata. Lark's @all key is a
// broadcast token, so the mass-mention guard applies.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Lark",
		Capabilities: channel.Capabilities{
			Text:         true,
			Reply:        true,
			MassMentions: true,
		},
	}
}

type config struct {
	AppID     string
	AppSecret string
}

func parseConfig(credentials map[string]any) (config, error) {
	appID, _ := credentials["appId"].(string)
	appSecret, _ := credentials["appSecret"].(string)
	appID = strings.TrimSpace(appID)
	appSecret = strings.TrimSpace(appSecret)
	if appID == "" || appSecret == "" {
		return config{}, fmt.Errorf("lark appId and appSecret are required")
	}
	return config{AppID: appID, AppSecret: appSecret}, nil
}

func (a *Adapter) getOrCreateClient(cfg config) *lark.Client {
	a.mu.RLock()
	client, ok := a.clients[cfg.AppID]
	a.mu.RUnlock()
	if ok {
		return client
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if client, ok := a.clients[cfg.AppID]; ok {
		return client
	}
	client = lark.NewClient(cfg.AppID, cfg.AppSecret)
	a.clients[cfg.AppID] = client
	return client
}

// Send delivers a text message. Targets are "open_id:...", "user_id:...",
// "chat_id:...", or a bare open id.
func (a *Adapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	larkCfg, err := parseConfig(cfg.Credentials)
	if err != nil {
		return err
	}
	if msg.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	receiveID, receiveType, err := resolveReceiveID(strings.TrimSpace(msg.Target))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"text": strings.TrimSpace(msg.Message.Text)})
	if err != nil {
		return fmt.Errorf("marshal text content: %w", err)
	}
	content := string(payload)
	client := a.getOrCreateClient(larkCfg)

	if msg.Message.Reply != nil && msg.Message.Reply.MessageID != "" {
		replyReq := larkim.NewReplyMessageReqBuilder().
			MessageId(msg.Message.Reply.MessageID).
			Body(larkim.NewReplyMessageReqBodyBuilder().
				Content(content).
				MsgType(larkim.MsgTypeText).
				Build()).
			Build()
		resp, err := client.Im.V1.Message.Reply(ctx, replyReq)
		if err != nil {
			return fmt.Errorf("lark reply: %w", err)
		}
		if !resp.Success() {
			return fmt.Errorf("lark reply failed: %s", resp.Msg)
		}
		return nil
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(larkim.MsgTypeText).
			Content(content).
			Build()).
		Build()
	resp, err := client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("lark send: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark send failed: %s", resp.Msg)
	}
	return nil
}

// VerifySender cross-checks the event sender against the resolved identity.
func (a *Adapter) VerifySender(ctx context.Context, msg channel.InboundMessage, raw any) (map[string]any, error) {
	event, ok := raw.(*larkim.P2MessageReceiveV1)
	if !ok || event == nil || event.Event == nil {
		return nil, nil
	}
	sender := event.Event.Sender
	if sender == nil || sender.SenderId == nil {
		return nil, fmt.Errorf("%w: event carries no sender", channel.ErrUntrustedSender)
	}
	eventSender := ""
	if sender.SenderId.OpenId != nil {
		eventSender = strings.TrimSpace(*sender.SenderId.OpenId)
	}
	resolved := strings.TrimSpace(msg.Sender.SubjectID)
	if eventSender != "" && resolved != "" && eventSender != resolved {
		return nil, fmt.Errorf("%w: event sender %s does not match resolved %s", channel.ErrForbiddenSender, eventSender, resolved)
	}
	return nil, nil
}

// SanitizeOutbound strips Lark's inline at tags from outbound text so a
// relayed body cannot smuggle mentions. Idempotent: stripped text has no
// tags left.
func (a *Adapter) SanitizeOutbound(text string, opts map[string]any) (string, error) {
	text = strings.ReplaceAll(text, "<at ", "&lt;at ")
	text = strings.ReplaceAll(text, "</at>", "&lt;/at&gt;")
	return text, nil
}

func resolveReceiveID(raw string) (string, string, error) {
	switch {
	case raw == "":
		return "", "", fmt.Errorf("lark target is required")
	case strings.HasPrefix(raw, "open_id:"):
		return strings.TrimPrefix(raw, "open_id:"), larkim.ReceiveIdTypeOpenId, nil
	case strings.HasPrefix(raw, "user_id:"):
		return strings.TrimPrefix(raw, "user_id:"), larkim.ReceiveIdTypeUserId, nil
	case strings.HasPrefix(raw, "chat_id:"):
		return strings.TrimPrefix(raw, "chat_id:"), larkim.ReceiveIdTypeChatId, nil
	}
	return raw, larkim.ReceiveIdTypeOpenId, nil
}
