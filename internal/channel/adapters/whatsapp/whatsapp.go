// Package whatsapp implements the WhatsApp channel adapter surface over the
// decoded webhook payload: mention extraction, sender verification, and
// outbound sanitization. Webhook transport and the cloud-API send path live
// outside this core.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/courierhq/courier/internal/channel"
)

// Type is the WhatsApp channel type.
const Type = channel.ChannelType("whatsapp")

// Adapter implements channel.Adapter plus MentionSource, SenderVerifier,
// and OutboundSanitizer. The raw payload is the decoded webhook message map.
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter creates a WhatsApp adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "whatsapp")),
	}
}

// Type returns the WhatsApp channel type.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the WhatsApp channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "WhatsApp",
		Capabilities: channel.Capabilities{
			Text:  true,
			Reply: true,
		},
	}
}

// ParseMentions reads the payload's mentioned_ids list, locating each id's
// @id token in the body, and merges with the textual scan.
func (a *Adapter) ParseMentions(body string, raw any) []channel.Mention {
	structured := payloadMentions(body, raw)
	textual := channel.ScanTextualMentions(body, channel.TextScanOptions{})
	return channel.MergeMentions(body, structured, textual)
}

// WasMentioned reports whether the bot id appears in the parsed mentions.
func (a *Adapter) WasMentioned(raw any, botID string) bool {
	payload, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	body, _ := payload["body"].(string)
	return channel.MentionsInclude(a.ParseMentions(body, raw), strings.TrimSpace(botID))
}

// VerifySender compares the payload's from field against the resolved
// sender.
func (a *Adapter) VerifySender(ctx context.Context, msg channel.InboundMessage, raw any) (map[string]any, error) {
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, nil
	}
	from, _ := payload["from"].(string)
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, fmt.Errorf("%w: payload carries no sender", channel.ErrUntrustedSender)
	}
	resolved := strings.TrimSpace(msg.Sender.SubjectID)
	if resolved != "" && from != resolved {
		return nil, fmt.Errorf("%w: from %s does not match resolved %s", channel.ErrForbiddenSender, from, resolved)
	}
	return nil, nil
}

// SanitizeOutbound trims trailing whitespace runs that WhatsApp renders as
// empty bubbles. Idempotent.
func (a *Adapter) SanitizeOutbound(text string, opts map[string]any) (string, error) {
	return strings.TrimRight(text, " \n\t"), nil
}

func payloadMentions(body string, raw any) []channel.Mention {
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	ids := stringList(payload["mentioned_ids"])
	mentions := make([]channel.Mention, 0, len(ids))
	from := 0
	for _, id := range ids {
		token := "@" + id
		offset, ok := channel.LocateToken(body, token, from)
		if !ok {
			continue
		}
		mentions = append(mentions, channel.Mention{
			UserID: id,
			Offset: offset,
			Length: len(token),
		})
		from = offset + len(token)
	}
	return mentions
}

func stringList(raw any) []string {
	switch values := raw.(type) {
	case []string:
		return values
	case []any:
		out := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	default:
		return nil
	}
}
