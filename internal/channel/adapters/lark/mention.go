package lark

import (
	"strings"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/courierhq/courier/internal/channel"
)

// ParseMentions pairs the event's MentionEvent list with the @_user_N keys
// in the body and merges the result with the textual scan.
func (a *Adapter) ParseMentions(body string, raw any) []channel.Mention {
	structured := eventMentions(body, raw)
	textual := channel.ScanTextualMentions(body, channel.TextScanOptions{})
	// Drop textual matches that are just the placeholder keys themselves.
	filtered := textual[:0]
	for _, m := range textual {
		if strings.HasPrefix(m.UserID, "_user_") {
			continue
		}
		filtered = append(filtered, m)
	}
	return channel.MergeMentions(body, structured, filtered)
}

// WasMentioned reports whether the bot's open id appears in the event's
// mention list.
func (a *Adapter) WasMentioned(raw any, botID string) bool {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return false
	}
	event, ok := raw.(*larkim.P2MessageReceiveV1)
	if !ok || event == nil || event.Event == nil || event.Event.Message == nil {
		return false
	}
	for _, mention := range event.Event.Message.Mentions {
		if mention == nil || mention.Id == nil || mention.Id.OpenId == nil {
			continue
		}
		if strings.TrimSpace(*mention.Id.OpenId) == botID {
			return true
		}
	}
	return false
}

func eventMentions(body string, raw any) []channel.Mention {
	event, ok := raw.(*larkim.P2MessageReceiveV1)
	if !ok || event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	mentions := make([]channel.Mention, 0, len(event.Event.Message.Mentions))
	for _, mention := range event.Event.Message.Mentions {
		if mention == nil || mention.Key == nil {
			continue
		}
		key := strings.TrimSpace(*mention.Key) // "@_user_1"
		if key == "" {
			continue
		}
		offset, ok := channel.LocateToken(body, key, 0)
		if !ok {
			continue
		}
		userID := ""
		if mention.Id != nil && mention.Id.OpenId != nil {
			userID = strings.TrimSpace(*mention.Id.OpenId)
		}
		username := ""
		if mention.Name != nil {
			username = strings.TrimSpace(*mention.Name)
		}
		if userID == "" {
			userID = username
		}
		if userID == "" {
			continue
		}
		mentions = append(mentions, channel.Mention{
			UserID:   userID,
			Username: username,
			Offset:   offset,
			Length:   len(key),
		})
	}
	return mentions
}
