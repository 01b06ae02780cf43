package telegram

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/courierhq/courier/internal/channel"
)

// ParseMentions extracts structured mentions from the update's entities and
// merges them with the textual scan. Telegram entity offsets are UTF-16 code
// units and are converted to byte offsets here.
func (a *Adapter) ParseMentions(body string, raw any) []channel.Mention {
	structured := entityMentions(body, raw)
	textual := channel.ScanTextualMentions(body, channel.TextScanOptions{})
	return channel.MergeMentions(body, structured, textual)
}

// WasMentioned reports whether the bot identity appears among the parsed
// mentions. botID may be a numeric id or a @username.
func (a *Adapter) WasMentioned(raw any, botID string) bool {
	m, ok := raw.(*tgbotapi.Message)
	if !ok || m == nil {
		return false
	}
	mentions := a.ParseMentions(m.Text, raw)
	return channel.MentionsInclude(mentions, strings.TrimPrefix(strings.TrimSpace(botID), "@"))
}

func entityMentions(body string, raw any) []channel.Mention {
	m, ok := raw.(*tgbotapi.Message)
	if !ok || m == nil {
		return nil
	}
	mentions := make([]channel.Mention, 0, len(m.Entities))
	for _, entity := range m.Entities {
		offset, length, ok := utf16SpanToBytes(body, entity.Offset, entity.Length)
		if !ok {
			continue
		}
		switch entity.Type {
		case "mention":
			// Span covers "@username"; the id Telegram gives us is the
			// username itself.
			username := strings.TrimPrefix(body[offset:offset+length], "@")
			if username == "" {
				continue
			}
			mentions = append(mentions, channel.Mention{
				UserID:   username,
				Username: username,
				Offset:   offset,
				Length:   length,
			})
		case "text_mention":
			if entity.User == nil {
				continue
			}
			mentions = append(mentions, channel.Mention{
				UserID:   strconv.FormatInt(entity.User.ID, 10),
				Username: strings.TrimSpace(entity.User.UserName),
				Offset:   offset,
				Length:   length,
			})
		}
	}
	return mentions
}

// utf16SpanToBytes converts a UTF-16 code-unit span into a byte span over
// body. Spans that do not land on rune boundaries or overflow the body are
// rejected.
func utf16SpanToBytes(body string, offset, length int) (int, int, bool) {
	if offset < 0 || length <= 0 {
		return 0, 0, false
	}
	start, end := -1, -1
	units := 0
	for i, r := range body {
		if units == offset {
			start = i
		}
		if units == offset+length {
			end = i
			break
		}
		units++
		if r > 0xFFFF {
			units++
		}
	}
	if start < 0 {
		if units == offset {
			start = len(body)
		} else {
			return 0, 0, false
		}
	}
	if end < 0 {
		if units == offset+length {
			end = len(body)
		} else {
			return 0, 0, false
		}
	}
	if end <= start {
		return 0, 0, false
	}
	return start, end - start, true
}
