package discord

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/courierhq/courier/internal/channel"
)

// tokenPattern matches Discord's inline mention syntax; the capture group is
// the numeric user id. The optional ! marks a nickname mention.
var tokenPattern = regexp.MustCompile(`<@!?(\d+)>`)

// ParseMentions sources structured mentions from the payload's Mentions list,
// locating each user's inline token in the body for its span, and merges with
// the textual scan. The textual pass also recognizes the <@id> syntax so an
// inline token without a matching list entry still surfaces.
func (a *Adapter) ParseMentions(body string, raw any) []channel.Mention {
	structured := listMentions(body, raw)
	textual := channel.ScanTextualMentions(body, channel.TextScanOptions{
		ExtraPatterns: []*regexp.Regexp{tokenPattern},
	})
	return channel.MergeMentions(body, structured, textual)
}

// WasMentioned treats a hit in the payload's Mentions list as authoritative:
// Discord populates it for replies and implicit mentions even when no inline
// token appears in the body.
func (a *Adapter) WasMentioned(raw any, botID string) bool {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return false
	}
	m := rawMessage(raw)
	if m == nil {
		return false
	}
	for _, user := range m.Mentions {
		if user != nil && user.ID == botID {
			return true
		}
	}
	body := ""
	if m.Content != "" {
		body = m.Content
	}
	return channel.MentionsInclude(a.ParseMentions(body, raw), botID)
}

func listMentions(body string, raw any) []channel.Mention {
	m := rawMessage(raw)
	if m == nil {
		return nil
	}
	mentions := make([]channel.Mention, 0, len(m.Mentions))
	from := 0
	for _, user := range m.Mentions {
		if user == nil || user.ID == "" {
			continue
		}
		offset, length, ok := locateToken(body, user.ID, from)
		if !ok {
			// Implicit mention (e.g. via reply): no inline span to report.
			continue
		}
		mentions = append(mentions, channel.Mention{
			UserID:   user.ID,
			Username: user.Username,
			Offset:   offset,
			Length:   length,
		})
		from = offset + length
	}
	return mentions
}

func locateToken(body, userID string, from int) (int, int, bool) {
	for _, token := range []string{fmt.Sprintf("<@%s>", userID), fmt.Sprintf("<@!%s>", userID)} {
		if offset, ok := channel.LocateToken(body, token, from); ok {
			return offset, len(token), true
		}
	}
	return 0, 0, false
}
