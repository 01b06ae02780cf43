package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestParseMentionsListAndTextual(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "hi <@42> @carol"
	msg := &discordgo.Message{
		Content:  body,
		Mentions: []*discordgo.User{{ID: "42", Username: "bob"}},
	}

	mentions := adapter.ParseMentions(body, msg)
	if len(mentions) != 2 {
		t.Fatalf("expected 2 mentions, got %d: %v", len(mentions), mentions)
	}
	if mentions[0].UserID != "42" || mentions[0].Username != "bob" {
		t.Fatalf("unexpected structured mention: %+v", mentions[0])
	}
	if mentions[0].Offset != 3 || mentions[0].Length != 5 {
		t.Fatalf("unexpected structured span: %+v", mentions[0])
	}
	if mentions[1].UserID != "carol" || mentions[1].Offset != 9 || mentions[1].Length != 6 {
		t.Fatalf("unexpected textual mention: %+v", mentions[1])
	}
}

func TestParseMentionsNicknameSyntax(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "ping <@!7>"
	msg := &discordgo.Message{
		Content:  body,
		Mentions: []*discordgo.User{{ID: "7", Username: "dana"}},
	}
	mentions := adapter.ParseMentions(body, msg)
	if len(mentions) != 1 {
		t.Fatalf("expected 1 mention, got %v", mentions)
	}
	if mentions[0].UserID != "7" || mentions[0].Length != len("<@!7>") {
		t.Fatalf("unexpected mention: %+v", mentions[0])
	}
}

func TestParseMentionsInlineTokenWithoutListEntry(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	// No Mentions list; the textual pass still recognizes the token syntax.
	body := "see <@99>"
	mentions := adapter.ParseMentions(body, &discordgo.Message{Content: body})
	if len(mentions) != 1 || mentions[0].UserID != "99" {
		t.Fatalf("expected token-only mention, got %v", mentions)
	}
}

func TestParseMentionsImplicitListEntryHasNoSpan(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	// Reply mention: the user is in the list but no token is in the body.
	body := "thanks!"
	msg := &discordgo.Message{
		Content:  body,
		Mentions: []*discordgo.User{{ID: "42", Username: "bob"}},
	}
	if got := adapter.ParseMentions(body, msg); len(got) != 0 {
		t.Fatalf("implicit mention must not produce a span, got %v", got)
	}
}

func TestParseMentionsRepeatedUser(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "<@42> again <@42>"
	msg := &discordgo.Message{
		Content: body,
		Mentions: []*discordgo.User{
			{ID: "42", Username: "bob"},
			{ID: "42", Username: "bob"},
		},
	}
	mentions := adapter.ParseMentions(body, msg)
	if len(mentions) != 2 {
		t.Fatalf("expected 2 spans for the repeated user, got %v", mentions)
	}
	if mentions[0].Offset != 0 || mentions[1].Offset != 12 {
		t.Fatalf("unexpected offsets: %v", mentions)
	}
}

func TestWasMentionedListIsAuthoritative(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	// Implicit mention via reply: no inline token, list entry only.
	msg := &discordgo.Message{
		Content:  "sounds good",
		Mentions: []*discordgo.User{{ID: "bot-1", Username: "courier"}},
	}
	if !adapter.WasMentioned(msg, "bot-1") {
		t.Fatal("list entry alone should count as a mention")
	}
	if adapter.WasMentioned(msg, "bot-2") {
		t.Fatal("unrelated bot must not match")
	}
}

func TestWasMentionedAcceptsMessageCreate(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	msg := &discordgo.MessageCreate{Message: &discordgo.Message{
		Content:  "<@55> hello",
		Mentions: []*discordgo.User{{ID: "55", Username: "courier"}},
	}}
	if !adapter.WasMentioned(msg, "55") {
		t.Fatal("MessageCreate wrapper should be unwrapped")
	}
}
