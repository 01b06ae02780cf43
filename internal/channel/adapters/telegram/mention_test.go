package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestParseMentionsEntityOffsetsAreUTF16(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	// The emoji occupies 2 UTF-16 code units but 4 bytes.
	body := "😀 hi @bot"
	msg := &tgbotapi.Message{
		Text: body,
		Entities: []tgbotapi.MessageEntity{
			{Type: "mention", Offset: 6, Length: 4},
		},
	}

	mentions := adapter.ParseMentions(body, msg)
	if len(mentions) != 1 {
		t.Fatalf("expected 1 mention, got %v", mentions)
	}
	m := mentions[0]
	if m.UserID != "bot" || m.Offset != 8 || m.Length != 4 {
		t.Fatalf("unexpected mention: %+v", m)
	}
	if body[m.Offset:m.Offset+m.Length] != "@bot" {
		t.Fatalf("span does not cover the token: %q", body[m.Offset:m.Offset+m.Length])
	}
}

func TestParseMentionsTextMention(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "hi Alice"
	msg := &tgbotapi.Message{
		Text: body,
		Entities: []tgbotapi.MessageEntity{
			{Type: "text_mention", Offset: 3, Length: 5, User: &tgbotapi.User{ID: 777, UserName: "alice"}},
		},
	}

	mentions := adapter.ParseMentions(body, msg)
	if len(mentions) != 1 {
		t.Fatalf("expected 1 mention, got %v", mentions)
	}
	if mentions[0].UserID != "777" || mentions[0].Username != "alice" {
		t.Fatalf("unexpected mention: %+v", mentions[0])
	}
	if mentions[0].Offset != 3 || mentions[0].Length != 5 {
		t.Fatalf("unexpected span: %+v", mentions[0])
	}
}

func TestParseMentionsDropsOutOfRangeEntity(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "short"
	msg := &tgbotapi.Message{
		Text: body,
		Entities: []tgbotapi.MessageEntity{
			{Type: "mention", Offset: 40, Length: 4},
		},
	}
	if got := adapter.ParseMentions(body, msg); len(got) != 0 {
		t.Fatalf("expected no mentions, got %v", got)
	}
}

func TestParseMentionsMergesTextualScan(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	// No entities at all: the textual scan still finds the mention.
	body := "ping @bob please"
	mentions := adapter.ParseMentions(body, &tgbotapi.Message{Text: body})
	if len(mentions) != 1 || mentions[0].UserID != "bob" {
		t.Fatalf("expected textual fallback mention, got %v", mentions)
	}
}

func TestWasMentioned(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "ping @mybot now"
	msg := &tgbotapi.Message{
		Text: body,
		Entities: []tgbotapi.MessageEntity{
			{Type: "mention", Offset: 5, Length: 6},
		},
	}

	if !adapter.WasMentioned(msg, "@mybot") {
		t.Fatal("expected @mybot to be mentioned")
	}
	if !adapter.WasMentioned(msg, "mybot") {
		t.Fatal("bot id without @ prefix should also match")
	}
	if adapter.WasMentioned(msg, "otherbot") {
		t.Fatal("unrelated bot must not match")
	}
	if adapter.WasMentioned("not a message", "mybot") {
		t.Fatal("non-message raw payload never matches")
	}
}

func TestUTF16SpanToBytes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		body       string
		offset     int
		length     int
		wantStart  int
		wantLength int
		wantOK     bool
	}{
		{"ascii", "hello @a", 6, 2, 6, 2, true},
		{"after surrogate pair", "😀@a", 2, 2, 4, 2, true},
		{"span to end", "hi @bot", 3, 4, 3, 4, true},
		{"zero length", "hi", 0, 0, 0, 0, false},
		{"negative offset", "hi", -1, 2, 0, 0, false},
		{"overflow", "hi", 1, 10, 0, 0, false},
		{"mid surrogate", "😀x", 1, 1, 0, 0, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			start, length, ok := utf16SpanToBytes(tc.body, tc.offset, tc.length)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if start != tc.wantStart || length != tc.wantLength {
				t.Fatalf("span = (%d, %d), want (%d, %d)", start, length, tc.wantStart, tc.wantLength)
			}
		})
	}
}
