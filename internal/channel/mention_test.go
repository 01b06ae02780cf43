package channel_test

import (
	"regexp"
	"testing"

	"github.com/courierhq/courier/internal/channel"
)

func TestScanTextualMentionsPlain(t *testing.T) {
	t.Parallel()

	body := "hello @alice and @bob.smith, ping me"
	got := channel.ScanTextualMentions(body, channel.TextScanOptions{})
	if len(got) != 2 {
		t.Fatalf("expected 2 mentions, got %d: %v", len(got), got)
	}
	if got[0].UserID != "alice" || got[0].Offset != 6 || got[0].Length != 6 {
		t.Fatalf("unexpected first mention: %+v", got[0])
	}
	if got[1].UserID != "bob.smith" || got[1].Offset != 17 {
		t.Fatalf("unexpected second mention: %+v", got[1])
	}
}

func TestScanTextualMentionsRejectsGluedAt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"email address", "contact admin@example.com for help"},
		{"mid-token", "weird-token@value"},
		{"angle bracket syntax", "see <@12345> token"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := channel.ScanTextualMentions(tc.body, channel.TextScanOptions{})
			if len(got) != 0 {
				t.Fatalf("expected no mentions in %q, got %v", tc.body, got)
			}
		})
	}
}

func TestScanTextualMentionsExtraPatternShadowsPlain(t *testing.T) {
	t.Parallel()

	token := regexp.MustCompile(`<@!?(\d+)>`)
	body := "hi <@42> and @carol"
	got := channel.ScanTextualMentions(body, channel.TextScanOptions{
		ExtraPatterns: []*regexp.Regexp{token},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 mentions, got %d: %v", len(got), got)
	}
	if got[0].UserID != "42" || got[0].Offset != 3 || got[0].Length != 5 {
		t.Fatalf("unexpected token mention: %+v", got[0])
	}
	if got[1].UserID != "carol" {
		t.Fatalf("unexpected plain mention: %+v", got[1])
	}
}

func TestScanTextualMentionsEmptyBody(t *testing.T) {
	t.Parallel()

	if got := channel.ScanTextualMentions("   ", channel.TextScanOptions{}); got != nil {
		t.Fatalf("expected nil for blank body, got %v", got)
	}
}

func TestMergeMentionsStructuredWinsOnExactSpan(t *testing.T) {
	t.Parallel()

	body := "hey @alice"
	structured := []channel.Mention{{UserID: "u-1", Username: "alice", Offset: 4, Length: 6}}
	textual := []channel.Mention{{UserID: "alice", Username: "alice", Offset: 4, Length: 6}}
	got := channel.MergeMentions(body, structured, textual)
	if len(got) != 1 {
		t.Fatalf("expected 1 mention, got %d: %v", len(got), got)
	}
	if got[0].UserID != "u-1" {
		t.Fatalf("structured mention should win, got %+v", got[0])
	}
}

func TestMergeMentionsKeepsDistinctSpans(t *testing.T) {
	t.Parallel()

	body := "hi <@42> @carol"
	structured := []channel.Mention{{UserID: "42", Username: "bob", Offset: 3, Length: 5}}
	textual := []channel.Mention{{UserID: "carol", Username: "carol", Offset: 9, Length: 6}}
	got := channel.MergeMentions(body, structured, textual)
	if len(got) != 2 {
		t.Fatalf("expected 2 mentions, got %d: %v", len(got), got)
	}
	if got[0].UserID != "42" || got[1].UserID != "carol" {
		t.Fatalf("unexpected merge order: %v", got)
	}
}

func TestMergeMentionsDropsInvalidSpans(t *testing.T) {
	t.Parallel()

	body := "short"
	mentions := []channel.Mention{
		{UserID: "a", Offset: -1, Length: 3},
		{UserID: "b", Offset: 0, Length: 0},
		{UserID: "c", Offset: 2, Length: 50},
		{UserID: "d", Offset: 0, Length: 5},
	}
	got := channel.MergeMentions(body, mentions, nil)
	if len(got) != 1 || got[0].UserID != "d" {
		t.Fatalf("expected only the valid span, got %v", got)
	}
}

func TestMergeMentionsDeduplicates(t *testing.T) {
	t.Parallel()

	body := "@x @x"
	textual := []channel.Mention{
		{UserID: "x", Offset: 0, Length: 2},
		{UserID: "x", Offset: 0, Length: 2},
		{UserID: "x", Offset: 3, Length: 2},
	}
	got := channel.MergeMentions(body, nil, textual)
	if len(got) != 2 {
		t.Fatalf("expected 2 unique mentions, got %v", got)
	}
}

func TestMergeMentionsSortsByOffset(t *testing.T) {
	t.Parallel()

	body := "aa @b cc @d ee"
	textual := []channel.Mention{
		{UserID: "d", Offset: 9, Length: 2},
		{UserID: "b", Offset: 3, Length: 2},
	}
	got := channel.MergeMentions(body, nil, textual)
	if got[0].UserID != "b" || got[1].UserID != "d" {
		t.Fatalf("expected ascending offsets, got %v", got)
	}
}

func TestMentionsInclude(t *testing.T) {
	t.Parallel()

	mentions := []channel.Mention{{UserID: " bot-1 "}, {UserID: "user-2"}}
	if !channel.MentionsInclude(mentions, "bot-1") {
		t.Fatal("expected bot-1 to be included")
	}
	if channel.MentionsInclude(mentions, "bot-9") {
		t.Fatal("expected bot-9 to be absent")
	}
	if channel.MentionsInclude(mentions, "  ") {
		t.Fatal("blank bot id never matches")
	}
}

func TestLocateToken(t *testing.T) {
	t.Parallel()

	body := "abc @u abc @u"
	first, ok := channel.LocateToken(body, "@u", 0)
	if !ok || first != 4 {
		t.Fatalf("first = (%d, %v), want (4, true)", first, ok)
	}
	second, ok := channel.LocateToken(body, "@u", first+1)
	if !ok || second != 11 {
		t.Fatalf("second = (%d, %v), want (11, true)", second, ok)
	}
	if _, ok := channel.LocateToken(body, "@z", 0); ok {
		t.Fatal("expected miss for absent token")
	}
	if _, ok := channel.LocateToken(body, "@u", len(body)+1); ok {
		t.Fatal("expected miss for out-of-range start")
	}
}
