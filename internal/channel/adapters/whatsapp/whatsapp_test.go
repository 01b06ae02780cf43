package whatsapp

import (
	"context"
	"errors"
	"testing"

	"github.com/courierhq/courier/internal/channel"
)

func TestParseMentionsFromMentionedIDs(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "@15551234567 are you around?"
	payload := map[string]any{
		"body":          body,
		"mentioned_ids": []any{"15551234567"},
	}

	mentions := adapter.ParseMentions(body, payload)
	if len(mentions) != 1 {
		t.Fatalf("expected 1 mention, got %v", mentions)
	}
	m := mentions[0]
	if m.UserID != "15551234567" || m.Offset != 0 || m.Length != len("@15551234567") {
		t.Fatalf("unexpected mention: %+v", m)
	}
}

func TestParseMentionsIDNotInBody(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	payload := map[string]any{"mentioned_ids": []string{"777"}}
	if got := adapter.ParseMentions("no token here", payload); len(got) != 0 {
		t.Fatalf("expected no mentions, got %v", got)
	}
}

func TestParseMentionsMergesTextual(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "@111 and @alice"
	payload := map[string]any{"mentioned_ids": []any{"111"}}
	mentions := adapter.ParseMentions(body, payload)
	if len(mentions) != 2 {
		t.Fatalf("expected 2 mentions, got %v", mentions)
	}
	if mentions[0].UserID != "111" || mentions[1].UserID != "alice" {
		t.Fatalf("unexpected mentions: %v", mentions)
	}
}

func TestWasMentioned(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	payload := map[string]any{
		"body":          "hey @botnumber",
		"mentioned_ids": []any{"botnumber"},
	}
	if !adapter.WasMentioned(payload, "botnumber") {
		t.Fatal("expected bot to be mentioned")
	}
	if adapter.WasMentioned(payload, "other") {
		t.Fatal("unrelated id must not match")
	}
	if adapter.WasMentioned("not a map", "botnumber") {
		t.Fatal("non-map payload never matches")
	}
}

func TestVerifySender(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	msg := channel.InboundMessage{
		Channel: Type,
		Sender:  channel.Identity{SubjectID: "15551234567"},
	}

	if _, err := adapter.VerifySender(context.Background(), msg, map[string]any{"from": "15551234567"}); err != nil {
		t.Fatalf("matching sender: %v", err)
	}

	_, err := adapter.VerifySender(context.Background(), msg, map[string]any{"from": "999"})
	if !errors.Is(err, channel.ErrForbiddenSender) {
		t.Fatalf("expected ErrForbiddenSender, got %v", err)
	}

	_, err = adapter.VerifySender(context.Background(), msg, map[string]any{"from": "  "})
	if !errors.Is(err, channel.ErrUntrustedSender) {
		t.Fatalf("expected ErrUntrustedSender, got %v", err)
	}

	// Non-map payloads are outside this adapter's claim model.
	if _, err := adapter.VerifySender(context.Background(), msg, "raw bytes"); err != nil {
		t.Fatalf("non-map payload should pass through: %v", err)
	}
}

func TestSanitizeOutbound(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	got, err := adapter.SanitizeOutbound("hello there \n\t \n", nil)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("sanitized = %q", got)
	}
	again, err := adapter.SanitizeOutbound(got, nil)
	if err != nil || again != got {
		t.Fatalf("sanitize must be idempotent: %q vs %q (%v)", got, again, err)
	}
}
