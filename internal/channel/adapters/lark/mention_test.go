package lark

import (
	"testing"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

func mentionReceiveEvent(mentions ...*larkim.MentionEvent) *larkim.P2MessageReceiveV1 {
	return &larkim.P2MessageReceiveV1{
		Event: &larkim.P2MessageReceiveV1Data{
			Message: &larkim.EventMessage{
				Mentions: mentions,
			},
		},
	}
}

func TestParseMentionsPlaceholderKeys(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "@_user_1 please check with @_user_2"
	event := mentionReceiveEvent(
		larkim.NewMentionEventBuilder().
			Key("@_user_1").
			Id(larkim.NewUserIdBuilder().OpenId("ou_alice").Build()).
			Name("Alice").
			Build(),
		larkim.NewMentionEventBuilder().
			Key("@_user_2").
			Id(larkim.NewUserIdBuilder().OpenId("ou_bob").Build()).
			Name("Bob").
			Build(),
	)

	mentions := adapter.ParseMentions(body, event)
	if len(mentions) != 2 {
		t.Fatalf("expected 2 mentions, got %d: %v", len(mentions), mentions)
	}
	if mentions[0].UserID != "ou_alice" || mentions[0].Offset != 0 || mentions[0].Length != len("@_user_1") {
		t.Fatalf("unexpected first mention: %+v", mentions[0])
	}
	if mentions[1].UserID != "ou_bob" || mentions[1].Username != "Bob" {
		t.Fatalf("unexpected second mention: %+v", mentions[1])
	}
}

func TestParseMentionsFallsBackToName(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	body := "@_user_1 hello"
	event := mentionReceiveEvent(
		larkim.NewMentionEventBuilder().Key("@_user_1").Name("Alice").Build(),
	)
	mentions := adapter.ParseMentions(body, event)
	if len(mentions) != 1 || mentions[0].UserID != "Alice" {
		t.Fatalf("expected name fallback, got %v", mentions)
	}
}

func TestParseMentionsFiltersPlaceholderTextual(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	// The textual scan would also match @_user_1; only the structured copy
	// may survive, plus any plain mention.
	body := "@_user_1 and @carol"
	event := mentionReceiveEvent(
		larkim.NewMentionEventBuilder().
			Key("@_user_1").
			Id(larkim.NewUserIdBuilder().OpenId("ou_alice").Build()).
			Build(),
	)
	mentions := adapter.ParseMentions(body, event)
	if len(mentions) != 2 {
		t.Fatalf("expected 2 mentions, got %v", mentions)
	}
	if mentions[0].UserID != "ou_alice" || mentions[1].UserID != "carol" {
		t.Fatalf("unexpected mentions: %v", mentions)
	}
}

func TestParseMentionsKeyMissingFromBody(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	event := mentionReceiveEvent(
		larkim.NewMentionEventBuilder().
			Key("@_user_1").
			Id(larkim.NewUserIdBuilder().OpenId("ou_alice").Build()).
			Build(),
	)
	if got := adapter.ParseMentions("no placeholder here", event); len(got) != 0 {
		t.Fatalf("expected no mentions without a located key, got %v", got)
	}
}

func TestWasMentioned(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	event := mentionReceiveEvent(
		larkim.NewMentionEventBuilder().
			Key("@_user_1").
			Id(larkim.NewUserIdBuilder().OpenId("ou_bot").Build()).
			Build(),
	)
	if !adapter.WasMentioned(event, "ou_bot") {
		t.Fatal("expected bot open id to match")
	}
	if adapter.WasMentioned(event, "ou_other") {
		t.Fatal("unrelated open id must not match")
	}
	if adapter.WasMentioned(nil, "ou_bot") {
		t.Fatal("nil event never matches")
	}
	if adapter.WasMentioned(event, "") {
		t.Fatal("blank bot id never matches")
	}
}
