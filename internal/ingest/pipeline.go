// Package ingest composes the per-message primitives into the inbound
// pipeline every channel receiver feeds: dedupe, sender verification,
// participant resolution, mention extraction, persistence, emit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/channel"
	"github.com/courierhq/courier/internal/dedupe"
	"github.com/courierhq/courier/internal/directory"
	"github.com/courierhq/courier/internal/security"
)

// ErrDuplicate indicates the message was already processed inside the dedupe
// window and has been dropped.
var ErrDuplicate = errors.New("duplicate message")

// DeniedError reports a security-policy refusal. The categorized reason is
// preserved so callers never see denials as generic failures.
type DeniedError struct {
	Reason      security.DenyReason
	Description string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("sender denied (%s): %s", e.Reason, e.Description)
}

// MessageRecord is the persisted form of one accepted inbound message.
type MessageRecord struct {
	ID             string              `json:"id"`
	Channel        channel.ChannelType `json:"channel"`
	BotID          string              `json:"bot_id,omitempty"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	ParticipantID  string              `json:"participant_id,omitempty"`
	Body           string              `json:"body"`
	Mentions       []channel.Mention   `json:"mentions,omitempty"`
	WasMentioned   bool                `json:"was_mentioned"`
	ThreadRoot     string              `json:"thread_root,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	ReceivedAt     time.Time           `json:"received_at"`
}

// MessageWriter is the store contract for the inbound message log.
type MessageWriter interface {
	SaveInboundMessage(ctx context.Context, rec *MessageRecord) error
}

// Handler receives each accepted, persisted message.
type Handler func(ctx context.Context, rec *MessageRecord, msg channel.InboundMessage) error

// Pipeline runs the ingest steps in order for every inbound message.
type Pipeline struct {
	registry  *channel.Registry
	deduper   *dedupe.Deduper
	directory *directory.Resolver
	policy    *security.Policy
	messages  MessageWriter
	handler   Handler
	logger    *slog.Logger
}

// NewPipeline assembles the ingest pipeline from its collaborators.
func NewPipeline(
	log *slog.Logger,
	registry *channel.Registry,
	deduper *dedupe.Deduper,
	resolver *directory.Resolver,
	policy *security.Policy,
	messages MessageWriter,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		registry:  registry,
		deduper:   deduper,
		directory: resolver,
		policy:    policy,
		messages:  messages,
		logger:    log.With(slog.String("component", "ingest")),
	}
}

// SetHandler registers the downstream consumer for accepted messages.
func (p *Pipeline) SetHandler(h Handler) {
	p.handler = h
}

// Process runs one message through dedupe, verification, participant
// resolution, mention extraction, and persistence, then emits it to the
// registered handler. Duplicates return ErrDuplicate; policy refusals return
// *DeniedError; both leave no trace in the message log.
func (p *Pipeline) Process(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) (*MessageRecord, error) {
	key := fmt.Sprintf("%s:%s:%s", msg.Channel, msg.Conversation.ID, msg.Message.ID)
	if !p.deduper.CheckAndMark(key, dedupe.DefaultTTL) {
		p.logger.Debug("duplicate dropped", slog.String("key", key))
		return nil, ErrDuplicate
	}

	verification, err := p.policy.VerifySender(ctx, msg, msg.Raw)
	if err != nil {
		return nil, err
	}
	if !verification.Allowed {
		p.logger.Warn("sender denied",
			slog.String("channel", msg.Channel.String()),
			slog.String("sender", msg.Sender.SubjectID),
			slog.String("reason", string(verification.Reason)),
		)
		return nil, &DeniedError{Reason: verification.Reason, Description: verification.Description}
	}

	displayName := strings.TrimSpace(msg.Sender.DisplayName)
	if displayName == "" {
		displayName = msg.Sender.Attribute("username")
	}
	participant, err := p.directory.EnsureParticipant(ctx, msg.Channel.String(), msg.Sender.SubjectID, displayName)
	if err != nil {
		return nil, err
	}

	var mentions []channel.Mention
	wasMentioned := false
	if source, ok := p.registry.GetMentionSource(msg.Channel); ok {
		mentions = source.ParseMentions(msg.Message.Text, msg.Raw)
		wasMentioned = source.WasMentioned(msg.Raw, msg.BotID)
	}
	threadRoot, _ := p.registry.ComputeThreadRoot(msg.Channel, msg.Raw)

	rec := &MessageRecord{
		ID:             messageID(msg),
		Channel:        msg.Channel,
		BotID:          msg.BotID,
		ConversationID: msg.Conversation.ID,
		SenderID:       msg.Sender.SubjectID,
		ParticipantID:  participant.ID,
		Body:           msg.Message.Text,
		Mentions:       mentions,
		WasMentioned:   wasMentioned,
		ThreadRoot:     threadRoot,
		Metadata:       verification.Metadata,
		ReceivedAt:     receivedAt(msg),
	}
	if err := p.messages.SaveInboundMessage(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist inbound message: %w", err)
	}
	p.logger.Debug("message accepted",
		slog.String("id", rec.ID),
		slog.String("route_key", msg.RoutingKey()),
	)

	if p.handler != nil {
		if err := p.handler(ctx, rec, msg); err != nil {
			return rec, fmt.Errorf("handle inbound message: %w", err)
		}
	}
	return rec, nil
}

// InboundHandler adapts Process to the receiver callback shape, wrapped in
// the given middleware (first listed is outermost). Duplicates and denials
// are absorbed here: a receiver connection must not die because one message
// was dropped.
func (p *Pipeline) InboundHandler(mw ...channel.Middleware) channel.InboundHandler {
	handler := func(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) error {
		_, err := p.Process(ctx, cfg, msg)
		var denied *DeniedError
		if errors.Is(err, ErrDuplicate) || errors.As(err, &denied) {
			return nil
		}
		return err
	}
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

func messageID(msg channel.InboundMessage) string {
	if msg.Message.ID != "" {
		return fmt.Sprintf("%s:%s", msg.Channel, msg.Message.ID)
	}
	return uuid.NewString()
}

func receivedAt(msg channel.InboundMessage) time.Time {
	if !msg.ReceivedAt.IsZero() {
		return msg.ReceivedAt
	}
	return time.Now()
}
