// Package security implements the sender-verification and outbound
// sanitization policy applied between channel transform and persistence.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/courierhq/courier/internal/channel"
)

// DenyReason is a categorized security denial.
type DenyReason string

const (
	ReasonSenderClaimMismatch DenyReason = "sender_claim_mismatch"
	ReasonUnauthorizedSender  DenyReason = "unauthorized_sender"
	ReasonForbiddenSender     DenyReason = "forbidden_sender"
	ReasonUntrustedSender     DenyReason = "untrusted_sender"
	ReasonDenied              DenyReason = "denied"
)

// Verification is the outcome of VerifySender: an allow (optionally carrying
// verification metadata from the channel hook) or a categorized denial.
// Denials are ordinary values, never folded into a generic error.
type Verification struct {
	Allowed     bool
	Metadata    map[string]any
	Reason      DenyReason
	Description string
}

// Allow builds an allowing verification with optional metadata.
func Allow(metadata map[string]any) Verification {
	return Verification{Allowed: true, Metadata: metadata}
}

// Deny builds a denying verification.
func Deny(reason DenyReason, description string) Verification {
	return Verification{Reason: reason, Description: description}
}

// SanitizeResult reports the sanitized text and which rule set touched it.
type SanitizeResult struct {
	Text        string
	ChannelRule string
	Changed     bool
}

// claimedSenderKeys are the raw-payload locations probed for an explicit
// sender claim, in priority order. The first non-empty normalized value wins.
var claimedSenderKeys = []string{"claimed_sender", "sender_id", "from"}

// nested sender-object locations probed after the flat keys.
var claimedSenderObjects = []string{"sender", "author"}

// broadcastMentionPattern matches mass-ping tokens that must be neutralized
// on channels supporting them. Inserting a zero-width space after the @
// breaks the token without altering the visible text, and keeps the rewrite
// idempotent: a neutralized token no longer matches.
var broadcastMentionPattern = regexp.MustCompile(`@(everyone|here|channel|all)\b`)

// Policy verifies inbound sender claims and sanitizes outbound text using
// the channel registry's per-adapter hooks.
type Policy struct {
	registry *channel.Registry
	logger   *slog.Logger
}

// NewPolicy creates a Policy over the given adapter registry.
func NewPolicy(log *slog.Logger, registry *channel.Registry) *Policy {
	if log == nil {
		log = slog.Default()
	}
	return &Policy{
		registry: registry,
		logger:   log.With(slog.String("component", "security")),
	}
}

// VerifySender checks the raw payload's claimed sender against the identity
// already resolved for the inbound message, then delegates to the channel's
// own verification hook. Channel denials are classified into the fixed
// DenyReason set; unrecognized channel errors propagate unmodified.
func (p *Policy) VerifySender(ctx context.Context, msg channel.InboundMessage, raw any) (Verification, error) {
	claimed := extractClaimedSender(raw)
	resolved := NormalizeIdentity(msg.Sender.SubjectID)
	if claimed != "" && resolved != "" && claimed != resolved {
		p.logger.Warn("sender claim mismatch",
			slog.String("channel", msg.Channel.String()),
			slog.String("claimed", claimed),
			slog.String("resolved", resolved),
		)
		return Deny(ReasonSenderClaimMismatch,
			fmt.Sprintf("claimed sender %q does not match resolved sender %q", claimed, resolved)), nil
	}

	verifier, ok := p.registry.GetSenderVerifier(msg.Channel)
	if !ok {
		return Allow(nil), nil
	}
	metadata, err := verifier.VerifySender(ctx, msg, raw)
	if err == nil {
		return Allow(metadata), nil
	}
	if reason, ok := classifyDenial(err); ok {
		return Deny(reason, err.Error()), nil
	}
	return Verification{}, fmt.Errorf("verify sender: %w", err)
}

// SanitizeOutbound applies the channel-independent baseline normalization,
// the mass-mention neutralization rule for channels that need it, and the
// channel's own sanitize hook. Changed reflects whether the final text
// differs from the input.
func (p *Policy) SanitizeOutbound(channelType channel.ChannelType, text string, opts map[string]any) (SanitizeResult, error) {
	sanitized := baselineSanitize(text)
	rule := "baseline"

	if desc, ok := p.registry.GetDescriptor(channelType); ok && desc.Capabilities.MassMentions {
		neutralized := neutralizeBroadcastMentions(sanitized)
		if neutralized != sanitized {
			rule = "mass_mention_guard"
		}
		sanitized = neutralized
	}

	if sanitizer, ok := p.registry.GetOutboundSanitizer(channelType); ok {
		rewritten, err := sanitizer.SanitizeOutbound(sanitized, opts)
		if err != nil {
			return SanitizeResult{}, fmt.Errorf("sanitize outbound: %w", err)
		}
		sanitized = rewritten
	}

	return SanitizeResult{
		Text:        sanitized,
		ChannelRule: rule,
		Changed:     sanitized != text,
	}, nil
}

// NormalizeIdentity trims an identity value and stringifies numeric or
// symbolic forms. Empty after trimming means absent.
func NormalizeIdentity(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func extractClaimedSender(raw any) string {
	payload, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range claimedSenderKeys {
		if value := NormalizeIdentity(payload[key]); value != "" {
			return value
		}
	}
	for _, key := range claimedSenderObjects {
		nested, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}
		if value := NormalizeIdentity(nested["id"]); value != "" {
			return value
		}
	}
	return ""
}

func classifyDenial(err error) (DenyReason, bool) {
	switch {
	case errors.Is(err, channel.ErrUnauthorizedSender):
		return ReasonUnauthorizedSender, true
	case errors.Is(err, channel.ErrForbiddenSender):
		return ReasonForbiddenSender, true
	case errors.Is(err, channel.ErrUntrustedSender):
		return ReasonUntrustedSender, true
	case errors.Is(err, channel.ErrSenderDenied):
		return ReasonDenied, true
	default:
		return "", false
	}
}

// baselineSanitize normalizes line endings to \n and strips non-printable
// control characters except newline and tab.
func baselineSanitize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func neutralizeBroadcastMentions(text string) string {
	return broadcastMentionPattern.ReplaceAllString(text, "@​$1")
}
