package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/courierhq/courier/internal/channel"
	"github.com/courierhq/courier/internal/security"
)

// Outbound is the sanitize-before-send path. Every outbound text passes
// through the security policy before it reaches the channel adapter.
type Outbound struct {
	registry *channel.Registry
	policy   *security.Policy
	logger   *slog.Logger
}

// NewOutbound creates the outbound send path.
func NewOutbound(log *slog.Logger, registry *channel.Registry, policy *security.Policy) *Outbound {
	if log == nil {
		log = slog.Default()
	}
	return &Outbound{
		registry: registry,
		policy:   policy,
		logger:   log.With(slog.String("component", "outbound")),
	}
}

// Send sanitizes text for the target channel and delivers it through the
// adapter's Sender. Channels without a Sender are an error, not a silent
// drop.
func (o *Outbound) Send(ctx context.Context, cfg channel.ChannelConfig, target, text string, opts map[string]any) error {
	result, err := o.policy.SanitizeOutbound(cfg.ChannelType, text, opts)
	if err != nil {
		return err
	}
	if result.Changed {
		o.logger.Debug("outbound text sanitized",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("rule", result.ChannelRule),
		)
	}
	sender, ok := o.registry.GetSender(cfg.ChannelType)
	if !ok {
		return fmt.Errorf("channel %s does not support sending", cfg.ChannelType)
	}
	if err := sender.Send(ctx, cfg, channel.OutboundMessage{
		Target:  target,
		Message: channel.Message{Text: result.Text},
	}); err != nil {
		return fmt.Errorf("send via %s: %w", cfg.ChannelType, err)
	}
	return nil
}
