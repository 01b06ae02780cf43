package channel

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrStopNotSupported is returned when a connection does not support graceful shutdown.
var ErrStopNotSupported = errors.New("channel connection stop not supported")

// Sender-verification sentinel errors. Adapter VerifySender hooks return one
// of these (possibly wrapped) to signal a categorized denial; any other error
// is treated as an infrastructure failure and propagated unmodified.
var (
	ErrUnauthorizedSender = errors.New("unauthorized sender")
	ErrForbiddenSender    = errors.New("forbidden sender")
	ErrUntrustedSender    = errors.New("untrusted sender")
	ErrSenderDenied       = errors.New("sender denied")
)

// InboundHandler is a callback invoked when a message arrives from a channel.
type InboundHandler func(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error

// Middleware wraps an InboundHandler to add cross-cutting behavior.
type Middleware func(next InboundHandler) InboundHandler

// Adapter is the base interface every channel adapter must implement.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Sender is an adapter capable of sending outbound messages.
type Sender interface {
	Send(ctx context.Context, cfg ChannelConfig, msg OutboundMessage) error
}

// Receiver is an adapter capable of establishing a long-lived connection to receive messages.
type Receiver interface {
	Connect(ctx context.Context, cfg ChannelConfig, handler InboundHandler) (Connection, error)
}

// MentionSource extracts user mentions from an inbound message.
// ParseMentions returns mentions ordered by ascending byte offset into body;
// WasMentioned reports whether the bot itself is addressed by the payload.
type MentionSource interface {
	ParseMentions(body string, raw any) []Mention
	WasMentioned(raw any, botID string) bool
}

// SenderVerifier checks that the sender claimed by the raw payload matches
// the identity already resolved for the inbound message. A nil error allows;
// returned metadata (may be nil) is attached to the verification result.
type SenderVerifier interface {
	VerifySender(ctx context.Context, msg InboundMessage, raw any) (map[string]any, error)
}

// OutboundSanitizer applies channel-specific outbound text rewriting after
// the baseline normalization. Implementations must be idempotent.
type OutboundSanitizer interface {
	SanitizeOutbound(text string, opts map[string]any) (string, error)
}

// ThreadSupport exposes optional threading callbacks. A channel that does
// not implement it behaves as "no threading support": no thread root, empty
// thread context.
type ThreadSupport interface {
	SupportsThreads() bool
	ComputeThreadRoot(raw any) (string, bool)
	ExtractThreadContext(raw any) map[string]any
}

// Connection represents an active, long-lived link to a channel platform.
type Connection interface {
	ConfigID() string
	BotID() string
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
}

// BaseConnection is a default Connection implementation backed by a stop function.
type BaseConnection struct {
	configID    string
	botID       string
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

// NewConnection creates a BaseConnection for the given config and stop function.
func NewConnection(cfg ChannelConfig, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		configID:    cfg.ID,
		botID:       cfg.BotID,
		channelType: cfg.ChannelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

// ConfigID returns the channel configuration identifier.
func (c *BaseConnection) ConfigID() string {
	return c.configID
}

// BotID returns the bot identifier that owns this connection.
func (c *BaseConnection) BotID() string {
	return c.botID
}

// ChannelType returns the type of channel this connection serves.
func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop gracefully shuts down the connection.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	c.running.Store(false)
	return c.stop(ctx)
}

// Running reports whether the connection is still active.
func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
