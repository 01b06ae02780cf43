package channel_test

import (
	"context"
	"testing"

	"github.com/courierhq/courier/internal/channel"
)

const fullTestChannelType = channel.ChannelType("full-test")
const bareTestChannelType = channel.ChannelType("bare-test")

// bareAdapter implements only the base Adapter interface.
type bareAdapter struct{}

func (a *bareAdapter) Type() channel.ChannelType { return bareTestChannelType }

func (a *bareAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: bareTestChannelType, DisplayName: "Bare"}
}

// fullAdapter implements every optional capability interface.
type fullAdapter struct {
	sent []channel.OutboundMessage
}

func (a *fullAdapter) Type() channel.ChannelType { return fullTestChannelType }

func (a *fullAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        fullTestChannelType,
		DisplayName: "Full",
		Capabilities: channel.Capabilities{
			Text:    true,
			Reply:   true,
			Threads: true,
		},
	}
}

func (a *fullAdapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	a.sent = append(a.sent, msg)
	return nil
}

func (a *fullAdapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	return channel.NewConnection(cfg, nil), nil
}

func (a *fullAdapter) ParseMentions(body string, raw any) []channel.Mention {
	return channel.ScanTextualMentions(body, channel.TextScanOptions{})
}

func (a *fullAdapter) WasMentioned(raw any, botID string) bool { return false }

func (a *fullAdapter) VerifySender(ctx context.Context, msg channel.InboundMessage, raw any) (map[string]any, error) {
	return nil, nil
}

func (a *fullAdapter) SanitizeOutbound(text string, opts map[string]any) (string, error) {
	return text, nil
}

func (a *fullAdapter) SupportsThreads() bool { return true }

func (a *fullAdapter) ComputeThreadRoot(raw any) (string, bool) {
	root, ok := raw.(string)
	return root, ok && root != ""
}

func (a *fullAdapter) ExtractThreadContext(raw any) map[string]any { return nil }

func newCapabilityRegistry(t *testing.T) *channel.Registry {
	t.Helper()
	reg := channel.NewRegistry()
	reg.MustRegister(&fullAdapter{})
	reg.MustRegister(&bareAdapter{})
	return reg
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	if err := reg.Register(&bareAdapter{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(&bareAdapter{}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestParseChannelTypeNormalizes(t *testing.T) {
	t.Parallel()

	reg := newCapabilityRegistry(t)
	ct, err := reg.ParseChannelType("  Full-Test  ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ct != fullTestChannelType {
		t.Fatalf("parsed %q, want %q", ct, fullTestChannelType)
	}
	if _, err := reg.ParseChannelType("nope"); err == nil {
		t.Fatal("expected unknown type to fail")
	}
}

func TestCapabilityLookups(t *testing.T) {
	t.Parallel()

	reg := newCapabilityRegistry(t)

	if _, ok := reg.GetSender(fullTestChannelType); !ok {
		t.Fatal("full adapter should expose Sender")
	}
	if _, ok := reg.GetSender(bareTestChannelType); ok {
		t.Fatal("bare adapter should not expose Sender")
	}
	if _, ok := reg.GetReceiver(fullTestChannelType); !ok {
		t.Fatal("full adapter should expose Receiver")
	}
	if _, ok := reg.GetMentionSource(bareTestChannelType); ok {
		t.Fatal("bare adapter should not expose MentionSource")
	}
	if _, ok := reg.GetSenderVerifier(fullTestChannelType); !ok {
		t.Fatal("full adapter should expose SenderVerifier")
	}
	if _, ok := reg.GetOutboundSanitizer(bareTestChannelType); ok {
		t.Fatal("bare adapter should not expose OutboundSanitizer")
	}
	if _, ok := reg.GetThreadSupport(fullTestChannelType); !ok {
		t.Fatal("full adapter should expose ThreadSupport")
	}
	if _, ok := reg.GetSender(channel.ChannelType("unknown")); ok {
		t.Fatal("unknown type should expose nothing")
	}
}

func TestComputeThreadRootWithoutSupport(t *testing.T) {
	t.Parallel()

	reg := newCapabilityRegistry(t)
	if root, ok := reg.ComputeThreadRoot(bareTestChannelType, "x"); ok || root != "" {
		t.Fatalf("bare adapter ComputeThreadRoot = (%q, %v), want empty", root, ok)
	}
	root, ok := reg.ComputeThreadRoot(fullTestChannelType, "root-1")
	if !ok || root != "root-1" {
		t.Fatalf("ComputeThreadRoot = (%q, %v), want (root-1, true)", root, ok)
	}
}

func TestExtractThreadContextNeverNil(t *testing.T) {
	t.Parallel()

	reg := newCapabilityRegistry(t)
	if got := reg.ExtractThreadContext(fullTestChannelType, "x"); got == nil {
		t.Fatal("thread context must be non-nil even when the adapter returns nil")
	}
	if got := reg.ExtractThreadContext(bareTestChannelType, "x"); got == nil || len(got) != 0 {
		t.Fatalf("bare adapter context = %v, want empty map", got)
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	reg.MustRegister(&bareAdapter{})
	if !reg.Unregister(bareTestChannelType) {
		t.Fatal("expected unregister to succeed")
	}
	if reg.Unregister(bareTestChannelType) {
		t.Fatal("second unregister should report missing")
	}
	if _, ok := reg.Get(bareTestChannelType); ok {
		t.Fatal("adapter should be gone")
	}
}
