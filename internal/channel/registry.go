package channel

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds all registered channel adapters and provides capability
// lookups. It must be created via NewRegistry and passed explicitly to
// components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ChannelType]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[ChannelType]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	ct := normalizeChannelType(adapter.Type().String())
	if ct == "" {
		return fmt.Errorf("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Unregister removes a channel type from the registry.
func (r *Registry) Unregister(channelType ChannelType) bool {
	ct := normalizeChannelType(channelType.String())
	if ct == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[ct]; !exists {
		return false
	}
	delete(r.adapters, ct)
	return true
}

// Get returns the adapter for the given channel type.
func (r *Registry) Get(channelType ChannelType) (Adapter, bool) {
	ct := normalizeChannelType(channelType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[ct]
	return adapter, ok
}

// Types returns all registered channel types.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]ChannelType, 0, len(r.adapters))
	for ct := range r.adapters {
		items = append(items, ct)
	}
	return items
}

// GetDescriptor returns the descriptor for the given channel type.
func (r *Registry) GetDescriptor(channelType ChannelType) (Descriptor, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return Descriptor{}, false
	}
	return adapter.Descriptor(), true
}

// ParseChannelType validates and normalizes a raw string into a registered ChannelType.
func (r *Registry) ParseChannelType(raw string) (ChannelType, error) {
	ct := normalizeChannelType(raw)
	if ct == "" {
		return "", fmt.Errorf("unsupported channel type: %s", raw)
	}
	if _, ok := r.Get(ct); !ok {
		return "", fmt.Errorf("unsupported channel type: %s", raw)
	}
	return ct, nil
}

// GetSender returns the Sender for the given channel type, or nil if unsupported.
func (r *Registry) GetSender(channelType ChannelType) (Sender, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	sender, ok := adapter.(Sender)
	return sender, ok
}

// GetReceiver returns the Receiver for the given channel type, or nil if unsupported.
func (r *Registry) GetReceiver(channelType ChannelType) (Receiver, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	receiver, ok := adapter.(Receiver)
	return receiver, ok
}

// GetMentionSource returns the MentionSource for the given channel type, or nil if unsupported.
func (r *Registry) GetMentionSource(channelType ChannelType) (MentionSource, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	source, ok := adapter.(MentionSource)
	return source, ok
}

// GetSenderVerifier returns the SenderVerifier for the given channel type, or nil if unsupported.
func (r *Registry) GetSenderVerifier(channelType ChannelType) (SenderVerifier, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	verifier, ok := adapter.(SenderVerifier)
	return verifier, ok
}

// GetOutboundSanitizer returns the OutboundSanitizer for the given channel type, or nil if unsupported.
func (r *Registry) GetOutboundSanitizer(channelType ChannelType) (OutboundSanitizer, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	sanitizer, ok := adapter.(OutboundSanitizer)
	return sanitizer, ok
}

// GetThreadSupport returns the ThreadSupport for the given channel type, or nil if unsupported.
func (r *Registry) GetThreadSupport(channelType ChannelType) (ThreadSupport, bool) {
	adapter, ok := r.Get(channelType)
	if !ok {
		return nil, false
	}
	threads, ok := adapter.(ThreadSupport)
	return threads, ok
}

// ComputeThreadRoot resolves the thread root for a raw payload, if the channel
// supports threading. Channels without ThreadSupport report no thread root.
func (r *Registry) ComputeThreadRoot(channelType ChannelType, raw any) (string, bool) {
	threads, ok := r.GetThreadSupport(channelType)
	if !ok || !threads.SupportsThreads() {
		return "", false
	}
	return threads.ComputeThreadRoot(raw)
}

// ExtractThreadContext resolves thread context for a raw payload. Channels
// without ThreadSupport report an empty context.
func (r *Registry) ExtractThreadContext(channelType ChannelType, raw any) map[string]any {
	threads, ok := r.GetThreadSupport(channelType)
	if !ok || !threads.SupportsThreads() {
		return map[string]any{}
	}
	ctxMap := threads.ExtractThreadContext(raw)
	if ctxMap == nil {
		return map[string]any{}
	}
	return ctxMap
}

func normalizeChannelType(raw string) ChannelType {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	if normalized == "" {
		return ""
	}
	return ChannelType(normalized)
}
