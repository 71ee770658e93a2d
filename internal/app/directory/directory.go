// Package directory caches the bidirectional mapping between conversations
// and chat threads. The durable store stays authoritative; the directory is
// rebuilt from it on startup and can be reconciled periodically.
package directory

import (
	"context"
	"fmt"
	"sync"

	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/logging"
	"smsrelay/internal/observability"
)

// Source lists the conversations that currently hold a thread handle.
type Source interface {
	ListThreadedConversations(ctx context.Context) ([]conversation.Conversation, error)
}

// Directory maps thread handles to conversation IDs and back.
// Both directions are installed under one write lock.
type Directory struct {
	mu             sync.RWMutex
	byThread       map[string]string
	byConversation map[string]conversation.ThreadHandle
	metrics        *observability.Metrics
	logger         logging.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithMetrics publishes the entry count to m.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Directory) { d.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Directory) { d.logger = logging.OrNop(logger) }
}

// New returns an empty directory.
func New(opts ...Option) *Directory {
	d := &Directory{
		byThread:       make(map[string]string),
		byConversation: make(map[string]conversation.ThreadHandle),
		logger:         logging.NewComponentLogger("ConversationDirectory"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// ResolveByThread returns the conversation bound to handle.
func (d *Directory) ResolveByThread(handle conversation.ThreadHandle) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conversationID, ok := d.byThread[handle.Key()]
	return conversationID, ok
}

// ResolveByConversation returns the thread bound to conversationID.
func (d *Directory) ResolveByConversation(conversationID string) (conversation.ThreadHandle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handle, ok := d.byConversation[conversationID]
	return handle, ok
}

// Remember installs both directions of the mapping. Callers must only pass
// handles that the store has already accepted.
func (d *Directory) Remember(conversationID string, handle conversation.ThreadHandle) {
	if conversationID == "" || handle.IsZero() {
		return
	}
	d.mu.Lock()
	d.installLocked(conversationID, handle)
	n := len(d.byConversation)
	d.mu.Unlock()
	d.metrics.SetDirectorySize(n)
}

func (d *Directory) installLocked(conversationID string, handle conversation.ThreadHandle) {
	if previous, ok := d.byConversation[conversationID]; ok && previous != handle {
		d.logger.Warn("Replacing cached thread %s for conversation %s with %s", previous.Key(), conversationID, handle.Key())
		delete(d.byThread, previous.Key())
	}
	d.byConversation[conversationID] = handle
	d.byThread[handle.Key()] = conversationID
}

// Rebuild merges every threaded conversation from source into the maps.
// Entries are never removed, so concurrent Remember calls survive a rebuild.
func (d *Directory) Rebuild(ctx context.Context, source Source) (int, error) {
	conversations, err := source.ListThreadedConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild directory: %w", err)
	}

	d.mu.Lock()
	loaded := 0
	for _, conv := range conversations {
		handle, ok := conv.Status().Handle()
		if !ok {
			continue
		}
		d.installLocked(conv.ID, handle)
		loaded++
	}
	n := len(d.byConversation)
	d.mu.Unlock()

	d.metrics.SetDirectorySize(n)
	d.logger.Info("Directory rebuilt: %d threaded conversations, %d entries", loaded, n)
	return loaded, nil
}

// Len returns the number of cached conversations.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byConversation)
}
