// Package pubsub defines the distributed-coordination contract (§4.6)
// and two implementations: an etcd-backed adapter for clustered
// deployments, and an in-process adapter for single-instance mode.
package pubsub

import "context"

// Handler receives a published payload for a channel.
type Handler func(payload map[string]interface{})

// PresenceEvent is the kind of presence lifecycle announcement.
type PresenceEvent string

const (
	PresenceOnline  PresenceEvent = "online"
	PresenceOffline PresenceEvent = "offline"
)

// PresenceHandler receives server lifecycle announcements.
type PresenceHandler func(event PresenceEvent, serverID string, metadata map[string]interface{})

// Stats reports adapter-level statistics for the health endpoint and
// diagnostics.
type Stats struct {
	Connected          bool
	SubscribedChannels int
	RegisteredHandlers int
}

// PubSub is the contract the hub depends on for cross-instance
// convergence (§4.6). Channel names are the adapter's concern; callers
// pass bare identifiers (a document id, or none for broadcast/presence)
// and the adapter applies its configured prefix.
type PubSub interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	PublishDoc(ctx context.Context, docID string, payload map[string]interface{}) error
	SubscribeDoc(ctx context.Context, docID string, handler Handler) error
	UnsubscribeDoc(ctx context.Context, docID string) error

	PublishBroadcast(ctx context.Context, payload map[string]interface{}) error
	SubscribeBroadcast(ctx context.Context, handler Handler) error

	AnnouncePresence(ctx context.Context, serverID string, metadata map[string]interface{}) error
	AnnounceShutdown(ctx context.Context, serverID string) error
	SubscribePresence(ctx context.Context, handler PresenceHandler) error

	Stats() Stats
}
