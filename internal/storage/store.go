// Package storage defines the persistence contract the hub depends
// on (§4.5) and two implementations: an in-memory store used when no
// DATABASE_URL is configured, and a SQLite-backed store for durable
// single-node deployments.
package storage

import "context"

// Store is the full persistence contract. The hub depends on this
// interface, never on a concrete backend.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	HealthCheck(ctx context.Context) error

	GetDocument(ctx context.Context, id string) (*Document, error)
	SaveDocument(ctx context.Context, id string, state map[string]interface{}) error
	UpdateDocument(ctx context.Context, id string, state map[string]interface{}) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, limit, offset int) ([]*Document, error)

	GetClock(ctx context.Context, docID string) (map[string]int64, error)
	UpdateClock(ctx context.Context, docID, clientID string, value int64) error
	MergeClock(ctx context.Context, docID string, clock map[string]int64) error

	SaveDelta(ctx context.Context, docID string, changes map[string]interface{}) error
	GetDeltas(ctx context.Context, docID string, limit int) ([]*DeltaRecord, error)

	SaveSession(ctx context.Context, id, userID string, metadata map[string]interface{}) error
	UpdateSession(ctx context.Context, id string, metadata map[string]interface{}) error
	DeleteSession(ctx context.Context, id string) error
	GetSessions(ctx context.Context, userID string) ([]*Session, error)

	SaveSnapshot(ctx context.Context, id, docID string, data map[string]interface{}) error
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	GetLatestSnapshot(ctx context.Context, docID string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, docID string, limit int) ([]*Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error

	SaveTextDocument(ctx context.Context, id, content string, crdtState []byte, clock map[string]int64) error
	GetTextDocument(ctx context.Context, id string) (*TextDocument, error)

	Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error)
}
