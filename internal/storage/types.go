package storage

import "time"

// Document is the persisted form of a document's in-memory state.
type Document struct {
	ID        string
	State     map[string]interface{}
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeltaRecord is one entry of a document's audit trail.
type DeltaRecord struct {
	ID        int64
	DocID     string
	Changes   map[string]interface{}
	CreatedAt time.Time
}

// Session is a persisted client session.
type Session struct {
	ID       string
	UserID   string
	LastSeen time.Time
	Metadata map[string]interface{}
}

// Snapshot is a point-in-time capture of a document.
type Snapshot struct {
	ID        string
	DocID     string
	Data      map[string]interface{}
	CreatedAt time.Time
}

// TextDocument is a CRDT-backed text document, stored inside the
// generic document table under a {type: "text", ...} envelope (§4.5,
// §9's open question on the text-document backend).
type TextDocument struct {
	ID        string
	Content   string
	CRDTState []byte
	Clock     map[string]int64
}

const textDocumentEnvelopeType = "text"

// CleanupOptions parameterizes the retention sweep of §4.5.
type CleanupOptions struct {
	SessionMaxAge      time.Duration // H hours
	DeltaMaxAge        time.Duration // D days
	SnapshotKeepLatest int           // K: newest-first rank kept per document
	SnapshotMaxAge     time.Duration // S days
}

// CleanupResult reports how many rows were removed in each category.
type CleanupResult struct {
	SessionsDeleted  int
	DeltasDeleted    int
	SnapshotsDeleted int
}
