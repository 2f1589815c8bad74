package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used when DATABASE_URL is
// unset (the /health endpoint then reports storage: "memory-only").
type MemoryStore struct {
	mu        sync.Mutex
	connected bool

	documents map[string]*Document
	clocks    map[string]map[string]int64
	deltas    map[string][]*DeltaRecord
	sessions  map[string]*Session
	snapshots map[string]*Snapshot
	nextDelta int64
}

// NewMemoryStore constructs an empty, unconnected store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*Document),
		clocks:    make(map[string]map[string]int64),
		deltas:    make(map[string][]*DeltaRecord),
		sessions:  make(map[string]*Session),
		snapshots: make(map[string]*Snapshot),
	}
}

func (s *MemoryStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *MemoryStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *MemoryStore) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	if !s.IsConnected() {
		return &ConnectionError{Err: errNotConnected}
	}
	return nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	copyDoc := *doc
	copyDoc.State = cloneMap(doc.State)
	return &copyDoc, nil
}

func (s *MemoryStore) SaveDocument(ctx context.Context, id string, state map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()

	if existing, ok := s.documents[id]; ok {
		existing.State = cloneMap(state)
		existing.UpdatedAt = now
		return nil
	}
	s.documents[id] = &Document{
		ID:        id,
		State:     cloneMap(state),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, id string, state map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.documents[id]
	if !ok {
		return &NotFoundError{Resource: "document", ID: id}
	}
	existing.State = cloneMap(state)
	existing.Version++
	existing.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, limit, offset int) ([]*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*Document, 0, len(s.documents))
	for _, d := range s.documents {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]*Document, 0, end-offset)
	for _, d := range all[offset:end] {
		copyDoc := *d
		copyDoc.State = cloneMap(d.State)
		out = append(out, &copyDoc)
	}
	return out, nil
}

func (s *MemoryStore) GetClock(ctx context.Context, docID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clock := s.clocks[docID]
	out := make(map[string]int64, len(clock))
	for k, v := range clock {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) UpdateClock(ctx context.Context, docID, clientID string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clock, ok := s.clocks[docID]
	if !ok {
		clock = make(map[string]int64)
		s.clocks[docID] = clock
	}
	clock[clientID] = value
	return nil
}

func (s *MemoryStore) MergeClock(ctx context.Context, docID string, incoming map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clock, ok := s.clocks[docID]
	if !ok {
		clock = make(map[string]int64)
		s.clocks[docID] = clock
	}
	for client, value := range incoming {
		if existing, ok := clock[client]; !ok || value > existing {
			clock[client] = value
		}
	}
	return nil
}

func (s *MemoryStore) SaveDelta(ctx context.Context, docID string, changes map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDelta++
	s.deltas[docID] = append(s.deltas[docID], &DeltaRecord{
		ID:        s.nextDelta,
		DocID:     docID,
		Changes:   cloneMap(changes),
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) GetDeltas(ctx context.Context, docID string, limit int) ([]*DeltaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.deltas[docID]
	out := make([]*DeltaRecord, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, id, userID string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &Session{ID: id, UserID: userID, LastSeen: time.Now(), Metadata: cloneMap(metadata)}
	return nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, id string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return &NotFoundError{Resource: "session", ID: id}
	}
	sess.LastSeen = time.Now()
	if metadata != nil {
		sess.Metadata = cloneMap(metadata)
	}
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) GetSessions(ctx context.Context, userID string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			copySess := *sess
			out = append(out, &copySess)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, id, docID string, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = &Snapshot{ID: id, DocID: docID, Data: cloneMap(data), CreatedAt: time.Now()}
	return nil
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, nil
	}
	copySnap := *snap
	return &copySnap, nil
}

func (s *MemoryStore) GetLatestSnapshot(ctx context.Context, docID string) (*Snapshot, error) {
	list, _ := s.ListSnapshots(ctx, docID, 1)
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, docID string, limit int) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matching []*Snapshot
	for _, snap := range s.snapshots {
		if snap.DocID == docID {
			matching = append(matching, snap)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].CreatedAt.After(matching[j].CreatedAt) })

	if limit > 0 && len(matching) > limit {
		matching = matching[:limit]
	}
	out := make([]*Snapshot, len(matching))
	for i, snap := range matching {
		copySnap := *snap
		out[i] = &copySnap
	}
	return out, nil
}

func (s *MemoryStore) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
	return nil
}

func (s *MemoryStore) SaveTextDocument(ctx context.Context, id, content string, crdtState []byte, clock map[string]int64) error {
	clockCopy := make(map[string]interface{}, len(clock))
	for k, v := range clock {
		clockCopy[k] = v
	}
	state := map[string]interface{}{
		"type":    textDocumentEnvelopeType,
		"content": content,
		"crdt":    crdtState,
		"clock":   clockCopy,
	}
	return s.SaveDocument(ctx, id, state)
}

func (s *MemoryStore) GetTextDocument(ctx context.Context, id string) (*TextDocument, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	if doc.State["type"] != textDocumentEnvelopeType {
		return nil, nil
	}
	content, _ := doc.State["content"].(string)
	crdtState, _ := doc.State["crdt"].([]byte)
	clock := make(map[string]int64)
	if raw, ok := doc.State["clock"].(map[string]interface{}); ok {
		for k, v := range raw {
			switch n := v.(type) {
			case int64:
				clock[k] = n
			case float64:
				clock[k] = int64(n)
			}
		}
	}
	return &TextDocument{ID: id, Content: content, CRDTState: crdtState, Clock: clock}, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var result CleanupResult

	if opts.SessionMaxAge > 0 {
		for id, sess := range s.sessions {
			if now.Sub(sess.LastSeen) > opts.SessionMaxAge {
				delete(s.sessions, id)
				result.SessionsDeleted++
			}
		}
	}

	if opts.DeltaMaxAge > 0 {
		for docID, records := range s.deltas {
			var kept []*DeltaRecord
			for _, rec := range records {
				if now.Sub(rec.CreatedAt) > opts.DeltaMaxAge {
					result.DeltasDeleted++
					continue
				}
				kept = append(kept, rec)
			}
			s.deltas[docID] = kept
		}
	}

	if opts.SnapshotKeepLatest > 0 || opts.SnapshotMaxAge > 0 {
		byDoc := make(map[string][]*Snapshot)
		for _, snap := range s.snapshots {
			byDoc[snap.DocID] = append(byDoc[snap.DocID], snap)
		}
		for _, list := range byDoc {
			sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
			for rank, snap := range list {
				tooOld := opts.SnapshotMaxAge > 0 && now.Sub(snap.CreatedAt) > opts.SnapshotMaxAge
				tooDeep := opts.SnapshotKeepLatest > 0 && rank >= opts.SnapshotKeepLatest
				if tooOld || tooDeep {
					delete(s.snapshots, snap.ID)
					result.SnapshotsDeleted++
				}
			}
		}
	}

	return result, nil
}
