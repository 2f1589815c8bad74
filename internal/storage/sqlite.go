package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists documents, vector clocks, deltas, sessions, and
// snapshots in a SQLite database, opened the way the teacher opens its
// catalog database: sql.Open("sqlite3", dsn) (go/consumer/app.go).
type SQLiteStore struct {
	dsn             string
	poolMin, poolMax int
	db              *sql.DB
}

// NewSQLiteStore constructs a store bound to dsn without opening it;
// call Connect to open the pool and run the schema migration. poolMin
// and poolMax map to DATABASE_POOL_MIN/MAX (§6) via
// db.SetMaxIdleConns/SetMaxOpenConns.
func NewSQLiteStore(dsn string, poolMin, poolMax int) *SQLiteStore {
	return &SQLiteStore{dsn: dsn, poolMin: poolMin, poolMax: poolMax}
}

func (s *SQLiteStore) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.dsn)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	if s.poolMax > 0 {
		db.SetMaxOpenConns(s.poolMax)
	}
	if s.poolMin > 0 {
		db.SetMaxIdleConns(s.poolMin)
	}
	if err := db.PingContext(ctx); err != nil {
		return &ConnectionError{Err: err}
	}
	if err := Migrate(ctx, db); err != nil {
		return &ConnectionError{Err: err}
	}
	s.db = db
	return nil
}

// busyRetryLimit bounds the retries around a write that hits SQLite's
// "database is locked"/SQLITE_BUSY condition under pool pressure,
// supplementing the distillation with the pool-exhaustion backoff
// original_source/storage/postgres.py applies around save/update.
const busyRetryLimit = 3

func withBusyRetry(f func() error) error {
	var err error
	delay := 10 * time.Millisecond
	for attempt := 0; attempt < busyRetryLimit; attempt++ {
		if err = f(); err == nil || !isBusyErr(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

func isBusyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

func (s *SQLiteStore) Disconnect(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) IsConnected() bool { return s.db != nil }

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return &ConnectionError{Err: errNotConnected}
	}
	if err := s.db.PingContext(ctx); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

func marshalState(state map[string]interface{}) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalState(raw string) (map[string]interface{}, error) {
	state := make(map[string]interface{})
	if raw == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, version, created_at, updated_at FROM documents WHERE id = ?`, id)

	var (
		docID             string
		stateJSON         string
		version           int
		createdAt, updatedAt string
	)
	if err := row.Scan(&docID, &stateJSON, &version, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &QueryError{Op: "GetDocument", Err: err}
	}
	state, err := unmarshalState(stateJSON)
	if err != nil {
		return nil, &QueryError{Op: "GetDocument", Err: err}
	}
	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	updated, _ := time.Parse(time.RFC3339Nano, updatedAt)
	return &Document{ID: docID, State: state, Version: version, CreatedAt: created, UpdatedAt: updated}, nil
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, id string, state map[string]interface{}) error {
	stateJSON, err := marshalState(state)
	if err != nil {
		return &QueryError{Op: "SaveDocument", Err: err}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	err = withBusyRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO documents (id, state, version, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
		`, id, stateJSON, now, now)
		return err
	})
	if err != nil {
		return &QueryError{Op: "SaveDocument", Err: err}
	}
	return nil
}

func (s *SQLiteStore) UpdateDocument(ctx context.Context, id string, state map[string]interface{}) error {
	stateJSON, err := marshalState(state)
	if err != nil {
		return &QueryError{Op: "UpdateDocument", Err: err}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var rows int64
	err = withBusyRetry(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE documents SET state = ?, version = version + 1, updated_at = ? WHERE id = ?
		`, stateJSON, now, id)
		if err != nil {
			return err
		}
		rows, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return &QueryError{Op: "UpdateDocument", Err: err}
	}
	if rows == 0 {
		return &NotFoundError{Resource: "document", ID: id}
	}
	return nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return &QueryError{Op: "DeleteDocument", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, limit, offset int) ([]*Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, version, created_at, updated_at FROM documents
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, &QueryError{Op: "ListDocuments", Err: err}
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var (
			id, stateJSON, createdAt, updatedAt string
			version                             int
		)
		if err := rows.Scan(&id, &stateJSON, &version, &createdAt, &updatedAt); err != nil {
			return nil, &QueryError{Op: "ListDocuments", Err: err}
		}
		state, err := unmarshalState(stateJSON)
		if err != nil {
			return nil, &QueryError{Op: "ListDocuments", Err: err}
		}
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		updated, _ := time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, &Document{ID: id, State: state, Version: version, CreatedAt: created, UpdatedAt: updated})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetClock(ctx context.Context, docID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT client_id, value FROM vector_clocks WHERE doc_id = ?`, docID)
	if err != nil {
		return nil, &QueryError{Op: "GetClock", Err: err}
	}
	defer rows.Close()

	clock := make(map[string]int64)
	for rows.Next() {
		var clientID string
		var value int64
		if err := rows.Scan(&clientID, &value); err != nil {
			return nil, &QueryError{Op: "GetClock", Err: err}
		}
		clock[clientID] = value
	}
	return clock, rows.Err()
}

func (s *SQLiteStore) UpdateClock(ctx context.Context, docID, clientID string, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_clocks (doc_id, client_id, value) VALUES (?, ?, ?)
		ON CONFLICT(doc_id, client_id) DO UPDATE SET value = excluded.value
	`, docID, clientID, value)
	if err != nil {
		return &QueryError{Op: "UpdateClock", Err: err}
	}
	return nil
}

func (s *SQLiteStore) MergeClock(ctx context.Context, docID string, incoming map[string]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &QueryError{Op: "MergeClock", Err: err}
	}
	defer tx.Rollback()

	for clientID, value := range incoming {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vector_clocks (doc_id, client_id, value) VALUES (?, ?, ?)
			ON CONFLICT(doc_id, client_id) DO UPDATE SET value = MAX(vector_clocks.value, excluded.value)
		`, docID, clientID, value); err != nil {
			return &QueryError{Op: "MergeClock", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &QueryError{Op: "MergeClock", Err: err}
	}
	return nil
}

func (s *SQLiteStore) SaveDelta(ctx context.Context, docID string, changes map[string]interface{}) error {
	changesJSON, err := marshalState(changes)
	if err != nil {
		return &QueryError{Op: "SaveDelta", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deltas (doc_id, changes, created_at) VALUES (?, ?, ?)
	`, docID, changesJSON, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &QueryError{Op: "SaveDelta", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetDeltas(ctx context.Context, docID string, limit int) ([]*DeltaRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, changes, created_at FROM deltas
		WHERE doc_id = ? ORDER BY id DESC LIMIT ?
	`, docID, limit)
	if err != nil {
		return nil, &QueryError{Op: "GetDeltas", Err: err}
	}
	defer rows.Close()

	var out []*DeltaRecord
	for rows.Next() {
		var (
			id                 int64
			docIDCol, changesJSON, createdAt string
		)
		if err := rows.Scan(&id, &docIDCol, &changesJSON, &createdAt); err != nil {
			return nil, &QueryError{Op: "GetDeltas", Err: err}
		}
		changes, err := unmarshalState(changesJSON)
		if err != nil {
			return nil, &QueryError{Op: "GetDeltas", Err: err}
		}
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &DeltaRecord{ID: id, DocID: docIDCol, Changes: changes, CreatedAt: created})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, id, userID string, metadata map[string]interface{}) error {
	metaJSON, err := marshalState(metadata)
	if err != nil {
		return &QueryError{Op: "SaveSession", Err: err}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, last_seen, metadata) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seen = excluded.last_seen, metadata = excluded.metadata
	`, id, userID, now, metaJSON)
	if err != nil {
		return &QueryError{Op: "SaveSession", Err: err}
	}
	return nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, metadata map[string]interface{}) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	var err error
	if metadata != nil {
		metaJSON, merr := marshalState(metadata)
		if merr != nil {
			return &QueryError{Op: "UpdateSession", Err: merr}
		}
		res, err = s.db.ExecContext(ctx, `UPDATE sessions SET last_seen = ?, metadata = ? WHERE id = ?`, now, metaJSON, id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE sessions SET last_seen = ? WHERE id = ?`, now, id)
	}
	if err != nil {
		return &QueryError{Op: "UpdateSession", Err: err}
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return &NotFoundError{Resource: "session", ID: id}
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return &QueryError{Op: "DeleteSession", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetSessions(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, last_seen, metadata FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, &QueryError{Op: "GetSessions", Err: err}
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var id, uid, lastSeen, metaJSON string
		if err := rows.Scan(&id, &uid, &lastSeen, &metaJSON); err != nil {
			return nil, &QueryError{Op: "GetSessions", Err: err}
		}
		meta, err := unmarshalState(metaJSON)
		if err != nil {
			return nil, &QueryError{Op: "GetSessions", Err: err}
		}
		seen, _ := time.Parse(time.RFC3339Nano, lastSeen)
		out = append(out, &Session{ID: id, UserID: uid, LastSeen: seen, Metadata: meta})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, id, docID string, data map[string]interface{}) error {
	dataJSON, err := marshalState(data)
	if err != nil {
		return &QueryError{Op: "SaveSnapshot", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, doc_id, data, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, id, docID, dataJSON, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &QueryError{Op: "SaveSnapshot", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, doc_id, data, created_at FROM snapshots WHERE id = ?`, id)
	return scanSnapshot(row)
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var id, docID, dataJSON, createdAt string
	if err := row.Scan(&id, &docID, &dataJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &QueryError{Op: "GetSnapshot", Err: err}
	}
	data, err := unmarshalState(dataJSON)
	if err != nil {
		return nil, &QueryError{Op: "GetSnapshot", Err: err}
	}
	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	return &Snapshot{ID: id, DocID: docID, Data: data, CreatedAt: created}, nil
}

func (s *SQLiteStore) GetLatestSnapshot(ctx context.Context, docID string) (*Snapshot, error) {
	list, err := s.ListSnapshots(ctx, docID, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, docID string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, data, created_at FROM snapshots
		WHERE doc_id = ? ORDER BY created_at DESC LIMIT ?
	`, docID, limit)
	if err != nil {
		return nil, &QueryError{Op: "ListSnapshots", Err: err}
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var id, doc, dataJSON, createdAt string
		if err := rows.Scan(&id, &doc, &dataJSON, &createdAt); err != nil {
			return nil, &QueryError{Op: "ListSnapshots", Err: err}
		}
		data, err := unmarshalState(dataJSON)
		if err != nil {
			return nil, &QueryError{Op: "ListSnapshots", Err: err}
		}
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &Snapshot{ID: id, DocID: doc, Data: data, CreatedAt: created})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return &QueryError{Op: "DeleteSnapshot", Err: err}
	}
	return nil
}

func (s *SQLiteStore) SaveTextDocument(ctx context.Context, id, content string, crdtState []byte, clock map[string]int64) error {
	clockMap := make(map[string]interface{}, len(clock))
	for k, v := range clock {
		clockMap[k] = v
	}
	state := map[string]interface{}{
		"type":    textDocumentEnvelopeType,
		"content": content,
		"crdt":    crdtState,
		"clock":   clockMap,
	}
	return s.SaveDocument(ctx, id, state)
}

func (s *SQLiteStore) GetTextDocument(ctx context.Context, id string) (*TextDocument, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	if doc.State["type"] != textDocumentEnvelopeType {
		return nil, nil
	}
	content, _ := doc.State["content"].(string)
	var crdtState []byte
	switch v := doc.State["crdt"].(type) {
	case string:
		crdtState = []byte(v)
	case []byte:
		crdtState = v
	}
	clock := make(map[string]int64)
	if raw, ok := doc.State["clock"].(map[string]interface{}); ok {
		for k, v := range raw {
			if n, ok := v.(float64); ok {
				clock[k] = int64(n)
			}
		}
	}
	return &TextDocument{ID: id, Content: content, CRDTState: crdtState, Clock: clock}, nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CleanupResult{}, &QueryError{Op: "Cleanup", Err: err}
	}
	defer tx.Rollback()

	var result CleanupResult
	now := time.Now().UTC()

	if opts.SessionMaxAge > 0 {
		cutoff := now.Add(-opts.SessionMaxAge).Format(time.RFC3339Nano)
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen < ?`, cutoff)
		if err != nil {
			return CleanupResult{}, &QueryError{Op: "Cleanup(sessions)", Err: err}
		}
		n, _ := res.RowsAffected()
		result.SessionsDeleted = int(n)
	}

	if opts.DeltaMaxAge > 0 {
		cutoff := now.Add(-opts.DeltaMaxAge).Format(time.RFC3339Nano)
		res, err := tx.ExecContext(ctx, `DELETE FROM deltas WHERE created_at < ?`, cutoff)
		if err != nil {
			return CleanupResult{}, &QueryError{Op: "Cleanup(deltas)", Err: err}
		}
		n, _ := res.RowsAffected()
		result.DeltasDeleted = int(n)
	}

	if opts.SnapshotKeepLatest > 0 || opts.SnapshotMaxAge > 0 {
		ageCutoff := now.Add(-opts.SnapshotMaxAge).Format(time.RFC3339Nano)
		res, err := tx.ExecContext(ctx, `
			DELETE FROM snapshots
			WHERE (? > 0 AND created_at < ?)
			   OR (? > 0 AND id IN (
			        SELECT id FROM (
			            SELECT id, ROW_NUMBER() OVER (
			                PARTITION BY doc_id ORDER BY created_at DESC
			            ) AS rnk
			            FROM snapshots
			        ) ranked WHERE rnk > ?
			   ))
		`, boolToInt(opts.SnapshotMaxAge > 0), ageCutoff, opts.SnapshotKeepLatest, opts.SnapshotKeepLatest)
		if err != nil {
			return CleanupResult{}, &QueryError{Op: "Cleanup(snapshots)", Err: err}
		}
		n, _ := res.RowsAffected()
		result.SnapshotsDeleted = int(n)
	}

	if err := tx.Commit(); err != nil {
		return CleanupResult{}, &QueryError{Op: "Cleanup", Err: err}
	}
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
