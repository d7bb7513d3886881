package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Session holds a reusable context blob and a persistent memory document.
type Session struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Context       string          `json:"-"`
	ContextSize   int             `json:"context_size"`
	ContextSHA256 string          `json:"context_sha256"`
	Memory        json.RawMessage `json:"memory"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CreateSession stores a new session with its context metadata.
func (s *Store) CreateSession(ctx context.Context, name, contextBlob string) (*Session, error) {
	sum := sha256.Sum256([]byte(contextBlob))
	now := time.Now().UTC()
	sess := &Session{
		ID:            uuid.NewString(),
		Name:          name,
		Context:       contextBlob,
		ContextSize:   len(contextBlob),
		ContextSHA256: hex.EncodeToString(sum[:]),
		Memory:        json.RawMessage("{}"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, context, context_size, context_sha256, memory, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Context, sess.ContextSize, sess.ContextSHA256,
		string(sess.Memory), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession loads a session including its context blob.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, context, context_size, context_sha256, memory, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var memory string
	err := row.Scan(&sess.ID, &sess.Name, &sess.Context, &sess.ContextSize,
		&sess.ContextSHA256, &memory, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.Memory = json.RawMessage(memory)
	return &sess, nil
}

// ListSessions returns all sessions without their context blobs.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, context_size, context_sha256, memory, created_at, updated_at
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var memory string
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.ContextSize,
			&sess.ContextSHA256, &memory, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Memory = json.RawMessage(memory)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// UpdateSession changes a session's name and/or context. Nil fields are
// left as they are; a new context refreshes the size and sha256 metadata.
func (s *Store) UpdateSession(ctx context.Context, id string, name, contextBlob *string) (*Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		sess.Name = *name
	}
	if contextBlob != nil {
		sum := sha256.Sum256([]byte(*contextBlob))
		sess.Context = *contextBlob
		sess.ContextSize = len(*contextBlob)
		sess.ContextSHA256 = hex.EncodeToString(sum[:])
	}
	sess.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET name = ?, context = ?, context_size = ?, context_sha256 = ?, updated_at = ?
		WHERE id = ?`,
		sess.Name, sess.Context, sess.ContextSize, sess.ContextSHA256, sess.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return sess, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Memory loads the session's memory document as a map.
func (s *Store) Memory(ctx context.Context, sessionID string) (map[string]any, error) {
	doc, err := s.memoryDoc(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("decode memory for session %s: %w", sessionID, err)
	}
	return m, nil
}

// MergeMemory writes the given keys into the session's memory document.
// Keys already present are overwritten (last writer wins); keys absent from
// the update are kept.
func (s *Store) MergeMemory(ctx context.Context, sessionID string, memory map[string]any) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.memoryDoc(ctx, sessionID)
	if err != nil {
		return err
	}
	for k, v := range memory {
		doc, err = sjson.Set(doc, escapeKey(k), v)
		if err != nil {
			return fmt.Errorf("merge memory key %q: %w", k, err)
		}
	}
	return s.writeMemoryDoc(ctx, sessionID, doc)
}

// MemoryKey reads one key from the session's memory. Returns ErrNotFound
// when the key is absent.
func (s *Store) MemoryKey(ctx context.Context, sessionID, key string) (any, error) {
	doc, err := s.memoryDoc(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res := gjson.Get(doc, escapeKey(key))
	if !res.Exists() {
		return nil, ErrNotFound
	}
	return res.Value(), nil
}

// SetMemoryKey writes one key into the session's memory.
func (s *Store) SetMemoryKey(ctx context.Context, sessionID, key string, value any) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.memoryDoc(ctx, sessionID)
	if err != nil {
		return err
	}
	doc, err = sjson.Set(doc, escapeKey(key), value)
	if err != nil {
		return fmt.Errorf("set memory key %q: %w", key, err)
	}
	return s.writeMemoryDoc(ctx, sessionID, doc)
}

// DeleteMemoryKey removes one key from the session's memory.
func (s *Store) DeleteMemoryKey(ctx context.Context, sessionID, key string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.memoryDoc(ctx, sessionID)
	if err != nil {
		return err
	}
	if !gjson.Get(doc, escapeKey(key)).Exists() {
		return ErrNotFound
	}
	doc, err = sjson.Delete(doc, escapeKey(key))
	if err != nil {
		return fmt.Errorf("delete memory key %q: %w", key, err)
	}
	return s.writeMemoryDoc(ctx, sessionID, doc)
}

// ClearMemory resets the session's memory document.
func (s *Store) ClearMemory(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.writeMemoryDoc(ctx, sessionID, "{}")
}

func (s *Store) memoryDoc(ctx context.Context, sessionID string) (string, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT memory FROM sessions WHERE id = ?`, sessionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read memory for session %s: %w", sessionID, err)
	}
	return doc, nil
}

func (s *Store) writeMemoryDoc(ctx context.Context, sessionID, doc string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET memory = ?, updated_at = ? WHERE id = ?`,
		doc, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("write memory for session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// escapeKey treats a memory key as a literal top-level name rather than a
// JSON path.
func escapeKey(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(k)
}
