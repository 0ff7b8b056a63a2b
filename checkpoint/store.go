// Package checkpoint persists conversation transcripts to SQLite so a
// conversation survives process restarts. One checkpoint is written per
// completed turn; Resume loads the newest one for a conversation.
package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bernardlabs/bernard/agent"
)

// ErrNotFound is returned when no checkpoint exists for a conversation.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is one saved conversation snapshot.
type Checkpoint struct {
	ID             uuid.UUID
	ConversationID string
	TurnID         string
	Status         string
	CreatedAt      time.Time
	MessageCount   int
	TotalTokens    int
	ByteSize       int64
	Transcript     []agent.Message // empty for List results
}

// Store persists checkpoints.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the checkpoint database at path. ":memory:" gives
// an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite misbehaves with concurrent writers on one connection
	// pool; a single connection sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			byte_size INTEGER NOT NULL,
			transcript_gz BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_conversation
			ON checkpoints(conversation_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes one checkpoint for the turn.
func (s *Store) Save(ctx context.Context, transcript []agent.Message, result *agent.TurnResult) (*Checkpoint, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	encoded, err := json.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(encoded); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	compressed := buf.Bytes()

	cp := &Checkpoint{
		ID:             id,
		ConversationID: result.ConversationID,
		TurnID:         result.TurnID,
		Status:         string(result.Status),
		CreatedAt:      time.Now().UTC(),
		MessageCount:   len(transcript),
		TotalTokens:    result.Usage.TotalTokens,
		ByteSize:       int64(len(compressed)),
		Transcript:     transcript,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints
			(id, conversation_id, turn_id, status, created_at, message_count, total_tokens, byte_size, transcript_gz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), cp.ConversationID, cp.TurnID, cp.Status,
		cp.CreatedAt.Format(time.RFC3339Nano), cp.MessageCount, cp.TotalTokens, len(compressed), compressed)
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	s.logger.Debug("checkpoint saved",
		"id", id.String()[:8],
		"conversation_id", cp.ConversationID,
		"messages", cp.MessageCount,
		"bytes", cp.ByteSize,
	)
	return cp, nil
}

// Latest returns the newest checkpoint for a conversation, with transcript.
func (s *Store) Latest(ctx context.Context, conversationID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, turn_id, status, created_at, message_count, total_tokens, byte_size, transcript_gz
		FROM checkpoints
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, conversationID)
	return scanFull(row)
}

// List returns recent checkpoints across all conversations, newest first,
// without transcripts.
func (s *Store) List(ctx context.Context, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, turn_id, status, created_at, message_count, total_tokens, byte_size
		FROM checkpoints
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var idStr, createdStr string
		if err := rows.Scan(&idStr, &cp.ConversationID, &cp.TurnID, &cp.Status,
			&createdStr, &cp.MessageCount, &cp.TotalTokens, &cp.ByteSize); err != nil {
			return nil, err
		}
		cp.ID, _ = uuid.Parse(idStr)
		cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// Prune removes checkpoints older than the cutoff, keeping at least
// minKeep of the newest regardless of age. Returns how many were deleted.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration, minKeep int) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkpoints`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	if total <= minKeep {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE id IN (
			SELECT id FROM checkpoints
			WHERE created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, cutoff.Format(time.RFC3339Nano), total-minKeep)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return int(deleted), nil
}

// Hook returns a TurnHook that checkpoints every terminal turn.
func (s *Store) Hook() agent.TurnHook {
	return func(ctx context.Context, transcript []agent.Message, result *agent.TurnResult) error {
		_, err := s.Save(ctx, transcript, result)
		return err
	}
}

// Resume loads the newest checkpoint for a conversation and returns the
// loop options that restore it.
func (s *Store) Resume(ctx context.Context, conversationID string) ([]agent.LoopOption, error) {
	cp, err := s.Latest(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return []agent.LoopOption{
		agent.WithConversationID(cp.ConversationID),
		agent.WithTranscript(cp.Transcript),
	}, nil
}

func scanFull(row *sql.Row) (*Checkpoint, error) {
	var cp Checkpoint
	var idStr, createdStr string
	var compressed []byte

	err := row.Scan(&idStr, &cp.ConversationID, &cp.TurnID, &cp.Status,
		&createdStr, &cp.MessageCount, &cp.TotalTokens, &cp.ByteSize, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cp.ID, _ = uuid.Parse(idStr)
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)

	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	decoded, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if err := json.Unmarshal(decoded, &cp.Transcript); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	return &cp, nil
}
