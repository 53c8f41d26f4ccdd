// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/cjct-dev/HexAI/internal/model"
	"github.com/cjct-dev/HexAI/internal/util"
)

// ErrNotFound is returned when no conversation matches an id.
var ErrNotFound = errors.New("conversation not found")

// ErrAmbiguousID is returned when an id prefix matches several conversations.
var ErrAmbiguousID = errors.New("conversation id prefix is ambiguous")

const (
	// DefaultListLimit caps List and Search when no limit is given.
	DefaultListLimit = 50

	summaryLen = 50
)

// =============================================================================
// STORED CONVERSATION TYPE
// =============================================================================

// Conversation is an archived chat.
type Conversation struct {
	ID        string               `json:"id"`
	Summary   string               `json:"summary"`
	Model     string               `json:"model"`
	Stats     model.InferenceStats `json:"stats"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Messages  []model.Message      `json:"messages"`
}

// ConversationMeta is a listing row.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// ShortID returns the first 8 characters of the id, enough for /open.
func (m ConversationMeta) ShortID() string {
	if len(m.ID) > 8 {
		return m.ID[:8]
	}
	return m.ID
}

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite conversation archive. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the archive at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	log.Debug().Str("path", path).Msg("conversation archive opened")
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes conv, replacing any earlier version with the same id. A new
// id and summary are assigned when missing. Returns the id.
func (s *Store) Save(ctx context.Context, conv *Conversation) (string, error) {
	if len(conv.Messages) == 0 {
		return "", errors.New("cannot save an empty conversation")
	}

	now := time.Now()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	if conv.Summary == "" {
		conv.Summary = generateSummary(conv.Messages)
	}

	stats, err := json.Marshal(conv.Stats)
	if err != nil {
		return "", fmt.Errorf("failed to encode stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, summary, model, stats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary = excluded.summary,
			model = excluded.model,
			stats = excluded.stats,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Summary, conv.Model, string(stats),
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to save conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return "", fmt.Errorf("failed to replace messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_id, seq, id, role, content, thinking, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i := range conv.Messages {
		m := &conv.Messages[i]
		if _, err := stmt.ExecContext(ctx, conv.ID, i, m.ID, string(m.Role), m.Content, m.Thinking, m.CreatedAt.UnixNano()); err != nil {
			return "", fmt.Errorf("failed to save message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	log.Info().Str("id", conv.ID).Int("messages", len(conv.Messages)).Msg("conversation saved")
	return conv.ID, nil
}

// generateSummary uses the first user message, or "Untitled".
func generateSummary(msgs []model.Message) string {
	for i := range msgs {
		if msgs[i].Role == model.RoleUser {
			if s := util.TruncateRunes(util.OneLine(msgs[i].Content), summaryLen); s != "" {
				return s
			}
		}
	}
	return "Untitled"
}

// Load returns the conversation with the given id. A unique id prefix is
// accepted as well.
func (s *Store) Load(ctx context.Context, id string) (*Conversation, error) {
	fullID, err := s.resolveID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	conv := &Conversation{ID: fullID}
	var stats string
	var created, updated int64
	err = s.db.QueryRowContext(ctx, `
		SELECT summary, model, stats, created_at, updated_at
		FROM conversations WHERE id = ?`, fullID).
		Scan(&conv.Summary, &conv.Model, &stats, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.CreatedAt = time.Unix(0, created)
	conv.UpdatedAt = time.Unix(0, updated)
	if err := json.Unmarshal([]byte(stats), &conv.Stats); err != nil {
		log.Warn().Err(err).Str("id", fullID).Msg("ignoring unreadable stats")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, thinking, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m model.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Thinking, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		m.Role = model.Role(role)
		m.CreatedAt = time.Unix(0, createdAt)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return conv, nil
}

// resolveID expands a unique prefix to a full id.
func (s *Store) resolveID(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrNotFound
	}
	var exact string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE id = ?`, id).Scan(&exact)
	if err == nil {
		return exact, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE id LIKE ? ESCAPE '\' LIMIT 2`, escapeLike(id)+"%")
	if err != nil {
		return "", fmt.Errorf("failed to look up conversation: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return "", err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", ErrAmbiguousID
	}
}

// List returns the most recently updated conversations first.
func (s *Store) List(ctx context.Context, limit int) ([]ConversationMeta, error) {
	return s.query(ctx, "", limit)
}

// Search returns conversations whose summary or any message contains
// query, case-insensitively for ASCII.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]ConversationMeta, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, limit)
	}
	return s.query(ctx, query, limit)
}

func (s *Store) query(ctx context.Context, search string, limit int) ([]ConversationMeta, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := `
		SELECT c.id, c.summary, c.model, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c`
	args := []any{}
	if search != "" {
		pattern := "%" + escapeLike(search) + "%"
		q += `
		WHERE c.summary LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM messages m
				WHERE m.conversation_id = c.id AND m.content LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY c.updated_at DESC, c.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationMeta
	for rows.Next() {
		var m ConversationMeta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.Summary, &m.Model, &created, &updated, &m.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to read conversation: %w", err)
		}
		m.CreatedAt = time.Unix(0, created)
		m.UpdatedAt = time.Unix(0, updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	fullID, err := s.resolveID(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, fullID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	log.Info().Str("id", fullID).Msg("conversation deleted")
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList renders metas as a fixed-width table.
func FormatList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No saved conversations."
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", 10))
	sb.WriteString(util.PadRight("UPDATED", 18))
	sb.WriteString(util.PadRight("MSGS", 6))
	sb.WriteString("SUMMARY\n")
	for _, m := range metas {
		sb.WriteString(util.PadRight(m.ShortID(), 10))
		sb.WriteString(util.PadRight(m.UpdatedAt.Format("2006-01-02 15:04"), 18))
		sb.WriteString(util.PadRight(fmt.Sprintf("%d", m.MessageCount), 6))
		sb.WriteString(util.TruncateWidth(m.Summary, 50))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
