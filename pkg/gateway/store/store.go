// Package store persists conversation history and voice session accounting
// in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when the referenced row does not exist or is not in
// a state the operation applies to.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type ChatMessage struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

func (s *Store) AppendMessage(ctx context.Context, conversationID, userID, role, content string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (conversation_id, user_id, role, content)
		VALUES ($1, $2, $3, $4)
	`, conversationID, userID, role, content)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// History returns up to limit messages for the conversation in chronological
// order. Older messages beyond the limit are dropped.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM chat_messages
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return msgs, nil
}

type VoiceSessionSummary struct {
	DurationSeconds int
	DurationMinutes float64
	EstimatedCost   float64
}

func (s *Store) CreateVoiceSession(ctx context.Context, userID, model, voice string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO voice_sessions (user_id, model, voice, status, started_at)
		VALUES ($1, $2, $3, 'active', now())
		RETURNING id
	`, userID, model, voice).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert voice session: %w", err)
	}
	return id, nil
}

// EndVoiceSession marks an active session completed and computes its cost from
// the wall-clock duration. A second call for the same session returns
// ErrNotFound.
func (s *Store) EndVoiceSession(ctx context.Context, id int64, ratePerMinute float64) (VoiceSessionSummary, error) {
	var sum VoiceSessionSummary
	err := s.pool.QueryRow(ctx, `
		UPDATE voice_sessions
		SET ended_at = now(),
		    status = 'completed',
		    duration_seconds = ceil(extract(epoch FROM (now() - started_at)))::int,
		    estimated_cost = round((extract(epoch FROM (now() - started_at)) / 60.0 * $2)::numeric, 4)
		WHERE id = $1 AND status = 'active'
		RETURNING duration_seconds, estimated_cost
	`, id, ratePerMinute).Scan(&sum.DurationSeconds, &sum.EstimatedCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return VoiceSessionSummary{}, ErrNotFound
	}
	if err != nil {
		return VoiceSessionSummary{}, fmt.Errorf("end voice session: %w", err)
	}
	sum.DurationMinutes = durationMinutes(sum.DurationSeconds)
	return sum, nil
}

func durationMinutes(seconds int) float64 {
	return math.Round(float64(seconds)/60.0*100) / 100
}
