package telegram

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-meal-tracker/internal/dashboard"
	"ai-meal-tracker/internal/database"
)

// Session is the persisted dashboard state of one Telegram user.
type Session struct {
	TelegramID int64
	State      dashboard.State
	UpdatedAt  time.Time
}

// SessionRepository provides access to session persistence operations
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Get returns the stored session, or an idle one when the user has none.
func (sr *SessionRepository) Get(ctx context.Context, telegramID int64) (Session, error) {
	var raw, updated string
	err := sr.db.QueryRowContext(ctx,
		`SELECT state, updated_at FROM sessions WHERE telegram_id = ?`, telegramID,
	).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{TelegramID: telegramID}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}

	s := Session{TelegramID: telegramID}
	if err := json.Unmarshal([]byte(raw), &s.State); err != nil {
		return Session{}, fmt.Errorf("failed to decode session state: %w", err)
	}
	if s.UpdatedAt, err = database.ParseTime(updated); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Save upserts the session state.
func (sr *SessionRepository) Save(ctx context.Context, telegramID int64, state dashboard.State, now time.Time) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = sr.db.ExecContext(ctx, `
		INSERT INTO sessions (telegram_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		telegramID, string(raw), database.FormatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session
func (sr *SessionRepository) Delete(ctx context.Context, telegramID int64) error {
	_, err := sr.db.ExecContext(ctx, `DELETE FROM sessions WHERE telegram_id = ?`, telegramID)
	return err
}
