package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ai-meal-tracker/internal/database"
)

// Repository is the SQLite Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get retrieves a profile by user id. It returns nil, nil when absent.
func (r *Repository) Get(ctx context.Context, uid string) (*Profile, error) {
	query := `
		SELECT email, display_name, goal_calories, goal_protein, goal_carbs, goal_fats,
		       personal_info, created_at, updated_at
		FROM profiles
		WHERE user_id = ?
	`

	p := &Profile{UserID: uid}
	var info sql.NullString
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, query, uid).Scan(
		&p.Email,
		&p.DisplayName,
		&p.Goals.Calories,
		&p.Goals.Protein,
		&p.Goals.Carbs,
		&p.Goals.Fats,
		&info,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if info.Valid && info.String != "" {
		if err := json.Unmarshal([]byte(info.String), &p.PersonalInfo); err != nil {
			return nil, fmt.Errorf("failed to decode personal info: %w", err)
		}
	}
	if p.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// Upsert inserts the profile or replaces every stored field except created_at.
func (r *Repository) Upsert(ctx context.Context, p Profile) error {
	query := `
		INSERT INTO profiles (user_id, email, display_name, goal_calories, goal_protein, goal_carbs, goal_fats,
		                      personal_info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			goal_calories = excluded.goal_calories,
			goal_protein = excluded.goal_protein,
			goal_carbs = excluded.goal_carbs,
			goal_fats = excluded.goal_fats,
			personal_info = excluded.personal_info,
			updated_at = excluded.updated_at
	`

	info, err := json.Marshal(p.PersonalInfo)
	if err != nil {
		return fmt.Errorf("failed to encode personal info: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = p.UpdatedAt
	}

	_, err = r.db.ExecContext(ctx, query,
		p.UserID,
		p.Email,
		p.DisplayName,
		p.Goals.Calories,
		p.Goals.Protein,
		p.Goals.Carbs,
		p.Goals.Fats,
		string(info),
		database.FormatTime(createdAt),
		database.FormatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
