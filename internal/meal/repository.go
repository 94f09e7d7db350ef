package meal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ai-meal-tracker/internal/database"
	"ai-meal-tracker/internal/nutrition"
)

// Repository is the SQLite Store. Meals written by it always carry nested
// totals; NULL total columns are read as the legacy shape.
type Repository struct {
	db    *sql.DB
	clock Clock
}

func NewRepository(db *sql.DB, clock Clock) *Repository {
	return &Repository{db: db, clock: clock}
}

const mealColumns = `id, user_id, description, items, total_calories, total_protein, total_carbs, total_fats,
		       source, timestamp, date, updated_at`

// Create inserts a meal with a new id, the current timestamp and day key.
func (r *Repository) Create(ctx context.Context, uid string, m Meal) (Meal, error) {
	query := `
		INSERT INTO meals (id, user_id, description, items, total_calories, total_protein, total_carbs, total_fats,
		                   source, timestamp, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	m.ID = uuid.NewString()
	m.UserID = uid
	m.Timestamp, m.Date = r.clock.Stamp()
	m.UpdatedAt = nil
	if m.Items == nil {
		m.Items = []nutrition.FoodItem{}
	}
	items, err := json.Marshal(m.Items)
	if err != nil {
		return Meal{}, fmt.Errorf("failed to encode items: %w", err)
	}
	t := m.ResolvedTotals()
	m.Totals = &t
	m.TotalCalories, m.TotalProtein, m.TotalCarbs, m.TotalFats = nil, nil, nil, nil

	_, err = r.db.ExecContext(ctx, query,
		m.ID,
		uid,
		m.Description,
		string(items),
		t.Calories,
		t.Protein,
		t.Carbs,
		t.Fats,
		string(m.Source),
		database.FormatTime(m.Timestamp),
		m.Date,
	)
	if err != nil {
		return Meal{}, fmt.Errorf("failed to create meal: %w", err)
	}
	return m, nil
}

// Get retrieves one meal of a user.
func (r *Repository) Get(ctx context.Context, uid, id string) (Meal, error) {
	query := `SELECT ` + mealColumns + ` FROM meals WHERE user_id = ? AND id = ?`
	m, err := scanMeal(r.db.QueryRowContext(ctx, query, uid, id), r.clock.Location)
	if errors.Is(err, sql.ErrNoRows) {
		return Meal{}, ErrNotFound
	}
	if err != nil {
		return Meal{}, fmt.Errorf("failed to get meal: %w", err)
	}
	return m, nil
}

// Update replaces description, items and totals in one statement.
func (r *Repository) Update(ctx context.Context, uid, id string, c Change) (Meal, error) {
	query := `
		UPDATE meals
		SET description = ?, items = ?, total_calories = ?, total_protein = ?, total_carbs = ?, total_fats = ?,
		    source = ?, updated_at = ?
		WHERE user_id = ? AND id = ?
	`

	items := c.Items
	if items == nil {
		items = []nutrition.FoodItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return Meal{}, fmt.Errorf("failed to encode items: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query,
		c.Description,
		string(data),
		c.Totals.Calories,
		c.Totals.Protein,
		c.Totals.Carbs,
		c.Totals.Fats,
		string(c.Source),
		database.FormatTime(r.clock.Time()),
		uid,
		id,
	)
	if err != nil {
		return Meal{}, fmt.Errorf("failed to update meal: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Meal{}, ErrNotFound
	}
	return r.Get(ctx, uid, id)
}

// Delete removes a meal. It returns ErrNotFound if nothing was deleted.
func (r *Repository) Delete(ctx context.Context, uid, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM meals WHERE user_id = ? AND id = ?`, uid, id)
	if err != nil {
		return fmt.Errorf("failed to delete meal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByDate returns a user's meals for a day key, newest first.
func (r *Repository) ListByDate(ctx context.Context, uid, date string) ([]Meal, error) {
	query := `SELECT ` + mealColumns + ` FROM meals WHERE user_id = ? AND date = ? ORDER BY timestamp DESC, rowid DESC`

	rows, err := r.db.QueryContext(ctx, query, uid, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list meals: %w", err)
	}
	defer rows.Close()

	meals := []Meal{}
	for rows.Next() {
		m, err := scanMeal(rows, r.clock.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}
		meals = append(meals, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meals: %w", err)
	}
	return meals, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeal(row rowScanner, loc *time.Location) (Meal, error) {
	var (
		m                   Meal
		items               string
		cal, pro, carb, fat sql.NullFloat64
		source, ts          string
		updatedAt           sql.NullString
	)
	err := row.Scan(&m.ID, &m.UserID, &m.Description, &items, &cal, &pro, &carb, &fat,
		&source, &ts, &m.Date, &updatedAt)
	if err != nil {
		return Meal{}, err
	}

	if items != "" {
		if err := json.Unmarshal([]byte(items), &m.Items); err != nil {
			return Meal{}, fmt.Errorf("failed to decode items: %w", err)
		}
	}
	if m.Items == nil {
		m.Items = []nutrition.FoodItem{}
	}
	m.Source = nutrition.Source(source)

	if cal.Valid && pro.Valid && carb.Valid && fat.Valid {
		m.Totals = &Totals{Calories: cal.Float64, Protein: pro.Float64, Carbs: carb.Float64, Fats: fat.Float64}
	} else {
		m.TotalCalories = nullable(cal)
		m.TotalProtein = nullable(pro)
		m.TotalCarbs = nullable(carb)
		m.TotalFats = nullable(fat)
	}

	if loc == nil {
		loc = time.Local
	}
	t, err := database.ParseTime(ts)
	if err != nil {
		return Meal{}, err
	}
	m.Timestamp = t.In(loc)
	if updatedAt.Valid && updatedAt.String != "" {
		u, err := database.ParseTime(updatedAt.String)
		if err != nil {
			return Meal{}, err
		}
		u = u.In(loc)
		m.UpdatedAt = &u
	}
	return m, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
