package cloudstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"ai-meal-tracker/internal/meal"
	"ai-meal-tracker/internal/nutrition"
)

// MealStore implements meal.Store on Firestore.
type MealStore struct {
	client *firestore.Client
	clock  meal.Clock
}

func NewMealStore(client *firestore.Client, clock meal.Clock) *MealStore {
	return &MealStore{client: client, clock: clock}
}

func (s *MealStore) meals(uid string) *firestore.CollectionRef {
	return userDoc(s.client, uid).Collection(mealsCollection)
}

func (s *MealStore) Create(ctx context.Context, uid string, m meal.Meal) (meal.Meal, error) {
	ref := s.meals(uid).NewDoc()
	m.ID = ref.ID
	m.UserID = uid
	m.Timestamp, m.Date = s.clock.Stamp()
	m.UpdatedAt = nil
	if m.Items == nil {
		m.Items = []nutrition.FoodItem{}
	}
	t := m.ResolvedTotals()
	m.Totals = &t
	m.TotalCalories, m.TotalProtein, m.TotalCarbs, m.TotalFats = nil, nil, nil, nil

	if _, err := ref.Create(ctx, map[string]any{
		"description": m.Description,
		"items":       m.Items,
		"totals":      totalsMap(t),
		"source":      string(m.Source),
		"timestamp":   formatTime(m.Timestamp),
		"date":        m.Date,
	}); err != nil {
		return meal.Meal{}, fmt.Errorf("cloudstore: create meal: %w", err)
	}
	return m, nil
}

func (s *MealStore) Get(ctx context.Context, uid, id string) (meal.Meal, error) {
	snap, err := s.meals(uid).Doc(id).Get(ctx)
	if isNotFound(err) {
		return meal.Meal{}, meal.ErrNotFound
	}
	if err != nil {
		return meal.Meal{}, fmt.Errorf("cloudstore: get meal: %w", err)
	}
	return s.decode(uid, snap)
}

// Update fails with meal.ErrNotFound when the document does not exist.
func (s *MealStore) Update(ctx context.Context, uid, id string, c meal.Change) (meal.Meal, error) {
	items := c.Items
	if items == nil {
		items = []nutrition.FoodItem{}
	}
	ref := s.meals(uid).Doc(id)
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "description", Value: c.Description},
		{Path: "items", Value: items},
		{Path: "totals", Value: totalsMap(c.Totals)},
		{Path: "source", Value: string(c.Source)},
		{Path: "updatedAt", Value: formatTime(s.clock.Time())},
		{Path: "totalCalories", Value: firestore.Delete},
		{Path: "totalProtein", Value: firestore.Delete},
		{Path: "totalCarbs", Value: firestore.Delete},
		{Path: "totalFats", Value: firestore.Delete},
	})
	if isNotFound(err) {
		return meal.Meal{}, meal.ErrNotFound
	}
	if err != nil {
		return meal.Meal{}, fmt.Errorf("cloudstore: update meal: %w", err)
	}
	return s.Get(ctx, uid, id)
}

func (s *MealStore) Delete(ctx context.Context, uid, id string) error {
	_, err := s.meals(uid).Doc(id).Delete(ctx, firestore.Exists)
	if isNotFound(err) {
		return meal.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cloudstore: delete meal: %w", err)
	}
	return nil
}

// ListByDate queries by day key only and sorts in memory, so no composite
// index is needed.
func (s *MealStore) ListByDate(ctx context.Context, uid, date string) ([]meal.Meal, error) {
	iter := s.meals(uid).Where("date", "==", date).Documents(ctx)
	defer iter.Stop()

	meals := []meal.Meal{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("cloudstore: list meals: %w", err)
		}
		m, err := s.decode(uid, snap)
		if err != nil {
			return nil, err
		}
		meals = append(meals, m)
	}
	sort.SliceStable(meals, func(i, j int) bool {
		return meals[i].Timestamp.After(meals[j].Timestamp)
	})
	return meals, nil
}

func (s *MealStore) decode(uid string, snap *firestore.DocumentSnapshot) (meal.Meal, error) {
	data := snap.Data()
	m := meal.Meal{
		ID:          snap.Ref.ID,
		UserID:      uid,
		Description: toString(data["description"]),
		Source:      nutrition.Source(toString(data["source"])),
		Date:        toString(data["date"]),
		Items:       decodeItems(data["items"]),
	}

	if totals := toMap(data["totals"]); totals != nil {
		t := meal.Totals{}
		t.Calories, _ = toFloat(totals["calories"])
		t.Protein, _ = toFloat(totals["protein"])
		t.Carbs, _ = toFloat(totals["carbs"])
		t.Fats, _ = toFloat(totals["fats"])
		m.Totals = &t
	} else {
		m.TotalCalories = optionalFloat(data["totalCalories"])
		m.TotalProtein = optionalFloat(data["totalProtein"])
		m.TotalCarbs = optionalFloat(data["totalCarbs"])
		m.TotalFats = optionalFloat(data["totalFats"])
	}

	ts, err := parseTime(data["timestamp"])
	if err != nil {
		return meal.Meal{}, err
	}
	m.Timestamp = ts.In(s.location())
	if data["updatedAt"] != nil {
		u, err := parseTime(data["updatedAt"])
		if err != nil {
			return meal.Meal{}, err
		}
		if !u.IsZero() {
			u = u.In(s.location())
			m.UpdatedAt = &u
		}
	}
	return m, nil
}

func (s *MealStore) location() *time.Location {
	if s.clock.Location != nil {
		return s.clock.Location
	}
	return time.Local
}

func decodeItems(v any) []nutrition.FoodItem {
	raw, _ := v.([]any)
	items := make([]nutrition.FoodItem, 0, len(raw))
	for _, r := range raw {
		fields := toMap(r)
		if fields == nil {
			continue
		}
		it := nutrition.FoodItem{
			Name: toString(fields["name"]),
			Unit: toString(fields["unit"]),
		}
		it.Quantity, _ = toFloat(fields["quantity"])
		it.Calories, _ = toFloat(fields["calories"])
		it.Protein, _ = toFloat(fields["protein"])
		it.Carbs, _ = toFloat(fields["carbs"])
		it.Fats, _ = toFloat(fields["fats"])
		items = append(items, it)
	}
	return items
}

func optionalFloat(v any) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func totalsMap(t meal.Totals) map[string]any {
	return map[string]any{
		"calories": t.Calories,
		"protein":  t.Protein,
		"carbs":    t.Carbs,
		"fats":     t.Fats,
	}
}
