package meal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ai-meal-tracker/internal/database"
	"ai-meal-tracker/internal/nutrition"
	"ai-meal-tracker/internal/profile"
)

type mockAnalyzer struct {
	calls int
}

func (m *mockAnalyzer) Analyze(ctx context.Context, description string) nutrition.Analysis {
	m.calls++
	return nutrition.Analysis{Result: nutrition.AnalyzeOffline(description), Source: nutrition.SourceFallback}
}

type mockGoals struct {
	goals profile.Goals
	err   error
}

func (m mockGoals) Goals(ctx context.Context, uid string) (profile.Goals, error) {
	return m.goals, m.err
}

type countingObserver struct {
	sources []nutrition.Source
}

func (c *countingObserver) ObserveAnalysis(a nutrition.Analysis) {
	c.sources = append(c.sources, a.Source)
}

type testEnv struct {
	svc      *Service
	repo     *Repository
	db       *sql.DB
	analyzer *mockAnalyzer
	observer *countingObserver
	now      *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	env := &testEnv{now: &now, db: db.SQL, analyzer: &mockAnalyzer{}, observer: &countingObserver{}}
	clock := Clock{Now: func() time.Time { return *env.now }, Location: time.UTC}
	env.repo = NewRepository(db.SQL, clock)
	goals := mockGoals{goals: profile.Goals{Calories: 2000, Protein: 100, Carbs: 250, Fats: 70}}
	env.svc = NewService(env.repo, env.analyzer, goals, clock, env.observer)
	return env
}

func (e *testEnv) advance(d time.Duration) {
	*e.now = e.now.Add(d)
}

func TestService_Log(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	t.Run("RejectsEmptyDescription", func(t *testing.T) {
		for _, desc := range []string{"", "  \n "} {
			if _, err := env.svc.Log(ctx, "u1", desc); !errors.Is(err, ErrEmptyDescription) {
				t.Errorf("Expected ErrEmptyDescription for %q, got %v", desc, err)
			}
		}
		if env.analyzer.calls != 0 {
			t.Errorf("Expected no analysis for invalid input, got %d", env.analyzer.calls)
		}
	})

	t.Run("StoresNestedTotals", func(t *testing.T) {
		m, err := env.svc.Log(ctx, "u1", "  2 eggs ")
		if err != nil {
			t.Fatalf("Log failed: %v", err)
		}
		if m.ID == "" || m.Date != "Sat Mar 09 2024" || m.Description != "2 eggs" {
			t.Errorf("Unexpected meal %+v", m)
		}
		if m.Totals == nil || m.Totals.Calories != 140 || m.Source != nutrition.SourceFallback {
			t.Errorf("Unexpected totals/source %+v %s", m.Totals, m.Source)
		}

		got, err := env.repo.Get(ctx, "u1", m.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(got.Items) != 1 || got.Items[0].Name != "2 eggs" || got.Totals == nil || *got.Totals != *m.Totals {
			t.Errorf("Unexpected stored meal %+v", got)
		}
		if !got.Timestamp.Equal(m.Timestamp) {
			t.Errorf("Expected timestamp %v, got %v", m.Timestamp, got.Timestamp)
		}
		if len(env.observer.sources) != 1 {
			t.Errorf("Expected observer to see one analysis, got %d", len(env.observer.sources))
		}
	})

	t.Run("MealsArePerUser", func(t *testing.T) {
		meals, err := env.svc.Today(ctx, "u2")
		if err != nil {
			t.Fatalf("Today failed: %v", err)
		}
		if len(meals) != 0 {
			t.Errorf("Expected no meals for u2, got %d", len(meals))
		}
	})
}

func TestService_EditDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	m, err := env.svc.Log(ctx, "u1", "1 banana")
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	t.Run("EditReplacesContent", func(t *testing.T) {
		env.advance(time.Minute)
		edited, err := env.svc.Edit(ctx, "u1", m.ID, "3 bananas")
		if err != nil {
			t.Fatalf("Edit failed: %v", err)
		}
		if edited.Description != "3 bananas" || edited.Totals.Calories != 315 || len(edited.Items) != 1 {
			t.Errorf("Unexpected edited meal %+v", edited)
		}
		if !edited.Timestamp.Equal(m.Timestamp) || edited.UpdatedAt == nil {
			t.Errorf("Expected original timestamp and an update time, got %+v", edited)
		}
	})

	t.Run("EditUnknown", func(t *testing.T) {
		calls := env.analyzer.calls
		if _, err := env.svc.Edit(ctx, "u1", "missing", "apple"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if _, err := env.svc.Edit(ctx, "u2", m.ID, "apple"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for another user's meal, got %v", err)
		}
		if env.analyzer.calls != calls {
			t.Error("Expected no analysis for unknown meals")
		}
	})

	t.Run("EditEmpty", func(t *testing.T) {
		if _, err := env.svc.Edit(ctx, "u1", m.ID, " "); !errors.Is(err, ErrEmptyDescription) {
			t.Errorf("Expected ErrEmptyDescription, got %v", err)
		}
	})

	t.Run("DeleteIsNotIdempotent", func(t *testing.T) {
		if err := env.svc.Delete(ctx, "u1", m.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := env.svc.Delete(ctx, "u1", m.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestService_SummaryAndExport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.svc.Log(ctx, "u1", "2 eggs"); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	env.advance(4 * time.Hour)
	if _, err := env.svc.Log(ctx, "u1", "1 cup rice and chicken"); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	// A legacy row with flattened totals only.
	_, err := env.db.Exec(`INSERT INTO meals (id, user_id, description, items, total_calories, total_protein, timestamp, date)
		VALUES ('legacy', 'u1', 'old snack', '[]', 100, 2.5, '2024-03-09 09:00:00.000', 'Sat Mar 09 2024')`)
	if err != nil {
		t.Fatalf("Failed to insert legacy meal: %v", err)
	}

	// Yesterday's meal must not count.
	_, err = env.db.Exec(`INSERT INTO meals (id, user_id, description, items, total_calories, total_protein, total_carbs, total_fats, timestamp, date)
		VALUES ('old', 'u1', 'steak', '[]', 250, 26, 0, 15, '2024-03-08 19:00:00.000', 'Fri Mar 08 2024')`)
	if err != nil {
		t.Fatalf("Failed to insert old meal: %v", err)
	}

	sum, err := env.svc.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(sum.Meals) != 3 {
		t.Fatalf("Expected 3 meals today, got %d", len(sum.Meals))
	}
	if sum.Meals[0].Description != "1 cup rice and chicken" || sum.Meals[2].Description != "2 eggs" {
		t.Errorf("Expected newest first, got %q ... %q", sum.Meals[0].Description, sum.Meals[2].Description)
	}
	legacy := sum.Meals[1]
	if legacy.Totals != nil || legacy.TotalCalories == nil || legacy.TotalCarbs != nil {
		t.Errorf("Expected legacy flattened shape, got %+v", legacy)
	}

	// eggs 140 + rice 205 + chicken 165 + legacy 100
	if sum.Totals.Calories != 610 {
		t.Errorf("Expected 610 calories, got %v", sum.Totals.Calories)
	}
	if sum.Totals != Aggregate(sum.Meals) {
		t.Errorf("Summary totals drifted from meals: %+v", sum.Totals)
	}
	if sum.Progress.Calories.Goal != 2000 || sum.Date != "Sat Mar 09 2024" {
		t.Errorf("Unexpected summary %+v", sum)
	}

	exp, name, err := env.svc.Export(ctx, "u1")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if name != "meals-2024-03-09.json" || exp.Date != "Sat Mar 09 2024" || len(exp.Meals) != 3 {
		t.Errorf("Unexpected export %s %+v", name, exp)
	}
	if exp.Totals != sum.Totals {
		t.Errorf("Expected export totals %+v, got %+v", sum.Totals, exp.Totals)
	}
}

func TestService_SummaryAndExportAtMidnight(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	*env.now = time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	if _, err := env.svc.Log(ctx, "u1", "2 eggs"); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	// Every reading moves the clock forward, crossing midnight on the second one.
	var tick time.Time
	clock := Clock{Now: func() time.Time {
		now := tick
		tick = tick.Add(30 * time.Second)
		return now
	}, Location: time.UTC}
	goals := mockGoals{goals: profile.DefaultGoals}
	svc := NewService(env.repo, env.analyzer, goals, clock)

	tick = time.Date(2024, 3, 9, 23, 59, 45, 0, time.UTC)
	sum, err := svc.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.Date != "Sat Mar 09 2024" || len(sum.Meals) != 1 {
		t.Errorf("Expected Saturday's meal under Saturday's date, got %q with %d meals", sum.Date, len(sum.Meals))
	}

	tick = time.Date(2024, 3, 9, 23, 59, 45, 0, time.UTC)
	exp, name, err := svc.Export(ctx, "u1")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if name != "meals-2024-03-09.json" || exp.Date != "Sat Mar 09 2024" || len(exp.Meals) != 1 {
		t.Errorf("Unexpected export %s %+v", name, exp)
	}
}

func TestService_SummaryGoalsError(t *testing.T) {
	env := newTestEnv(t)
	boom := errors.New("boom")
	env.svc.goals = mockGoals{err: boom}
	if _, err := env.svc.Summary(context.Background(), "u1"); !errors.Is(err, boom) {
		t.Errorf("Expected goals error, got %v", err)
	}
}
