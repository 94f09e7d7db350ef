package meal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ai-meal-tracker/internal/nutrition"
	"ai-meal-tracker/internal/profile"
)

// Change replaces the analyzed content of a meal.
type Change struct {
	Description string
	Items       []nutrition.FoodItem
	Totals      Totals
	Source      nutrition.Source
}

// Store persists meals per user. Create assigns the id, timestamp and day
// key. Get, Update and Delete return ErrNotFound for unknown ids.
type Store interface {
	Create(ctx context.Context, uid string, m Meal) (Meal, error)
	Get(ctx context.Context, uid, id string) (Meal, error)
	Update(ctx context.Context, uid, id string, c Change) (Meal, error)
	Delete(ctx context.Context, uid, id string) error
	ListByDate(ctx context.Context, uid, date string) ([]Meal, error)
}

// Analyzer turns a description into nutrition. It must not fail.
type Analyzer interface {
	Analyze(ctx context.Context, description string) nutrition.Analysis
}

// GoalsSource provides per-user goals.
type GoalsSource interface {
	Goals(ctx context.Context, uid string) (profile.Goals, error)
}

// AnalysisObserver is notified of every analysis.
type AnalysisObserver interface {
	ObserveAnalysis(a nutrition.Analysis)
}

// Summary is today's dashboard data.
type Summary struct {
	Date     string        `json:"date"`
	Meals    []Meal        `json:"meals"`
	Totals   DayTotals     `json:"totals"`
	Goals    profile.Goals `json:"goals"`
	Progress Progress      `json:"progress"`
}

// Service implements the meal lifecycle.
type Service struct {
	store     Store
	analyzer  Analyzer
	goals     GoalsSource
	clock     Clock
	observers []AnalysisObserver
}

func NewService(store Store, analyzer Analyzer, goals GoalsSource, clock Clock, observers ...AnalysisObserver) *Service {
	return &Service{
		store:     store,
		analyzer:  analyzer,
		goals:     goals,
		clock:     clock,
		observers: observers,
	}
}

// Analyze runs an analysis without storing anything.
func (s *Service) Analyze(ctx context.Context, description string) (nutrition.Analysis, error) {
	desc, err := cleanDescription(description)
	if err != nil {
		return nutrition.Analysis{}, err
	}
	return s.analyze(ctx, desc), nil
}

// Log analyzes description and stores it as a new meal.
func (s *Service) Log(ctx context.Context, uid, description string) (Meal, error) {
	desc, err := cleanDescription(description)
	if err != nil {
		return Meal{}, err
	}

	a := s.analyze(ctx, desc)
	totals := TotalsOf(a.Result)
	m, err := s.store.Create(ctx, uid, Meal{
		UserID:      uid,
		Description: desc,
		Items:       a.Result.Items,
		Totals:      &totals,
		Source:      a.Source,
	})
	if err != nil {
		slog.Error("Failed to save meal", "user", uid, "error", err)
		return Meal{}, fmt.Errorf("failed to save meal: %w", err)
	}
	slog.Info("Meal logged", "user", uid, "meal", m.ID, "source", a.Source, "calories", totals.Calories)
	return m, nil
}

// Edit re-analyzes a meal from a new description and replaces its content.
func (s *Service) Edit(ctx context.Context, uid, id, description string) (Meal, error) {
	desc, err := cleanDescription(description)
	if err != nil {
		return Meal{}, err
	}
	if _, err := s.store.Get(ctx, uid, id); err != nil {
		return Meal{}, wrapStoreErr("failed to load meal", err)
	}

	a := s.analyze(ctx, desc)
	m, err := s.store.Update(ctx, uid, id, Change{
		Description: desc,
		Items:       a.Result.Items,
		Totals:      TotalsOf(a.Result),
		Source:      a.Source,
	})
	if err != nil {
		slog.Error("Failed to update meal", "user", uid, "meal", id, "error", err)
		return Meal{}, wrapStoreErr("failed to update meal", err)
	}
	return m, nil
}

// Delete removes a meal. Unknown ids yield ErrNotFound.
func (s *Service) Delete(ctx context.Context, uid, id string) error {
	if err := s.store.Delete(ctx, uid, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Error("Failed to delete meal", "user", uid, "meal", id, "error", err)
		}
		return wrapStoreErr("failed to delete meal", err)
	}
	return nil
}

// Today lists the current day's meals, newest first.
func (s *Service) Today(ctx context.Context, uid string) ([]Meal, error) {
	return s.listDay(ctx, uid, s.clock.Today())
}

func (s *Service) listDay(ctx context.Context, uid, day string) ([]Meal, error) {
	meals, err := s.store.ListByDate(ctx, uid, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list meals: %w", err)
	}
	return meals, nil
}

// Summary returns today's meals with totals and progress against goals.
func (s *Service) Summary(ctx context.Context, uid string) (Summary, error) {
	day := s.clock.Today()
	meals, err := s.listDay(ctx, uid, day)
	if err != nil {
		return Summary{}, err
	}
	goals := profile.DefaultGoals
	if s.goals != nil {
		if goals, err = s.goals.Goals(ctx, uid); err != nil {
			return Summary{}, err
		}
	}
	totals := Aggregate(meals)
	return Summary{
		Date:     day,
		Meals:    meals,
		Totals:   totals,
		Goals:    goals,
		Progress: ComputeProgress(totals, goals),
	}, nil
}

// Export snapshots today's meals.
func (s *Service) Export(ctx context.Context, uid string) (Export, string, error) {
	now := s.clock.Time()
	meals, err := s.listDay(ctx, uid, DayKey(now))
	if err != nil {
		return Export{}, "", err
	}
	return BuildExport(now, meals), ExportFileName(now), nil
}

func (s *Service) analyze(ctx context.Context, desc string) nutrition.Analysis {
	a := s.analyzer.Analyze(ctx, desc)
	for _, o := range s.observers {
		o.ObserveAnalysis(a)
	}
	return a
}

func cleanDescription(description string) (string, error) {
	desc := strings.TrimSpace(description)
	if desc == "" {
		return "", ErrEmptyDescription
	}
	return desc, nil
}

func wrapStoreErr(msg string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
