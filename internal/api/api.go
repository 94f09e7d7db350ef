// Package api exposes the meal tracker over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ai-meal-tracker/internal/auth"
	"ai-meal-tracker/internal/meal"
	"ai-meal-tracker/internal/nutrition"
	"ai-meal-tracker/internal/profile"
)

// MealService is the meal lifecycle used by the handlers.
type MealService interface {
	Analyze(ctx context.Context, description string) (nutrition.Analysis, error)
	Log(ctx context.Context, uid, description string) (meal.Meal, error)
	Edit(ctx context.Context, uid, id, description string) (meal.Meal, error)
	Delete(ctx context.Context, uid, id string) error
	Today(ctx context.Context, uid string) ([]meal.Meal, error)
	Summary(ctx context.Context, uid string) (meal.Summary, error)
	Export(ctx context.Context, uid string) (meal.Export, string, error)
}

// ProfileService manages user settings.
type ProfileService interface {
	Ensure(ctx context.Context, uid, email, displayName string) (profile.Profile, error)
	Save(ctx context.Context, uid string, u profile.Update) (profile.Profile, error)
	Recommend(info profile.PersonalInfo) (profile.Goals, error)
}

// Deps are the collaborators of the router.
type Deps struct {
	Meals    MealService
	Profiles ProfileService
	Verifier auth.Verifier
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Health reports readiness for /health. Nil means always healthy.
	Health func(ctx context.Context) error
}

type server struct {
	meals    MealService
	profiles ProfileService
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	s := &server{meals: d.Meals, profiles: d.Profiles}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(d.Verifier, func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, r, err)
		}))

		r.Post("/analyze", s.analyze)

		r.Route("/meals", func(r chi.Router) {
			r.Post("/", s.createMeal)
			r.Get("/today", s.todayMeals)
			r.Put("/{id}", s.updateMeal)
			r.Delete("/{id}", s.deleteMeal)
		})
		r.Get("/summary", s.summary)
		r.Get("/export", s.export)

		r.Route("/profile", func(r chi.Router) {
			r.Get("/", s.getProfile)
			r.Put("/", s.saveProfile)
			r.Post("/recommendation", s.recommend)
		})
	})
	return r
}

type descriptionRequest struct {
	Description string `json:"description"`
}

type analyzeResponse struct {
	nutrition.Result
	Source nutrition.Source      `json:"source"`
	Reason nutrition.FaultReason `json:"fallbackReason,omitempty"`
}

func (s *server) analyze(w http.ResponseWriter, r *http.Request) {
	var req descriptionRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := s.meals.Analyze(r.Context(), req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := analyzeResponse{Result: a.Result, Source: a.Source}
	if a.Fault != nil {
		resp.Reason = a.Fault.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) createMeal(w http.ResponseWriter, r *http.Request) {
	var req descriptionRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.meals.Log(r.Context(), principal(r).UID, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *server) updateMeal(w http.ResponseWriter, r *http.Request) {
	var req descriptionRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.meals.Edit(r.Context(), principal(r).UID, chi.URLParam(r, "id"), req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *server) deleteMeal(w http.ResponseWriter, r *http.Request) {
	if err := s.meals.Delete(r.Context(), principal(r).UID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) todayMeals(w http.ResponseWriter, r *http.Request) {
	meals, err := s.meals.Today(r.Context(), principal(r).UID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"meals": meals})
}

func (s *server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.meals.Summary(r.Context(), principal(r).UID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *server) export(w http.ResponseWriter, r *http.Request) {
	exp, name, err := s.meals.Export(r.Context(), principal(r).UID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exp); err != nil {
		slog.Error("Failed to write export", "error", err)
	}
}

func (s *server) getProfile(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	prof, err := s.profiles.Ensure(r.Context(), p.UID, p.Email, p.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (s *server) saveProfile(w http.ResponseWriter, r *http.Request) {
	var req profile.Update
	if !decode(w, r, &req) {
		return
	}
	prof, err := s.profiles.Save(r.Context(), principal(r).UID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (s *server) recommend(w http.ResponseWriter, r *http.Request) {
	var info profile.PersonalInfo
	if !decode(w, r, &info) {
		return
	}
	goals, err := s.profiles.Recommend(info)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

var errBadRequestBody = errors.New("invalid request body")

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequestBody, err))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, meal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, meal.ErrEmptyDescription),
		errors.Is(err, errBadRequestBody),
		errors.Is(err, profile.ErrInvalidGoals),
		errors.Is(err, profile.ErrIncompleteInfo),
		errors.Is(err, profile.ErrInvalidActivity),
		errors.Is(err, profile.ErrInvalidObjective),
		errors.Is(err, profile.ErrInvalidPersonalInfo):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
