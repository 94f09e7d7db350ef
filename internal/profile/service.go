package profile

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store persists profiles. Get returns nil, nil when no profile exists.
// Upsert creates the profile or overwrites the stored fields.
type Store interface {
	Get(ctx context.Context, uid string) (*Profile, error)
	Upsert(ctx context.Context, p Profile) error
}

// Update is a partial profile change. Nil fields are left untouched.
type Update struct {
	DisplayName  *string       `json:"displayName,omitempty"`
	Goals        *Goals        `json:"goals,omitempty"`
	PersonalInfo *PersonalInfo `json:"personalInfo,omitempty"`
}

// Service exposes profile operations on top of a Store.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Get returns the stored profile, or defaults when none exists yet.
func (s *Service) Get(ctx context.Context, uid string) (Profile, error) {
	p, err := s.store.Get(ctx, uid)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	if p == nil {
		return Default(uid), nil
	}
	if p.Goals.Validate() != nil {
		p.Goals = DefaultGoals
	}
	if p.PersonalInfo.ActivityLevel == "" {
		p.PersonalInfo.ActivityLevel = DefaultPersonalInfo.ActivityLevel
	}
	if p.PersonalInfo.Goal == "" {
		p.PersonalInfo.Goal = DefaultPersonalInfo.Goal
	}
	return *p, nil
}

// Goals returns the user's goals or DefaultGoals.
func (s *Service) Goals(ctx context.Context, uid string) (Goals, error) {
	p, err := s.Get(ctx, uid)
	if err != nil {
		return Goals{}, err
	}
	return p.Goals, nil
}

// Ensure creates a profile for a newly seen user. Existing profiles only get
// missing identity fields filled in.
func (s *Service) Ensure(ctx context.Context, uid, email, displayName string) (Profile, error) {
	existing, err := s.store.Get(ctx, uid)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}

	now := s.now().UTC()
	if existing == nil {
		p := Default(uid)
		p.Email = email
		p.DisplayName = displayName
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := s.store.Upsert(ctx, p); err != nil {
			return Profile{}, fmt.Errorf("failed to create profile: %w", err)
		}
		return p, nil
	}

	changed := false
	if existing.Email == "" && email != "" {
		existing.Email = email
		changed = true
	}
	if existing.DisplayName == "" && displayName != "" {
		existing.DisplayName = displayName
		changed = true
	}
	if changed {
		existing.UpdatedAt = now
		if err := s.store.Upsert(ctx, *existing); err != nil {
			return Profile{}, fmt.Errorf("failed to update profile: %w", err)
		}
	}
	return s.Get(ctx, uid)
}

// Save validates u and merges it into the stored profile. Nothing is written
// when validation fails.
func (s *Service) Save(ctx context.Context, uid string, u Update) (Profile, error) {
	if u.Goals != nil {
		if err := u.Goals.Validate(); err != nil {
			return Profile{}, err
		}
	}
	if u.PersonalInfo != nil {
		if err := u.PersonalInfo.Validate(); err != nil {
			return Profile{}, err
		}
	}

	existing, err := s.store.Get(ctx, uid)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}

	now := s.now().UTC()
	p := Default(uid)
	p.CreatedAt = now
	if existing != nil {
		p = *existing
		p.UserID = uid
	}
	if u.DisplayName != nil {
		p.DisplayName = strings.TrimSpace(*u.DisplayName)
	}
	if u.Goals != nil {
		p.Goals = *u.Goals
	}
	if u.PersonalInfo != nil {
		p.PersonalInfo = *u.PersonalInfo
	}
	p.UpdatedAt = now

	if err := s.store.Upsert(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("failed to save profile: %w", err)
	}
	return p, nil
}

// Recommend derives goals from personal info without saving them.
func (s *Service) Recommend(info PersonalInfo) (Goals, error) {
	return RecommendGoals(info)
}
