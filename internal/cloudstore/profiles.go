package cloudstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"ai-meal-tracker/internal/profile"
)

// ProfileStore implements profile.Store on the users/{uid} document.
type ProfileStore struct {
	client *firestore.Client
}

func NewProfileStore(client *firestore.Client) *ProfileStore {
	return &ProfileStore{client: client}
}

func (s *ProfileStore) Get(ctx context.Context, uid string) (*profile.Profile, error) {
	snap, err := userDoc(s.client, uid).Get(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cloudstore: get profile: %w", err)
	}

	data := snap.Data()
	p := &profile.Profile{
		UserID:      uid,
		Email:       toString(data["email"]),
		DisplayName: toString(data["displayName"]),
	}
	if goals := toMap(data["goals"]); goals != nil {
		p.Goals.Calories, _ = toFloat(goals["calories"])
		p.Goals.Protein, _ = toFloat(goals["protein"])
		p.Goals.Carbs, _ = toFloat(goals["carbs"])
		p.Goals.Fats, _ = toFloat(goals["fats"])
	}
	if info := toMap(data["personalInfo"]); info != nil {
		p.PersonalInfo.Age, _ = toFloat(info["age"])
		p.PersonalInfo.Weight, _ = toFloat(info["weight"])
		p.PersonalInfo.Height, _ = toFloat(info["height"])
		p.PersonalInfo.ActivityLevel = profile.ActivityLevel(toString(info["activityLevel"]))
		p.PersonalInfo.Goal = profile.Objective(toString(info["goal"]))
	}
	if p.CreatedAt, err = parseTime(data["createdAt"]); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(data["updatedAt"]); err != nil {
		return nil, err
	}
	return p, nil
}

// Upsert merges the profile fields into the user document.
func (s *ProfileStore) Upsert(ctx context.Context, p profile.Profile) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = p.UpdatedAt
	}
	_, err := userDoc(s.client, p.UserID).Set(ctx, map[string]any{
		"email":       p.Email,
		"displayName": p.DisplayName,
		"goals": map[string]any{
			"calories": p.Goals.Calories,
			"protein":  p.Goals.Protein,
			"carbs":    p.Goals.Carbs,
			"fats":     p.Goals.Fats,
		},
		"personalInfo": map[string]any{
			"age":           p.PersonalInfo.Age,
			"weight":        p.PersonalInfo.Weight,
			"height":        p.PersonalInfo.Height,
			"activityLevel": string(p.PersonalInfo.ActivityLevel),
			"goal":          string(p.PersonalInfo.Goal),
		},
		"createdAt": formatTime(createdAt),
		"updatedAt": formatTime(p.UpdatedAt),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("cloudstore: upsert profile: %w", err)
	}
	return nil
}
