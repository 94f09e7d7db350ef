// Package profile manages per-user nutrition goals and personal information.
package profile

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidGoals        = errors.New("goals must be positive numbers")
	ErrIncompleteInfo      = errors.New("age, weight and height are required for recommendations")
	ErrInvalidActivity     = errors.New("unknown activity level")
	ErrInvalidObjective    = errors.New("unknown goal")
	ErrInvalidPersonalInfo = errors.New("age, weight and height must not be negative")
)

// Goals are daily targets. Protein, carbs and fats are grams.
type Goals struct {
	Calories float64 `json:"calories" firestore:"calories"`
	Protein  float64 `json:"protein" firestore:"protein"`
	Carbs    float64 `json:"carbs" firestore:"carbs"`
	Fats     float64 `json:"fats" firestore:"fats"`
}

// DefaultGoals are used until a user saves their own.
var DefaultGoals = Goals{Calories: 2000, Protein: 100, Carbs: 250, Fats: 70}

// Validate reports ErrInvalidGoals unless every target is positive and finite.
func (g Goals) Validate() error {
	for _, v := range []float64{g.Calories, g.Protein, g.Carbs, g.Fats} {
		if !(v > 0) || math.IsInf(v, 0) {
			return ErrInvalidGoals
		}
	}
	return nil
}

type ActivityLevel string

const (
	ActivitySedentary  ActivityLevel = "sedentary"
	ActivityLight      ActivityLevel = "light"
	ActivityModerate   ActivityLevel = "moderate"
	ActivityActive     ActivityLevel = "active"
	ActivityVeryActive ActivityLevel = "veryActive"
)

var activityMultipliers = map[ActivityLevel]float64{
	ActivitySedentary:  1.2,
	ActivityLight:      1.375,
	ActivityModerate:   1.55,
	ActivityActive:     1.725,
	ActivityVeryActive: 1.9,
}

type Objective string

const (
	ObjectiveLose     Objective = "lose"
	ObjectiveMaintain Objective = "maintain"
	ObjectiveGain     Objective = "gain"
)

// PersonalInfo feeds RecommendGoals. Weight is kg, height cm.
// Zero means not provided.
type PersonalInfo struct {
	Age           float64       `json:"age" firestore:"age"`
	Weight        float64       `json:"weight" firestore:"weight"`
	Height        float64       `json:"height" firestore:"height"`
	ActivityLevel ActivityLevel `json:"activityLevel" firestore:"activityLevel"`
	Goal          Objective     `json:"goal" firestore:"goal"`
}

// DefaultPersonalInfo has no body measurements and a moderate, maintaining user.
var DefaultPersonalInfo = PersonalInfo{ActivityLevel: ActivityModerate, Goal: ObjectiveMaintain}

// Validate checks the enums and rejects negative measurements. Missing
// measurements are allowed.
func (p PersonalInfo) Validate() error {
	if _, ok := activityMultipliers[p.ActivityLevel]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidActivity, p.ActivityLevel)
	}
	switch p.Goal {
	case ObjectiveLose, ObjectiveMaintain, ObjectiveGain:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidObjective, p.Goal)
	}
	if p.Age < 0 || p.Weight < 0 || p.Height < 0 {
		return ErrInvalidPersonalInfo
	}
	return nil
}

// RecommendGoals derives goals with the Mifflin-St Jeor equation and a
// 25/45/30 protein/carbs/fats calorie split.
func RecommendGoals(p PersonalInfo) (Goals, error) {
	if p.Age <= 0 || p.Weight <= 0 || p.Height <= 0 {
		return Goals{}, ErrIncompleteInfo
	}
	if err := p.Validate(); err != nil {
		return Goals{}, err
	}

	bmr := 10*p.Weight + 6.25*p.Height - 5*p.Age + 5
	target := bmr * activityMultipliers[p.ActivityLevel]
	switch p.Goal {
	case ObjectiveLose:
		target -= 500
	case ObjectiveGain:
		target += 500
	}

	g := Goals{
		Calories: math.Round(target),
		Protein:  math.Round(target * 0.25 / 4),
		Carbs:    math.Round(target * 0.45 / 4),
		Fats:     math.Round(target * 0.30 / 9),
	}
	if err := g.Validate(); err != nil {
		return Goals{}, fmt.Errorf("recommendation out of range: %w", err)
	}
	return g, nil
}

// Profile is the per-user settings document.
type Profile struct {
	UserID       string       `json:"userId" firestore:"-"`
	Email        string       `json:"email" firestore:"email"`
	DisplayName  string       `json:"displayName" firestore:"displayName"`
	Goals        Goals        `json:"goals" firestore:"goals"`
	PersonalInfo PersonalInfo `json:"personalInfo" firestore:"personalInfo"`
	CreatedAt    time.Time    `json:"createdAt" firestore:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt" firestore:"updatedAt"`
}

// Default returns an unsaved profile with default goals.
func Default(uid string) Profile {
	return Profile{UserID: uid, Goals: DefaultGoals, PersonalInfo: DefaultPersonalInfo}
}
