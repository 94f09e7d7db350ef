package meal

import (
	"math"

	"ai-meal-tracker/internal/profile"
)

// NutrientProgress compares one consumed amount with its goal.
type NutrientProgress struct {
	Consumed  float64 `json:"consumed"`
	Goal      float64 `json:"goal"`
	Remaining float64 `json:"remaining"`
	Percent   float64 `json:"percent"`
}

type Progress struct {
	Calories NutrientProgress `json:"calories"`
	Protein  NutrientProgress `json:"protein"`
	Carbs    NutrientProgress `json:"carbs"`
	Fats     NutrientProgress `json:"fats"`
}

// ComputeProgress compares day totals with goals. Percent is capped at 1.
func ComputeProgress(t DayTotals, g profile.Goals) Progress {
	return Progress{
		Calories: nutrientProgress(t.Calories, g.Calories),
		Protein:  nutrientProgress(t.Protein, g.Protein),
		Carbs:    nutrientProgress(t.Carbs, g.Carbs),
		Fats:     nutrientProgress(t.Fats, g.Fats),
	}
}

func nutrientProgress(consumed, goal float64) NutrientProgress {
	p := NutrientProgress{Consumed: consumed, Goal: goal}
	if goal > 0 {
		p.Percent = math.Min(consumed/goal, 1)
		p.Remaining = math.Max(goal-consumed, 0)
	}
	return p
}
