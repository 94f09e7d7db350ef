// Package nutrition turns free-text meal descriptions into a canonical
// nutrition breakdown, either through a language model or an offline
// keyword table.
package nutrition

import "math"

// FoodItem is one identified food component of a meal.
type FoodItem struct {
	Name     string  `json:"name" firestore:"name"`
	Quantity float64 `json:"quantity" firestore:"quantity"`
	Unit     string  `json:"unit" firestore:"unit"`
	Calories float64 `json:"calories" firestore:"calories"`
	Protein  float64 `json:"protein" firestore:"protein"`
	Carbs    float64 `json:"carbs" firestore:"carbs"`
	Fats     float64 `json:"fats" firestore:"fats"`
}

// Result is the canonical analysis of one meal description.
type Result struct {
	Items         []FoodItem `json:"items"`
	TotalCalories float64    `json:"totalCalories"`
	TotalProtein  float64    `json:"totalProtein"`
	TotalCarbs    float64    `json:"totalCarbs"`
	TotalFats     float64    `json:"totalFats"`
}

// Normalize recomputes the totals as the field-wise sum of items.
// Calories are rounded to an integer and grams to one decimal, after summing.
func Normalize(items []FoodItem) Result {
	var cal, pro, carb, fat float64
	for _, it := range items {
		cal += it.Calories
		pro += it.Protein
		carb += it.Carbs
		fat += it.Fats
	}
	return Result{
		Items:         items,
		TotalCalories: math.Round(cal),
		TotalProtein:  Round1(pro),
		TotalCarbs:    Round1(carb),
		TotalFats:     Round1(fat),
	}
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// sanitize clamps negative and non-finite values to zero.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
