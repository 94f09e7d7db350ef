// Package meal holds logged meals and the daily views built from them.
package meal

import (
	"errors"
	"time"

	"ai-meal-tracker/internal/nutrition"
)

var (
	ErrNotFound         = errors.New("meal not found")
	ErrEmptyDescription = errors.New("meal description is empty")
)

// DayKeyLayout formats the calendar-day key stored with every meal.
const DayKeyLayout = "Mon Jan 02 2006"

// Totals are the summed calories and macros of a meal or a day.
type Totals struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
}

// DayTotals are recomputed from a day's meals and never stored.
type DayTotals = Totals

// TotalsOf copies the totals of an analysis result.
func TotalsOf(r nutrition.Result) Totals {
	return Totals{
		Calories: r.TotalCalories,
		Protein:  r.TotalProtein,
		Carbs:    r.TotalCarbs,
		Fats:     r.TotalFats,
	}
}

func (t Totals) Add(o Totals) Totals {
	return Totals{
		Calories: t.Calories + o.Calories,
		Protein:  t.Protein + o.Protein,
		Carbs:    t.Carbs + o.Carbs,
		Fats:     t.Fats + o.Fats,
	}
}

// Meal is one logged eating event. Older records carry flattened total*
// fields instead of the nested Totals.
type Meal struct {
	ID          string               `json:"id"`
	UserID      string               `json:"userId,omitempty"`
	Description string               `json:"description"`
	Items       []nutrition.FoodItem `json:"items"`
	Totals      *Totals              `json:"totals,omitempty"`
	Source      nutrition.Source     `json:"source,omitempty"`

	TotalCalories *float64 `json:"totalCalories,omitempty"`
	TotalProtein  *float64 `json:"totalProtein,omitempty"`
	TotalCarbs    *float64 `json:"totalCarbs,omitempty"`
	TotalFats     *float64 `json:"totalFats,omitempty"`

	Timestamp time.Time  `json:"timestamp"`
	Date      string     `json:"date"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// ResolvedTotals reads the nested totals, else the flattened fields.
// Missing values count as zero.
func (m Meal) ResolvedTotals() Totals {
	if m.Totals != nil {
		return *m.Totals
	}
	return Totals{
		Calories: deref(m.TotalCalories),
		Protein:  deref(m.TotalProtein),
		Carbs:    deref(m.TotalCarbs),
		Fats:     deref(m.TotalFats),
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Aggregate sums the resolved totals of meals without rounding.
func Aggregate(meals []Meal) DayTotals {
	var day DayTotals
	for _, m := range meals {
		day = day.Add(m.ResolvedTotals())
	}
	return day
}

// Clock stamps meals with the current instant and its day key.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// NewClock returns a wall clock in loc. A nil loc means time.Local.
func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return Clock{Now: time.Now, Location: loc}
}

func (c Clock) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Stamp returns the current instant and its day key.
func (c Clock) Stamp() (time.Time, string) {
	t := c.now()
	return t, DayKey(t)
}

// Today returns the current day key.
func (c Clock) Today() string {
	return DayKey(c.now())
}

// Time returns the current instant in the clock's location.
func (c Clock) Time() time.Time {
	return c.now()
}

// DayKey formats t as a day key in t's location.
func DayKey(t time.Time) string {
	return t.Format(DayKeyLayout)
}
