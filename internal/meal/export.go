package meal

import (
	"fmt"
	"time"
)

// Export is the downloadable snapshot of one day.
type Export struct {
	Date   string       `json:"date"`
	Totals DayTotals    `json:"totals"`
	Meals  []ExportMeal `json:"meals"`
}

type ExportMeal struct {
	Time        time.Time `json:"time"`
	Description string    `json:"description"`
	Totals      Totals    `json:"totals"`
}

// BuildExport snapshots meals for day.
func BuildExport(day time.Time, meals []Meal) Export {
	out := Export{
		Date:   DayKey(day),
		Totals: Aggregate(meals),
		Meals:  make([]ExportMeal, 0, len(meals)),
	}
	for _, m := range meals {
		out.Meals = append(out.Meals, ExportMeal{
			Time:        m.Timestamp,
			Description: m.Description,
			Totals:      m.ResolvedTotals(),
		})
	}
	return out
}

// ExportFileName is the download name for a day's export.
func ExportFileName(day time.Time) string {
	return fmt.Sprintf("meals-%s.json", day.Format("2006-01-02"))
}
