package nutrition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is a parsed model reply. It is one of CanonicalPayload,
// NutrientMapPayload or UnrecognizedPayload.
type Payload interface {
	isPayload()
}

// CanonicalPayload already carries an items array.
type CanonicalPayload struct {
	Items []FoodItem
}

// NutrientMapPayload carries a single nutrient map for the whole meal.
type NutrientMapPayload struct {
	Meal     string
	Calories float64
	Protein  float64
	Carbs    float64
	Fats     float64
}

// UnrecognizedPayload is a valid JSON object of no known shape.
type UnrecognizedPayload struct {
	Keys []string
}

func (CanonicalPayload) isPayload()    {}
func (NutrientMapPayload) isPayload()  {}
func (UnrecognizedPayload) isPayload() {}

// flexNumber decodes a number, a numeric string, null or {"value": n}.
// Anything negative or non-finite decodes to zero.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}

	switch b[0] {
	case '{':
		var wrapped struct {
			Value *flexNumber `json:"value"`
		}
		if err := json.Unmarshal(b, &wrapped); err != nil {
			return err
		}
		if wrapped.Value != nil {
			*f = *wrapped.Value
		} else {
			*f = 0
		}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("non-numeric value %q", s)
		}
		*f = flexNumber(sanitize(v))
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexNumber(sanitize(v))
	return nil
}

type rawItem struct {
	Name     string     `json:"name"`
	Quantity flexNumber `json:"quantity"`
	Unit     string     `json:"unit"`
	Calories flexNumber `json:"calories"`
	Protein  flexNumber `json:"protein"`
	Carbs    flexNumber `json:"carbs"`
	Fats     flexNumber `json:"fats"`
}

type rawNutrients struct {
	Calories      *flexNumber `json:"calories"`
	Protein       *flexNumber `json:"protein"`
	Carbohydrates *flexNumber `json:"carbohydrates"`
	Carbs         *flexNumber `json:"carbs"`
	Fats          *flexNumber `json:"fats"`
	Fat           *flexNumber `json:"fat"`
}

// parsePayload decodes a JSON object and classifies its shape.
func parsePayload(data string) (Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, err
	}

	if raw, ok := fields["items"]; ok {
		var items []rawItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		return CanonicalPayload{Items: toFoodItems(items)}, nil
	}

	nutrientsRaw, hasNutrients := fields["nutrients"]
	mealRaw, hasMeal := fields["meal"]
	if hasNutrients || hasMeal {
		var p NutrientMapPayload
		if hasMeal {
			// Only a string names the meal; other meal values are ignored.
			var name string
			if err := json.Unmarshal(mealRaw, &name); err == nil {
				p.Meal = strings.TrimSpace(name)
			}
		}
		if hasNutrients && !bytes.Equal(bytes.TrimSpace(nutrientsRaw), []byte("null")) {
			var n rawNutrients
			if err := json.Unmarshal(nutrientsRaw, &n); err != nil {
				return nil, fmt.Errorf("nutrients: %w", err)
			}
			p.Calories = firstOf(n.Calories)
			p.Protein = firstOf(n.Protein)
			p.Carbs = firstOf(n.Carbohydrates, n.Carbs)
			p.Fats = firstOf(n.Fats, n.Fat)
		}
		return p, nil
	}

	return UnrecognizedPayload{Keys: keysOf(fields)}, nil
}

func toFoodItems(raw []rawItem) []FoodItem {
	items := make([]FoodItem, 0, len(raw))
	for _, r := range raw {
		q := float64(r.Quantity)
		if q <= 0 {
			q = 1
		}
		unit := strings.TrimSpace(r.Unit)
		if unit == "" {
			unit = defaultUnit
		}
		name := strings.TrimSpace(r.Name)
		if name == "" {
			name = analyzedMealName
		}
		items = append(items, FoodItem{
			Name:     name,
			Quantity: q,
			Unit:     unit,
			Calories: float64(r.Calories),
			Protein:  float64(r.Protein),
			Carbs:    float64(r.Carbs),
			Fats:     float64(r.Fats),
		})
	}
	return items
}

func firstOf(vals ...*flexNumber) float64 {
	for _, v := range vals {
		if v != nil {
			return float64(*v)
		}
	}
	return 0
}

func keysOf(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
