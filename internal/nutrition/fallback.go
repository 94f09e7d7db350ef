package nutrition

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

type profile struct {
	calories, protein, carbs, fats float64
}

type keywordGroup struct {
	patterns []string
	base     profile
}

// keywordTable is scanned in order; the order decides item order in results.
var keywordTable = []keywordGroup{
	{[]string{"egg", "eggs"}, profile{70, 6, 0.5, 5}},
	{[]string{"rice", "white rice", "brown rice"}, profile{205, 4.3, 45, 0.4}},
	{[]string{"chicken", "chicken breast"}, profile{165, 31, 0, 3.6}},
	{[]string{"bread", "toast", "slice"}, profile{80, 2.3, 15, 1}},
	{[]string{"banana"}, profile{105, 1.3, 27, 0.4}},
	{[]string{"apple"}, profile{95, 0.5, 25, 0.3}},
	{[]string{"milk"}, profile{150, 8, 12, 8}},
	{[]string{"pasta"}, profile{220, 8, 44, 1.1}},
	{[]string{"cheese"}, profile{113, 7, 1, 9}},
	{[]string{"beef", "steak"}, profile{250, 26, 0, 15}},
	{[]string{"salmon", "fish"}, profile{208, 22, 0, 12}},
	{[]string{"oatmeal", "oats"}, profile{150, 5, 27, 3}},
	{[]string{"yogurt", "greek yogurt"}, profile{100, 17, 6, 0}},
	{[]string{"avocado"}, profile{234, 3, 12, 21}},
	{[]string{"almonds", "nuts"}, profile{164, 6, 6, 14}},
	{[]string{"potato", "potatoes"}, profile{161, 4, 37, 0.2}},
	{[]string{"broccoli"}, profile{34, 3, 7, 0.4}},
	{[]string{"spinach"}, profile{23, 3, 4, 0.4}},
	{[]string{"quinoa"}, profile{222, 8, 39, 4}},
	{[]string{"turkey"}, profile{189, 29, 0, 7}},
}

// placeholder is used when nothing in the description is recognized.
var placeholder = profile{200, 10, 20, 5}

const (
	defaultUnit            = "serving"
	unrecognizedMealName   = "Unrecognized meal"
	quantityUnitExpression = `(?:cups?|pieces?|slices?|g|grams?)?`
)

type compiledPattern struct {
	word     string
	match    *regexp.Regexp
	quantity *regexp.Regexp
}

type compiledGroup struct {
	patterns []compiledPattern
	base     profile
}

var compiledTable = compileTable(keywordTable)

func compileTable(groups []keywordGroup) []compiledGroup {
	out := make([]compiledGroup, 0, len(groups))
	for _, g := range groups {
		cg := compiledGroup{base: g.base}
		for _, p := range g.patterns {
			word := `\b` + regexp.QuoteMeta(p) + `(?:e?s)?\b`
			cg.patterns = append(cg.patterns, compiledPattern{
				word:     p,
				match:    regexp.MustCompile(`(?i)` + word),
				quantity: regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*` + quantityUnitExpression + `\s*` + word),
			})
		}
		out = append(out, cg)
	}
	return out
}

// AnalyzeOffline estimates nutrition from keywords in description. It always
// returns at least one item.
func AnalyzeOffline(description string) Result {
	var items []FoodItem
	for _, g := range compiledTable {
		for _, p := range g.patterns {
			if !p.match.MatchString(description) {
				continue
			}
			q := extractQuantity(p.quantity, description)
			items = append(items, FoodItem{
				Name:     itemName(p.word, q),
				Quantity: q,
				Unit:     defaultUnit,
				Calories: math.Round(g.base.calories * q),
				Protein:  Round1(g.base.protein * q),
				Carbs:    Round1(g.base.carbs * q),
				Fats:     Round1(g.base.fats * q),
			})
			break
		}
	}

	if len(items) == 0 {
		name := strings.TrimSpace(description)
		if name == "" {
			name = unrecognizedMealName
		}
		items = []FoodItem{{
			Name:     name,
			Quantity: 1,
			Unit:     defaultUnit,
			Calories: placeholder.calories,
			Protein:  placeholder.protein,
			Carbs:    placeholder.carbs,
			Fats:     placeholder.fats,
		}}
	}

	return Normalize(items)
}

func extractQuantity(re *regexp.Regexp, description string) float64 {
	m := re.FindStringSubmatch(description)
	if m == nil {
		return 1
	}
	q, err := strconv.ParseFloat(m[1], 64)
	if err != nil || q <= 0 || math.IsInf(q, 0) {
		return 1
	}
	return q
}

func itemName(word string, q float64) string {
	if q <= 1 {
		return word
	}
	name := strconv.FormatFloat(q, 'f', -1, 64) + " " + word
	if !strings.HasSuffix(word, "s") {
		name += "s"
	}
	return name
}
