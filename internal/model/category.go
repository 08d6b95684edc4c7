package model

import "strings"

// Category doubles as the department name a worker is attached to.
type Category string

const (
	CategoryRoadTraffic Category = "Road & Traffic"
	CategoryElectricity Category = "Electricity"
	CategoryWater       Category = "Water Supply"
	CategorySanitation  Category = "Sanitation"
	CategoryParks       Category = "Parks & Environment"
	CategoryOther       Category = "Other"

	// AllDepartments is the roster sentinel for a worker attached to every department.
	AllDepartments = "All"
)

var Categories = []Category{
	CategoryRoadTraffic,
	CategoryElectricity,
	CategoryWater,
	CategorySanitation,
	CategoryParks,
	CategoryOther,
}

var categoryAliases = map[string]Category{
	"road":        CategoryRoadTraffic,
	"roads":       CategoryRoadTraffic,
	"traffic":     CategoryRoadTraffic,
	"pothole":     CategoryRoadTraffic,
	"electricity": CategoryElectricity,
	"electrical":  CategoryElectricity,
	"power":       CategoryElectricity,
	"water":       CategoryWater,
	"sanitation":  CategorySanitation,
	"garbage":     CategorySanitation,
	"waste":       CategorySanitation,
	"parks":       CategoryParks,
	"park":        CategoryParks,
	"environment": CategoryParks,
	"other":       CategoryOther,
}

// ParseCategory maps free-form classifier or client input onto a department.
func ParseCategory(raw string) (Category, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, c := range Categories {
		if strings.EqualFold(trimmed, string(c)) {
			return c, true
		}
	}
	if c, ok := categoryAliases[strings.ToLower(trimmed)]; ok {
		return c, true
	}
	return CategoryOther, false
}
