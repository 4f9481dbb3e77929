package trmnl

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mealboard/internal/planner"
)

const emptyDisplayText = "No meals planned"

// Payload is the body posted to the display webhook.
type Payload struct {
	MergeVariables MergeVariables `json:"merge_variables"`
	MergeStrategy  string         `json:"merge_strategy"`
}

// MergeVariables are the template variables rendered by the display plugin.
type MergeVariables struct {
	StartDate   *string `json:"startDate"`
	LastUpdated string  `json:"lastUpdated"`
	TotalDays   int     `json:"totalDays"`
	TotalMeals  int     `json:"totalMeals"`
	Days        []Day   `json:"days"`
	DisplayText string  `json:"displayText"`
}

// Day is one planned day as shown on the display.
type Day struct {
	Date          string   `json:"date"`
	DayName       string   `json:"dayName"`
	FormattedDate string   `json:"formattedDate"`
	Meals         []string `json:"meals"`
	MealCount     int      `json:"mealCount"`
}

// BuildPayload renders plan for the display.
func BuildPayload(plan *planner.MealPlan, now time.Time) Payload {
	vars := MergeVariables{
		LastUpdated: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Days:        []Day{},
		DisplayText: emptyDisplayText,
	}
	if plan == nil || plan.StartDate == nil || len(plan.Days) == 0 {
		return Payload{MergeVariables: vars, MergeStrategy: "replace"}
	}

	start := plan.StartDate.String()
	vars.StartDate = &start
	vars.TotalDays = len(plan.Days)

	var b strings.Builder
	fmt.Fprintf(&b, "MEAL PLAN - Week of %s\n\n", plan.StartDate.In(time.UTC).Format("Jan 2"))
	for _, dp := range plan.Days {
		t := dp.Date.In(time.UTC)
		day := Day{
			Date:          dp.Date.String(),
			DayName:       t.Format("Mon"),
			FormattedDate: t.Format("Jan 2"),
			Meals:         make([]string, 0, len(dp.Meals)),
			MealCount:     len(dp.Meals),
		}
		fmt.Fprintf(&b, "%s %s:\n", day.DayName, day.FormattedDate)
		for _, m := range dp.Meals {
			day.Meals = append(day.Meals, m.Name)
			fmt.Fprintf(&b, "• %s\n", m.Name)
		}
		b.WriteString("\n")

		vars.TotalMeals += day.MealCount
		vars.Days = append(vars.Days, day)
	}
	vars.DisplayText = strings.TrimSpace(b.String())
	return Payload{MergeVariables: vars, MergeStrategy: "replace"}
}

// Hash fingerprints the displayed content. LastUpdated is left out so that an unchanged plan
// hashes the same on every run.
func (p Payload) Hash() (string, error) {
	vars := p.MergeVariables
	vars.LastUpdated = ""
	data, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("failed to encode merge variables: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
