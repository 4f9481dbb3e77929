package planner

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

// SingletonID is the id of the one meal plan the household owns.
const SingletonID = "singleton"

// Meal is a named dish scheduled on a day.
type Meal struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// DayPlan holds the meals of a single calendar date.
type DayPlan struct {
	Date  civil.Date `json:"date"`
	Meals []Meal     `json:"meals"`
}

// MealPlan is the household's current plan. Days are sorted by date and, once any meal has
// been deleted or moved, form a gap-free run starting at StartDate.
type MealPlan struct {
	StartDate  *civil.Date `json:"startDate"`
	CurrentDay *civil.Date `json:"currentDay"`
	Days       []DayPlan   `json:"days"`
}

// ArchivedMealPlan is a read-only snapshot taken when a plan is reset.
type ArchivedMealPlan struct {
	ID        string     `json:"id"`
	StartDate civil.Date `json:"startDate"`
	EndDate   civil.Date `json:"endDate"`
	Days      []DayPlan  `json:"days"`
	CreatedAt time.Time  `json:"createdAt"`
}

// dayIndex returns the index of date in p.Days, or -1.
func (p *MealPlan) dayIndex(date civil.Date) int {
	for i := range p.Days {
		if p.Days[i].Date == date {
			return i
		}
	}
	return -1
}

// ensureDay returns the index of date, inserting an empty day in sorted position when absent.
func (p *MealPlan) ensureDay(date civil.Date) int {
	if i := p.dayIndex(date); i >= 0 {
		return i
	}
	i := 0
	for i < len(p.Days) && p.Days[i].Date.Before(date) {
		i++
	}
	p.Days = append(p.Days, DayPlan{})
	copy(p.Days[i+1:], p.Days[i:])
	p.Days[i] = DayPlan{Date: date, Meals: []Meal{}}
	return i
}

// removeDay deletes the (empty) day at date and closes the gap it leaves.
func (p *MealPlan) removeDay(date civil.Date) {
	i := p.dayIndex(date)
	if i < 0 {
		return
	}
	remaining := make([]DayPlan, 0, len(p.Days)-1)
	remaining = append(remaining, p.Days[:i]...)
	remaining = append(remaining, p.Days[i+1:]...)

	p.Days = shiftAfter(remaining, date)
	if p.CurrentDay != nil && p.CurrentDay.After(date) {
		prev := p.CurrentDay.AddDays(-1)
		p.CurrentDay = &prev
	}
}

// snapshot returns a deep copy of the days.
func (p *MealPlan) snapshot() []DayPlan {
	days := make([]DayPlan, len(p.Days))
	for i, d := range p.Days {
		days[i] = DayPlan{Date: d.Date, Meals: append([]Meal{}, d.Meals...)}
	}
	return days
}

// insertMeal places meal among meals by creation time, so a day lists its meals oldest first no
// matter how they arrived there.
func insertMeal(meals []Meal, meal Meal) []Meal {
	i := sort.Search(len(meals), func(i int) bool {
		m := meals[i]
		if !m.CreatedAt.Equal(meal.CreatedAt) {
			return m.CreatedAt.After(meal.CreatedAt)
		}
		return m.ID > meal.ID
	})
	meals = append(meals, Meal{})
	copy(meals[i+1:], meals[i:])
	meals[i] = meal
	return meals
}

func removeMeal(meals []Meal, i int) []Meal {
	return append(meals[:i:i], meals[i+1:]...)
}

func indexOfMeal(meals []Meal, id string) int {
	for i := range meals {
		if meals[i].ID == id {
			return i
		}
	}
	return -1
}

// shiftAfter returns a copy of days in which every day dated after deleted moves back by one
// calendar day. Days on or before deleted are unchanged.
func shiftAfter(days []DayPlan, deleted civil.Date) []DayPlan {
	shifted := make([]DayPlan, len(days))
	for i, d := range days {
		shifted[i] = d
		if d.Date.After(deleted) {
			shifted[i].Date = d.Date.AddDays(-1)
		}
	}
	return shifted
}
