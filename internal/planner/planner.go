package planner

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealboard/internal/apperr"
)

// Service maintains the meal plan. Every mutation runs in a single store transaction, so readers
// never observe a partially shifted sequence of days.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a new Service instance.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger.Named("planner"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Get returns the current meal plan.
func (s *Service) Get(ctx context.Context) (*MealPlan, error) {
	return s.store.Load(ctx)
}

// SetStartDate sets the first day of the plan and moves the current day to it.
func (s *Service) SetStartDate(ctx context.Context, date civil.Date) (*MealPlan, error) {
	if !date.IsValid() {
		return nil, apperr.InvalidInput("Start date is required")
	}
	err := s.store.Update(ctx, func(tx *Tx) error {
		start, current := date, date
		tx.Plan.StartDate = &start
		tx.Plan.CurrentDay = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("start date set", zap.Stringer("start_date", date))
	return s.store.Load(ctx)
}

// AddMeal appends a meal to day, or to the current day when day is nil. Adding to the current
// day advances it to the following date.
func (s *Service) AddMeal(ctx context.Context, name string, day *civil.Date) (Meal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Meal{}, apperr.InvalidInput("Meal name is required")
	}
	if day != nil && !day.IsValid() {
		return Meal{}, apperr.InvalidInput("Invalid day")
	}

	meal := Meal{ID: s.newID(), Name: name, CreatedAt: s.now()}
	err := s.store.Update(ctx, func(tx *Tx) error {
		plan := tx.Plan
		if plan.StartDate == nil {
			return apperr.InvalidState("Start date must be set before adding meals")
		}

		target := *plan.StartDate
		switch {
		case day != nil:
			target = *day
		case plan.CurrentDay != nil:
			target = *plan.CurrentDay
		}

		i := plan.ensureDay(target)
		plan.Days[i].Meals = append(plan.Days[i].Meals, meal)

		if day == nil {
			next := target.AddDays(1)
			plan.CurrentDay = &next
		}
		return nil
	})
	if err != nil {
		return Meal{}, err
	}
	return meal, nil
}

// DeleteMeal removes a meal from day. When the day becomes empty it is removed and every later
// day moves back by one, keeping the sequence gap-free.
func (s *Service) DeleteMeal(ctx context.Context, mealID string, day civil.Date) error {
	return s.store.Update(ctx, func(tx *Tx) error {
		plan := tx.Plan
		di := plan.dayIndex(day)
		if di < 0 {
			return apperr.NotFound("Day not found")
		}
		mi := indexOfMeal(plan.Days[di].Meals, mealID)
		if mi < 0 {
			return apperr.NotFound("Meal not found")
		}

		meals := plan.Days[di].Meals
		plan.Days[di].Meals = append(meals[:mi:mi], meals[mi+1:]...)
		if len(plan.Days[di].Meals) == 0 {
			plan.removeDay(day)
			s.logger.Debug("day emptied, later days shifted", zap.Stringer("day", day))
		}
		return nil
	})
}

// MoveMeal moves a meal from sourceDay to targetDay, creating the target day if needed. An
// emptied source day is removed the same way DeleteMeal removes it.
func (s *Service) MoveMeal(ctx context.Context, mealID string, sourceDay, targetDay civil.Date) error {
	if sourceDay == targetDay {
		return nil
	}
	return s.store.Update(ctx, func(tx *Tx) error {
		plan := tx.Plan
		si := plan.dayIndex(sourceDay)
		if si < 0 {
			return apperr.NotFound("Source day not found")
		}
		mi := indexOfMeal(plan.Days[si].Meals, mealID)
		if mi < 0 {
			return apperr.NotFound("Meal not found")
		}

		meal := plan.Days[si].Meals[mi]
		plan.Days[si].Meals = removeMeal(plan.Days[si].Meals, mi)

		ti := plan.ensureDay(targetDay)
		plan.Days[ti].Meals = insertMeal(plan.Days[ti].Meals, meal)

		if len(plan.Days[plan.dayIndex(sourceDay)].Meals) == 0 {
			plan.removeDay(sourceDay)
		}
		return nil
	})
}

// SwapMeals exchanges two meals between their days. Each lands in its new day by creation time.
// Days are never added or removed.
func (s *Service) SwapMeals(ctx context.Context, meal1ID string, meal1Day civil.Date, meal2ID string, meal2Day civil.Date) error {
	return s.store.Update(ctx, func(tx *Tx) error {
		plan := tx.Plan
		d1, d2 := plan.dayIndex(meal1Day), plan.dayIndex(meal2Day)
		if d1 < 0 || d2 < 0 {
			return apperr.NotFound("One or both days not found")
		}
		m1, m2 := indexOfMeal(plan.Days[d1].Meals, meal1ID), indexOfMeal(plan.Days[d2].Meals, meal2ID)
		if m1 < 0 || m2 < 0 {
			return apperr.NotFound("One or both meals not found")
		}
		if d1 == d2 {
			return nil
		}
		meal1, meal2 := plan.Days[d1].Meals[m1], plan.Days[d2].Meals[m2]
		plan.Days[d1].Meals = insertMeal(removeMeal(plan.Days[d1].Meals, m1), meal2)
		plan.Days[d2].Meals = insertMeal(removeMeal(plan.Days[d2].Meals, m2), meal1)
		return nil
	})
}

// Reset archives the current plan (when it has a start date and at least one day) and clears it.
func (s *Service) Reset(ctx context.Context) error {
	archived := false
	err := s.store.Update(ctx, func(tx *Tx) error {
		plan := tx.Plan
		if plan.StartDate != nil && len(plan.Days) > 0 {
			tx.Archive(ArchivedMealPlan{
				ID:        s.newID(),
				StartDate: *plan.StartDate,
				EndDate:   plan.Days[len(plan.Days)-1].Date,
				Days:      plan.snapshot(),
				CreatedAt: s.now(),
			})
			archived = true
		}
		plan.StartDate = nil
		plan.CurrentDay = nil
		plan.Days = []DayPlan{}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("meal plan reset", zap.Bool("archived", archived))
	return nil
}

// History returns archived plans, newest first.
func (s *Service) History(ctx context.Context) ([]ArchivedMealPlan, error) {
	return s.store.ListArchived(ctx)
}

// DeleteArchived removes one archived plan.
func (s *Service) DeleteArchived(ctx context.Context, id string) error {
	return s.store.DeleteArchived(ctx, id)
}
