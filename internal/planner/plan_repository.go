package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/civil"

	"mealboard/internal/apperr"
	"mealboard/internal/database"
)

// Store persists the meal plan and its archive.
type Store interface {
	// Load returns the current plan.
	Load(ctx context.Context) (*MealPlan, error)
	// Update loads the plan, applies fn and persists the result in one transaction. Nothing is
	// written when fn returns an error.
	Update(ctx context.Context, fn func(tx *Tx) error) error
	// ListArchived returns archived plans, newest first.
	ListArchived(ctx context.Context) ([]ArchivedMealPlan, error)
	// DeleteArchived removes an archived plan. It returns apperr.ErrNotFound for unknown ids.
	DeleteArchived(ctx context.Context, id string) error
}

// Tx is the unit of work handed to Store.Update.
type Tx struct {
	Plan     *MealPlan
	archives []ArchivedMealPlan
}

// Archive schedules a snapshot to be stored with the transaction.
func (tx *Tx) Archive(a ArchivedMealPlan) {
	tx.archives = append(tx.archives, a)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PlanRepository is a database-backed repository for the meal plan.
type PlanRepository struct {
	db *database.DB
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db *database.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Load returns the current plan with days ascending and meals in their stored order.
func (r *PlanRepository) Load(ctx context.Context) (*MealPlan, error) {
	return loadPlan(ctx, r.db.SQL)
}

// Update implements Store.
func (r *PlanRepository) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return r.db.WithTx(ctx, func(sqlTx *sql.Tx) error {
		plan, err := loadPlan(ctx, sqlTx)
		if err != nil {
			return err
		}

		tx := &Tx{Plan: plan}
		if err := fn(tx); err != nil {
			return err
		}

		if err := savePlan(ctx, sqlTx, tx.Plan); err != nil {
			return err
		}
		for _, a := range tx.archives {
			if err := insertArchive(ctx, sqlTx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListArchived implements Store.
func (r *PlanRepository) ListArchived(ctx context.Context) ([]ArchivedMealPlan, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		`SELECT id, start_date, end_date, data, created_at FROM archived_meal_plans ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived meal plans: %w", err)
	}
	defer rows.Close()

	archived := []ArchivedMealPlan{}
	for rows.Next() {
		var (
			a                         ArchivedMealPlan
			start, end, data, created string
		)
		if err := rows.Scan(&a.ID, &start, &end, &data, &created); err != nil {
			return nil, fmt.Errorf("failed to scan archived meal plan: %w", err)
		}
		if a.StartDate, err = civil.ParseDate(start); err != nil {
			return nil, fmt.Errorf("archived meal plan %s: %w", a.ID, err)
		}
		if a.EndDate, err = civil.ParseDate(end); err != nil {
			return nil, fmt.Errorf("archived meal plan %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = database.ParseTime(created); err != nil {
			return nil, err
		}
		// A corrupt snapshot is shown as an empty plan rather than hiding the whole history.
		if err := json.Unmarshal([]byte(data), &a.Days); err != nil || a.Days == nil {
			a.Days = []DayPlan{}
		}
		archived = append(archived, a)
	}
	return archived, rows.Err()
}

// DeleteArchived implements Store.
func (r *PlanRepository) DeleteArchived(ctx context.Context, id string) error {
	res, err := r.db.SQL.ExecContext(ctx, `DELETE FROM archived_meal_plans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete archived meal plan %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete archived meal plan %s: %w", id, err)
	}
	if n == 0 {
		return apperr.NotFound("Archived meal plan not found")
	}
	return nil
}

func loadPlan(ctx context.Context, q querier) (*MealPlan, error) {
	var start, current sql.NullString
	err := q.QueryRowContext(ctx, `SELECT start_date, current_day FROM meal_plans WHERE id = ?`, SingletonID).
		Scan(&start, &current)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Meal plan not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load meal plan: %w", err)
	}

	plan := &MealPlan{Days: []DayPlan{}}
	if plan.StartDate, err = parseNullDate(start); err != nil {
		return nil, err
	}
	if plan.CurrentDay, err = parseNullDate(current); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT d.date, m.id, m.name, m.created_at
		 FROM day_plans d
		 LEFT JOIN meals m ON m.day_date = d.date
		 WHERE d.meal_plan_id = ?
		 ORDER BY d.date, m.position, m.created_at`, SingletonID)
	if err != nil {
		return nil, fmt.Errorf("failed to load days: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			date                  string
			mealID, name, created sql.NullString
		)
		if err := rows.Scan(&date, &mealID, &name, &created); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		d, err := civil.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("invalid stored date %q: %w", date, err)
		}
		if n := len(plan.Days); n == 0 || plan.Days[n-1].Date != d {
			plan.Days = append(plan.Days, DayPlan{Date: d, Meals: []Meal{}})
		}
		if !mealID.Valid {
			continue
		}
		createdAt, err := database.ParseTime(created.String)
		if err != nil {
			return nil, err
		}
		last := &plan.Days[len(plan.Days)-1]
		last.Meals = append(last.Meals, Meal{ID: mealID.String, Name: name.String, CreatedAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load days: %w", err)
	}
	return plan, nil
}

// savePlan replaces the stored days and meals with the plan's.
func savePlan(ctx context.Context, q querier, plan *MealPlan) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE meal_plans SET start_date = ?, current_day = ? WHERE id = ?`,
		formatNullDate(plan.StartDate), formatNullDate(plan.CurrentDay), SingletonID); err != nil {
		return fmt.Errorf("failed to update meal plan: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM day_plans WHERE meal_plan_id = ?`, SingletonID); err != nil {
		return fmt.Errorf("failed to clear days: %w", err)
	}

	for _, day := range plan.Days {
		date := day.Date.String()
		if _, err := q.ExecContext(ctx,
			`INSERT INTO day_plans (date, meal_plan_id) VALUES (?, ?)`, date, SingletonID); err != nil {
			return fmt.Errorf("failed to insert day %s: %w", date, err)
		}
		for pos, meal := range day.Meals {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO meals (id, day_date, name, position, created_at) VALUES (?, ?, ?, ?, ?)`,
				meal.ID, date, meal.Name, pos, database.FormatTime(meal.CreatedAt)); err != nil {
				return fmt.Errorf("failed to insert meal %s: %w", meal.ID, err)
			}
		}
	}
	return nil
}

func insertArchive(ctx context.Context, q querier, a ArchivedMealPlan) error {
	data, err := json.Marshal(a.Days)
	if err != nil {
		return fmt.Errorf("failed to encode archived meal plan: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO archived_meal_plans (id, start_date, end_date, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.StartDate.String(), a.EndDate.String(), string(data), database.FormatTime(a.CreatedAt)); err != nil {
		return fmt.Errorf("failed to archive meal plan: %w", err)
	}
	return nil
}

func parseNullDate(s sql.NullString) (*civil.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored date %q: %w", s.String, err)
	}
	return &d, nil
}

func formatNullDate(d *civil.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
