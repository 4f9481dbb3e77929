package api

import (
	"net/http"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/labstack/echo/v4"

	"mealboard/internal/apperr"
)

type startDateRequest struct {
	StartDate string `json:"startDate"`
}

type addMealRequest struct {
	Name string `json:"name"`
	Day  string `json:"day"`
}

type moveMealRequest struct {
	SourceDay string `json:"sourceDay"`
	TargetDay string `json:"targetDay"`
}

type swapMealsRequest struct {
	Meal1ID  string `json:"meal1Id"`
	Meal1Day string `json:"meal1Day"`
	Meal2ID  string `json:"meal2Id"`
	Meal2Day string `json:"meal2Day"`
}

func parseDate(s string) (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, apperr.InvalidInput("Invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

func (s *Server) handleGetMealPlan(c echo.Context) error {
	plan, err := s.deps.Plans.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) handleSetStartDate(c echo.Context) error {
	var req startDateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.StartDate) == "" {
		return apperr.InvalidInput("Start date is required")
	}
	date, err := parseDate(req.StartDate)
	if err != nil {
		return err
	}

	plan, err := s.deps.Plans.SetStartDate(c.Request().Context(), date)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) handleResetMealPlan(c echo.Context) error {
	if err := s.deps.Plans.Reset(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMealPlanHistory(c echo.Context) error {
	history, err := s.deps.Plans.History(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) handleDeleteArchivedMealPlan(c echo.Context) error {
	if err := s.deps.Plans.DeleteArchived(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAddMeal(c echo.Context) error {
	var req addMealRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Name) == "" {
		return apperr.InvalidInput("Meal name is required")
	}

	var day *civil.Date
	if req.Day != "" {
		d, err := parseDate(req.Day)
		if err != nil {
			return err
		}
		day = &d
	}

	meal, err := s.deps.Plans.AddMeal(c.Request().Context(), req.Name, day)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, meal)
}

func (s *Server) handleDeleteMeal(c echo.Context) error {
	raw := c.QueryParam("day")
	if raw == "" {
		return apperr.InvalidInput("Day query parameter is required")
	}
	day, err := parseDate(raw)
	if err != nil {
		return err
	}

	if err := s.deps.Plans.DeleteMeal(c.Request().Context(), c.Param("mealId"), day); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMoveMeal(c echo.Context) error {
	var req moveMealRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.SourceDay == "" || req.TargetDay == "" {
		return apperr.InvalidInput("Source day and target day are required")
	}
	source, err := parseDate(req.SourceDay)
	if err != nil {
		return err
	}
	target, err := parseDate(req.TargetDay)
	if err != nil {
		return err
	}

	if err := s.deps.Plans.MoveMeal(c.Request().Context(), c.Param("mealId"), source, target); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, success)
}

func (s *Server) handleSwapMeals(c echo.Context) error {
	var req swapMealsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Meal1ID == "" || req.Meal1Day == "" || req.Meal2ID == "" || req.Meal2Day == "" {
		return apperr.InvalidInput("All meal IDs and days are required")
	}
	day1, err := parseDate(req.Meal1Day)
	if err != nil {
		return err
	}
	day2, err := parseDate(req.Meal2Day)
	if err != nil {
		return err
	}

	if err := s.deps.Plans.SwapMeals(c.Request().Context(), req.Meal1ID, day1, req.Meal2ID, day2); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, success)
}
