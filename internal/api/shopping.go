package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"mealboard/internal/apperr"
)

type addItemRequest struct {
	Name string `json:"name"`
}

type reorderRequest struct {
	ItemIDs []string `json:"itemIds"`
}

type importRequest struct {
	URL string `json:"url"`
}

type importResponse struct {
	Added int `json:"added"`
}

type sortingPromptRequest struct {
	SortingPrompt json.RawMessage `json:"sortingPrompt"`
}

type defaultPromptResponse struct {
	DefaultPrompt string `json:"defaultPrompt"`
}

func (s *Server) handleGetShoppingList(c echo.Context) error {
	list, err := s.deps.Shopping.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleAddItem(c echo.Context) error {
	var req addItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	item, err := s.deps.Shopping.AddItem(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, item)
}

func (s *Server) handleToggleItem(c echo.Context) error {
	item, err := s.deps.Shopping.ToggleItem(c.Request().Context(), c.Param("itemId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) handleDeleteItem(c echo.Context) error {
	if err := s.deps.Shopping.DeleteItem(c.Request().Context(), c.Param("itemId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleReorder(c echo.Context) error {
	var req reorderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.ItemIDs == nil {
		return apperr.InvalidInput("itemIds array is required")
	}
	if err := s.deps.Shopping.Reorder(c.Request().Context(), req.ItemIDs); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, success)
}

func (s *Server) handleArchive(c echo.Context) error {
	list, err := s.deps.Shopping.Archive(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleShoppingHistory(c echo.Context) error {
	history, err := s.deps.Shopping.History(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) handleDeleteArchivedList(c echo.Context) error {
	if err := s.deps.Shopping.DeleteArchived(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSort(c echo.Context) error {
	if _, err := s.deps.Shopping.Sort(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, success)
}

func (s *Server) handleImport(c echo.Context) error {
	if s.deps.Ingredients == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "Recipe import is not configured")
	}
	var req importRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	added, err := s.deps.Shopping.Import(c.Request().Context(), s.deps.Ingredients, req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, importResponse{Added: len(added)})
}

func (s *Server) handleGetShoppingConfig(c echo.Context) error {
	cfg, err := s.deps.Shopping.Config(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

// handleUpdateShoppingConfig accepts {"sortingPrompt": null} to restore the default or a
// non-empty string to replace it.
func (s *Server) handleUpdateShoppingConfig(c echo.Context) error {
	var req sortingPromptRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	invalid := apperr.InvalidInput("sortingPrompt must be null or a non-empty string")
	var prompt *string
	switch raw := strings.TrimSpace(string(req.SortingPrompt)); raw {
	case "":
		return invalid
	case "null":
	default:
		var p string
		if err := json.Unmarshal(req.SortingPrompt, &p); err != nil {
			return invalid
		}
		prompt = &p
	}

	if err := s.deps.Shopping.UpdateSortingPrompt(c.Request().Context(), prompt); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, success)
}

func (s *Server) handleDefaultPrompt(c echo.Context) error {
	return c.JSON(http.StatusOK, defaultPromptResponse{DefaultPrompt: s.deps.Shopping.DefaultSortingPrompt()})
}
