package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mealboard/internal/metrics"
)

type pushResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	PushedAt string `json:"pushedAt,omitempty"`
	Error    string `json:"error,omitempty"`
}

type pushConfigResponse struct {
	Enabled       bool `json:"enabled"`
	HasWebhookURL bool `json:"hasWebhookUrl"`
}

type languageResponse struct {
	Language string `json:"language"`
}

// StatsResponse is the response body for GET /api/system/stats.
type StatsResponse struct {
	Health      metrics.SysHealth    `json:"health"`
	LiveClients int                  `json:"liveClients"`
	Usage       []metrics.DailyUsage `json:"usage"`
}

// usageDays is the window of AI usage reported by the stats endpoint.
const usageDays = 7

// handlePush forces a push; a failed push is reported with 500.
func (s *Server) handlePush(c echo.Context) error {
	res := s.deps.Pusher.Push(c.Request().Context(), true)
	if !res.Success {
		return c.JSON(http.StatusInternalServerError, pushResponse{Success: false, Error: res.Error})
	}

	resp := pushResponse{Success: true, Message: "Successfully pushed to TRMNL"}
	if res.PushedAt != nil {
		resp.PushedAt = res.PushedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePushStatus(c echo.Context) error {
	status, err := s.deps.Pusher.Status(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handlePushConfig(c echo.Context) error {
	enabled := s.deps.Pusher.Enabled()
	return c.JSON(http.StatusOK, pushConfigResponse{Enabled: enabled, HasWebhookURL: enabled})
}

func (s *Server) handleLanguage(c echo.Context) error {
	lang := s.config.Language
	if lang == "" {
		lang = "en"
	}
	return c.JSON(http.StatusOK, languageResponse{Language: lang})
}

func (s *Server) handleSystemStats(c echo.Context) error {
	resp := StatsResponse{
		Health:      metrics.GetSysHealth(s.config.DataDir),
		LiveClients: s.deps.Hub.Len(),
		Usage:       []metrics.DailyUsage{},
	}
	if s.deps.Usage != nil {
		usage, err := s.deps.Usage.GetDailyUsage(c.Request().Context(), usageDays)
		if err != nil {
			return err
		}
		if usage != nil {
			resp.Usage = usage
		}
	}
	return c.JSON(http.StatusOK, resp)
}
