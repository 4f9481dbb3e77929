// Package api exposes the meal plan, the shopping list and their live updates over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mealboard/internal/metrics"
	"mealboard/internal/notify"
	"mealboard/internal/planner"
	"mealboard/internal/shopping"
	"mealboard/internal/trmnl"
)

// Deps are the components served by the API. Ingredients, Usage, Gatherer and Telegram are
// optional.
type Deps struct {
	Plans       *planner.Service
	Shopping    *shopping.Service
	Hub         *notify.Hub
	Pusher      *trmnl.Pusher
	Ingredients shopping.IngredientSource
	Usage       *metrics.Store
	Gatherer    prometheus.Gatherer
	Telegram    http.Handler
}

// Config holds HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	Language    string
	// DataDir is reported on by /api/system/stats.
	DataDir string
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) (*Server, error) {
	if deps.Plans == nil || deps.Shopping == nil || deps.Hub == nil || deps.Pusher == nil {
		return nil, fmt.Errorf("plans, shopping, hub and pusher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Resolve the status before logging it.
				c.Error(err)
			}
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
		}))
	}

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	mp := s.echo.Group("/api/meal-plan")
	mp.GET("", s.handleGetMealPlan)
	mp.PUT("/start-date", s.handleSetStartDate)
	mp.DELETE("", s.handleResetMealPlan)
	mp.GET("/history", s.handleMealPlanHistory)
	mp.DELETE("/history/:id", s.handleDeleteArchivedMealPlan)
	mp.POST("/meals", s.handleAddMeal)
	mp.PUT("/meals/swap", s.handleSwapMeals)
	mp.DELETE("/meals/:mealId", s.handleDeleteMeal)
	mp.PUT("/meals/:mealId/move", s.handleMoveMeal)

	sl := s.echo.Group("/api/shopping-list")
	sl.GET("", s.handleGetShoppingList)
	sl.POST("/items", s.handleAddItem)
	sl.PUT("/items/:itemId/toggle", s.handleToggleItem)
	sl.DELETE("/items/:itemId", s.handleDeleteItem)
	sl.PUT("/reorder", s.handleReorder)
	sl.POST("/archive", s.handleArchive)
	sl.GET("/history", s.handleShoppingHistory)
	sl.DELETE("/history/:id", s.handleDeleteArchivedList)
	sl.POST("/sort", s.handleSort)
	sl.POST("/import", s.handleImport)
	sl.GET("/config", s.handleGetShoppingConfig)
	sl.PUT("/config", s.handleUpdateShoppingConfig)
	sl.GET("/config/default-prompt", s.handleDefaultPrompt)
	sl.GET("/events", echo.WrapHandler(http.HandlerFunc(s.deps.Hub.ServeSSE)))
	s.echo.GET("/ws/shopping-list", echo.WrapHandler(http.HandlerFunc(s.deps.Hub.ServeWebSocket)))

	tr := s.echo.Group("/api/trmnl")
	tr.POST("/push", s.handlePush)
	tr.GET("/status", s.handlePushStatus)
	tr.GET("/config", s.handlePushConfig)

	s.echo.GET("/api/config/language", s.handleLanguage)
	s.echo.GET("/api/system/stats", s.handleSystemStats)

	if s.deps.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.deps.Telegram != nil {
		s.echo.POST("/telegram/webhook", echo.WrapHandler(s.deps.Telegram))
	}
}

// ServeHTTP lets the server be mounted or tested without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Timestamp: s.now()})
}

// successResponse is the body of mutations that return nothing else.
type successResponse struct {
	Success bool `json:"success"`
}

var success = successResponse{Success: true}
