package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mealboard/internal/database"
	"mealboard/internal/metrics"
	"mealboard/internal/notify"
	"mealboard/internal/planner"
	"mealboard/internal/shopping"
	"mealboard/internal/trmnl"
)

type reverseSorter struct{}

func (reverseSorter) Sort(_ context.Context, items []string, _ string) ([]string, error) {
	out := make([]string, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it
	}
	return out, nil
}

type testEnv struct {
	server   *Server
	db       *database.DB
	plans    *planner.Service
	list     *shopping.Service
	usage    *metrics.Store
	registry *prometheus.Registry
}

func setupTestServer(t *testing.T, configure ...func(*Deps, *database.DB)) *testEnv {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(registry)
	hub := notify.NewHub(notify.Options{Collectors: collectors}, nil)
	t.Cleanup(hub.CloseAll)

	plans := planner.NewService(planner.NewPlanRepository(db), nil)
	list := shopping.NewService(shopping.NewRepository(db), hub, reverseSorter{}, "sv", nil)
	usage := metrics.NewStore(db.SQL)

	deps := Deps{
		Plans:    plans,
		Shopping: list,
		Hub:      hub,
		Pusher:   trmnl.NewPusher(plans, nil, trmnl.NewStatusRepository(db), collectors, nil),
		Usage:    usage,
		Gatherer: registry,
	}
	for _, fn := range configure {
		fn(&deps, db)
	}

	server, err := NewServer(deps, Config{
		Port:        3001,
		CORSOrigins: []string{"http://localhost:5173"},
		Language:    "sv",
		DataDir:     t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)

	return &testEnv{server: server, db: db, plans: plans, list: list, usage: usage, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(b)
		}
		reader = bytes.NewReader([]byte(raw))
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, status, resp.Error.StatusCode)
	assert.Equal(t, message, resp.Error.Message)
}

func TestNewServer(t *testing.T) {
	t.Run("returns error when services are missing", func(t *testing.T) {
		_, err := NewServer(Deps{}, Config{}, nil)
		require.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.server.now = func() time.Time { return fixed }

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, fixed, resp.Timestamp)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestMealPlanRoutes(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/meal-plan/meals", map[string]string{"name": "Tacos"})
	requireError(t, rec, http.StatusBadRequest, "Start date must be set before adding meals")

	rec = env.do(t, http.MethodPut, "/api/meal-plan/start-date", map[string]string{"startDate": "2026-03-02"})
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode[planner.MealPlan](t, rec)
	require.NotNil(t, plan.StartDate)
	assert.Equal(t, "2026-03-02", plan.StartDate.String())

	ids := map[string]string{}
	for _, name := range []string{"Tacos", "Soup", "Pasta"} {
		rec = env.do(t, http.MethodPost, "/api/meal-plan/meals", map[string]string{"name": name})
		require.Equal(t, http.StatusCreated, rec.Code)
		ids[name] = decode[planner.Meal](t, rec).ID
	}

	rec = env.do(t, http.MethodDelete, "/api/meal-plan/meals/"+ids["Soup"]+"?day=2026-03-03", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	plan = decode[planner.MealPlan](t, env.do(t, http.MethodGet, "/api/meal-plan", nil))
	require.Len(t, plan.Days, 2)
	assert.Equal(t, "2026-03-03", plan.Days[1].Date.String())
	assert.Equal(t, "Pasta", plan.Days[1].Meals[0].Name)

	rec = env.do(t, http.MethodPut, "/api/meal-plan/meals/swap", map[string]string{
		"meal1Id": ids["Tacos"], "meal1Day": "2026-03-02",
		"meal2Id": ids["Pasta"], "meal2Day": "2026-03-03",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/meal-plan/meals/"+ids["Tacos"]+"/move", map[string]string{
		"sourceDay": "2026-03-03", "targetDay": "2026-03-02",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	plan = decode[planner.MealPlan](t, env.do(t, http.MethodGet, "/api/meal-plan", nil))
	require.Len(t, plan.Days, 1)
	require.Len(t, plan.Days[0].Meals, 2)
	assert.Equal(t, "Pasta", plan.Days[0].Meals[0].Name)
	assert.Equal(t, "Tacos", plan.Days[0].Meals[1].Name)

	rec = env.do(t, http.MethodDelete, "/api/meal-plan", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	history := decode[[]planner.ArchivedMealPlan](t, env.do(t, http.MethodGet, "/api/meal-plan/history", nil))
	require.Len(t, history, 1)

	rec = env.do(t, http.MethodDelete, "/api/meal-plan/history/"+history[0].ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/meal-plan/history/"+history[0].ID, nil)
	requireError(t, rec, http.StatusNotFound, "Archived meal plan not found")
}

func TestMealPlanValidation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		status  int
		message string
	}{
		{"missing start date", http.MethodPut, "/api/meal-plan/start-date", map[string]string{}, 400, "Start date is required"},
		{"bad start date", http.MethodPut, "/api/meal-plan/start-date", map[string]string{"startDate": "2026-02-30"}, 400, `Invalid date "2026-02-30", expected YYYY-MM-DD`},
		{"malformed body", http.MethodPut, "/api/meal-plan/start-date", "{", 400, "Invalid request body"},
		{"missing meal name", http.MethodPost, "/api/meal-plan/meals", map[string]string{"name": " "}, 400, "Meal name is required"},
		{"missing day query", http.MethodDelete, "/api/meal-plan/meals/m1", nil, 400, "Day query parameter is required"},
		{"unknown day", http.MethodDelete, "/api/meal-plan/meals/m1?day=2026-03-02", nil, 404, "Day not found"},
		{"missing move days", http.MethodPut, "/api/meal-plan/meals/m1/move", map[string]string{"sourceDay": "2026-03-02"}, 400, "Source day and target day are required"},
		{"unknown move source", http.MethodPut, "/api/meal-plan/meals/m1/move", map[string]string{"sourceDay": "2026-03-02", "targetDay": "2026-03-03"}, 404, "Source day not found"},
		{"missing swap fields", http.MethodPut, "/api/meal-plan/meals/swap", map[string]string{"meal1Id": "a"}, 400, "All meal IDs and days are required"},
		{"unknown route", http.MethodGet, "/api/nope", nil, 404, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, env.do(t, tt.method, tt.path, tt.body), tt.status, tt.message)
		})
	}
}

func TestShoppingListRoutes(t *testing.T) {
	env := setupTestServer(t)

	var ids []string
	for _, name := range []string{"Milk", "Bread", "Eggs"} {
		rec := env.do(t, http.MethodPost, "/api/shopping-list/items", map[string]string{"name": name})
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decode[shopping.Item](t, rec).ID)
	}
	requireError(t, env.do(t, http.MethodPost, "/api/shopping-list/items", map[string]string{"name": ""}),
		http.StatusBadRequest, "Item name is required")

	rec := env.do(t, http.MethodPut, "/api/shopping-list/items/"+ids[0]+"/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[shopping.Item](t, rec).Checked)
	requireError(t, env.do(t, http.MethodPut, "/api/shopping-list/items/nope/toggle", nil), http.StatusNotFound, "Item not found")

	rec = env.do(t, http.MethodPut, "/api/shopping-list/reorder", map[string]any{"itemIds": []string{ids[2], ids[0]}})
	require.Equal(t, http.StatusOK, rec.Code)
	requireError(t, env.do(t, http.MethodPut, "/api/shopping-list/reorder", map[string]any{}),
		http.StatusBadRequest, "itemIds array is required")

	list := decode[shopping.List](t, env.do(t, http.MethodGet, "/api/shopping-list", nil))
	assert.Equal(t, []string{"Eggs", "Milk", "Bread"}, itemNames(list))

	rec = env.do(t, http.MethodPost, "/api/shopping-list/sort", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[shopping.List](t, env.do(t, http.MethodGet, "/api/shopping-list", nil))
	assert.Equal(t, []string{"Bread", "Milk", "Eggs"}, itemNames(list))

	rec = env.do(t, http.MethodDelete, "/api/shopping-list/items/"+ids[1], nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/shopping-list/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[shopping.List](t, rec).Items)

	history := decode[[]shopping.ArchivedList](t, env.do(t, http.MethodGet, "/api/shopping-list/history", nil))
	require.Len(t, history, 1)
	assert.Len(t, history[0].Items, 2)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/shopping-list/history/"+history[0].ID, nil).Code)
	requireError(t, env.do(t, http.MethodDelete, "/api/shopping-list/history/"+history[0].ID, nil),
		http.StatusNotFound, "Archived shopping list not found")
}

func itemNames(list shopping.List) []string {
	var out []string
	for _, it := range list.Items {
		out = append(out, it.Name)
	}
	return out
}

func TestShoppingConfigRoutes(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/shopping-list/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sortingPrompt":null}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/shopping-list/config", `{"sortingPrompt":"Dairy last"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/shopping-list/config", nil)
	assert.JSONEq(t, `{"sortingPrompt":"Dairy last"}`, rec.Body.String())

	for _, body := range []string{`{}`, `{"sortingPrompt":"  "}`, `{"sortingPrompt":42}`} {
		requireError(t, env.do(t, http.MethodPut, "/api/shopping-list/config", body),
			http.StatusBadRequest, "sortingPrompt must be null or a non-empty string")
	}

	rec = env.do(t, http.MethodPut, "/api/shopping-list/config", `{"sortingPrompt":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/shopping-list/config", nil)
	assert.JSONEq(t, `{"sortingPrompt":null}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/shopping-list/config/default-prompt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[defaultPromptResponse](t, rec)
	assert.Equal(t, shopping.DefaultSortingPrompt("sv"), resp.DefaultPrompt)

	rec = env.do(t, http.MethodGet, "/api/config/language", nil)
	assert.JSONEq(t, `{"language":"sv"}`, rec.Body.String())
}

type staticIngredients []string

func (s staticIngredients) ExtractIngredients(context.Context, string) ([]string, error) {
	return s, nil
}

func TestImportRoute(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/shopping-list/import", map[string]string{"url": "https://example.com"})
		requireError(t, rec, http.StatusNotImplemented, "Recipe import is not configured")
	})

	t.Run("adds ingredients", func(t *testing.T) {
		env := setupTestServer(t, func(d *Deps, _ *database.DB) { d.Ingredients = staticIngredients{"2 eggs", "1 dl milk"} })
		rec := env.do(t, http.MethodPost, "/api/shopping-list/import", map[string]string{"url": "https://example.com"})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"added":2}`, rec.Body.String())

		requireError(t, env.do(t, http.MethodPost, "/api/shopping-list/import", map[string]string{}),
			http.StatusBadRequest, "URL is required")
	})
}

func TestTRMNLRoutes(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := setupTestServer(t)

		rec := env.do(t, http.MethodPost, "/api/trmnl/push", nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"success":false,"error":"TRMNL webhook URL not configured"}`, rec.Body.String())

		rec = env.do(t, http.MethodGet, "/api/trmnl/config", nil)
		assert.JSONEq(t, `{"enabled":false,"hasWebhookUrl":false}`, rec.Body.String())

		rec = env.do(t, http.MethodGet, "/api/trmnl/status", nil)
		assert.JSONEq(t, `{"lastPushAt":null,"lastPushError":null,"hasPushed":false}`, rec.Body.String())
	})

	t.Run("pushes", func(t *testing.T) {
		hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer hook.Close()

		env := setupTestServer(t, func(d *Deps, db *database.DB) {
			d.Pusher = trmnl.NewPusher(d.Plans, trmnl.NewClient(hook.URL, ""), trmnl.NewStatusRepository(db), nil, nil)
		})

		rec := env.do(t, http.MethodPost, "/api/trmnl/push", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[pushResponse](t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "Successfully pushed to TRMNL", resp.Message)
		assert.NotEmpty(t, resp.PushedAt)

		rec = env.do(t, http.MethodGet, "/api/trmnl/config", nil)
		assert.JSONEq(t, `{"enabled":true,"hasWebhookUrl":true}`, rec.Body.String())

		status := decode[trmnl.Status](t, env.do(t, http.MethodGet, "/api/trmnl/status", nil))
		assert.True(t, status.HasPushed)
		assert.Nil(t, status.LastPushError)
	})
}

func TestSystemRoutes(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	require.NoError(t, env.usage.Record(ctx, metrics.ExecutionMetric{
		AgentName: "shopping_sorter", Model: "mock", PromptTokens: 10, CompletionTokens: 5, Timestamp: time.Now(),
	}))

	rec := env.do(t, http.MethodGet, "/api/system/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Positive(t, stats.Health.Runtime.Goroutines)
	require.Len(t, stats.Usage, 1)
	assert.Equal(t, 10, stats.Usage[0].TotalPrompt)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mealboard_notify_live_clients")
}

func TestTelegramRoute(t *testing.T) {
	env := setupTestServer(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/telegram/webhook", `{}`).Code)

	called := false
	env = setupTestServer(t, func(d *Deps, _ *database.DB) {
		d.Telegram = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		})
	})
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/telegram/webhook", `{}`).Code)
	assert.True(t, called)
}

func TestCORS(t *testing.T) {
	env := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/shopping-list", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:5173")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPut)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.True(t, strings.Contains(rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodPut))
}
