package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mealboard/internal/config"
	"mealboard/internal/llm"
	"mealboard/internal/telegram"
)

type MockTextGenerator struct {
	Response string
}

func (m *MockTextGenerator) GenerateContent(context.Context, string) (llm.ContentResponse, error) {
	return llm.ContentResponse{Content: m.Response, Usage: llm.TokenUsage{PromptTokens: 12, CompletionTokens: 3, Model: "mock"}}, nil
}

type MockSender struct {
	mu    sync.Mutex
	texts []string
}

func (m *MockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.texts = append(m.texts, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "data", "mealboard.db"))
	t.Setenv("PORT", fmt.Sprint(freePort(t)))
	t.Setenv("KEEPALIVE_INTERVAL", "50ms")
	cfg, err := config.NewFromEnv()
	require.NoError(t, err)
	return cfg
}

func TestNew_ServesAPI(t *testing.T) {
	cfg := testConfig(t)
	gen := &MockTextGenerator{Response: `["Bread","Milk"]`}

	a, err := New(context.Background(), cfg, zap.NewNop(), Options{TextGenerator: gen})
	require.NoError(t, err)
	defer a.Close()

	h := a.Handler()
	for _, name := range []string{"Milk", "Bread"} {
		body := strings.NewReader(fmt.Sprintf(`{"name":%q}`, name))
		req := httptest.NewRequest(http.MethodPost, "/api/shopping-list/items", body)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/shopping-list/sort", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/shopping-list", nil))
	var list struct {
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "Bread", list.Items[0].Name)

	// The sort was recorded as AI usage.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/stats", nil))
	assert.Contains(t, rec.Body.String(), `"totalPrompt":12`)
}

func TestNew_WithoutAIKeyKeepsOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.GeminiAPIKey = ""
	cfg.GroqAPIKey = ""

	a, err := New(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/shopping-list/sort", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_TelegramWebhook(t *testing.T) {
	cfg := testConfig(t)
	cfg.TelegramBotToken = "token"
	cfg.TelegramAllowedUserIDs = []int64{42}
	cfg.TelegramWebhookSecret = "hook-secret"
	sender := &MockSender{}

	a, err := New(context.Background(), cfg, nil, Options{TextGenerator: &MockTextGenerator{}, TelegramSender: sender})
	require.NoError(t, err)
	defer a.Close()

	update := `{"update_id":1,"message":{"message_id":1,"date":0,"from":{"id":42,"is_bot":false,"first_name":"A"},"chat":{"id":7,"type":"private"},"text":"Milk"}}`
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewBufferString(update)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewBufferString(update))
	req.Header.Set(telegram.SecretTokenHeader, "hook-secret")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	a.bot.Wait()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.texts, 1)
	assert.Equal(t, "✅ Added:\n• Milk", sender.texts[0])
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil, Options{TextGenerator: &MockTextGenerator{}})
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_RecipeImportDisabled(t *testing.T) {
	t.Setenv("DISABLE_RECIPE_IMPORT", "true")
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg, nil, Options{TextGenerator: &MockTextGenerator{}})
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/shopping-list/import", strings.NewReader(`{"url":"https://example.com/recipe"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, rec.Body.String(), "Recipe import is not configured")
}
