// Package telegram is a chat companion for the shopping list and the meal plan, fed by webhook
// updates.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mealboard/internal/apperr"
	"mealboard/internal/planner"
	"mealboard/internal/shopping"
)

// Sender delivers outgoing messages. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ShoppingList is the part of the shopping service the bot drives.
type ShoppingList interface {
	Get(ctx context.Context) (*shopping.List, error)
	AddItems(ctx context.Context, names []string) ([]shopping.Item, error)
	Sort(ctx context.Context) (*shopping.List, error)
	Archive(ctx context.Context) (*shopping.List, error)
	Import(ctx context.Context, src shopping.IngredientSource, url string) ([]shopping.Item, error)
}

// PlanSource provides the current meal plan.
type PlanSource interface {
	Get(ctx context.Context) (*planner.MealPlan, error)
}

// Deps are the services the bot talks to.
type Deps struct {
	Shopping    ShoppingList
	Plans       PlanSource
	Ingredients shopping.IngredientSource
}

// SecretTokenHeader carries the secret registered with setWebhook on every update Telegram sends.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Bot handles webhook updates from allowed users.
type Bot struct {
	sender  Sender
	deps    Deps
	secret  string
	allowed map[int64]bool
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// Connect authorizes token and, when webhookURL is set, points the bot's webhook at it with secret
// as the secret token Telegram echoes back on every update.
func Connect(token, webhookURL, secret string, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	logger.Info("authorized telegram bot", zap.String("account", api.Self.UserName))

	if webhookURL != "" {
		// WebhookConfig predates secret tokens, so the request is built by hand.
		params := tgbotapi.Params{"url": webhookURL}
		params.AddNonEmpty("secret_token", secret)
		if _, err := api.MakeRequest("setWebhook", params); err != nil {
			return nil, fmt.Errorf("failed to set webhook to %s: %w", webhookURL, err)
		}
		logger.Info("telegram webhook set", zap.String("url", webhookURL))
	}
	return api, nil
}

// NewBot creates a Bot that accepts updates carrying secret and answers the given user ids only.
func NewBot(sender Sender, deps Deps, allowedUserIDs []int64, secret string, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[int64]bool, len(allowedUserIDs))
	for _, id := range allowedUserIDs {
		allowed[id] = true
	}
	return &Bot{
		sender:  sender,
		deps:    deps,
		secret:  secret,
		allowed: allowed,
		logger:  logger.Named("telegram"),
		timeout: 2 * time.Minute,
	}
}

// ServeHTTP accepts one webhook update. Requests without the webhook secret are refused with 401.
// The update is acknowledged immediately and processed in the background.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(SecretTokenHeader)
	if b.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(b.secret)) != 1 {
		b.logger.Warn("rejected webhook request with a bad secret token", zap.String("remote_addr", r.RemoteAddr))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("error parsing update", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !b.allowed[msg.From.ID] {
		b.logger.Warn("unauthorized access attempt",
			zap.Int64("user_id", msg.From.ID), zap.String("username", msg.From.UserName))
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		b.processMessage(ctx, msg)
	}()
}

// Wait blocks until every accepted update has been processed.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	case strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://"):
		b.handleImport(ctx, msg.Chat.ID, text)
	case text != "":
		b.handleAdd(ctx, msg.Chat.ID, text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "list":
		list, err := b.deps.Shopping.Get(ctx)
		if err != nil {
			b.replyError(chatID, "loading the list", err)
			return
		}
		b.reply(chatID, formatList(list))
	case "plan":
		plan, err := b.deps.Plans.Get(ctx)
		if err != nil {
			b.replyError(chatID, "loading the plan", err)
			return
		}
		b.reply(chatID, formatPlan(plan))
	case "sort":
		list, err := b.deps.Shopping.Sort(ctx)
		if err != nil {
			b.replyError(chatID, "sorting the list", err)
			return
		}
		b.reply(chatID, formatList(list))
	case "clear":
		before, err := b.deps.Shopping.Get(ctx)
		if err != nil {
			b.replyError(chatID, "loading the list", err)
			return
		}
		if _, err := b.deps.Shopping.Archive(ctx); err != nil {
			b.replyError(chatID, "archiving the list", err)
			return
		}
		b.reply(chatID, fmt.Sprintf("🗑 Shopping list archived (%d items).", len(before.Items)))
	default:
		b.reply(chatID, helpText)
	}
}

const helpText = "🛒 *Mealboard*\n\n" +
	"Send any text to add items (one per line or comma).\n" +
	"Send a recipe link to add its ingredients.\n\n" +
	"/list show the shopping list\n" +
	"/plan show the meal plan\n" +
	"/sort sort the list by store layout\n" +
	"/clear archive the list and start over"

func (b *Bot) handleImport(ctx context.Context, chatID int64, url string) {
	if b.deps.Ingredients == nil {
		b.reply(chatID, "❌ Recipe import is not available.")
		return
	}
	b.reply(chatID, "✂️ *Importing ingredients...*")

	added, err := b.deps.Shopping.Import(ctx, b.deps.Ingredients, url)
	if err != nil {
		b.replyError(chatID, "importing the recipe", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Added %d items:\n%s", len(added), bulletList(added)))
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, text string) {
	added, err := b.deps.Shopping.AddItems(ctx, splitItems(text))
	if err != nil {
		b.replyError(chatID, "adding items", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Added:\n%s", bulletList(added)))
}

// splitItems splits a message into item names on newlines and commas.
func splitItems(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Warn("failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) replyError(chatID int64, action string, err error) {
	b.logger.Error("telegram command failed", zap.String("action", action), zap.Error(err))
	text := "something went wrong"
	if m, ok := apperr.Message(err); ok {
		text = m
	}
	b.reply(chatID, fmt.Sprintf("❌ *Error %s:* %s", action, escape(text)))
}

func formatList(list *shopping.List) string {
	if len(list.Items) == 0 {
		return "🛒 _The shopping list is empty_"
	}
	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n\n")
	for _, it := range list.Items {
		mark := "•"
		if it.Checked {
			mark = "☑️"
		}
		fmt.Fprintf(&sb, "%s %s\n", mark, escape(it.Name))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatPlan(plan *planner.MealPlan) string {
	if plan == nil || len(plan.Days) == 0 {
		return "📅 _No meals planned_"
	}
	var sb strings.Builder
	sb.WriteString("📅 *Meal Plan*\n")
	for _, d := range plan.Days {
		fmt.Fprintf(&sb, "\n*%s*\n", d.Date.In(time.UTC).Format("Mon Jan 2"))
		for _, m := range d.Meals {
			fmt.Fprintf(&sb, "• %s\n", escape(m.Name))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func bulletList(items []shopping.Item) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "• " + escape(it.Name)
	}
	return strings.Join(lines, "\n")
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
