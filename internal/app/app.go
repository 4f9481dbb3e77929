// Package app wires the components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mealboard/internal/api"
	"mealboard/internal/clipper"
	"mealboard/internal/config"
	"mealboard/internal/database"
	"mealboard/internal/llm"
	"mealboard/internal/metrics"
	"mealboard/internal/notify"
	"mealboard/internal/planner"
	"mealboard/internal/shopping"
	"mealboard/internal/telegram"
	"mealboard/internal/trmnl"
)

// shutdownTimeout bounds the graceful stop of the HTTP server.
const shutdownTimeout = 10 * time.Second

// App holds the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *database.DB
	llmClient llm.Client
	hub       *notify.Hub
	plans     *planner.Service
	shopping  *shopping.Service
	pusher    *trmnl.Pusher
	scheduler *trmnl.Scheduler
	usage     *metrics.Store
	bot       *telegram.Bot
	server    *api.Server
}

// Options overrides collaborators that are otherwise built from the configuration.
type Options struct {
	// TextGenerator replaces the configured AI provider.
	TextGenerator llm.TextGenerator
	// Registry receives the Prometheus collectors. Defaults to a fresh registry with the Go and
	// process collectors.
	Registry *prometheus.Registry
	// TelegramSender replaces the Telegram API client when a bot token is configured.
	TelegramSender telegram.Sender
}

// New opens the database and builds every component described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg, logger := a.cfg, a.logger

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	promCollectors := metrics.NewCollectors(registry)

	gen := opts.TextGenerator
	if gen == nil {
		var err error
		if gen, err = a.newTextGenerator(ctx); err != nil {
			return err
		}
	}

	a.usage = metrics.NewStore(a.db.SQL)
	a.hub = notify.NewHub(notify.Options{
		KeepAliveInterval: cfg.KeepAliveInterval,
		WriteTimeout:      cfg.WriteTimeout,
		AllowedOrigins:    cfg.Origins(),
		Collectors:        promCollectors,
	}, logger)

	var sorter shopping.Sorter
	if gen != nil {
		sorter = shopping.NewAISorter(gen, cfg.Language, a.usage, promCollectors, logger)
	} else {
		logger.Warn("no AI provider key configured, shopping list sorting keeps the current order",
			zap.String("provider", cfg.AIProvider))
	}

	a.plans = planner.NewService(planner.NewPlanRepository(a.db), logger)
	a.shopping = shopping.NewService(shopping.NewRepository(a.db), a.hub, sorter, cfg.Language, logger)

	var webhook trmnl.Client
	if cfg.TRMNLEnabled() {
		webhook = trmnl.NewClient(cfg.TRMNLWebhookURL, cfg.TRMNLWebhookSecret)
	}
	a.pusher = trmnl.NewPusher(a.plans, webhook, trmnl.NewStatusRepository(a.db), promCollectors, logger)
	a.scheduler = trmnl.NewScheduler(a.pusher, cfg.TRMNLPushInterval, logger)

	var ingredients shopping.IngredientSource
	if cfg.DisableRecipeImport {
		logger.Info("recipe import disabled")
	} else {
		ingredients = clipper.NewClipper(gen, a.usage, logger)
	}

	deps := api.Deps{
		Plans:       a.plans,
		Shopping:    a.shopping,
		Hub:         a.hub,
		Pusher:      a.pusher,
		Ingredients: ingredients,
		Usage:       a.usage,
		Gatherer:    registry,
	}

	if cfg.TelegramBotToken != "" {
		sender := opts.TelegramSender
		if sender == nil {
			botAPI, err := telegram.Connect(cfg.TelegramBotToken, cfg.TelegramWebhookURL, cfg.TelegramWebhookSecret, logger)
			if err != nil {
				return err
			}
			sender = botAPI
		}
		a.bot = telegram.NewBot(sender, telegram.Deps{
			Shopping:    a.shopping,
			Plans:       a.plans,
			Ingredients: ingredients,
		}, cfg.TelegramAllowedUserIDs, cfg.TelegramWebhookSecret, logger)
		deps.Telegram = a.bot
	}

	server, err := api.NewServer(deps, api.Config{
		Port:        cfg.Port,
		CORSOrigins: cfg.Origins(),
		Language:    cfg.Language,
		DataDir:     filepath.Dir(cfg.DatabasePath),
	}, logger)
	if err != nil {
		return err
	}
	a.server = server
	return nil
}

// newTextGenerator builds the client of the configured AI provider. It returns nil when the
// provider has no key.
func (a *App) newTextGenerator(ctx context.Context) (llm.TextGenerator, error) {
	cfg := a.cfg
	if cfg.AIAPIKey() == "" {
		return nil, nil
	}
	switch cfg.AIProvider {
	case config.ProviderGroq:
		return llm.NewGroqClient(cfg.GroqAPIKey, cfg.GroqModel), nil
	default:
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
		}
		a.llmClient = client
		return client, nil
	}
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.server
}

// Run serves HTTP and runs the background loops until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := a.server.Shutdown(shutdownCtx)
		if a.bot != nil {
			a.bot.Wait()
		}
		return err
	})

	return g.Wait()
}

// Close releases the database and the AI client.
func (a *App) Close() error {
	var errs []error
	if a.llmClient != nil {
		errs = append(errs, a.llmClient.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
