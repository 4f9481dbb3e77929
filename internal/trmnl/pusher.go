// Package trmnl pushes the meal plan to a TRMNL e-ink display through its webhook.
package trmnl

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mealboard/internal/metrics"
	"mealboard/internal/planner"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("TRMNL webhook URL not configured")

// PlanSource provides the plan to display.
type PlanSource interface {
	Get(ctx context.Context) (*planner.MealPlan, error)
}

// Result describes one push attempt.
type Result struct {
	Success        bool       `json:"success"`
	ChangeDetected bool       `json:"changeDetected"`
	PushedAt       *time.Time `json:"pushedAt,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Pusher renders the plan and sends it when it changed since the last successful push.
type Pusher struct {
	plans   PlanSource
	client  Client
	status  StatusStore
	metrics *metrics.Collectors
	logger  *zap.Logger
	now     func() time.Time
}

// NewPusher creates a Pusher. A nil client disables pushing.
func NewPusher(plans PlanSource, client Client, status StatusStore, collectors *metrics.Collectors, logger *zap.Logger) *Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{
		plans:   plans,
		client:  client,
		status:  status,
		metrics: collectors,
		logger:  logger.Named("trmnl"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether a webhook is configured.
func (p *Pusher) Enabled() bool {
	return p.client != nil
}

// Status returns the bookkeeping of past pushes.
func (p *Pusher) Status(ctx context.Context) (Status, error) {
	return p.status.Status(ctx)
}

// Push sends the current plan. Unless force is set, nothing is sent when the rendered content is
// unchanged since the last successful push. Failures are recorded in the status row and reported in
// the Result rather than as an error.
func (p *Pusher) Push(ctx context.Context, force bool) Result {
	if !p.Enabled() {
		return Result{Error: ErrNotConfigured.Error()}
	}

	res, err := p.push(ctx, force)
	if err != nil {
		p.metrics.Push("failed")
		p.logger.Warn("display push failed", zap.Bool("force", force), zap.Error(err))
		if recErr := p.status.RecordFailure(context.WithoutCancel(ctx), err.Error()); recErr != nil {
			p.logger.Error("failed to record push failure", zap.Error(recErr))
		}
		return Result{Error: err.Error()}
	}

	if res.ChangeDetected {
		p.metrics.Push("pushed")
		p.logger.Info("pushed meal plan to display", zap.Bool("force", force))
	} else {
		p.metrics.Push("unchanged")
		p.logger.Debug("meal plan unchanged, push skipped")
	}
	return res
}

func (p *Pusher) push(ctx context.Context, force bool) (Result, error) {
	plan, err := p.plans.Get(ctx)
	if err != nil {
		return Result{}, err
	}

	payload := BuildPayload(plan, p.now())
	hash, err := payload.Hash()
	if err != nil {
		return Result{}, err
	}

	if !force {
		last, err := p.status.LastHash(ctx)
		if err != nil {
			return Result{}, err
		}
		if last == hash {
			return Result{Success: true}, nil
		}
	}

	if err := p.client.Send(ctx, payload); err != nil {
		return Result{}, err
	}

	pushedAt := p.now()
	if err := p.status.RecordSuccess(ctx, hash, pushedAt); err != nil {
		return Result{}, err
	}
	return Result{Success: true, ChangeDetected: true, PushedAt: &pushedAt}, nil
}
