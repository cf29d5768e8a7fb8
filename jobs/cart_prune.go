package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/cart"
)

// CartPruneJob drops cart claims on units that are no longer available,
// typically because another session checked them out first.
type CartPruneJob struct {
	Carts  *cart.Service
	Store  cart.Store
	Logger *slog.Logger
}

// NewCartPruneJob initialises the cart prune handler.
func NewCartPruneJob(carts *cart.Service, store cart.Store, logger *slog.Logger) *CartPruneJob {
	return &CartPruneJob{Carts: carts, Store: store, Logger: logger}
}

// Handle executes the prune.
func (j *CartPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Carts == nil || j.Store == nil {
		return errors.New("cart prune: handler not configured")
	}
	var payload CartPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	logger := j.logger()

	sessions := []string{payload.SessionKey}
	if payload.SessionKey == "" {
		var err error
		sessions, err = j.Store.SessionKeys(ctx)
		if err != nil {
			logger.Error("list sessions", slog.Any("error", err))
			return err
		}
	}

	pruned := 0
	for _, session := range sessions {
		removed, err := j.Carts.Prune(ctx, session)
		if err != nil {
			logger.Warn("prune session", slog.String("session", session), slog.Any("error", err))
			continue
		}
		if len(removed) > 0 {
			pruned += len(removed)
			logger.Info("pruned stale claims",
				slog.String("session", session),
				slog.Any("lines", removed),
			)
		}
	}

	logger.Info("completed cart prune",
		slog.Int("sessions", len(sessions)),
		slog.Int("lines_removed", pruned),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *CartPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCartPrune))
	}
	return slog.Default().With(slog.String("job", TaskCartPrune))
}
