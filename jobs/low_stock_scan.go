package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/catalog"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// LowStockScanJob reports products whose available count fell under their
// minimum stock level. Findings go to the log and the audit trail; reorder
// automation eats them from there.
type LowStockScanJob struct {
	Catalog *catalog.Service
	Audit   *shared.AuditLogger
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewLowStockScanJob initialises the low stock scan handler.
func NewLowStockScanJob(svc *catalog.Service, audit *shared.AuditLogger, logger *slog.Logger) *LowStockScanJob {
	return &LowStockScanJob{Catalog: svc, Audit: audit, Logger: logger, clock: time.Now}
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting low stock scan")

	entries, err := j.Catalog.LowStock(ctx)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return err
	}
	if payload.Limit > 0 && len(entries) > payload.Limit {
		entries = entries[:payload.Limit]
	}

	for _, e := range entries {
		logger.Warn("product below minimum stock",
			slog.Int64("product_id", e.Product.ID),
			slog.String("sku", e.Product.SKU),
			slog.Int("available", e.Available),
			slog.Int("min_stock_level", e.Product.MinStockLevel),
		)
		if j.Audit != nil {
			if err := j.Audit.Record(ctx, shared.AuditLog{
				Action:   "stock.low_stock",
				Entity:   "product",
				EntityID: strconv.FormatInt(e.Product.ID, 10),
				Meta:     map[string]any{"available": e.Available, "min_stock_level": e.Product.MinStockLevel},
			}); err != nil {
				logger.Warn("audit low stock", slog.Any("error", err))
			}
		}
	}

	logger.Info("completed low stock scan",
		slog.Int("flagged", len(entries)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}

func (j *LowStockScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
