package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan is the task type for the periodic low stock report.
	TaskLowStockScan = "stock:low_stock_scan"
	// TaskCartPrune is the task type for dropping stale cart claims.
	TaskCartPrune = "cart:prune"
)

// LowStockScanPayload configures a low stock scan run.
type LowStockScanPayload struct {
	// Limit caps the number of reported products; zero means no cap.
	Limit int `json:"limit"`
}

// NewLowStockScanTask constructs an Asynq task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// CartPrunePayload configures a cart prune run. An empty SessionKey prunes
// every live session.
type CartPrunePayload struct {
	SessionKey string `json:"session_key,omitempty"`
}

// NewCartPruneTask constructs an Asynq task.
func NewCartPruneTask(payload CartPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCartPrune, data), nil
}
