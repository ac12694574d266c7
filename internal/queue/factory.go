package queue

import (
	"context"
	"fmt"

	"github.com/pixelpress/pixelpress/internal/config"
)

// New builds the Queue selected by the configuration.
func New(ctx context.Context, cfg *config.QueueConfig, maxAttempts int) (Queue, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisQueue(ctx, cfg, maxAttempts)
	case "memory", "":
		return NewMemoryQueue(cfg.HistoryLimit, maxAttempts), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Backend)
	}
}
