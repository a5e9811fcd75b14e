package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// Dial connects to Temporal, retrying with a linear backoff capped at 15s
// until ctx is done.
func Dial(ctx context.Context, hostPort, namespace string, logger *zap.Logger) (client.Client, error) {
	opts := client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    NewLogger(logger),
	}
	for attempt := 1; ; attempt++ {
		c, err := client.DialContext(ctx, opts)
		if err == nil {
			return c, nil
		}
		delay := time.Duration(attempt) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", hostPort),
			zap.Duration("sleep", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
