package utils // import "github.com/helixhq/helix/backend/services/utils"

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, doubling the wait between runs starting
// from the given base wait. fn reports whether its error is worth retrying:
// returning retry == false stops immediately and surfaces the error as-is.
// This is only meant for transient transport failures on writes we know to be
// idempotent (e.g. a session upsert); API-level rejections must never be
// retried through this helper.
func Retry(ctx context.Context, attempts int, wait time.Duration, fn func() (retry bool, err error)) error {
	var err error
	var retryable bool

	for i := 0; i < attempts; i++ {
		retryable, err = fn()
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}

		// Don't sleep after the final attempt.
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}

	return err
}
