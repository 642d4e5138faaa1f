package bridge

import (
	"context"
	"log/slog"
)

// RunBringUp activates the upstream under the bring-up retry policy, then
// invokes install exactly once. Transport failures retry without bound;
// a protocol rejection aborts bring-up and the server stays in legacy
// signaling mode.
func RunBringUp(ctx context.Context, log *slog.Logger, up Upstream, policy RetryPolicy, install func()) error {
	if log == nil {
		log = slog.Default()
	}

	for attempt := 0; ; attempt++ {
		err := up.Activate(ctx)
		if err == nil {
			log.Info("bridge.bringup.done", "attempts", attempt+1)
			install()
			return nil
		}

		if !Retryable(err) {
			log.Error("bridge.bringup.rejected", "err", err)
			return err
		}

		log.Info("bridge.bringup.retry", "attempt", attempt+1, "err", err)
		if sleepErr := Sleep(ctx, policy.Delay(attempt)); sleepErr != nil {
			return sleepErr
		}
	}
}
