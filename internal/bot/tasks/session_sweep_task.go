package tasks

import (
	"context"
)

// newSessionSweepTask creates the task that clears idle instructor sessions
// and tells their owners.
func newSessionSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "session_sweep")

	return func(ctx context.Context) error {
		expired := deps.Sessions.Sweep()
		if len(expired) == 0 {
			return nil
		}

		for _, userID := range expired {
			if _, err := deps.Notifier.SendText(ctx, userID, deps.Messages.SessionExpired); err != nil {
				log.WarnContext(ctx, "Failed to notify expired session", "user_id", userID, "error", err)
			}
		}
		log.InfoContext(ctx, "Expired sessions cleared", "count", len(expired))
		return nil
	}
}
