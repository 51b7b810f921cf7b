/*
Package log provides structured logging for indexctl using zerolog.

The package wraps a single global zerolog.Logger, initialized once via
Init, with helpers for attaching the context fields that recur across the
orchestrator: cc-pair/search-settings pair, index attempt ID, task ID, and
tenant ID. Every background loop (controller, watchdog, monitor) derives a
child logger from one of these helpers instead of repeating Str() calls.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	attemptLog := log.WithAttempt(attempt.ID)
	attemptLog.Info().Msg("fence created")
*/
package log
