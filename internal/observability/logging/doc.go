// Package logging builds the pipeline's slog loggers and carries them
// through contexts.
//
//	logger := logging.NewLogger()
//	slog.SetDefault(logger)
//
//	log := logging.WithRequestID(ctx, logger)
//	log.Info("dispatch accepted", slog.Int("recipients", n))
package logging
