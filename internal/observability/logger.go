package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger derives a component logger from the process-wide logger.
func Logger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
