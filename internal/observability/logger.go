package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/deskwire/internal/logging"
)

// InitLogger configures the global logger and returns a child tagged with
// the application name. Level and format come from the environment via
// the logging package.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
