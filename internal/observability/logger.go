package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TagLogger replaces the global logger with one tagged with the app and
// peer id. Call after logging.Configure so level and output are kept.
func TagLogger(app, peer string) zerolog.Logger {
	logger := log.Logger.With().Str("app", app).Str("peer", peer).Logger()
	log.Logger = logger
	return logger
}
