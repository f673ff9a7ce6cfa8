package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oldmanpar/Pings/internal/config"
)

// Init configures the global zerolog logger from config. Unknown levels
// fall back to info; console output is the default, json is opt-in.
func Init(lcfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(lcfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(lcfg.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
