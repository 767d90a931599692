package app

import (
	"io"
	"os"
	"strings"
	"time"

	"expense_sync/internal/config"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupEnvironment loads an optional .env file, then points zerolog at
// stderr: JSON with unix timestamps in production, console output otherwise.
func SetupEnvironment() {
	dotenvErr := godotenv.Load()

	isProd := strings.EqualFold(os.Getenv(config.EnvAppEnv), config.AppEnvProd)
	if isProd {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(os.Stderr)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	zerolog.SetGlobalLevel(parseLevel(os.Getenv(config.EnvLogLevel), isProd))

	// Logging is only ready now.
	if dotenvErr != nil {
		log.Debug().Err(dotenvErr).Msg("No .env file loaded, using process environment")
		return
	}
	log.Debug().Msg("Loaded .env file")
}

// parseLevel maps LOG_LEVEL to a zerolog level. Unset means warn in
// production and info elsewhere.
func parseLevel(raw string, isProd bool) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "":
		if isProd {
			return zerolog.WarnLevel
		}
		return zerolog.InfoLevel
	case "warning":
		name = "warn"
	}

	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", raw).Msg("Unknown log level, using info")
		return zerolog.InfoLevel
	}
	return level
}

// AttachLogFile adds a rotating JSON log file next to the console output.
// It returns nil when no file is configured.
func AttachLogFile(cfg config.AppConfig) io.Closer {
	if cfg.LogFile == "" {
		return nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}

	var console io.Writer = os.Stderr
	if !cfg.IsProd() {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, file))

	log.Debug().Str("file", cfg.LogFile).Msg("Logging to file")
	return file
}
