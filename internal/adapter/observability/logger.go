package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fairyhunter13/resume-analyzer/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(cfg)}
	h := slog.NewJSONHandler(w, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}

func logLevel(cfg config.Config) slog.Level {
	if lv := strings.TrimSpace(cfg.LogLevel); lv != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(lv)); err == nil {
			return l
		}
	}
	if cfg.IsDev() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
