package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/gatewarden/gatewarden/internal/config"
)

// NewLogger creates the process-wide zerolog.Logger. Output goes to stdout,
// and additionally to a file under the configured logs path when one is set.
// The debug flag lowers the level to debug.
func NewLogger(cfg *config.Config) (zerolog.Logger, error) {
	var out zerolog.LevelWriter = zerolog.MultiLevelWriter(os.Stdout)

	if cfg.Core.LogsPath != "" {
		if err := os.MkdirAll(cfg.Core.LogsPath, 0o755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("create logs dir: %w", err)
		}
		path := filepath.Join(cfg.Core.LogsPath, "gatewarden.log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(os.Stdout, file)
	}

	logger := zerolog.New(out).With().Timestamp().Logger()

	level := zerolog.InfoLevel
	if cfg.Core.Debug {
		level = zerolog.DebugLevel
	}

	return logger.Level(level), nil
}
