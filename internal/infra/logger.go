package infra

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger собирает корневой логгер по окружению. Дочерние логгеры
// компоненты получают через Named / With(zap.String("mod", ...)).
func NewLogger(env string, cfg LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid logger.level %q: %w", cfg.Level, err)
	}

	var config zap.Config
	if env == EnvProduction {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.DisableStacktrace = true
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.Level = zap.NewAtomicLevelAt(level)

	switch cfg.Format {
	case "json":
		config.Encoding = "json"
		// Цветные уровни ломают JSON
		config.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	case "console", "":
		config.Encoding = "console"
	default:
		return nil, fmt.Errorf("invalid logger.format %q", cfg.Format)
	}

	// Always log to stdout for Docker
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build(zap.AddCaller())
}
