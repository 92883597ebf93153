package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

// CLILogger is used by androctl. Commands replace it through InitCLILogger
// once flags are parsed.
var CLILogger = zap.NewNop()

// NewLogger builds the service logger. level is one of debug, info, warn,
// error; profile is structured (JSON) or console.
func NewLogger(service, level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch profile {
	case "", ProfileStructured:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if service != "" {
		logger = logger.With(zap.String("service", service))
	}
	return logger, nil
}

// InitCLILogger swaps CLILogger for a console logger at level. Verbose
// output goes to stderr so command output stays parseable.
func InitCLILogger(level string) error {
	logger, err := NewLogger("", level, ProfileConsole)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}
