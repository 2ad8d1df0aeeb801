package config

import (
	"ctxkeep/pkg/logger"
)

// ToLoggerConfig converts LoggerConfig to logger.Config. A relative output
// path is resolved against the workspace by the caller-supplied resolve func.
func (lc *LoggerConfig) ToLoggerConfig(resolve func(string) string) *logger.Config {
	output := lc.OutputPath
	if resolve != nil && output != "" {
		output = resolve(output)
	}

	return &logger.Config{
		Level:       logger.ParseLevel(lc.Level),
		OutputPath:  output,
		MaxSize:     lc.MaxSize,
		MaxBackups:  lc.MaxBackups,
		MaxAge:      lc.MaxAge,
		Compress:    lc.Compress,
		Development: lc.Development,
	}
}
