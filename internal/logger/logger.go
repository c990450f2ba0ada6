package logger

import (
	"go.uber.org/zap"
)

// New builds the process-wide zap logger: human-readable in development,
// JSON in production.
func New(production bool) (*zap.Logger, error) {
	var zapConfig zap.Config
	if production {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	return zapConfig.Build()
}
