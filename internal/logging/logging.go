package logging

import (
	"go.uber.org/zap"
)

// New builds the process logger: human-readable in dev, JSON elsewhere.
func New(appEnv string) *zap.Logger {
	if appEnv == "dev" {
		return zap.Must(zap.NewDevelopment())
	}
	return zap.Must(zap.NewProduction())
}
