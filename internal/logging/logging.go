package logging

import "go.uber.org/zap"

// New returns a zap logger: production JSON at info for "prod",
// development console output at debug otherwise.
func New(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
