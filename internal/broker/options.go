package broker

import "go.uber.org/zap"

// Option configures a broker at construction time
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used by the actor and its forwarders
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
