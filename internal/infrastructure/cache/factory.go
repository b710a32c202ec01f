package cache

import (
	"go.uber.org/zap"

	"github.com/care/erpsync/internal/infrastructure/config"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// SessionCacheFactory builds session caches based on configuration
type SessionCacheFactory struct {
	redisConfig   config.RedisConfig
	logger        *zap.Logger
	allowFallback bool
}

// SessionCacheFactoryOption is a functional option for configuring the factory
type SessionCacheFactoryOption func(*SessionCacheFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) SessionCacheFactoryOption {
	return func(f *SessionCacheFactory) {
		f.logger = logger
	}
}

// WithMemoryFallback controls whether to fall back to the in-memory cache
// when Redis is unavailable. Default is true.
func WithMemoryFallback(allow bool) SessionCacheFactoryOption {
	return func(f *SessionCacheFactory) {
		f.allowFallback = allow
	}
}

// NewSessionCacheFactory creates a new factory
func NewSessionCacheFactory(cfg config.RedisConfig, opts ...SessionCacheFactoryOption) *SessionCacheFactory {
	f := &SessionCacheFactory{
		redisConfig:   cfg,
		logger:        zap.NewNop(),
		allowFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Create returns the configured session cache: Redis when enabled and
// reachable, otherwise the in-memory cache (when fallback is allowed).
func (f *SessionCacheFactory) Create() (domain.SessionCache, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("using in-memory session cache")
		return NewMemorySessionCache(), nil
	}

	store, err := NewRedisSessionCache(RedisOptions{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		if !f.allowFallback {
			return nil, err
		}
		f.logger.Warn("Redis session cache unavailable, falling back to in-memory",
			zap.String("addr", f.redisConfig.Addr()),
			zap.Error(err),
		)
		return NewMemorySessionCache(), nil
	}

	f.logger.Info("using Redis session cache", zap.String("addr", f.redisConfig.Addr()))
	return store, nil
}
