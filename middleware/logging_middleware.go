package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bridge-rpc/logging"
	"bridge-rpc/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	logger = logging.OrNop(logger)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Value, error) {
			start := time.Now()
			v, err := next(ctx, req)
			fields := []zap.Field{
				zap.Stringer("kind", req.Kind),
				zap.Int64("object", req.Object),
				zap.String("name", req.Name),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("bridge call failed", append(fields, zap.Error(err))...)
				return v, err
			}
			logger.Debug("bridge call", fields...)
			return v, nil
		}
	}
}
