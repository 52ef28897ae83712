package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"bridge-rpc/message"
)

// RateLimitMiddleware spaces calls with a token bucket. Callers block until a
// token is available or ctx is done; r <= 0 disables the limit. A call that
// cannot get a token fails with a context error: nothing was sent, so the
// session stays usable.
func RateLimitMiddleware(r float64, burst int) Middleware {
	if r <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Value, error) {
			if err := limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return message.Value{}, ctxErr
				}
				// the deadline falls before the next token
				return message.Value{}, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			return next(ctx, req)
		}
	}
}
