package middleware

import (
	"context"
	"time"

	"bridge-rpc/message"
)

// TimeOutMiddleware puts a deadline on the call context. The session applies
// it to the socket, so an expired call surfaces as a transport error and the
// connection is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Value, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}
