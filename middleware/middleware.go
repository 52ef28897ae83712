package middleware

import (
	"context"

	"bridge-rpc/message"
)

// HandlerFunc performs one bridge call and returns its result value.
type HandlerFunc func(ctx context.Context, req *message.Request) (message.Value, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
