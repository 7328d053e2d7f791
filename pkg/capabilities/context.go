package capabilities

import "context"

type requestContextKey struct{}

// WithRequestContext attaches the optional per-request context map so the
// handler can read it.
func WithRequestContext(ctx context.Context, values map[string]interface{}) context.Context {
	if len(values) == 0 {
		return ctx
	}
	return context.WithValue(ctx, requestContextKey{}, values)
}

// RequestContext returns the map attached by WithRequestContext, or nil.
func RequestContext(ctx context.Context) map[string]interface{} {
	values, _ := ctx.Value(requestContextKey{}).(map[string]interface{})
	return values
}
