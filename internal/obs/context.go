package obs

import "context"

type ctxKeyRoutePattern struct{}

// WithRoutePattern annotates ctx with the chi route pattern that matched the
// request, so downstream middleware can label metrics and logs by route
// instead of raw path.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKeyRoutePattern{}, pattern)
}

// RoutePatternFromContext returns the matched route pattern, or "" when none
// was recorded.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	pattern, _ := ctx.Value(ctxKeyRoutePattern{}).(string)
	return pattern
}
