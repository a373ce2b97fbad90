package authcore

import "context"

type contextKey uint8

const (
	clientIPKey contextKey = iota
)

// WithClientIP attaches the request IP so rate-limit identifiers and audit
// events can include it without widening every method signature.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return ""
}
