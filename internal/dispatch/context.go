package dispatch

import "context"

// sourceKeyType is an unexported context key type, the standard Go idiom for
// avoiding collisions between packages' context values.
type sourceKeyType struct{}

var sourceCtxKey = sourceKeyType{}

// ContextWithSource attaches the source_key of the in-flight invocation to
// ctx. This resolves the spec's flagged Open Question (Design Notes §9):
// rather than a package-level "current source" global read by tool
// handlers — which would race when a timer-fired invocation and a
// user-fired invocation are both live — the dispatcher threads the value
// explicitly through the context of the specific agent.Invoke call it
// makes, mirroring the reference pack's ContextWithSession/ContextWithCaller
// value-threading idiom.
func ContextWithSource(ctx context.Context, sourceKey string) context.Context {
	return context.WithValue(ctx, sourceCtxKey, sourceKey)
}

// SourceFromContext returns the source_key attached by ContextWithSource,
// or "" if none was attached (e.g. a COMPLEX_RESCHEDULE utility call, which
// never needs one).
func SourceFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sourceCtxKey).(string)
	return v
}
