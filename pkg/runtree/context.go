package runtree

import "context"

// The active run travels on context.Context, the call-stack-scoped carrier Go
// already threads through every blocking call. Each derived context is its own
// scope: installing a child run for a nested call never disturbs the caller's
// context, and concurrent call chains each see only their own run.

type ctxKey struct{}

// ContextWithRunTree returns a child context with rt installed as the active
// run for everything the context reaches.
func ContextWithRunTree(ctx context.Context, rt *RunTree) context.Context {
	return context.WithValue(ctx, ctxKey{}, rt)
}

// RunTreeFromContext returns the active run for this call chain, reporting
// false when called outside any traced call.
func RunTreeFromContext(ctx context.Context) (*RunTree, bool) {
	rt, ok := ctx.Value(ctxKey{}).(*RunTree)
	return rt, ok
}
