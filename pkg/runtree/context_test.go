package runtree

import (
	"context"
	"sync"
	"testing"

	r "github.com/stretchr/testify/require"
)

func TestContext_EmptyOutsideTracedCall(t *testing.T) {
	_, ok := RunTreeFromContext(context.Background())
	r.False(t, ok)
}

func TestContext_InstallAndRetrieve(t *testing.T) {
	root := mockRoot(t, nil)
	ctx := ContextWithRunTree(context.Background(), root)

	got, ok := RunTreeFromContext(ctx)
	r.True(t, ok)
	r.Same(t, root, got)
}

func TestContext_NestedScopesCompose(t *testing.T) {
	root := mockRoot(t, nil)
	child, err := root.CreateChild(Config{Name: "child"})
	r.NoError(t, err)

	outer := ContextWithRunTree(context.Background(), root)
	inner := ContextWithRunTree(outer, child)

	got, ok := RunTreeFromContext(inner)
	r.True(t, ok)
	r.Same(t, child, got)

	// exiting the inner scope is just dropping its context
	got, ok = RunTreeFromContext(outer)
	r.True(t, ok)
	r.Same(t, root, got)
}

func TestContext_ConcurrentChainsAreIsolated(t *testing.T) {
	root := mockRoot(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			child, err := root.CreateChild(Config{Name: "child"})
			r.NoError(t, err)
			ctx := ContextWithRunTree(context.Background(), child)

			got, ok := RunTreeFromContext(ctx)
			r.True(t, ok)
			r.Same(t, child, got)
		}()
	}
	wg.Wait()
}
