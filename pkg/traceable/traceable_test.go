package traceable

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	r "github.com/stretchr/testify/require"

	"github.com/stleox/seetrace/pkg/runtree"
)

// recorder stands in for the submission pipeline.
type recorder struct {
	mu      sync.Mutex
	creates []*runtree.Run
	updates []*runtree.Run
}

func (re *recorder) SubmitCreate(run *runtree.Run) {
	re.mu.Lock()
	re.creates = append(re.creates, run)
	re.mu.Unlock()
}

func (re *recorder) SubmitUpdate(run *runtree.Run) {
	re.mu.Lock()
	re.updates = append(re.updates, run)
	re.mu.Unlock()
}

func addOne(_ context.Context, x int) (int, error) {
	return x + 1, nil
}

func TestTrace_Success(t *testing.T) {
	rec := &recorder{}
	wrapped := Trace(Config{Name: "add-one", Client: rec}, addOne)

	out, err := wrapped(context.Background(), 1)
	r.NoError(t, err)
	r.Equal(t, 2, out)

	r.Len(t, rec.creates, 1)
	r.Len(t, rec.updates, 1)

	update := rec.updates[0]
	r.Equal(t, rec.creates[0].ID, update.ID)
	r.Equal(t, map[string]any{"output": 2}, update.Outputs)
	r.Empty(t, update.Error)
	r.Equal(t, map[string]any{"input": 1}, rec.creates[0].Inputs)
}

func TestTrace_Failure(t *testing.T) {
	rec := &recorder{}
	boom := fmt.Errorf("boom")
	wrapped := Trace(Config{Name: "fails", Client: rec}, func(_ context.Context, _ int) (int, error) {
		return 0, boom
	})

	_, err := wrapped(context.Background(), 1)
	r.ErrorIs(t, err, boom) // re-raised unchanged

	r.Len(t, rec.creates, 1)
	r.Len(t, rec.updates, 1)
	r.Equal(t, "boom", rec.updates[0].Error)
	r.Nil(t, rec.updates[0].Outputs)
}

func TestTrace_FailureWithStack(t *testing.T) {
	rec := &recorder{}
	wrapped := Trace(Config{Name: "fails", Client: rec}, func(_ context.Context, _ int) (int, error) {
		return 0, errors.New("boom with stack")
	})

	_, err := wrapped(context.Background(), 1)
	r.Error(t, err)

	msg := rec.updates[0].Error
	r.True(t, strings.HasPrefix(msg, "boom with stack\n\n"))
	r.Contains(t, msg, "traceable_test.go")
}

func TestTrace_Nesting(t *testing.T) {
	rec := &recorder{}
	inner := Trace(Config{Name: "inner", Client: rec}, addOne)
	outer := Trace(Config{Name: "outer", Client: rec}, func(ctx context.Context, x int) (int, error) {
		return inner(ctx, x)
	})

	out, err := outer(context.Background(), 1)
	r.NoError(t, err)
	r.Equal(t, 2, out)

	r.Len(t, rec.creates, 2)
	r.Len(t, rec.updates, 2)

	outerRun, innerRun := rec.creates[0], rec.creates[1]
	r.Equal(t, "outer", outerRun.Name)
	r.Equal(t, "inner", innerRun.Name)
	r.Equal(t, outerRun.ID, *innerRun.ParentRunID)
	r.Equal(t, outerRun.ID, innerRun.TraceID)
	r.Greater(t, innerRun.DottedOrder, outerRun.DottedOrder)
}

func TestTrace_NameDefaultsToFunction(t *testing.T) {
	rec := &recorder{}
	wrapped := Trace(Config{Client: rec}, addOne)

	_, err := wrapped(context.Background(), 1)
	r.NoError(t, err)
	r.Equal(t, "addOne", rec.creates[0].Name)
}

func TestTrace_Panic(t *testing.T) {
	rec := &recorder{}
	wrapped := Trace(Config{Name: "panics", Client: rec}, func(_ context.Context, _ int) (int, error) {
		panic("kaboom")
	})

	r.PanicsWithValue(t, "kaboom", func() {
		_, _ = wrapped(context.Background(), 1)
	})

	r.Len(t, rec.creates, 1)
	r.Len(t, rec.updates, 1)
	r.True(t, strings.HasPrefix(rec.updates[0].Error, "panic: kaboom\n\n"))
}

func TestTrace_ConcurrentRootsAreIsolated(t *testing.T) {
	rec := &recorder{}
	wrapped := Trace(Config{Name: "root", Client: rec}, addOne)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(x int) {
			defer wg.Done()
			out, err := wrapped(context.Background(), x)
			r.NoError(t, err)
			r.Equal(t, x+1, out)
		}(i)
	}
	wg.Wait()

	r.Len(t, rec.creates, 8)
	traces := make(map[string]bool)
	for _, run := range rec.creates {
		r.Nil(t, run.ParentRunID)
		traces[run.TraceID.String()] = true
	}
	r.Len(t, traces, 8)
}
