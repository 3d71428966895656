// Package traceable wraps ordinary functions so every invocation records one
// run: a create event on entry and an update event on exit, success or not.
package traceable

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stleox/seetrace/pkg/runtree"
)

// Config is the static portion of a wrapped function's run.
type Config struct {
	// Name of the created runs. Defaults to the wrapped function's name.
	Name    string
	RunType string

	Tags     []string
	Metadata map[string]any

	// Project and Client apply when the invocation starts a new trace;
	// nested invocations inherit both from the parent run.
	Project string
	Client  runtree.Submitter
}

// Trace returns a function equivalent to fn that creates a run per call,
// makes it the active run for the call's dynamic extent, and finalizes it on
// completion or failure. The wrapped function's result and error pass through
// unmodified.
func Trace[I, O any](cfg Config, fn func(context.Context, I) (O, error)) func(context.Context, I) (O, error) {
	name := cfg.Name
	if name == "" {
		name = funcName(fn)
	}

	return func(ctx context.Context, in I) (out O, err error) {
		node := newRun(ctx, cfg, name, in)
		if node == nil {
			return fn(ctx, in)
		}
		node.PostRun()

		defer func() {
			if rec := recover(); rec != nil {
				finalize(node, nil, fmt.Sprintf("panic: %v\n\n%s", rec, debug.Stack()))
				panic(rec)
			}
			if err != nil {
				finalize(node, nil, formatError(err))
			} else {
				finalize(node, map[string]any{"output": out}, "")
			}
		}()

		out, err = fn(runtree.ContextWithRunTree(ctx, node), in)
		return out, err
	}
}

// newRun creates a child under the active run, or a new root when the call
// chain is untraced.
func newRun(ctx context.Context, cfg Config, name string, in any) *runtree.RunTree {
	nodeCfg := runtree.Config{
		Name:    name,
		RunType: cfg.RunType,
		Inputs:  map[string]any{"input": in},
		Tags:    cfg.Tags,
		Project: cfg.Project,
		Client:  cfg.Client,
	}
	if len(cfg.Metadata) > 0 {
		nodeCfg.Extra = map[string]any{"metadata": cfg.Metadata}
	}

	parent, ok := runtree.RunTreeFromContext(ctx)
	var (
		node *runtree.RunTree
		err  error
	)
	if ok {
		node, err = parent.CreateChild(nodeCfg)
	} else {
		node, err = runtree.New(nodeCfg)
	}
	if err != nil {
		// tracing machinery must not fail the business call
		logrus.WithError(err).Warn("SeeTrace couldn't create a run for a traced call")
		return nil
	}
	return node
}

func finalize(node *runtree.RunTree, outputs map[string]any, runErr string) {
	if err := node.End(outputs, runErr, time.Time{}); err != nil {
		logrus.WithError(err).Warn("SeeTrace couldn't end a run")
	}
	if err := node.PatchRun(); err != nil {
		logrus.WithError(err).Warn("SeeTrace couldn't patch a run")
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// formatError renders the error's description and, when carried, its
// originating stack text, separated by a blank line.
func formatError(err error) string {
	var st stackTracer
	if stderrors.As(err, &st) {
		return fmt.Sprintf("%s\n\n%+v", err.Error(), st.StackTrace())
	}
	return err.Error()
}

func funcName(fn any) string {
	pc := reflect.ValueOf(fn).Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "traceable"
	}
	name := f.Name()
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if name == "" {
		return "traceable"
	}
	return name
}
