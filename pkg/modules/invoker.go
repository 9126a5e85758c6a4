package modules

import (
	"context"
	"errors"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/inventory"
	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/AlexanderGrooff/converge/pkg/template"
)

// Request is one module call for one host.
type Request struct {
	Host       *inventory.Host
	Module     string
	Args       map[string]interface{}
	Vars       map[string]interface{}
	Check      bool
	Diff       bool
	Become     bool
	BecomeUser string
	Dir        string
}

// Invoker executes a module for a host. The returned error is reserved for a
// cancelled or expired ctx; module and transport failures are reported in the Result.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// ConnectionProvider hands out host connections. runtime.Manager implements it.
type ConnectionProvider interface {
	Get(host *inventory.Host, vars map[string]interface{}) (runtime.Connection, error)
}

// Runner invokes registered modules over the provided connections.
type Runner struct {
	Registry    *Registry
	Connections ConnectionProvider
	Evaluator   template.Evaluator
	Clock       Sleeper
}

// NewRunner returns a Runner with the built-in modules.
func NewRunner(connections ConnectionProvider, evaluator template.Evaluator) *Runner {
	return &Runner{
		Registry:    Builtin(),
		Connections: connections,
		Evaluator:   evaluator,
		Clock:       realSleeper{},
	}
}

func (r *Runner) Invoke(ctx context.Context, req Request) (Result, error) {
	module, found := r.Registry.Get(req.Module)
	if !found {
		return failed("couldn't resolve module/action '%s'", req.Module), nil
	}

	clock := r.Clock
	if clock == nil {
		clock = realSleeper{}
	}
	mctx := &Context{
		Host:       req.Host,
		Vars:       req.Vars,
		Check:      req.Check,
		Diff:       req.Diff,
		Become:     req.Become,
		BecomeUser: req.BecomeUser,
		Dir:        req.Dir,
		Evaluator:  r.Evaluator,
		Clock:      clock,
		connect: func() (runtime.Connection, error) {
			if r.Connections == nil {
				return nil, errors.New("no connection provider configured")
			}
			return r.Connections.Get(req.Host, req.Vars)
		},
	}

	args := req.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := module.Run(ctx, mctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if runtime.IsUnreachable(err) {
			return Result{Status: StatusUnreachable, Msg: err.Error()}, nil
		}
		common.LogDebug("Module returned an error", map[string]interface{}{
			"host":   req.Host.Name,
			"module": req.Module,
			"error":  err.Error(),
		})
		result.Status = StatusFailed
		result.Msg = err.Error()
		return result, nil
	}
	if result.Status == "" {
		result.Status = StatusOK
	}
	return result, nil
}
