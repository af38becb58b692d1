// Package gojart implements the embedded realm backend: each realm is a
// goja VM driven by its own goja_nodejs event loop on its own goroutine.
// Cross-realm coordination is message passing through the loop; there is no
// shared mutable state between realms.
package gojart

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/hostenv"
)

// interruptDrain bounds how long Teardown and timed-out probes wait for an
// interrupted job to acknowledge before abandoning the loop.
const interruptDrain = 500 * time.Millisecond

// Realm is one embedded execution context.
type Realm struct {
	kind   schemas.RealmKind
	state  atomic.Int32
	loop   *eventloop.EventLoop
	env    hostenv.Environment
	logger *zap.Logger

	// vm is assigned once during setup on the loop goroutine. After that it
	// is only touched on-loop, except for Interrupt, which goja allows from
	// any goroutine.
	vm *goja.Runtime
}

// newRealm starts an event loop, installs the environment bridge, and
// returns the realm in the creating state. Readiness is the manager's call.
func newRealm(kind schemas.RealmKind, env hostenv.Environment, logger *zap.Logger) (*Realm, error) {
	registry := require.NewRegistry()
	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(true),
	)
	loop.Start()

	r := &Realm{
		kind:   kind,
		loop:   loop,
		env:    env,
		logger: logger.With(zap.String("realm", string(kind))),
	}
	r.state.Store(int32(schemas.RealmCreating))

	setup := make(chan error, 1)
	loop.RunOnLoop(func(vm *goja.Runtime) {
		r.vm = vm
		setup <- installBridge(vm, kind, env)
	})

	select {
	case err := <-setup:
		if err != nil {
			r.destroy()
			return nil, fmt.Errorf("realm bridge setup failed: %w", err)
		}
	case <-time.After(2 * time.Second):
		r.destroy()
		return nil, errors.New("realm loop did not start in time")
	}
	return r, nil
}

func (r *Realm) Kind() schemas.RealmKind { return r.kind }

func (r *Realm) State() schemas.RealmState {
	return schemas.RealmState(r.state.Load())
}

func (r *Realm) HasRenderLoop() bool { return r.kind != schemas.RealmWorker }

func (r *Realm) markReady() {
	r.state.CompareAndSwap(int32(schemas.RealmCreating), int32(schemas.RealmReady))
}

func (r *Realm) markFailed() {
	r.state.CompareAndSwap(int32(schemas.RealmCreating), int32(schemas.RealmFailed))
}

// usable gates script execution. Probes may run while the realm is still
// creating (readiness detection needs that); never after failure/teardown.
func (r *Realm) usable() error {
	switch r.State() {
	case schemas.RealmCreating, schemas.RealmReady:
		return nil
	default:
		return fmt.Errorf("realm %s is %s", r.kind, r.State())
	}
}

type outcome struct {
	value any
	err   error
}

// job tracks one loop submission. Probes from concurrent suites serialize
// on the same loop, so interrupt decisions must know whether this job, and
// not a sibling's, currently holds it.
type job struct {
	cancelled atomic.Bool
	running   atomic.Bool
}

// submit schedules fn on the loop with the job bookkeeping wrapped around
// it. A job cancelled before it reaches the loop is skipped entirely.
func (r *Realm) submit(fn func(vm *goja.Runtime)) *job {
	j := &job{}
	r.loop.RunOnLoop(func(vm *goja.Runtime) {
		if j.cancelled.Load() {
			return
		}
		j.running.Store(true)
		defer j.running.Store(false)
		vm.ClearInterrupt()
		fn(vm)
	})
	return j
}

// RunProbe executes `function(lab) { ... }` on the loop and exports its
// return value.
func (r *Realm) RunProbe(ctx context.Context, fnSource string) (any, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}

	ch := make(chan outcome, 1)
	j := r.submit(func(vm *goja.Runtime) {
		v, err := vm.RunString("(" + fnSource + ")(__lab)")
		if err != nil {
			ch <- outcome{nil, normalizeJSError(err)}
			return
		}
		ch <- outcome{v.Export(), nil}
	})
	return r.await(ctx, j, ch)
}

// RunAsyncProbe executes `function(lab, done) { ... }` and blocks until the
// probe calls done(value) or ctx expires. done is a host callback; a probe
// that never calls it is abandoned at the ctx deadline without poisoning the
// loop.
func (r *Realm) RunAsyncProbe(ctx context.Context, fnSource string) (any, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}

	ch := make(chan outcome, 1)
	j := r.submit(func(vm *goja.Runtime) {
		v, err := vm.RunString("(" + fnSource + ")")
		if err != nil {
			ch <- outcome{nil, normalizeJSError(err)}
			return
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			ch <- outcome{nil, errors.New("async probe source did not evaluate to a function")}
			return
		}
		done := vm.ToValue(func(result goja.Value) {
			select {
			case ch <- outcome{result.Export(), nil}:
			default: // done called twice, or after timeout; drop
			}
		})
		if _, err := fn(goja.Undefined(), vm.Get("__lab"), done); err != nil {
			select {
			case ch <- outcome{nil, normalizeJSError(err)}:
			default:
			}
		}
	})
	return r.await(ctx, j, ch)
}

// Post delivers a payload to the realm's message handler and returns its
// reply. The default handler echoes the payload.
func (r *Realm) Post(ctx context.Context, payload any) (any, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}

	ch := make(chan outcome, 1)
	j := r.submit(func(vm *goja.Runtime) {
		deliver, ok := goja.AssertFunction(vm.Get("__deliver"))
		if !ok {
			ch <- outcome{nil, errors.New("realm has no message delivery hook")}
			return
		}
		v, err := deliver(goja.Undefined(), vm.ToValue(payload))
		if err != nil {
			ch <- outcome{nil, normalizeJSError(err)}
			return
		}
		ch <- outcome{v.Export(), nil}
	})
	return r.await(ctx, j, ch)
}

// runScript evaluates raw source on the loop. Used by the manager to load
// worker bodies before liveness probing.
func (r *Realm) runScript(ctx context.Context, source string) error {
	if err := r.usable(); err != nil {
		return err
	}
	ch := make(chan outcome, 1)
	j := r.submit(func(vm *goja.Runtime) {
		_, err := vm.RunString(source)
		ch <- outcome{nil, normalizeJSError(err)}
	})
	_, err := r.await(ctx, j, ch)
	return err
}

// await resolves the pending loop job against the context. On expiry a job
// that holds the loop is interrupted so a stuck tight loop cannot wedge the
// realm; a job still queued is cancelled without touching the VM, because
// the interrupt would land on whichever sibling is currently running.
func (r *Realm) await(ctx context.Context, j *job, ch chan outcome) (any, error) {
	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		j.cancelled.Store(true)
		if r.vm != nil && j.running.Load() {
			r.vm.Interrupt("probe deadline exceeded")
			select {
			case <-ch:
			case <-time.After(interruptDrain):
				r.logger.Warn("Interrupted probe did not acknowledge in time")
			}
		}
		return nil, ctx.Err()
	}
}

// destroy stops the loop. Idempotent; all errors are swallowed because
// cleanup failures must not crash the caller.
func (r *Realm) destroy() {
	prev := r.state.Swap(int32(schemas.RealmTornDown))
	if prev == int32(schemas.RealmTornDown) {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("Recovered panic during realm teardown", zap.Any("panic", rec))
		}
	}()
	if r.vm != nil {
		r.vm.Interrupt("realm torn down")
	}
	r.loop.Stop()
}

func normalizeJSError(err error) error {
	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("javascript execution interrupted: %w", err)
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return fmt.Errorf("javascript exception: %s", exception.String())
	}
	return fmt.Errorf("javascript error: %w", err)
}
