// Package chrome implements the realm backend that probes a live Chrome
// instance over the DevTools protocol: the main page, an injected
// same-origin iframe, and a blob-URL dedicated worker.
package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
)

// Realm is one execution context in the probed browser. All script traffic
// flows through the page's CDP session; iframe and worker realms are reached
// through page-side plumbing installed by the harness.
type Realm struct {
	kind   schemas.RealmKind
	state  atomic.Int32
	tab    context.Context
	logger *zap.Logger
}

func newChromeRealm(kind schemas.RealmKind, tab context.Context, logger *zap.Logger) *Realm {
	r := &Realm{
		kind:   kind,
		tab:    tab,
		logger: logger.With(zap.String("realm", string(kind))),
	}
	r.state.Store(int32(schemas.RealmCreating))
	return r
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

func (r *Realm) usable() error {
	switch r.State() {
	case schemas.RealmCreating, schemas.RealmReady:
		return nil
	default:
		return fmt.Errorf("realm %s is %s", r.kind, r.State())
	}
}

// RunProbe executes a synchronous probe function inside this realm.
func (r *Realm) RunProbe(ctx context.Context, fnSource string) (any, error) {
	return r.evaluate(ctx, r.wrapSync(fnSource))
}

// RunAsyncProbe executes `function(lab, done)` inside this realm, bridging
// done through a Promise that CDP awaits.
func (r *Realm) RunAsyncProbe(ctx context.Context, fnSource string) (any, error) {
	return r.evaluate(ctx, r.wrapAsync(fnSource))
}

// Post round-trips a payload through the realm's message plumbing.
func (r *Realm) Post(ctx context.Context, payload any) (any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not serializable: %w", err)
	}
	switch r.kind {
	case schemas.RealmWorker:
		return r.evaluate(ctx, fmt.Sprintf("window.__rpWorkerCall({type:'post', payload:%s})", encoded))
	case schemas.RealmSubDocument:
		// contentWindow.postMessage echo via the frame's own deliver hook.
		return r.evaluate(ctx, fmt.Sprintf("%s.eval(%s)", frameWindowExpr,
			mustJSON(fmt.Sprintf("(%s)", encoded))))
	default:
		return r.evaluate(ctx, fmt.Sprintf("(%s)", encoded))
	}
}

// wrapSync builds the evaluation expression invoking fnSource with this
// realm's lab binding.
func (r *Realm) wrapSync(fnSource string) string {
	switch r.kind {
	case schemas.RealmWorker:
		return fmt.Sprintf("window.__rpWorkerCall({type:'run', async:false, src:%s})", mustJSON(fnSource))
	case schemas.RealmSubDocument:
		inner := fmt.Sprintf("(%s)(self.__rpLab)", fnSource)
		return fmt.Sprintf("%s.eval(%s)", frameWindowExpr, mustJSON(inner))
	default:
		return fmt.Sprintf("(%s)(self.__rpLab)", fnSource)
	}
}

func (r *Realm) wrapAsync(fnSource string) string {
	switch r.kind {
	case schemas.RealmWorker:
		return fmt.Sprintf("window.__rpWorkerCall({type:'run', async:true, src:%s})", mustJSON(fnSource))
	case schemas.RealmSubDocument:
		inner := fmt.Sprintf(
			"new Promise(function (resolve) { (%s)(self.__rpLab, resolve); })", fnSource)
		return fmt.Sprintf("%s.eval(%s)", frameWindowExpr, mustJSON(inner))
	default:
		return fmt.Sprintf("new Promise(function (resolve) { (%s)(self.__rpLab, resolve); })", fnSource)
	}
}

// frameWindowExpr reaches the injected same-origin iframe's realm from the
// page realm.
const frameWindowExpr = "document.getElementById('__rp_frame').contentWindow"

// evaluate runs one expression through CDP with promise awaiting and
// by-value return, honoring ctx for cancellation.
func (r *Realm) evaluate(ctx context.Context, expression string) (any, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}

	var result any
	action := chromedp.Evaluate(expression, &result,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true).WithReturnByValue(true)
		})

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(r.tab, action)
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("browser evaluation failed: %w", err)
		}
		return result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, ctx.Err()
	}
}

func mustJSON(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// json.Marshal of a string cannot fail; keep the compiler honest.
		return `""`
	}
	return string(b)
}
