// Package realm defines the abstraction over isolated JavaScript execution
// contexts that the detection engine probes. Two backends implement it: an
// embedded goja backend (gojart) and a live-Chrome backend (chrome).
package realm

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/realmprobe/api/schemas"
)

// Realm is a single isolated execution context. Implementations must be safe
// for concurrent use; script execution serializes on the realm's own loop.
//
// Probe sources are JavaScript function literals. Synchronous probes have the
// shape `function(lab) { ...; return value }`; asynchronous probes have the
// shape `function(lab, done) { ... done(value) }` and must call done exactly
// once. The lab argument exposes the backend-neutral helpers (renderHash,
// rect, gpu) so the same probe sources run in every backend.
type Realm interface {
	Kind() schemas.RealmKind
	State() schemas.RealmState

	// HasRenderLoop reports whether frame callbacks fire in this realm.
	// Worker realms have no rendering loop.
	HasRenderLoop() bool

	// RunProbe executes a synchronous probe function and returns its
	// exported result.
	RunProbe(ctx context.Context, fnSource string) (any, error)

	// RunAsyncProbe executes an asynchronous probe function and blocks
	// until done(value) fires or ctx expires.
	RunAsyncProbe(ctx context.Context, fnSource string) (any, error)

	// Post delivers a payload to the realm's message handler and returns
	// the realm's echo. Used to measure cross-realm round-trip latency.
	Post(ctx context.Context, payload any) (any, error)
}

// Manager owns the lifecycle of every realm in one detection run. All realms
// it creates must be torn down before the run returns, on every exit path.
type Manager interface {
	// Main returns the primary realm. If the primary realm is unusable the
	// whole run is unusable.
	Main() (Realm, error)

	// CreateSubRealm stands up an embedded sub-document realm, racing its
	// readiness signals against the timeout.
	CreateSubRealm(ctx context.Context, timeout time.Duration) (Realm, error)

	// CreateWorkerRealm stands up an isolated worker realm from an
	// in-memory script and confirms liveness with a probe message before
	// returning.
	CreateWorkerRealm(ctx context.Context, script string, timeout time.Duration) (Realm, error)

	// Teardown destroys one realm. Idempotent; safe on failed or already
	// removed handles, and never returns the removal error to the caller.
	Teardown(r Realm)

	// TeardownAll destroys every realm this manager created.
	TeardownAll()
}

// Failure describes a realm that could not be stood up. Callers treat the
// realm as unsupported and skip probes against it; a Failure is never fatal
// to the run unless it concerns the primary realm.
type Failure struct {
	Kind   schemas.RealmKind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("realm %s: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("realm %s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure builds a Failure for the given realm kind.
func NewFailure(kind schemas.RealmKind, reason string, err error) *Failure {
	return &Failure{Kind: kind, Reason: reason, Err: err}
}
