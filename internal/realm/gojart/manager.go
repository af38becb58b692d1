package gojart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/hostenv"
	"github.com/xkilldash9x/realmprobe/internal/realm"
)

// readyPollInterval is the cadence of the readyState poll that races the
// load event during sub-realm creation. Load events are unreliable for
// minimal documents, so neither signal is trusted alone.
const readyPollInterval = 10 * time.Millisecond

// loadEventProbe resolves when the sub-document reports load, or
// immediately when it is already complete by the time the listener attaches.
const loadEventProbe = `
function (lab, done) {
	if (document.readyState === 'complete') { done('complete'); return; }
	addEventListener('load', function () { done('load'); });
}
`

const readyStateProbe = `function (lab) { return document.readyState; }`

// Manager creates and tears down embedded realms. Every realm it creates is
// recorded so TeardownAll can guarantee cleanup on every exit path.
type Manager struct {
	logger *zap.Logger
	env    hostenv.Environment

	mu     sync.Mutex
	realms []*Realm
	main   *Realm
}

var _ realm.Manager = (*Manager)(nil)

// NewManager stands up the primary (main) realm eagerly; a manager whose
// primary realm cannot start is returned as an error because nothing can be
// probed without it.
func NewManager(logger *zap.Logger, env hostenv.Environment) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger: logger.Named("gojart"),
		env:    env,
	}

	main, err := newRealm(schemas.RealmMain, env, m.logger)
	if err != nil {
		return nil, realm.NewFailure(schemas.RealmMain, "primary realm creation failed", err)
	}
	main.markReady()
	m.main = main
	m.track(main)
	return m, nil
}

func (m *Manager) track(r *Realm) {
	m.mu.Lock()
	m.realms = append(m.realms, r)
	m.mu.Unlock()
}

// Main returns the primary realm.
func (m *Manager) Main() (realm.Realm, error) {
	if m.main == nil || m.main.State() != schemas.RealmReady {
		return nil, realm.NewFailure(schemas.RealmMain, "primary realm unavailable", nil)
	}
	return m.main, nil
}

// CreateSubRealm stands up a sub-document realm and waits for readiness by
// racing two independent signals: the document load event and a
// short-interval poll of readyState. Whichever fires first wins; the losing
// signal is cancelled with the shared race context so no listener outlives
// the race. A timeout tears the realm down and reports failure.
func (m *Manager) CreateSubRealm(ctx context.Context, timeout time.Duration) (realm.Realm, error) {
	r, err := newRealm(schemas.RealmSubDocument, m.env, m.logger)
	if err != nil {
		return nil, realm.NewFailure(schemas.RealmSubDocument, "creation failed", err)
	}
	m.track(r)

	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ready := make(chan string, 2)

	go func() {
		if _, err := r.RunAsyncProbe(raceCtx, loadEventProbe); err == nil {
			select {
			case ready <- "load-event":
			default:
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(readyPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-raceCtx.Done():
				return
			case <-ticker.C:
				state, err := r.RunProbe(raceCtx, readyStateProbe)
				if err == nil && state == "complete" {
					select {
					case ready <- "readystate-poll":
					default:
					}
					return
				}
			}
		}
	}()

	select {
	case signal := <-ready:
		r.markReady()
		m.logger.Debug("Sub-document realm ready",
			zap.String("winning_signal", signal))
		return r, nil
	case <-raceCtx.Done():
		r.markFailed()
		m.Teardown(r)
		return nil, realm.NewFailure(schemas.RealmSubDocument, "readiness timeout", raceCtx.Err())
	}
}

// CreateWorkerRealm stands up a worker realm from an in-memory script (no
// network fetch), then confirms liveness by posting a probe message and
// racing the echo against the timeout. On timeout or error the worker is
// terminated and a failure is reported; nothing is thrown at the caller.
func (m *Manager) CreateWorkerRealm(ctx context.Context, script string, timeout time.Duration) (realm.Realm, error) {
	r, err := newRealm(schemas.RealmWorker, m.env, m.logger)
	if err != nil {
		return nil, realm.NewFailure(schemas.RealmWorker, "creation failed", err)
	}
	m.track(r)

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if script != "" {
		if err := r.runScript(probeCtx, script); err != nil {
			r.markFailed()
			m.Teardown(r)
			return nil, realm.NewFailure(schemas.RealmWorker, "worker script failed", err)
		}
	}

	echo, err := r.Post(probeCtx, "__realmprobe_ping__")
	if err != nil {
		r.markFailed()
		m.Teardown(r)
		return nil, realm.NewFailure(schemas.RealmWorker, "liveness probe failed", err)
	}
	if echo != "__realmprobe_ping__" {
		r.markFailed()
		m.Teardown(r)
		return nil, realm.NewFailure(schemas.RealmWorker, "liveness probe returned unexpected echo", nil)
	}

	r.markReady()
	m.logger.Debug("Worker realm ready")
	return r, nil
}

// Teardown destroys one realm. Idempotent and safe on already-failed or
// already-removed handles; removal errors are swallowed.
func (m *Manager) Teardown(r realm.Realm) {
	gr, ok := r.(*Realm)
	if !ok || gr == nil {
		return
	}
	gr.destroy()
}

// TeardownAll destroys every realm this manager created, the main realm
// included.
func (m *Manager) TeardownAll() {
	m.mu.Lock()
	realms := make([]*Realm, len(m.realms))
	copy(realms, m.realms)
	m.realms = nil
	m.mu.Unlock()

	for _, r := range realms {
		r.destroy()
	}
}
