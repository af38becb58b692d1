package chrome

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/config"
	"github.com/xkilldash9x/realmprobe/internal/realm"
)

// readyPollInterval paces the contentDocument.readyState poll racing the
// iframe load event.
const readyPollInterval = 25 * time.Millisecond

// Manager drives one Chrome tab and creates realms inside it. The allocator
// owns the browser process; TeardownAll cancels everything it started.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	tabCtx          context.Context
	tabCancel       context.CancelFunc

	mu     sync.Mutex
	realms []*Realm
	main   *Realm
}

var _ realm.Manager = (*Manager)(nil)

// NewManager launches the browser, opens the probe tab, and installs the
// page harness. A browser that cannot start means no primary realm, which
// is fatal to any run using this backend.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger: logger.Named("chrome"),
		cfg:    cfg,
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	opts = append(opts,
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
	)
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)
	m.tabCtx, m.tabCancel = chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	target := cfg.TargetURL
	if target == "" {
		target = "about:blank"
	}
	if err := chromedp.Run(m.tabCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		m.shutdown()
		return nil, realm.NewFailure(schemas.RealmMain, "browser navigation failed", err)
	}

	main := newChromeRealm(schemas.RealmMain, m.tabCtx, m.logger)
	if _, err := main.evaluate(m.tabCtx, pageHarness); err != nil {
		m.shutdown()
		return nil, realm.NewFailure(schemas.RealmMain, "page harness installation failed", err)
	}
	main.markReady()
	m.main = main
	m.track(main)

	m.logger.Info("Browser backend initialized",
		zap.Bool("headless", cfg.Headless),
		zap.String("target", target))
	return m, nil
}

func (m *Manager) track(r *Realm) {
	m.mu.Lock()
	m.realms = append(m.realms, r)
	m.mu.Unlock()
}

// Main returns the page realm.
func (m *Manager) Main() (realm.Realm, error) {
	if m.main == nil || m.main.State() != schemas.RealmReady {
		return nil, realm.NewFailure(schemas.RealmMain, "primary realm unavailable", nil)
	}
	return m.main, nil
}

// CreateSubRealm injects a same-origin iframe and races its load event
// against a readyState poll; blank documents do not reliably fire load in
// every engine, so neither signal is trusted alone. Timeout removes the
// frame and reports failure.
func (m *Manager) CreateSubRealm(ctx context.Context, timeout time.Duration) (realm.Realm, error) {
	r := newChromeRealm(schemas.RealmSubDocument, m.tabCtx, m.logger)
	m.track(r)

	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	const inject = `
(function () {
	if (document.getElementById('__rp_frame')) return true;
	var f = document.createElement('iframe');
	f.id = '__rp_frame';
	f.style.cssText = 'position:absolute;left:-9999px;width:320px;height:180px;';
	document.body.appendChild(f);
	return true;
})()
`
	if _, err := m.main.evaluate(raceCtx, inject); err != nil {
		r.markFailed()
		return nil, realm.NewFailure(schemas.RealmSubDocument, "iframe injection failed", err)
	}

	ready := make(chan string, 2)

	go func() {
		const loadWait = `
new Promise(function (resolve) {
	var f = document.getElementById('__rp_frame');
	if (f.contentDocument && f.contentDocument.readyState === 'complete') { resolve('complete'); return; }
	f.addEventListener('load', function () { resolve('load'); });
})
`
		if _, err := m.main.evaluate(raceCtx, loadWait); err == nil {
			select {
			case ready <- "load-event":
			default:
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(readyPollInterval)
		defer ticker.Stop()
		const poll = `
(function () {
	var f = document.getElementById('__rp_frame');
	return f && f.contentDocument ? f.contentDocument.readyState : 'detached';
})()
`
		for {
			select {
			case <-raceCtx.Done():
				return
			case <-ticker.C:
				if state, err := m.main.evaluate(raceCtx, poll); err == nil && state == "complete" {
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
		// The frame realm needs its own lab surface before probes run.
		bootstrap := fmt.Sprintf("%s.eval(%s)", frameWindowExpr, mustJSON(labBootstrap+"true"))
		if _, err := m.main.evaluate(raceCtx, bootstrap); err != nil {
			r.markFailed()
			m.Teardown(r)
			return nil, realm.NewFailure(schemas.RealmSubDocument, "frame harness installation failed", err)
		}
		r.markReady()
		m.logger.Debug("Iframe realm ready", zap.String("winning_signal", signal))
		return r, nil
	case <-raceCtx.Done():
		r.markFailed()
		m.Teardown(r)
		return nil, realm.NewFailure(schemas.RealmSubDocument, "readiness timeout", raceCtx.Err())
	}
}

// CreateWorkerRealm builds a dedicated worker from an in-memory blob. The
// blob URL is revoked as soon as the worker is constructed, and the worker
// is terminated on every failure path.
func (m *Manager) CreateWorkerRealm(ctx context.Context, script string, timeout time.Duration) (realm.Realm, error) {
	r := newChromeRealm(schemas.RealmWorker, m.tabCtx, m.logger)
	m.track(r)

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The responder always installs last so it owns onmessage even when the
	// caller script registered its own handler.
	body := labBootstrap + script + workerResponder
	spawn := fmt.Sprintf(`
(function () {
	var url = URL.createObjectURL(new Blob([%s], { type: 'text/javascript' }));
	try {
		var worker = new Worker(url);
		window.__rpAttachWorker(worker);
		return true;
	} finally {
		URL.revokeObjectURL(url);
	}
})()
`, mustJSON(body))

	if _, err := m.main.evaluate(probeCtx, spawn); err != nil {
		r.markFailed()
		m.Teardown(r)
		return nil, realm.NewFailure(schemas.RealmWorker, "worker construction failed", err)
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

// Teardown removes one realm's in-page artifacts. Idempotent; removal
// errors are swallowed because cleanup must not crash the caller.
func (m *Manager) Teardown(r realm.Realm) {
	cr, ok := r.(*Realm)
	if !ok || cr == nil {
		return
	}
	prev := cr.state.Swap(int32(schemas.RealmTornDown))
	if prev == int32(schemas.RealmTornDown) {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var cleanup string
	switch cr.kind {
	case schemas.RealmSubDocument:
		cleanup = `(function () { var f = document.getElementById('__rp_frame'); if (f) f.remove(); return true; })()`
	case schemas.RealmWorker:
		cleanup = `(function () { if (window.__rpWorker) { window.__rpWorker.terminate(); window.__rpWorker = null; } return true; })()`
	default:
		return
	}
	if m.main != nil {
		if _, err := m.main.evaluate(cleanupCtx, cleanup); err != nil {
			m.logger.Debug("Realm cleanup error swallowed",
				zap.String("realm", string(cr.kind)), zap.Error(err))
		}
	}
}

// TeardownAll removes every realm and shuts the browser down.
func (m *Manager) TeardownAll() {
	m.mu.Lock()
	realms := make([]*Realm, len(m.realms))
	copy(realms, m.realms)
	m.realms = nil
	m.mu.Unlock()

	for _, r := range realms {
		if r.kind != schemas.RealmMain {
			m.Teardown(r)
		}
	}
	if m.main != nil {
		m.main.state.Store(int32(schemas.RealmTornDown))
	}
	m.shutdown()
}

func (m *Manager) shutdown() {
	if m.tabCancel != nil {
		m.tabCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
}
