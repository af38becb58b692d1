package gojart

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/hostenv"
)

// documentBootstrap shapes a sub-document style realm: a document whose
// readyState advances asynchronously and fires a load event, mirroring how a
// real embedded document becomes ready some time after creation. Readiness
// detection races the load event against readyState polling, so both signals
// must exist here.
const documentBootstrap = `
(function (boot) {
	var listeners = {};
	var doc = {
		readyState: 'loading',
		addEventListener: function (type, fn) {
			(listeners[type] = listeners[type] || []).push(fn);
		},
		removeEventListener: function (type, fn) {
			var l = listeners[type];
			if (!l) return;
			var i = l.indexOf(fn);
			if (i >= 0) l.splice(i, 1);
		}
	};
	globalThis.document = doc;
	globalThis.addEventListener = doc.addEventListener;
	globalThis.removeEventListener = doc.removeEventListener;

	globalThis.requestAnimationFrame = function (cb) {
		return setTimeout(function () { cb(performance.now()); }, boot.frameMs);
	};
	globalThis.cancelAnimationFrame = function (id) { clearTimeout(id); };

	setTimeout(function () { doc.readyState = 'interactive'; }, boot.readyDelayMs / 2);
	setTimeout(function () {
		doc.readyState = 'complete';
		var l = (listeners['load'] || []).slice();
		for (var i = 0; i < l.length; i++) {
			try { l[i]({ type: 'load' }); } catch (e) { /* listener errors stay local */ }
		}
	}, boot.readyDelayMs);
})
`

// sharedBootstrap installs the message-delivery hook common to every realm
// kind. __deliver feeds the realm's onmessage handler (echoing when none is
// installed) and returns the reply to the host.
const sharedBootstrap = `
(function () {
	globalThis.__deliver = function (msg) {
		if (typeof globalThis.onmessage === 'function') {
			var out = globalThis.onmessage({ data: msg });
			return out === undefined ? msg : out;
		}
		return msg;
	};
})();
`

// readyDelay is how long a fresh sub-document realm takes to report
// complete. Long enough that the readiness race is a real race.
const readyDelay = 20 * time.Millisecond

// installBridge populates a fresh VM with the browser-shaped surface backed
// by the host environment: performance, navigator, screen, Intl, the lab
// helper object, and the kind-specific bootstrap. Runs on the realm's loop.
func installBridge(vm *goja.Runtime, kind schemas.RealmKind, env hostenv.Environment) error {
	snap := env.Snapshot()

	perf := vm.NewObject()
	if err := perf.Set("now", func() float64 { return env.NowMillis() }); err != nil {
		return fmt.Errorf("binding performance.now: %w", err)
	}
	if err := vm.Set("performance", perf); err != nil {
		return fmt.Errorf("binding performance: %w", err)
	}

	nav := vm.NewObject()
	nav.Set("hardwareConcurrency", snap.HardwareConcurrency)
	nav.Set("deviceMemory", snap.DeviceMemory)
	nav.Set("platform", snap.Platform)
	nav.Set("userAgent", snap.UserAgent)
	nav.Set("languages", snap.Languages)
	if len(snap.Languages) > 0 {
		nav.Set("language", snap.Languages[0])
	}
	if err := vm.Set("navigator", nav); err != nil {
		return fmt.Errorf("binding navigator: %w", err)
	}

	// Workers have no screen surface; its absence in worker profiles is a
	// "missing" outcome, not a mismatch.
	if kind != schemas.RealmWorker {
		scr := vm.NewObject()
		scr.Set("width", snap.ScreenWidth)
		scr.Set("height", snap.ScreenHeight)
		scr.Set("availWidth", snap.AvailWidth)
		scr.Set("availHeight", snap.AvailHeight)
		scr.Set("colorDepth", snap.ColorDepth)
		scr.Set("pixelDepth", snap.ColorDepth)
		if err := vm.Set("screen", scr); err != nil {
			return fmt.Errorf("binding screen: %w", err)
		}
		vm.Set("devicePixelRatio", snap.DevicePixelRatio)
	}

	if err := installIntl(vm, snap); err != nil {
		return err
	}
	if err := installLab(vm, kind, env); err != nil {
		return err
	}

	if _, err := vm.RunString(sharedBootstrap); err != nil {
		return fmt.Errorf("running shared bootstrap: %w", err)
	}

	if kind != schemas.RealmWorker {
		boot, err := vm.RunString(documentBootstrap)
		if err != nil {
			return fmt.Errorf("compiling document bootstrap: %w", err)
		}
		fn, ok := goja.AssertFunction(boot)
		if !ok {
			return fmt.Errorf("document bootstrap did not evaluate to a function")
		}
		arg := vm.NewObject()
		arg.Set("readyDelayMs", float64(readyDelay.Milliseconds()))
		arg.Set("frameMs", env.FrameInterval().Seconds()*1000)
		if _, err := fn(goja.Undefined(), arg); err != nil {
			return fmt.Errorf("running document bootstrap: %w", err)
		}
	}
	return nil
}

// installIntl provides the minimal Intl.DateTimeFormat().resolvedOptions()
// surface profile collection reads. Goja ships without Intl.
func installIntl(vm *goja.Runtime, snap hostenv.Snapshot) error {
	resolved := map[string]any{
		"timeZone": snap.TimeZone,
		"locale":   snap.Locale,
	}
	intl := vm.NewObject()
	err := intl.Set("DateTimeFormat", func() *goja.Object {
		dtf := vm.NewObject()
		dtf.Set("resolvedOptions", func() map[string]any { return resolved })
		return dtf
	})
	if err != nil {
		return fmt.Errorf("binding Intl: %w", err)
	}
	return vm.Set("Intl", intl)
}

// installLab binds the backend-neutral helper object probe sources receive.
func installLab(vm *goja.Runtime, kind schemas.RealmKind, env hostenv.Environment) error {
	snap := env.Snapshot()

	lab := vm.NewObject()
	lab.Set("renderHash", func(commands string) string { return env.RenderHash(commands) })
	lab.Set("gpu", func() map[string]any {
		return map[string]any{"vendor": snap.GPUVendor, "renderer": snap.GPURenderer}
	})
	if kind == schemas.RealmWorker {
		// No DOM, no probe element.
		lab.Set("rect", func() any { return nil })
	} else {
		lab.Set("rect", func() map[string]any {
			r := env.ElementRect()
			return map[string]any{
				"x": r.X, "y": r.Y,
				"left": r.Left, "top": r.Top,
				"right": r.Right, "bottom": r.Bottom,
				"width": r.Width, "height": r.Height,
			}
		})
	}
	return vm.Set("__lab", lab)
}
