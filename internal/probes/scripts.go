package probes

import "fmt"

// canvasCommands is the fixed draw-command stream hashed by the rendering
// probes. Identical in every realm and every iteration; any hash divergence
// is the environment's doing, not ours.
const canvasCommands = "size:240x60;fill:#1f2937;font:16px sans-serif;text:realmprobe éß漢,8,40;arc:200,30,20,0,6.283;stroke:#f59e0b"

// perfNowProbe reads the monotonic clock in a tight loop and records only
// the deltas between distinct readings, measuring clock quantization and
// jitter. The spin cap keeps a frozen or fully-virtualized clock from
// spinning forever; whatever was collected by then is the answer.
func perfNowProbe(samples int) string {
	return fmt.Sprintf(`
function (lab) {
	var deltas = [];
	var last = performance.now();
	var spins = 0;
	while (deltas.length < %d && spins < 2000000) {
		var t = performance.now();
		if (t > last) {
			deltas.push(t - last);
			last = t;
		}
		spins++;
	}
	return deltas;
}
`, samples)
}

// schedulerLatencyProbe measures how long the realm's "run on next tick"
// primitive takes to fire, repeated to get a latency distribution.
func schedulerLatencyProbe(samples int) string {
	return fmt.Sprintf(`
function (lab, done) {
	var samples = [];
	var n = %d;
	function tick() {
		var t0 = performance.now();
		setTimeout(function () {
			samples.push(performance.now() - t0);
			if (samples.length >= n) {
				done(samples);
			} else {
				tick();
			}
		}, 0);
	}
	tick();
}
`, samples)
}

// animationCadenceProbe chains frame callbacks and records inter-frame
// deltas. Realms without a rendering loop report null, which the suite
// records as unsupported rather than an error.
func animationCadenceProbe(frames int) string {
	return fmt.Sprintf(`
function (lab, done) {
	if (typeof requestAnimationFrame !== 'function') {
		done(null);
		return;
	}
	var deltas = [];
	var last = -1;
	var n = %d;
	function frame(ts) {
		var t = (typeof ts === 'number') ? ts : performance.now();
		if (last >= 0) {
			deltas.push(t - last);
		}
		last = t;
		if (deltas.length >= n) {
			done(deltas);
		} else {
			requestAnimationFrame(frame);
		}
	}
	requestAnimationFrame(frame);
}
`, frames)
}

// collectorScript reads the versioned profile field list. Every read goes
// through the attempt combinator so ok, missing (API absent), and error
// (read threw) stay distinguishable; no field is ever omitted from the
// result.
func collectorScript() string {
	return fmt.Sprintf(`
function (lab) {
	function attempt(fn) {
		try {
			var v = fn();
			if (v === undefined || v === null) {
				return { status: 'missing' };
			}
			return { status: 'ok', value: v };
		} catch (e) {
			return { status: 'error' };
		}
	}
	function miss(cond, fn) {
		return cond ? fn : function () { return undefined; };
	}
	var hasScreen = (typeof screen !== 'undefined');
	var hasDPR = (typeof devicePixelRatio !== 'undefined');
	return {
		hardwareConcurrency: attempt(function () { return navigator.hardwareConcurrency; }),
		deviceMemory: attempt(function () { return navigator.deviceMemory; }),
		timeZone: attempt(function () { return Intl.DateTimeFormat().resolvedOptions().timeZone; }),
		locale: attempt(function () { return Intl.DateTimeFormat().resolvedOptions().locale; }),
		languages: attempt(function () {
			return navigator.languages ? Array.prototype.slice.call(navigator.languages) : undefined;
		}),
		platform: attempt(function () { return navigator.platform; }),
		userAgent: attempt(function () { return navigator.userAgent; }),
		screenWidth: attempt(miss(hasScreen, function () { return screen.width; })),
		screenHeight: attempt(miss(hasScreen, function () { return screen.height; })),
		availWidth: attempt(miss(hasScreen, function () { return screen.availWidth; })),
		availHeight: attempt(miss(hasScreen, function () { return screen.availHeight; })),
		colorDepth: attempt(miss(hasScreen, function () { return screen.colorDepth; })),
		devicePixelRatio: attempt(miss(hasDPR, function () { return devicePixelRatio; })),
		gpuVendor: attempt(function () { return lab.gpu().vendor; }),
		gpuRenderer: attempt(function () { return lab.gpu().renderer; }),
		canvasHash: attempt(function () { return lab.renderHash(%q); })
	};
}
`, canvasCommands)
}

// stabilityScript performs the identical deterministic draw repeatedly and
// returns the hash of every iteration.
func stabilityScript(iterations int) string {
	return fmt.Sprintf(`
function (lab) {
	var hashes = [];
	for (var i = 0; i < %d; i++) {
		hashes.push(lab.renderHash(%q));
	}
	return hashes;
}
`, iterations, canvasCommands)
}

// lieDetectScript checks the invariant classes: exact geometry arithmetic,
// re-derivation through an array unshift round trip (catches per-read noise
// on rect getters), and repeated-call determinism of pure primitives.
func lieDetectScript() string {
	return fmt.Sprintf(`
function (lab) {
	var lies = [];
	var EPS = 1e-6;

	function lie(tag, detail, values) {
		lies.push({ tag: tag, detail: detail, values: values });
	}
	function same(a, b) {
		if (typeof a === 'number' && typeof b === 'number' && isNaN(a) && isNaN(b)) {
			return true;
		}
		return a === b;
	}

	var r = lab.rect();
	if (r) {
		if (Math.abs((r.right - r.left) - r.width) > EPS) {
			lie('failed-math-calculation', 'right - left != width', [r.right, r.left, r.width]);
		}
		if (Math.abs((r.bottom - r.top) - r.height) > EPS) {
			lie('failed-math-calculation', 'bottom - top != height', [r.bottom, r.top, r.height]);
		}
		if (Math.abs(r.x - r.left) > EPS) {
			lie('failed-math-calculation', 'x != left', [r.x, r.left]);
		}
		if (Math.abs(r.y - r.top) > EPS) {
			lie('failed-math-calculation', 'y != top', [r.y, r.top]);
		}

		var parts = [r.width, r.left];
		parts.unshift(r.right);
		var derived = parts[0] - parts[2];
		var again = lab.rect();
		if (again && Math.abs(derived - again.width) > EPS) {
			lie('failed-unshift-calculation', 'unshift-derived width diverged on re-read', [derived, again.width]);
		}
	}

	var mathInputs = [
		['Math.sin', function () { return Math.sin(1e300); }],
		['Math.cos', function () { return Math.cos(1e300); }],
		['Math.tan', function () { return Math.tan(-1e300); }],
		['Math.exp', function () { return Math.exp(709.9); }],
		['Math.atan2', function () { return Math.atan2(1e-300, -1e-300); }]
	];
	for (var i = 0; i < mathInputs.length; i++) {
		var first = mathInputs[i][1]();
		var second = mathInputs[i][1]();
		if (!same(first, second)) {
			lie('inconsistent-result', mathInputs[i][0] + ' is non-deterministic', [first, second]);
		}
	}

	var h1 = lab.renderHash(%q);
	var h2 = lab.renderHash(%q);
	if (h1 !== h2) {
		lie('inconsistent-result', 'renderHash is non-deterministic', [h1, h2]);
	}

	return lies;
}
`, canvasCommands, canvasCommands)
}
