package chrome

// labBootstrap defines the backend-neutral lab helper object inside a
// browser realm: a deterministic canvas hash, the probe-element rect, and
// GPU identity via WEBGL_debug_renderer_info. The same probe sources that
// run against the embedded backend call into this surface.
const labBootstrap = `
(function () {
	if (self.__rpLab) return;

	function fnv1a(str) {
		var h = 0x811c9dc5;
		for (var i = 0; i < str.length; i++) {
			h ^= str.charCodeAt(i);
			h = Math.imul(h, 0x01000193) >>> 0;
		}
		return ('0000000' + h.toString(16)).slice(-8);
	}

	function makeCanvas() {
		if (typeof OffscreenCanvas === 'function') {
			return new OffscreenCanvas(240, 60);
		}
		if (typeof document !== 'undefined') {
			var c = document.createElement('canvas');
			c.width = 240;
			c.height = 60;
			return c;
		}
		return null;
	}

	function renderHash(commands) {
		var canvas = makeCanvas();
		if (!canvas) throw new Error('no canvas surface');
		var ctx = canvas.getContext('2d');
		ctx.fillStyle = '#1f2937';
		ctx.fillRect(0, 0, 240, 60);
		ctx.font = '16px sans-serif';
		ctx.fillStyle = '#f59e0b';
		ctx.fillText(commands.slice(0, 64), 8, 40);
		ctx.beginPath();
		ctx.arc(200, 30, 20, 0, 6.283);
		ctx.stroke();
		var data = ctx.getImageData(0, 0, 240, 60).data;
		var acc = '';
		for (var i = 0; i < data.length; i += 97) {
			acc += data[i];
		}
		return fnv1a(commands + '|' + acc);
	}

	function probeElement() {
		var el = document.getElementById('__rp_probe');
		if (!el) {
			el = document.createElement('div');
			el.id = '__rp_probe';
			el.style.cssText = 'position:absolute;left:-9999px;top:0;width:300px;height:150px;';
			document.body.appendChild(el);
		}
		return el;
	}

	function rect() {
		if (typeof document === 'undefined') return null;
		var r = probeElement().getBoundingClientRect();
		return {
			x: r.x, y: r.y,
			left: r.left, top: r.top,
			right: r.right, bottom: r.bottom,
			width: r.width, height: r.height
		};
	}

	function gpu() {
		var canvas = makeCanvas();
		var gl = canvas && (canvas.getContext('webgl') || canvas.getContext('experimental-webgl'));
		if (!gl) return { vendor: undefined, renderer: undefined };
		var info = gl.getExtension('WEBGL_debug_renderer_info');
		if (!info) return { vendor: gl.getParameter(gl.VENDOR), renderer: gl.getParameter(gl.RENDERER) };
		return {
			vendor: gl.getParameter(info.UNMASKED_VENDOR_WEBGL),
			renderer: gl.getParameter(info.UNMASKED_RENDERER_WEBGL)
		};
	}

	self.__rpLab = { renderHash: renderHash, rect: rect, gpu: gpu };
})();
`

// workerResponder serves run/post requests from the page, tagging every
// reply with the request id so concurrent probes cannot cross wires. It is
// always installed last so it owns onmessage even when a caller script set
// its own handler.
const workerResponder = `
self.onmessage = function (e) {
	var req = e.data || {};
	function reply(value, err) {
		self.postMessage({ id: req.id, value: value, error: err });
	}
	try {
		if (req.type === 'post') {
			reply(req.payload);
			return;
		}
		var fn = eval('(' + req.src + ')');
		if (req.async) {
			fn(self.__rpLab, function (value) { reply(value); });
		} else {
			reply(fn(self.__rpLab));
		}
	} catch (err) {
		reply(undefined, String(err));
	}
};
`

// pageHarness installs the page-side plumbing: the lab surface plus the
// worker call helper that correlates replies by id.
const pageHarness = labBootstrap + `
(function () {
	if (window.__rpWorkerCall) return;
	var nextID = 1;
	var pending = {};

	window.__rpAttachWorker = function (worker) {
		window.__rpWorker = worker;
		worker.onmessage = function (e) {
			var msg = e.data || {};
			var resolve = pending[msg.id];
			if (!resolve) return;
			delete pending[msg.id];
			resolve(msg);
		};
	};

	window.__rpWorkerCall = function (req) {
		return new Promise(function (resolve, reject) {
			if (!window.__rpWorker) {
				reject(new Error('no worker attached'));
				return;
			}
			req.id = nextID++;
			pending[req.id] = resolve;
			window.__rpWorker.postMessage(req);
		}).then(function (msg) {
			if (msg.error) throw new Error(msg.error);
			return msg.value === undefined ? null : msg.value;
		});
	};
})();
`
