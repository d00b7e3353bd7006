// File: internal/harness/scripts.go
package harness

// JS function literals executed via Driver.EvaluateOn, plus page-wide probe
// expressions for Driver.Evaluate. Every element-scoped script starts by
// resolving the real native <select>, which may sit behind a shadow boundary
// the page encapsulates (the "deep query" contract of the driver layer).

// scriptFindNativeSelect resolves the native control for a dropdown handle:
// the element itself, a light-DOM descendant, or a control nested in an open
// shadow subtree.
const scriptFindNativeSelect = `
function __findNativeSelect(el) {
	if (!el) return null;
	if (el.tagName === 'SELECT') return el;
	var direct = el.querySelector('select');
	if (direct) return direct;
	var queue = [el];
	while (queue.length) {
		var node = queue.shift();
		if (node.shadowRoot) {
			var inner = node.shadowRoot.querySelector('select');
			if (inner) return inner;
			queue.push.apply(queue, node.shadowRoot.querySelectorAll('*'));
		}
		if (node.children) queue.push.apply(queue, node.children);
	}
	return null;
}`

// scriptExtractOptions returns the non-disabled options of a dropdown as
// {value,label,index} triples. Options without a defined value are skipped.
const scriptExtractOptions = `
function(el) {
	` + scriptFindNativeSelect + `
	var sel = __findNativeSelect(el);
	if (!sel) return [];
	var out = [];
	for (var i = 0; i < sel.options.length; i++) {
		var opt = sel.options[i];
		if (opt.disabled) continue;
		if (opt.value === undefined || opt.value === null) continue;
		out.push({ value: opt.value, label: (opt.label || opt.text || '').trim(), index: i });
	}
	return out;
}`

// scriptSelectValue sets the control's value and dispatches the bubbling
// change/input/click events framework listeners bind to. The %s placeholder
// receives the JSON-encoded target value. Returns false when the native
// control cannot be located.
const scriptSelectValue = `
function(el) {
	` + scriptFindNativeSelect + `
	var sel = __findNativeSelect(el);
	if (!sel) return false;
	sel.value = %s;
	['change', 'input', 'click'].forEach(function(kind) {
		sel.dispatchEvent(new Event(kind, { bubbles: true }));
	});
	return true;
}`

// scriptReadValue re-reads the control's current value, for post-selection
// verification. Returns null when the control is gone.
const scriptReadValue = `
function(el) {
	` + scriptFindNativeSelect + `
	var sel = __findNativeSelect(el);
	if (!sel) return null;
	return sel.value;
}`

// scriptVisibilityHelpers is shared by the tile probes: an element counts as
// visible when it has a non-zero box, is not display:none/visibility:hidden,
// and has non-zero opacity.
const scriptVisibilityHelpers = `
function __isVisible(el) {
	if (!el) return false;
	var rect = el.getBoundingClientRect();
	if (rect.width <= 0 || rect.height <= 0) return false;
	var style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden') return false;
	if (parseFloat(style.opacity) === 0) return false;
	return true;
}
function __tileInfo(el) {
	var title = '';
	var heading = el.querySelector('h1,h2,h3,h4,[class*="title"],[class*="name"]');
	if (heading) title = heading.textContent.trim();
	if (!title) title = (el.getAttribute('aria-label') || el.textContent || '').trim().slice(0, 120);
	var link = '';
	var a = el.tagName === 'A' ? el : el.querySelector('a[href]');
	if (a) link = a.href || '';
	var image = '';
	var img = el.querySelector('img[src]');
	if (img) image = img.src || '';
	return { title: title, link: link, image: image };
}
function __collectTiles(nodes, limit) {
	var total = 0, titles = [], samples = [];
	var seen = [];
	for (var i = 0; i < nodes.length; i++) {
		var el = nodes[i];
		if (seen.indexOf(el) >= 0) continue;
		seen.push(el);
		total++;
		if (!__isVisible(el)) continue;
		var info = __tileInfo(el);
		if (!info.title && !info.link && !info.image) continue;
		titles.push(info.title);
		if (samples.length < limit) samples.push(info);
	}
	return { totalFound: total, titles: titles, samples: samples };
}`

// Tile probe strategies, tried in order; the first strategy matching any
// tile wins, visible or not. Each evaluates to
// {totalFound, titles:[...], samples:[{title,link,image}]}.

const scriptTilesKnownTag = `(function() {
	` + scriptVisibilityHelpers + `
	var nodes = document.querySelectorAll('result-tile, [data-testid="result-tile"], .result-tile, .tile');
	return __collectTiles(nodes, %d);
})()`

const scriptTilesContainerScoped = `(function() {
	` + scriptVisibilityHelpers + `
	var containers = document.querySelectorAll('main, #results, .results, [class*="result-list"], [class*="grid"]');
	var nodes = [];
	for (var i = 0; i < containers.length; i++) {
		var found = containers[i].querySelectorAll('article, li > a[href], .card, [class*="card"]');
		for (var j = 0; j < found.length; j++) nodes.push(found[j]);
	}
	return __collectTiles(nodes, %d);
})()`

const scriptTilesGridHeuristic = `(function() {
	` + scriptVisibilityHelpers + `
	var nodes = [];
	var all = document.querySelectorAll('div, li, article');
	for (var i = 0; i < all.length; i++) {
		var el = all[i];
		var parent = el.parentElement;
		if (!parent) continue;
		var display = window.getComputedStyle(parent).display;
		if (display !== 'grid' && display !== 'flex') continue;
		var rect = el.getBoundingClientRect();
		if (rect.width < 80 || rect.width > 600) continue;
		if (rect.height < 80 || rect.height > 800) continue;
		nodes.push(el);
	}
	return __collectTiles(nodes, %d);
})()`

const scriptTilesImageLink = `(function() {
	` + scriptVisibilityHelpers + `
	var nodes = [];
	var links = document.querySelectorAll('a[href]');
	for (var i = 0; i < links.length; i++) {
		var a = links[i];
		if (!a.querySelector('img')) continue;
		if (!(a.textContent || '').trim()) continue;
		nodes.push(a);
	}
	return __collectTiles(nodes, %d);
})()`

// scriptNoResultsProbe searches first the dedicated notification elements,
// then any element, for a known "no results" phrasing. Evaluates to
// {found, text, canonical}.
const scriptNoResultsProbe = `(function(phrases, canonical) {
	` + scriptVisibilityHelpers + `
	function probe(selector) {
		var nodes = document.querySelectorAll(selector);
		for (var i = 0; i < nodes.length; i++) {
			var el = nodes[i];
			if (!__isVisible(el)) continue;
			var text = (el.textContent || '').trim();
			if (!text || text.length > 300) continue;
			var lower = text.toLowerCase();
			for (var j = 0; j < phrases.length; j++) {
				if (lower.indexOf(phrases[j]) >= 0) {
					return { found: true, text: text, canonical: text === canonical };
				}
			}
		}
		return null;
	}
	var hit = probe('notification-banner, [role="alert"], [role="status"], .notification, .no-results');
	if (!hit) hit = probe('h1, h2, h3, h4, p, span, div');
	return hit || { found: false, text: '', canonical: false };
})(%s, %s)`

// scriptSortControls reports the sort controls present on the page as
// {count, options:[...]}.
const scriptSortControls = `(function() {
	` + scriptVisibilityHelpers + `
	var nodes = document.querySelectorAll('select[name*="sort"], select[id*="sort"], [data-testid*="sort"] select, [class*="sort"] select');
	var count = 0, options = [];
	for (var i = 0; i < nodes.length; i++) {
		if (!__isVisible(nodes[i])) continue;
		count++;
		var opts = nodes[i].options || [];
		for (var j = 0; j < opts.length; j++) {
			var label = (opts[j].label || opts[j].text || '').trim();
			if (label && options.indexOf(label) < 0) options.push(label);
		}
	}
	return { count: count, options: options };
})()`
