package visibility

// Page-side scripts. Every platform read (computed style, geometry) is
// guarded so a detached element or hostile page degrades to "not visible" /
// null instead of an evaluation error.

// findHelper resolves a selector in the document and, failing that, one
// level into open shadow roots. Single-level by design.
const findHelper = `
	const find = (sel) => {
		let el = document.querySelector(sel);
		if (el) return el;
		for (const host of document.querySelectorAll('*')) {
			try {
				if (host.shadowRoot) {
					el = host.shadowRoot.querySelector(sel);
					if (el) return el;
				}
			} catch (e) {}
		}
		return null;
	};`

// visiblePredicate holds the effective-visibility checks shared by both
// variants: display, visibility, opacity, degenerate box, zero-scale
// transforms, fully-insetting clip-paths.
const visiblePredicate = `
	const isShown = (el) => {
		const style = window.getComputedStyle(el);
		if (style.display === 'none') return false;
		if (style.visibility === 'hidden' || style.visibility === 'collapse') return false;
		if (parseFloat(style.opacity) === 0) return false;
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) return false;
		const transform = style.transform || '';
		const matrix = transform.match(/matrix\(([^)]+)\)/);
		if (matrix) {
			const p = matrix[1].split(',').map(parseFloat);
			if (p.length >= 4 && (p[0] === 0 || p[3] === 0)) return false;
		}
		if (/scale3?d?\(\s*0/.test(transform)) return false;
		const clip = style.clipPath || style.webkitClipPath || '';
		if (/inset\(\s*(?:100|[1-9]\d{2})(?:\.\d+)?%/.test(clip)) return false;
		return true;
	};`

// isVisibleScript evaluates effective visibility for a light-DOM element.
const isVisibleScript = `(sel) => {
	try {
		if (typeof document === 'undefined') return false;
		const el = document.querySelector(sel);
		if (!el) return false;
		` + visiblePredicate + `
		return isShown(el);
	} catch (e) {
		return false;
	}
}`

// isVisibleInShadowScript applies the same predicate but resolves through
// one level of open shadow roots and also requires a visible host.
const isVisibleInShadowScript = `(sel) => {
	try {
		if (typeof document === 'undefined') return false;
		` + findHelper + `
		` + visiblePredicate + `
		const el = find(sel);
		if (!el) return false;
		if (!isShown(el)) return false;
		const root = el.getRootNode ? el.getRootNode() : document;
		if (typeof ShadowRoot !== 'undefined' && root instanceof ShadowRoot && root.host) {
			return isShown(root.host);
		}
		return true;
	} catch (e) {
		return false;
	}
}`

// positionBody computes viewport-relative geometry with a clamped
// intersection ratio and current scroll offsets.
const positionBody = `
	const position = (el) => {
		const rect = el.getBoundingClientRect();
		const vw = window.innerWidth || document.documentElement.clientWidth || 0;
		const vh = window.innerHeight || document.documentElement.clientHeight || 0;
		const ix = Math.max(0, Math.min(rect.right, vw) - Math.max(rect.left, 0));
		const iy = Math.max(0, Math.min(rect.bottom, vh) - Math.max(rect.top, 0));
		let ratio = 0;
		if (rect.width > 0 && rect.height > 0) {
			ratio = (ix * iy) / (rect.width * rect.height);
		}
		ratio = Math.max(0, Math.min(1, ratio));
		return {
			x: rect.x, y: rect.y,
			width: rect.width, height: rect.height,
			top: rect.top, left: rect.left,
			bottom: rect.bottom, right: rect.right,
			viewport: { isVisible: ratio > 0, visibleArea: ratio },
			scroll: { x: window.scrollX || 0, y: window.scrollY || 0 }
		};
	};`

// positionScript returns geometry for a light-DOM element, or null.
const positionScript = `(sel) => {
	try {
		if (typeof document === 'undefined') return null;
		const el = document.querySelector(sel);
		if (!el) return null;
		` + positionBody + `
		return position(el);
	} catch (e) {
		return null;
	}
}`

// positionInShadowScript adds shadow containment metadata and resolves
// through one level of open shadow roots.
const positionInShadowScript = `(sel) => {
	try {
		if (typeof document === 'undefined') return null;
		` + findHelper + `
		` + positionBody + `
		const el = find(sel);
		if (!el) return null;
		const pos = position(el);
		const root = el.getRootNode ? el.getRootNode() : document;
		pos.shadowDOM = {
			isInShadowDOM: typeof ShadowRoot !== 'undefined' && root instanceof ShadowRoot
		};
		return pos;
	} catch (e) {
		return null;
	}
}`
