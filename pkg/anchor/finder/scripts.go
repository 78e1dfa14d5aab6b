package finder

// Page-side scripts. Each is a function expression applied to its arguments
// by Session.ExecuteScript, and each guards every platform call so that an
// engine exception surfaces as an empty result or an error field, never as a
// thrown evaluation error.
//
// Matched elements are tagged with a data-anchor-id attribute so later
// visibility and geometry calls can address them through a stable selector.

// markAttr is the attribute minted onto matched elements.
const markAttr = "data-anchor-id"

// querySelectorScript resolves a single selector natively. Errors (e.g. a
// malformed selector) are returned as a value, never thrown.
const querySelectorScript = `(sel, mark) => {
	try {
		if (typeof document === 'undefined' || typeof document.querySelector !== 'function') {
			return { found: false };
		}
		const el = document.querySelector(sel);
		if (!el) return { found: false };
		if (!el.getAttribute('data-anchor-id')) {
			el.setAttribute('data-anchor-id', mark);
		}
		return {
			found: true,
			anchorId: el.getAttribute('data-anchor-id'),
			tag: (el.tagName || '').toLowerCase()
		};
	} catch (e) {
		return { found: false, error: String(e && e.message || e) };
	}
}`

// relationalProbeScript reports whether the engine supports :has().
const relationalProbeScript = `() => {
	try {
		document.querySelector(':has(*)');
		return true;
	} catch (e) {
		return false;
	}
}`

// tagAndCollect is shared collection logic: tags each node and emits a
// handle descriptor. Inlined into every finder script.
const tagAndCollect = `
	const seen = new Set();
	const out = [];
	let n = 0;
	const collect = (el) => {
		if (!el || seen.has(el)) return;
		seen.add(el);
		if (!el.getAttribute('data-anchor-id')) {
			el.setAttribute('data-anchor-id', mark + '-' + (n++));
		}
		out.push({
			anchorId: el.getAttribute('data-anchor-id'),
			tag: (el.tagName || '').toLowerCase()
		});
	};`

// byTextScript finds elements by literal text content, exact or substring,
// optionally restricted to a tag name.
const byTextScript = `(tag, text, exact, mark) => {
	try {
		if (!text || typeof document === 'undefined') return [];
		` + tagAndCollect + `
		const scope = document.getElementsByTagName(tag || '*');
		for (const el of scope) {
			const content = (el.textContent || '').trim();
			if (exact ? content === text : content.includes(text)) {
				collect(el);
			}
		}
		return out;
	} catch (e) {
		return [];
	}
}`

// buttonByTextScript matches buttons by visible text or value, including
// generic elements carrying an explicit button role.
const buttonByTextScript = `(text, mark) => {
	try {
		if (!text || typeof document === 'undefined') return [];
		` + tagAndCollect + `
		const candidates = document.querySelectorAll(
			'button, input[type="button"], input[type="submit"], [role="button"]');
		for (const el of candidates) {
			const label = (el.textContent || el.value || '').trim();
			if (label.includes(text)) collect(el);
		}
		return out;
	} catch (e) {
		return [];
	}
}`

// linkByTextScript matches anchors and link-role elements by text.
const linkByTextScript = `(text, mark) => {
	try {
		if (!text || typeof document === 'undefined') return [];
		` + tagAndCollect + `
		const candidates = document.querySelectorAll('a, [role="link"]');
		for (const el of candidates) {
			if ((el.textContent || '').trim().includes(text)) collect(el);
		}
		return out;
	} catch (e) {
		return [];
	}
}`

// inputByLabelTextScript resolves form controls through the three label
// association patterns, in order: explicit for-reference, control nested in
// the label, control as the label's immediate next sibling. First match wins
// per label; results are deduplicated across labels.
const inputByLabelTextScript = `(text, mark) => {
	try {
		if (!text || typeof document === 'undefined') return [];
		` + tagAndCollect + `
		for (const label of document.getElementsByTagName('label')) {
			if (!(label.textContent || '').includes(text)) continue;
			let control = null;
			const forId = label.getAttribute('for');
			if (forId) control = document.getElementById(forId);
			if (!control) control = label.querySelector('input, select, textarea');
			if (!control) {
				const sib = label.nextElementSibling;
				if (sib && /^(INPUT|SELECT|TEXTAREA)$/.test(sib.tagName)) control = sib;
			}
			if (control) collect(control);
		}
		return out;
	} catch (e) {
		return [];
	}
}`

// relationalMatchScript emulates "parent that contains a descendant
// matching childSel" for engines without :has() support.
const relationalMatchScript = `(parentSel, childSel, mark) => {
	try {
		if (!parentSel || !childSel || typeof document === 'undefined') return [];
		` + tagAndCollect + `
		for (const el of document.querySelectorAll(parentSel)) {
			if (el.querySelector(childSel)) collect(el);
		}
		return out;
	} catch (e) {
		return [];
	}
}`
