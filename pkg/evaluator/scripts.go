package evaluator

// dialogInterceptScript wraps the runtime modal dialog primitives so a
// script-triggered dialog never blocks the browser. Every invocation
// is recorded into a page-scoped buffer and answered with a safe
// default.
const dialogInterceptScript = `(() => {
  if (window.__wl_dialogs) { return "already-installed"; }
  window.__wl_dialogs = [];
  const record = (kind, msg) => {
    window.__wl_dialogs.push({ kind: kind, message: String(msg === undefined ? "" : msg) });
  };
  window.alert = (msg) => { record("alert", msg); };
  window.confirm = (msg) => { record("confirm", msg); return true; };
  window.prompt = (msg, def) => { record("prompt", msg); return def === undefined ? "" : def; };
  return "installed";
})()`

// observeScript captures the current page state: URL, visible text, a
// bounded list of stable interactive targets, a structure string the
// client hashes into the DOM signature, and the drained dialog buffer.
//
// Selector preference order: element id, data-* attribute, role plus
// accessible text anchor, then tag plus class. Positional XPath is
// never emitted.
const observeScript = `(() => {
  const MAX_TARGETS = 20;

  const visibleText = (document.body ? document.body.innerText : "").trim();

  const label = (el) => {
    const t = (el.innerText || el.value || el.getAttribute("aria-label") || el.getAttribute("placeholder") || "").trim();
    return t.slice(0, 60);
  };

  const selectorFor = (el) => {
    if (el.id) { return "#" + el.id; }
    for (const attr of el.getAttributeNames()) {
      if (attr.startsWith("data-")) {
        return el.tagName.toLowerCase() + "[" + attr + "=\"" + el.getAttribute(attr) + "\"]";
      }
    }
    const role = el.getAttribute("role");
    const text = label(el);
    if (role && text) {
      return el.tagName.toLowerCase() + "[role=\"" + role + "\"]";
    }
    if (el.classList.length > 0) {
      return el.tagName.toLowerCase() + "." + Array.from(el.classList).slice(0, 2).join(".");
    }
    return el.tagName.toLowerCase();
  };

  const targets = [];
  const seen = new Set();
  const candidates = document.querySelectorAll("a, button, input, select, textarea, [role=button], [onclick]");
  for (const el of candidates) {
    if (targets.length >= MAX_TARGETS) { break; }
    const rect = el.getBoundingClientRect();
    if (rect.width === 0 && rect.height === 0) { continue; }
    const sel = selectorFor(el);
    if (seen.has(sel)) { continue; }
    seen.add(sel);
    targets.push({
      selector: sel,
      role: el.getAttribute("role") || el.tagName.toLowerCase(),
      label: label(el)
    });
  }

  const structureOf = (el, depth) => {
    if (!el || depth > 12) { return ""; }
    let sig = el.tagName + (el.id ? "#" + el.id : "") + (el.className && el.className.split ? "." + el.className.split(" ")[0] : "");
    for (const child of el.children) {
      sig += "(" + structureOf(child, depth + 1) + ")";
    }
    return sig;
  };

  const dialogs = window.__wl_dialogs || [];
  if (window.__wl_dialogs) { window.__wl_dialogs = []; }

  return JSON.stringify({
    url: window.location.href,
    text: visibleText.slice(0, 4000),
    targets: targets,
    structure: structureOf(document.body, 0) + "|" + visibleText.slice(0, 2000),
    dialogs: dialogs
  });
})()`
