// internal/browser/script.go
package browser

// registryJS installs the element registry once per document. Elements are
// handed out as numeric ids and never tagged in the DOM.
const registryJS = `if (!window.__autofill) {
  window.__autofill = (function () {
    const byId = new Map();
    const ids = new WeakMap();
    let next = 0;
    const ref = (el) => {
      let id = ids.get(el);
      if (id === undefined) {
        id = String(++next);
        ids.set(el, id);
        byId.set(id, el);
      }
      return id;
    };
    const get = (id) => {
      if (id === '') return document;
      const el = byId.get(id);
      if (!el || !el.isConnected) {
        byId.delete(id);
        throw new Error('autofill: stale element ' + id);
      }
      return el;
    };
    const describe = (el) => {
      const attrs = {};
      for (const a of el.attributes) attrs[a.name.toLowerCase()] = a.value;
      return { ref: ref(el), tag: el.tagName.toLowerCase(), attrs: attrs };
    };
    const setNative = (el, value) => {
      let proto = HTMLInputElement.prototype;
      if (el instanceof HTMLTextAreaElement) proto = HTMLTextAreaElement.prototype;
      if (el instanceof HTMLSelectElement) proto = HTMLSelectElement.prototype;
      const desc = Object.getOwnPropertyDescriptor(proto, 'value');
      if (desc && desc.set) desc.set.call(el, value); else el.value = value;
    };
    return {
      query(scope, xpath) {
        const snap = document.evaluate(xpath, get(scope), null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
        const out = [];
        for (let i = 0; i < snap.snapshotLength; i++) {
          const n = snap.snapshotItem(i);
          if (n.nodeType === Node.ELEMENT_NODE) out.push(describe(n));
        }
        return out;
      },
      text(id) { const el = get(id); return el.innerText !== undefined ? el.innerText : el.textContent; },
      value(id) { const el = get(id); return el.value === undefined ? '' : String(el.value); },
      checked(id) { return !!get(id).checked; },
      visible(id) {
        const el = get(id);
        const rect = el.getBoundingClientRect();
        if (rect.width === 0 && rect.height === 0) return false;
        const style = window.getComputedStyle(el);
        return style.display !== 'none' && style.visibility !== 'hidden';
      },
      focus(id) { get(id).focus(); return true; },
      blur(id) { get(id).blur(); return true; },
      click(id) {
        const el = get(id);
        if (el.scrollIntoView) el.scrollIntoView({ block: 'center' });
        el.click();
        return true;
      },
      setValue(id, value) { setNative(get(id), value); return true; },
      dispatch(id, type, key) {
        const el = get(id);
        const init = { bubbles: true, cancelable: true };
        let ev;
        if (type === 'keydown' || type === 'keyup' || type === 'keypress') {
          ev = new KeyboardEvent(type, Object.assign({ key: key }, init));
        } else if (type === 'input') {
          ev = new InputEvent(type, Object.assign({ data: key || null, inputType: 'insertText' }, init));
        } else if (type === 'focus' || type === 'blur') {
          ev = new FocusEvent(type, {});
        } else {
          ev = new Event(type, init);
        }
        el.dispatchEvent(ev);
        return true;
      },
      submit(id) {
        const form = get(id);
        if (!(form instanceof HTMLFormElement)) throw new Error('autofill: not a form');
        if (form.requestSubmit) form.requestSubmit(); else form.submit();
        return true;
      },
    };
  })();
}
`

// mutationBinding is the runtime binding node insertions are reported on.
const mutationBinding = "__autofillNodesAdded"

// observerJS reports node insertions through the binding. Installing it
// again replaces the previous observer.
const observerJS = `(function () {
  if (window.__autofillObserver) window.__autofillObserver.disconnect();
  const notify = window.` + mutationBinding + `;
  if (typeof notify !== 'function') return false;
  const obs = new MutationObserver((records) => {
    for (const r of records) {
      if (r.addedNodes && r.addedNodes.length > 0) { notify('1'); return; }
    }
  });
  obs.observe(document, { childList: true, subtree: true });
  window.__autofillObserver = obs;
  return true;
})();`

// disconnectJS stops the observer.
const disconnectJS = `(function () {
  if (window.__autofillObserver) { window.__autofillObserver.disconnect(); window.__autofillObserver = null; }
  return true;
})();`
