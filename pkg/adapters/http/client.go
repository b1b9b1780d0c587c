package http

const clientScript = `(function () {
  if (!window.EventSource) { return; }
  var overlay;
  function clearError() {
    if (overlay) { overlay.remove(); overlay = null; }
  }
  function showError(msg) {
    clearError();
    overlay = document.createElement("pre");
    overlay.style.cssText = "position:fixed;left:0;right:0;bottom:0;margin:0;padding:12px;" +
      "background:#1e1e1e;color:#ff6b6b;font:13px monospace;z-index:2147483647;white-space:pre-wrap";
    overlay.textContent = msg;
    document.body.appendChild(overlay);
  }
  function swapStyles() {
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    for (var i = 0; i < links.length; i++) {
      var url = new URL(links[i].href, location.href);
      if (url.origin !== location.origin) { continue; }
      url.searchParams.set("kiln", Date.now());
      links[i].href = url.toString();
    }
  }
  var es = new EventSource("/__kiln/events");
  es.onmessage = function (e) {
    var sig;
    try { sig = JSON.parse(e.data); } catch (_) { return; }
    switch (sig.kind) {
      case "style-update": clearError(); swapStyles(); break;
      case "full-reload": location.reload(); break;
      case "build-error": console.error("[kiln]", sig.message); showError(sig.message); break;
    }
  };
})();
`
