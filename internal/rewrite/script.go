package rewrite

// observerMarker помечает инжектированный скрипт. По нему Rewrite
// распознает уже обработанный документ и не дублирует инжекцию.
const observerMarker = `data-observer="embedrelay"`

// ObservationScript — скрипт наблюдения, исполняется внутри доставленного
// документа. Все сообщения уходят родительскому контексту fire-and-forget
// на неограниченный origin: релей не знает адрес хоста заранее.
const ObservationScript = `<script ` + observerMarker + `>
(function() {
  var currentTitle = document.title;

  // Title interception: catch direct assignments to document.title
  var titleDescriptor = Object.getOwnPropertyDescriptor(Document.prototype, 'title');
  if (titleDescriptor && titleDescriptor.set) {
    Object.defineProperty(document, 'title', {
      get: function() { return titleDescriptor.get.call(this); },
      set: function(value) {
        titleDescriptor.set.call(this, value);
        currentTitle = value;
        window.parent.postMessage({ type: 'titleChanged', title: value }, '*');
      }
    });
  }

  // Poll fallback for titles changed through other means
  setInterval(function() {
    try {
      if (document.title !== currentTitle) {
        currentTitle = document.title;
        window.parent.postMessage({ type: 'titleChanged', title: document.title }, '*');
      }
    } catch (e) {}
  }, 1000);

  var activityBuffer = [];
  var MAX_BUFFER_SIZE = 20;
  var FLUSH_INTERVAL = 2000;

  function flushActivities() {
    if (activityBuffer.length === 0) return;
    try {
      window.parent.postMessage({ type: 'activities_flush', activities: activityBuffer }, '*');
      activityBuffer = [];
    } catch (e) {}
  }

  function sendActivity(type, details) {
    activityBuffer.push({
      type: type,
      details: details,
      timestamp: Date.now(),
      url: window.location.href,
      title: document.title
    });

    // Navigation-class events cannot wait for the next tick
    if (type === 'navigation' || type === 'form_submit') {
      flushActivities();
      return;
    }
    if (activityBuffer.length >= MAX_BUFFER_SIZE) {
      flushActivities();
    }
  }

  setInterval(flushActivities, FLUSH_INTERVAL);

  document.addEventListener('visibilitychange', function() {
    sendActivity('visibility_change', { state: document.visibilityState });
  });

  // Capturing phase: observe before any site-level stopPropagation
  document.addEventListener('click', function(e) {
    var target = e.target;
    var text = (target.textContent || '').trim().substring(0, 50);
    sendActivity('click', {
      element: target.tagName,
      id: target.id || '',
      className: target.className || '',
      name: target.name || '',
      text: text,
      x: e.clientX,
      y: e.clientY,
      url: target.href || ''
    });
  }, true);

  document.addEventListener('input', function(e) {
    var target = e.target;
    var value = (target.value || '').substring(0, 100);
    sendActivity('input', {
      element: target.tagName,
      id: target.id || '',
      className: target.className || '',
      name: target.name || '',
      value: value,
      valueLength: (target.value || '').length
    });
  });

  document.addEventListener('submit', function(e) {
    var form = e.target;
    var inputs = Array.prototype.filter.call(form.elements, function(el) { return el.name; })
      .map(function(el) {
        return { name: el.name, type: el.type, value: (el.value || '').substring(0, 50) };
      });
    sendActivity('form_submit', { formId: form.id || '', inputs: inputs });
  });

  // Scroll: debounce 250ms, report position and percent of scrollable range
  var scrollTimeout;
  document.addEventListener('scroll', function() {
    clearTimeout(scrollTimeout);
    scrollTimeout = setTimeout(function() {
      var viewportHeight = window.innerHeight;
      var totalHeight = document.documentElement.scrollHeight;
      var percent = Math.round((window.scrollY / (totalHeight - viewportHeight)) * 100);
      sendActivity('scroll', {
        x: window.scrollX,
        y: window.scrollY,
        percent: percent,
        viewportHeight: viewportHeight,
        totalHeight: totalHeight
      });
    }, 250);
  });

  document.addEventListener('focusin', function(e) {
    var target = e.target;
    sendActivity('focus', {
      element: target.tagName,
      id: target.id || '',
      className: target.className || '',
      name: target.name || ''
    });
  });

  // Best-effort final flush, no delivery guarantee
  window.addEventListener('beforeunload', function() {
    flushActivities();
  });

  window.addEventListener('load', function() {
    sendActivity('page_load', { url: window.location.href, title: document.title });
  });

  // History API interception: synthesize navigation events
  var originalPushState = history.pushState;
  var originalReplaceState = history.replaceState;

  history.pushState = function() {
    originalPushState.apply(this, arguments);
    sendActivity('navigation', { type: 'pushState', url: window.location.href });
  };
  history.replaceState = function() {
    originalReplaceState.apply(this, arguments);
    sendActivity('navigation', { type: 'replaceState', url: window.location.href });
  };
  window.addEventListener('popstate', function() {
    sendActivity('navigation', { type: 'popstate', url: window.location.href });
  });
})();
</script>`
