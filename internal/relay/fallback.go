package relay

import (
	"fmt"
	"html"
)

// fallbackDocument — самодостаточная страница об ошибке для не-retry провалов.
// Отдается со статусом 200, чтобы у поверхности сработало событие load:
// иначе хост-приложение не узнает, что пора показывать действия восстановления.
// Страница сама сообщает родителю о провале (proxyError) и несет две кнопки:
// повтор в том же режиме и запрос прямого режима (tryDirectMode).
func fallbackDocument(targetURL string) string {
	safe := html.EscapeString(targetURL)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<title>Error Loading Page</title>
<style>
body {
  font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
  padding: 2rem; text-align: center;
  background: linear-gradient(135deg, #667eea 0%%, #764ba2 100%%);
  color: white; height: 100vh;
  display: flex; flex-direction: column; justify-content: center; align-items: center;
}
.error-container {
  background: rgba(255, 255, 255, 0.1); backdrop-filter: blur(10px);
  padding: 2rem; border-radius: 1rem; max-width: 500px;
}
h1 { color: #ff6b6b; margin-bottom: 1rem; }
p { margin-bottom: 1.5rem; line-height: 1.6; }
.btn-group { display: flex; gap: 1rem; flex-wrap: wrap; justify-content: center; }
button {
  color: white; border: none; padding: 0.75rem 1.5rem;
  border-radius: 0.5rem; cursor: pointer; font-weight: 600;
}
.retry-btn { background: #4ecdc4; }
.direct-btn { background: #ff6b6b; }
</style>
</head>
<body>
<div class="error-container">
  <h1>Unable to Load Page</h1>
  <p>The website <strong>%s</strong> could not be loaded due to security restrictions.</p>
  <p>This website may be blocking display in frames or has strict security policies.</p>
  <div class="btn-group">
    <button class="retry-btn" onclick="window.location.reload()">Try Again with Proxy</button>
    <button class="direct-btn" onclick="window.parent.postMessage({ type: 'tryDirectMode' }, '*')">Try Direct Access</button>
  </div>
</div>
<script>
try {
  window.parent.postMessage({
    type: 'proxyError',
    url: '%s',
    error: 'Failed to load via proxy'
  }, '*');
} catch (e) {}
</script>
</body>
</html>`, safe, safe)
}
