package rewrite

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Трансформации над документом. Чистые текстовые преобразования:
// никакого I/O, вход и выход — неизменяемые строки. Структурная чистота
// документа вторична, приоритет — работоспособность наблюдения.

// securityPatterns — meta-теги, запрещающие встраивание или ломающие
// исполнение инжектированного скрипта. Матчимся без учета регистра.
var securityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']Content-Security-Policy["'][^>]*>`),
	regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']X-Frame-Options["'][^>]*>`),
	regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']Frame-Options["'][^>]*>`),
	regexp.MustCompile(`(?i)<meta[^>]+content-security-policy[^>]*>`),
	regexp.MustCompile(`(?i)<meta[^>]+x-frame-options[^>]*>`),
}

var (
	noncePattern   = regexp.MustCompile(`(?i)nonce="[^"]*"`)
	bodyClose      = regexp.MustCompile(`(?i)</body>`)
	headOpen       = regexp.MustCompile(`(?i)<head[^>]*>`)
	baseTagPresent = regexp.MustCompile(`(?i)<base[\s>]`)
)

// Rewrite готовит HTML-документ к доставке через релей:
//  1. вычищает анти-фрейминговые meta-теги;
//  2. срезает nonce-атрибуты, чтобы строгая политика страницы
//     не заблокировала инжектированный скрипт;
//  3. вставляет скрипт наблюдения перед закрывающим body
//     (или в конец документа, если разметка битая);
//  4. добавляет base-тег на исходный origin, иначе относительные
//     ссылки документа разрешались бы против адресного пространства релея.
//
// Повторный вызов на уже переписанном документе скрипт не дублирует.
func Rewrite(html string, original *url.URL) string {
	for _, pattern := range securityPatterns {
		html = pattern.ReplaceAllString(html, "")
	}

	html = noncePattern.ReplaceAllString(html, "")

	if !strings.Contains(html, observerMarker) {
		if loc := bodyClose.FindStringIndex(html); loc != nil {
			html = html[:loc[0]] + ObservationScript + html[loc[0]:]
		} else {
			// Нет закрывающего body — дописываем в конец
			html += ObservationScript
		}
	}

	if !baseTagPresent.MatchString(html) {
		if loc := headOpen.FindStringIndex(html); loc != nil {
			baseTag := fmt.Sprintf(`<base href="%s" target="_blank">`, original.String())
			html = html[:loc[1]] + baseTag + html[loc[1]:]
		}
	}

	return html
}
