package negotiator

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FailureReason — клиентские причины провала верификации.
// Они открывают путь к смене режима, но не к автоматическому ретраю.
type FailureReason string

const (
	ReasonCrossOriginBlocked FailureReason = "CrossOriginBlocked"
	ReasonNoContent          FailureReason = "NoContent"
	ReasonErrorPageDetected  FailureReason = "ErrorPageDetected"
	ReasonNetworkError       FailureReason = "NetworkError"
	ReasonRelayError         FailureReason = "RelayError"
)

// errorMarkers — текстовые признаки страниц-заглушек об ошибке.
// Матчимся по нижнему регистру видимого текста body.
var errorMarkers = []string{
	"error",
	"not available",
	"refused",
	"blocked",
	"cannot display",
	"security",
	"frame",
	"x-frame-options",
}

// inspection — результат осмотра документа поверхности.
type inspection struct {
	OK     bool
	Reason FailureReason
	Title  string
}

// inspectDocument применяет эвристику верификации к HTML внутреннего документа:
// (a) документ вообще разобрался; (b) body несет осмысленный контент
// (дети, >50 символов видимого текста или непустой title); (c) в тексте
// нет маркеров страницы-ошибки. Недоступность самого документа
// (cross-origin) классифицирует вызывающая сторона.
func inspectDocument(html string) inspection {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return inspection{Reason: ReasonNoContent}
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	body := doc.Find("body").First()
	bodyText := strings.TrimSpace(body.Text())
	hasChildren := body.Children().Length() > 0

	hasContent := hasChildren || len(bodyText) > 50 || title != ""
	if !hasContent {
		return inspection{Reason: ReasonNoContent, Title: title}
	}

	lower := strings.ToLower(bodyText)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return inspection{Reason: ReasonErrorPageDetected, Title: title}
		}
	}

	return inspection{OK: true, Title: title}
}
