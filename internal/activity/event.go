package activity

import "time"

// EventType — закрытое множество типов наблюдаемой активности.
type EventType string

const (
	TypeNavigation       EventType = "navigation"
	TypeClick            EventType = "click"
	TypeInput            EventType = "input"
	TypeScroll           EventType = "scroll"
	TypeFormSubmit       EventType = "form_submit"
	TypeFocus            EventType = "focus"
	TypeVisibilityChange EventType = "visibility_change"
	TypePageLoad         EventType = "page_load"
	TypeTabChange        EventType = "tab_change"
	TypeTabCreated       EventType = "tab_created"
	TypeTabClosed        EventType = "tab_closed"
)

var knownTypes = map[EventType]struct{}{
	TypeNavigation: {}, TypeClick: {}, TypeInput: {}, TypeScroll: {},
	TypeFormSubmit: {}, TypeFocus: {}, TypeVisibilityChange: {},
	TypePageLoad: {}, TypeTabChange: {}, TypeTabCreated: {}, TypeTabClosed: {},
}

// Known сообщает, входит ли тип в закрытое множество.
func (t EventType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Event — одно наблюдение за активностью. Неизменяемо после создания:
// шина владеет событием до передачи в хранилище и не мутирует его содержимое.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TabID     string    `json:"tabId"`
	SessionID string    `json:"sessionId,omitempty"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`

	// Details — произвольный контекст события (координаты клика, процент
	// скролла, поля формы). Структуру диктует скрипт наблюдения.
	Details map[string]interface{} `json:"details,omitempty"`

	// RecordedAt проставляется на стороне сервера при приеме
	RecordedAt time.Time `json:"recordedAt,omitempty"`
}
