package host

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Протокол сообщений от доставленных документов и fallback-страниц к хосту.
// Доверие расслабленное: источник сообщений не валидируется, полагаемся
// на то, что неизвестные типы отбрасываются, а события фильтруются шиной.

type MessageType string

const (
	// MsgTitleChanged — документ сменил заголовок
	MsgTitleChanged MessageType = "titleChanged"

	// MsgActivitiesFlush — пачка накопленных наблюдений из скрипта
	MsgActivitiesFlush MessageType = "activities_flush"

	// MsgActivityTracked — одиночное наблюдение (legacy-формат старых скриптов)
	MsgActivityTracked MessageType = "activityTracked"

	// MsgTryDirectMode — запрос смены режима с fallback-страницы
	MsgTryDirectMode MessageType = "tryDirectMode"

	// MsgProxyError — fallback-страница сообщает о провале доставки
	MsgProxyError MessageType = "proxyError"
)

var knownMessageTypes = map[MessageType]struct{}{
	MsgTitleChanged: {}, MsgActivitiesFlush: {}, MsgActivityTracked: {},
	MsgTryDirectMode: {}, MsgProxyError: {},
}

var ErrUnknownMessageType = errors.New("unknown message type")

// FlushedActivity — одно наблюдение в том виде, как его шлет скрипт.
// Timestamp — unix-миллисекунды часов документа.
type FlushedActivity struct {
	Type      string                 `json:"type"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
	URL       string                 `json:"url,omitempty"`
	Title     string                 `json:"title,omitempty"`
}

// Message — размеченное объединение всех вариантов протокола.
// Заполненность полей зависит от Type.
type Message struct {
	Type MessageType `json:"type"`

	// titleChanged
	Title string `json:"title,omitempty"`

	// activities_flush
	Activities []FlushedActivity `json:"activities,omitempty"`

	// activityTracked (legacy)
	ActivityType string                 `json:"activityType,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`

	// proxyError
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// Decode разбирает сырое сообщение и отсекает неизвестные типы.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed host message: %w", err)
	}
	if _, ok := knownMessageTypes[msg.Type]; !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
	return msg, nil
}
