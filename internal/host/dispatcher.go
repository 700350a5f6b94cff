package host

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/activity"
)

// Negotiator — подмножество машины режима, интересное протоколу.
type Negotiator interface {
	HandleTitleChanged(title string)
	TryDirectMode()
	HandleRelayError(message string)
}

// NegotiatorLookup отдает машину режима вкладки (false — вкладки нет).
type NegotiatorLookup interface {
	Lookup(tabID string) (Negotiator, bool)
}

// Publisher — выход в шину активности.
type Publisher interface {
	Publish(tabID string, events []activity.Event)
}

// Dispatcher маршрутизирует сообщения документов по потребителям:
// заголовки и сигналы режима — в машину вкладки, наблюдения — в шину.
type Dispatcher struct {
	negotiators NegotiatorLookup
	bus         Publisher
	logger      *zap.Logger
}

func NewDispatcher(negotiators NegotiatorLookup, bus Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		negotiators: negotiators,
		bus:         bus,
		logger:      logger.With(zap.String("mod", "host")),
	}
}

// Dispatch обрабатывает одно сообщение от вкладки tabID.
func (d *Dispatcher) Dispatch(tabID string, msg Message) error {
	switch msg.Type {
	case MsgTitleChanged:
		if neg, ok := d.negotiators.Lookup(tabID); ok {
			neg.HandleTitleChanged(msg.Title)
		}

	case MsgTryDirectMode:
		if neg, ok := d.negotiators.Lookup(tabID); ok {
			neg.TryDirectMode()
		}

	case MsgProxyError:
		if neg, ok := d.negotiators.Lookup(tabID); ok {
			neg.HandleRelayError(fmt.Sprintf("Proxy error: %s", msg.Error))
		}

	case MsgActivitiesFlush:
		d.publishFlush(tabID, msg.Activities)

	case MsgActivityTracked:
		// Legacy-формат: одиночное событие без таймстемпа и URL
		t := activity.EventType(msg.ActivityType)
		if !t.Known() {
			d.logger.Warn("dropping activity of unknown type",
				zap.String("tab_id", tabID), zap.String("type", msg.ActivityType))
			return nil
		}
		d.bus.Publish(tabID, []activity.Event{{Type: t, Details: msg.Details}})

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
	return nil
}

// publishFlush конвертирует пачку скрипта в события шины.
// Неизвестные типы выбрасываются поштучно — остальная пачка доезжает.
func (d *Dispatcher) publishFlush(tabID string, batch []FlushedActivity) {
	events := make([]activity.Event, 0, len(batch))
	for _, a := range batch {
		t := activity.EventType(a.Type)
		if !t.Known() {
			d.logger.Warn("dropping activity of unknown type",
				zap.String("tab_id", tabID), zap.String("type", a.Type))
			continue
		}
		ev := activity.Event{
			Type:    t,
			URL:     a.URL,
			Title:   a.Title,
			Details: a.Details,
		}
		if a.Timestamp > 0 {
			ev.Timestamp = time.UnixMilli(a.Timestamp)
		}
		events = append(events, ev)
	}
	if len(events) > 0 {
		d.bus.Publish(tabID, events)
	}
}
