package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/activity"
	"github.com/xela07ax/embedrelay/internal/host"
)

// ActivityStore — читающая сторона хранилища событий.
type ActivityStore interface {
	Find(ctx context.Context, q activity.Query) ([]activity.Event, int, error)
}

// SessionStore — хранилище сессий браузинга.
type SessionStore interface {
	Create(ctx context.Context, s activity.Session) (string, error)
	Find(ctx context.Context, userID string, day time.Time) ([]activity.Session, error)
}

// APIHandler обслуживает /v1: ингест сообщений хоста, прием и выборку
// активности, сессии.
type APIHandler struct {
	bus        Publisher
	activities ActivityStore
	sessions   SessionStore
	dispatcher *host.Dispatcher
	logger     *zap.Logger
}

func NewAPIHandler(bus Publisher, activities ActivityStore, sessions SessionStore,
	dispatcher *host.Dispatcher, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		bus:        bus,
		activities: activities,
		sessions:   sessions,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("mod", "api")),
	}
}

// IngestMessage принимает одно сообщение протокола от вкладки.
// POST /v1/messages/{tabID}
func (h *APIHandler) IngestMessage(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	msg, err := host.Decode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.dispatcher.Dispatch(tabID, msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Обработка асинхронная: подтверждаем только прием
	w.WriteHeader(http.StatusAccepted)
}

// RecordActivities принимает одно событие или массив событий.
// POST /v1/activities
func (h *APIHandler) RecordActivities(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	// Тело может быть и объектом, и массивом
	var events []activity.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		var single activity.Event
		if err := json.Unmarshal(raw, &single); err != nil {
			writeError(w, http.StatusBadRequest, "malformed activity payload")
			return
		}
		events = []activity.Event{single}
	}

	ids := make([]string, 0, len(events))
	for i := range events {
		e := &events[i]
		if e.Type == "" || e.Timestamp.IsZero() || e.TabID == "" {
			writeError(w, http.StatusBadRequest, "Type, timestamp, and tabId are required for all activities")
			return
		}
		if !e.Type.Known() {
			writeError(w, http.StatusBadRequest, "unknown activity type: "+string(e.Type))
			return
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		ids = append(ids, e.ID)
	}

	// Пачка может нести события разных вкладок — шина помечает по tabID
	byTab := make(map[string][]activity.Event)
	for _, e := range events {
		byTab[e.TabID] = append(byTab[e.TabID], e)
	}
	for tabID, batch := range byTab {
		h.bus.Publish(tabID, batch)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"count":       len(events),
		"activityIds": ids,
	})
}

// QueryActivities возвращает страницу событий по фильтрам.
// GET /v1/activities?tabId=&sessionId=&type=&date=&limit=&skip=
func (h *APIHandler) QueryActivities(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	q := activity.Query{
		TabID:     params.Get("tabId"),
		SessionID: params.Get("sessionId"),
		Type:      activity.EventType(params.Get("type")),
		Limit:     100,
	}
	if v := params.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Limit = n
		}
	}
	if v := params.Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			q.Skip = n
		}
	}
	if v := params.Get("date"); v != "" {
		day, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		q.Day = day
	}

	events, total, err := h.activities.Find(r.Context(), q)
	if err != nil {
		h.logger.Error("activity query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"activities":    events,
		"totalCount":    total,
		"returnedCount": len(events),
	})
}

// CreateSession регистрирует сессию браузинга.
// POST /v1/sessions
func (h *APIHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var s activity.Session
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, "malformed session payload")
		return
	}
	if s.StartTime.IsZero() {
		writeError(w, http.StatusBadRequest, "Start time is required")
		return
	}

	id, err := h.sessions.Create(r.Context(), s)
	if err != nil {
		h.logger.Error("session create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"sessionId": id,
	})
}

// QuerySessions возвращает сессии пользователя/дня.
// GET /v1/sessions?userId=&date=
func (h *APIHandler) QuerySessions(w http.ResponseWriter, r *http.Request) {
	var day time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	sessions, err := h.sessions.Find(r.Context(), r.URL.Query().Get("userId"), day)
	if err != nil {
		h.logger.Error("session query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}

// tabNotFound сводит ErrTabNotFound к 404, остальное — к 500.
func tabNotFound(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrTabNotFound) {
		writeError(w, http.StatusNotFound, "tab not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
