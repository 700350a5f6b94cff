package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// TabsHandler — управление вкладками со стороны хост-приложения.
type TabsHandler struct {
	manager *TabManager
	logger  *zap.Logger
}

func NewTabsHandler(manager *TabManager, logger *zap.Logger) *TabsHandler {
	return &TabsHandler{manager: manager, logger: logger.With(zap.String("mod", "tabs-api"))}
}

// List возвращает открытые вкладки и ID активной.
// GET /v1/tabs
func (h *TabsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, active := h.manager.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tabs":     list,
		"activeId": active,
	})
}

// Open создает вкладку и начинает загрузку цели.
// POST /v1/tabs {"url": "..."}
func (h *TabsHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	id := h.manager.Open(r.Context(), req.URL)
	state, err := h.manager.State(id)
	if err != nil {
		tabNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// Get возвращает снимок вкладки вместе с состоянием машины режима.
// GET /v1/tabs/{id}
func (h *TabsHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, err := h.manager.State(chi.URLParam(r, "id"))
	if err != nil {
		tabNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Close закрывает вкладку.
// DELETE /v1/tabs/{id}
func (h *TabsHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.manager.Close(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// Activate переключает активную вкладку.
// POST /v1/tabs/{id}/activate
func (h *TabsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.manager.Activate(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// Navigate направляет вкладку на новую цель.
// POST /v1/tabs/{id}/navigate {"url": "..."}
func (h *TabsHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	if err := h.manager.Navigate(r.Context(), chi.URLParam(r, "id"), req.URL); err != nil {
		tabNotFound(w, err)
		return
	}
	state, _ := h.manager.State(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, state)
}

// SurfaceEvent принимает события поверхности хоста: завершение загрузки,
// сетевой сбой, снапшот документа для верификации.
// POST /v1/tabs/{id}/surface {"event": "load"|"error", "document": "..."}
func (h *TabsHandler) SurfaceEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Event    string `json:"event"`
		Document string `json:"document,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed surface event")
		return
	}

	// Снапшот должен лечь до сигнала load: верификация читает документ
	if req.Document != "" {
		if err := h.manager.SetDocument(id, req.Document); err != nil {
			tabNotFound(w, err)
			return
		}
	}

	var err error
	switch req.Event {
	case "load":
		err = h.manager.SurfaceLoad(id)
	case "error":
		err = h.manager.SurfaceError(id)
	case "":
		// Только снапшот, без сигнала
	default:
		writeError(w, http.StatusBadRequest, "event must be load or error")
		return
	}
	if err != nil {
		tabNotFound(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Retry повторяет загрузку в текущем режиме.
// POST /v1/tabs/{id}/retry
func (h *TabsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Retry(chi.URLParam(r, "id")); err != nil {
		tabNotFound(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SwitchMode переключает режим доставки вкладки.
// POST /v1/tabs/{id}/switch-mode
func (h *TabsHandler) SwitchMode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.SwitchMode(id); err != nil {
		tabNotFound(w, err)
		return
	}
	state, _ := h.manager.State(id)
	writeJSON(w, http.StatusOK, state)
}

// DismissNotice скрывает уведомление о провале.
// POST /v1/tabs/{id}/dismiss-notice
func (h *TabsHandler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DismissNotice(chi.URLParam(r, "id")); err != nil {
		tabNotFound(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
