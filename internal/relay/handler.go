package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/fetch"
	"github.com/xela07ax/embedrelay/internal/guard"
	"github.com/xela07ax/embedrelay/internal/rewrite"
)

const permissiveCSP = "default-src * 'unsafe-inline' 'unsafe-eval' data: blob:;"

// extContentTypes — быстрая таблица для ассетов, у которых источник
// не прислал Content-Type. Остальное добивает сниффер по байтам.
var extContentTypes = map[string]string{
	".css":  "text/css",
	".js":   "application/javascript",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
}

// ContentFetcher — исходящая загрузка контента (см. internal/fetch).
type ContentFetcher interface {
	Fetch(ctx context.Context, target *url.URL, inbound http.Header) (*fetch.Result, error)
}

// Handler — HTTP-вход релея: Guard -> Fetcher -> Rewriter.
type Handler struct {
	fetcher ContentFetcher
	metrics *Metrics
	logger  *zap.Logger
}

func NewHandler(fetcher ContentFetcher, metrics *Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		fetcher: fetcher,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "relay")),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/relay", h.handleRelay)
	r.Options("/relay", h.handleOptions)
}

// handleOptions отвечает на CORS preflight встраиваемых поверхностей.
func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRelay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	raw := r.URL.Query().Get("url")
	retry := r.URL.Query().Get("retry") == "true"

	if raw == "" {
		h.metrics.ErrorTotal.WithLabelValues("invalid_url").Inc()
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "URL parameter is required"})
		return
	}

	// 1. Классификация цели. Единственная SSRF-защита — строго до фетча.
	target, err := guard.Classify(raw)
	if err != nil {
		if errors.Is(err, guard.ErrLocalAddressBlocked) {
			// Запрет политики финален: никаких fallback и ретраев
			h.metrics.ErrorTotal.WithLabelValues("blocked").Inc()
			h.logger.Warn("blocked local target",
				zap.String("url", raw),
				zap.String("trace_id", extractTraceID(r.Context())))
			h.writeJSON(w, http.StatusForbidden, map[string]interface{}{"error": guard.ErrLocalAddressBlocked.Error()})
			return
		}
		h.metrics.ErrorTotal.WithLabelValues("invalid_url").Inc()
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "Invalid URL"})
		return
	}

	// 2. Исходящая загрузка
	result, err := h.fetcher.Fetch(r.Context(), target, r.Header)
	if err != nil {
		h.metrics.RequestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		h.writeFetchError(w, raw, retry, err)
		return
	}

	// 3. Доставка: HTML переписываем, остальное отдаем как есть
	if strings.Contains(result.ContentType, "text/html") {
		h.metrics.TotalRequests.WithLabelValues("html").Inc()
		h.writeHTML(w, rewrite.Rewrite(string(result.Body), target))
	} else {
		h.metrics.TotalRequests.WithLabelValues("asset").Inc()
		h.writeAsset(w, target, result)
	}
	h.metrics.RequestDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
}

// writeFetchError разводит провалы загрузки по контракту ретрая:
// retry=true — машиночитаемая ошибка с числовым статусом (хост сам решает,
// что делать дальше); иначе — fallback-страница со статусом 200.
func (h *Handler) writeFetchError(w http.ResponseWriter, raw string, retry bool, err error) {
	var upErr *fetch.UpstreamError
	if errors.As(err, &upErr) {
		h.metrics.ErrorTotal.WithLabelValues("upstream").Inc()
		if retry {
			h.writeJSON(w, upErr.Status, map[string]interface{}{"error": "Failed to fetch URL"})
			return
		}
		h.writeJSON(w, upErr.Status, map[string]interface{}{
			"error": fmt.Sprintf("Failed to fetch URL: %d %s", upErr.Status, upErr.Message),
		})
		return
	}

	status := http.StatusBadGateway
	errType := "network"
	if errors.Is(err, fetch.ErrTimeout) {
		status = http.StatusGatewayTimeout
		errType = "timeout"
	}
	h.metrics.ErrorTotal.WithLabelValues(errType).Inc()

	if retry {
		h.writeJSON(w, status, map[string]interface{}{"error": "Failed to fetch URL"})
		return
	}

	// Статус 200 обязателен: поверхность должна получить событие load,
	// чтобы хост показал действия восстановления
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(fallbackDocument(raw)))
}

func (h *Handler) writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Frame-Options", "ALLOWALL")
	w.Header().Set("Content-Security-Policy", permissiveCSP)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (h *Handler) writeAsset(w http.ResponseWriter, target *url.URL, result *fetch.Result) {
	ct := result.ContentType
	if ct == "" {
		ct = inferContentType(target.Path, result.Body)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Frame-Options", "ALLOWALL")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// inferContentType восстанавливает тип контента, когда источник промолчал:
// сперва по расширению пути, затем сниффингом по байтам
// (application/octet-stream — финальный фолбэк самого сниффера).
func inferContentType(pathname string, body []byte) string {
	if ct, ok := extContentTypes[strings.ToLower(path.Ext(pathname))]; ok {
		return ct
	}
	return mimetype.Detect(body).String()
}
