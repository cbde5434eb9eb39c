// handler.go — основной обработчик API реестра расширений.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/extension-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/extension-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/service"
)

// Registry — операции реестра, используемые HTTP-слоем.
type Registry interface {
	AddCustom(ctx context.Context, rawKey string) (*model.ExtensionRecord, error)
	DeleteCustom(ctx context.Context, id int64) error
	DeleteAllCustom(ctx context.Context) (int64, error)
	ListCustom(ctx context.Context) (*model.CustomList, error)
	ListFixed(ctx context.Context) (*model.FixedList, error)
	AddFixed(ctx context.Context, items []model.FixedItem) ([]*model.ExtensionRecord, error)
	UpdateFixedBlocked(ctx context.Context, id int64, blocked bool) (*model.ExtensionRecord, error)
}

// Settings — чтение и изменение настроек реестра.
type Settings interface {
	Get(ctx context.Context) (*model.RegistrySettings, error)
	Update(ctx context.Context, customLimit, retentionDays int) (*model.RegistrySettings, error)
}

// Policy — проверка имени загружаемого файла.
type Policy interface {
	Check(ctx context.Context, filename string) (*model.Verdict, error)
}

// APIHandler — основной обработчик API реестра расширений.
type APIHandler struct {
	health   *HealthHandler
	registry Registry
	settings Settings
	policy   Policy
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	registry Registry,
	settings Settings,
	policy Policy,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:   health,
		registry: registry,
		settings: settings,
		policy:   policy,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — проверка живости (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — проверка готовности (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- DTO ---

// extensionResponse — запись расширения в ответе API.
type extensionResponse struct {
	ID          int64          `json:"id"`
	Key         string         `json:"key"`
	Category    model.Category `json:"category"`
	Blocked     bool           `json:"blocked"`
	CreatedAt   time.Time      `json:"createdAt"`
	ActivatedAt time.Time      `json:"activatedAt"`
}

func toExtensionResponse(rec *model.ExtensionRecord) extensionResponse {
	return extensionResponse{
		ID:          rec.ID,
		Key:         rec.Key,
		Category:    rec.Category,
		Blocked:     rec.Blocked,
		CreatedAt:   rec.CreatedAt.UTC(),
		ActivatedAt: rec.ActivatedAt.UTC(),
	}
}

// toExtensionList никогда не возвращает nil: пустой список сериализуется как [].
func toExtensionList(recs []*model.ExtensionRecord) []extensionResponse {
	items := make([]extensionResponse, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toExtensionResponse(rec))
	}
	return items
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса. Неизвестные поля допускаются.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Невалидный JSON: "+err.Error())
		return false
	}
	return true
}

// pathID извлекает и разбирает {id} из пути.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var id int64
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		apierrors.ValidationError(w, "Неверный параметр id: "+err.Error())
		return 0, false
	}
	if id <= 0 {
		apierrors.ValidationError(w, "Параметр id должен быть положительным")
		return 0, false
	}
	return id, true
}

// logChange пишет в лог успешное изменение реестра с sub вызывающего.
// sub пустой, если аутентификация выключена.
func (h *APIHandler) logChange(r *http.Request, msg string, attrs ...slog.Attr) {
	attrs = append(attrs,
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	h.logger.LogAttrs(r.Context(), slog.LevelInfo, msg, attrs...)
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
// Код ответа — вид ошибки (service.Kind), детали — из структурированных ошибок.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := service.Kind(err)
	status := apierrors.StatusForCode(code)

	if status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("code", code),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		if code == apierrors.CodeStoreUnavailable {
			w.Header().Set("Retry-After", "1")
			apierrors.StoreUnavailable(w, "Хранилище временно недоступно, повторите запрос")
			return
		}
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	apierrors.WriteErrorDetails(w, status, code, err.Error(), errorDetails(err))
}

// errorDetails извлекает машиночитаемые детали ошибки. nil, если их нет.
func errorDetails(err error) any {
	var (
		conflict   *service.ConflictError
		quota      *service.QuotaError
		duplicates *service.DuplicateKeysError
		validation *service.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		return map[string]any{
			"key":      conflict.Key,
			"id":       conflict.ID,
			"category": conflict.Category,
		}
	case errors.As(err, &quota):
		return map[string]any{
			"limit": quota.Limit,
			"count": quota.Count,
		}
	case errors.As(err, &duplicates):
		return map[string]any{"keys": duplicates.Keys}
	case errors.As(err, &validation):
		return map[string]any{
			"field":  validation.Field,
			"reason": validation.Reason,
		}
	}
	return nil
}
