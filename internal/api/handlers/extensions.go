// extensions.go — обработчики /api/v1/extensions.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/extension-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
)

type addCustomRequest struct {
	Key string `json:"key"`
}

type addFixedRequest struct {
	Items []struct {
		Key     string `json:"key"`
		Blocked *bool  `json:"blocked"`
	} `json:"items"`
}

type updateFixedRequest struct {
	Blocked *bool `json:"blocked"`
}

type customListResponse struct {
	Items []extensionResponse `json:"items"`
	Count int                 `json:"count"`
	Limit int                 `json:"limit"`
}

type fixedListResponse struct {
	Items       []extensionResponse `json:"items"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

type extensionItemsResponse struct {
	Items []extensionResponse `json:"items"`
}

type deleteAllResponse struct {
	Deleted int64 `json:"deleted"`
}

type verdictResponse struct {
	Filename        string         `json:"filename"`
	Blocked         bool           `json:"blocked"`
	MatchedKey      string         `json:"matchedKey,omitempty"`
	MatchedCategory model.Category `json:"matchedCategory,omitempty"`
}

// ListCustom — GET /api/v1/extensions/custom.
func (h *APIHandler) ListCustom(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListCustom(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customListResponse{
		Items: toExtensionList(list.Items),
		Count: list.Count,
		Limit: list.Limit,
	})
}

// AddCustom — POST /api/v1/extensions/custom.
// 201 и для новой, и для восстановленной записи.
func (h *APIHandler) AddCustom(w http.ResponseWriter, r *http.Request) {
	var req addCustomRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.registry.AddCustom(r.Context(), req.Key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logChange(r, "Пользовательское расширение добавлено",
		slog.Int64("id", rec.ID), slog.String("key", rec.Key))
	writeJSON(w, http.StatusCreated, toExtensionResponse(rec))
}

// DeleteAllCustom — DELETE /api/v1/extensions/custom.
func (h *APIHandler) DeleteAllCustom(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.registry.DeleteAllCustom(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logChange(r, "Пользовательские расширения удалены", slog.Int64("deleted", deleted))
	writeJSON(w, http.StatusOK, deleteAllResponse{Deleted: deleted})
}

// DeleteCustom — DELETE /api/v1/extensions/custom/{id}.
func (h *APIHandler) DeleteCustom(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.registry.DeleteCustom(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logChange(r, "Пользовательское расширение удалено", slog.Int64("id", id))
	w.WriteHeader(http.StatusNoContent)
}

// ListFixed — GET /api/v1/extensions/fixed.
func (h *APIHandler) ListFixed(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListFixed(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fixedListResponse{
		Items:       toExtensionList(list.Items),
		GeneratedAt: list.GeneratedAt.UTC(),
	})
}

// AddFixed — POST /api/v1/extensions/fixed. Пакет добавляется целиком или не добавляется.
func (h *APIHandler) AddFixed(w http.ResponseWriter, r *http.Request) {
	var req addFixedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	items := make([]model.FixedItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, model.FixedItem{Key: it.Key, Blocked: it.Blocked})
	}

	recs, err := h.registry.AddFixed(r.Context(), items)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logChange(r, "Пакет фиксированных расширений добавлен", slog.Int("count", len(recs)))
	writeJSON(w, http.StatusCreated, extensionItemsResponse{Items: toExtensionList(recs)})
}

// UpdateFixedBlocked — PATCH /api/v1/extensions/fixed/{id}.
func (h *APIHandler) UpdateFixedBlocked(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateFixedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Blocked == nil {
		apierrors.ValidationError(w, "Поле blocked обязательно")
		return
	}

	rec, err := h.registry.UpdateFixedBlocked(r.Context(), id, *req.Blocked)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logChange(r, "Флаг blocked изменён",
		slog.Int64("id", rec.ID), slog.String("key", rec.Key), slog.Bool("blocked", rec.Blocked))
	writeJSON(w, http.StatusOK, toExtensionResponse(rec))
}

// CheckFilename — GET /api/v1/extensions/check?filename=...
func (h *APIHandler) CheckFilename(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		apierrors.ValidationError(w, "Параметр filename обязателен")
		return
	}

	v, err := h.policy.Check(r.Context(), filename)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verdictResponse{
		Filename:        v.Filename,
		Blocked:         v.Blocked,
		MatchedKey:      v.MatchedKey,
		MatchedCategory: v.MatchedCategory,
	})
}
