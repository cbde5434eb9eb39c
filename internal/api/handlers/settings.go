// settings.go — обработчики /api/v1/settings.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/extension-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
)

type settingsResponse struct {
	CustomLimit             int       `json:"customLimit"`
	SoftDeleteRetentionDays int       `json:"softDeleteRetentionDays"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

type updateSettingsRequest struct {
	CustomLimit             *int `json:"customLimit"`
	SoftDeleteRetentionDays *int `json:"softDeleteRetentionDays"`
}

func toSettingsResponse(s *model.RegistrySettings) settingsResponse {
	return settingsResponse{
		CustomLimit:             s.CustomLimit,
		SoftDeleteRetentionDays: s.SoftDeleteRetentionDays,
		UpdatedAt:               s.UpdatedAt.UTC(),
	}
}

// GetSettings — GET /api/v1/settings. Строка настроек создаётся при первом чтении.
func (h *APIHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(s))
}

// UpdateSettings — PUT /api/v1/settings.
func (h *APIHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CustomLimit == nil || req.SoftDeleteRetentionDays == nil {
		apierrors.ValidationError(w, "Поля customLimit и softDeleteRetentionDays обязательны")
		return
	}

	s, err := h.settings.Update(r.Context(), *req.CustomLimit, *req.SoftDeleteRetentionDays)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logChange(r, "Настройки реестра обновлены",
		slog.Int("custom_limit", s.CustomLimit),
		slog.Int("retention_days", s.SoftDeleteRetentionDays),
	)
	writeJSON(w, http.StatusOK, toSettingsResponse(s))
}
