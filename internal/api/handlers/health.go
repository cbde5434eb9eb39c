// health.go — обработчики health endpoints реестра расширений.
// /health/live — проверка живости (процесс жив)
// /health/ready — проверка готовности (PostgreSQL доступен; JWKS — если включена аутентификация)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/extension-registry/internal/config"
)

const serviceName = "extension-registry"

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// namedChecker — зависимость в проверке готовности.
type namedChecker struct {
	name    string
	checker ReadinessChecker
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checks      []namedChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// pgChecker обязателен: nil даёт "fail" для postgresql.
// jwksChecker — nil, если аутентификация выключена; тогда jwks в ответе нет.
func NewHealthHandler(pgChecker, jwksChecker ReadinessChecker) *HealthHandler {
	checks := []namedChecker{{name: "postgresql", checker: pgChecker}}
	if jwksChecker != nil {
		checks = append(checks, namedChecker{name: "jwks", checker: jwksChecker})
	}
	return &HealthHandler{
		checks:      checks,
		promHandler: promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks,omitempty"`
}

func newHealthResponse() healthResponse {
	return healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
}

// HealthLive — проверка живости, зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse())
}

// HealthReady — проверка готовности: 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := newHealthResponse()
	resp.Checks = make(map[string]healthCheckResult, len(h.checks))

	statuses := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		res := healthCheckResult{Status: "fail", Message: "не инициализирован"}
		if c.checker != nil {
			res.Status, res.Message = c.checker.CheckReady()
		}
		resp.Checks[c.name] = res
		statuses = append(statuses, res.Status)
	}
	resp.Status = overallStatus(statuses...)

	status := http.StatusOK
	if resp.Status == "fail" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}
