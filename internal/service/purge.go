// purge.go — окончательное удаление soft-deleted записей после срока хранения.
//
// PurgeService запускает фоновую горутину, которая раз в сутки в заданное
// время (ER_PURGE_AT, UTC) вызывает RunOnce. RunOnce также вызывается
// CLI-командой purge для внешнего cron.
//
// RunOnce:
//  1. Читает soft_delete_retention_days (90, если строки настроек нет)
//  2. cutoff = now - retentionDays
//  3. DELETE записей с deleted_at < cutoff — активные записи не затрагиваются
//
// Ошибка запуска логируется, процесс продолжает работу, следующий запуск
// подберёт накопившиеся записи.
//
// Prometheus-метрики:
//   - extension_registry_purge_runs_total — запуски по результату
//   - extension_registry_purge_deleted_total — удалённые записи
//   - extension_registry_purge_duration_seconds — длительность запуска
//   - extension_registry_purge_last_success_timestamp_seconds — время последнего успешного запуска
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/repository"
)

// ErrPurgeRunning — предыдущий запуск очистки ещё не завершён.
var ErrPurgeRunning = errors.New("очистка уже выполняется")

// Prometheus-метрики очистки.
var (
	purgeRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extension_registry_purge_runs_total",
		Help: "Запуски очистки soft-deleted записей",
	}, []string{"result"}) // success, error, skipped

	purgeDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extension_registry_purge_deleted_total",
		Help: "Окончательно удалённые записи",
	})

	purgeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "extension_registry_purge_duration_seconds",
		Help:    "Длительность запуска очистки",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	purgeLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "extension_registry_purge_last_success_timestamp_seconds",
		Help: "Unix-время последнего успешного запуска очистки",
	})
)

// PurgeService — планировщик очистки soft-deleted записей.
type PurgeService struct {
	pool   repository.DBTX
	hour   int
	minute int
	now    func() time.Time
	logger *slog.Logger

	// running исключает параллельные запуски без удержания мьютекса
	// на время обращений к БД
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPurgeService создаёт сервис очистки с ежедневным запуском в hour:minute UTC.
func NewPurgeService(pool repository.DBTX, hour, minute int, logger *slog.Logger) *PurgeService {
	return &PurgeService{
		pool:   pool,
		hour:   hour,
		minute: minute,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "purge")),
	}
}

// Start запускает фоновую горутину с ежедневным запуском.
// Вызывается один раз при старте приложения.
func (s *PurgeService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		for {
			now := s.now()
			next := nextRunAt(now, s.hour, s.minute)
			s.logger.Info("Следующая очистка запланирована", slog.Time("at", next))

			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("Планировщик очистки остановлен")
				return
			case <-timer.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Error("Ошибка очистки, запуск пропущен", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *PurgeService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// RunOnce выполняет один запуск очистки и возвращает результат.
func (s *PurgeService) RunOnce(ctx context.Context) (*model.PurgeResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		purgeRunsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrPurgeRunning
	}
	defer s.running.Store(false)

	started := s.now()
	result, err := s.purge(ctx, started)
	duration := time.Since(started)
	purgeDuration.Observe(duration.Seconds())

	if err != nil {
		purgeRunsTotal.WithLabelValues("error").Inc()
		return nil, storeError("очистка удалённых расширений", err)
	}

	result.StartedAt = started
	result.Duration = duration
	purgeRunsTotal.WithLabelValues("success").Inc()
	purgeDeletedTotal.Add(float64(result.Deleted))
	purgeLastSuccess.Set(float64(started.Unix()))

	s.logger.Info("Очистка завершена",
		slog.Int("deleted", result.Deleted),
		slog.Int("retention_days", result.RetentionDays),
		slog.Time("cutoff", result.Cutoff),
		slog.Duration("duration", duration),
	)
	return result, nil
}

func (s *PurgeService) purge(ctx context.Context, now time.Time) (*model.PurgeResult, error) {
	days := model.DefaultRetentionDays
	settings, err := repository.NewSettingsRepository(s.pool).Get(ctx)
	switch {
	case err == nil:
		days = settings.SoftDeleteRetentionDays
	case errors.Is(err, repository.ErrNotFound):
		// строки настроек нет — срок по умолчанию
	default:
		return nil, err
	}

	cutoff := retentionCutoff(now, days)
	deleted, err := repository.NewExtensionRepository(s.pool).PurgeDeletedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	return &model.PurgeResult{
		Cutoff:        cutoff,
		RetentionDays: days,
		Deleted:       int(deleted),
	}, nil
}

// retentionCutoff — граница хранения: записи, удалённые раньше, подлежат очистке.
func retentionCutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}

// nextRunAt — ближайший момент hour:minute UTC строго после now.
func nextRunAt(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
