// registry.go — сервис реестра расширений файлов.
//
// RegistryService реализует операции над записями extensions:
//   - AddCustom — добавление пользовательского расширения (квота → восстановление → вставка)
//   - DeleteCustom / DeleteAllCustom — soft delete пользовательских записей
//   - ListCustom / ListFixed — активные записи
//   - UpdateFixedBlocked — переключение blocked у фиксированной записи
//   - AddFixed — пакетное добавление фиксированных (fixed.go)
//
// Все многошаговые операции выполняются в одной транзакции: любая ошибка
// откатывает её целиком. Внутрипроцессные мьютексы не используются,
// единственная явная блокировка — строка registry_settings.
//
// Prometheus-метрики:
//   - extension_registry_operations_total — операции по виду результата
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/extkey"
	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/repository"
)

var registryOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "extension_registry_operations_total",
	Help: "Операции реестра расширений по результату",
}, []string{"operation", "result"}) // result: OK или вид ошибки

// CacheInvalidator — получатель уведомлений об изменении реестра.
type CacheInvalidator interface {
	Invalidate()
}

// RegistryService — сервис реестра расширений.
type RegistryService struct {
	pool   repository.Pool
	tx     *repository.TxRunner
	cache  CacheInvalidator
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistryService создаёт сервис реестра.
// cache может быть nil — тогда инвалидация не выполняется.
func NewRegistryService(pool repository.Pool, cache CacheInvalidator, logger *slog.Logger) *RegistryService {
	return &RegistryService{
		pool:   pool,
		tx:     repository.NewTxRunner(pool),
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "registry")),
	}
}

// AddCustom добавляет пользовательское расширение.
// Порядок в одной транзакции: блокировка настроек и проверка квоты,
// затем восстановление soft-deleted записи с тем же ключом,
// иначе вставка с игнорированием конфликта.
func (s *RegistryService) AddCustom(ctx context.Context, rawKey string) (rec *model.ExtensionRecord, err error) {
	defer func() { s.observe("add_custom", err) }()

	key, err := parseKey("key", rawKey)
	if err != nil {
		return nil, err
	}

	now := s.now()
	revived := false
	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		exts := repository.NewExtensionRepository(tx)

		if err := s.acquireQuota(ctx, repository.NewSettingsRepository(tx), exts); err != nil {
			return err
		}

		restored, err := s.revive(ctx, exts, key, now)
		if err != nil {
			return err
		}
		if restored != nil {
			rec, revived = restored, true
			return nil
		}

		rec, err = s.insertIfAbsent(ctx, exts, key, model.CategoryCustom, true, now)
		return err
	})
	if err != nil {
		return nil, storeError("добавление пользовательского расширения", err)
	}

	s.invalidate()
	s.logger.Info("Пользовательское расширение добавлено",
		slog.String("key", rec.Key),
		slog.Int64("id", rec.ID),
		slog.Bool("revived", revived),
	)
	return rec, nil
}

// DeleteCustom помечает пользовательскую запись удалённой.
// NOT_FOUND — записи нет, она фиксированная или уже удалена.
func (s *RegistryService) DeleteCustom(ctx context.Context, id int64) (err error) {
	defer func() { s.observe("delete_custom", err) }()

	if id <= 0 {
		return validationf("id", "должен быть положительным, получено %d", id)
	}

	if err := repository.NewExtensionRepository(s.pool).SoftDeleteCustom(ctx, id, s.now()); err != nil {
		return storeError("удаление пользовательского расширения", err)
	}

	s.invalidate()
	s.logger.Info("Пользовательское расширение удалено", slog.Int64("id", id))
	return nil
}

// DeleteAllCustom помечает удалёнными все активные пользовательские записи.
// Возвращает количество затронутых записей.
func (s *RegistryService) DeleteAllCustom(ctx context.Context) (deleted int64, err error) {
	defer func() { s.observe("delete_all_custom", err) }()

	deleted, err = repository.NewExtensionRepository(s.pool).SoftDeleteAllCustom(ctx, s.now())
	if err != nil {
		return 0, storeError("удаление всех пользовательских расширений", err)
	}

	s.invalidate()
	s.logger.Info("Все пользовательские расширения удалены", slog.Int64("deleted", deleted))
	return deleted, nil
}

// ListCustom возвращает активные пользовательские расширения, их количество и лимит.
// Записи и настройки читаются параллельно.
func (s *RegistryService) ListCustom(ctx context.Context) (*model.CustomList, error) {
	var (
		items    []*model.ExtensionRecord
		settings *model.RegistrySettings
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = repository.NewExtensionRepository(s.pool).ListActiveCustom(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		settings, err = loadSettings(gctx, repository.NewSettingsRepository(s.pool))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storeError("получение пользовательских расширений", err)
	}

	if items == nil {
		items = []*model.ExtensionRecord{}
	}
	return &model.CustomList{
		Items: items,
		Count: len(items),
		Limit: settings.CustomLimit,
	}, nil
}

// ListFixed возвращает активные фиксированные расширения по ключу.
func (s *RegistryService) ListFixed(ctx context.Context) (*model.FixedList, error) {
	items, err := repository.NewExtensionRepository(s.pool).ListActiveFixed(ctx)
	if err != nil {
		return nil, storeError("получение фиксированных расширений", err)
	}
	if items == nil {
		items = []*model.ExtensionRecord{}
	}
	return &model.FixedList{Items: items, GeneratedAt: s.now()}, nil
}

// UpdateFixedBlocked меняет blocked у активной фиксированной записи.
// NOT_FOUND — записи нет, она пользовательская или удалена.
func (s *RegistryService) UpdateFixedBlocked(ctx context.Context, id int64, blocked bool) (rec *model.ExtensionRecord, err error) {
	defer func() { s.observe("update_fixed", err) }()

	if id <= 0 {
		return nil, validationf("id", "должен быть положительным, получено %d", id)
	}

	rec, err = repository.NewExtensionRepository(s.pool).UpdateFixedBlocked(ctx, id, blocked)
	if err != nil {
		return nil, storeError("обновление фиксированного расширения", err)
	}

	s.invalidate()
	s.logger.Info("Фиксированное расширение обновлено",
		slog.String("key", rec.Key),
		slog.Int64("id", rec.ID),
		slog.Bool("blocked", rec.Blocked),
	)
	return rec, nil
}

func (s *RegistryService) invalidate() {
	if s.cache != nil {
		s.cache.Invalidate()
	}
}

func (s *RegistryService) observe(op string, err error) {
	registryOperations.WithLabelValues(op, Kind(err)).Inc()
}

// parseKey нормализует и проверяет ключ расширения.
func parseKey(field, raw string) (string, error) {
	key, err := extkey.Parse(raw)
	if err != nil {
		return "", &ValidationError{Field: field, Reason: err.Error()}
	}
	return key, nil
}
