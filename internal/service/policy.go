// policy.go — проверка имени загружаемого файла по реестру расширений.
//
// Кандидаты — все суффиксы имени после точек ("a.tar.gz" → "tar.gz", "gz").
// Загрузка запрещена, если хотя бы одна активная запись для кандидата blocked.
// Решения кэшируются в LRU с TTL (hashicorp/golang-lru/v2/expirable),
// кэш одного экземпляра сбрасывается при каждой локальной записи в реестр.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/extkey"
	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/repository"
)

// MaxFilenameLength — максимальная длина проверяемого имени файла.
const MaxFilenameLength = 255

// Prometheus-метрики проверки загрузок.
var (
	policyCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extension_registry_policy_cache_hits_total",
		Help: "Попадания в кэш решений проверки загрузок.",
	})
	policyCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extension_registry_policy_cache_misses_total",
		Help: "Промахи кэша решений проверки загрузок.",
	})
	policyVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extension_registry_policy_verdicts_total",
		Help: "Решения проверки загрузок.",
	}, []string{"verdict"}) // allowed, blocked
)

// PolicyService — проверка имён файлов.
type PolicyService struct {
	exts   repository.ExtensionRepository
	cache  *expirable.LRU[string, model.Verdict]
	logger *slog.Logger

	// mu упорядочивает запись в кэш и Invalidate
	mu  sync.Mutex
	gen atomic.Uint64
}

// NewPolicyService создаёт сервис проверки.
// cacheSize = 0 отключает кэширование.
func NewPolicyService(db repository.DBTX, cacheSize int, ttl time.Duration, logger *slog.Logger) *PolicyService {
	s := &PolicyService{
		exts:   repository.NewExtensionRepository(db),
		logger: logger.With(slog.String("component", "policy")),
	}
	if cacheSize > 0 {
		s.cache = expirable.NewLRU[string, model.Verdict](cacheSize, nil, ttl)
	}
	return s
}

// Check возвращает решение для имени файла.
func (s *PolicyService) Check(ctx context.Context, filename string) (*model.Verdict, error) {
	if filename == "" {
		return nil, validationf("filename", "имя файла не задано")
	}
	if len(filename) > MaxFilenameLength {
		return nil, validationf("filename", "длиннее %d символов", MaxFilenameLength)
	}

	candidates := extkey.Candidates(filename)
	if len(candidates) == 0 {
		policyVerdictsTotal.WithLabelValues("allowed").Inc()
		return &model.Verdict{Filename: filename}, nil
	}

	// Набор кандидатов однозначно задаётся самым длинным суффиксом
	cacheKey := candidates[0]
	if v, ok := s.cached(cacheKey); ok {
		return s.verdict(filename, v), nil
	}

	gen := s.gen.Load()
	records, err := s.exts.FindActiveByKeys(ctx, candidates)
	if err != nil {
		return nil, storeError("проверка имени файла", err)
	}
	v := decide(records)

	// Решение, вычисленное до инвалидации, в кэш не попадает
	if s.cache != nil {
		s.mu.Lock()
		if s.gen.Load() == gen {
			s.cache.Add(cacheKey, v)
		}
		s.mu.Unlock()
	}
	return s.verdict(filename, v), nil
}

// Invalidate сбрасывает кэш решений.
func (s *PolicyService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen.Add(1)
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *PolicyService) cached(key string) (model.Verdict, bool) {
	if s.cache == nil {
		return model.Verdict{}, false
	}
	v, ok := s.cache.Get(key)
	if ok {
		policyCacheHitsTotal.Inc()
	} else {
		policyCacheMissesTotal.Inc()
	}
	return v, ok
}

func (s *PolicyService) verdict(filename string, v model.Verdict) *model.Verdict {
	v.Filename = filename
	if v.Blocked {
		policyVerdictsTotal.WithLabelValues("blocked").Inc()
		s.logger.Debug("Загрузка запрещена",
			slog.String("filename", filename),
			slog.String("matched_key", v.MatchedKey),
		)
	} else {
		policyVerdictsTotal.WithLabelValues("allowed").Inc()
	}
	return &v
}

// decide выбирает запись, определяющую решение.
// records упорядочены от самого длинного ключа к короткому.
// Первая blocked запись запрещает загрузку, иначе решение — по самой длинной совпавшей.
func decide(records []*model.ExtensionRecord) model.Verdict {
	for _, r := range records {
		if r.Blocked {
			return model.Verdict{Blocked: true, MatchedKey: r.Key, MatchedCategory: r.Category}
		}
	}
	if len(records) > 0 {
		return model.Verdict{MatchedKey: records[0].Key, MatchedCategory: records[0].Category}
	}
	return model.Verdict{}
}
