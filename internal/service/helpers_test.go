package service

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

var (
	extCols      = []string{"id", "key", "category", "blocked", "created_at", "activated_at", "deleted_at"}
	settingsCols = []string{"id", "custom_limit", "soft_delete_retention_days", "created_at", "updated_at"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newMock создаёт pgxmock-пул и проверяет ожидания в конце теста.
func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("невыполненные ожидания: %v", err)
		}
		mock.Close()
	})
	return mock
}

// extRows — строки extensions в порядке extensionColumns.
func extRows(recs ...*model.ExtensionRecord) *pgxmock.Rows {
	rows := pgxmock.NewRows(extCols)
	for _, r := range recs {
		rows.AddRow(r.ID, r.Key, r.Category, r.Blocked, r.CreatedAt, r.ActivatedAt, r.DeletedAt)
	}
	return rows
}

func settingsRows(limit, retention int) *pgxmock.Rows {
	return pgxmock.NewRows(settingsCols).
		AddRow(int16(1), int32(limit), int32(retention), fixedNow, fixedNow)
}

func activeRec(id int64, key string, cat model.Category, blocked bool) *model.ExtensionRecord {
	return &model.ExtensionRecord{
		ID:          id,
		Key:         key,
		Category:    cat,
		Blocked:     blocked,
		CreatedAt:   fixedNow.Add(-time.Hour),
		ActivatedAt: fixedNow.Add(-time.Hour),
		DeletedAt:   (*time.Time)(nil),
	}
}

func deletedRec(id int64, key string, cat model.Category) *model.ExtensionRecord {
	r := activeRec(id, key, cat, false)
	at := fixedNow.Add(-30 * time.Minute)
	r.DeletedAt = &at
	return r
}

// countingCache считает вызовы Invalidate.
type countingCache struct {
	n atomic.Int32
}

func (c *countingCache) Invalidate() { c.n.Add(1) }

func newRegistry(mock pgxmock.PgxPoolIface, cache CacheInvalidator) *RegistryService {
	s := NewRegistryService(mock, cache, testLogger())
	s.now = func() time.Time { return fixedNow }
	return s
}

func boolPtr(b bool) *bool { return &b }
