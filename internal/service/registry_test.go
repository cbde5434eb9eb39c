package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
)

// expectQuota — блокировка настроек и подсчёт активных CUSTOM записей.
func expectQuota(mock pgxmock.PgxPoolIface, limit, count int) {
	mock.ExpectExec("INSERT INTO registry_settings").
		WithArgs(1, 200, 90).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM registry_settings WHERE id = \\$1 FOR UPDATE").
		WithArgs(1).
		WillReturnRows(settingsRows(limit, 90))
	mock.ExpectQuery("SELECT count").
		WithArgs("CUSTOM").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(count)))
}

func expectNoDeleted(mock pgxmock.PgxPoolIface, key string) {
	mock.ExpectQuery("WHERE key = \\$1 AND deleted_at IS NOT NULL").
		WithArgs(key).
		WillReturnError(pgx.ErrNoRows)
}

func TestAddCustom_Inserted(t *testing.T) {
	mock := newMock(t)
	cache := &countingCache{}
	s := newRegistry(mock, cache)

	mock.ExpectBegin()
	expectQuota(mock, 200, 5)
	expectNoDeleted(mock, "zip")
	mock.ExpectQuery("INSERT INTO extensions").
		WithArgs("zip", "CUSTOM", true, pgxmock.AnyArg()).
		WillReturnRows(extRows(activeRec(11, "zip", model.CategoryCustom, true)))
	mock.ExpectCommit()

	rec, err := s.AddCustom(context.Background(), " .ZIP ")
	if err != nil {
		t.Fatalf("AddCustom: %v", err)
	}
	if rec.ID != 11 || rec.Key != "zip" || rec.Category != model.CategoryCustom || !rec.Blocked {
		t.Errorf("запись = %+v", rec)
	}
	if cache.n.Load() != 1 {
		t.Errorf("Invalidate вызван %d раз, ожидался 1", cache.n.Load())
	}
}

func TestAddCustom_QuotaExceeded(t *testing.T) {
	mock := newMock(t)
	cache := &countingCache{}
	s := newRegistry(mock, cache)

	mock.ExpectBegin()
	expectQuota(mock, 2, 2)
	mock.ExpectRollback()

	_, err := s.AddCustom(context.Background(), "7z")
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("ожидалась QuotaError, получено %v", err)
	}
	if qe.Limit != 2 || qe.Count != 2 {
		t.Errorf("QuotaError = %+v", qe)
	}
	if Kind(err) != "QUOTA_EXCEEDED" {
		t.Errorf("Kind = %s", Kind(err))
	}
	if cache.n.Load() != 0 {
		t.Error("кэш не должен сбрасываться при ошибке")
	}
}

func TestAddCustom_ZeroLimit(t *testing.T) {
	mock := newMock(t)
	s := newRegistry(mock, nil)

	mock.ExpectBegin()
	expectQuota(mock, 0, 0)
	mock.ExpectRollback()

	_, err := s.AddCustom(context.Background(), "zip")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("ожидалась ErrQuotaExceeded, получено %v", err)
	}
}

func TestAddCustom_Revived(t *testing.T) {
	mock := newMock(t)
	s := newRegistry(mock, nil)

	deleted := deletedRec(7, "rar", model.CategoryFixed)
	restored := activeRec(7, "rar", model.CategoryCustom, true)
	restored.CreatedAt = deleted.CreatedAt
	restored.ActivatedAt = fixedNow

	mock.ExpectBegin()
	expectQuota(mock, 200, 0)
	mock.ExpectQuery("WHERE key = \\$1 AND deleted_at IS NOT NULL").
		WithArgs("rar").
		WillReturnRows(extRows(deleted))
	mock.ExpectExec("SAVEPOINT extension_restore").
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery("UPDATE extensions").
		WithArgs(int64(7), pgxmock.AnyArg()).
		WillReturnRows(extRows(restored))
	mock.ExpectExec("RELEASE SAVEPOINT extension_restore").
		WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	rec, err := s.AddCustom(context.Background(), "rar")
	if err != nil {
		t.Fatalf("AddCustom: %v", err)
	}
	if rec.ID != 7 {
		t.Errorf("ID = %d, ожидался 7 (тот же id)", rec.ID)
	}
	if rec.Category != model.CategoryCustom || !rec.Blocked {
		t.Errorf("восстановленная запись = %+v", rec)
	}
	if !rec.CreatedAt.Equal(deleted.CreatedAt) {
		t.Errorf("CreatedAt изменился: %v != %v", rec.CreatedAt, deleted.CreatedAt)
	}
}

func TestAddCustom_RestoreConflict(t *testing.T) {
	mock := newMock(t)
	s := newRegistry(mock, nil)

	mock.ExpectBegin()
	expectQuota(mock, 200, 0)
	mock.ExpectQuery("WHERE key = \\$1 AND deleted_at IS NOT NULL").
		WithArgs("rar").
		WillReturnRows(extRows(deletedRec(7, "rar", model.CategoryCustom)))
	mock.ExpectExec("SAVEPOINT extension_restore").
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery("UPDATE extensions").
		WithArgs(int64(7), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
	mock.ExpectExec("ROLLBACK TO SAVEPOINT extension_restore").
		WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectQuery("WHERE key = \\$1 AND deleted_at IS NULL").
		WithArgs("rar").
		WillReturnRows(extRows(activeRec(9, "rar", model.CategoryFixed, true)))
	mock.ExpectRollback()

	_, err := s.AddCustom(context.Background(), "rar")
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("ожидалась ConflictError, получено %v", err)
	}
	if !errors.Is(err, ErrDuplicateInFixed) || ce.ID != 9 {
		t.Errorf("ConflictError = %+v", ce)
	}
}

func TestAddCustom_DuplicateClassification(t *testing.T) {
	tests := []struct {
		name     string
		existing model.Category
		wantKind string
	}{
		{"занят фиксированной", model.CategoryFixed, "DUPLICATE_IN_FIXED"},
		{"занят пользовательской", model.CategoryCustom, "DUPLICATE_IN_CUSTOM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			s := newRegistry(mock, nil)

			mock.ExpectBegin()
			expectQuota(mock, 200, 1)
			expectNoDeleted(mock, "exe")
			mock.ExpectQuery("INSERT INTO extensions").
				WithArgs("exe", "CUSTOM", true, pgxmock.AnyArg()).
				WillReturnError(pgx.ErrNoRows)
			mock.ExpectQuery("WHERE key = \\$1 AND deleted_at IS NULL").
				WithArgs("exe").
				WillReturnRows(extRows(activeRec(3, "exe", tt.existing, true)))
			mock.ExpectRollback()

			_, err := s.AddCustom(context.Background(), "EXE")
			if got := Kind(err); got != tt.wantKind {
				t.Errorf("Kind = %s, ожидался %s (err=%v)", got, tt.wantKind, err)
			}
		})
	}
}

func TestAddCustom_ConflictVanishesThenInserted(t *testing.T) {
	mock := newMock(t)
	s := newRegistry(mock, nil)

	mock.ExpectBegin()
	expectQuota(mock, 200, 1)
	expectNoDeleted(mock, "iso")
	mock.ExpectQuery("INSERT INTO extensions").
		WithArgs("iso", "CUSTOM", true, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("WHERE key = \\$1 AND deleted_at IS NULL").
		WithArgs("iso").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO extensions").
		WithArgs("iso", "CUSTOM", true, pgxmock.AnyArg()).
		WillReturnRows(extRows(activeRec(21, "iso", model.CategoryCustom, true)))
	mock.ExpectCommit()

	rec, err := s.AddCustom(context.Background(), "iso")
	if err != nil {
		t.Fatalf("AddCustom: %v", err)
	}
	if rec.ID != 21 {
		t.Errorf("ID = %d", rec.ID)
	}
}

func TestAddCustom_InvalidKey(t *testing.T) {
	mock := newMock(t)
	s := newRegistry(mock, nil)

	for _, raw := range []string{"", "   ", ".", "a b", "toolongextensionkey123", "tar..gz", "exe!"} {
		_, err := s.AddCustom(context.Background(), raw)
		if Kind(err) != "VALIDATION_ERROR" {
			t.Errorf("AddCustom(%q): Kind = %s, ожидался VALIDATION_ERROR", raw, Kind(err))
		}
	}
}

func TestAddCustom_LockTimeout(t *testing.T) {
	mock := newMock(t)
	s := newRegistry(mock, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO registry_settings").
		WithArgs(1, 200, 90).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM registry_settings WHERE id = \\$1 FOR UPDATE").
		WithArgs(1).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.LockNotAvailable, Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	_, err := s.AddCustom(context.Background(), "zip")
	if Kind(err) != "STORE_UNAVAILABLE" {
		t.Fatalf("Kind = %s, ожидался STORE_UNAVAILABLE (err=%v)", Kind(err), err)
	}
}

func TestDeleteCustom(t *testing.T) {
	t.Run("удалена", func(t *testing.T) {
		mock := newMock(t)
		cache := &countingCache{}
		s := newRegistry(mock, cache)

		mock.ExpectExec("UPDATE extensions").
			WithArgs(int64(5), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		if err := s.DeleteCustom(context.Background(), 5); err != nil {
			t.Fatalf("DeleteCustom: %v", err)
		}
		if cache.n.Load() != 1 {
			t.Error("кэш должен быть сброшен")
		}
	})

	t.Run("не найдена", func(t *testing.T) {
		mock := newMock(t)
		s := newRegistry(mock, nil)

		mock.ExpectExec("UPDATE extensions").
			WithArgs(int64(5), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := s.DeleteCustom(context.Background(), 5)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("ожидалась ErrNotFound, получено %v", err)
		}
	})

	t.Run("некорректный id", func(t *testing.T) {
		mock := newMock(t)
		s := newRegistry(mock, nil)

		if err := s.DeleteCustom(context.Background(), 0); !errors.Is(err, ErrValidation) {
			t.Fatalf("ожидалась ErrValidation, получено %v", err)
		}
	})
}

func TestDeleteAllCustom(t *testing.T) {
	mock := newMock(t)
	s := newRegistry(mock, nil)

	mock.ExpectExec("UPDATE extensions").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := s.DeleteAllCustom(context.Background())
	if err != nil {
		t.Fatalf("DeleteAllCustom: %v", err)
	}
	if n != 4 {
		t.Errorf("deleted = %d, ожидалось 4", n)
	}
}

func TestListCustom(t *testing.T) {
	mock := newMock(t)
	mock.MatchExpectationsInOrder(false)
	s := newRegistry(mock, nil)

	mock.ExpectQuery("WHERE category = 'CUSTOM'").
		WillReturnRows(extRows(
			activeRec(1, "zip", model.CategoryCustom, true),
			activeRec(2, "rar", model.CategoryCustom, true),
		))
	mock.ExpectQuery("FROM registry_settings").
		WithArgs(1).
		WillReturnRows(settingsRows(3, 90))

	list, err := s.ListCustom(context.Background())
	if err != nil {
		t.Fatalf("ListCustom: %v", err)
	}
	if list.Count != 2 || list.Limit != 3 || len(list.Items) != 2 {
		t.Errorf("список = count %d, limit %d, items %d", list.Count, list.Limit, len(list.Items))
	}
	if list.Items[0].Key != "zip" || list.Items[1].Key != "rar" {
		t.Errorf("порядок нарушен: %s, %s", list.Items[0].Key, list.Items[1].Key)
	}
}

func TestListCustom_Empty(t *testing.T) {
	mock := newMock(t)
	mock.MatchExpectationsInOrder(false)
	s := newRegistry(mock, nil)

	mock.ExpectQuery("WHERE category = 'CUSTOM'").
		WillReturnRows(extRows())
	mock.ExpectQuery("FROM registry_settings").
		WithArgs(1).
		WillReturnRows(settingsRows(200, 90))

	list, err := s.ListCustom(context.Background())
	if err != nil {
		t.Fatalf("ListCustom: %v", err)
	}
	if list.Items == nil || len(list.Items) != 0 || list.Count != 0 {
		t.Errorf("ожидался пустой непустой-nil список, получено %+v", list)
	}
}

func TestListFixed(t *testing.T) {
	mock := newMock(t)
	s := newRegistry(mock, nil)

	mock.ExpectQuery("WHERE category = 'FIXED'").
		WillReturnRows(extRows(
			activeRec(1, "bat", model.CategoryFixed, true),
			activeRec(2, "exe", model.CategoryFixed, false),
		))

	list, err := s.ListFixed(context.Background())
	if err != nil {
		t.Fatalf("ListFixed: %v", err)
	}
	if len(list.Items) != 2 || !list.GeneratedAt.Equal(fixedNow) {
		t.Errorf("список = %+v", list)
	}
}

func TestUpdateFixedBlocked(t *testing.T) {
	t.Run("обновлена", func(t *testing.T) {
		mock := newMock(t)
		cache := &countingCache{}
		s := newRegistry(mock, cache)

		mock.ExpectQuery("UPDATE extensions").
			WithArgs(int64(2), false).
			WillReturnRows(extRows(activeRec(2, "exe", model.CategoryFixed, false)))

		rec, err := s.UpdateFixedBlocked(context.Background(), 2, false)
		if err != nil {
			t.Fatalf("UpdateFixedBlocked: %v", err)
		}
		if rec.Blocked {
			t.Error("blocked должен быть false")
		}
		if cache.n.Load() != 1 {
			t.Error("кэш должен быть сброшен")
		}
	})

	t.Run("пользовательская или отсутствует", func(t *testing.T) {
		mock := newMock(t)
		s := newRegistry(mock, nil)

		mock.ExpectQuery("UPDATE extensions").
			WithArgs(int64(9), true).
			WillReturnError(pgx.ErrNoRows)

		_, err := s.UpdateFixedBlocked(context.Background(), 9, true)
		if Kind(err) != "NOT_FOUND" {
			t.Fatalf("Kind = %s, ожидался NOT_FOUND", Kind(err))
		}
	})
}
