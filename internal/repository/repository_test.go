package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/extension-registry/internal/database/dbtest"
	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
)

// --- Тесты ExtensionRepository ---

func TestExtensionInsertIfAbsent(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	repo := NewExtensionRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec, err := repo.InsertIfAbsent(ctx, "exe", model.CategoryFixed, true, now)
	if err != nil {
		t.Fatalf("InsertIfAbsent() ошибка: %v", err)
	}
	if rec == nil || rec.ID == 0 {
		t.Fatalf("InsertIfAbsent() вернул %+v, ожидалась новая запись", rec)
	}
	if rec.Category != model.CategoryFixed || !rec.Blocked || !rec.Active() {
		t.Errorf("запись = %+v, ожидалась активная FIXED blocked", rec)
	}
	if !rec.CreatedAt.Equal(now) || !rec.ActivatedAt.Equal(now) {
		t.Errorf("CreatedAt=%v ActivatedAt=%v, ожидалось %v", rec.CreatedAt, rec.ActivatedAt, now)
	}

	// Повторная вставка того же ключа в другой категории — no-op
	dup, err := repo.InsertIfAbsent(ctx, "exe", model.CategoryCustom, true, now)
	if err != nil {
		t.Fatalf("повторный InsertIfAbsent() ошибка: %v", err)
	}
	if dup != nil {
		t.Errorf("повторный InsertIfAbsent() вернул %+v, ожидался nil", dup)
	}

	found, err := repo.FindActiveByKey(ctx, "exe")
	if err != nil {
		t.Fatalf("FindActiveByKey() ошибка: %v", err)
	}
	if found.ID != rec.ID {
		t.Errorf("FindActiveByKey().ID = %d, ожидался %d", found.ID, rec.ID)
	}

	if _, err := repo.FindActiveByKey(ctx, "bat"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindActiveByKey(bat) = %v, ожидался ErrNotFound", err)
	}
}

func TestExtensionSoftDeleteAndRestore(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	repo := NewExtensionRepository(pool)
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	rec, err := repo.InsertIfAbsent(ctx, "zip", model.CategoryCustom, false, created)
	if err != nil || rec == nil {
		t.Fatalf("InsertIfAbsent() = %v, %v", rec, err)
	}

	if err := repo.SoftDeleteCustom(ctx, rec.ID, time.Now().UTC()); err != nil {
		t.Fatalf("SoftDeleteCustom() ошибка: %v", err)
	}
	// Повторное удаление — запись уже неактивна
	if err := repo.SoftDeleteCustom(ctx, rec.ID, time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный SoftDeleteCustom() = %v, ожидался ErrNotFound", err)
	}

	n, err := repo.CountActive(ctx, model.CategoryCustom)
	if err != nil {
		t.Fatalf("CountActive() ошибка: %v", err)
	}
	if n != 0 {
		t.Errorf("CountActive() = %d, ожидался 0", n)
	}

	var restored *model.ExtensionRecord
	err = NewTxRunner(pool).RunInTx(ctx, func(tx pgx.Tx) error {
		txRepo := NewExtensionRepository(tx)
		deleted, err := txRepo.LockDeletedByKey(ctx, "zip")
		if err != nil {
			return err
		}
		restored, err = txRepo.Restore(ctx, deleted.ID, time.Now().UTC())
		return err
	})
	if err != nil {
		t.Fatalf("восстановление ошибка: %v", err)
	}

	if restored.ID != rec.ID {
		t.Errorf("restored.ID = %d, ожидался %d", restored.ID, rec.ID)
	}
	if !restored.Blocked || restored.Category != model.CategoryCustom || !restored.Active() {
		t.Errorf("restored = %+v, ожидалась активная CUSTOM blocked", restored)
	}
	if !restored.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt изменился: %v → %v", created, restored.CreatedAt)
	}
	if !restored.ActivatedAt.After(created) {
		t.Errorf("ActivatedAt = %v не обновлён", restored.ActivatedAt)
	}
}

func TestExtensionRestoreConflict(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	repo := NewExtensionRepository(pool)
	now := time.Now().UTC()

	old, _ := repo.InsertIfAbsent(ctx, "rar", model.CategoryCustom, true, now)
	if err := repo.SoftDeleteCustom(ctx, old.ID, now); err != nil {
		t.Fatalf("SoftDeleteCustom() ошибка: %v", err)
	}
	// Тем временем ключ занят активной FIXED записью
	if _, err := repo.InsertIfAbsent(ctx, "rar", model.CategoryFixed, true, now); err != nil {
		t.Fatalf("InsertIfAbsent() ошибка: %v", err)
	}

	err := NewTxRunner(pool).RunInTx(ctx, func(tx pgx.Tx) error {
		txRepo := NewExtensionRepository(tx)
		if _, err := txRepo.Restore(ctx, old.ID, now); !errors.Is(err, ErrConflict) {
			t.Errorf("Restore() = %v, ожидался ErrConflict", err)
		}
		// После отката к точке сохранения транзакция пригодна
		found, err := txRepo.FindActiveByKey(ctx, "rar")
		if err != nil {
			return err
		}
		if found.Category != model.CategoryFixed {
			t.Errorf("активная запись категории %s, ожидалась FIXED", found.Category)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("транзакция ошибка: %v", err)
	}
}

func TestExtensionListsAndUpdates(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	repo := NewExtensionRepository(pool)
	base := time.Now().UTC().Add(-time.Minute)

	for i, key := range []string{"zip", "rar", "7z"} {
		if _, err := repo.InsertIfAbsent(ctx, key, model.CategoryCustom, true, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("InsertIfAbsent(%s) ошибка: %v", key, err)
		}
	}
	fixed, err := repo.InsertFixedBatch(ctx, []FixedRow{{Key: "exe", Blocked: true}, {Key: "bat", Blocked: false}}, base)
	if err != nil {
		t.Fatalf("InsertFixedBatch() ошибка: %v", err)
	}
	if len(fixed) != 2 {
		t.Fatalf("InsertFixedBatch() вставил %d, ожидалось 2", len(fixed))
	}

	customs, err := repo.ListActiveCustom(ctx)
	if err != nil {
		t.Fatalf("ListActiveCustom() ошибка: %v", err)
	}
	if got := keysOf(customs); !equalStrings(got, []string{"zip", "rar", "7z"}) {
		t.Errorf("ListActiveCustom() = %v, ожидался порядок активации", got)
	}

	fixedList, err := repo.ListActiveFixed(ctx)
	if err != nil {
		t.Fatalf("ListActiveFixed() ошибка: %v", err)
	}
	if got := keysOf(fixedList); !equalStrings(got, []string{"bat", "exe"}) {
		t.Errorf("ListActiveFixed() = %v, ожидался порядок по ключу", got)
	}

	var batID int64
	for _, r := range fixedList {
		if r.Key == "bat" {
			batID = r.ID
		}
	}
	updated, err := repo.UpdateFixedBlocked(ctx, batID, true)
	if err != nil {
		t.Fatalf("UpdateFixedBlocked() ошибка: %v", err)
	}
	if !updated.Blocked {
		t.Error("UpdateFixedBlocked(): blocked не изменён")
	}
	// id пользовательской записи — не FIXED
	if _, err := repo.UpdateFixedBlocked(ctx, customs[0].ID, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateFixedBlocked(custom) = %v, ожидался ErrNotFound", err)
	}

	// Конфликтующий ключ в пакете пропускается
	again, err := repo.InsertFixedBatch(ctx, []FixedRow{{Key: "exe", Blocked: true}, {Key: "cmd", Blocked: true}}, base)
	if err != nil {
		t.Fatalf("InsertFixedBatch() ошибка: %v", err)
	}
	if got := keysOf(again); !equalStrings(got, []string{"cmd"}) {
		t.Errorf("InsertFixedBatch() вставил %v, ожидался только cmd", got)
	}

	if err := repo.SoftDeleteCustom(ctx, customs[1].ID, time.Now().UTC()); err != nil {
		t.Fatalf("SoftDeleteCustom() ошибка: %v", err)
	}
	existing, err := repo.ExistingKeys(ctx, []string{"rar", "exe", "pdf"})
	if err != nil {
		t.Fatalf("ExistingKeys() ошибка: %v", err)
	}
	if !equalStrings(existing, []string{"exe", "rar"}) {
		t.Errorf("ExistingKeys() = %v, ожидались [exe rar] (включая удалённые)", existing)
	}

	active, err := repo.FindActiveByKeys(ctx, []string{"tar.gz", "exe", "rar"})
	if err != nil {
		t.Fatalf("FindActiveByKeys() ошибка: %v", err)
	}
	if got := keysOf(active); !equalStrings(got, []string{"exe"}) {
		t.Errorf("FindActiveByKeys() = %v, ожидался [exe]", got)
	}

	deleted, err := repo.SoftDeleteAllCustom(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("SoftDeleteAllCustom() ошибка: %v", err)
	}
	if deleted != 2 {
		t.Errorf("SoftDeleteAllCustom() = %d, ожидалось 2", deleted)
	}
}

func TestExtensionPurgeDeletedBefore(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	repo := NewExtensionRepository(pool)
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -90)

	old, _ := repo.InsertIfAbsent(ctx, "old", model.CategoryCustom, true, now)
	fresh, _ := repo.InsertIfAbsent(ctx, "fresh", model.CategoryCustom, true, now)
	if _, err := repo.InsertIfAbsent(ctx, "active", model.CategoryCustom, true, now.AddDate(-1, 0, 0)); err != nil {
		t.Fatalf("InsertIfAbsent() ошибка: %v", err)
	}

	if err := repo.SoftDeleteCustom(ctx, old.ID, cutoff.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("SoftDeleteCustom(old) ошибка: %v", err)
	}
	if err := repo.SoftDeleteCustom(ctx, fresh.ID, cutoff.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("SoftDeleteCustom(fresh) ошибка: %v", err)
	}

	purged, err := repo.PurgeDeletedBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("PurgeDeletedBefore() ошибка: %v", err)
	}
	if purged != 1 {
		t.Errorf("PurgeDeletedBefore() = %d, ожидалось 1", purged)
	}

	var total int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM extensions`).Scan(&total); err != nil {
		t.Fatalf("подсчёт строк: %v", err)
	}
	if total != 2 {
		t.Errorf("осталось %d строк, ожидалось 2 (fresh и active)", total)
	}
}

// --- Тесты SettingsRepository ---

func TestSettingsLifecycle(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	repo := NewSettingsRepository(pool)

	if _, err := repo.Get(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() до создания = %v, ожидался ErrNotFound", err)
	}

	if err := repo.EnsureDefaults(ctx); err != nil {
		t.Fatalf("EnsureDefaults() ошибка: %v", err)
	}
	s, err := repo.Get(ctx)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if s.ID != model.SettingsRowID || s.CustomLimit != model.DefaultCustomLimit || s.SoftDeleteRetentionDays != model.DefaultRetentionDays {
		t.Errorf("настройки по умолчанию = %+v", s)
	}

	updated, err := repo.Update(ctx, 2, 30)
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if updated.CustomLimit != 2 || updated.SoftDeleteRetentionDays != 30 {
		t.Errorf("Update() = %+v", updated)
	}

	// EnsureDefaults не перезаписывает существующую строку
	if err := repo.EnsureDefaults(ctx); err != nil {
		t.Fatalf("повторный EnsureDefaults() ошибка: %v", err)
	}
	s, _ = repo.Get(ctx)
	if s.CustomLimit != 2 {
		t.Errorf("CustomLimit = %d после EnsureDefaults, ожидался 2", s.CustomLimit)
	}
}

func TestSettingsLockTimeout(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	if err := NewSettingsRepository(pool).EnsureDefaults(ctx); err != nil {
		t.Fatalf("EnsureDefaults() ошибка: %v", err)
	}

	holder, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() ошибка: %v", err)
	}
	defer holder.Rollback(ctx) //nolint:errcheck

	if _, err := NewSettingsRepository(holder).GetForUpdate(ctx); err != nil {
		t.Fatalf("GetForUpdate() ошибка: %v", err)
	}

	// Вторая транзакция не дожидается блокировки дольше lock_timeout (2s)
	start := time.Now()
	err = NewTxRunner(pool).RunInTx(ctx, func(tx pgx.Tx) error {
		_, err := NewSettingsRepository(tx).GetForUpdate(ctx)
		return err
	})
	if err == nil {
		t.Fatal("GetForUpdate() во второй транзакции успешен, ожидался таймаут блокировки")
	}
	if !IsUnavailable(err) {
		t.Errorf("IsUnavailable(%v) = false, ожидалось true", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("ожидание блокировки %v, ожидалось около 2s", elapsed)
	}
}

func keysOf(recs []*model.ExtensionRecord) []string {
	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		keys = append(keys, r.Key)
	}
	return keys
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
