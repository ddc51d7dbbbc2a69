package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cwygoda/streamwatch/internal/clock"
	"github.com/cwygoda/streamwatch/internal/domain"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_AppendAndList(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	checked := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	links := []string{"https://youtu.be/aaaaaaa", "https://www.twitch.tv/bbb"}
	for _, link := range links {
		err := repo.AppendItem(ctx, "Streams", domain.Fields{
			Link:          link,
			Status:        domain.StatusOffline,
			LastCheckedAt: checked,
		})
		if err != nil {
			t.Fatalf("AppendItem() error = %v", err)
		}
	}
	if err := repo.AppendItem(ctx, "Other", domain.Fields{Link: "https://www.pscp.tv/w/x"}); err != nil {
		t.Fatalf("AppendItem() error = %v", err)
	}

	items, err := repo.ListItems(ctx, "Streams")
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ListItems() len = %d, want 2", len(items))
	}
	for i, it := range items {
		if it.Link != links[i] {
			t.Errorf("items[%d].Link = %q, want %q", i, it.Link, links[i])
		}
		if it.Collection != "Streams" {
			t.Errorf("items[%d].Collection = %q, want Streams", i, it.Collection)
		}
		if it.Status != domain.StatusOffline {
			t.Errorf("items[%d].Status = %q, want Offline", i, it.Status)
		}
		if !it.LastCheckedAt.Equal(checked) {
			t.Errorf("items[%d].LastCheckedAt = %v, want %v", i, it.LastCheckedAt, checked)
		}
		if !it.LastLiveAt.IsZero() {
			t.Errorf("items[%d].LastLiveAt = %v, want zero", i, it.LastLiveAt)
		}
	}
	if items[0].Position >= items[1].Position {
		t.Errorf("positions not ascending: %d, %d", items[0].Position, items[1].Position)
	}
}

func TestRepository_GetUpdateDelete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.AppendItem(ctx, "Streams", domain.Fields{Link: "https://youtu.be/aaaaaaa"}); err != nil {
		t.Fatalf("AppendItem() error = %v", err)
	}
	items, _ := repo.ListItems(ctx, "Streams")
	pos := items[0].Position

	live := time.Date(2026, 3, 2, 20, 30, 0, 0, time.UTC)
	err := repo.UpdateItem(ctx, "Streams", pos, domain.Fields{
		Link:          "https://youtu.be/aaaaaaa",
		Status:        domain.StatusLive,
		Title:         "Night two",
		EmbedLink:     "https://www.youtube.com/embed/aaaaaaa",
		LastCheckedAt: live,
		LastLiveAt:    live,
		Disabled:      true,
		Source:        "tips",
		Platform:      "YouTube",
	})
	if err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}

	got, err := repo.GetItemAt(ctx, "Streams", pos)
	if err != nil {
		t.Fatalf("GetItemAt() error = %v", err)
	}
	if got.Status != domain.StatusLive || got.Title != "Night two" || !got.Disabled || got.Source != "tips" {
		t.Errorf("GetItemAt() = %+v", got)
	}
	if !got.LastLiveAt.Equal(live) {
		t.Errorf("LastLiveAt = %v, want %v", got.LastLiveAt, live)
	}

	// A position is scoped to its collection.
	if _, err := repo.GetItemAt(ctx, "Other", pos); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("GetItemAt(other collection) error = %v, want %v", err, domain.ErrItemNotFound)
	}

	if err := repo.DeleteItem(ctx, "Streams", pos); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}
	if _, err := repo.GetItemAt(ctx, "Streams", pos); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("GetItemAt() after delete error = %v, want %v", err, domain.ErrItemNotFound)
	}
	if err := repo.DeleteItem(ctx, "Streams", pos); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("DeleteItem() twice error = %v, want %v", err, domain.ErrItemNotFound)
	}
	if err := repo.UpdateItem(ctx, "Streams", pos, domain.Fields{}); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("UpdateItem() after delete error = %v, want %v", err, domain.ErrItemNotFound)
	}
}

func TestRepository_ExpiryThroughReconciler(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	link := "https://www.youtube.com/watch?v=ccccccc"
	if err := repo.AppendItem(ctx, "Streams", domain.Fields{
		Link:       link,
		Status:     domain.StatusLive,
		LastLiveAt: now.Add(-8 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("AppendItem() error = %v", err)
	}
	items, _ := repo.ListItems(ctx, "Streams")

	rec := domain.NewReconciler(repo, clock.NewFake(now), "expired", 7*24*time.Hour)
	outcome, _, err := rec.Commit(ctx, domain.NewCheckJob(items[0]), domain.CheckResult{IsLive: false})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if outcome != domain.OutcomeExpired {
		t.Errorf("Commit() outcome = %v, want expired", outcome)
	}

	src, _ := repo.ListItems(ctx, "Streams")
	archived, _ := repo.ListItems(ctx, "expired")
	if len(src) != 0 || len(archived) != 1 || archived[0].Link != link {
		t.Errorf("after expiry: source=%+v archive=%+v", src, archived)
	}
}

type busyError struct{ code int }

func (e busyError) Error() string { return "database is locked" }
func (e busyError) Code() int     { return e.code }

func TestRepository_ClassifiesBusy(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewWithDB(db)
	ctx := context.Background()

	// SQLITE_BUSY_SNAPSHOT is an extended busy code.
	mock.ExpectExec("UPDATE items").WillReturnError(busyError{code: 5 | 2<<8})
	mock.ExpectExec("DELETE FROM items").WillReturnError(busyError{code: 6})
	mock.ExpectExec("INSERT INTO items").WillReturnError(busyError{code: 1})
	mock.ExpectQuery("SELECT (.+) FROM items WHERE collection").WillReturnError(errors.New("disk I/O error"))

	if err := repo.UpdateItem(ctx, "Streams", 1, domain.Fields{}); !errors.Is(err, domain.ErrStoreBusy) {
		t.Errorf("UpdateItem() error = %v, want ErrStoreBusy", err)
	}
	if err := repo.DeleteItem(ctx, "Streams", 1); !errors.Is(err, domain.ErrStoreBusy) {
		t.Errorf("DeleteItem() error = %v, want ErrStoreBusy", err)
	}
	if err := repo.AppendItem(ctx, "Streams", domain.Fields{}); err == nil || errors.Is(err, domain.ErrStoreBusy) {
		t.Errorf("AppendItem() error = %v, want non-busy error", err)
	}
	if _, err := repo.ListItems(ctx, "Streams"); err == nil || errors.Is(err, domain.ErrStoreBusy) {
		t.Errorf("ListItems() error = %v, want non-busy error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepository_GetItemAtScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewWithDB(db)

	live := time.Date(2026, 3, 2, 20, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "collection", "link", "status", "title", "embed_link",
		"last_checked_at", "last_live_at", "disabled", "source", "platform",
	}).AddRow(7, "Streams", "https://youtu.be/x1x1x1x", "Live", "t", "", live, nil, false, "", "")
	mock.ExpectQuery("SELECT (.+) FROM items WHERE id = \\? AND collection = \\?").
		WithArgs(int64(7), "Streams").
		WillReturnRows(rows)

	got, err := repo.GetItemAt(context.Background(), "Streams", 7)
	if err != nil {
		t.Fatalf("GetItemAt() error = %v", err)
	}
	if got.Position != 7 || got.Status != domain.StatusLive || !got.LastCheckedAt.Equal(live) || !got.LastLiveAt.IsZero() {
		t.Errorf("GetItemAt() = %+v", got)
	}
}
