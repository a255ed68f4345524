package usage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testRepository exercises the Repository contract against any store.
func testRepository(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "user-1", "2024-03-01")
		if !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("error = %v, want ErrRecordNotFound", err)
		}
	})

	t.Run("CreateThenGet", func(t *testing.T) {
		repo := newRepo(t)
		rec := NewRecord("user-1", period(day(1), 10, 20, 30))
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.Get(ctx, "user-1", rec.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ID != rec.ID || got.UserID != rec.UserID || !got.Date.Equal(rec.Date) {
			t.Errorf("Get = %+v, want %+v", got, rec)
		}
		if got.TotalUsageMinutes != 10 || got.DeliveryUsageMinutes != 20 || got.StorageUsageMinutes != 30 {
			t.Errorf("usage = %+v", got)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := newRepo(t)
		rec := NewRecord("user-1", period(day(1), 1, 1, 1))
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.Create(ctx, rec); !errors.Is(err, ErrRecordExists) {
			t.Fatalf("second Create error = %v, want ErrRecordExists", err)
		}
	})

	t.Run("SameIDDifferentUsers", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, NewRecord("user-1", period(day(1), 1, 0, 0))); err != nil {
			t.Fatalf("Create user-1: %v", err)
		}
		if err := repo.Create(ctx, NewRecord("user-2", period(day(1), 2, 0, 0))); err != nil {
			t.Fatalf("Create user-2: %v", err)
		}
	})

	t.Run("ReplaceMissing", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.Replace(ctx, NewRecord("user-1", period(day(1), 1, 1, 1)))
		if !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("error = %v, want ErrRecordNotFound", err)
		}
	})

	t.Run("Replace", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Create(ctx, NewRecord("user-1", period(day(1), 1, 1, 1))); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.Replace(ctx, NewRecord("user-1", period(day(1), 5, 0, 0))); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		got, err := repo.Get(ctx, "user-1", "2024-03-01")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.TotalUsageMinutes != 5 || got.DeliveryUsageMinutes != 0 {
			t.Errorf("after Replace = %+v", got)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.Upsert(ctx, NewRecord("user-1", period(day(1), 1, 0, 0)))
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if !created {
			t.Error("first Upsert created = false, want true")
		}
		created, err = repo.Upsert(ctx, NewRecord("user-1", period(day(1), 2, 0, 0)))
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if created {
			t.Error("second Upsert created = true, want false")
		}
		got, err := repo.Get(ctx, "user-1", "2024-03-01")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.TotalUsageMinutes != 2 {
			t.Errorf("TotalUsageMinutes = %v, want 2", got.TotalUsageMinutes)
		}
	})

	t.Run("ConcurrentUpsert", func(t *testing.T) {
		repo := newRepo(t)
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(v float64) {
				defer wg.Done()
				if _, err := repo.Upsert(ctx, NewRecord("user-1", period(day(1), v, 0, 0))); err != nil {
					errs <- err
				}
			}(float64(i))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("Upsert: %v", err)
		}

		got, err := repo.Find(ctx, Filter{UserID: "user-1"}, FindOptions{})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("len(records) = %d, want 1", len(got))
		}
	})

	t.Run("Find", func(t *testing.T) {
		repo := newRepo(t)
		for _, d := range []int{4, 1, 3, 2} {
			if err := repo.Create(ctx, NewRecord("user-1", period(day(d), float64(d), 0, 0))); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		if err := repo.Create(ctx, NewRecord("user-2", period(day(2), 99, 0, 0))); err != nil {
			t.Fatalf("Create: %v", err)
		}

		tests := []struct {
			name   string
			filter Filter
			opts   FindOptions
			want   []string
		}{
			{
				name:   "all ascending",
				filter: Filter{UserID: "user-1"},
				want:   []string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04"},
			},
			{
				name:   "descending limit one",
				filter: Filter{UserID: "user-1"},
				opts:   FindOptions{Order: OrderDesc, Limit: 1, UseReplica: true},
				want:   []string{"2024-03-04"},
			},
			{
				name:   "inclusive bounds",
				filter: Filter{UserID: "user-1", From: day(2), To: day(3)},
				want:   []string{"2024-03-02", "2024-03-03"},
			},
			{
				name:   "from only",
				filter: Filter{UserID: "user-1", From: day(3)},
				want:   []string{"2024-03-03", "2024-03-04"},
			},
			{
				name:   "no match",
				filter: Filter{UserID: "user-3"},
				want:   []string{},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.Find(ctx, tt.filter, tt.opts)
				if err != nil {
					t.Fatalf("Find: %v", err)
				}
				if got == nil {
					t.Fatal("Find returned nil slice")
				}
				if len(got) != len(tt.want) {
					t.Fatalf("len = %d, want %d (%v)", len(got), len(tt.want), ids(got))
				}
				for i := range tt.want {
					if got[i].ID != tt.want[i] {
						t.Errorf("[%d] = %q, want %q", i, got[i].ID, tt.want[i])
					}
					if got[i].UserID != tt.filter.UserID {
						t.Errorf("[%d] user = %q", i, got[i].UserID)
					}
				}
			})
		}
	})
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	testRepository(t, func(t *testing.T) Repository {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	var n int
	testRepository(t, func(t *testing.T) Repository {
		n++
		path := filepath.Join(t.TempDir(), fmt.Sprintf("usage-%d.db", n))
		store, err := OpenSQLite(context.Background(), path)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "usage.db")

	store, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := store.Upsert(ctx, NewRecord("user-1", period(day(1), 7, 0, 0))); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	store.Close()

	store, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	got, err := store.Get(ctx, "user-1", "2024-03-01")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TotalUsageMinutes != 7 {
		t.Errorf("TotalUsageMinutes = %v, want 7", got.TotalUsageMinutes)
	}
}

func TestSQLiteStore_UpsertReplacesEveryColumn(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	if _, err := store.Upsert(ctx, NewRecord("user-1", period(day(1), 10, 4, 2))); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	next := NewRecord("user-1", period(day(1), 3, 0, 0))
	next.Date = day(1).Add(time.Hour)
	created, err := store.Upsert(ctx, next)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if created {
		t.Error("conflicting Upsert created = true, want false")
	}

	records := allRecords(t, store)
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	got := records[0]
	if !got.Date.Equal(next.Date) {
		t.Errorf("Date = %v, want %v", got.Date, next.Date)
	}
	if got.TotalUsageMinutes != 3 || got.DeliveryUsageMinutes != 0 || got.StorageUsageMinutes != 0 {
		t.Errorf("record = %+v, want every usage column replaced", got)
	}
}

func TestSQLiteStore_PingAndStats(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	total, idle, inUse := store.Stats()
	if total != 1 || idle != 1 || inUse != 0 {
		t.Errorf("Stats() = (%d, %d, %d), want (1, 1, 0)", total, idle, inUse)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Error("expected Ping to fail after Close")
	}
}
