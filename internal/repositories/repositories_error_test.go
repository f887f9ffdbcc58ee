package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
)

func TestUserRepositoryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		t.Run("ValidationError", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewUserRepository(db)
			user := models.NewUser(0, "", "Test User")

			if err := repo.Create(ctx, user); !errors.Is(err, shared.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput for empty email, got %v", err)
			}
		})

		t.Run("DuplicateEmail", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewUserRepository(db)
			createTestUser(t, repo, "test@example.com")

			err := repo.Create(ctx, models.NewUser(0, "test@example.com", "User Two"))
			if !errors.Is(err, shared.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput for duplicate email, got %v", err)
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewUserRepository(db)
		if _, err := repo.Get(ctx, "non-existent-id"); !errors.Is(err, shared.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
		if _, err := repo.GetByEmail(ctx, "nobody@example.com"); !errors.Is(err, shared.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewUserRepository(db)
			if err := repo.Delete(ctx, "non-existent-id"); !errors.Is(err, shared.ErrUserNotFound) {
				t.Fatalf("expected ErrUserNotFound, got %v", err)
			}
		})

		t.Run("AlreadyDeleted", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewUserRepository(db)
			user := createTestUser(t, repo, "test@example.com")

			if err := repo.Delete(ctx, user.ID()); err != nil {
				t.Fatalf("failed to delete user: %v", err)
			}
			if err := repo.Delete(ctx, user.ID()); !errors.Is(err, shared.ErrUserNotFound) {
				t.Fatalf("expected ErrUserNotFound when deleting twice, got %v", err)
			}
		})
	})

	t.Run("closed database", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)
		db.Close()

		_, err := repo.List(ctx, nil)
		if !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
		if shared.Categorize(err) != shared.CategoryStore {
			t.Errorf("expected store category, got %s", shared.Categorize(err))
		}
	})
}

func TestScrobbleRepositoryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user violates foreign key", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewScrobbleRepository(db)
		_, err := repo.Record(ctx, testParams("ghost", "vid", "song", "artist", 1))
		if !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
	})

	t.Run("closed database", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewScrobbleRepository(db)
		db.Close()

		_, err := repo.Lookup(ctx, "u", testParams("u", "vid", "song", "artist", 1).Fingerprints)
		if !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
	})
}

func TestSyncRunRepositoryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Complete unknown run", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)
		run := models.NewSyncRun("cli", 50, 0, 200)
		run.SetID("missing")

		if err := repo.Complete(ctx, run); !errors.Is(err, shared.ErrRecordNotFound) {
			t.Fatalf("expected ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("Create requires trigger", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)
		if err := repo.Create(ctx, models.NewSyncRun("", 50, 0, 200)); !errors.Is(err, shared.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})
}
