package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskminder/internal/domain"
)

func openBackends(t *testing.T) map[string]Repository {
	t.Helper()
	dir := t.TempDir()

	fs, err := NewFileStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	sq, err := NewSQLiteStore(filepath.Join(dir, "tasks.db"))
	require.NoError(t, err)
	gs, err := NewGormStore(filepath.Join(dir, "docs", "tasks.db"))
	require.NoError(t, err)

	backends := map[string]Repository{
		DriverFile:   fs,
		DriverSQLite: sq,
		DriverGorm:   gs,
	}
	t.Cleanup(func() {
		for _, b := range backends {
			_ = b.Close()
		}
	})
	return backends
}

func sample(title string) domain.Task {
	return domain.Task{
		ID:      domain.NormalizeID(title),
		Title:   title,
		Email:   "a@b.com",
		DueDate: time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC),
		Details: "details for " + title,
	}
}

func TestRepository_CreateGetList(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, sample("Pay rent")))
			require.NoError(t, repo.Create(ctx, sample("Water plants")))

			got, err := repo.Get(ctx, "Pay rent")
			require.NoError(t, err)
			assert.Equal(t, "Pay rent", got.Title)
			assert.Equal(t, "a@b.com", got.Email)
			assert.True(t, got.DueDate.Equal(sample("x").DueDate))
			assert.Equal(t, "details for Pay rent", got.Details)

			list, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)

			_, err = repo.Get(ctx, "nope")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			_, err = repo.Get(ctx, "pay rent")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestRepository_CreateDuplicateCaseInsensitive(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, sample("Pay rent")))

			err := repo.Create(ctx, sample("PAY RENT"))
			assert.ErrorIs(t, err, domain.ErrAlreadyExists)

			err = repo.Create(ctx, sample("pay rent!"))
			assert.ErrorIs(t, err, domain.ErrAlreadyExists)

			list, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestRepository_DuplicateNonASCIITitle(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			upper := sample("Ä")
			require.NoError(t, repo.Create(ctx, upper))

			err := repo.Create(ctx, sample("ä"))
			assert.ErrorIs(t, err, domain.ErrAlreadyExists)

			other := sample("Ölbild")
			require.NoError(t, repo.Create(ctx, other))
			renamed := other
			renamed.Title = "ä"
			err = repo.Update(ctx, other.ID, renamed)
			assert.ErrorIs(t, err, domain.ErrAlreadyExists)

			upper.Details = "changed"
			require.NoError(t, repo.Update(ctx, upper.ID, upper))
		})
	}
}

func TestRepository_UpdateInPlaceAndRename(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, sample("Pay rent")))
			require.NoError(t, repo.Create(ctx, sample("Call mom")))

			edited := sample("Pay rent")
			edited.Details = "changed"
			require.NoError(t, repo.Update(ctx, "Pay rent", edited))
			got, err := repo.Get(ctx, "Pay rent")
			require.NoError(t, err)
			assert.Equal(t, "changed", got.Details)

			renamed := sample("Pay October rent")
			require.NoError(t, repo.Update(ctx, "Pay rent", renamed))
			_, err = repo.Get(ctx, "Pay rent")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			got, err = repo.Get(ctx, "Pay October rent")
			require.NoError(t, err)
			assert.Equal(t, "Pay October rent", got.Title)

			caseOnly := sample("PAY OCTOBER RENT")
			require.NoError(t, repo.Update(ctx, "Pay October rent", caseOnly))
			got, err = repo.Get(ctx, "PAY OCTOBER RENT")
			require.NoError(t, err)
			assert.Equal(t, "PAY OCTOBER RENT", got.Title)

			list, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)
		})
	}
}

func TestRepository_UpdateErrors(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, sample("Pay rent")))
			require.NoError(t, repo.Create(ctx, sample("Call mom")))

			err := repo.Update(ctx, "Pay rent", sample("call MOM"))
			assert.ErrorIs(t, err, domain.ErrAlreadyExists)
			_, err = repo.Get(ctx, "Pay rent")
			assert.NoError(t, err)

			err = repo.Update(ctx, "ghost", sample("ghost"))
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestRepository_Delete(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, sample("Pay rent")))
			require.NoError(t, repo.Delete(ctx, "Pay rent"))
			assert.ErrorIs(t, repo.Delete(ctx, "Pay rent"), domain.ErrNotFound)

			list, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestRepository_MarkReminded(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tk := sample("Pay rent")
			require.NoError(t, repo.Create(ctx, tk))

			got, err := repo.Get(ctx, tk.ID)
			require.NoError(t, err)
			assert.True(t, got.RemindedAt.IsZero())

			at := time.Date(2026, 11, 1, 9, 0, 1, 0, time.UTC)
			require.NoError(t, repo.MarkReminded(ctx, tk.ID, at))
			got, err = repo.Get(ctx, tk.ID)
			require.NoError(t, err)
			assert.True(t, got.RemindedAt.Equal(at))

			// Update writes the marker it is given.
			got.Details = "edited"
			require.NoError(t, repo.Update(ctx, tk.ID, got))
			got, err = repo.Get(ctx, tk.ID)
			require.NoError(t, err)
			assert.True(t, got.RemindedAt.Equal(at))

			got.RemindedAt = time.Time{}
			require.NoError(t, repo.Update(ctx, tk.ID, got))
			got, err = repo.Get(ctx, tk.ID)
			require.NoError(t, err)
			assert.True(t, got.RemindedAt.IsZero())

			assert.ErrorIs(t, repo.MarkReminded(ctx, "nope", at), domain.ErrNotFound)
		})
	}
}

func TestRepository_Order(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ids, err := repo.LoadOrder(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)

			require.NoError(t, repo.SaveOrder(ctx, []string{"b", "a", "c"}))
			ids, err = repo.LoadOrder(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a", "c"}, ids)

			require.NoError(t, repo.SaveOrder(ctx, []string{"c"}))
			ids, err = repo.LoadOrder(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, ids)
		})
	}
}

func TestFileStore_RejectsPathTraversal(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = fs.Get(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, fs.Delete(context.Background(), "../x"), domain.ErrNotFound)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mongo", t.TempDir())
	assert.Error(t, err)
}
